// Package redis caches health profiles in Redis in front of the primary
// store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"medico/internal/domain"
)

const keyPrefix = "medico:profile:"

// NewClient creates a Redis client from a redis:// URL.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// cachedProfile carries the revision, which the profile's JSON form omits.
type cachedProfile struct {
	Profile  *domain.HealthProfile `json:"profile"`
	Revision int64                 `json:"revision"`
}

// ProfileCache is a read-through cache around a ProfileRepository.
//
// A read fills the cache only when no entry exists, so a reader holding an
// old row cannot overwrite what a concurrent save wrote. A successful write
// replaces the entry unless it already holds a newer revision. A failed
// write drops it. Entries that go stale anyway (a lost Redis write) last at
// most one TTL. Redis failures are logged and the inner repository is used.
type ProfileCache struct {
	inner  domain.ProfileRepository
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ domain.ProfileRepository = (*ProfileCache)(nil)

// NewProfileCache wraps inner with a cache whose entries live for ttl.
func NewProfileCache(inner domain.ProfileRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *ProfileCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileCache{inner: inner, client: client, ttl: ttl, logger: logger}
}

func key(userID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, userID)
}

// FindProfile serves from Redis when possible and fills the cache on a miss.
// Absent profiles are not cached.
func (c *ProfileCache) FindProfile(ctx context.Context, userID int64) (*domain.HealthProfile, error) {
	val, err := c.client.Get(ctx, key(userID)).Bytes()
	switch {
	case err == nil:
		var cp cachedProfile
		if err := json.Unmarshal(val, &cp); err == nil && cp.Profile != nil {
			cp.Profile.Revision = cp.Revision
			if string(cp.Profile.LastDietPlan) == "null" {
				cp.Profile.LastDietPlan = nil
			}
			return cp.Profile, nil
		}
		c.logger.Warn("dropping unreadable cache entry", zap.Int64("user_id", userID))
		c.invalidate(ctx, userID)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("profile cache read failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	p, err := c.inner.FindProfile(ctx, userID)
	if err != nil || p == nil {
		return p, err
	}
	c.fill(ctx, p)
	return p, nil
}

// CreateProfile writes through to the inner repository and caches the new
// profile.
func (c *ProfileCache) CreateProfile(ctx context.Context, p *domain.HealthProfile) error {
	if err := c.inner.CreateProfile(ctx, p); err != nil {
		c.invalidate(ctx, p.UserID)
		return err
	}
	c.replace(ctx, p)
	return nil
}

// SaveProfile writes through. On conflict the entry is dropped so the retry
// that follows reads the winner's state.
func (c *ProfileCache) SaveProfile(ctx context.Context, p *domain.HealthProfile) error {
	if err := c.inner.SaveProfile(ctx, p); err != nil {
		c.invalidate(ctx, p.UserID)
		return err
	}
	c.replace(ctx, p)
	return nil
}

func (c *ProfileCache) encode(p *domain.HealthProfile) ([]byte, bool) {
	data, err := json.Marshal(cachedProfile{Profile: p, Revision: p.Revision})
	if err != nil {
		c.logger.Warn("profile cache encode failed", zap.Int64("user_id", p.UserID), zap.Error(err))
		return nil, false
	}
	return data, true
}

// fill caches a profile read from the inner repository if nothing is cached
// yet.
func (c *ProfileCache) fill(ctx context.Context, p *domain.HealthProfile) {
	data, ok := c.encode(p)
	if !ok {
		return
	}
	set, err := c.client.SetNX(ctx, key(p.UserID), data, c.ttl).Result()
	if err != nil {
		c.logger.Warn("profile cache write failed", zap.Int64("user_id", p.UserID), zap.Error(err))
		return
	}
	if set {
		c.logger.Debug("cached profile", zap.Int64("user_id", p.UserID), zap.Int64("revision", p.Revision))
	}
}

// replace stores a freshly saved profile. The entry is left alone when it
// already holds a later revision from a concurrent writer.
func (c *ProfileCache) replace(ctx context.Context, p *domain.HealthProfile) {
	data, ok := c.encode(p)
	if !ok {
		c.invalidate(ctx, p.UserID)
		return
	}
	k := key(p.UserID)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		if err == nil {
			var cp cachedProfile
			if json.Unmarshal(cur, &cp) == nil && cp.Profile != nil && cp.Revision > p.Revision {
				return nil
			}
		} else if !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, c.ttl)
			return nil
		})
		return err
	}, k)
	if err != nil {
		c.logger.Warn("profile cache write failed", zap.Int64("user_id", p.UserID), zap.Error(err))
		c.invalidate(ctx, p.UserID)
		return
	}
	c.logger.Debug("cached profile", zap.Int64("user_id", p.UserID), zap.Int64("revision", p.Revision))
}

func (c *ProfileCache) invalidate(ctx context.Context, userID int64) {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		c.logger.Warn("profile cache invalidation failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}
