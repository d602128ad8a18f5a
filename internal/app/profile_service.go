package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"medico/internal/domain"
)

// maxWriteAttempts bounds the read-modify-write retries after a lost
// compare-and-swap.
const maxWriteAttempts = 5

// ProfileView is a profile together with the stats derived from it at read
// time.
type ProfileView struct {
	*domain.HealthProfile
	Stats domain.Stats `json:"stats"`
}

// ProfileService owns the per-user health profile: it computes stats on
// read and decides when a write must snapshot history.
type ProfileService struct {
	repo domain.ProfileRepository
	log  *zap.Logger
	now  func() time.Time
}

// NewProfileService creates a ProfileService backed by the given repository.
func NewProfileService(repo domain.ProfileRepository, log *zap.Logger) *ProfileService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProfileService{repo: repo, log: log, now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (s *ProfileService) WithClock(now func() time.Time) *ProfileService {
	s.now = now
	return s
}

// GetProfile returns the user's profile with freshly computed stats.
func (s *ProfileService) GetProfile(ctx context.Context, userID int64) (*ProfileView, error) {
	p, err := s.repo.FindProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	if p == nil {
		return nil, &domain.NotFoundError{Resource: "profile", UserID: userID}
	}
	stats, err := domain.ComputeStats(p)
	if err != nil {
		return nil, err
	}
	return &ProfileView{HealthProfile: p, Stats: stats}, nil
}

// UpsertProfile creates the profile when the user has none, otherwise merges
// the patch into it. A weight change appends exactly one snapshot of the
// pre-update state. created reports which branch ran.
func (s *ProfileService) UpsertProfile(ctx context.Context, userID int64, patch domain.ProfilePatch) (p *domain.HealthProfile, created bool, err error) {
	if err := patch.Validate(); err != nil {
		return nil, false, err
	}
	err = s.retry(ctx, userID, func() error {
		cur, err := s.repo.FindProfile(ctx, userID)
		if err != nil {
			return fmt.Errorf("find profile: %w", err)
		}
		if cur == nil {
			np, err := domain.NewProfile(userID, patch, s.now())
			if err != nil {
				return err
			}
			if err := s.repo.CreateProfile(ctx, np); err != nil {
				return err
			}
			p, created = np, true
			return nil
		}

		snap, err := cur.Apply(patch, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.SaveProfile(ctx, cur); err != nil {
			return err
		}
		if snap != nil {
			s.log.Debug("history snapshot appended",
				zap.Int64("user_id", userID),
				zap.Float64("previous_weight", snap.Weight),
				zap.Float64("weight", cur.Weight),
			)
		}
		p, created = cur, false
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

// SaveDietPlan stores plan verbatim as the profile's last diet plan. History
// is not touched, and saving the same plan again is a no-op.
func (s *ProfileService) SaveDietPlan(ctx context.Context, userID int64, plan json.RawMessage) (*domain.HealthProfile, error) {
	if t := bytes.TrimSpace(plan); len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil, &domain.ValidationError{Field: "plan", Reason: "required"}
	}
	var out *domain.HealthProfile
	err := s.retry(ctx, userID, func() error {
		cur, err := s.repo.FindProfile(ctx, userID)
		if err != nil {
			return fmt.Errorf("find profile: %w", err)
		}
		if cur == nil {
			return &domain.NotFoundError{Resource: "profile", UserID: userID}
		}
		if bytes.Equal(cur.LastDietPlan, plan) {
			out = cur
			return nil
		}
		cur.LastDietPlan = append(json.RawMessage(nil), plan...)
		cur.UpdatedAt = s.now()
		if err := s.repo.SaveProfile(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	return out, err
}

// retry runs fn until it succeeds, fails with something other than
// ErrConflict, or runs out of attempts. Each attempt must re-read state.
func (s *ProfileService) retry(ctx context.Context, userID int64, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if attempt >= maxWriteAttempts {
			s.log.Warn("profile write abandoned after conflicts",
				zap.Int64("user_id", userID), zap.Int("attempts", attempt))
			return &domain.ConflictError{Resource: "profile", Reason: "too many concurrent updates"}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.log.Debug("profile write conflict, retrying",
			zap.Int64("user_id", userID), zap.Int("attempt", attempt))
	}
}
