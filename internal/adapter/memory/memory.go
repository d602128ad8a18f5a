// Package memory implements an in-memory repository for development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"medico/internal/domain"
)

// DB implements an in-memory database storage.
type DB struct {
	mu       sync.Mutex
	profiles map[int64]*domain.HealthProfile
	accounts []*domain.Account
	sessions map[string]*domain.Session

	accountIDCounter int64
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		profiles: make(map[int64]*domain.HealthProfile),
		sessions: make(map[string]*domain.Session),
	}
}

// Ensure interfaces are met.
var _ domain.ProfileRepository = (*DB)(nil)
var _ domain.AccountRepository = (*DB)(nil)
var _ domain.SessionRepository = (*SessionRepo)(nil)

// --- ProfileRepository ---

// FindProfile returns a copy of the user's profile, or nil if none exists.
func (db *DB) FindProfile(ctx context.Context, userID int64) (*domain.HealthProfile, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	p, ok := db.profiles[userID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

// CreateProfile stores a new profile at revision 1.
func (db *DB) CreateProfile(ctx context.Context, p *domain.HealthProfile) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.profiles[p.UserID]; ok {
		return &domain.ConflictError{Resource: "profile", Reason: "already exists"}
	}
	p.Revision = 1
	db.profiles[p.UserID] = p.Clone()
	return nil
}

// SaveProfile replaces the stored profile if its revision is unchanged.
// Stored history entries are kept as they are; only entries past the
// stored length are appended.
func (db *DB) SaveProfile(ctx context.Context, p *domain.HealthProfile) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	cur, ok := db.profiles[p.UserID]
	if !ok {
		return &domain.NotFoundError{Resource: "profile", UserID: p.UserID}
	}
	if cur.Revision != p.Revision {
		return &domain.ConflictError{Resource: "profile", Reason: "revision changed"}
	}

	next := p.Clone()
	if len(next.History) < len(cur.History) {
		return &domain.ConflictError{Resource: "profile", Reason: "history cannot shrink"}
	}
	next.History = append(append([]domain.HistorySnapshot{}, cur.History...), next.History[len(cur.History):]...)
	next.Revision = cur.Revision + 1
	db.profiles[p.UserID] = next
	p.Revision = next.Revision
	return nil
}

// --- AccountRepository ---

// GetAccountByEmail retrieves an account by email.
func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, a := range db.accounts {
		if a.Email == email {
			c := *a
			return &c, nil
		}
	}
	// Return nil if not found
	return nil, nil
}

// GetAccountByID retrieves an account by ID.
func (db *DB) GetAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, a := range db.accounts {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

// CreateAccount creates a new account and assigns its ID.
func (db *DB) CreateAccount(ctx context.Context, a *domain.Account) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.accounts {
		if u.Email == a.Email {
			return &domain.ConflictError{Resource: "account", Reason: "email already exists"}
		}
	}

	db.accountIDCounter++
	a.ID = db.accountIDCounter
	a.Revision = 1
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	c := *a
	db.accounts = append(db.accounts, &c)
	return nil
}

// SaveAccount writes the engagement fields if the revision is unchanged.
func (db *DB) SaveAccount(ctx context.Context, a *domain.Account) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.accounts {
		if u.ID != a.ID {
			continue
		}
		if u.Revision != a.Revision {
			return &domain.ConflictError{Resource: "account", Reason: "revision changed"}
		}
		u.XP, u.Level, u.Streak, u.LastLoginDate = a.XP, a.Level, a.Streak, a.LastLoginDate
		u.Revision++
		a.Revision = u.Revision
		return nil
	}
	return &domain.NotFoundError{Resource: "account", UserID: a.ID}
}

// --- SessionRepository ---

// SessionRepo implements session persistence.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new session repository.
func (db *DB) NewSessionRepo() *SessionRepo {
	return &SessionRepo{db: db}
}

// Create creates a new session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c := *s
	r.db.sessions[s.ID] = &c
	return nil
}

// GetByID retrieves a session by ID. Expiry is left to the caller.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if s, ok := r.db.sessions[id]; ok {
		c := *s
		return &c, nil
	}
	return nil, nil
}

// Delete deletes a session.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, id)
	return nil
}

// DeleteExpired deletes all expired sessions.
func (r *SessionRepo) DeleteExpired(ctx context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now()
	for k, v := range r.db.sessions {
		if now.After(v.ExpiresAt) {
			delete(r.db.sessions, k)
		}
	}
	return nil
}
