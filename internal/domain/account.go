// Package domain contains the core business entities, the pure health and
// engagement calculations, and the repository ports.
package domain

import (
	"context"
	"time"
)

// Account is a registered user together with its engagement state.
// Level is always LevelForXP(XP).
type Account struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	XP            int       `json:"xp"`
	Level         int       `json:"level"`
	Streak        int       `json:"streak"`
	LastLoginDate time.Time `json:"lastLoginDate"`
	CreatedAt     time.Time `json:"createdAt"`
	Revision      int64     `json:"-"`
}

// NewAccount returns a fresh account with zero xp and no streak.
func NewAccount(name, email, passwordHash string, now time.Time) *Account {
	return &Account{
		Name:          name,
		Email:         email,
		PasswordHash:  passwordHash,
		Level:         LevelForXP(0),
		LastLoginDate: now,
		CreatedAt:     now,
	}
}

// LoginState extracts the engagement fields.
func (a *Account) LoginState() LoginState {
	return LoginState{Streak: a.Streak, XP: a.XP, Level: a.Level, LastLoginDate: a.LastLoginDate}
}

// RecordLogin applies one login transition at now.
func (a *Account) RecordLogin(now time.Time) {
	s := ApplyLogin(a.LoginState(), now)
	a.Streak, a.XP, a.Level, a.LastLoginDate = s.Streak, s.XP, s.Level, s.LastLoginDate
}

// Session backs a bearer token. The token carries the session ID so a
// session can be revoked before the token expires.
type Session struct {
	ID        string
	UserID    int64
	UserAgent string
	IP        string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AccountRepository defines the port for account persistence operations.
// Lookups return nil, nil when nothing matches. CreateAccount fails with
// ErrConflict on a duplicate email. SaveAccount is a compare-and-swap on
// Revision and only writes the engagement fields.
type AccountRepository interface {
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByID(ctx context.Context, id int64) (*Account, error)
	CreateAccount(ctx context.Context, a *Account) error
	SaveAccount(ctx context.Context, a *Account) error
}

// SessionRepository defines the port for session persistence operations.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) error
}
