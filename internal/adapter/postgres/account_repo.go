package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medico/internal/domain"
)

var (
	_ domain.AccountRepository = (*DB)(nil)
	_ domain.SessionRepository = (*SessionRepo)(nil)
)

const accountColumns = "id, name, email, password_hash, xp, level, streak, last_login_date, revision, created_at"

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.XP, &a.Level, &a.Streak,
		&a.LastLoginDate, &a.Revision, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountByEmail retrieves an account by email.
func (d *DB) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return scanAccount(d.sql.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = $1", email))
}

// GetAccountByID retrieves an account by ID.
func (d *DB) GetAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	return scanAccount(d.sql.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
}

// CreateAccount inserts a new account and assigns its ID.
func (d *DB) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	err := d.sql.QueryRowContext(ctx,
		`INSERT INTO accounts (name, email, password_hash, xp, level, streak, last_login_date, revision, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8) RETURNING id`,
		a.Name, a.Email, a.PasswordHash, a.XP, a.Level, a.Streak, a.LastLoginDate.UTC(), a.CreatedAt.UTC(),
	).Scan(&a.ID)
	if isUniqueViolation(err) {
		return &domain.ConflictError{Resource: "account", Reason: "email already exists"}
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	a.Revision = 1
	return nil
}

// SaveAccount writes the engagement fields if the stored revision still
// matches. A missing row is reported as a conflict; the caller's re-read
// then finds nothing.
func (d *DB) SaveAccount(ctx context.Context, a *domain.Account) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE accounts SET xp = $1, level = $2, streak = $3, last_login_date = $4, revision = revision + 1
		 WHERE id = $5 AND revision = $6`,
		a.XP, a.Level, a.Streak, a.LastLoginDate.UTC(), a.ID, a.Revision,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ConflictError{Resource: "account", Reason: "revision changed"}
	}
	a.Revision++
	return nil
}

// SessionRepo implements session repository operations on DB.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo wraps a DB as a SessionRepository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create creates a new session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := r.db.sql.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, user_agent, ip, expires_at, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		s.ID, s.UserID, s.UserAgent, s.IP, s.ExpiresAt.UTC(), s.CreatedAt.UTC(),
	)
	return err
}

// GetByID retrieves a session by ID.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.sql.QueryRowContext(ctx,
		"SELECT id, user_id, user_agent, ip, expires_at, created_at FROM sessions WHERE id = $1",
		id,
	).Scan(&s.ID, &s.UserID, &s.UserAgent, &s.IP, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Delete deletes a session by ID.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.sql.ExecContext(ctx, "DELETE FROM sessions WHERE id = $1", id)
	return err
}

// DeleteExpired deletes all expired sessions.
func (r *SessionRepo) DeleteExpired(ctx context.Context) error {
	_, err := r.db.sql.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < $1", time.Now().UTC())
	return err
}
