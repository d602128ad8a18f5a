// Package app holds the application services and business logic.
package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"medico/internal/domain"
)

var (
	// ErrInvalidCredentials indicates that the provided email or password was incorrect.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", domain.ErrUnauthenticated)
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = fmt.Errorf("%w: session not found", domain.ErrUnauthenticated)
	// ErrSessionExpired indicates that the session has expired.
	ErrSessionExpired = fmt.Errorf("%w: session expired", domain.ErrUnauthenticated)
	// ErrUserNotFound indicates that the account behind a session no longer exists.
	ErrUserNotFound = fmt.Errorf("%w: user not found", domain.ErrUnauthenticated)
)

// AuthService is the identity collaborator: it registers accounts, checks
// passwords, runs the login gamification transition and issues tokens.
type AuthService struct {
	accounts domain.AccountRepository
	sessions domain.SessionRepository
	tokens   *TokenIssuer
	log      *zap.Logger
	now      func() time.Time
}

// NewAuthService creates a new authentication service.
func NewAuthService(accounts domain.AccountRepository, sessions domain.SessionRepository, tokens *TokenIssuer, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		accounts: accounts,
		sessions: sessions,
		tokens:   tokens,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	s.tokens.now = now
	return s
}

// TokenTTL is the lifetime of issued tokens and their sessions.
func (s *AuthService) TokenTTL() time.Duration { return s.tokens.TTL() }

// Register creates an account and opens a session for it.
func (s *AuthService) Register(ctx context.Context, name, email, password, userAgent, ip string) (*domain.Account, string, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	switch {
	case name == "":
		return nil, "", &domain.ValidationError{Field: "name", Reason: "required"}
	case email == "":
		return nil, "", &domain.ValidationError{Field: "email", Reason: "required"}
	case password == "":
		return nil, "", &domain.ValidationError{Field: "password", Reason: "required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", &domain.ValidationError{Field: "email", Reason: "invalid address"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	a := domain.NewAccount(name, email, string(hash), s.now())
	if err := s.accounts.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, "", &domain.ConflictError{Resource: "account", Reason: "email already registered"}
		}
		return nil, "", err
	}

	token, err := s.openSession(ctx, a.ID, userAgent, ip)
	if err != nil {
		return nil, "", err
	}
	return a, token, nil
}

// Login authenticates an account, applies the login transition to its
// streak and xp, and creates a session.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent, ip string) (*domain.Account, string, error) {
	a, err := s.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, "", fmt.Errorf("find account: %w", err)
	}
	if a == nil || a.PasswordHash == "" {
		return nil, "", ErrInvalidCredentials
	}

	if err = bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	if a, err = s.recordLogin(ctx, a); err != nil {
		return nil, "", err
	}

	token, err := s.openSession(ctx, a.ID, userAgent, ip)
	if err != nil {
		return nil, "", err
	}
	return a, token, nil
}

// Logout invalidates the session behind a token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	sessionID, _, err := s.tokens.Parse(token)
	if err != nil {
		return nil
	}
	return s.sessions.Delete(ctx, sessionID)
}

// ValidateSession checks that a token is authentic, its session is live and
// bound to the same user agent, and returns the account.
func (s *AuthService) ValidateSession(ctx context.Context, token, userAgent string) (*domain.Account, error) {
	sessionID, userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID {
		return nil, ErrSessionNotFound
	}

	if s.now().After(session.ExpiresAt) {
		_ = s.sessions.Delete(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	if session.UserAgent != userAgent {
		_ = s.sessions.Delete(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	a, err := s.accounts.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrUserNotFound
	}
	return a, nil
}

// ValidateForwardAuth validates a request from Authelia forward auth.
// It checks for the Remote-User header set by Authelia, which carries the
// account email.
func (s *AuthService) ValidateForwardAuth(ctx context.Context, remoteUser string) (*domain.Account, error) {
	if remoteUser == "" {
		return nil, errors.New("no remote user header")
	}
	return s.provision(ctx, remoteUser, remoteUser)
}

// LoginWithUser creates a session for an already authenticated user (e.g.
// via SSO), provisioning the account on first sight. It counts as a login
// for streak and xp.
func (s *AuthService) LoginWithUser(ctx context.Context, email, name, userAgent, ip string) (*domain.Account, string, error) {
	a, err := s.provision(ctx, email, name)
	if err != nil {
		return nil, "", err
	}
	if a, err = s.recordLogin(ctx, a); err != nil {
		return nil, "", err
	}
	token, err := s.openSession(ctx, a.ID, userAgent, ip)
	if err != nil {
		return nil, "", err
	}
	return a, token, nil
}

// PurgeExpiredSessions removes sessions past their expiry.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) error {
	return s.sessions.DeleteExpired(ctx)
}

// provision returns the account for email, creating a password-less one if
// needed.
func (s *AuthService) provision(ctx context.Context, email, name string) (*domain.Account, error) {
	email = normalizeEmail(email)
	a, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if a != nil {
		return a, nil
	}
	if name == "" {
		name = email
	}
	// Empty password hash: these accounts log in via SSO only.
	a = domain.NewAccount(name, email, "", s.now())
	if err = s.accounts.CreateAccount(ctx, a); err == nil {
		return a, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}
	// Lost a creation race; the winner's row is the account.
	a, err = s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &domain.ConflictError{Resource: "account", Reason: "concurrent provisioning"}
	}
	return a, nil
}

// recordLogin applies the login transition and saves it with
// compare-and-swap, re-reading the account after a lost race so that every
// login is counted exactly once.
func (s *AuthService) recordLogin(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	for attempt := 1; ; attempt++ {
		a.RecordLogin(s.now())
		err := s.accounts.SaveAccount(ctx, a)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		if attempt >= maxWriteAttempts {
			return nil, &domain.ConflictError{Resource: "account", Reason: "too many concurrent logins"}
		}
		s.log.Debug("login state conflict, retrying", zap.Int64("user_id", a.ID), zap.Int("attempt", attempt))
		id := a.ID
		if a, err = s.accounts.GetAccountByID(ctx, id); err != nil {
			return nil, err
		}
		if a == nil {
			return nil, &domain.NotFoundError{Resource: "account", UserID: id}
		}
	}
}

func (s *AuthService) openSession(ctx context.Context, userID int64, userAgent, ip string) (string, error) {
	now := s.now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: now.Add(s.tokens.TTL()),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return "", err
	}
	return s.tokens.Issue(session.ID, userID, now, session.ExpiresAt)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ConstantTimeCompare performs a constant-time comparison of two strings.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
