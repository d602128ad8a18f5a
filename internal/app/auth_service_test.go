package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"medico/internal/domain"
)

type mockAccountRepo struct {
	getByEmailFn func(ctx context.Context, email string) (*domain.Account, error)
	getByIDFn    func(ctx context.Context, id int64) (*domain.Account, error)
	createFn     func(ctx context.Context, a *domain.Account) error
	saveFn       func(ctx context.Context, a *domain.Account) error
}

func (m *mockAccountRepo) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockAccountRepo) GetAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockAccountRepo) CreateAccount(ctx context.Context, a *domain.Account) error {
	if m.createFn != nil {
		return m.createFn(ctx, a)
	}
	a.ID = 1
	return nil
}

func (m *mockAccountRepo) SaveAccount(ctx context.Context, a *domain.Account) error {
	if m.saveFn != nil {
		return m.saveFn(ctx, a)
	}
	return nil
}

type mockSessionRepo struct {
	createFn        func(ctx context.Context, s *domain.Session) error
	getByIDFn       func(ctx context.Context, id string) (*domain.Session, error)
	deleteFn        func(ctx context.Context, id string) error
	deleteExpiredFn func(ctx context.Context) error
}

func (m *mockSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, s)
	}
	return nil
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context) error {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return nil
}

func newTestAuth(users domain.AccountRepository, sessions domain.SessionRepository) *AuthService {
	return NewAuthService(users, sessions, NewTokenIssuer("test-secret", time.Hour), nil)
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func TestAuthService_Login_Success(t *testing.T) {
	ctx := context.Background()
	password := "testpass123"
	hash := hashed(t, password)
	yesterday := time.Now().AddDate(0, 0, -1)

	users := &mockAccountRepo{
		getByEmailFn: func(ctx context.Context, email string) (*domain.Account, error) {
			if email != "test@example.com" {
				t.Errorf("expected normalized email, got %q", email)
			}
			return &domain.Account{
				ID:            1,
				Email:         email,
				PasswordHash:  hash,
				XP:            45,
				Level:         1,
				Streak:        3,
				LastLoginDate: yesterday,
			}, nil
		},
	}

	var saved *domain.Account
	users.saveFn = func(ctx context.Context, a *domain.Account) error {
		c := *a
		saved = &c
		return nil
	}

	sessions := &mockSessionRepo{
		createFn: func(ctx context.Context, s *domain.Session) error {
			if s.UserID != 1 {
				t.Errorf("expected userID 1, got %d", s.UserID)
			}
			if s.ID == "" {
				t.Error("session id should not be empty")
			}
			return nil
		},
	}

	svc := newTestAuth(users, sessions)
	a, token, err := svc.Login(ctx, " Test@Example.com ", password, "ua", "127.0.0.1")

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token == "" {
		t.Error("expected token, got empty string")
	}
	if saved == nil {
		t.Fatal("login state was not saved")
	}
	if a.XP != 50 || a.Level != 2 || a.Streak != 4 {
		t.Errorf("unexpected engagement state: xp=%d level=%d streak=%d", a.XP, a.Level, a.Streak)
	}
}

func TestAuthService_Login_InvalidPassword(t *testing.T) {
	ctx := context.Background()
	hash := hashed(t, "correctpass")

	saved := false
	users := &mockAccountRepo{
		getByEmailFn: func(ctx context.Context, email string) (*domain.Account, error) {
			return &domain.Account{ID: 1, Email: email, PasswordHash: hash}, nil
		},
		saveFn: func(ctx context.Context, a *domain.Account) error {
			saved = true
			return nil
		},
	}

	svc := newTestAuth(users, &mockSessionRepo{})

	_, _, err := svc.Login(ctx, "test@example.com", "wrongpass", "ua", "")
	if err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Error("expected ErrInvalidCredentials to wrap ErrUnauthenticated")
	}
	if saved {
		t.Error("failed login must not award xp")
	}
}

func TestAuthService_Login_StorageFailureIsNotInvalidCredentials(t *testing.T) {
	dbErr := errors.New("connection refused")
	users := &mockAccountRepo{
		getByEmailFn: func(ctx context.Context, email string) (*domain.Account, error) {
			return nil, dbErr
		},
	}
	svc := newTestAuth(users, &mockSessionRepo{})

	_, _, err := svc.Login(context.Background(), "test@example.com", "pw", "ua", "")
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected storage error to be wrapped, got %v", err)
	}
	if errors.Is(err, domain.ErrUnauthenticated) {
		t.Error("storage failure must not be reported as a credential problem")
	}
}

func TestAuthService_Login_UnknownUserAndSSOOnlyAccount(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(&mockAccountRepo{}, &mockSessionRepo{})
	if _, _, err := svc.Login(ctx, "nobody@example.com", "x", "ua", ""); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	sso := &mockAccountRepo{
		getByEmailFn: func(ctx context.Context, email string) (*domain.Account, error) {
			return &domain.Account{ID: 2, Email: email}, nil
		},
	}
	svc = newTestAuth(sso, &mockSessionRepo{})
	if _, _, err := svc.Login(ctx, "sso@example.com", "", "ua", ""); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for password-less account, got %v", err)
	}
}

func TestAuthService_Login_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	hash := hashed(t, "pw")
	now := time.Now()

	stored := domain.Account{ID: 1, Email: "a@example.com", PasswordHash: hash, XP: 10, Level: 1, LastLoginDate: now, Revision: 1}
	saves := 0
	users := &mockAccountRepo{
		getByEmailFn: func(ctx context.Context, email string) (*domain.Account, error) {
			c := stored
			return &c, nil
		},
		getByIDFn: func(ctx context.Context, id int64) (*domain.Account, error) {
			c := stored
			return &c, nil
		},
		saveFn: func(ctx context.Context, a *domain.Account) error {
			saves++
			if saves == 1 {
				// A racing login lands first.
				stored.XP += domain.LoginXP
				stored.Revision++
				return &domain.ConflictError{Resource: "account", Reason: "revision changed"}
			}
			if a.Revision != stored.Revision {
				t.Errorf("retry used stale revision %d", a.Revision)
			}
			stored = *a
			stored.Revision++
			return nil
		},
	}

	svc := newTestAuth(users, &mockSessionRepo{})
	a, _, err := svc.Login(ctx, "a@example.com", "pw", "ua", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if a.XP != 20 {
		t.Errorf("expected both logins counted (xp 20), got %d", a.XP)
	}
	if saves != 2 {
		t.Errorf("expected 2 save attempts, got %d", saves)
	}
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	var created *domain.Account
	users := &mockAccountRepo{
		createFn: func(ctx context.Context, a *domain.Account) error {
			a.ID = 9
			created = a
			return nil
		},
	}
	svc := newTestAuth(users, &mockSessionRepo{})

	a, token, err := svc.Register(ctx, "Ada", "Ada@Example.com", "pw123456", "ua", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token == "" {
		t.Error("expected token")
	}
	if a.ID != 9 || created.Email != "ada@example.com" {
		t.Errorf("unexpected account: %+v", a)
	}
	if a.XP != 0 || a.Level != 1 || a.Streak != 0 {
		t.Errorf("fresh account should start at xp 0 level 1 streak 0, got %+v", a)
	}
	if bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("pw123456")) != nil {
		t.Error("password was not hashed with bcrypt")
	}
}

func TestAuthService_Register_Validation(t *testing.T) {
	svc := newTestAuth(&mockAccountRepo{}, &mockSessionRepo{})
	cases := []struct{ name, email, password string }{
		{"", "a@example.com", "pw"},
		{"A", "", "pw"},
		{"A", "a@example.com", ""},
		{"A", "not-an-email", "pw"},
	}
	for _, tc := range cases {
		_, _, err := svc.Register(context.Background(), tc.name, tc.email, tc.password, "", "")
		if !domain.IsValidation(err) {
			t.Errorf("Register(%q, %q, %q): expected validation error, got %v", tc.name, tc.email, tc.password, err)
		}
	}
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	users := &mockAccountRepo{
		createFn: func(ctx context.Context, a *domain.Account) error {
			return &domain.ConflictError{Resource: "account", Reason: "email already exists"}
		},
	}
	svc := newTestAuth(users, &mockSessionRepo{})
	_, _, err := svc.Register(context.Background(), "A", "a@example.com", "pw", "", "")
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestAuthService_ValidateSession_Valid(t *testing.T) {
	ctx := context.Background()

	var session *domain.Session
	sessions := &mockSessionRepo{
		createFn: func(ctx context.Context, s *domain.Session) error {
			session = s
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.Session, error) {
			if session == nil || id != session.ID {
				return nil, nil
			}
			return session, nil
		},
	}

	users := &mockAccountRepo{
		getByIDFn: func(ctx context.Context, id int64) (*domain.Account, error) {
			return &domain.Account{ID: id, Email: "test@example.com"}, nil
		},
	}

	svc := newTestAuth(users, sessions)
	_, token, err := svc.Register(ctx, "Test", "test@example.com", "pw", "ua", "")
	if err != nil {
		t.Fatal(err)
	}

	a, err := svc.ValidateSession(ctx, token, "ua")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if a.Email != "test@example.com" {
		t.Errorf("expected email 'test@example.com', got %s", a.Email)
	}
}

func TestAuthService_ValidateSession_Expired(t *testing.T) {
	ctx := context.Background()

	deleted := false
	sessions := &mockSessionRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Session, error) {
			return &domain.Session{
				ID:        id,
				UserID:    1,
				UserAgent: "ua",
				ExpiresAt: time.Now().Add(-1 * time.Hour),
			}, nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}

	svc := newTestAuth(&mockAccountRepo{}, sessions)
	now := time.Now()
	token, _ := svc.tokens.Issue("expired", 1, now, now.Add(time.Hour))

	_, err := svc.ValidateSession(ctx, token, "ua")
	if err != ErrSessionExpired {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
	if !deleted {
		t.Error("expected session to be deleted")
	}
}

func TestAuthService_ValidateSession_UserAgentMismatch(t *testing.T) {
	ctx := context.Background()
	sessions := &mockSessionRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Session, error) {
			return &domain.Session{ID: id, UserID: 1, UserAgent: "ua", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	svc := newTestAuth(&mockAccountRepo{}, sessions)
	now := time.Now()
	token, _ := svc.tokens.Issue("s", 1, now, now.Add(time.Hour))

	if _, err := svc.ValidateSession(ctx, token, "other-ua"); err != ErrSessionExpired {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}

func TestAuthService_ValidateSession_RevokedSession(t *testing.T) {
	svc := newTestAuth(&mockAccountRepo{}, &mockSessionRepo{})
	now := time.Now()
	token, _ := svc.tokens.Issue("gone", 1, now, now.Add(time.Hour))

	if _, err := svc.ValidateSession(context.Background(), token, "ua"); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAuthService_Logout(t *testing.T) {
	var deletedID string
	sessions := &mockSessionRepo{
		deleteFn: func(ctx context.Context, id string) error {
			deletedID = id
			return nil
		},
	}
	svc := newTestAuth(&mockAccountRepo{}, sessions)
	now := time.Now()
	token, _ := svc.tokens.Issue("sess-7", 1, now, now.Add(time.Hour))

	if err := svc.Logout(context.Background(), token); err != nil {
		t.Fatal(err)
	}
	if deletedID != "sess-7" {
		t.Errorf("expected sess-7 deleted, got %q", deletedID)
	}
}

func TestAuthService_ValidateForwardAuth_ExistingUser(t *testing.T) {
	ctx := context.Background()

	users := &mockAccountRepo{
		getByEmailFn: func(ctx context.Context, email string) (*domain.Account, error) {
			return &domain.Account{ID: 1, Email: email}, nil
		},
	}

	svc := newTestAuth(users, &mockSessionRepo{})

	a, err := svc.ValidateForwardAuth(ctx, "ssouser@example.com")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if a.Email != "ssouser@example.com" {
		t.Errorf("expected email 'ssouser@example.com', got %s", a.Email)
	}
}

func TestAuthService_ValidateForwardAuth_NewUser(t *testing.T) {
	ctx := context.Background()

	users := &mockAccountRepo{
		createFn: func(ctx context.Context, a *domain.Account) error {
			a.ID = 2
			if a.PasswordHash != "" {
				t.Error("forward-auth accounts must not get a password")
			}
			return nil
		},
	}

	svc := newTestAuth(users, &mockSessionRepo{})

	a, err := svc.ValidateForwardAuth(ctx, "newssouser@example.com")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if a.ID != 2 {
		t.Errorf("expected provisioned account id 2, got %d", a.ID)
	}

	if _, err := svc.ValidateForwardAuth(ctx, ""); err == nil {
		t.Error("expected error for empty remote user")
	}
}

func TestAuthService_LoginWithUser_CountsAsLogin(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 2, 9, 0, 0, 0, time.UTC)

	users := &mockAccountRepo{
		getByEmailFn: func(ctx context.Context, email string) (*domain.Account, error) {
			return &domain.Account{ID: 3, Email: email, Streak: 5, XP: 100, Level: 2,
				LastLoginDate: now.AddDate(0, 0, -3)}, nil
		},
	}
	svc := newTestAuth(users, &mockSessionRepo{}).WithClock(func() time.Time { return now })

	a, token, err := svc.LoginWithUser(ctx, "sso@example.com", "SSO", "ua", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token == "" {
		t.Error("expected token")
	}
	if a.Streak != 1 || a.XP != 105 {
		t.Errorf("expected streak reset to 1 and xp 105, got streak=%d xp=%d", a.Streak, a.XP)
	}
}
