// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"medico/internal/app"
)

// OIDCConfig carries the SSO provider. SSO routes answer 404 unless Enabled.
type OIDCConfig struct {
	Enabled      bool
	Provider     *oidc.Provider
	OAuth2Config oauth2.Config
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	profiles   *app.ProfileService
	progress   *app.ProgressService
	authSvc    *app.AuthService
	oidcConfig OIDCConfig
	webDir     string
	log        *zap.Logger

	forwardAuth bool
	disableAuth bool
	testUserID  int64
}

// New creates a Server wired to the given application services.
func New(ps *app.ProfileService, pr *app.ProgressService, as *app.AuthService, oidcCfg OIDCConfig, webDir string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		profiles:   ps,
		progress:   pr,
		authSvc:    as,
		oidcConfig: oidcCfg,
		webDir:     webDir,
		log:        log,
	}
}

// WithForwardAuth trusts the Remote-User header set by a forward-auth proxy.
func (s *Server) WithForwardAuth(enabled bool) *Server {
	s.forwardAuth = enabled
	return s
}

// WithoutAuth disables authentication and treats every request as coming
// from userID. Used by tests.
func (s *Server) WithoutAuth(userID int64) *Server {
	s.disableAuth = true
	s.testUserID = userID
	return s
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	api.HandleFunc("/auth/register", s.handleRegister)
	api.HandleFunc("/auth/login", s.handleLogin)
	api.HandleFunc("/auth/logout", s.handleLogout)
	api.HandleFunc("/auth/config", s.handleConfig)
	api.HandleFunc("/auth/sso/login", s.handleSSOLogin)
	api.HandleFunc("/auth/sso/callback", s.handleSSOCallback)
	api.Handle("/auth/me", s.authMiddleware(http.HandlerFunc(s.handleMe)))

	api.Handle("/health", s.authMiddleware(http.HandlerFunc(s.handleHealth)))
	api.Handle("/health/save-plan", s.authMiddleware(http.HandlerFunc(s.handleSavePlan)))
	api.Handle("/health/history", s.authMiddleware(http.HandlerFunc(s.handleHistory)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", s.loggingMiddleware(api)))
	root.Handle("/", spaFromDisk(s.webDir))

	return withNoCache(root)
}
