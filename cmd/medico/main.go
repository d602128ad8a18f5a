package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	adapthttp "medico/internal/adapter/http"
	"medico/internal/adapter/memory"
	"medico/internal/adapter/postgres"
	rediscache "medico/internal/adapter/redis"
	"medico/internal/app"
	"medico/internal/config"
	"medico/internal/domain"
	"medico/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "medico")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		profiles domain.ProfileRepository
		accounts domain.AccountRepository
		sessions domain.SessionRepository
	)
	switch cfg.Store {
	case config.StoreMemory:
		db := memory.New()
		profiles, accounts, sessions = db, db, db.NewSessionRepo()
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		defer func() { _ = db.Close() }()
		profiles, accounts, sessions = db, db, postgres.NewSessionRepo(db)
	}

	if cfg.RedisURL != "" {
		client, err := rediscache.NewClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, cache reads will fall through", zap.Error(err))
		}
		profiles = rediscache.NewProfileCache(profiles, client, cfg.ProfileCacheTTL, logger.Named("cache"))
	}

	oidcCfg, err := setupOIDC(ctx, cfg.OIDC)
	if err != nil {
		return err
	}

	tokens := app.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	authSvc := app.NewAuthService(accounts, sessions, tokens, logger.Named("auth"))
	profileSvc := app.NewProfileService(profiles, logger.Named("profile"))
	progressSvc := app.NewProgressService(profiles)

	go purgeSessions(ctx, authSvc, logger)

	h := adapthttp.New(profileSvc, progressSvc, authSvc, oidcCfg, cfg.WebDir, logger.Named("http")).
		WithForwardAuth(cfg.ForwardAuth).
		Handler()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupOIDC(ctx context.Context, c config.OIDC) (adapthttp.OIDCConfig, error) {
	if !c.Enabled() {
		return adapthttp.OIDCConfig{}, nil
	}
	provider, err := oidc.NewProvider(ctx, c.Issuer)
	if err != nil {
		return adapthttp.OIDCConfig{}, fmt.Errorf("oidc provider: %w", err)
	}
	return adapthttp.OIDCConfig{
		Enabled:  true,
		Provider: provider,
		OAuth2Config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
	}, nil
}

func purgeSessions(ctx context.Context, auth *app.AuthService, logger *zap.Logger) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := auth.PurgeExpiredSessions(ctx); err != nil {
				logger.Warn("session purge failed", zap.Error(err))
			}
		}
	}
}
