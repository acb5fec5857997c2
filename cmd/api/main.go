package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"routemate/internal/auth"
	"routemate/internal/config"
	transporthttp "routemate/internal/http"
	"routemate/internal/locations"
	"routemate/internal/onboarding"
	"routemate/internal/platform/database"
	"routemate/internal/platform/logging"
	"routemate/internal/platform/migrate"
	"routemate/internal/platform/ratelimit"
	"routemate/internal/profiles"
	"routemate/internal/storage"
	_ "routemate/internal/storage/local"
	_ "routemate/internal/storage/s3"
)

const sessionCleanupInterval = time.Hour

type repositories struct {
	auth      auth.Repository
	profiles  profiles.Repository
	invites   onboarding.InvitationRepository
	locations locations.Repository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	repos, cleanup, err := buildRepositories(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	objects, err := storage.New(cfg)
	if err != nil {
		logger.Error("failed to initialize storage", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}

	authSvc := auth.NewService(repos.auth, auth.NewTokenIssuer(cfg.JWTSecret, cfg.IDTokenTTL, nil),
		auth.WithSessionTTL(cfg.SessionTTL),
	)
	profileSvc := profiles.NewService(repos.profiles)
	onboardingSvc := onboarding.NewService(authSvc, repos.profiles, repos.invites,
		onboarding.WithBaseURL(cfg.FrontendURL),
		onboarding.WithInviteTTL(cfg.InviteTTL),
		onboarding.WithLogger(logger),
	)
	locationSvc := locations.NewService(repos.locations, objects,
		locations.WithMaxImageBytes(cfg.MaxImageBytes),
		locations.WithLogger(logger),
	)

	if cfg.UseInMemoryStore() {
		if err := seedDemo(ctx, onboardingSvc, locationSvc, logger); err != nil {
			logger.Error("failed to seed demo data", "error", err)
			os.Exit(1)
		}
	}

	limiter, err := ratelimit.New(ctx, cfg.AuthRateLimit, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = limiter.Close()
	}()

	deps := transporthttp.Dependencies{
		Config:     cfg,
		Auth:       authSvc,
		Profiles:   profileSvc,
		Onboarding: onboardingSvc,
		Locations:  locationSvc,
		RateLimit:  limiter.Handler,
		Logger:     logger,
	}
	if cfg.Google.Enabled() {
		google, err := auth.NewGoogleAuthenticator(ctx, auth.GoogleOptions{
			ClientID:       cfg.Google.ClientID,
			ClientSecret:   cfg.Google.ClientSecret,
			RedirectURL:    cfg.Google.RedirectURL,
			AllowedDomains: cfg.Google.AllowedDomains,
		})
		if err != nil {
			logger.Error("failed to initialize google sign-in", "error", err)
			os.Exit(1)
		}
		deps.Google = google
	}

	go cleanupSessions(ctx, authSvc, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           transporthttp.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("Routemate API listening", "addr", srv.Addr, "store", cfg.DataStore, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildRepositories(ctx context.Context, cfg config.Config, logger *slog.Logger) (repositories, func(), error) {
	if cfg.UseInMemoryStore() {
		logger.Info("using in-memory repository")
		return repositories{
			auth:      auth.NewInMemoryRepository(),
			profiles:  profiles.NewInMemoryRepository(),
			invites:   onboarding.NewInMemoryRepository(),
			locations: locations.NewInMemoryRepository(nil),
		}, nil, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return repositories{}, nil, err
	}

	cleanup := func() {
		_ = db.Close()
	}

	if err := migrate.Apply(ctx, db, logger); err != nil {
		cleanup()
		return repositories{}, nil, err
	}

	profileRepo := profiles.NewPostgresRepository(db, logger)
	if err := profileRepo.Listen(ctx, cfg.DatabaseURL); err != nil {
		cleanup()
		return repositories{}, nil, err
	}

	logger.Info("connected to postgres")
	return repositories{
		auth:      auth.NewPostgresRepository(db),
		profiles:  profileRepo,
		invites:   onboarding.NewPostgresRepository(db),
		locations: locations.NewPostgresRepository(db),
	}, cleanup, nil
}

// cleanupSessions deletes expired sessions until ctx is done.
func cleanupSessions(ctx context.Context, authSvc *auth.Service, logger *slog.Logger) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := authSvc.CleanupExpiredSessions(ctx)
			if err != nil {
				logger.Warn("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}
