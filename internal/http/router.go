package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"routemate/internal/auth"
	"routemate/internal/authsync"
	"routemate/internal/config"
	"routemate/internal/locations"
	"routemate/internal/onboarding"
	"routemate/internal/profiles"
)

// Dependencies are the services the router exposes. Google and RateLimit
// are optional.
type Dependencies struct {
	Config     config.Config
	Auth       *auth.Service
	Profiles   *profiles.Service
	Onboarding *onboarding.Service
	Locations  *locations.Service
	Google     googleAuthenticator
	RateLimit  func(http.Handler) http.Handler
	Logger     *slog.Logger
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logger := deps.Logger

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	r.Use(newSlogMiddleware(logger))
	r.Use(newMetricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	rateLimited := deps.RateLimit
	if rateLimited == nil {
		rateLimited = func(next http.Handler) http.Handler { return next }
	}
	bearer := newBearerAuthMiddleware(deps.Auth, logger)

	authHandler := NewAuthHandler(deps.Auth, deps.Onboarding, deps.Profiles, logger)
	memberHandler := NewMemberHandler(deps.Auth, deps.Onboarding, deps.Profiles, logger)
	locationHandler := NewLocationHandler(deps.Locations, cfg.MaxImageBytes, logger)
	transferHandler := NewTransferHandler(deps.Locations, logger)
	stateHandler := NewAuthStateHandler(deps.Auth, deps.Profiles, cfg.AllowedOrigins, logger,
		authsync.WithTimeout(cfg.ProfileWaitTimeout),
		authsync.WithClaimsTimeout(cfg.ClaimsTimeout),
	)

	r.Route("/api", func(r chi.Router) {
		// The stream is long-lived and must not inherit the request timeout.
		r.Get("/auth/state", stateHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Group(func(r chi.Router) {
				r.Use(rateLimited)
				r.Post("/auth/register", authHandler.Register)
				r.Post("/auth/login", authHandler.Login)
				r.Post("/auth/refresh", authHandler.Refresh)
				r.Get("/invitations/{token}", memberHandler.LookupInvitation)
				r.Post("/invitations/{token}/accept", memberHandler.AcceptInvitation)
			})

			if deps.Google != nil {
				oauthHandler := NewOAuthHandler(deps.Google, deps.Auth, cfg.FrontendURL, cfg.Environment, logger)
				r.Get("/auth/google", oauthHandler.InitiateGoogle)
				r.Get("/auth/google/callback", oauthHandler.CallbackGoogle)
			}

			r.Group(func(r chi.Router) {
				r.Use(bearer)
				r.Post("/auth/logout", authHandler.Logout)
				r.Post("/auth/logout-all", authHandler.LogoutAll)
				r.Get("/me", authHandler.Me)
				r.Patch("/me", authHandler.UpdateMe)
			})

			r.Group(func(r chi.Router) {
				r.Use(bearer)
				r.Use(requireMembership)
				r.Route("/locations", func(r chi.Router) {
					r.Get("/", locationHandler.List)
					r.Post("/", locationHandler.Create)
					r.Get("/export", transferHandler.ExportCSV)
					r.With(requireAdmin).Post("/import", transferHandler.ImportCSV)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", locationHandler.Get)
						r.Put("/", locationHandler.Update)
						r.With(requireAdmin).Delete("/", locationHandler.Delete)
						r.Post("/images", locationHandler.AddImage)
						r.Delete("/images/{imageId}", locationHandler.RemoveImage)
					})
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(allowQueryToken)
				r.Use(bearer)
				r.Use(requireMembership)
				r.Get("/files/*", locationHandler.File)
			})

			r.Group(func(r chi.Router) {
				r.Use(bearer)
				r.Use(requireAdmin)
				r.Get("/members", memberHandler.List)
				r.Put("/members/{uid}/role", memberHandler.UpdateRole)
				r.Get("/invitations", memberHandler.ListInvitations)
				r.Post("/invitations", memberHandler.Invite)
				r.Delete("/invitations/{id}", memberHandler.RevokeInvitation)
			})
		})
	})

	r.NotFound(http.NotFoundHandler().ServeHTTP)

	return r
}
