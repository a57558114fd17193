package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-redis/redis/v8"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/auth"
	"github.com/salesdesk/crm-management/internal/obs"
	"github.com/salesdesk/crm-management/internal/permission"
	"github.com/salesdesk/crm-management/internal/transport/middleware"
	"github.com/salesdesk/crm-management/internal/transport/swagger"
	"github.com/salesdesk/crm-management/internal/user"
)

// RouterDeps carries everything route registration needs. The HTTP layer
// only ever sees constructed handlers; nothing here reaches into globals.
type RouterDeps struct {
	Config      *internal.Config
	DB          *sql.DB
	Cache       *redis.Client
	Gate        *auth.Gate
	AuthHandler *auth.Handler
	UserHandler *user.Handler
	Permissions *permission.Engine
	Logger      *slog.Logger
}

// RegisterAllRoutes mounts the full REST surface under /api/v1, with the
// operational endpoints (swagger, openapi, metrics) at the root.
func RegisterAllRoutes(router *chi.Mux, deps RouterDeps) {
	healthHandler := NewHealthHandler(deps.DB, deps.Cache)

	// Credential endpoints pay for bcrypt and store writes on every call,
	// so they sit behind a per-IP bucket.
	authLimiter := middleware.NewRateLimiter(5, 10)

	router.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.TraceID)
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	if deps.Config.Observability.Metrics.Enabled {
		router.Use(obs.Instrument)
		router.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, obs.Handler())
	}

	// OpenAPI spec at root, swagger UI pointing at it
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Route("/auth", func(sr chi.Router) {
			sr.Group(func(lr chi.Router) {
				lr.Use(authLimiter.Middleware)
				lr.Post("/register", deps.AuthHandler.Register)
				lr.Post("/login", deps.AuthHandler.Login)
				lr.Post("/refresh", deps.AuthHandler.Refresh)
				lr.Post("/auto-refresh", deps.AuthHandler.AutoRefresh)
			})
			sr.Post("/logout", deps.AuthHandler.Logout)
			sr.Post("/validate-token", deps.AuthHandler.ValidateToken)

			sr.Group(func(pr chi.Router) {
				pr.Use(deps.Gate.Middleware)
				pr.Put("/profile", deps.AuthHandler.UpdateProfile)
			})
		})

		// Everything below requires an authenticated, active user.
		r.Group(func(pr chi.Router) {
			pr.Use(deps.Gate.Middleware)

			pr.Route("/users", func(ur chi.Router) {
				ur.Get("/me", deps.UserHandler.Me)

				ur.Group(func(mr chi.Router) {
					mr.Use(deps.Gate.RequireRole(auth.RoleSalesManager))
					mr.Get("/team", deps.UserHandler.Team)
				})

				ur.Group(func(ar chi.Router) {
					ar.Use(deps.Gate.RequireRole(auth.RoleAdmin))
					ar.Get("/", deps.UserHandler.List)
					ar.Group(func(cr chi.Router) {
						cr.Use(middleware.RequirePermission(deps.Permissions, deps.Logger, permission.ResourceUser, permission.ActionCreate))
						cr.Post("/", deps.UserHandler.Create)
					})
					ar.Patch("/{id}/role", deps.UserHandler.ChangeRole)
					ar.Delete("/{id}", deps.UserHandler.Delete)
				})
			})
		})
	})
}
