package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	appMiddleware "github.com/FACorreiaa/techephi-auth/app/middleware"
	_ "github.com/FACorreiaa/techephi-auth/docs"
	"github.com/FACorreiaa/techephi-auth/internal/api/auth"
	"github.com/FACorreiaa/techephi-auth/internal/types"
)

// Config contains dependencies needed for the router setup
type Config struct {
	AuthHandler    *auth.HandlerImpl
	Verifier       auth.Verifier
	Logger         *slog.Logger
	AllowedOrigins []string
	// AuthRateLimit is requests per minute per client IP on the credential endpoints, and separately
	// on refresh. Logout is never limited. Zero disables it.
	AuthRateLimit int
}

// SetupRouter initializes the API router. Server-wide middleware (request id, real ip,
// logging, recovery) is applied in main before mounting it.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appMiddleware.SecurityHeaders)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	authenticate := auth.Authenticate(cfg.Verifier, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Logout must always succeed so the client can drop its cookie.
			r.Post("/logout", cfg.AuthHandler.Logout)

			// Credential endpoints
			r.Group(func(r chi.Router) {
				if cfg.AuthRateLimit > 0 {
					r.Use(appMiddleware.RateLimitByIP(cfg.AuthRateLimit, time.Minute))
				}
				r.Post("/register", cfg.AuthHandler.Register)
				r.Post("/login", cfg.AuthHandler.Login)
				r.Post("/forgot-password", cfg.AuthHandler.ForgotPassword)
				r.Post("/reset-password", cfg.AuthHandler.ResetPassword)
			})

			// Refresh has its own bucket so credential traffic cannot starve session renewal.
			r.Group(func(r chi.Router) {
				if cfg.AuthRateLimit > 0 {
					r.Use(appMiddleware.RateLimitByIP(cfg.AuthRateLimit, time.Minute))
				}
				r.Post("/refresh", cfg.AuthHandler.Refresh)
			})

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Get("/me", cfg.AuthHandler.Me)
				r.Post("/change-password", cfg.AuthHandler.ChangePassword)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticate)
			r.Use(auth.RequireRole(cfg.Logger, types.RoleAdmin))
			r.Patch("/users/{userID}/status", cfg.AuthHandler.SetUserStatus)
		})
	})

	return r
}
