package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/crm-auth-core/internal/health"
	"github.com/sandeepkv93/crm-auth-core/internal/http/handler"
	"github.com/sandeepkv93/crm-auth-core/internal/http/middleware"
	"github.com/sandeepkv93/crm-auth-core/internal/http/response"
	"github.com/sandeepkv93/crm-auth-core/internal/tenant"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	Tokens           middleware.AccessTokenVerifier
	TenantGuard      *tenant.Guard
	AuthRateLimitRPM int
	AuthRateLimiter  AuthRateLimiterFunc
	Readiness        *health.ProbeRunner
	Logger           *slog.Logger
	EnableOTelHTTP   bool
}

type AuthRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(dep.Logger))

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(nil, middleware.RateLimitPolicy{
			Limit:  dep.AuthRateLimitRPM,
			Window: time.Minute,
		}, middleware.FailClosed, "auth", dep.Logger).Middleware()
	}
	requireAuth := middleware.AuthMiddleware(dep.Tokens)
	resolveTenant := middleware.TenantMiddleware(dep.TenantGuard, dep.Logger)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authLimiter, resolveTenant)
				r.Post("/login", dep.AuthHandler.Login)
				r.Post("/register", dep.AuthHandler.Register)
				r.Post("/refresh", dep.AuthHandler.Refresh)
			})
			r.Group(func(r chi.Router) {
				r.Use(requireAuth, resolveTenant)
				r.Post("/logout", dep.AuthHandler.Logout)
				r.Post("/logout-all", dep.AuthHandler.LogoutAll)
				r.With(authLimiter).Post("/change-password", dep.AuthHandler.ChangePassword)
			})
		})
		r.With(requireAuth, resolveTenant).Get("/me/sessions", dep.AuthHandler.Sessions)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
