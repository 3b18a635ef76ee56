package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sandeepkv93/crm-auth-core/internal/http/response"
	"github.com/sandeepkv93/crm-auth-core/internal/observability"
	"github.com/sandeepkv93/crm-auth-core/internal/tenant"
)

// TenantMiddleware resolves the request tenant and stores it in the context.
// It reads the authenticated tenant from claims, so it must run after
// AuthMiddleware on protected routes.
func TenantMiddleware(guard *tenant.Guard, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var authTenant string
			if claims, ok := ClaimsFromContext(ctx); ok {
				authTenant = claims.TenantID
			}
			res, err := guard.Resolve(ctx, r.Header.Get(tenant.HeaderTenantID), authTenant)
			if err != nil {
				observability.RecordTenantDecision(ctx, "rejected")
				observability.Audit(r, "tenant.rejected", "error", err.Error())
				response.FromError(w, r, err)
				return
			}
			if res.Source == tenant.SourceFallback {
				observability.RecordTenantFallbackUse(ctx)
				logger.ErrorContext(ctx, "tenant fallback used",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(ctx),
					"remote_addr", r.RemoteAddr,
					"tenant_id", res.TenantID,
				)
			}
			observability.RecordTenantDecision(ctx, res.Source)
			next.ServeHTTP(w, r.WithContext(tenant.WithTenantID(ctx, res.TenantID)))
		})
	}
}
