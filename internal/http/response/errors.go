package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/crm-auth-core/internal/service"
	"github.com/sandeepkv93/crm-auth-core/internal/tenant"
)

const (
	CodeTenantRequired = "TENANT_REQUIRED"
	CodeTenantInvalid  = "TENANT_INVALID"
	CodeInternal       = "INTERNAL_ERROR"
	CodeBadRequest     = "BAD_REQUEST"
)

// FromError writes the envelope for err. Auth rejections keep their message;
// anything unrecognized is logged and rendered as a generic 500.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *service.AuthError
	switch {
	case errors.As(err, &authErr):
		Error(w, r, statusForKind(authErr.Kind), string(authErr.Kind), authErr.Message, detailsOrNil(authErr.Details))
	case errors.Is(err, tenant.ErrTenantRequired):
		Error(w, r, http.StatusBadRequest, CodeTenantRequired, "a valid tenant id is required", nil)
	case errors.Is(err, tenant.ErrTenantInvalid):
		Error(w, r, http.StatusBadRequest, CodeTenantInvalid, "tenant id is malformed", nil)
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		Error(w, r, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
	}
}

func statusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func detailsOrNil(d map[string]any) any {
	if len(d) == 0 {
		return nil
	}
	return d
}
