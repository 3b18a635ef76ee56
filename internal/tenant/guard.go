// Package tenant resolves and validates the tenant a request operates on.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	HeaderTenantID = "X-Tenant-Id"
	maxTenantIDLen = 128

	SourceHeader   = "header"
	SourceAuth     = "auth"
	SourceFallback = "fallback"
)

var (
	ErrTenantRequired = errors.New("tenant id is required")
	// ErrTenantReserved matches ErrTenantRequired: a sentinel is no tenant at all.
	ErrTenantReserved = fmt.Errorf("%w: reserved tenant id", ErrTenantRequired)
	ErrTenantInvalid  = errors.New("tenant id is malformed")
)

var reservedTenantIDs = map[string]struct{}{
	"default": {},
}

// FallbackConfig is the break-glass tenant. It is inert unless Enabled and
// the current time is before ExpiresAt.
type FallbackConfig struct {
	Enabled   bool
	TenantID  string
	ExpiresAt time.Time
}

type Resolution struct {
	TenantID string
	Source   string
}

type Guard struct {
	fallback FallbackConfig
	now      func() time.Time
}

// NewGuard rejects an enabled fallback whose tenant id would itself fail
// validation.
func NewGuard(fallback FallbackConfig, now func() time.Time) (*Guard, error) {
	if now == nil {
		now = time.Now
	}
	fallback.TenantID = strings.TrimSpace(fallback.TenantID)
	if fallback.Enabled {
		if err := Validate(fallback.TenantID); err != nil {
			return nil, fmt.Errorf("tenant fallback: %w", err)
		}
		if fallback.ExpiresAt.IsZero() {
			return nil, errors.New("tenant fallback: expiry is required")
		}
	}
	return &Guard{fallback: fallback, now: now}, nil
}

// Resolve picks the trimmed header value, then the authenticated tenant, then
// an active fallback. A blank header does not hide the authenticated tenant.
func (g *Guard) Resolve(_ context.Context, headerValue, authTenantID string) (Resolution, error) {
	var res Resolution
	switch {
	case strings.TrimSpace(headerValue) != "":
		res = Resolution{TenantID: strings.TrimSpace(headerValue), Source: SourceHeader}
	case strings.TrimSpace(authTenantID) != "":
		res = Resolution{TenantID: strings.TrimSpace(authTenantID), Source: SourceAuth}
	case g.FallbackActive():
		return Resolution{TenantID: g.fallback.TenantID, Source: SourceFallback}, nil
	default:
		return Resolution{}, ErrTenantRequired
	}
	if err := Validate(res.TenantID); err != nil {
		return Resolution{}, err
	}
	return res, nil
}

func (g *Guard) FallbackActive() bool {
	return g.fallback.Enabled && g.now().Before(g.fallback.ExpiresAt)
}

// Validate expects an already trimmed id.
func Validate(tenantID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	if _, ok := reservedTenantIDs[strings.ToLower(tenantID)]; ok {
		return ErrTenantReserved
	}
	if id, err := uuid.Parse(tenantID); err == nil && id == uuid.Nil {
		return ErrTenantReserved
	}
	if len(tenantID) > maxTenantIDLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrTenantInvalid, maxTenantIDLen)
	}
	for _, r := range tenantID {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", ErrTenantInvalid)
		}
	}
	return nil
}

type contextKey struct{}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKey{}, tenantID)
}

func FromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(contextKey{}).(string)
	return v, ok && v != ""
}
