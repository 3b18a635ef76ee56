package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Values of the error_class attribute on config.validation.events.
const (
	classNone           = "none"
	classLoad           = "load"
	classParse          = "parse"
	classServer         = "server"
	classDatabase       = "database"
	classJWT            = "jwt"
	classSession        = "session"
	classPassword       = "password"
	classLockout        = "lockout"
	classRateLimit      = "rate_limit"
	classTenantFallback = "tenant_fallback"
	classObservability  = "observability"
	classShutdown       = "shutdown"
)

// checkError is one failed config check, tagged with the class it is
// counted under.
type checkError struct {
	class string
	msg   string
	cause error
}

func (e *checkError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *checkError) Unwrap() error { return e.cause }

func invalid(class, msg string) error {
	return &checkError{class: class, msg: msg}
}

var (
	configMetricsOnce sync.Once
	configCounter     metric.Int64Counter
)

func recordConfigValidationEvent(ctx context.Context, profile, outcome, errorClass string) {
	configMetricsOnce.Do(func() {
		counter, err := otel.Meter("crm-auth").Int64Counter("config.validation.events")
		if err == nil {
			configCounter = counter
		}
	})
	if configCounter == nil {
		return
	}
	configCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass),
	))
}

func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	return v
}

// errorClasses returns each distinct class found in err, in check order.
// An error carrying no class reports "load".
func errorClasses(err error) []string {
	if err == nil {
		return []string{classNone}
	}
	var out []string
	seen := map[string]bool{}
	var walk func(error)
	walk = func(e error) {
		switch x := e.(type) {
		case *checkError:
			if !seen[x.class] {
				seen[x.class] = true
				out = append(out, x.class)
			}
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			if inner := x.Unwrap(); inner != nil {
				walk(inner)
			}
		}
	}
	walk(err)
	if len(out) == 0 {
		return []string{classLoad}
	}
	return out
}
