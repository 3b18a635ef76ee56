package service

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindForbidden    ErrorKind = "FORBIDDEN"
	KindValidation   ErrorKind = "VALIDATION_ERROR"
)

// Sentinels for errors.Is; every *AuthError matches the one for its Kind.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation error")

	ErrTenantMismatch = errors.New("token tenant does not match request tenant")
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgAccountLocked      = "Account temporarily locked"
	msgAccountInactive    = "Account is not active"
	msgEmailUnverified    = "Please verify your email before logging in"
)

// AuthError is a rejection the caller may see. Message is safe to render;
// Err carries the underlying cause for logs and errors.Is.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrForbidden:
		return e.Kind == KindForbidden
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

func unauthorized(message string, cause error) *AuthError {
	return &AuthError{Kind: KindUnauthorized, Message: message, Err: cause}
}

func forbidden(message string) *AuthError {
	return &AuthError{Kind: KindForbidden, Message: message}
}

func errEmailRegistered() *AuthError {
	return validation("Email already registered", map[string]any{
		"email": "an account with this email already exists",
	})
}

func validation(message string, details map[string]any) *AuthError {
	return &AuthError{Kind: KindValidation, Message: message, Details: details}
}
