package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/sandeepkv93/crm-auth-core/internal/domain"
	"github.com/sandeepkv93/crm-auth-core/internal/observability"
	"github.com/sandeepkv93/crm-auth-core/internal/repository"
	"github.com/sandeepkv93/crm-auth-core/internal/security"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute
	tokenTypeBearer         = "Bearer"
)

type LoginInput struct {
	Email     string
	Password  string
	TenantID  string
	IPAddress string
	UserAgent string
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	TenantID  string
	RoleID    string
	IPAddress string
	UserAgent string
}

type ChangePasswordInput struct {
	UserID          string
	TenantID        string
	CurrentPassword string
	NewPassword     string
}

type AuthResult struct {
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	TokenType    string             `json:"token_type"`
	ExpiresIn    int64              `json:"expires_in"`
	User         domain.UserSummary `json:"user"`
}

type RefreshResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type AuthConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	Now              func() time.Time
}

// AuthService runs the credential flows on top of the password, token and
// session components.
type AuthService struct {
	credentials repository.CredentialRepository
	passwords   *security.PasswordService
	tokens      *security.TokenService
	sessions    *SessionLedger
	audit       AuditLogger
	logger      *slog.Logger

	lockoutThreshold int
	lockoutDuration  time.Duration
	now              func() time.Time

	// dummyHash is compared against when the email is unknown, so a miss
	// costs the same bcrypt work as a wrong password.
	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(
	credentials repository.CredentialRepository,
	passwords *security.PasswordService,
	tokens *security.TokenService,
	sessions *SessionLedger,
	audit AuditLogger,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = DefaultLockoutThreshold
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultLockoutDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if audit == nil {
		audit = NoopAuditLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		credentials:      credentials,
		passwords:        passwords,
		tokens:           tokens,
		sessions:         sessions,
		audit:            audit,
		logger:           logger,
		lockoutThreshold: cfg.LockoutThreshold,
		lockoutDuration:  cfg.LockoutDuration,
		now:              cfg.Now,
	}
}

// Login authenticates email+password inside a tenant. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (result *AuthResult, err error) {
	ctx, span := observability.StartSpan(ctx, "auth.login", attribute.String("tenant.id", in.TenantID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login failed")
		}
		span.End()
	}()

	email := strings.ToLower(strings.TrimSpace(in.Email))
	cred, err := s.credentials.FindByEmailAndTenant(ctx, email, in.TenantID)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		s.verifyAgainstDummy(ctx, in.Password)
		s.auditFailedLogin(ctx, email, in, "user_not_found", 0)
		observability.RecordAuthLogin(ctx, "invalid_credentials")
		return nil, unauthorized(msgInvalidCredentials, nil)
	}
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}

	now := s.now().UTC()
	if cred.IsLocked(now) {
		s.auditFailedLogin(ctx, email, in, "account_locked", cred.FailedLoginAttempts)
		observability.RecordAuthLogin(ctx, "locked")
		return nil, forbidden(msgAccountLocked)
	}
	if cred.LockedUntil != nil {
		// The lockout window has passed; start a fresh counting window.
		if err := s.credentials.ClearLock(ctx, cred.ID); err != nil {
			observability.RecordAuthLogin(ctx, "error")
			return nil, err
		}
		cred.LockedUntil = nil
		cred.FailedLoginAttempts = 0
	}

	ok, err := s.passwords.Verify(in.Password, cred.PasswordHash)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, fmt.Errorf("verify credential %s: %w", cred.ID, err)
	}
	if !ok {
		return nil, s.recordFailedPassword(ctx, cred, email, in, now)
	}

	if !cred.IsActive || cred.DeletedAt != nil {
		s.auditFailedLogin(ctx, email, in, "account_inactive", cred.FailedLoginAttempts)
		observability.RecordAuthLogin(ctx, "inactive")
		return nil, forbidden(msgAccountInactive)
	}
	if !cred.IsVerified {
		s.auditFailedLogin(ctx, email, in, "email_unverified", cred.FailedLoginAttempts)
		observability.RecordAuthLogin(ctx, "unverified")
		return nil, forbidden(msgEmailUnverified)
	}

	if err := s.credentials.ResetFailedAttempts(ctx, cred.ID); err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	if err := s.credentials.UpdateLastLogin(ctx, cred.ID, in.IPAddress, now); err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	cred.FailedLoginAttempts = 0
	cred.LastLoginAt = &now
	cred.LastLoginIP = in.IPAddress

	result, err = s.issueSession(ctx, cred, domain.SessionMetadata{UserAgent: in.UserAgent, IPAddress: in.IPAddress})
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	s.rehashIfNeeded(ctx, cred, in.Password)
	s.auditCall(ctx, "login_success", func() error {
		return s.audit.LogSuccessfulLogin(ctx, cred.ID, cred.TenantID, in.IPAddress, in.UserAgent)
	})
	observability.RecordAuthLogin(ctx, "success")
	return result, nil
}

func (s *AuthService) verifyAgainstDummy(ctx context.Context, password string) {
	s.dummyOnce.Do(func() {
		plain, err := s.passwords.GenerateRandomPassword(security.DefaultGeneratedLength)
		if err == nil {
			s.dummyHash, err = s.passwords.Hash(plain)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "dummy password hash unavailable", "error", err)
		}
	})
	if s.dummyHash != "" {
		_, _ = s.passwords.Verify(password, s.dummyHash)
	}
}

func (s *AuthService) recordFailedPassword(ctx context.Context, cred *domain.Credential, email string, in LoginInput, now time.Time) error {
	attempts, err := s.credentials.IncrementFailedAttempts(ctx, cred.ID)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return err
	}
	if attempts >= s.lockoutThreshold {
		until := now.Add(s.lockoutDuration)
		if err := s.credentials.LockAccount(ctx, cred.ID, until); err != nil {
			observability.RecordAuthLogin(ctx, "error")
			return err
		}
		observability.RecordLockout(ctx)
		s.auditCall(ctx, "account_locked", func() error {
			return s.audit.LogAccountLocked(ctx, cred.ID, cred.TenantID, until, in.IPAddress)
		})
	}
	s.auditFailedLogin(ctx, email, in, "invalid_password", attempts)
	observability.RecordAuthLogin(ctx, "invalid_credentials")
	return unauthorized(msgInvalidCredentials, nil)
}

// Register creates an unverified credential and opens its first session.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.register", attribute.String("tenant.id", in.TenantID))
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if fields := validateRegistration(email, in); len(fields) > 0 {
		return nil, validation("Invalid registration request", fields)
	}
	if err := s.passwords.Validate(in.Password); err != nil {
		var policy *security.PolicyError
		if errors.As(err, &policy) {
			return nil, validation("Password does not meet requirements", map[string]any{
				"password": policy.Violations,
			})
		}
		return nil, err
	}

	exists, err := s.credentials.ExistsActiveByEmail(ctx, email, in.TenantID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errEmailRegistered()
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	cred := &domain.Credential{
		ID:           uuid.NewString(),
		TenantID:     in.TenantID,
		RoleID:       in.RoleID,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		IsActive:     true,
		IsVerified:   false,
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		// A concurrent registration won the unique index.
		if errors.Is(err, repository.ErrCredentialExists) {
			return nil, errEmailRegistered()
		}
		span.RecordError(err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "credential registered", "user_id", cred.ID, "tenant_id", cred.TenantID)
	return s.issueSession(ctx, cred, domain.SessionMetadata{UserAgent: in.UserAgent, IPAddress: in.IPAddress})
}

// RefreshAccessToken mints a new access token for a live refresh token. The
// refresh token is not rotated and stays valid until it expires or its
// session is revoked. A non-empty tenantID must match the token's tenant.
func (s *AuthService) RefreshAccessToken(ctx context.Context, tenantID, refreshToken string) (*RefreshResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.refresh", attribute.String("tenant.id", tenantID))
	defer span.End()

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "invalid_token")
		return nil, unauthorized("Invalid refresh token", err)
	}
	if tenantID != "" && claims.TenantID != tenantID {
		observability.RecordAuthRefresh(ctx, "tenant_mismatch")
		return nil, unauthorized("Invalid refresh token", ErrTenantMismatch)
	}
	exists, err := s.sessions.SessionExists(ctx, claims.UserID, refreshToken)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "error")
		return nil, err
	}
	if !exists {
		observability.RecordAuthRefresh(ctx, "revoked")
		return nil, unauthorized("Session has been revoked", nil)
	}

	cred, err := s.credentials.FindByIDAndTenant(ctx, claims.UserID, claims.TenantID)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		observability.RecordAuthRefresh(ctx, "user_not_found")
		return nil, unauthorized("User not found", nil)
	}
	if err != nil {
		observability.RecordAuthRefresh(ctx, "error")
		return nil, err
	}
	if !cred.IsActive || cred.DeletedAt != nil {
		observability.RecordAuthRefresh(ctx, "inactive")
		return nil, forbidden(msgAccountInactive)
	}

	access, err := s.tokens.GenerateAccessToken(payloadFor(cred))
	if err != nil {
		observability.RecordAuthRefresh(ctx, "error")
		return nil, err
	}
	observability.RecordAuthRefresh(ctx, "success")
	return &RefreshResult{
		AccessToken: access,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) error {
	if err := s.sessions.DeleteSession(ctx, userID, refreshToken); err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return err
	}
	s.auditCall(ctx, "logout", func() error { return s.audit.LogLogout(ctx, userID, false) })
	observability.RecordAuthLogout(ctx, "success")
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.DeleteAllUserSessions(ctx, userID)
	if err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return 0, err
	}
	s.auditCall(ctx, "logout_all", func() error { return s.audit.LogLogout(ctx, userID, true) })
	observability.RecordAuthLogout(ctx, "success_all")
	return n, nil
}

// ChangePassword replaces the password and revokes every session.
func (s *AuthService) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	cred, err := s.credentials.FindByIDAndTenant(ctx, in.UserID, in.TenantID)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return unauthorized("User not found", nil)
	}
	if err != nil {
		return err
	}
	ok, err := s.passwords.Verify(in.CurrentPassword, cred.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify credential %s: %w", cred.ID, err)
	}
	if !ok {
		return unauthorized("Current password is incorrect", nil)
	}
	if in.CurrentPassword == in.NewPassword {
		return validation("New password must differ from the current password", map[string]any{
			"new_password": "must differ from the current password",
		})
	}
	hash, err := s.passwords.Hash(in.NewPassword)
	if err != nil {
		var policy *security.PolicyError
		if errors.As(err, &policy) {
			return validation("Password does not meet requirements", map[string]any{
				"new_password": policy.Violations,
			})
		}
		return err
	}
	if err := s.credentials.UpdatePasswordHash(ctx, cred.ID, hash); err != nil {
		return err
	}
	if _, err := s.sessions.DeleteAllUserSessions(ctx, cred.ID); err != nil {
		return err
	}
	s.auditCall(ctx, "password_changed", func() error { return s.audit.LogPasswordChanged(ctx, cred.ID, cred.TenantID) })
	return nil
}

func (s *AuthService) ListSessions(ctx context.Context, userID, currentRefreshToken string) ([]SessionView, error) {
	return s.sessions.ListActiveSessions(ctx, userID, currentRefreshToken)
}

func (s *AuthService) issueSession(ctx context.Context, cred *domain.Credential, meta domain.SessionMetadata) (*AuthResult, error) {
	payload := payloadFor(cred)
	access, err := s.tokens.GenerateAccessToken(payload)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.GenerateRefreshToken(payload)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.CreateSession(ctx, cred.ID, cred.TenantID, refresh, meta); err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		User:         cred.Summary(),
	}, nil
}

func (s *AuthService) rehashIfNeeded(ctx context.Context, cred *domain.Credential, password string) {
	if !s.passwords.NeedsRehash(cred.PasswordHash) {
		return
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", cred.ID, "error", err)
		return
	}
	if err := s.credentials.UpdatePasswordHash(ctx, cred.ID, hash); err != nil {
		s.logger.WarnContext(ctx, "password rehash not stored", "user_id", cred.ID, "error", err)
	}
}

func (s *AuthService) auditFailedLogin(ctx context.Context, email string, in LoginInput, reason string, attempts int) {
	s.auditCall(ctx, "login_failure", func() error {
		return s.audit.LogFailedLogin(ctx, email, in.TenantID, reason, attempts, in.IPAddress, in.UserAgent)
	})
}

// auditCall logs audit failures and panics at Warn; neither reaches the caller.
func (s *AuthService) auditCall(ctx context.Context, event string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WarnContext(ctx, "audit logger panicked", "event", event, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", "event", event, "error", err)
	}
}

func payloadFor(cred *domain.Credential) security.TokenPayload {
	return security.TokenPayload{UserID: cred.ID, TenantID: cred.TenantID, RoleID: cred.RoleID}
}

func validateRegistration(email string, in RegisterInput) map[string]any {
	fields := map[string]any{}
	if email == "" {
		fields["email"] = "is required"
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields["email"] = "must be a valid email address"
	}
	if strings.TrimSpace(in.TenantID) == "" {
		fields["tenant_id"] = "is required"
	}
	if strings.TrimSpace(in.FirstName) == "" {
		fields["first_name"] = "is required"
	}
	if strings.TrimSpace(in.LastName) == "" {
		fields["last_name"] = "is required"
	}
	return fields
}
