package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrTokenTypeMismatch = errors.New("token type mismatch")
)

type Claims struct {
	UserID    string `json:"userId"`
	TenantID  string `json:"tenantId"`
	RoleID    string `json:"roleId"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenPayload is the identity a token is minted for.
type TokenPayload struct {
	UserID   string
	TenantID string
	RoleID   string
}

type TokenServiceConfig struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now overrides the clock used for iat/exp and validation. Defaults to time.Now.
	Now func() time.Time
}

// TokenService signs and verifies HS256 tokens with a single shared secret.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenService(cfg TokenServiceConfig) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenService) GenerateAccessToken(p TokenPayload) (string, error) {
	return s.sign(p, TokenTypeAccess, s.accessTTL, "")
}

// GenerateRefreshToken always embeds a fresh jti so that two refresh tokens
// minted in the same second for the same user never collide.
func (s *TokenService) GenerateRefreshToken(p TokenPayload) (string, error) {
	return s.sign(p, TokenTypeRefresh, s.refreshTTL, uuid.NewString())
}

func (s *TokenService) VerifyAccessToken(raw string) (*Claims, error) {
	return s.verify(raw, TokenTypeAccess)
}

func (s *TokenService) VerifyRefreshToken(raw string) (*Claims, error) {
	return s.verify(raw, TokenTypeRefresh)
}

// DecodeToken parses claims without checking signature or expiry.
// Diagnostic use only; returns nil for malformed input.
func (s *TokenService) DecodeToken(raw string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}

func (s *TokenService) sign(p TokenPayload, tokenType string, ttl time.Duration, jti string) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:    p.UserID,
		TenantID:  p.TenantID,
		RoleID:    p.RoleID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	if s.audience != "" {
		claims.Audience = []string{s.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (s *TokenService) verify(raw, tokenType string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: expected %s, got %q", ErrTokenTypeMismatch, tokenType, claims.TokenType)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", ErrTokenInvalid)
	}
	return claims, nil
}
