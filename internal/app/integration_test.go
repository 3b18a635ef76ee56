package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/sandeepkv93/crm-auth-core/internal/config"
	"github.com/sandeepkv93/crm-auth-core/internal/database"
	"github.com/sandeepkv93/crm-auth-core/internal/domain"
	"github.com/sandeepkv93/crm-auth-core/internal/tenant"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

type sessionView struct {
	ID        uint   `json:"id"`
	IsCurrent bool   `json:"is_current"`
	UserAgent string `json:"user_agent"`
	IP        string `json:"ip"`
}

func newAuthTestServer(t *testing.T) (string, *config.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		Env:                    "test",
		HTTPAddr:               "127.0.0.1:0",
		DatabaseURL:            "sqlite://" + filepath.Join(t.TempDir(), "crm.db"),
		RedisAddr:              mr.Addr(),
		JWTSecret:              "abcdefghijklmnopqrstuvwxyz123456",
		JWTIssuer:              "crm-auth",
		JWTAudience:            "crm-api",
		JWTAccessTTL:           15 * time.Minute,
		JWTRefreshTTL:          24 * time.Hour,
		SessionCacheTTL:        time.Hour,
		SessionCachePrefix:     "session",
		SessionCleanupInterval: time.Hour,
		BcryptCost:             4,
		LockoutThreshold:       5,
		LockoutDuration:        15 * time.Minute,
		AuthRateLimitRPM:       100,
		LogLevel:               "error",
		ShutdownTimeout:        time.Second,
	}

	db, err := database.Open(cfg, discardLogger())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_ = database.Close(db)

	a, cleanup, err := Initialize(context.Background(), cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(func() {
		srv.Close()
		_ = a.Observability.Shutdown(context.Background())
		cleanup()
	})
	return srv.URL, cfg
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tenant.HeaderTenantID, "acme")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, env
}

func markVerified(t *testing.T, cfg *config.Config, email string) {
	t.Helper()
	db, err := database.Open(cfg, discardLogger())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = database.Close(db) }()
	if err := db.Model(&domain.Credential{}).Where("email = ?", email).Update("is_verified", true).Error; err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSessionManagementListAndLogoutEverywhere(t *testing.T) {
	baseURL, cfg := newAuthTestServer(t)

	register := map[string]string{
		"email":      "session-mgmt@example.com",
		"password":   "Valid#Pass1234",
		"first_name": "Session",
		"last_name":  "Manager",
	}
	resp, env := doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/register", register, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed: status=%d env=%+v", resp.StatusCode, env)
	}
	var first tokenPair
	if err := json.Unmarshal(env.Data, &first); err != nil {
		t.Fatalf("decode register: %v", err)
	}

	login := map[string]string{"email": register["email"], "password": register["password"]}
	resp, env = doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/login", login, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unverified login: expected 403, got %d", resp.StatusCode)
	}

	markVerified(t, cfg, register["email"])
	resp, env = doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/login", login, map[string]string{"User-Agent": "Mozilla/5.0 (iPhone)"})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d", resp.StatusCode)
	}
	var second tokenPair
	if err := json.Unmarshal(env.Data, &second); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	authHeaders := map[string]string{
		"Authorization":   "Bearer " + second.AccessToken,
		"X-Refresh-Token": second.RefreshToken,
	}
	resp, env = doJSON(t, http.MethodGet, baseURL+"/api/v1/me/sessions", nil, authHeaders)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list sessions failed: status=%d", resp.StatusCode)
	}
	var listed struct {
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.Unmarshal(env.Data, &listed); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(listed.Sessions) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(listed.Sessions))
	}
	current := 0
	for _, s := range listed.Sessions {
		if s.IsCurrent {
			current++
		}
	}
	if current != 1 {
		t.Fatalf("expected exactly one current session, got %d", current)
	}

	resp, _ = doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh before revoke: expected 200, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/logout-all", nil, authHeaders)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout-all failed: status=%d", resp.StatusCode)
	}
	for _, rt := range []string{first.RefreshToken, second.RefreshToken} {
		resp, env = doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/refresh", map[string]string{"refresh_token": rt}, nil)
		if resp.StatusCode != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
			t.Fatalf("refresh after logout-all: expected 401, got %d", resp.StatusCode)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	baseURL, _ := newAuthTestServer(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(baseURL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}
