package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"claims": {RequestsPerMinute: 1, Burst: 1},
	}, false, nil)
	handler := limiter.Middleware("claims")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesRoutesAndClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"claims": {RequestsPerMinute: 1, Burst: 1},
		"admin":  {RequestsPerMinute: 1, Burst: 1},
	}, false, nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:1000"
	if !limiter.Allow("claims", req) {
		t.Fatalf("expected first claims request to pass")
	}
	if !limiter.Allow("admin", req) {
		t.Fatalf("expected admin route to use its own bucket")
	}
	other := httptest.NewRequest(http.MethodPost, "/", nil)
	other.RemoteAddr = "10.0.0.2:1000"
	if !limiter.Allow("claims", other) {
		t.Fatalf("expected a different client to use its own bucket")
	}
	if limiter.Allow("claims", req) {
		t.Fatalf("expected repeated request to be throttled")
	}
	if !limiter.Allow("unlimited", req) {
		t.Fatalf("routes without limits must always pass")
	}
}

func TestClientIDIgnoresForwardedUnlessTrusted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientID(req, false); got != "10.0.0.5" {
		t.Fatalf("expected remote address, got %q", got)
	}
	if got := ClientID(req, true); got != "203.0.113.9" {
		t.Fatalf("expected forwarded address, got %q", got)
	}
}

func TestAuthenticatorScopes(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "s3cret", Issuer: "usv"}, nil)
	handler := auth.Middleware("codes:write")(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/", nil))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	readOnly, err := IssueToken("s3cret", "usv", "", "ops", []string{"codes:read"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+readOnly)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing scope, got %d", res.Code)
	}

	writer, err := IssueToken("s3cret", "usv", "", "ops", []string{"codes:read", "codes:write"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+writer)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 with required scope, got %d", res.Code)
	}

	wrongIssuer, err := IssueToken("s3cret", "someone-else", "", "ops", []string{"codes:write"}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+wrongIssuer)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for issuer mismatch, got %d", res.Code)
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	res := httptest.NewRecorder()
	auth.Middleware("anything")(okHandler()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", res.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://ops.example"}})(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://ops.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example" {
		t.Fatalf("unexpected origin header %q", got)
	}
}
