package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cardkeep/signal_layer/internal/identity"
	"github.com/cardkeep/signal_layer/internal/logging"
)

var testSecret = []byte("test-session-secret")

func generateTestToken(t *testing.T, userID string, expired bool) string {
	claims := &identity.Claims{
		UserID: userID,
		Role:   "member",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func newTestAuth(t *testing.T, skipPaths []string) *AuthMiddleware {
	t.Helper()
	resolver, err := identity.NewJWTResolver(identity.JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("NewJWTResolver() error = %v", err)
	}
	return NewAuthMiddleware(resolver, logging.Discard(), skipPaths)
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Seen-User", GetUserID(r.Context()))
	w.Header().Set("X-Seen-Role", GetUserRole(r.Context()))
	w.WriteHeader(http.StatusOK)
}

func TestNewAuthMiddleware(t *testing.T) {
	middleware := newTestAuth(t, []string{"/health", "/metrics"})

	if len(middleware.skipPaths) != 2 {
		t.Errorf("skipPaths length = %d, want 2", len(middleware.skipPaths))
	}
	if !middleware.skipPaths["/health"] {
		t.Error("skipPaths does not contain /health")
	}
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	handler := newTestAuth(t, []string{"/health"}).Handler(http.HandlerFunc(echoUser))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_MissingAuthHeader(t *testing.T) {
	called := false
	handler := newTestAuth(t, nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "/signals", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if called {
		t.Error("handler ran for an unauthenticated request")
	}

	var body map[string]map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"]["code"] != "UNAUTHORIZED" {
		t.Errorf("error code = %v, want UNAUTHORIZED", body["error"]["code"])
	}
}

func TestAuthMiddleware_Handler_InvalidAuthHeaderFormat(t *testing.T) {
	handler := newTestAuth(t, nil).Handler(http.HandlerFunc(echoUser))

	for _, header := range []string{"Basic abc", "Bearer", "Bearer   ", "token"} {
		req := httptest.NewRequest("GET", "/signals", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%q: Status code = %d, want 401", header, rec.Code)
		}
	}
}

func TestAuthMiddleware_Handler_ValidToken(t *testing.T) {
	handler := newTestAuth(t, nil).Handler(http.HandlerFunc(echoUser))

	req := httptest.NewRequest("GET", "/signals", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, "alice", false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Seen-User"); got != "alice" {
		t.Errorf("user = %q, want alice", got)
	}
	if got := rec.Header().Get("X-Seen-Role"); got != "member" {
		t.Errorf("role = %q, want member", got)
	}
}

func TestAuthMiddleware_Handler_ExpiredToken(t *testing.T) {
	handler := newTestAuth(t, nil).Handler(http.HandlerFunc(echoUser))

	req := httptest.NewRequest("GET", "/signals", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, "alice", true))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	auth := newTestAuth(t, nil).AllowQueryToken("/signals/stream")
	handler := auth.Handler(http.HandlerFunc(echoUser))
	token := generateTestToken(t, "bob", false)

	req := httptest.NewRequest("GET", "/signals/stream?access_token="+token, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Seen-User") != "bob" {
		t.Errorf("stream path: status = %d user = %q", rec.Code, rec.Header().Get("X-Seen-User"))
	}

	req = httptest.NewRequest("GET", "/signals?access_token="+token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("non-stream path: Status code = %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware_UnreachableResolverIsUnavailable(t *testing.T) {
	called := false
	handler := NewAuthMiddleware(failingResolver{}, logging.Discard(), nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "/signals", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if called {
		t.Error("handler ran without a resolved identity")
	}

	var body map[string]map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"]["code"] != "IDENTITY_UNAVAILABLE" {
		t.Errorf("error code = %v, want IDENTITY_UNAVAILABLE", body["error"]["code"])
	}
}

func TestAuthMiddleware_RejectedSessionStaysUnauthorized(t *testing.T) {
	resolver := identity.StaticResolver{"good": {UserID: "alice"}}
	handler := NewAuthMiddleware(resolver, logging.Discard(), nil).Handler(http.HandlerFunc(echoUser))

	req := httptest.NewRequest("GET", "/signals", nil)
	req.Header.Set("Authorization", "Bearer revoked")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
