package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cardkeep/signal_layer/internal/httputil"
	"github.com/cardkeep/signal_layer/internal/identity"
	"github.com/cardkeep/signal_layer/internal/logging"
	"github.com/cardkeep/signal_layer/internal/metrics"
)

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (identity.Identity, error) {
	return identity.Identity{}, fmt.Errorf("dial tcp: connection refused")
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestCORSMiddleware(t *testing.T) {
	cors := NewCORSMiddleware([]string{"https://app.cardkeep.io", "*.preview.cardkeep.io"})
	handler := cors.Handler(http.HandlerFunc(okHandler))

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://app.cardkeep.io", true},
		{"https://pr-12.preview.cardkeep.io", true},
		{"https://evil.example.com", false},
		{"https://app.cardkeep.io.evil.com", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/signals", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin") == tt.origin
		if got != tt.allowed {
			t.Errorf("origin %s allowed = %v, want %v", tt.origin, got, tt.allowed)
		}
		if cors.OriginAllowed(tt.origin) != tt.allowed {
			t.Errorf("OriginAllowed(%s) = %v, want %v", tt.origin, !tt.allowed, tt.allowed)
		}
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := NewCORSMiddleware([]string{"*"}).Handler(http.HandlerFunc(okHandler))

	req := httptest.NewRequest("OPTIONS", "/signals", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Status code = %d, want 204", rec.Code)
	}
}

func TestRateLimiter_Throttles(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.Discard())
	handler := rl.Handler(http.HandlerFunc(okHandler))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/signals", nil)
		req = req.WithContext(logging.WithUserID(req.Context(), "alice"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst codes = %v, want 200s", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third code = %d, want 429", codes[2])
	}

	// A different caller has its own bucket.
	req := httptest.NewRequest("GET", "/signals", nil)
	req = req.WithContext(logging.WithUserID(req.Context(), "bob"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bob code = %d, want 200", rec.Code)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, logging.Discard())
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.getLimiter("alice")
	rl.getLimiter("bob")

	now = now.Add(11 * time.Minute)
	rl.getLimiter("bob")

	if removed := rl.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if _, ok := rl.limiters["bob"]; !ok {
		t.Error("active limiter was removed")
	}
}

func TestRequestLog_KeepsCallerTraceID(t *testing.T) {
	var seen string
	handler := RequestLog(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/signals", nil)
	req.Header.Set("X-Trace-ID", "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "abc-123" || rec.Header().Get("X-Trace-ID") != "abc-123" {
		t.Errorf("trace = %q header = %q", seen, rec.Header().Get("X-Trace-ID"))
	}
}

func TestRequestLog_ReplacesUnsafeTraceID(t *testing.T) {
	for _, bad := range []string{"", "a b", "x\r\nforged: 1", strings.Repeat("a", 129)} {
		handler := RequestLog(logging.Discard())(http.HandlerFunc(okHandler))

		req := httptest.NewRequest("GET", "/signals", nil)
		req.Header.Set("X-Trace-ID", bad)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get("X-Trace-ID")
		if got == "" || got == bad {
			t.Errorf("trace for %q = %q, want a fresh ID", bad, got)
		}
	}
}

func TestRequestLog_RecoversWithTraceID(t *testing.T) {
	handler := RequestLog(logging.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-ID", "trace-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want 500", rec.Code)
	}
	var body httputil.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "INTERNAL_ERROR" || body.TraceID != "trace-7" {
		t.Errorf("body = %+v", body)
	}
}

func TestRequestLog_PanicAfterWriteKeepsResponse(t *testing.T) {
	handler := RequestLog(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("Status code = %d, want 202", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := metrics.New(false)
	router := mux.NewRouter()
	router.Use(MetricsMiddleware("relay", m))
	router.HandleFunc("/signals", okHandler).Methods("GET")

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/signals?mode=preview", nil))

	count := testutil.CollectAndCount(m.Registry, "signal_layer_http_requests_total")
	if count != 1 {
		t.Errorf("series = %d, want 1", count)
	}
}
