package service

import (
	"net/http"
	"time"

	"github.com/cardkeep/signal_layer/internal/httputil"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string          `json:"status"`
	Service      string          `json:"service"`
	Version      string          `json:"version"`
	Timestamp    string          `json:"timestamp"`
	Uptime       string          `json:"uptime"`
	Dependencies map[string]bool `json:"dependencies,omitempty"`
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Service    string         `json:"service"`
	Version    string         `json:"version"`
	Timestamp  string         `json:"timestamp"`
	Statistics map[string]any `json:"statistics,omitempty"`
}

// RegisterStandardRoutes mounts /health and /info.
func (b *BaseService) RegisterStandardRoutes() {
	b.router.HandleFunc("/health", b.handleHealth).Methods(http.MethodGet)
	b.router.HandleFunc("/info", b.handleInfo).Methods(http.MethodGet)
}

// handleHealth answers 503 when any dependency is unreachable.
func (b *BaseService) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, deps := b.Ping(r.Context())
	code := http.StatusOK
	if status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, HealthResponse{
		Status:       status,
		Service:      b.name,
		Version:      b.version,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Uptime:       b.Uptime().Round(time.Second).String(),
		Dependencies: deps,
	})
}

func (b *BaseService) handleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := InfoResponse{
		Service:   b.name,
		Version:   b.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if b.statsFn != nil {
		resp.Statistics = b.statsFn()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
