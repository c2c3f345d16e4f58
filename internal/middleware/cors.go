package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Trace-ID"
)

// CORSMiddleware answers browser preflights and tags allowed origins.
// Entries of the form "*.example.com" match any subdomain; "*" matches all.
type CORSMiddleware struct {
	exact    map[string]struct{}
	suffixes []string
	any      bool
}

// NewCORSMiddleware builds the allowlist from origins.
func NewCORSMiddleware(origins []string) *CORSMiddleware {
	m := &CORSMiddleware{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		switch {
		case o == "*":
			m.any = true
		case strings.HasPrefix(o, "*."):
			m.suffixes = append(m.suffixes, o[1:])
		default:
			m.exact[o] = struct{}{}
		}
	}
	return m
}

// Handler short-circuits OPTIONS with 204.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && m.allowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Expose-Headers", "X-Trace-ID")
			h.Set("Access-Control-Max-Age", "3600")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OriginAllowed reports whether a WebSocket upgrade from origin may proceed.
// Clients that send no Origin are not browsers and pass.
func (m *CORSMiddleware) OriginAllowed(origin string) bool {
	return origin == "" || m.allowed(origin)
}

func (m *CORSMiddleware) allowed(origin string) bool {
	if m.any {
		return true
	}
	if _, ok := m.exact[origin]; ok {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
