package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/cardkeep/signal_layer/internal/errors"
	"github.com/cardkeep/signal_layer/internal/httputil"
	"github.com/cardkeep/signal_layer/internal/logging"
)

const (
	traceHeader     = "X-Trace-ID"
	maxTraceIDBytes = 128
)

// RequestLog is the outermost layer of the relay's chain. It tags the request
// with a trace ID, turns handler panics into 500s carrying that ID and writes
// one access log line with the final status.
func RequestLog(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(traceHeader)
			if !validTraceID(traceID) {
				traceID = logging.NewTraceID()
			}
			ctx := logging.WithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)
			w.Header().Set(traceHeader, traceID)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.WithContext(ctx).WithFields(map[string]interface{}{
						"panic": rec,
						"stack": string(debug.Stack()),
					}).Error("Handler panic")
					if !rw.written {
						httputil.WriteError(rw, r, errors.Internal("internal server error", nil))
					} else {
						rw.statusCode = http.StatusInternalServerError
					}
				}
				logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// validTraceID accepts caller-supplied IDs that are safe to echo and log.
func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDBytes {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}
