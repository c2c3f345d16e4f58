// Package middleware provides HTTP middleware for the relay services
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cardkeep/signal_layer/internal/errors"
	"github.com/cardkeep/signal_layer/internal/httputil"
	"github.com/cardkeep/signal_layer/internal/identity"
	"github.com/cardkeep/signal_layer/internal/logging"
)

// AuthMiddleware resolves the caller identity before any handler runs.
type AuthMiddleware struct {
	resolver       identity.Resolver
	logger         *logging.Logger
	skipPaths      map[string]bool
	queryTokenPath map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(resolver identity.Resolver, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		resolver:       resolver,
		logger:         logger,
		skipPaths:      skip,
		queryTokenPath: make(map[string]bool),
	}
}

// AllowQueryToken lets path carry the bearer token in the access_token query
// parameter. Browsers cannot set headers on WebSocket upgrades.
func (m *AuthMiddleware) AllowQueryToken(paths ...string) *AuthMiddleware {
	for _, p := range paths {
		m.queryTokenPath[p] = true
	}
	return m
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := m.extractToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		id, err := m.resolver.Resolve(r.Context(), token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Identity resolution failed")
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), id.UserID)
		if id.Role != "" {
			ctx = context.WithValue(ctx, logging.RoleKey, id.Role)
		}

		m.logger.WithContext(ctx).Debug("Authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if m.queryTokenPath[r.URL.Path] {
			if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
				return token, nil
			}
		}
		return "", errors.Unauthorized("Missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.Unauthorized("Invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// respondError writes typed resolver errors as they are. Anything untyped
// means the identity service failed, which is a 503 and not a logout.
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.IdentityUnavailable(err)
	}

	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	})
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}
