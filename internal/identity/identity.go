// Package identity resolves the caller behind a bearer credential. Session
// validity is owned by the platform identity service; the relay only asks.
package identity

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cardkeep/signal_layer/internal/errors"
	"github.com/cardkeep/signal_layer/internal/httputil"
)

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

// Resolver maps a bearer token to an Identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// =============================================================================
// JWT Resolver
// =============================================================================

// Claims is the session token issued by the platform identity service.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates session JWTs locally. HS256 tokens are checked
// against the shared secret, RS256 tokens against the public key.
type JWTResolver struct {
	secret    []byte
	publicKey interface{}
	issuer    string
}

// JWTConfig configures a JWTResolver. At least one of Secret or PublicKey is required.
type JWTConfig struct {
	Secret    []byte
	PublicKey interface{}
	Issuer    string
}

// NewJWTResolver creates a JWTResolver.
func NewJWTResolver(cfg JWTConfig) (*JWTResolver, error) {
	if len(cfg.Secret) == 0 && cfg.PublicKey == nil {
		return nil, fmt.Errorf("identity: jwt resolver requires a secret or public key")
	}
	return &JWTResolver{secret: cfg.Secret, publicKey: cfg.PublicKey, issuer: cfg.Issuer}, nil
}

// Resolve validates token and returns its subject.
func (r *JWTResolver) Resolve(_ context.Context, token string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, r.keyFunc, opts...)
	if err != nil {
		return Identity{}, errors.InvalidToken(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if strings.TrimSpace(userID) == "" {
		return Identity{}, errors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}
	return Identity{UserID: userID, Role: claims.Role}, nil
}

func (r *JWTResolver) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(r.secret) == 0 {
			return nil, fmt.Errorf("hmac tokens not accepted")
		}
		return r.secret, nil
	case *jwt.SigningMethodRSA:
		if r.publicKey == nil {
			return nil, fmt.Errorf("rsa tokens not accepted")
		}
		return r.publicKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
}

// =============================================================================
// Session Service Resolver
// =============================================================================

// SessionResolver asks the identity service who owns a session token.
type SessionResolver struct {
	client *httputil.ServiceClient
	path   string
}

type sessionResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// NewSessionResolver creates a resolver calling GET {baseURL}/v1/session.
func NewSessionResolver(client *httputil.ServiceClient) *SessionResolver {
	return &SessionResolver{client: client, path: "/v1/session"}
}

// Resolve forwards token to the identity service.
func (r *SessionResolver) Resolve(ctx context.Context, token string) (Identity, error) {
	resp, err := r.client.Get(ctx, r.path, http.Header{"Authorization": {"Bearer " + token}})
	if err != nil {
		return Identity{}, fmt.Errorf("identity service: %w", err)
	}

	var out sessionResponse
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		var se *httputil.StatusError
		if stderrors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
			return Identity{}, errors.InvalidToken(err)
		}
		return Identity{}, fmt.Errorf("identity service: %w", err)
	}
	if strings.TrimSpace(out.UserID) == "" {
		return Identity{}, errors.InvalidToken(nil).WithDetails("reason", "session has no user")
	}
	return Identity{UserID: out.UserID, Role: out.Role}, nil
}

// =============================================================================
// Static Resolver
// =============================================================================

// StaticResolver maps fixed tokens to identities. Used by tests and local runs.
type StaticResolver map[string]Identity

// Resolve looks token up in the map.
func (s StaticResolver) Resolve(_ context.Context, token string) (Identity, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return Identity{}, errors.InvalidToken(nil)
}
