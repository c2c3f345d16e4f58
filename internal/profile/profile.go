// Package profile looks up the display name and avatar shown on an
// incoming call.
package profile

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cardkeep/signal_layer/internal/httputil"
)

// ErrNotFound is returned when the user has no profile.
var ErrNotFound = stderrors.New("profile not found")

// Profile is the public subset of a user profile.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Directory resolves user ids to profiles.
type Directory interface {
	Lookup(ctx context.Context, userID string) (Profile, error)
}

// =============================================================================
// HTTP Directory
// =============================================================================

// HTTPDirectory queries the platform profile service and caches hits.
type HTTPDirectory struct {
	client *httputil.ServiceClient
	cache  *expirable.LRU[string, Profile]
}

// CacheConfig sizes the lookup cache.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// NewHTTPDirectory creates a directory calling GET {baseURL}/v1/profiles/{id}.
func NewHTTPDirectory(client *httputil.ServiceClient, cfg CacheConfig) *HTTPDirectory {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &HTTPDirectory{
		client: client,
		cache:  expirable.NewLRU[string, Profile](cfg.Size, nil, cfg.TTL),
	}
}

// Lookup returns the cached profile or fetches it.
func (d *HTTPDirectory) Lookup(ctx context.Context, userID string) (Profile, error) {
	if p, ok := d.cache.Get(userID); ok {
		return p, nil
	}

	resp, err := d.client.Get(ctx, "/v1/profiles/"+url.PathEscape(userID), nil)
	if err != nil {
		return Profile{}, fmt.Errorf("profile service: %w", err)
	}

	var p Profile
	if err := httputil.DecodeResponse(resp, &p); err != nil {
		var se *httputil.StatusError
		if stderrors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("profile service: %w", err)
	}
	if p.UserID == "" {
		p.UserID = userID
	}

	d.cache.Add(userID, p)
	return p, nil
}

// =============================================================================
// Static Directory
// =============================================================================

// Static serves profiles from a fixed map.
type Static map[string]Profile

// Lookup returns the mapped profile or ErrNotFound.
func (s Static) Lookup(_ context.Context, userID string) (Profile, error) {
	if p, ok := s[userID]; ok {
		return p, nil
	}
	return Profile{}, ErrNotFound
}
