// Package testutil provides an in-process relay for client tests.
package testutil

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cardkeep/signal_layer/internal/app/storage/memory"
	"github.com/cardkeep/signal_layer/internal/identity"
	"github.com/cardkeep/signal_layer/internal/logging"
	"github.com/cardkeep/signal_layer/internal/middleware"
	"github.com/cardkeep/signal_layer/internal/profile"
	"github.com/cardkeep/signal_layer/services/media"
	"github.com/cardkeep/signal_layer/services/relay"
)

// Bearer tokens accepted by the test relay.
const (
	AliceToken = "tok-alice"
	BobToken   = "tok-bob"
)

// Media settings the test relay issues credentials with.
const (
	MediaAPIKey    = "APIkey123"
	MediaAPISecret = "s3cret"
	MediaURL       = "wss://media.cardkeep.test"
	STUNURL        = "stun:stun.cardkeep.test:3478"
)

// Options tweaks the test relay.
type Options struct {
	Profiles profile.Directory
	// ICE replaces the default STUN-only server list.
	ICE *media.ICEConfig
	// StreamInterval defaults to 20ms.
	StreamInterval time.Duration
}

// Relay is a running relay with media routes behind the auth middleware.
type Relay struct {
	*httptest.Server
	Service *relay.Service
	Store   *memory.Store
}

// NewRelay starts a relay on an httptest server, closed when t finishes.
func NewRelay(t testing.TB, opts Options) *Relay {
	t.Helper()
	logger := logging.Discard()

	interval := opts.StreamInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ice := media.ICEConfig{STUNURLs: []string{STUNURL}}
	if opts.ICE != nil {
		ice = *opts.ICE
	}

	store := memory.New()
	svc, err := relay.New(relay.Config{
		Store:          store,
		Profiles:       opts.Profiles,
		Logger:         logger,
		StreamInterval: interval,
	})
	if err != nil {
		t.Fatalf("create relay: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop() })

	mediaSvc, err := media.New(media.Config{
		Issuer: media.NewIssuer(media.IssuerConfig{
			APIKey:    MediaAPIKey,
			APISecret: MediaAPISecret,
			URL:       MediaURL,
		}),
		Announcer: svc,
		ICE:       ice,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("create media: %v", err)
	}
	mediaSvc.RegisterRoutes(svc.Router())

	auth := middleware.NewAuthMiddleware(identity.StaticResolver{
		AliceToken: {UserID: "alice"},
		BobToken:   {UserID: "bob"},
	}, logger, []string{"/health", "/info"}).AllowQueryToken(relay.StreamPath)

	srv := httptest.NewServer(auth.Handler(svc.Router()))
	t.Cleanup(srv.Close)
	return &Relay{Server: srv, Service: svc, Store: store}
}
