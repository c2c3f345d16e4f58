package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cardkeep/signal_layer/internal/app/storage"
	"github.com/cardkeep/signal_layer/internal/config"
	"github.com/cardkeep/signal_layer/internal/httputil"
	"github.com/cardkeep/signal_layer/internal/identity"
	"github.com/cardkeep/signal_layer/internal/logging"
	"github.com/cardkeep/signal_layer/internal/metrics"
	"github.com/cardkeep/signal_layer/internal/middleware"
	"github.com/cardkeep/signal_layer/internal/profile"
	"github.com/cardkeep/signal_layer/internal/push"
	"github.com/cardkeep/signal_layer/services/media"
	"github.com/cardkeep/signal_layer/services/relay"
)

// publicPaths bypass authentication.
var publicPaths = []string{"/health", "/info", "/metrics"}

func newResolver(cfg *config.Relay) (identity.Resolver, error) {
	switch cfg.Identity.Mode {
	case config.IdentitySession:
		return identity.NewSessionResolver(httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL: cfg.Identity.URL,
			APIKey:  cfg.Identity.APIKey,
			Timeout: 5 * time.Second,
		})), nil
	case config.IdentityJWT:
		return identity.NewJWTResolver(identity.JWTConfig{
			Secret: []byte(cfg.Identity.JWTSecret),
			Issuer: cfg.Identity.JWTIssuer,
		})
	}
	return nil, fmt.Errorf("unknown identity mode %q", cfg.Identity.Mode)
}

func newProfiles(cfg *config.Relay, logger *logging.Logger) profile.Directory {
	if cfg.ProfileURL == "" {
		logger.Warn("PROFILE_URL not set; invites go out without caller name and avatar")
		return nil
	}
	return profile.NewHTTPDirectory(httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: cfg.ProfileURL,
		APIKey:  cfg.ProfileAPIKey,
		Timeout: 3 * time.Second,
	}), profile.CacheConfig{})
}

func newNotifier(cfg *config.Relay, logger *logging.Logger) push.Notifier {
	if cfg.PushURL == "" {
		logger.Warn("PUSH_URL not set; incoming calls ring only through polling")
		return push.Nop{}
	}
	return push.NewGatewayNotifier(httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: cfg.PushURL,
		APIKey:  cfg.PushAPIKey,
		Timeout: 5 * time.Second,
	}), logger, 0)
}

// deps are the collaborators built from configuration.
type deps struct {
	Store    storage.SignalStore
	Resolver identity.Resolver
	Profiles profile.Directory
	Notifier push.Notifier
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
}

// app is the assembled server.
type app struct {
	Relay   *relay.Service
	Handler http.Handler
	// stop ends the rate limiter cleanup loop.
	stop chan struct{}
}

func (a *app) Close() {
	close(a.stop)
}

// build wires relay and media on one router behind the middleware chain.
func build(cfg *config.Relay, d deps) (*app, error) {
	cors := middleware.NewCORSMiddleware(cfg.CORSOriginList())

	svc, err := relay.New(relay.Config{
		Store:          d.Store,
		Profiles:       d.Profiles,
		Notifier:       d.Notifier,
		Metrics:        d.Metrics,
		Logger:         d.Logger,
		StreamInterval: cfg.StreamInterval,
		ReaperSchedule: cfg.ReaperSchedule,
		CheckOrigin:    cors.OriginAllowed,
	})
	if err != nil {
		return nil, fmt.Errorf("create relay: %w", err)
	}

	mediaSvc, err := media.New(media.Config{
		Issuer: media.NewIssuer(media.IssuerConfig{
			APIKey:    cfg.Media.APIKey,
			APISecret: cfg.Media.APISecret,
			URL:       cfg.Media.URL,
			TTL:       cfg.Media.TokenTTL,
		}),
		Announcer: svc,
		ICE: media.ICEConfig{
			STUNURLs:   config.SplitAndTrimCSV(cfg.Media.STUNURLs),
			TURNURLs:   config.SplitAndTrimCSV(cfg.Media.TURNURLs),
			TURNSecret: cfg.Media.TURNSecret,
			TURNTTL:    cfg.Media.TURNTTL,
		},
		Metrics: d.Metrics,
		Logger:  d.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create media: %w", err)
	}

	router := svc.Router()
	mediaSvc.RegisterRoutes(router)
	router.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	router.Use(middleware.MetricsMiddleware(relay.ServiceName, d.Metrics))

	stop := make(chan struct{})
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, d.Logger)
	limiter.StartCleanup(time.Minute, stop)

	auth := middleware.NewAuthMiddleware(d.Resolver, d.Logger, publicPaths).AllowQueryToken(relay.StreamPath)

	var handler http.Handler = router
	handler = limiter.Handler(handler)
	handler = auth.Handler(handler)
	handler = cors.Handler(handler)
	handler = middleware.RequestLog(d.Logger)(handler)

	return &app{Relay: svc, Handler: handler, stop: stop}, nil
}
