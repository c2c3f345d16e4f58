// Package media bootstraps calls on the hosted media router: it issues room
// credentials and announces hosted calls through the signal relay.
package media

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cardkeep/signal_layer/internal/logging"
	"github.com/cardkeep/signal_layer/internal/metrics"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

const ServiceName = "media"

// Announcer delivers the incoming_call for a hosted call. The relay service
// implements it.
type Announcer interface {
	Send(ctx context.Context, from string, req signaling.SendRequest) error
}

// Config configures the media service.
type Config struct {
	Issuer    *Issuer
	Announcer Announcer
	ICE       ICEConfig
	Metrics   *metrics.Metrics // optional
	Logger    *logging.Logger
	Now       func() time.Time
}

// Service serves the hosted-media bootstrap routes.
type Service struct {
	issuer    *Issuer
	announcer Announcer
	ice       ICEConfig
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time
}

// New creates the media service.
func New(cfg Config) (*Service, error) {
	if cfg.Issuer == nil {
		return nil, fmt.Errorf("media: issuer is required")
	}
	if cfg.Announcer == nil {
		return nil, fmt.Errorf("media: announcer is required")
	}
	s := &Service{
		issuer:    cfg.Issuer,
		announcer: cfg.Announcer,
		ice:       cfg.ICE,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if s.metrics == nil {
		s.metrics = metrics.New(false)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if missing := s.issuer.Configured(); missing != "" {
		s.logger.WithField("setting", missing).Warn("hosted media credentials disabled until configured")
	}
	return s, nil
}

// RegisterRoutes mounts the media routes on router.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/media/token", s.handleToken).Methods(http.MethodPost)
	router.HandleFunc("/media/calls", s.handleStartCall).Methods(http.MethodPost)
	router.HandleFunc("/media/ice-servers", s.handleICEServers).Methods(http.MethodGet)
}
