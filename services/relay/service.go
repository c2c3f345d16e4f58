// Package relay implements the signal relay: per-user mailboxes of call
// signaling messages read back by polling or over a WebSocket stream.
package relay

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/cardkeep/signal_layer/internal/app/storage"
	"github.com/cardkeep/signal_layer/internal/logging"
	"github.com/cardkeep/signal_layer/internal/metrics"
	"github.com/cardkeep/signal_layer/internal/profile"
	"github.com/cardkeep/signal_layer/internal/push"
	commonservice "github.com/cardkeep/signal_layer/services/common/service"
)

const (
	ServiceName = "relay"
	Version     = "1.0.0"

	defaultStreamInterval = 2 * time.Second
)

// Service implements the signal relay.
type Service struct {
	*commonservice.BaseService

	store    storage.SignalStore
	profiles profile.Directory
	notifier push.Notifier
	metrics  *metrics.Metrics
	logger   *logging.Logger
	now      func() time.Time

	hub            *Hub
	upgrader       websocket.Upgrader
	streamInterval time.Duration
	reaper         *cron.Cron
}

// Config configures the relay service.
type Config struct {
	Store    storage.SignalStore
	Profiles profile.Directory // optional; invites go out unenriched without it
	Notifier push.Notifier     // optional
	Metrics  *metrics.Metrics  // optional
	Logger   *logging.Logger
	Router   *mux.Router

	// StreamInterval is how often a stream session polls without a wakeup.
	StreamInterval time.Duration
	// ReaperSchedule is a cron spec for the periodic reaper. Empty disables it.
	ReaperSchedule string
	// CheckOrigin decides WebSocket origins. Nil accepts same-origin and
	// origin-less clients only.
	CheckOrigin func(origin string) bool

	Now func() time.Time
}

// New creates the relay service and registers its routes.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("relay: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(false)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = push.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.StreamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}

	base := commonservice.NewBase(commonservice.BaseConfig{
		Name:         ServiceName,
		Version:      Version,
		Logger:       logger,
		Router:       cfg.Router,
		Dependencies: map[string]commonservice.Pinger{"signal_store": cfg.Store},
	})

	s := &Service{
		BaseService:    base,
		store:          cfg.Store,
		profiles:       cfg.Profiles,
		notifier:       notifier,
		metrics:        m,
		logger:         logger,
		now:            now,
		hub:            NewHub(),
		streamInterval: interval,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if cfg.CheckOrigin != nil {
		check := cfg.CheckOrigin
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || check(origin)
		}
	}

	if cfg.ReaperSchedule != "" {
		if err := s.scheduleReaper(cfg.ReaperSchedule); err != nil {
			return nil, err
		}
	}

	base.WithStats(s.statistics)

	// Register standard routes (/health, /info) plus service-specific routes
	base.RegisterStandardRoutes()
	s.registerRoutes()

	return s, nil
}

// Hub returns the stream wakeup hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

func (s *Service) statistics() map[string]any {
	return map[string]any{
		"stream_sessions": s.hub.Sessions(),
		"reaper_enabled":  s.reaper != nil,
		"stream_interval": s.streamInterval.String(),
	}
}
