// Package service holds the lifecycle and health plumbing shared by the
// services mounted in the relay process.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/cardkeep/signal_layer/internal/logging"
)

const pingTimeout = 5 * time.Second

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Pinger is a dependency whose reachability decides service health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BaseConfig configures a BaseService.
type BaseConfig struct {
	Name    string
	Version string
	Logger  *logging.Logger
	// Router is shared when several services are served by one process.
	Router *mux.Router
	// Dependencies are pinged on every /health request.
	Dependencies map[string]Pinger
}

// BaseService owns a service's router, its background workers and the
// dependencies /health reports on.
type BaseService struct {
	name    string
	version string
	router  *mux.Router
	logger  *logging.Logger
	deps    map[string]Pinger
	started time.Time

	statsFn func() map[string]any
	workers []func(context.Context)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBase creates a BaseService. Nil dependencies are skipped.
func NewBase(cfg BaseConfig) *BaseService {
	router := cfg.Router
	if router == nil {
		router = mux.NewRouter()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	deps := make(map[string]Pinger, len(cfg.Dependencies))
	for name, dep := range cfg.Dependencies {
		if dep != nil {
			deps[name] = dep
		}
	}
	return &BaseService{
		name:    cfg.Name,
		version: cfg.Version,
		router:  router,
		logger:  logger,
		deps:    deps,
		stopCh:  make(chan struct{}),
	}
}

func (b *BaseService) Name() string            { return b.name }
func (b *BaseService) Version() string         { return b.version }
func (b *BaseService) Router() *mux.Router     { return b.router }
func (b *BaseService) Logger() *logging.Logger { return b.logger }

// WithStats sets the statistics reported by /info.
func (b *BaseService) WithStats(fn func() map[string]any) *BaseService {
	b.statsFn = fn
	return b
}

// AddWorker registers a goroutine launched by Start. It must return once ctx
// is cancelled or StopChan closes.
func (b *BaseService) AddWorker(fn func(context.Context)) *BaseService {
	b.workers = append(b.workers, fn)
	return b
}

// StopChan closes when Stop is called.
func (b *BaseService) StopChan() <-chan struct{} {
	return b.stopCh
}

// Start launches the registered workers.
func (b *BaseService) Start(ctx context.Context) error {
	if b.started.IsZero() {
		b.started = time.Now()
	}
	for _, fn := range b.workers {
		b.wg.Add(1)
		go func(run func(context.Context)) {
			defer b.wg.Done()
			run(ctx)
		}(fn)
	}
	b.logger.WithField("workers", len(b.workers)).Info("service started")
	return nil
}

// Stop closes StopChan and waits for workers. Safe to call more than once.
func (b *BaseService) Stop() error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	return nil
}

// Ping probes every dependency and returns the overall status with a
// per-dependency breakdown.
func (b *BaseService) Ping(ctx context.Context) (string, map[string]bool) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := StatusHealthy
	results := make(map[string]bool, len(b.deps))
	for name, dep := range b.deps {
		err := dep.Ping(ctx)
		results[name] = err == nil
		if err != nil {
			status = StatusUnhealthy
			b.logger.WithContext(ctx).WithError(err).WithField("dependency", name).Warn("dependency unreachable")
		}
	}
	return status, results
}

// Uptime is the time since Start, or zero before it.
func (b *BaseService) Uptime() time.Duration {
	if b.started.IsZero() {
		return 0
	}
	return time.Since(b.started)
}
