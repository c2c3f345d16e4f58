// Package push rings the callee's devices through the platform push gateway.
package push

import (
	"context"
	"sync"
	"time"

	"github.com/cardkeep/signal_layer/internal/httputil"
	"github.com/cardkeep/signal_layer/internal/logging"
)

// Notification is one push request.
type Notification struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Notifier delivers notifications. Notify must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// GatewayNotifier posts notifications to POST {baseURL}/v1/push in the
// background. Failures are logged and dropped.
type GatewayNotifier struct {
	client  *httputil.ServiceClient
	logger  *logging.Logger
	timeout time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup
}

// NewGatewayNotifier creates a notifier with at most maxInFlight concurrent posts.
func NewGatewayNotifier(client *httputil.ServiceClient, logger *logging.Logger, maxInFlight int) *GatewayNotifier {
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	return &GatewayNotifier{
		client:  client,
		logger:  logger,
		timeout: 5 * time.Second,
		sem:     make(chan struct{}, maxInFlight),
	}
}

// Notify schedules delivery. When maxInFlight posts are already pending the
// notification is dropped.
func (g *GatewayNotifier) Notify(ctx context.Context, n Notification) {
	select {
	case g.sem <- struct{}{}:
	default:
		g.logger.WithContext(ctx).WithField("user_id", n.UserID).Warn("push queue full, dropping notification")
		return
	}

	traceID := logging.GetTraceID(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() { <-g.sem }()

		sendCtx, cancel := context.WithTimeout(logging.WithTraceID(context.Background(), traceID), g.timeout)
		defer cancel()

		resp, err := g.client.Post(sendCtx, "/v1/push", n)
		if err == nil {
			err = httputil.DecodeResponse(resp, nil)
		}
		if err != nil {
			g.logger.WithContext(sendCtx).WithError(err).WithField("user_id", n.UserID).Warn("push delivery failed")
		}
	}()
}

// Wait blocks until every scheduled delivery has finished.
func (g *GatewayNotifier) Wait() {
	g.wg.Wait()
}
