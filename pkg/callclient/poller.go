package callclient

import (
	"context"
	"time"

	"github.com/cardkeep/signal_layer/internal/logging"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

const (
	DefaultPollInterval = 2 * time.Second
	// DefaultIdleTimeout bounds how long an unconnected call waits without
	// hearing anything from the peer.
	DefaultIdleTimeout = 60 * time.Second
)

// PollSource reads the mailbox. *Client implements it.
type PollSource interface {
	Poll(ctx context.Context, mode signaling.Mode) ([]signaling.Message, error)
}

// Poller polls one mailbox in one mode on a fixed interval.
type Poller struct {
	source   PollSource
	mode     signaling.Mode
	interval time.Duration
	logger   *logging.Logger
}

// NewPoller creates a poller. A zero interval uses DefaultPollInterval.
func NewPoller(source PollSource, mode signaling.Mode, interval time.Duration, logger *logging.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Poller{source: source, mode: mode, interval: interval, logger: logger}
}

// Run polls immediately and then on every tick until ctx is done, passing
// each batch to handle. Poll errors are logged and retried on the next tick.
// Returning false from handle stops the poller.
func (p *Poller) Run(ctx context.Context, handle func(context.Context, []signaling.Message) bool) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		msgs, err := p.source.Poll(ctx, p.mode)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			p.logger.WithContext(ctx).WithError(err).WithField("mode", p.mode).Warn("poll failed")
		default:
			if !handle(ctx, msgs) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WatchInvites runs a preview poller and reports each incoming_call. Other
// signal types are left in the mailbox for the call's active poller.
func WatchInvites(ctx context.Context, source PollSource, interval time.Duration, logger *logging.Logger, onInvite func(signaling.Message)) error {
	p := NewPoller(source, signaling.ModePreview, interval, logger)
	return p.Run(ctx, func(_ context.Context, msgs []signaling.Message) bool {
		for _, msg := range msgs {
			if msg.Type == signaling.TypeIncomingCall {
				onInvite(msg)
			}
		}
		return true
	})
}

// Follow runs an active poller for the call until it ends or ctx is done.
// A call that is not yet connected and hears nothing for idleTimeout is
// ended with EventTimeout; a zero idleTimeout uses DefaultIdleTimeout.
func (c *Call) Follow(ctx context.Context, source PollSource, interval, idleTimeout time.Duration) error {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	lastHeard := time.Now()
	p := NewPoller(source, signaling.ModeActive, interval, c.logger)
	err := p.Run(ctx, func(ctx context.Context, msgs []signaling.Message) bool {
		for _, msg := range msgs {
			if msg.From == c.peer {
				lastHeard = time.Now()
			}
			if err := c.Handle(ctx, msg); err != nil {
				c.logger.WithContext(ctx).WithError(err).WithField("call_id", c.id).Warn("failed to apply signal")
			}
		}

		switch st := c.State(); {
		case st.Terminal():
			return false
		case st != StateConnected && time.Since(lastHeard) > idleTimeout:
			if err := c.timeout(ctx); err != nil {
				c.logger.WithContext(ctx).WithError(err).WithField("call_id", c.id).Warn("failed to notify peer of timeout")
			}
			return false
		}
		return true
	})

	select {
	case <-c.Done():
		return nil
	default:
		return err
	}
}
