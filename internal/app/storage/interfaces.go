// Package storage defines the persistence contract for signal mailboxes.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cardkeep/signal_layer/internal/domain/signal"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// ErrUnavailable wraps backend failures so callers can map them to a
// storage-unavailable response without knowing the backend.
var ErrUnavailable = errors.New("signal store unavailable")

// SignalStore persists per-recipient mailboxes of signals.
type SignalStore interface {
	// Enqueue stores sig and returns it with ID and CreatedAt set. For offer
	// and answer it first deletes the sender's unconsumed signal of the same
	// type to the same target. A zero CreatedAt means now.
	Enqueue(ctx context.Context, sig signal.Signal) (signal.Signal, error)

	// Poll returns target's unprocessed signals created after cutoff, oldest
	// first, marking them according to mode. It returns an empty slice, not
	// an error, when nothing is pending.
	Poll(ctx context.Context, target string, mode signaling.Mode, cutoff time.Time) ([]signal.Signal, error)

	// Purge deletes every signal user sent or received.
	Purge(ctx context.Context, user string) (int64, error)

	// Reap deletes every signal created at or before cutoff.
	Reap(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}
