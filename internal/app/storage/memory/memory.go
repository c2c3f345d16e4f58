package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cardkeep/signal_layer/internal/app/storage"
	"github.com/cardkeep/signal_layer/internal/domain/signal"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// Store is an in-memory SignalStore. It is safe for concurrent use and is
// primarily intended for tests and single-instance local development.
type Store struct {
	mu      sync.Mutex
	nextID  int64
	signals map[int64]signal.Signal
	now     func() time.Time
}

var _ storage.SignalStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:  1,
		signals: make(map[int64]signal.Signal),
		now:     time.Now,
	}
}

// WithClock overrides the clock used to stamp CreatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *Store) Enqueue(_ context.Context, sig signal.Signal) (signal.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sig.Type.Deduplicated() {
		for id, existing := range s.signals {
			if !existing.Processed && existing.From == sig.From && existing.Target == sig.Target && existing.Type == sig.Type {
				delete(s.signals, id)
			}
		}
	}

	sig.ID = s.nextID
	s.nextID++
	sig.Processed = false
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = s.now().UTC()
	}
	sig.Payload = cloneRaw(sig.Payload)

	s.signals[sig.ID] = sig
	return cloneSignal(sig), nil
}

func (s *Store) Poll(_ context.Context, target string, mode signaling.Mode, cutoff time.Time) ([]signal.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]signal.Signal, 0)
	for id, sig := range s.signals {
		if sig.Target != target || sig.Processed || !sig.CreatedAt.After(cutoff) {
			continue
		}
		result = append(result, cloneSignal(sig))
		if mode.MarksProcessed(sig.Type) {
			sig.Processed = true
			s.signals[id] = sig
		}
	}

	sort.Slice(result, func(i, j int) bool { return signal.Less(result[i], result[j]) })
	return result, nil
}

func (s *Store) Purge(_ context.Context, user string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, sig := range s.signals {
		if sig.From == user || sig.Target == user {
			delete(s.signals, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Reap(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, sig := range s.signals {
		if !sig.CreatedAt.After(cutoff) {
			delete(s.signals, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored signals, processed or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signals)
}

func cloneSignal(sig signal.Signal) signal.Signal {
	sig.Payload = cloneRaw(sig.Payload)
	return sig
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
