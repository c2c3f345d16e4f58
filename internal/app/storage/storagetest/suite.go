// Package storagetest is a conformance suite every SignalStore must pass.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardkeep/signal_layer/internal/app/storage"
	"github.com/cardkeep/signal_layer/internal/domain/signal"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) storage.SignalStore

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.SignalStore, u users)
	}{
		{"OfferResendReplacesPrevious", testOfferResendReplaces},
		{"DedupScopedToSenderTargetType", testDedupScope},
		{"CandidatesAreNeverDeduplicated", testCandidatesAppend},
		{"PreviewConsumesOnlyInvites", testPreviewPartialMark},
		{"ActiveConsumesEverything", testActiveMarksAll},
		{"OldestFirst", testOrdering},
		{"ExpiredNeverDelivered", testExpiry},
		{"PurgeRemovesBothDirections", testPurge},
		{"EmptyPollIsEmptySlice", testEmptyPoll},
		{"MailboxesAreIsolated", testIsolation},
		{"ConcurrentActivePollersNeverDuplicate", testConcurrentActive},
		{"HandshakeScenario", testScenario},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t), newUsers())
		})
	}
}

// users are unique per subtest so backends shared between subtests never
// see each other's rows.
type users struct {
	A, B, C string
}

func newUsers() users {
	suffix := uuid.NewString()[:8]
	return users{A: "alice-" + suffix, B: "bob-" + suffix, C: "carol-" + suffix}
}

func cutoff() time.Time {
	return signal.Cutoff(time.Now())
}

func enqueue(t *testing.T, s storage.SignalStore, from, target string, typ signaling.Type, payload string) signal.Signal {
	t.Helper()
	sig := signal.Signal{From: from, Target: target, Type: typ}
	if payload != "" {
		sig.Payload = json.RawMessage(payload)
	}
	stored, err := s.Enqueue(context.Background(), sig)
	require.NoError(t, err)
	require.NotZero(t, stored.ID)
	require.False(t, stored.CreatedAt.IsZero())
	return stored
}

func poll(t *testing.T, s storage.SignalStore, target string, mode signaling.Mode) []signal.Signal {
	t.Helper()
	got, err := s.Poll(context.Background(), target, mode, cutoff())
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func types(sigs []signal.Signal) []signaling.Type {
	out := make([]signaling.Type, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, s.Type)
	}
	return out
}

func testOfferResendReplaces(t *testing.T, s storage.SignalStore, u users) {
	enqueue(t, s, u.A, u.B, signaling.TypeOffer, `{"sdp":"v1"}`)
	enqueue(t, s, u.A, u.B, signaling.TypeOffer, `{"sdp":"v2"}`)

	got := poll(t, s, u.B, signaling.ModeActive)
	require.Len(t, got, 1)
	assert.Equal(t, signaling.TypeOffer, got[0].Type)
	assert.JSONEq(t, `{"sdp":"v2"}`, string(got[0].Payload))

	enqueue(t, s, u.B, u.A, signaling.TypeAnswer, `{"sdp":"a1"}`)
	enqueue(t, s, u.B, u.A, signaling.TypeAnswer, `{"sdp":"a2"}`)
	got = poll(t, s, u.A, signaling.ModeActive)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"sdp":"a2"}`, string(got[0].Payload))
}

func testDedupScope(t *testing.T, s storage.SignalStore, u users) {
	enqueue(t, s, u.A, u.B, signaling.TypeOffer, `{"sdp":"from-a"}`)
	enqueue(t, s, u.C, u.B, signaling.TypeOffer, `{"sdp":"from-c"}`)
	enqueue(t, s, u.A, u.B, signaling.TypeAnswer, `{"sdp":"answer-a"}`)
	enqueue(t, s, u.A, u.C, signaling.TypeOffer, `{"sdp":"a-to-c"}`)

	got := poll(t, s, u.B, signaling.ModeActive)
	assert.Len(t, got, 3)
	assert.Len(t, poll(t, s, u.C, signaling.ModeActive), 1)
}

func testCandidatesAppend(t *testing.T, s storage.SignalStore, u users) {
	for i := 0; i < 3; i++ {
		enqueue(t, s, u.A, u.B, signaling.TypeICECandidate, fmt.Sprintf(`{"candidate":"c%d"}`, i))
	}
	enqueue(t, s, u.A, u.B, signaling.TypeIncomingCall, `{}`)
	enqueue(t, s, u.A, u.B, signaling.TypeIncomingCall, `{}`)

	got := poll(t, s, u.B, signaling.ModeActive)
	assert.Len(t, got, 5)
}

func testPreviewPartialMark(t *testing.T, s storage.SignalStore, u users) {
	enqueue(t, s, u.A, u.B, signaling.TypeIncomingCall, `{"call_type":"video"}`)
	enqueue(t, s, u.A, u.B, signaling.TypeOffer, `{"sdp":"v=0"}`)
	enqueue(t, s, u.A, u.B, signaling.TypeICECandidate, `{"candidate":"c0"}`)

	first := poll(t, s, u.B, signaling.ModePreview)
	assert.Equal(t, []signaling.Type{signaling.TypeIncomingCall, signaling.TypeOffer, signaling.TypeICECandidate}, types(first))

	second := poll(t, s, u.B, signaling.ModePreview)
	assert.Equal(t, []signaling.Type{signaling.TypeOffer, signaling.TypeICECandidate}, types(second))

	active := poll(t, s, u.B, signaling.ModeActive)
	assert.Equal(t, []signaling.Type{signaling.TypeOffer, signaling.TypeICECandidate}, types(active))
	assert.Equal(t, first[1].ID, active[0].ID)

	assert.Empty(t, poll(t, s, u.B, signaling.ModePreview))
}

func testActiveMarksAll(t *testing.T, s storage.SignalStore, u users) {
	enqueue(t, s, u.A, u.B, signaling.TypeIncomingCall, "")
	enqueue(t, s, u.A, u.B, signaling.TypeOffer, `{"sdp":"v=0"}`)
	enqueue(t, s, u.A, u.B, signaling.TypeCallEnded, "")

	assert.Len(t, poll(t, s, u.B, signaling.ModeActive), 3)
	assert.Empty(t, poll(t, s, u.B, signaling.ModeActive))
	assert.Empty(t, poll(t, s, u.B, signaling.ModePreview))
}

func testOrdering(t *testing.T, s storage.SignalStore, u users) {
	now := time.Now().UTC()
	ctx := context.Background()
	at := func(typ signaling.Type, age time.Duration) {
		_, err := s.Enqueue(ctx, signal.Signal{From: u.A, Target: u.B, Type: typ, CreatedAt: now.Add(-age)})
		require.NoError(t, err)
	}
	at(signaling.TypeICECandidate, 5*time.Second)
	at(signaling.TypeIncomingCall, 30*time.Second)
	at(signaling.TypeOffer, 20*time.Second)

	got := poll(t, s, u.B, signaling.ModeActive)
	assert.Equal(t, []signaling.Type{signaling.TypeIncomingCall, signaling.TypeOffer, signaling.TypeICECandidate}, types(got))
}

func testExpiry(t *testing.T, s storage.SignalStore, u users) {
	ctx := context.Background()
	old := time.Now().UTC().Add(-signal.TTL - time.Second)

	_, err := s.Enqueue(ctx, signal.Signal{From: u.A, Target: u.B, Type: signaling.TypeIncomingCall, CreatedAt: old})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, signal.Signal{From: u.A, Target: u.B, Type: signaling.TypeOffer, CreatedAt: old})
	require.NoError(t, err)

	assert.Empty(t, poll(t, s, u.B, signaling.ModePreview))
	assert.Empty(t, poll(t, s, u.B, signaling.ModeActive))

	fresh := enqueue(t, s, u.C, u.B, signaling.TypeOffer, `{"sdp":"fresh"}`)

	removed, err := s.Reap(ctx, cutoff())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(2))

	got := poll(t, s, u.B, signaling.ModeActive)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].ID)

	// Reap ignores processed: a consumed row goes once it is past the cutoff.
	consumedAt := time.Now().UTC().Add(-time.Minute)
	_, err = s.Enqueue(ctx, signal.Signal{From: u.B, Target: u.A, Type: signaling.TypeAnswer, CreatedAt: consumedAt})
	require.NoError(t, err)
	require.Len(t, poll(t, s, u.A, signaling.ModeActive), 1)

	removed, err = s.Reap(ctx, consumedAt.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = s.Reap(ctx, consumedAt.Add(10*time.Second))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func testPurge(t *testing.T, s storage.SignalStore, u users) {
	ctx := context.Background()
	enqueue(t, s, u.A, u.B, signaling.TypeOffer, `{"sdp":"x"}`)
	enqueue(t, s, u.B, u.A, signaling.TypeAnswer, `{"sdp":"y"}`)
	enqueue(t, s, u.A, u.C, signaling.TypeIncomingCall, "")
	enqueue(t, s, u.C, u.B, signaling.TypeIncomingCall, "")

	// A processed signal is purged too.
	enqueue(t, s, u.B, u.A, signaling.TypeICECandidate, `{"candidate":"c"}`)
	_ = poll(t, s, u.A, signaling.ModeActive)

	removed, err := s.Purge(ctx, u.A)
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)

	assert.Empty(t, poll(t, s, u.A, signaling.ModeActive))
	got := poll(t, s, u.B, signaling.ModeActive)
	require.Len(t, got, 1)
	assert.Equal(t, u.C, got[0].From)
	assert.Empty(t, poll(t, s, u.C, signaling.ModeActive))
}

func testEmptyPoll(t *testing.T, s storage.SignalStore, u users) {
	got, err := s.Poll(context.Background(), u.A, signaling.ModePreview, cutoff())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Len(t, got, 0)
	assert.NoError(t, s.Ping(context.Background()))
}

func testIsolation(t *testing.T, s storage.SignalStore, u users) {
	enqueue(t, s, u.A, u.B, signaling.TypeIncomingCall, "")
	assert.Empty(t, poll(t, s, u.C, signaling.ModeActive))
	assert.Empty(t, poll(t, s, u.A, signaling.ModeActive))
	assert.Len(t, poll(t, s, u.B, signaling.ModeActive), 1)
}

func testConcurrentActive(t *testing.T, s storage.SignalStore, u users) {
	const total = 20
	for i := 0; i < total; i++ {
		enqueue(t, s, u.A, u.B, signaling.TypeICECandidate, fmt.Sprintf(`{"candidate":"c%d"}`, i))
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				got, err := s.Poll(context.Background(), u.B, signaling.ModeActive, cutoff())
				if err != nil {
					t.Errorf("poll: %v", err)
					return
				}
				mu.Lock()
				for _, sig := range got {
					seen[sig.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "signal %d delivered %d times", id, n)
	}
}

func testScenario(t *testing.T, s storage.SignalStore, u users) {
	ctx := context.Background()
	a, b := u.A, u.B

	enqueue(t, s, a, b, signaling.TypeIncomingCall, `{"call_type":"video"}`)
	enqueue(t, s, a, b, signaling.TypeOffer, `{"sdp":"offer"}`)

	preview := poll(t, s, b, signaling.ModePreview)
	assert.Equal(t, []signaling.Type{signaling.TypeIncomingCall, signaling.TypeOffer}, types(preview))

	active := poll(t, s, b, signaling.ModeActive)
	assert.Equal(t, []signaling.Type{signaling.TypeOffer}, types(active))

	enqueue(t, s, b, a, signaling.TypeAnswer, `{"sdp":"answer"}`)
	got := poll(t, s, a, signaling.ModeActive)
	assert.Equal(t, []signaling.Type{signaling.TypeAnswer}, types(got))

	enqueue(t, s, a, b, signaling.TypeICECandidate, `{"candidate":"late"}`)
	_, err := s.Purge(ctx, b)
	require.NoError(t, err)

	assert.Empty(t, poll(t, s, a, signaling.ModeActive))
	assert.Empty(t, poll(t, s, b, signaling.ModeActive))
}
