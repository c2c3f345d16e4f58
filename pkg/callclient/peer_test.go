package callclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// loopbackTransport gathers host candidates on loopback so two transports in
// one process can reach each other without ICE servers.
func loopbackTransport(t *testing.T) *PeerTransport {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})

	tr, err := newPeerTransport(se, nil, signaling.CallAudio)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

type stateRecorder struct {
	mu   sync.Mutex
	seen []TransportState
}

func recordStates(tr Transport) *stateRecorder {
	r := &stateRecorder{}
	tr.OnStateChange(func(s TransportState) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen = append(r.seen, s)
	})
	return r
}

func (r *stateRecorder) reached(want TransportState) func() bool {
	return func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, s := range r.seen {
			if s == want {
				return true
			}
		}
		return false
	}
}

func (t *PeerTransport) held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func TestPeerTransport_ConnectsWithCandidatesHeldUntilAnswer(t *testing.T) {
	caller := loopbackTransport(t)
	callee := loopbackTransport(t)
	callerStates := recordStates(caller)
	calleeStates := recordStates(callee)

	caller.OnCandidate(func(c signaling.Candidate) {
		assert.NoError(t, callee.AddCandidate(c))
	})

	// The callee's candidates are relayed to the caller before its answer is.
	var mu sync.Mutex
	var early []signaling.Candidate
	answered := false
	callee.OnCandidate(func(c signaling.Candidate) {
		mu.Lock()
		defer mu.Unlock()
		if !answered {
			early = append(early, c)
			return
		}
		assert.NoError(t, caller.AddCandidate(c))
	})

	ctx := context.Background()
	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)

	answer, err := callee.CreateAnswer(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(early) > 0
	}, 5*time.Second, 10*time.Millisecond, "callee gathered no candidates")

	mu.Lock()
	relayed := append([]signaling.Candidate(nil), early...)
	answered = true
	mu.Unlock()

	for _, c := range relayed {
		require.NoError(t, caller.AddCandidate(c))
	}
	assert.GreaterOrEqual(t, caller.held(), len(relayed))

	require.NoError(t, caller.SetAnswer(answer))
	assert.Zero(t, caller.held())

	require.Eventually(t, callerStates.reached(TransportConnected), 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, calleeStates.reached(TransportConnected), 10*time.Second, 20*time.Millisecond)

	require.NoError(t, caller.Close())
	assert.Eventually(t, callerStates.reached(TransportClosed), 5*time.Second, 20*time.Millisecond)
}

func TestPeerTransport_SetAnswerRejectsGarbage(t *testing.T) {
	caller := loopbackTransport(t)
	_, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)

	require.NoError(t, caller.AddCandidate(signaling.Candidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"}))
	assert.Equal(t, 1, caller.held())

	assert.Error(t, caller.SetAnswer(signaling.SessionDescription{Type: "answer", SDP: "not sdp"}))
}

func TestTransportState(t *testing.T) {
	tests := []struct {
		in     webrtc.PeerConnectionState
		want   TransportState
		mapped bool
	}{
		{webrtc.PeerConnectionStateNew, "", false},
		{webrtc.PeerConnectionStateConnecting, TransportConnecting, true},
		{webrtc.PeerConnectionStateConnected, TransportConnected, true},
		{webrtc.PeerConnectionStateDisconnected, TransportDisconnected, true},
		{webrtc.PeerConnectionStateFailed, TransportFailed, true},
		{webrtc.PeerConnectionStateClosed, TransportClosed, true},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			got, ok := transportState(tt.in)
			assert.Equal(t, tt.mapped, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateOffer_HonorsCanceledContext(t *testing.T) {
	tr := loopbackTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.CreateOffer(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
