package callclient

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   State
	}{
		{"callee rings", []Event{EventInviteReceived}, StateRinging},
		{"caller dials", []Event{EventDialed}, StateDialing},
		{"callee accepts", []Event{EventInviteReceived, EventAccepted}, StateConnecting},
		{"caller answered", []Event{EventDialed, EventAnswered}, StateConnecting},
		{"media up", []Event{EventDialed, EventAnswered, EventTransportConnected}, StateConnected},
		{"remote end while ringing", []Event{EventInviteReceived, EventRemoteEnded}, StateEnded},
		{"hangup while dialing", []Event{EventDialed, EventHangup}, StateEnded},
		{"transport failure", []Event{EventDialed, EventAnswered, EventTransportFailed}, StateEnded},
		{"timeout while connecting", []Event{EventInviteReceived, EventAccepted, EventTimeout}, StateEnded},
		{"hangup from idle", []Event{EventHangup}, StateEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			for _, ev := range tt.events {
				_, err := m.Fire(ev)
				require.NoError(t, err, "event %s", ev)
			}
			assert.Equal(t, tt.want, m.State())
		})
	}
}

func TestMachine_InvalidTransitionKeepsState(t *testing.T) {
	tests := []struct {
		name  string
		setup []Event
		ev    Event
	}{
		{"connected without handshake", nil, EventTransportConnected},
		{"answer while ringing", []Event{EventInviteReceived}, EventAnswered},
		{"accept while dialing", []Event{EventDialed}, EventAccepted},
		{"ring twice", []Event{EventInviteReceived}, EventInviteReceived},
		{"anything after ended", []Event{EventHangup}, EventInviteReceived},
		{"end twice", []Event{EventHangup}, EventRemoteEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			for _, ev := range tt.setup {
				_, err := m.Fire(ev)
				require.NoError(t, err)
			}
			before := m.State()

			got, err := m.Fire(tt.ev)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, before, got)
			assert.Equal(t, before, m.State())
		})
	}
}

func TestMachine_Observers(t *testing.T) {
	m := NewMachine()
	var seen []Transition
	m.Observe(func(tr Transition) { seen = append(seen, tr) })

	_, _ = m.Fire(EventDialed)
	_, _ = m.Fire(EventAccepted) // invalid, not observed
	_, _ = m.Fire(EventHangup)

	require.Len(t, seen, 2)
	assert.Equal(t, Transition{From: StateIdle, To: StateDialing, Event: EventDialed}, seen[0])
	assert.Equal(t, Transition{From: StateDialing, To: StateEnded, Event: EventHangup}, seen[1])
}

func TestMachine_ObserverMayReadState(t *testing.T) {
	m := NewMachine()
	var observed State
	m.Observe(func(Transition) { observed = m.State() })

	_, err := m.Fire(EventInviteReceived)
	require.NoError(t, err)
	assert.Equal(t, StateRinging, observed)
}
