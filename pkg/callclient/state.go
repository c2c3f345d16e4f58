// Package callclient is the client side of the call-signaling relay: the
// call lifecycle state machine, the per-attempt Call resource, the mailbox
// pollers and the HTTP/WebSocket client they use.
package callclient

import (
	"errors"
	"fmt"
	"sync"
)

// State is where a call attempt is in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateRinging    State = "ringing"
	StateDialing    State = "dialing"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool { return s == StateEnded }

// Event drives a transition.
type Event string

const (
	// EventInviteReceived: an incoming_call arrived (callee).
	EventInviteReceived Event = "invite_received"
	// EventDialed: incoming_call and offer were enqueued (caller).
	EventDialed Event = "dialed"
	// EventAccepted: the callee answered the held offer.
	EventAccepted Event = "accepted"
	// EventAnswered: the caller received the callee's answer.
	EventAnswered Event = "answered"
	// EventTransportConnected: the media transport reported connected.
	EventTransportConnected Event = "transport_connected"

	EventRemoteEnded     Event = "remote_ended"
	EventHangup          Event = "hangup"
	EventTransportFailed Event = "transport_failed"
	EventTimeout         Event = "timeout"
)

// Ends reports whether e moves any live call to ended.
func (e Event) Ends() bool {
	switch e {
	case EventRemoteEnded, EventHangup, EventTransportFailed, EventTimeout:
		return true
	}
	return false
}

// ErrInvalidTransition is returned when an event does not apply to the
// current state.
var ErrInvalidTransition = errors.New("callclient: invalid transition")

var transitions = map[State]map[Event]State{
	StateIdle: {
		EventInviteReceived: StateRinging,
		EventDialed:         StateDialing,
	},
	StateRinging: {
		EventAccepted: StateConnecting,
	},
	StateDialing: {
		EventAnswered: StateConnecting,
	},
	StateConnecting: {
		EventTransportConnected: StateConnected,
	},
}

// Transition describes one state change.
type Transition struct {
	From  State
	To    State
	Event Event
}

// Observer is called after every state change, outside the machine's lock.
type Observer func(Transition)

// Machine is the explicit call state. It is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     State
	observers []Observer
}

// NewMachine returns a machine in StateIdle.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Observe registers fn for future transitions.
func (m *Machine) Observe(fn Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Fire applies ev. On an invalid transition the state is unchanged and the
// returned error wraps ErrInvalidTransition.
func (m *Machine) Fire(ev Event) (State, error) {
	m.mu.Lock()
	from := m.state
	to, ok := next(from, ev)
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	m.state = to
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	tr := Transition{From: from, To: to, Event: ev}
	for _, fn := range observers {
		fn(tr)
	}
	return to, nil
}

func next(from State, ev Event) (State, bool) {
	if from.Terminal() {
		return from, false
	}
	if ev.Ends() {
		return StateEnded, true
	}
	to, ok := transitions[from][ev]
	return to, ok
}
