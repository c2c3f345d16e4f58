package callclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cardkeep/signal_layer/internal/logging"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// Role is which side of the call this peer is.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// End reasons carried in call_ended payloads.
const (
	ReasonHangup  = "hangup"
	ReasonFailed  = "failed"
	ReasonTimeout = "timeout"
)

// Signaler is the part of the relay a Call talks to. *Client implements it.
type Signaler interface {
	Send(ctx context.Context, req signaling.SendRequest) error
	End(ctx context.Context, req signaling.EndRequest) (int64, error)
}

// CallConfig is shared by every call a peer places or accepts.
type CallConfig struct {
	Signaler   Signaler
	Transports TransportFactory
	Logger     *logging.Logger
}

func (cfg CallConfig) validate() error {
	if cfg.Signaler == nil {
		return fmt.Errorf("callclient: signaler is required")
	}
	if cfg.Transports == nil {
		return fmt.Errorf("callclient: transport factory is required")
	}
	return nil
}

// Call is one call attempt. It owns its transport from dial or accept until
// the call ends, and is never reused.
type Call struct {
	id       string
	peer     string
	role     Role
	callType signaling.CallType

	machine  *Machine
	signaler Signaler
	factory  TransportFactory
	logger   *logging.Logger

	mu         sync.Mutex
	transport  Transport
	accepted   bool
	answered   bool
	linkUp     bool
	heldOffer  *signaling.SessionDescription
	candidates []signaling.Candidate

	endOnce sync.Once
	done    chan struct{}
}

func newCall(cfg CallConfig, id, peer string, role Role, callType signaling.CallType) *Call {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if callType == "" {
		callType = signaling.CallVideo
	}
	return &Call{
		id:       id,
		peer:     peer,
		role:     role,
		callType: callType,
		machine:  NewMachine(),
		signaler: cfg.Signaler,
		factory:  cfg.Transports,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Dial places a peer-to-peer call: it opens a transport, rings target with
// an incoming_call and sends the offer. The call is dialing on return.
func Dial(ctx context.Context, cfg CallConfig, target string, callType signaling.CallType) (*Call, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := newCall(cfg, uuid.NewString(), target, RoleCaller, callType)

	transport, err := c.openTransport(ctx)
	if err != nil {
		return nil, err
	}
	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		c.closeTransport()
		return nil, err
	}
	offer.CallID = c.id

	invite := signaling.IncomingCall{CallID: c.id, CallType: c.callType, Mode: signaling.ModeP2P}
	if err := c.send(ctx, signaling.TypeIncomingCall, invite); err != nil {
		c.closeTransport()
		return nil, err
	}
	if err := c.send(ctx, signaling.TypeOffer, offer); err != nil {
		c.closeTransport()
		return nil, err
	}
	if _, err := c.machine.Fire(EventDialed); err != nil {
		c.closeTransport()
		return nil, err
	}
	return c, nil
}

// Ring records an incoming call from msg, which must be an incoming_call
// signal. The call is ringing on return; nothing is opened until Accept.
func Ring(cfg CallConfig, msg signaling.Message) (*Call, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	invite, err := DecodeInvite(msg)
	if err != nil {
		return nil, err
	}
	c := newCall(cfg, invite.CallID, msg.From, RoleCallee, invite.CallType)
	if _, err := c.machine.Fire(EventInviteReceived); err != nil {
		return nil, err
	}
	return c, nil
}

// DecodeInvite reads the payload of an incoming_call signal.
func DecodeInvite(msg signaling.Message) (signaling.IncomingCall, error) {
	if msg.Type != signaling.TypeIncomingCall {
		return signaling.IncomingCall{}, fmt.Errorf("callclient: %s is not an invite", msg.Type)
	}
	var invite signaling.IncomingCall
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &invite); err != nil {
			return signaling.IncomingCall{}, fmt.Errorf("decode invite: %w", err)
		}
	}
	return invite, nil
}

func (c *Call) ID() string                   { return c.id }
func (c *Call) Peer() string                 { return c.peer }
func (c *Call) Role() Role                   { return c.role }
func (c *Call) CallType() signaling.CallType { return c.callType }
func (c *Call) State() State                 { return c.machine.State() }

// Observe registers fn for the call's state changes.
func (c *Call) Observe(fn Observer) { c.machine.Observe(fn) }

// Done is closed once the call has ended and its transport is closed.
func (c *Call) Done() <-chan struct{} { return c.done }

// Accept opens the callee's transport. The answer goes out as soon as the
// caller's offer is held, which may already be the case.
func (c *Call) Accept(ctx context.Context) error {
	if c.role != RoleCallee {
		return fmt.Errorf("%w: accept on %s side", ErrInvalidTransition, c.role)
	}
	if st := c.State(); st != StateRinging {
		return fmt.Errorf("%w: accept in %s", ErrInvalidTransition, st)
	}

	c.mu.Lock()
	if c.accepted {
		c.mu.Unlock()
		return nil
	}
	c.accepted = true
	c.mu.Unlock()

	if _, err := c.openTransport(ctx); err != nil {
		c.fail(ctx, err)
		return err
	}
	return c.answerIfReady(ctx)
}

// Handle applies one signal from the active poller. Signals from other
// peers or for other call ids are ignored.
func (c *Call) Handle(ctx context.Context, msg signaling.Message) error {
	if msg.From != c.peer || c.State().Terminal() {
		return nil
	}

	switch msg.Type {
	case signaling.TypeOffer:
		if c.role != RoleCallee {
			return nil
		}
		var offer signaling.SessionDescription
		if err := json.Unmarshal(msg.Data, &offer); err != nil {
			return fmt.Errorf("decode offer: %w", err)
		}
		if !c.ours(offer.CallID) {
			return nil
		}
		c.mu.Lock()
		c.heldOffer = &offer
		c.mu.Unlock()
		return c.answerIfReady(ctx)

	case signaling.TypeAnswer:
		if c.role != RoleCaller || c.State() != StateDialing {
			return nil
		}
		var answer signaling.SessionDescription
		if err := json.Unmarshal(msg.Data, &answer); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		if !c.ours(answer.CallID) {
			return nil
		}
		transport := c.currentTransport()
		if transport == nil {
			return nil
		}
		if err := transport.SetAnswer(answer); err != nil {
			c.fail(ctx, err)
			return err
		}
		return c.negotiated(EventAnswered)

	case signaling.TypeICECandidate:
		var cand signaling.Candidate
		if err := json.Unmarshal(msg.Data, &cand); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		if !c.ours(cand.CallID) {
			return nil
		}
		c.mu.Lock()
		transport := c.transport
		if transport == nil {
			c.candidates = append(c.candidates, cand)
		}
		c.mu.Unlock()
		if transport != nil {
			return transport.AddCandidate(cand)
		}
		return nil

	case signaling.TypeCallEnded:
		var ended signaling.CallEnded
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &ended)
		}
		if !c.ours(ended.CallID) {
			return nil
		}
		return c.end(ctx, EventRemoteEnded, "")
	}
	return nil
}

// Hangup ends the call locally and tells the peer. Later calls are no-ops.
func (c *Call) Hangup(ctx context.Context) error {
	return c.end(ctx, EventHangup, ReasonHangup)
}

// ours reports whether a payload call id belongs to this call. Payloads
// without one are accepted.
func (c *Call) ours(callID string) bool {
	return callID == "" || c.id == "" || callID == c.id
}

func (c *Call) answerIfReady(ctx context.Context) error {
	c.mu.Lock()
	if !c.accepted || c.heldOffer == nil || c.transport == nil || c.answered {
		c.mu.Unlock()
		return nil
	}
	c.answered = true
	offer := *c.heldOffer
	transport := c.transport
	c.mu.Unlock()

	answer, err := transport.CreateAnswer(ctx, offer)
	if err != nil {
		c.fail(ctx, err)
		return err
	}
	answer.CallID = c.id
	if err := c.send(ctx, signaling.TypeAnswer, answer); err != nil {
		c.fail(ctx, err)
		return err
	}
	return c.negotiated(EventAccepted)
}

// negotiated moves the call to connecting, and straight on to connected if
// the transport came up before the handshake finished.
func (c *Call) negotiated(ev Event) error {
	if _, err := c.machine.Fire(ev); err != nil {
		return err
	}
	c.mu.Lock()
	up := c.linkUp
	c.mu.Unlock()
	if up {
		_, _ = c.machine.Fire(EventTransportConnected)
	}
	return nil
}

func (c *Call) openTransport(ctx context.Context) (Transport, error) {
	transport, err := c.factory(ctx, c.callType)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}
	transport.OnCandidate(func(cand signaling.Candidate) {
		cand.CallID = c.id
		if err := c.send(context.Background(), signaling.TypeICECandidate, cand); err != nil {
			c.logger.WithError(err).WithField("call_id", c.id).Warn("failed to send ice candidate")
		}
	})
	transport.OnStateChange(c.onTransportState)

	c.mu.Lock()
	c.transport = transport
	held := c.candidates
	c.candidates = nil
	c.mu.Unlock()

	for _, cand := range held {
		if err := transport.AddCandidate(cand); err != nil {
			c.logger.WithError(err).WithField("call_id", c.id).Warn("failed to apply held candidate")
		}
	}
	return transport, nil
}

func (c *Call) onTransportState(state TransportState) {
	switch state {
	case TransportConnected:
		c.mu.Lock()
		c.linkUp = true
		c.mu.Unlock()
		if _, err := c.machine.Fire(EventTransportConnected); err != nil {
			c.logger.WithError(err).WithField("call_id", c.id).Debug("ignored transport state")
		}
	case TransportFailed:
		go c.fail(context.Background(), fmt.Errorf("transport failed"))
	}
}

func (c *Call) fail(ctx context.Context, cause error) {
	c.logger.WithError(cause).WithField("call_id", c.id).Warn("call failed")
	if err := c.end(ctx, EventTransportFailed, ReasonFailed); err != nil {
		c.logger.WithError(err).WithField("call_id", c.id).Warn("failed to notify peer")
	}
}

// timeout ends a call that never connected.
func (c *Call) timeout(ctx context.Context) error {
	return c.end(ctx, EventTimeout, ReasonTimeout)
}

// end moves the call to ended, closes the transport and purges the
// mailbox, exactly once. A non-empty reason also notifies the peer.
func (c *Call) end(ctx context.Context, ev Event, reason string) error {
	var err error
	c.endOnce.Do(func() {
		if _, fireErr := c.machine.Fire(ev); fireErr != nil {
			c.logger.WithError(fireErr).WithField("call_id", c.id).Debug("end on terminal call")
		}
		c.closeTransport()

		req := signaling.EndRequest{}
		if reason != "" {
			req = signaling.EndRequest{Target: c.peer, CallID: c.id, Reason: reason}
		}
		_, err = c.signaler.End(ctx, req)
		close(c.done)
	})
	return err
}

func (c *Call) closeTransport() {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()
	if transport == nil {
		return
	}
	if err := transport.Close(); err != nil {
		c.logger.WithError(err).WithField("call_id", c.id).Debug("transport close failed")
	}
}

func (c *Call) currentTransport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func (c *Call) send(ctx context.Context, typ signaling.Type, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := c.signaler.Send(ctx, signaling.SendRequest{Type: typ, Target: c.peer, Data: data}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}
