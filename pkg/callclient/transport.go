package callclient

import (
	"context"

	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// TransportState is the media transport's connection state as far as the
// call lifecycle cares.
type TransportState string

const (
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Transport is the peer-to-peer media session a Call drives. Descriptions
// and candidates travel through the relay; the transport never talks to it.
type Transport interface {
	CreateOffer(ctx context.Context) (signaling.SessionDescription, error)
	CreateAnswer(ctx context.Context, offer signaling.SessionDescription) (signaling.SessionDescription, error)
	SetAnswer(answer signaling.SessionDescription) error
	AddCandidate(c signaling.Candidate) error
	OnCandidate(fn func(signaling.Candidate))
	OnStateChange(fn func(TransportState))
	Close() error
}

// TransportFactory opens a fresh transport for one call attempt.
type TransportFactory func(ctx context.Context, callType signaling.CallType) (Transport, error)
