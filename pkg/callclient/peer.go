package callclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// PeerTransport is a Transport over a pion PeerConnection using trickle ICE.
// Remote candidates that arrive before the remote description are held and
// applied once it is set.
type PeerTransport struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

// NewPeerTransport opens a peer connection against the given ICE servers with
// an audio transceiver, plus video for video calls.
func NewPeerTransport(servers []signaling.ICEServer, callType signaling.CallType) (*PeerTransport, error) {
	return newPeerTransport(webrtc.SettingEngine{}, servers, callType)
}

func newPeerTransport(se webrtc.SettingEngine, servers []signaling.ICEServer, callType signaling.CallType) (*PeerTransport, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: toPionServers(servers),
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if callType != signaling.CallAudio {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, kind := range kinds {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return &PeerTransport{pc: pc}, nil
}

// PeerFactory returns a TransportFactory that opens PeerTransports against
// servers.
func PeerFactory(servers []signaling.ICEServer) TransportFactory {
	return func(_ context.Context, callType signaling.CallType) (Transport, error) {
		return NewPeerTransport(servers, callType)
	}
}

// PeerConnection exposes the underlying connection for attaching tracks.
func (t *PeerTransport) PeerConnection() *webrtc.PeerConnection {
	return t.pc
}

func (t *PeerTransport) CreateOffer(ctx context.Context) (signaling.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return signaling.SessionDescription{}, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return signaling.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (t *PeerTransport) CreateAnswer(ctx context.Context, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return signaling.SessionDescription{}, err
	}
	if err := t.setRemote(webrtc.SDPTypeOffer, offer.SDP); err != nil {
		return signaling.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return signaling.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (t *PeerTransport) SetAnswer(answer signaling.SessionDescription) error {
	return t.setRemote(webrtc.SDPTypeAnswer, answer.SDP)
}

func (t *PeerTransport) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote %s: %w", typ, err)
	}

	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, c := range pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add held candidate: %w", err)
		}
	}
	return nil
}

func (t *PeerTransport) AddCandidate(c signaling.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}

	t.mu.Lock()
	if t.pc.RemoteDescription() == nil {
		t.pending = append(t.pending, init)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (t *PeerTransport) OnCandidate(fn func(signaling.Candidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		fn(signaling.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

func (t *PeerTransport) OnStateChange(fn func(TransportState)) {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if state, ok := transportState(s); ok {
			fn(state)
		}
	})
}

func (t *PeerTransport) Close() error {
	return t.pc.Close()
}

func transportState(s webrtc.PeerConnectionState) (TransportState, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return TransportConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return TransportConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return TransportDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return TransportFailed, true
	case webrtc.PeerConnectionStateClosed:
		return TransportClosed, true
	}
	return "", false
}

func toPionServers(servers []signaling.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}
