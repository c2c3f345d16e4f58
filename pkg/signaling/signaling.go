// Package signaling defines the wire types shared by the relay and its clients.
package signaling

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Type is the kind of a signal.
type Type string

const (
	TypeIncomingCall Type = "incoming_call"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice_candidate"
	TypeCallEnded    Type = "call_ended"
)

// Valid reports whether t is a known signal type.
func (t Type) Valid() bool {
	switch t {
	case TypeIncomingCall, TypeOffer, TypeAnswer, TypeICECandidate, TypeCallEnded:
		return true
	}
	return false
}

// Deduplicated reports whether a resend of t replaces the sender's previous
// unconsumed signal of the same type instead of adding to the mailbox.
func (t Type) Deduplicated() bool {
	return t == TypeOffer || t == TypeAnswer
}

// Mode selects how a poll marks what it returns.
type Mode string

const (
	// ModePreview marks only incoming_call signals processed and leaves the
	// rest for the active consumer.
	ModePreview Mode = "preview"
	// ModeActive marks everything it returns processed.
	ModeActive Mode = "active"
)

// ParseMode parses a mode query value. Empty means active.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeActive:
		return ModeActive, nil
	case ModePreview:
		return ModePreview, nil
	}
	return "", fmt.Errorf("unknown mode %q", raw)
}

// MarksProcessed reports whether a poll in mode m consumes a signal of type t.
func (m Mode) MarksProcessed(t Type) bool {
	return m == ModeActive || t == TypeIncomingCall
}

// Message is one delivered signal.
type Message struct {
	Type Type            `json:"type"`
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

// PollResponse is returned by GET /signals and pushed on the stream.
type PollResponse struct {
	Signals []Message `json:"signals"`
}

// SendRequest is the body of POST /signals.
type SendRequest struct {
	Type   Type            `json:"type"`
	Target string          `json:"target"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SendResponse acknowledges POST /signals.
type SendResponse struct {
	Status string `json:"status"`
}

// EndRequest is the body of POST /signals/end. CallID and Reason are copied
// into the call_ended signal sent to Target.
type EndRequest struct {
	Target string `json:"target,omitempty"`
	CallID string `json:"call_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// EndResponse reports how many signals a purge removed.
type EndResponse struct {
	Status string `json:"status"`
	Purged int64  `json:"purged"`
}

// =============================================================================
// Payloads
// =============================================================================

// CallType is audio or video.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// Call establishment paths carried in incoming_call payloads.
const (
	ModeP2P    = "p2p"
	ModeHosted = "hosted"
)

// IncomingCall is the payload of an incoming_call signal. CallerName and
// CallerAvatar are filled in by the relay.
type IncomingCall struct {
	CallID       string   `json:"call_id,omitempty"`
	CallType     CallType `json:"call_type,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	Room         string   `json:"room,omitempty"`
	CallerName   string   `json:"caller_name,omitempty"`
	CallerAvatar string   `json:"caller_avatar,omitempty"`
}

// SessionDescription is the payload of offer and answer signals.
type SessionDescription struct {
	CallID string `json:"call_id,omitempty"`
	Type   string `json:"type"`
	SDP    string `json:"sdp"`
}

// Candidate is the payload of ice_candidate signals.
type Candidate struct {
	CallID        string  `json:"call_id,omitempty"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// CallEnded is the payload of call_ended signals.
type CallEnded struct {
	CallID string `json:"call_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// Hosted media
// =============================================================================

// RoomName returns the hosted-media room shared by a and b. Both peers
// compute the same name regardless of who calls whom. The lower id is
// length-prefixed so ids containing '_' cannot produce the same room.
func RoomName(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return fmt.Sprintf("call_%d_%s_%s", len(pair[0]), pair[0], pair[1])
}

// TokenRequest is the body of POST /media/token.
type TokenRequest struct {
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
}

// TokenResponse carries a hosted-media credential.
type TokenResponse struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	Room     string `json:"room"`
	Identity string `json:"identity"`
}

// HostedCallResponse is the caller's credential plus the announced call id.
type HostedCallResponse struct {
	TokenResponse
	CallID   string   `json:"call_id"`
	CallType CallType `json:"call_type"`
}

// HostedCallRequest is the body of POST /media/calls.
type HostedCallRequest struct {
	Target   string   `json:"target"`
	CallType CallType `json:"call_type,omitempty"`
	Name     string   `json:"name,omitempty"`
}

// ICEServer mirrors the browser RTCIceServer dictionary.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEServersResponse is returned by GET /media/ice-servers.
type ICEServersResponse struct {
	ICEServers []ICEServer `json:"ice_servers"`
	TTL        int64       `json:"ttl,omitempty"`
}
