package media

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/cardkeep/signal_layer/internal/errors"
	"github.com/cardkeep/signal_layer/internal/httputil"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// =============================================================================
// Operations
// =============================================================================

// IssueToken issues userID a credential for room.
func (s *Service) IssueToken(ctx context.Context, userID string, req signaling.TokenRequest) (Credential, error) {
	if strings.TrimSpace(req.Room) == "" {
		s.metrics.RecordCredential("rejected")
		return Credential{}, errors.BadRequest("room is required")
	}
	return s.issue(ctx, userID, req.Name, req.Room)
}

// StartCall issues the caller's credential for the pair's room, then sends
// the target an incoming_call pointing at it. Nothing is sent when issuance
// fails.
func (s *Service) StartCall(ctx context.Context, userID string, req signaling.HostedCallRequest) (signaling.HostedCallResponse, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		s.metrics.RecordCredential("rejected")
		return signaling.HostedCallResponse{}, errors.BadRequest("target is required")
	}
	callType := req.CallType
	switch callType {
	case "":
		callType = signaling.CallVideo
	case signaling.CallAudio, signaling.CallVideo:
	default:
		s.metrics.RecordCredential("rejected")
		return signaling.HostedCallResponse{}, errors.BadRequest("call_type must be audio or video")
	}

	room := signaling.RoomName(userID, target)
	cred, err := s.issue(ctx, userID, req.Name, room)
	if err != nil {
		return signaling.HostedCallResponse{}, err
	}

	callID := uuid.NewString()
	payload, err := json.Marshal(signaling.IncomingCall{
		CallID:   callID,
		CallType: callType,
		Mode:     signaling.ModeHosted,
		Room:     room,
	})
	if err != nil {
		return signaling.HostedCallResponse{}, errors.Internal("encode incoming_call", err)
	}
	if err := s.announcer.Send(ctx, userID, signaling.SendRequest{
		Type:   signaling.TypeIncomingCall,
		Target: target,
		Data:   payload,
	}); err != nil {
		return signaling.HostedCallResponse{}, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"call_id": callID,
		"room":    room,
		"target":  target,
	}).Info("hosted call announced")

	return signaling.HostedCallResponse{
		TokenResponse: tokenResponse(cred),
		CallID:        callID,
		CallType:      callType,
	}, nil
}

func (s *Service) issue(ctx context.Context, userID, name, room string) (Credential, error) {
	if strings.TrimSpace(name) == "" {
		name = userID
	}
	cred, err := s.issuer.Issue(userID, name, room)
	if err != nil {
		result := "error"
		if errors.IsCode(err, errors.CodeMisconfigured) {
			result = "misconfigured"
			s.logger.WithContext(ctx).WithError(err).Error("hosted media issuer is not configured")
		} else if errors.IsCode(err, errors.CodeBadRequest) {
			result = "rejected"
		}
		s.metrics.RecordCredential(result)
		return Credential{}, err
	}
	s.metrics.RecordCredential("issued")
	return cred, nil
}

func tokenResponse(c Credential) signaling.TokenResponse {
	return signaling.TokenResponse{Token: c.Token, URL: c.URL, Room: c.Room, Identity: c.Identity}
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// handleToken issues a credential for an explicit room.
func (s *Service) handleToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	var req signaling.TokenRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	cred, err := s.IssueToken(r.Context(), userID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenResponse(cred))
}

// handleStartCall starts a hosted call with the target.
func (s *Service) handleStartCall(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	var req signaling.HostedCallRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	resp, err := s.StartCall(r.Context(), userID, req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleICEServers returns STUN servers and, when configured, TURN
// credentials bound to the caller.
func (s *Service) handleICEServers(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.ice.ICEServers(userID, s.now()))
}
