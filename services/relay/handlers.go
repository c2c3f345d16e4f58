package relay

import (
	"net/http"

	"github.com/cardkeep/signal_layer/internal/errors"
	"github.com/cardkeep/signal_layer/internal/httputil"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// =============================================================================
// Routes
// =============================================================================

// StreamPath is the WebSocket endpoint. It accepts the bearer token as the
// access_token query parameter.
const StreamPath = "/signals/stream"

func (s *Service) registerRoutes() {
	router := s.Router()
	router.HandleFunc("/signals", s.handlePoll).Methods(http.MethodGet)
	router.HandleFunc("/signals", s.handleSend).Methods(http.MethodPost)
	router.HandleFunc("/signals/end", s.handleEnd).Methods(http.MethodPost)
	router.HandleFunc(StreamPath, s.handleStream).Methods(http.MethodGet)
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// handleSend enqueues one signal for the target.
func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	var req signaling.SendRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	if err := s.Send(r.Context(), userID, req); err != nil {
		s.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, signaling.SendResponse{Status: "sent"})
}

// handlePoll returns the caller's pending signals, oldest first.
func (s *Service) handlePoll(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	mode, err := signaling.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		httputil.WriteError(w, r, errors.BadRequest(err.Error()))
		return
	}

	sigs, err := s.Poll(r.Context(), userID, mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, signaling.PollResponse{Signals: Messages(sigs)})
}

// handleEnd purges the caller's signals and optionally notifies the target.
func (s *Service) handleEnd(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	var req signaling.EndRequest
	if !httputil.DecodeOptionalJSON(w, r, &req) {
		return
	}

	purged, err := s.End(r.Context(), userID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, signaling.EndResponse{Status: "ended", Purged: purged})
}

// handleStream upgrades to a WebSocket and pushes the mailbox as it fills.
func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	mode, err := signaling.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		httputil.WriteError(w, r, errors.BadRequest(err.Error()))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.runStream(r.Context(), conn, userID, mode)
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if se := errors.GetServiceError(err); se != nil && se.HTTPStatus >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).WithError(err).Error("signal operation failed")
	}
	httputil.WriteError(w, r, err)
}
