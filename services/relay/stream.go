package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cardkeep/signal_layer/internal/domain/signal"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// streamSession pushes a user's mailbox over one WebSocket connection. Each
// push is a poll in the session's mode, so both consumption modes keep their
// marking rules.
type streamSession struct {
	svc  *Service
	conn *websocket.Conn
	user string
	mode signaling.Mode

	// Preview polls leave non-invite signals unprocessed; sent holds the ones
	// already pushed so they are not repeated every tick.
	sent map[int64]struct{}
}

func (s *Service) runStream(ctx context.Context, conn *websocket.Conn, user string, mode signaling.Mode) {
	wake, unsubscribe := s.hub.Subscribe(user)
	defer unsubscribe()

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &streamSession{svc: s, conn: conn, user: user, mode: mode, sent: make(map[int64]struct{})}
	go sess.readLoop(cancel)

	log := s.logger.WithContext(ctx).WithField("mode", string(mode))
	log.Debug("stream opened")
	defer log.Debug("stream closed")

	poll := time.NewTicker(s.streamInterval)
	defer poll.Stop()
	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	if err := sess.push(ctx); err != nil {
		if ctx.Err() == nil {
			sess.fail(err)
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.StopChan():
			sess.close(websocket.CloseGoingAway, "server shutting down")
			return
		case <-wake:
		case <-poll.C:
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
			continue
		}

		if err := sess.push(ctx); err != nil {
			if ctx.Err() == nil {
				sess.fail(err)
			}
			return
		}
	}
}

// readLoop discards client frames and cancels the session when the
// connection goes away.
func (ss *streamSession) readLoop(cancel context.CancelFunc) {
	defer cancel()
	ss.conn.SetReadLimit(512)
	ss.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := ss.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ss *streamSession) push(ctx context.Context) error {
	sigs, err := ss.svc.Poll(ctx, ss.user, ss.mode)
	if err != nil {
		return err
	}

	fresh := make([]signal.Signal, 0, len(sigs))
	pending := make(map[int64]struct{})
	for _, sig := range sigs {
		_, dup := ss.sent[sig.ID]
		if !ss.mode.MarksProcessed(sig.Type) {
			pending[sig.ID] = struct{}{}
		}
		if !dup {
			fresh = append(fresh, sig)
		}
	}
	ss.sent = pending
	if len(fresh) == 0 {
		return nil
	}

	ss.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return ss.conn.WriteJSON(signaling.PollResponse{Signals: Messages(fresh)})
}

func (ss *streamSession) fail(err error) {
	ss.svc.logger.WithError(err).WithField("user_id", ss.user).Warn("stream push failed")
	ss.close(websocket.CloseInternalServerErr, "stream push failed")
}

func (ss *streamSession) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	ss.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
