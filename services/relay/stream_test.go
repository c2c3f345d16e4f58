package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardkeep/signal_layer/internal/logging"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// streamServer serves svc with the caller taken from the X-Test-User header.
func streamServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithUserID(r.Context(), r.Header.Get("X-Test-User"))
		svc.Router().ServeHTTP(w, r.WithContext(ctx))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialStream(t *testing.T, srv *httptest.Server, user, mode string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + StreamPath
	if mode != "" {
		url += "?mode=" + mode
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Test-User": {user}})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial stream: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) signaling.PollResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var resp signaling.PollResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return resp
}

func TestStream_ActivePushesOnEnqueue(t *testing.T) {
	svc := newTestService(t, func(c *Config) { c.StreamInterval = time.Hour })
	srv := streamServer(t, svc)
	conn := dialStream(t, srv, "bob", "active")

	require.Eventually(t, func() bool { return svc.Hub().Sessions() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Send(context.Background(), "alice", signaling.SendRequest{
		Type: signaling.TypeOffer, Target: "bob", Data: []byte(`{"sdp":"v=0"}`),
	}))

	frame := readFrame(t, conn)
	require.Len(t, frame.Signals, 1)
	assert.Equal(t, signaling.TypeOffer, frame.Signals[0].Type)
	assert.Equal(t, "alice", frame.Signals[0].From)

	// Consumed by the stream; a poll finds nothing.
	got, err := svc.Poll(context.Background(), "bob", signaling.ModeActive)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStream_PreviewPeeksWithoutRepeating(t *testing.T) {
	svc := newTestService(t, func(c *Config) { c.StreamInterval = 20 * time.Millisecond })
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "alice", signaling.SendRequest{Type: signaling.TypeIncomingCall, Target: "bob"}))
	require.NoError(t, svc.Send(ctx, "alice", signaling.SendRequest{Type: signaling.TypeOffer, Target: "bob", Data: []byte(`{}`)}))

	srv := streamServer(t, svc)
	conn := dialStream(t, srv, "bob", "preview")

	frame := readFrame(t, conn)
	require.Len(t, frame.Signals, 2)
	assert.Equal(t, signaling.TypeIncomingCall, frame.Signals[0].Type)
	assert.Equal(t, signaling.TypeOffer, frame.Signals[1].Type)

	// Several ticks pass; the held offer must not be pushed again.
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var again signaling.PollResponse
	err := conn.ReadJSON(&again)
	require.Error(t, err)

	// The offer is still there for the active consumer.
	got, err := svc.Poll(ctx, "bob", signaling.ModeActive)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, signaling.TypeOffer, got[0].Type)
}

func TestStream_RejectsUnknownModeBeforeUpgrade(t *testing.T) {
	svc := newTestService(t)
	srv := streamServer(t, svc)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + StreamPath + "?mode=peek"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Test-User": {"bob"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStream_CheckOrigin(t *testing.T) {
	svc := newTestService(t, func(c *Config) {
		c.CheckOrigin = func(origin string) bool { return origin == "https://app.cardkeep.test" }
	})
	srv := streamServer(t, svc)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + StreamPath

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{
		"X-Test-User": {"bob"},
		"Origin":      {"https://evil.test"},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{
		"X-Test-User": {"bob"},
		"Origin":      {"https://app.cardkeep.test"},
	})
	require.NoError(t, err)
	conn.Close()
}

func TestStream_ClosesOnStop(t *testing.T) {
	svc := newTestService(t, func(c *Config) { c.StreamInterval = time.Hour })
	srv := streamServer(t, svc)
	conn := dialStream(t, srv, "bob", "")

	require.Eventually(t, func() bool { return svc.Hub().Sessions() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Stop())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err = %v", err)
	require.Eventually(t, func() bool { return svc.Hub().Sessions() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_NotifyCoalescesAndUnsubscribes(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("bob")
	_, cancelOther := h.Subscribe("bob")
	assert.Equal(t, 2, h.Sessions())

	h.Notify("bob")
	h.Notify("bob")
	h.Notify("alice")

	select {
	case <-ch:
	default:
		t.Fatal("expected wakeup")
	}
	select {
	case <-ch:
		t.Fatal("wakeups should coalesce")
	default:
	}

	cancel()
	cancel()
	cancelOther()
	assert.Equal(t, 0, h.Sessions())
}
