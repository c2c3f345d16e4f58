package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardkeep/signal_layer/internal/httputil"
	"github.com/cardkeep/signal_layer/internal/logging"
)

func TestGatewayNotifier_Posts(t *testing.T) {
	var (
		mu  sync.Mutex
		got []Notification
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/push", r.URL.Path)
		assert.Equal(t, "trace-1", r.Header.Get("X-Trace-ID"))
		var n Notification
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := httputil.NewServiceClient(httputil.ServiceClientConfig{BaseURL: srv.URL})
	notifier := NewGatewayNotifier(client, logging.Discard(), 4)

	ctx := logging.WithTraceID(context.Background(), "trace-1")
	notifier.Notify(ctx, Notification{UserID: "bob", Title: "Incoming call", Body: "Alice is calling", Data: map[string]string{"from": "alice"}})
	notifier.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].UserID)
	assert.Equal(t, "alice", got[0].Data["from"])
}

func TestGatewayNotifier_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := httputil.NewServiceClient(httputil.ServiceClientConfig{BaseURL: srv.URL})
	notifier := NewGatewayNotifier(client, logging.Discard(), 1)

	notifier.Notify(context.Background(), Notification{UserID: "bob"})
	notifier.Wait()
}

func TestGatewayNotifier_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var hits int32
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		<-release
	}))
	defer srv.Close()

	client := httputil.NewServiceClient(httputil.ServiceClientConfig{BaseURL: srv.URL})
	notifier := NewGatewayNotifier(client, logging.Discard(), 1)

	notifier.Notify(context.Background(), Notification{UserID: "a"})
	notifier.Notify(context.Background(), Notification{UserID: "b"})
	close(release)
	notifier.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), hits)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	n.Notify(context.Background(), Notification{UserID: "bob"})
}
