package callclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cardkeep/signal_layer/internal/errors"
	"github.com/cardkeep/signal_layer/internal/httputil"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

const streamPath = "/signals/stream"

// ClientConfig configures a relay client.
type ClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Client calls the relay and media routes as one authenticated user.
type Client struct {
	http   *httputil.ServiceClient
	base   *url.URL
	token  string
	dialer *websocket.Dialer
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("callclient: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("callclient: parse base URL: %w", err)
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		http: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL:    base.String(),
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			HTTPClient: cfg.HTTPClient,
		}),
		base:   base,
		token:  cfg.Token,
		dialer: dialer,
	}, nil
}

// =============================================================================
// Signals
// =============================================================================

// Send enqueues one signal for req.Target.
func (c *Client) Send(ctx context.Context, req signaling.SendRequest) error {
	return c.call(ctx, http.MethodPost, "/signals", req, nil)
}

// SendPayload marshals payload and sends it as a signal of type typ.
func (c *Client) SendPayload(ctx context.Context, typ signaling.Type, target string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return c.Send(ctx, signaling.SendRequest{Type: typ, Target: target, Data: data})
}

// Poll returns the caller's pending signals, oldest first.
func (c *Client) Poll(ctx context.Context, mode signaling.Mode) ([]signaling.Message, error) {
	var out signaling.PollResponse
	path := "/signals?mode=" + url.QueryEscape(string(mode))
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Signals, nil
}

// End purges the caller's signals and, when req.Target is set, tells the
// target the call ended. It returns the number of signals removed.
func (c *Client) End(ctx context.Context, req signaling.EndRequest) (int64, error) {
	var out signaling.EndResponse
	if err := c.call(ctx, http.MethodPost, "/signals/end", req, &out); err != nil {
		return 0, err
	}
	return out.Purged, nil
}

// =============================================================================
// Hosted media
// =============================================================================

// MediaToken requests a hosted-media credential for req.Room.
func (c *Client) MediaToken(ctx context.Context, req signaling.TokenRequest) (signaling.TokenResponse, error) {
	var out signaling.TokenResponse
	err := c.call(ctx, http.MethodPost, "/media/token", req, &out)
	return out, err
}

// StartHostedCall issues the caller's credential and rings the target.
func (c *Client) StartHostedCall(ctx context.Context, req signaling.HostedCallRequest) (signaling.HostedCallResponse, error) {
	var out signaling.HostedCallResponse
	err := c.call(ctx, http.MethodPost, "/media/calls", req, &out)
	return out, err
}

// ICEServers returns STUN/TURN servers for a peer-to-peer call.
func (c *Client) ICEServers(ctx context.Context) (signaling.ICEServersResponse, error) {
	var out signaling.ICEServersResponse
	err := c.call(ctx, http.MethodGet, "/media/ice-servers", nil, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(ctx, method, path, body, headers)
	if err != nil {
		return err
	}
	return decodeError(httputil.DecodeResponse(resp, out))
}

// decodeError turns an error body from the relay back into a ServiceError so
// callers can match on its code.
func decodeError(err error) error {
	var statusErr *httputil.StatusError
	if !stderrors.As(err, &statusErr) {
		return err
	}
	var body httputil.ErrorBody
	if json.Unmarshal([]byte(statusErr.Body), &body) != nil || body.Error.Code == "" {
		return err
	}
	return &errors.ServiceError{
		Code:       errors.ErrorCode(body.Error.Code),
		Message:    body.Error.Message,
		HTTPStatus: statusErr.StatusCode,
		Details:    body.Error.Details,
	}
}

// =============================================================================
// Stream
// =============================================================================

// Stream is an open push connection to the caller's mailbox.
type Stream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// Stream opens a push connection in mode. The token travels as the
// access_token query parameter.
func (c *Client) Stream(ctx context.Context, mode signaling.Mode) (*Stream, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath
	q := url.Values{}
	q.Set("mode", string(mode))
	if c.token != "" {
		q.Set("access_token", c.token)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("open stream: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Recv blocks for the next batch of signals.
func (s *Stream) Recv() ([]signaling.Message, error) {
	var frame signaling.PollResponse
	if err := s.conn.ReadJSON(&frame); err != nil {
		return nil, err
	}
	return frame.Signals, nil
}

// Close says goodbye and closes the connection. It is safe to call twice.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
