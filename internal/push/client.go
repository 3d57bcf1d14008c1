// Package push is the websocket transport that delivers live messages, typing
// indicators, read receipts and unread counts. Inbound frames are published on
// the bus under the "push." namespace; connection state is reported through a
// status.Machine.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/wallchat/internal/bus"
	"github.com/matheus3301/wallchat/internal/neterr"
	"github.com/matheus3301/wallchat/internal/retry"
	"github.com/matheus3301/wallchat/internal/status"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	readLimit = 1 << 20
	// writeTimeout bounds a single outbound frame so a stalled socket cannot
	// hold a caller indefinitely.
	writeTimeout = 5 * time.Second
)

// Client maintains one push connection and reconnects it when it drops.
type Client struct {
	baseURL    string
	bus        *bus.Bus
	machine    *status.Machine
	policy     retry.Policy
	httpClient *http.Client
	writeWait  time.Duration
	log        *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Client.
type Option func(*Client)

// WithPolicy sets the reconnect policy.
func WithPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithWriteTimeout overrides how long one outbound frame may take.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) { c.writeWait = d }
}

// NewClient creates a disconnected client for the push server at baseURL
// (http, https, ws or wss).
func NewClient(baseURL string, b *bus.Bus, m *status.Machine, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		bus:       b,
		machine:   m,
		policy:    retry.Default,
		writeWait: writeTimeout,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the push server and starts the read loop. The connection
// outlives ctx; it ends with Disconnect or when reconnecting gives up.
// Connecting while already connected is a no-op.
func (c *Client) Connect(ctx context.Context, token, userID string) error {
	c.mu.Lock()
	if c.conn != nil || c.done != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.machine.Transition(status.Connecting); err != nil {
		return err
	}
	target, err := socketURL(c.baseURL, token, userID)
	if err != nil {
		_ = c.machine.Fail(err)
		return err
	}
	conn, err := c.dial(ctx, target)
	if err != nil {
		_ = c.machine.Fail(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	if err := c.machine.Transition(status.Connected); err != nil {
		c.log.Warn("unexpected state on connect", zap.Error(err))
	}
	c.log.Info("push connected", zap.String("user_id", userID))

	go c.run(runCtx, conn, target, done)
	return nil
}

// Disconnect closes the connection and stops reconnecting.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.conn = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		if conn != nil {
			if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
				c.log.Debug("close push socket", zap.Error(err))
			}
		}
		<-done
		c.mu.Lock()
		c.done = nil
		c.mu.Unlock()
		c.log.Info("push disconnected")
	}
	return c.machine.Transition(status.Disconnected)
}

// SendMessage sends a direct message over the socket.
func (c *Client) SendMessage(ctx context.Context, receiverID, content string) error {
	return c.send(ctx, typeMessageSend, outboundMessage{ReceiverID: receiverID, Content: content})
}

// SendTypingIndicator tells receiverID that the user is typing.
func (c *Client) SendTypingIndicator(ctx context.Context, receiverID string) error {
	return c.send(ctx, typeTypingSend, outboundTyping{ReceiverID: receiverID})
}

// MarkAsRead emits a read receipt for messageID.
func (c *Client) MarkAsRead(ctx context.Context, messageID string) error {
	return c.send(ctx, typeMessageRead, outboundRead{MessageID: messageID})
}

// State returns the current connection state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

func (c *Client) send(ctx context.Context, typ string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return neterr.New(neterr.NoConnection, errors.New("push not connected"))
	}
	data, err := encode(typ, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeWait)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return neterr.FromTransport(ctx, err)
	}
	return nil
}

// run reads frames until the connection drops, then reconnects under the
// policy. It returns when ctx is cancelled or reconnecting gives up.
func (c *Client) run(ctx context.Context, conn *websocket.Conn, target string, done chan struct{}) {
	defer close(done)
	for {
		err := c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("push connection lost", zap.Error(err))

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		if terr := c.machine.Transition(status.Reconnecting); terr != nil {
			c.log.Warn("unexpected state on reconnect", zap.Error(terr))
		}

		next, err := c.redial(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("push reconnect gave up", zap.Error(err))
			_ = c.machine.Fail(err)
			c.mu.Lock()
			if c.done == done {
				if c.cancel != nil {
					c.cancel()
				}
				c.cancel, c.done = nil, nil
			}
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		c.conn = next
		c.mu.Unlock()
		conn = next
		if terr := c.machine.Transition(status.Connected); terr != nil {
			c.log.Warn("unexpected state on reconnect", zap.Error(terr))
		}
		c.log.Info("push reconnected")
	}
}

// redial dials again under the policy: one immediate attempt, then up to
// MaxAttempts more spaced by Policy.Delay. Handshake rejections such as 401
// are not retried.
func (c *Client) redial(ctx context.Context, target string) (*websocket.Conn, error) {
	return retry.Do(ctx, c.policy, func(ctx context.Context) (*websocket.Conn, error) {
		return c.dial(ctx, target)
	}, retry.WithLogger(c.log), retry.WithName("push.reconnect"))
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		evt, err := decode(data)
		if err != nil {
			c.log.Debug("dropping push frame", zap.Error(err))
			continue
		}
		c.bus.Publish(evt)
	}
}

func (c *Client) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: c.httpClient})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, neterr.FromStatus(resp.StatusCode, err)
		}
		return nil, neterr.FromTransport(ctx, err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// socketURL builds <base>/ws?token=...&userId=... with a ws(s) scheme.
func socketURL(base, token, userID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", neterr.New(neterr.InvalidURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", neterr.New(neterr.InvalidURL, fmt.Errorf("unsupported push scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return "", neterr.New(neterr.InvalidURL, fmt.Errorf("push url %q has no host", base))
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
