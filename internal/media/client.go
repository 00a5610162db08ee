// Package media implements the control client for the media-routing backend:
// a persistent WebSocket connection carrying correlated request/response
// frames plus unsolicited state-change events. Requests issued while the
// connection is down are queued and flushed in order on reconnect.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrClosed         = errors.New("media: client closed")
	ErrRequestTimeout = errors.New("media: request timed out")
)

// Options configures a Client.
type Options struct {
	BackendURL     string
	APIKey         string
	ReconnectDelay time.Duration
	MaxReconnects  int
	RequestTimeout time.Duration
}

type result struct {
	data json.RawMessage
	err  error
}

// Client is the control-plane client. All methods are safe for concurrent
// use; writes to the socket are serialized.
type Client struct {
	opts Options
	log  *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	attempts   int
	pending    map[string]chan result
	queue      [][]byte
	closed     bool

	writeMu sync.Mutex

	events chan Event
}

func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 5
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Client{
		opts:    opts,
		log:     log,
		pending: make(map[string]chan result),
		events:  make(chan Event, 64),
	}
}

// Events returns the backend push-event stream. Events are dropped (and
// logged) if the channel is not drained.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect is idempotent: it returns immediately when the connection is up or
// a dial is already in flight, otherwise it dials and flushes the offline
// queue in FIFO order.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	err := c.dial(ctx)
	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	return err
}

func (c *Client) dial(ctx context.Context) error {
	target := c.opts.BackendURL
	if c.opts.APIKey != "" {
		sep := "?"
		if u, err := url.Parse(target); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		target += sep + "apiKey=" + url.QueryEscape(c.opts.APIKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("media: dial %s: %w", c.opts.BackendURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	c.log.Info("media: connected", zap.String("backend", c.opts.BackendURL))
	go c.readLoop(conn)

	for _, frame := range queued {
		if err := c.write(conn, frame); err != nil {
			c.log.Warn("media: flush queued request failed", zap.Error(err))
			break
		}
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// request sends one correlated request and waits for its response, the
// request timeout, or ctx. While disconnected the frame is queued and a
// connection attempt is triggered.
func (c *Client) request(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	id := uuid.New().String()
	frame, err := json.Marshal(requestEnvelope{Type: op, ID: id, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("media: marshal %s: %w", op, err)
	}

	ch := make(chan result, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	conn := c.conn
	if conn == nil {
		c.queue = append(c.queue, frame)
	}
	c.mu.Unlock()

	if conn != nil {
		if err := c.write(conn, frame); err != nil {
			c.dropPending(id)
			return nil, fmt.Errorf("media: send %s: %w", op, err)
		}
	} else {
		go func() {
			if err := c.Connect(context.Background()); err != nil {
				c.log.Warn("media: connect for queued request failed", zap.Error(err))
			}
		}()
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.data, nil
	case <-timer.C:
		c.dropPending(id)
		return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, op)
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		var env serverEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("media: malformed frame", zap.Error(err))
			continue
		}
		switch env.Type {
		case "response":
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.mu.Unlock()
			if !ok {
				c.log.Debug("media: response with no pending request", zap.String("id", env.ID))
				continue
			}
			if env.Success {
				ch <- result{data: env.Data}
			} else {
				be := env.Error
				if be == nil {
					be = &BackendError{Code: "unknown", Message: "request failed"}
				}
				ch <- result{err: be}
			}
		case "event":
			ev, ok := parseEvent(env.Data)
			if !ok {
				c.log.Debug("media: unrecognized event", zap.ByteString("data", env.Data))
				continue
			}
			select {
			case c.events <- ev:
			default:
				c.log.Warn("media: event dropped, consumer too slow")
			}
		default:
			c.log.Warn("media: unknown frame type", zap.String("frameType", env.Type))
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()
	conn.Close()
	if closed {
		return
	}
	c.log.Warn("media: connection lost", zap.Error(cause))
	go c.reconnectLoop()
}

// reconnectLoop retries with a fixed delay until connected, the attempt
// budget is spent, or the client is closed. Exhausting the budget leaves the
// client disconnected until Connect is called again.
func (c *Client) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.closed || c.conn != nil {
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.opts.MaxReconnects {
			c.mu.Unlock()
			c.log.Error("media: reconnect attempts exhausted",
				zap.Int("attempts", c.opts.MaxReconnects))
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		time.Sleep(c.opts.ReconnectDelay)
		if err := c.Connect(context.Background()); err != nil {
			c.log.Warn("media: reconnect failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		return
	}
}

// Close tears down the connection and rejects every pending request.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: ErrClosed}
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
