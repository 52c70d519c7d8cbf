package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/ImmersiveDrive/simclient/pkg/streaming"
)

const writeWait = 5 * time.Second

var (
	// ErrConnectTimeout is returned by Dial when the bridge does not answer in time.
	ErrConnectTimeout = errors.New("bridge connect timeout")
	// ErrClosed is returned for requests on a closed or lost connection.
	ErrClosed = errors.New("bridge connection closed")
	// ErrRemote wraps errors reported by the bridge in a result message.
	ErrRemote = errors.New("bridge error")
)

// inbound is the union of every message the bridge sends.
type inbound struct {
	Type    string          `json:"type"`
	For     string          `json:"for,omitempty"`
	ID      uint64          `json:"id,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// conn multiplexes requests over one WebSocket. Results are matched to
// requests by id; everything else is handed to push.
type conn struct {
	ws     *ws.Conn
	logger *slog.Logger
	push   func(inbound)

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan inbound
	closed  bool
	err     error
	done    chan struct{}
}

func dial(ctx context.Context, url string, logger *slog.Logger, push func(inbound)) (*conn, error) {
	c, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("dial %s: %w", url, ErrConnectTimeout)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	cn := &conn{
		ws:      c,
		logger:  logger,
		push:    push,
		pending: make(map[uint64]chan inbound),
		done:    make(chan struct{}),
	}
	go cn.readLoop()
	return cn, nil
}

// readLoop routes results to their waiting requests. It ends the connection
// on the first read error; the bridge never reconnects mid-session.
func (c *conn) readLoop() {
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Debug("Unreadable bridge message", "error", err)
			continue
		}

		if msg.Type != streaming.TypeResult {
			c.push(msg)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("Result without request", "for", msg.For, "id", msg.ID)
			continue
		}
		ch <- msg
	}
}

func (c *conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
	c.logger.Warn("Bridge connection lost", "error", err)
}

// request sends one message and waits for its result. out may be nil.
func (c *conn) request(ctx context.Context, msgType string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}

	id := c.nextID.Add(1)
	ch := make(chan inbound, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", msgType, ErrClosed)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	data, err := json.Marshal(streaming.Envelope{Type: msgType, ID: id, Payload: raw})
	if err != nil {
		forget()
		return fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	if err := c.write(data); err != nil {
		forget()
		return fmt.Errorf("%s: %w", msgType, err)
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return fmt.Errorf("%s: %w: %s", msgType, ErrRemote, res.Error)
		}
		if out != nil && len(res.Payload) > 0 {
			if err := json.Unmarshal(res.Payload, out); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", msgType, err)
			}
		}
		return nil
	case <-ctx.Done():
		forget()
		return fmt.Errorf("%s: %w", msgType, ctx.Err())
	case <-c.done:
		return fmt.Errorf("%s: %w", msgType, ErrClosed)
	}
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(ws.TextMessage, data)
}

// close sends a close frame and waits for nothing.
func (c *conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.ws.Close()
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
