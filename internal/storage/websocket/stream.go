package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/ImmersiveDrive/simclient/pkg/streaming"
)

const (
	outboxSize       = 10_000
	ackBufferSize    = 16
	maxRedials       = 10
	maxRedialDelay   = 30 * time.Second
	writeWait        = 10 * time.Second
	handshakeTimeout = 5 * time.Second
	ackTimeout       = 10 * time.Second
)

var errStreamClosed = errors.New("telemetry stream closed")

// stream owns one results-server socket. A single pump goroutine writes, a
// single listen goroutine reads acks. Either one failing hands over to redial,
// which re-sends the session header before resuming.
type stream struct {
	mu     sync.Mutex
	conn   *ws.Conn
	closed bool
	// header is the start_session frame of the running session, nil between
	// sessions.
	header []byte

	outbox chan []byte
	acks   chan streaming.AckMessage
	done   chan struct{}

	endpoint  string
	dialer    *ws.Dialer
	redialing atomic.Bool

	sent    atomic.Uint64
	dropped atomic.Uint64
	redials atomic.Uint64

	logger *slog.Logger
}

func newStream(logger *slog.Logger) *stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &stream{
		outbox: make(chan []byte, outboxSize),
		acks:   make(chan streaming.AckMessage, ackBufferSize),
		done:   make(chan struct{}),
		dialer: &ws.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: logger,
	}
}

// open dials the server and starts the pump and listen goroutines. The secret
// travels as a query parameter.
func (s *stream) open(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid telemetry URL: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	s.endpoint = u.String()

	conn, err := s.dial()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.start(conn)
	return nil
}

func (s *stream) dial() (*ws.Conn, error) {
	conn, _, err := s.dialer.Dial(s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("telemetry dial: %w", err)
	}
	return conn, nil
}

// start runs the goroutine pair for conn. listen closes lost once the
// connection fails so the pump of a dead connection exits.
func (s *stream) start(conn *ws.Conn) {
	lost := make(chan struct{})
	go s.pump(conn, lost)
	go s.listen(conn, lost)
}

// pump writes queued frames to conn until shutdown or a write fails.
func (s *stream) pump(conn *ws.Conn, lost <-chan struct{}) {
	for {
		select {
		case <-s.done:
			return
		case <-lost:
			return
		case frame := <-s.outbox:
			if err := writeFrame(conn, frame); err != nil {
				// The frame is lost along with the connection.
				s.dropped.Add(1)
				s.logger.Warn("Telemetry write failed", "error", err)
				go s.redial(conn)
				return
			}
			s.sent.Add(1)
		}
	}
}

// listen routes acks from conn until it fails. Anything else the server says
// is ignored.
func (s *stream) listen(conn *ws.Conn, lost chan<- struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			close(lost)
			select {
			case <-s.done:
			default:
				s.logger.Warn("Telemetry read failed", "error", err)
				go s.redial(conn)
			}
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(raw, &ack); err != nil || ack.Type != "ack" {
			s.logger.Debug("Ignoring telemetry server message", "raw", string(raw))
			continue
		}
		select {
		case s.acks <- ack:
		default:
			s.logger.Debug("Ack buffer full", "for", ack.For)
		}
	}
}

func writeFrame(conn *ws.Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, frame)
}

// redial replaces the broken connection. Only one redial runs at a time, and a
// caller holding an already replaced connection does nothing.
func (s *stream) redial(broken *ws.Conn) {
	if !s.redialing.CompareAndSwap(false, true) {
		return
	}
	defer s.redialing.Store(false)

	s.mu.Lock()
	if s.closed || s.conn != broken {
		s.mu.Unlock()
		return
	}
	_ = broken.Close()
	s.conn = nil
	s.mu.Unlock()

	delay := time.Second
	for attempt := 1; attempt <= maxRedials; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := s.dial()
		if err != nil {
			s.logger.Warn("Telemetry redial failed", "attempt", attempt, "error", err)
			delay = min(delay*2, maxRedialDelay)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		header := s.header
		s.mu.Unlock()

		if header != nil {
			if err := writeFrame(conn, header); err != nil {
				s.logger.Warn("Telemetry session header replay failed", "error", err)
				_ = conn.Close()
				continue
			}
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.redials.Add(1)
		s.logger.Info("Telemetry stream restored", "attempt", attempt)
		s.start(conn)
		return
	}

	s.logger.Error("Telemetry stream lost", "attempts", maxRedials)
}

// enqueue hands a frame to the pump without blocking. A full outbox drops
// the frame.
func (s *stream) enqueue(frame []byte) bool {
	select {
	case s.outbox <- frame:
		return true
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("Telemetry outbox full, dropping frames")
		}
		return false
	}
}

// request enqueues a frame and waits for the server to ack its type.
func (s *stream) request(frame []byte, ackFor string, timeout time.Duration) error {
	if !s.enqueue(frame) {
		return fmt.Errorf("%s: outbox full", ackFor)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-s.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-s.done:
			return fmt.Errorf("waiting for ack of %q: %w", ackFor, errStreamClosed)
		}
	}
}

func (s *stream) setHeader(frame []byte) {
	s.mu.Lock()
	s.header = frame
	s.mu.Unlock()
}

func (s *stream) pending() int {
	return len(s.outbox)
}

// shutdown sends a close frame and stops both goroutines. Frames still in the
// outbox are discarded.
func (s *stream) shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return conn.Close()
}
