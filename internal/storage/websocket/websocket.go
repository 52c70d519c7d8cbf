// Package websocket streams session telemetry to a results server.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/streaming"
)

// OutboxQueue is the key Backend.QueueLengths reports the unsent frames under.
const OutboxQueue = "telemetry_outbox"

type Config struct {
	URL    string
	Secret string
}

// Backend streams session data over WebSocket to the results server.
// Events are fire-and-forget; only the session start and end wait for an ack.
// It implements storage.Backend but not storage.Uploadable.
type Backend struct {
	cfg    Config
	stream *stream
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry")
	return &Backend{
		cfg:    cfg,
		stream: newStream(logger),
		logger: logger,
	}
}

// Init connects to the results server.
func (b *Backend) Init() error {
	return b.stream.open(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects and logs how much of the stream made it out.
func (b *Backend) Close() error {
	err := b.stream.shutdown()
	sent, dropped, redials := b.Counts()
	if sent+dropped > 0 {
		b.logger.Info("Telemetry stream closed",
			"sent", sent, "dropped", dropped, "redials", redials)
	}
	return err
}

// Counts reports frames written, frames lost and successful reconnects.
func (b *Backend) Counts() (sent, dropped, redials uint64) {
	return b.stream.sent.Load(), b.stream.dropped.Load(), b.stream.redials.Load()
}

// QueueLengths reports the frames waiting to be written.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{OutboxQueue: b.stream.pending()}
}

func frame(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (b *Backend) post(msgType string, payload any) error {
	data, err := frame(msgType, payload)
	if err != nil {
		return err
	}
	b.stream.enqueue(data)
	return nil
}

// StartSession sends the session header and waits for the ack. The header is
// kept so a reconnect can announce the session again.
func (b *Backend) StartSession(s *core.Session) error {
	data, err := frame(streaming.TypeStartSession, streaming.StartSessionPayload{Session: s})
	if err != nil {
		return err
	}
	b.stream.setHeader(data)
	return b.stream.request(data, streaming.TypeStartSession, ackTimeout)
}

// EndSession sends the final header and waits for the ack.
func (b *Backend) EndSession(s *core.Session) error {
	data, err := frame(streaming.TypeEndSession, streaming.StartSessionPayload{Session: s})
	if err != nil {
		return err
	}
	err = b.stream.request(data, streaming.TypeEndSession, ackTimeout)
	b.stream.setHeader(nil)
	return err
}

func (b *Backend) RecordCollision(e *core.CollisionEvent) error {
	return b.post(streaming.TypeCollision, e)
}

func (b *Backend) RecordLaneInvasion(e *core.LaneInvasionEvent) error {
	return b.post(streaming.TypeLaneInvasion, e)
}

// RecordProximity sends the alert. JSON has no infinity, so a clear
// reading goes out with nearest set to -1.
func (b *Backend) RecordProximity(e *core.ProximityEvent) error {
	out := *e
	if math.IsInf(out.Nearest, 0) || math.IsNaN(out.Nearest) {
		out.Nearest = -1
	}
	return b.post(streaming.TypeProximity, &out)
}

func (b *Backend) RecordGnssFix(f *core.GnssFix) error {
	return b.post(streaming.TypeGnssFix, f)
}

func (b *Backend) RecordPerformance(p *core.PerformanceSnapshot) error {
	return b.post(streaming.TypePerformance, p)
}
