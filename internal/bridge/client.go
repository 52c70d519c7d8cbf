// Package bridge connects the client to a simulator-side bridge over a
// WebSocket. The bridge owns the world, the wheel and the speakers; the
// client drives it with JSON requests and receives sensor pushes.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/control"
	"github.com/ImmersiveDrive/simclient/internal/parser"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
	"github.com/ImmersiveDrive/simclient/pkg/streaming"
)

// Version is sent in the hello request.
const Version = "1.0.0"

// DefaultTimeout bounds the connect handshake and requests without a deadline.
const DefaultTimeout = 2 * time.Second

// Config selects the bridge endpoint.
type Config struct {
	URL string
	// Map is requested from the bridge at hello. Empty keeps the loaded map.
	Map     string
	Timeout time.Duration
}

// Client is a simhost.Server backed by the bridge. It is also the input
// device and the audio player of the rig.
type Client struct {
	cfg    Config
	conn   *conn
	parser *parser.Parser
	logger *slog.Logger
	hello  streaming.HelloResult

	subMu sync.RWMutex
	subs  map[simhost.SensorID]simhost.Callback

	input atomic.Pointer[control.Snapshot]
	cues  cueSet

	closeOnce sync.Once
	closeErr  error
}

var (
	_ simhost.Server        = (*Client)(nil)
	_ simhost.WeatherCycler = (*Client)(nil)
	_ simhost.Autopiloter   = (*Client)(nil)
	_ control.Device        = (*Client)(nil)
)

// Dial connects and performs the hello handshake within cfg.Timeout.
// Running out of time returns an error wrapping ErrConnectTimeout.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		parser: parser.NewParser(logger, time.Now()),
		logger: logger.With("component", "bridge"),
		subs:   make(map[simhost.SensorID]simhost.Callback),
	}
	c.cues.init()

	dctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cn, err := dial(dctx, cfg.URL, c.logger, c.handlePush)
	if err != nil {
		return nil, err
	}
	c.conn = cn

	hello := streaming.HelloPayload{Client: "drivesim", Version: Version, Map: cfg.Map}
	if err := cn.request(dctx, streaming.TypeHello, hello, &c.hello); err != nil {
		_ = cn.close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("hello: %w", ErrConnectTimeout)
		}
		return nil, err
	}

	c.logger.Info("Connected to simulator bridge",
		"url", cfg.URL, "server", c.hello.Server, "map", c.hello.Map,
		"axes", c.hello.Axes, "buttons", c.hello.Buttons)
	return c, nil
}

// MapName returns the map reported at hello.
func (c *Client) MapName() string { return c.hello.Map }

func (c *Client) handlePush(msg inbound) {
	switch msg.Type {
	case streaming.TypeSensorData:
		p, err := c.parser.ParseSensorData(msg.Payload)
		if err != nil {
			c.logger.Debug("Dropping sensor data", "error", err)
			return
		}
		c.subMu.RLock()
		defer c.subMu.RUnlock()
		if cb, ok := c.subs[p.Sensor()]; ok {
			cb(p)
		}

	case streaming.TypeInputState:
		snap, err := c.parser.ParseInputState(msg.Payload)
		if err != nil {
			c.logger.Debug("Dropping input state", "error", err)
			return
		}
		c.input.Store(&snap)

	case streaming.TypeAudioFinished:
		cue, err := c.parser.ParseCueFinished(msg.Payload)
		if err != nil {
			c.logger.Debug("Dropping cue notification", "error", err)
			return
		}
		c.cues.set(cue, false)

	default:
		c.logger.Debug("Unhandled bridge push", "type", msg.Type)
	}
}

// withTimeout is used by the methods whose interface carries no context.
func (c *Client) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.cfg.Timeout)
}

func (c *Client) AdvanceTick(ctx context.Context) (uint64, error) {
	var res streaming.TickResult
	if err := c.conn.request(ctx, streaming.TypeAdvanceTick, struct{}{}, &res); err != nil {
		return 0, err
	}
	return res.Frame, nil
}

func (c *Client) SetSynchronousMode(ctx context.Context, enabled bool, step time.Duration) error {
	return c.conn.request(ctx, streaming.TypeSetSync, streaming.SetSyncRequest{
		Enabled:     enabled,
		StepSeconds: step.Seconds(),
	}, nil)
}

func (c *Client) SpawnVehicle(ctx context.Context, blueprint string, at *core.Transform) (core.ActorID, error) {
	var res streaming.ActorResult
	err := c.conn.request(ctx, streaming.TypeSpawnVehicle, streaming.SpawnVehicleRequest{
		Blueprint: blueprint,
		Transform: at,
	}, &res)
	return res.ActorID, err
}

func (c *Client) AttachSensor(ctx context.Context, spec simhost.SensorSpec) (simhost.SensorID, error) {
	var res streaming.ActorResult
	err := c.conn.request(ctx, streaming.TypeAttachSensor, streaming.AttachSensorRequest{
		Kind:       string(spec.Kind),
		Parent:     spec.Parent,
		Transform:  spec.Transform,
		Attributes: spec.Attributes,
	}, &res)
	return res.ActorID, err
}

// Subscribe registers cb before asking the bridge to stream, so the first
// delivery is never lost.
func (c *Client) Subscribe(id simhost.SensorID, cb simhost.Callback) error {
	c.subMu.Lock()
	c.subs[id] = cb
	c.subMu.Unlock()

	ctx, cancel := c.withTimeout()
	defer cancel()
	if err := c.conn.request(ctx, streaming.TypeSubscribe, streaming.ActorRequest{ActorID: id}, nil); err != nil {
		c.unsubscribe(id)
		return err
	}
	return nil
}

// StopSensor waits for an in-flight callback of id to return before it
// returns itself.
func (c *Client) StopSensor(ctx context.Context, id simhost.SensorID) error {
	c.unsubscribe(id)
	return c.conn.request(ctx, streaming.TypeStopSensor, streaming.ActorRequest{ActorID: id}, nil)
}

func (c *Client) unsubscribe(id simhost.SensorID) {
	c.subMu.Lock()
	delete(c.subs, id)
	c.subMu.Unlock()
}

func (c *Client) DestroyActor(ctx context.Context, id core.ActorID) error {
	return c.conn.request(ctx, streaming.TypeDestroyActor, streaming.ActorRequest{ActorID: id}, nil)
}

func (c *Client) ApplyControl(ctx context.Context, actor core.ActorID, cmd core.ControlCommand) error {
	return c.conn.request(ctx, streaming.TypeApplyControl, streaming.ApplyControlRequest{
		ActorID: actor,
		Control: cmd,
	}, nil)
}

func (c *Client) NextWeather(ctx context.Context, reverse bool) (string, error) {
	var res streaming.WeatherResult
	err := c.conn.request(ctx, streaming.TypeNextWeather, streaming.WeatherRequest{Reverse: reverse}, &res)
	return res.Preset, err
}

func (c *Client) SetAutopilot(ctx context.Context, actor core.ActorID, enabled bool) error {
	return c.conn.request(ctx, streaming.TypeSetAutopilot, streaming.AutopilotRequest{
		ActorID: actor,
		Enabled: enabled,
	}, nil)
}

// Poll returns the latest input state pushed by the bridge. Until the first
// push it returns an empty snapshot, which the mapper reads as released pedals.
func (c *Client) Poll(context.Context) (control.Snapshot, error) {
	if snap := c.input.Load(); snap != nil {
		return *snap, nil
	}
	return control.Snapshot{}, nil
}

func (c *Client) NumAxes() int    { return c.hello.Axes }
func (c *Client) NumButtons() int { return c.hello.Buttons }

// Close ends the connection. Further requests fail with ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.subMu.Lock()
		clear(c.subs)
		c.subMu.Unlock()
		c.closeErr = c.conn.close()
	})
	return c.closeErr
}
