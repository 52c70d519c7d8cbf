// Package tick drives the simulator's fixed-step clock.
package tick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/timeutil"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

// ErrTimeout is returned when the server does not finish a step in time.
var ErrTimeout = errors.New("tick timed out")

// Default step and timeout.
const (
	DefaultStep    = 50 * time.Millisecond
	DefaultTimeout = 2 * time.Second
)

// Config configures a Driver.
type Config struct {
	Step    time.Duration
	Timeout time.Duration
}

// Result describes one completed step.
type Result struct {
	Tick  uint64 // local tick counter, starts at 1
	Frame uint64 // server frame number
	Wait  time.Duration
}

// Driver advances the server one fixed step per call. Only the main loop may
// use it.
type Driver struct {
	server simhost.Server
	cfg    Config
	clock  timeutil.Clock
	logger *slog.Logger
	sync   bool
	tick   uint64
	frame  uint64
}

// New creates a driver. Zero values in cfg take the defaults.
func New(server simhost.Server, cfg Config, clock timeutil.Clock, logger *slog.Logger) *Driver {
	if cfg.Step <= 0 {
		cfg.Step = DefaultStep
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{server: server, cfg: cfg, clock: clock, logger: logger}
}

// Step returns the fixed simulation step.
func (d *Driver) Step() time.Duration { return d.cfg.Step }

// Tick returns the number of completed steps.
func (d *Driver) Tick() uint64 { return d.tick }

// Synchronous reports whether Start has switched the server to fixed-step mode.
func (d *Driver) Synchronous() bool { return d.sync }

// Start switches the server to synchronous fixed-step mode.
func (d *Driver) Start(ctx context.Context) error {
	if err := d.server.SetSynchronousMode(ctx, true, d.cfg.Step); err != nil {
		return fmt.Errorf("enable synchronous mode: %w", err)
	}
	d.sync = true
	d.logger.Info("synchronous mode enabled", "step", d.cfg.Step)
	return nil
}

// Advance steps the world once. It fails with ErrTimeout when the server does
// not answer within the configured timeout, even if the server ignores ctx.
func (d *Driver) Advance(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, d.cfg.Timeout, ErrTimeout)
	defer cancel()

	type reply struct {
		frame uint64
		err   error
	}
	done := make(chan reply, 1)
	start := d.clock.Now()
	go func() {
		frame, err := d.server.AdvanceTick(ctx)
		done <- reply{frame, err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = context.Cause(ctx)
	}
	wait := d.clock.Since(start)

	if r.err != nil {
		if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(context.Cause(ctx), ErrTimeout) {
			return Result{}, fmt.Errorf("tick %d after %s: %w", d.tick+1, d.cfg.Timeout, ErrTimeout)
		}
		return Result{}, fmt.Errorf("tick %d: %w", d.tick+1, r.err)
	}

	if d.tick > 0 && r.frame <= d.frame {
		d.logger.Warn("server frame did not advance", "previous", d.frame, "frame", r.frame)
	}
	d.tick++
	d.frame = r.frame
	return Result{Tick: d.tick, Frame: r.frame, Wait: wait}, nil
}

// Stop returns the server to asynchronous mode with no fixed step. It is a
// no-op unless Start succeeded.
func (d *Driver) Stop(ctx context.Context) error {
	if !d.sync {
		return nil
	}
	d.sync = false
	if err := d.server.SetSynchronousMode(ctx, false, 0); err != nil {
		return fmt.Errorf("restore asynchronous mode: %w", err)
	}
	d.logger.Info("asynchronous mode restored", "ticks", d.tick)
	return nil
}
