package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/control"
	"github.com/ImmersiveDrive/simclient/internal/influx"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

// feedPointEvery is how often per-feed decode stats go to InfluxDB.
const feedPointEvery = 100

// errQuit stops Run without an error.
var errQuit = errors.New("quit requested")

// Run steps the session until ctx is cancelled, the configured tick limit is
// reached, or the driver asks to quit. Cancellation and quit return nil.
func (s *Session) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.logger.Info("Stopping on signal", "tick", s.driver.Tick())
			return nil
		}
		if limit := s.cfg.Sim.Ticks; limit > 0 && s.driver.Tick() >= limit {
			s.logger.Info("Tick limit reached", "ticks", limit)
			return nil
		}
		if _, err := s.Step(ctx); err != nil {
			if errors.Is(err, errQuit) {
				s.logger.Info("Quit requested", "tick", s.driver.Tick())
				return nil
			}
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// Step runs one iteration of the main loop: advance the tick, sample input and
// apply the command, compose the display, drain audio events, then handle the
// requested actions and record statistics.
func (s *Session) Step(ctx context.Context) (core.TickStats, error) {
	if s.closed.Load() {
		return core.TickStats{}, ErrClosed
	}
	start := s.deps.Clock.Now()

	res, err := s.driver.Advance(ctx)
	if err != nil {
		return core.TickStats{}, err
	}
	s.deps.Session.SetTick(res.Tick)
	stats := core.TickStats{Tick: res.Tick, Time: start, TickWait: res.Wait}

	mark := s.deps.Clock.Now()
	in, err := s.mapper.Sample(ctx, s.sampleElapsed(mark))
	if err != nil {
		return stats, fmt.Errorf("tick %d: %w", res.Tick, err)
	}
	stats.Command = in.Command
	if !s.autopilot {
		if err := s.deps.Server.ApplyControl(ctx, s.vehicle, in.Command); err != nil {
			return stats, fmt.Errorf("tick %d: apply control: %w", res.Tick, err)
		}
	}
	stats.ControlTime = s.deps.Clock.Since(mark)

	mark = s.deps.Clock.Now()
	frame, err := s.compositor.Render(s.mapper.Gear())
	if err != nil {
		return stats, fmt.Errorf("tick %d: %w", res.Tick, err)
	}
	stats.Drawn, stats.Skipped = frame.Drawn, frame.Skipped
	stats.ComposeTime = s.deps.Clock.Since(mark)

	mark = s.deps.Clock.Now()
	if err := s.audio.SetLights(s.mapper.Lights().Bits()); err != nil {
		s.logger.Warn("Blinker cue failed", "tick", res.Tick, "error", err)
	}
	if _, err := s.audio.Drain(); err != nil {
		s.logger.Warn("Audio cue failed", "tick", res.Tick, "error", err)
	}
	stats.PendingAudio = s.audio.Pending()
	stats.AudioTime = s.deps.Clock.Since(mark)

	if err := s.handleActions(ctx, in.Actions); err != nil {
		return stats, err
	}

	s.record(ctx, stats, s.deps.Clock.Since(start))
	s.last = stats
	return stats, nil
}

// sampleElapsed is the wall time since the previous input sample. The first
// sample of a session uses one simulation step.
func (s *Session) sampleElapsed(now time.Time) time.Duration {
	elapsed := s.driver.Step()
	if !s.lastSample.IsZero() {
		elapsed = now.Sub(s.lastSample)
	}
	s.lastSample = now
	return elapsed
}

func (s *Session) handleActions(ctx context.Context, act control.Action) error {
	if act.Has(control.ActionToggleAutopilot) {
		if err := s.setAutopilot(ctx, !s.autopilot); err != nil {
			return err
		}
	}
	if act.Has(control.ActionNextWeather) {
		s.cycleWeather(ctx, false)
	}
	if act.Has(control.ActionPreviousWeather) {
		s.cycleWeather(ctx, true)
	}
	if act.Has(control.ActionRespawn) {
		if err := s.Respawn(ctx); err != nil {
			return err
		}
	}
	if act.Has(control.ActionQuit) {
		return errQuit
	}
	return nil
}

func (s *Session) cycleWeather(ctx context.Context, reverse bool) {
	wc, ok := s.deps.Server.(simhost.WeatherCycler)
	if !ok {
		s.logger.Debug("Simulator has no weather presets")
		return
	}
	preset, err := wc.NextWeather(ctx, reverse)
	if err != nil {
		s.logger.Warn("Weather change failed", "error", err)
		return
	}
	s.weather = preset
	s.logger.Info("Weather", "preset", preset)
}

// Weather returns the last preset selected during the session.
func (s *Session) Weather() string { return s.weather }

// Respawn replaces the vehicle and its sensors. The input state, the audio
// cues and the collision history start over.
func (s *Session) Respawn(ctx context.Context) error {
	s.logger.Info("Respawning", "vehicle", s.vehicle, "tick", s.driver.Tick())
	if err := s.despawn(ctx); err != nil {
		return fmt.Errorf("respawn: %w", err)
	}
	if err := s.spawn(ctx); err != nil {
		return fmt.Errorf("respawn: %w", err)
	}
	if s.autopilot {
		if err := s.setAutopilot(ctx, true); err != nil {
			return err
		}
	}
	s.mapper.Reset()
	if err := s.audio.Reset(); err != nil {
		s.logger.Warn("Audio reset failed", "error", err)
	}
	if s.info != nil {
		s.info.VehicleID = s.vehicle
	}
	return nil
}

func (s *Session) record(ctx context.Context, stats core.TickStats, total time.Duration) {
	s.lastTick.Store(int64(total))
	if s.registry != nil {
		feeds := s.registry.Stats()
		s.feeds.Store(&feeds)
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTick(ctx, s.cfg.Sim.Map, stats.TickWait, total, stats.Drawn, stats.Skipped)
	}

	if s.deps.Influx == nil || s.info == nil {
		return
	}
	var feeds []core.FeedStats
	if stats.Tick%feedPointEvery == 0 {
		feeds = *s.feeds.Load()
	}
	err := s.deps.Influx.WriteTick(influx.TickSample{
		Time:    stats.Time,
		Session: s.info.ID,
		Map:     s.cfg.Sim.Map,
		Tick:    stats.Tick,
		Wait:    stats.TickWait,
		Step:    total,
		Compose: stats.ComposeTime,
		Drawn:   stats.Drawn,
		Skipped: stats.Skipped,
		Command: stats.Command,
	}, feeds)
	if err != nil {
		s.influxErrs++
		if s.influxErrs == 1 {
			s.logger.Warn("InfluxDB write failed", "error", err)
		}
	}
}

// Last returns the statistics of the most recent tick.
func (s *Session) Last() core.TickStats { return s.last }

// Snapshot summarises the session for the status monitor. It is safe to call
// from another goroutine.
func (s *Session) Snapshot() core.PerformanceSnapshot {
	snap := core.PerformanceSnapshot{
		Time:           s.deps.Clock.Now(),
		Tick:           s.deps.Session.Tick(),
		LastTick:       time.Duration(s.lastTick.Load()),
		Feeds:          *s.feeds.Load(),
		CollisionCount: len(s.audio.Collisions()),
		QueueLengths:   map[string]int{},
	}
	for k, v := range s.disp.QueueLengths() {
		snap.QueueLengths[k] = v
	}
	for k, v := range s.workers.BackendQueueLengths() {
		snap.QueueLengths[k] = v
	}
	return snap
}
