// Package audio plays sound cues for discrete vehicle events.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ImmersiveDrive/simclient/internal/dispatcher"
	"github.com/ImmersiveDrive/simclient/internal/queue"
	"github.com/ImmersiveDrive/simclient/internal/sensor"
	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// MaxPending bounds the events queued between two drains.
const MaxPending = 4096

// ErrBacklog is returned to the dispatcher when the pending queue is full.
var ErrBacklog = errors.New("audio event backlog full")

// Config configures a Bridge.
type Config struct {
	Assets map[Cue]string `mapstructure:"assets"`
	// ProximityThreshold is the radar depth in metres under which the
	// proximity loop plays.
	ProximityThreshold float64 `mapstructure:"proximityThreshold"`
	// LaneCue plays a one-shot on lane invasions.
	LaneCue bool `mapstructure:"laneCue"`
	// HistorySize bounds the collision history.
	HistorySize int `mapstructure:"historySize"`
}

// DefaultConfig returns the cue set of the reference rig.
func DefaultConfig() Config {
	return Config{
		Assets: map[Cue]string{
			CueCollision: "sounds/collision.mp3",
			CueProximity: "sounds/proximity.mp3",
			CueBlinker:   "sounds/blinker.mp3",
			CueLane:      "sounds/lane.mp3",
		},
		ProximityThreshold: 2.0,
		HistorySize:        4000,
	}
}

// DrainStats summarises one Drain call.
type DrainStats struct {
	Events      int
	Transitions int
}

// Bridge queues sensor events from callback goroutines and turns them into
// cue transitions on the main loop.
type Bridge struct {
	cfg    Config
	cues   *CueState
	logger *slog.Logger

	pending *queue.Queue[dispatcher.Event]
	history *queue.Ring[core.CollisionRecord]

	// publish forwards proximity transitions, when set.
	publish func(dispatcher.Event) error

	proximity bool

	mu      sync.RWMutex
	lastFix *core.GnssFix
}

// New loads every configured cue. Cues whose asset cannot be loaded are
// disabled with a warning.
func New(player Player, cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.ProximityThreshold <= 0 {
		cfg.ProximityThreshold = DefaultConfig().ProximityThreshold
	}
	b := &Bridge{
		cfg:     cfg,
		cues:    NewCueState(player),
		logger:  logger,
		pending: queue.NewBounded[dispatcher.Event](MaxPending),
		history: queue.NewRing[core.CollisionRecord](cfg.HistorySize),
	}
	for _, cue := range []Cue{CueCollision, CueProximity, CueBlinker, CueLane} {
		if cue == CueLane && !cfg.LaneCue {
			continue
		}
		_ = b.cues.Load(cue, cfg.Assets[cue])
	}
	b.cues.logDisabled(logger)
	return b
}

// Register subscribes the bridge to the sensor event topics. The handlers only
// enqueue, so they are registered synchronously. Proximity transitions are
// published back on d when something subscribes to sensor.TopicProximity.
func (b *Bridge) Register(d *dispatcher.Dispatcher) {
	d.Register(sensor.TopicCollision, b.onCollision, dispatcher.Named("audio.collision"))
	for _, topic := range []string{sensor.TopicLaneInvasion, sensor.TopicRadar, sensor.TopicGnss} {
		d.Register(topic, b.enqueue, dispatcher.Named("audio"+topic))
	}
	b.publish = func(e dispatcher.Event) error {
		if !d.HasHandler(e.Topic) {
			return nil
		}
		return d.Dispatch(e)
	}
}

func (b *Bridge) onCollision(e dispatcher.Event) error {
	ev, ok := e.Payload.(core.CollisionEvent)
	if !ok {
		return fmt.Errorf("collision payload %T", e.Payload)
	}
	b.history.Push(core.CollisionRecord{Tick: ev.Tick, Intensity: ev.Intensity()})
	return b.enqueue(e)
}

func (b *Bridge) enqueue(e dispatcher.Event) error {
	if b.pending.Push(e) == 0 {
		return fmt.Errorf("%s at tick %d: %w", e.Topic, e.Tick, ErrBacklog)
	}
	return nil
}

// Pending returns the number of events waiting for Drain.
func (b *Bridge) Pending() int {
	return b.pending.Len()
}

// Drain processes every queued event. Each event causes at most one cue
// transition, and events that find their cue already in the wanted state
// cause none.
func (b *Bridge) Drain() (DrainStats, error) {
	events := b.pending.Drain()
	stats := DrainStats{Events: len(events)}
	var errs []error
	for _, e := range events {
		changed, err := b.handle(e)
		if err != nil {
			errs = append(errs, err)
		}
		if changed {
			stats.Transitions++
		}
	}
	return stats, errors.Join(errs...)
}

func (b *Bridge) handle(e dispatcher.Event) (bool, error) {
	switch ev := e.Payload.(type) {
	case core.CollisionEvent:
		return b.cues.Start(CueCollision, false)
	case core.LaneInvasionEvent:
		if !b.cfg.LaneCue {
			return false, nil
		}
		return b.cues.Start(CueLane, false)
	case core.RadarMeasurement:
		return b.radar(ev)
	case core.GnssFix:
		b.mu.Lock()
		fix := ev
		b.lastFix = &fix
		b.mu.Unlock()
		return false, nil
	}
	return false, fmt.Errorf("unexpected event %T on %s", e.Payload, e.Topic)
}

func (b *Bridge) radar(m core.RadarMeasurement) (bool, error) {
	nearest := m.Nearest()
	near := nearest < b.cfg.ProximityThreshold

	var changed bool
	var err error
	if near {
		changed, err = b.cues.Start(CueProximity, true)
	} else {
		changed, err = b.cues.Stop(CueProximity)
	}

	if near != b.proximity {
		b.proximity = near
		b.emitProximity(core.ProximityEvent{Tick: m.Tick, Time: m.Time, Active: near, Nearest: nearest})
	}
	return changed, err
}

func (b *Bridge) emitProximity(ev core.ProximityEvent) {
	if b.publish == nil {
		return
	}
	err := b.publish(dispatcher.Event{Topic: sensor.TopicProximity, Tick: ev.Tick, Timestamp: ev.Time, Payload: ev})
	if err != nil && !errors.Is(err, dispatcher.ErrClosed) {
		b.logger.Warn("proximity publish failed", "error", err)
	}
}

// SetLights makes the blinker loop follow the turn signals.
func (b *Bridge) SetLights(l core.LightState) error {
	var err error
	if l.Signalling() {
		_, err = b.cues.Start(CueBlinker, true)
	} else {
		_, err = b.cues.Stop(CueBlinker)
	}
	return err
}

// Playing reports whether cue is playing.
func (b *Bridge) Playing(cue Cue) bool {
	return b.cues.Playing(cue)
}

// Counts returns the number of play and stop calls issued so far.
func (b *Bridge) Counts() (plays, stops uint64) {
	return b.cues.Counts()
}

// Collisions returns the collision history, oldest first.
func (b *Bridge) Collisions() []core.CollisionRecord {
	return b.history.Snapshot()
}

// CollisionHistory sums collision intensity per tick.
func (b *Bridge) CollisionHistory() map[uint64]float64 {
	return AggregateCollisions(b.history.Snapshot())
}

// AggregateCollisions sums intensities per tick.
func AggregateCollisions(records []core.CollisionRecord) map[uint64]float64 {
	out := make(map[uint64]float64)
	for _, r := range records {
		out[r.Tick] += r.Intensity
	}
	return out
}

// SortedTicks returns the keys of an aggregated history in ascending order.
func SortedTicks(history map[uint64]float64) []uint64 {
	ticks := make([]uint64, 0, len(history))
	for t := range history {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

// LastFix returns the most recent GNSS fix seen by Drain.
func (b *Bridge) LastFix() (core.GnssFix, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastFix == nil {
		return core.GnssFix{}, false
	}
	return *b.lastFix, true
}

// Reset forgets the vehicle's history after a respawn and silences every cue.
func (b *Bridge) Reset() error {
	b.pending.Clear()
	b.history.Clear()
	b.mu.Lock()
	b.lastFix = nil
	b.mu.Unlock()
	b.proximity = false
	return b.cues.StopAll()
}

// Close silences every cue.
func (b *Bridge) Close() error {
	return b.cues.StopAll()
}
