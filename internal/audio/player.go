package audio

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/timeutil"
)

// Cue identifies a sound.
type Cue string

const (
	CueCollision Cue = "collision"
	CueProximity Cue = "proximity"
	CueBlinker   Cue = "blinker"
	CueLane      Cue = "lane"
)

// Player is the audio engine. Implementations must be safe to call from the
// main loop while the engine finishes sounds on its own goroutines.
type Player interface {
	Play(cue Cue, loop bool) error
	Stop(cue Cue) error
	IsPlaying(cue Cue) bool
}

// Loader is implemented by players that load assets up front. Players without
// it get a local file existence check instead.
type Loader interface {
	Load(cue Cue, path string) error
}

// LogPlayer is a headless player. Loops play until stopped and one-shots
// finish after OneShot has elapsed on the clock.
type LogPlayer struct {
	OneShot time.Duration

	clock  timeutil.Clock
	logger *slog.Logger

	mu      sync.Mutex
	playing map[Cue]playback
	assets  map[Cue]string
}

type playback struct {
	loop    bool
	started time.Time
}

// NewLogPlayer creates a LogPlayer. A nil clock uses the wall clock.
func NewLogPlayer(clock timeutil.Clock, logger *slog.Logger) *LogPlayer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPlayer{
		OneShot: 1500 * time.Millisecond,
		clock:   clock,
		logger:  logger,
		playing: make(map[Cue]playback),
		assets:  make(map[Cue]string),
	}
}

// Load checks that the asset exists on disk.
func (p *LogPlayer) Load(cue Cue, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("load %s: %w", cue, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assets[cue] = path
	return nil
}

func (p *LogPlayer) Play(cue Cue, loop bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing[cue] = playback{loop: loop, started: p.clock.Now()}
	p.logger.Info("cue started", "cue", string(cue), "loop", loop, "asset", p.assets[cue])
	return nil
}

func (p *LogPlayer) Stop(cue Cue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.playing[cue]; ok {
		delete(p.playing, cue)
		p.logger.Info("cue stopped", "cue", string(cue))
	}
	return nil
}

func (p *LogPlayer) IsPlaying(cue Cue) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pb, ok := p.playing[cue]
	if !ok {
		return false
	}
	if !pb.loop && p.clock.Since(pb.started) >= p.OneShot {
		delete(p.playing, cue)
		return false
	}
	return true
}
