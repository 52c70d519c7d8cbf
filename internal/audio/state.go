package audio

import (
	"fmt"
	"log/slog"
	"os"
)

// CueState tracks which cues this process started and filters out redundant
// play and stop calls. It is owned by the main loop.
type CueState struct {
	player   Player
	playing  map[Cue]bool
	disabled map[Cue]string
	plays    uint64
	stops    uint64
}

// NewCueState wraps player.
func NewCueState(player Player) *CueState {
	return &CueState{
		player:   player,
		playing:  make(map[Cue]bool),
		disabled: make(map[Cue]string),
	}
}

// Load prepares the asset for cue. An empty path leaves asset resolution to
// the player. On failure the cue is disabled and every later trigger for it is
// skipped.
func (s *CueState) Load(cue Cue, path string) error {
	if path == "" {
		return nil
	}
	var err error
	if l, ok := s.player.(Loader); ok {
		err = l.Load(cue, path)
	} else if _, statErr := os.Stat(path); statErr != nil {
		err = fmt.Errorf("load %s: %w", cue, statErr)
	}
	if err != nil {
		s.disabled[cue] = err.Error()
		return err
	}
	return nil
}

// Enabled reports whether cue can play.
func (s *CueState) Enabled(cue Cue) bool {
	_, off := s.disabled[cue]
	return !off
}

// Playing refreshes and returns the playing flag of cue. One-shots that ended
// on their own read as not playing.
func (s *CueState) Playing(cue Cue) bool {
	if s.playing[cue] && !s.player.IsPlaying(cue) {
		s.playing[cue] = false
	}
	return s.playing[cue]
}

// Start plays cue unless it is already playing or disabled. It reports
// whether the player was called.
func (s *CueState) Start(cue Cue, loop bool) (bool, error) {
	if !s.Enabled(cue) || s.Playing(cue) {
		return false, nil
	}
	if err := s.player.Play(cue, loop); err != nil {
		return false, fmt.Errorf("play %s: %w", cue, err)
	}
	s.playing[cue] = true
	s.plays++
	return true, nil
}

// Stop stops cue if this process started it and it is still playing.
func (s *CueState) Stop(cue Cue) (bool, error) {
	if !s.Playing(cue) {
		return false, nil
	}
	s.playing[cue] = false
	if err := s.player.Stop(cue); err != nil {
		return false, fmt.Errorf("stop %s: %w", cue, err)
	}
	s.stops++
	return true, nil
}

// StopAll stops every playing cue, returning the first error.
func (s *CueState) StopAll() error {
	var first error
	for cue := range s.playing {
		if _, err := s.Stop(cue); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Counts returns the number of play and stop calls issued.
func (s *CueState) Counts() (plays, stops uint64) {
	return s.plays, s.stops
}

func (s *CueState) logDisabled(logger *slog.Logger) {
	for cue, reason := range s.disabled {
		logger.Warn("audio cue disabled", "cue", string(cue), "reason", reason)
	}
}
