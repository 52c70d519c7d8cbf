package bridge

import (
	"sync"

	"github.com/ImmersiveDrive/simclient/internal/audio"
	"github.com/ImmersiveDrive/simclient/pkg/streaming"
)

var (
	_ audio.Player = (*Client)(nil)
	_ audio.Loader = (*Client)(nil)
)

// cueSet mirrors the bridge mixer. One-shot cues are cleared by
// audio_finished pushes.
type cueSet struct {
	mu      sync.Mutex
	playing map[audio.Cue]bool
}

func (s *cueSet) init() { s.playing = make(map[audio.Cue]bool) }

func (s *cueSet) set(cue audio.Cue, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.playing[cue] = true
	} else {
		delete(s.playing, cue)
	}
}

func (s *cueSet) get(cue audio.Cue) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing[cue]
}

// Load asks the bridge to load the asset for cue. Paths are resolved on the
// bridge host.
func (c *Client) Load(cue audio.Cue, path string) error {
	ctx, cancel := c.withTimeout()
	defer cancel()
	return c.conn.request(ctx, streaming.TypeLoadCue, streaming.CueRequest{Cue: string(cue), Asset: path}, nil)
}

func (c *Client) Play(cue audio.Cue, loop bool) error {
	ctx, cancel := c.withTimeout()
	defer cancel()
	if err := c.conn.request(ctx, streaming.TypePlayCue, streaming.CueRequest{Cue: string(cue), Loop: loop}, nil); err != nil {
		return err
	}
	c.cues.set(cue, true)
	return nil
}

func (c *Client) Stop(cue audio.Cue) error {
	ctx, cancel := c.withTimeout()
	defer cancel()
	if err := c.conn.request(ctx, streaming.TypeStopCue, streaming.CueRequest{Cue: string(cue)}, nil); err != nil {
		return err
	}
	c.cues.set(cue, false)
	return nil
}

func (c *Client) IsPlaying(cue audio.Cue) bool {
	return c.cues.get(cue)
}
