// Package session holds the state of the drive in progress for components
// that only observe it.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// Context holds the current session and tick.
type Context struct {
	mu      sync.RWMutex
	session *core.Session
	tick    atomic.Uint64
}

// NewContext creates a Context with no active session.
func NewContext() *Context {
	return &Context{}
}

// Session returns the current session, or nil between sessions.
func (c *Context) Session() *core.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// ID returns the current session id, or "" between sessions.
func (c *Context) ID() string {
	if s := c.Session(); s != nil {
		return s.ID
	}
	return ""
}

// Begin makes s the current session and resets the tick.
func (c *Context) Begin(s *core.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.tick.Store(0)
}

// End clears the current session.
func (c *Context) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
}

// Tick returns the last completed tick.
func (c *Context) Tick() uint64 { return c.tick.Load() }

// SetTick records the last completed tick.
func (c *Context) SetTick(t uint64) { c.tick.Store(t) }

// Attrs returns the session and tick as log attributes. It is used as a
// logging.ContextProvider.
func (c *Context) Attrs() []slog.Attr {
	id := c.ID()
	if id == "" {
		return nil
	}
	return []slog.Attr{
		slog.String("session", id),
		slog.Uint64("tick", c.Tick()),
	}
}
