// Package worker records the sensor events of a session to the storage backend.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ImmersiveDrive/simclient/internal/storage"
)

// ErrNoSession is returned when an event arrives outside a session.
var ErrNoSession = errors.New("no active session")

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Logger *slog.Logger
	// Active reports whether a session is currently recording. Nil means
	// always.
	Active func() bool
}

// Manager turns dispatcher events into storage writes.
type Manager struct {
	deps    Dependencies
	backend storage.Backend

	recorded atomic.Uint64
	skipped  atomic.Uint64
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if backend == nil {
		backend = storage.Noop{}
	}
	return &Manager{
		deps:    deps,
		backend: backend,
	}
}

func (m *Manager) active() bool {
	return m.deps.Active == nil || m.deps.Active()
}

// QueueLengthsProvider is an optional interface that backends can implement
// to expose their pending write queues for monitoring.
type QueueLengthsProvider interface {
	QueueLengths() map[string]int
}

// BackendQueueLengths returns the backend's pending writes per table.
// Returns nil if the backend doesn't support this metric.
func (m *Manager) BackendQueueLengths() map[string]int {
	if p, ok := m.backend.(QueueLengthsProvider); ok {
		return p.QueueLengths()
	}
	return nil
}

// Counts returns the number of events written and skipped.
func (m *Manager) Counts() (recorded, skipped uint64) {
	return m.recorded.Load(), m.skipped.Load()
}

func (m *Manager) record(kind string, write func() error) error {
	if !m.active() {
		m.skipped.Add(1)
		return fmt.Errorf("%s: %w", kind, ErrNoSession)
	}
	if err := write(); err != nil {
		return fmt.Errorf("failed to record %s: %w", kind, err)
	}
	m.recorded.Add(1)
	return nil
}
