// internal/storage/memory/memory.go
package memory

import (
	"sync"

	"github.com/ImmersiveDrive/simclient/internal/config"
	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// Backend keeps one session's telemetry in memory and exports it to JSON when
// the session ends.
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	collisions    []core.CollisionEvent
	laneInvasions []core.LaneInvasionEvent
	proximity     []core.ProximityEvent
	fixes         []core.GnssFix
	performance   []core.PerformanceSnapshot

	lastExportPath string
	lastExportMeta core.UploadMetadata
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session, discarding the previous one.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = s
	b.collisions = nil
	b.laneInvasions = nil
	b.proximity = nil
	b.fixes = nil
	b.performance = nil
	return nil
}

// EndSession finalizes and exports the session data.
func (b *Backend) EndSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	if s != nil {
		b.session = s
	}
	return b.exportJSON()
}

// RecordCollision records a collision
func (b *Backend) RecordCollision(e *core.CollisionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collisions = append(b.collisions, *e)
	return nil
}

// RecordLaneInvasion records a lane invasion
func (b *Backend) RecordLaneInvasion(e *core.LaneInvasionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.laneInvasions = append(b.laneInvasions, *e)
	return nil
}

// RecordProximity records a proximity alert transition
func (b *Backend) RecordProximity(e *core.ProximityEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.proximity = append(b.proximity, *e)
	return nil
}

// RecordGnssFix records a GNSS fix
func (b *Backend) RecordGnssFix(f *core.GnssFix) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fixes = append(b.fixes, *f)
	return nil
}

// RecordPerformance records a performance snapshot
func (b *Backend) RecordPerformance(p *core.PerformanceSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.performance = append(b.performance, *p)
	return nil
}

// Counts returns the number of recorded collisions, lane invasions, proximity
// transitions and fixes.
func (b *Backend) Counts() (collisions, lanes, proximity, fixes int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.collisions), len(b.laneInvasions), len(b.proximity), len(b.fixes)
}
