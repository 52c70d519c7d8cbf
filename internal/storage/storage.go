// internal/storage/storage.go
package storage

import "github.com/ImmersiveDrive/simclient/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession(s *core.Session) error

	// Event recording
	RecordCollision(e *core.CollisionEvent) error
	RecordLaneInvasion(e *core.LaneInvasionEvent) error
	RecordProximity(e *core.ProximityEvent) error
	RecordGnssFix(f *core.GnssFix) error

	// Client health
	RecordPerformance(p *core.PerformanceSnapshot) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to the results server.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}

// Noop discards everything. It is used when storage.type is "none".
type Noop struct{}

func (Noop) Init() error                                       { return nil }
func (Noop) Close() error                                      { return nil }
func (Noop) StartSession(*core.Session) error                  { return nil }
func (Noop) EndSession(*core.Session) error                    { return nil }
func (Noop) RecordCollision(*core.CollisionEvent) error        { return nil }
func (Noop) RecordLaneInvasion(*core.LaneInvasionEvent) error  { return nil }
func (Noop) RecordProximity(*core.ProximityEvent) error        { return nil }
func (Noop) RecordGnssFix(*core.GnssFix) error                 { return nil }
func (Noop) RecordPerformance(*core.PerformanceSnapshot) error { return nil }
