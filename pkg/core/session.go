// pkg/core/session.go
package core

import "time"

// Session describes one drive from vehicle spawn to teardown.
type Session struct {
	ID               string
	StartTime        time.Time
	EndTime          time.Time
	Host             string
	MapName          string
	VehicleBlueprint string
	VehicleID        ActorID
	StepSeconds      float64
	ExtensionVersion string
	Ticks            uint64
}

// TickStats is the per-tick timing breakdown of the main loop.
type TickStats struct {
	Tick         uint64
	Time         time.Time
	TickWait     time.Duration
	ControlTime  time.Duration
	ComposeTime  time.Duration
	AudioTime    time.Duration
	Drawn        int
	Skipped      int
	Command      ControlCommand
	PendingAudio int
}

// FeedStats summarises one camera feed's decode work.
type FeedStats struct {
	Name       string
	Processed  uint64
	Dropped    uint64
	DecodeTime time.Duration
}

// MeanDecode returns the average decode time per processed frame.
func (s FeedStats) MeanDecode() time.Duration {
	if s.Processed == 0 {
		return 0
	}
	return s.DecodeTime / time.Duration(s.Processed)
}

// PerformanceSnapshot is written periodically by the monitor.
type PerformanceSnapshot struct {
	Time           time.Time
	Tick           uint64
	LastTick       time.Duration
	Feeds          []FeedStats
	CollisionCount int
	QueueLengths   map[string]int
}

// UploadMetadata describes an exported session file for the results server.
type UploadMetadata struct {
	SessionID        string
	MapName          string
	VehicleBlueprint string
	Duration         float64
	Tag              string
}
