// Package monitor writes the client health to a status file and to storage
// while a session runs.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/session"
	"github.com/ImmersiveDrive/simclient/internal/storage"
	"github.com/ImmersiveDrive/simclient/internal/timeutil"
	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// StatusFileName is created in Dependencies.Dir.
const StatusFileName = "status.txt"

// DefaultInterval is the status refresh period.
const DefaultInterval = time.Second

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger  *slog.Logger
	Session *session.Context
	// Snapshot collects the current performance figures.
	Snapshot func() core.PerformanceSnapshot
	Backend  storage.Backend
	Dir      string
	Interval time.Duration
	Clock    timeutil.Clock
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
	written   uint64
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Backend == nil {
		deps.Backend = storage.Noop{}
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Written returns how many snapshots have been recorded.
func (s *Service) Written() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.written
}

type feedStatus struct {
	Name         string  `json:"name"`
	Processed    uint64  `json:"processed"`
	Dropped      uint64  `json:"dropped"`
	MeanDecodeMs float64 `json:"meanDecodeMs"`
}

type status struct {
	Session        string         `json:"session"`
	Tick           uint64         `json:"tick"`
	LastTickMs     float64        `json:"lastTickMs"`
	CollisionCount int            `json:"collisionCount"`
	Feeds          []feedStatus   `json:"feeds"`
	QueueLengths   map[string]int `json:"queueLengths"`
}

// Status renders the snapshot as the status file lines.
func Status(sessionID string, snap core.PerformanceSnapshot) []string {
	st := status{
		Session:        sessionID,
		Tick:           snap.Tick,
		LastTickMs:     float64(snap.LastTick) / float64(time.Millisecond),
		CollisionCount: snap.CollisionCount,
		Feeds:          make([]feedStatus, 0, len(snap.Feeds)),
		QueueLengths:   snap.QueueLengths,
	}
	for _, f := range snap.Feeds {
		st.Feeds = append(st.Feeds, feedStatus{
			Name:         f.Name,
			Processed:    f.Processed,
			Dropped:      f.Dropped,
			MeanDecodeMs: float64(f.MeanDecode()) / float64(time.Millisecond),
		})
	}
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		out = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	return []string{
		snap.Time.UTC().Format(time.RFC3339),
		string(out),
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.Snapshot == nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor: no snapshot source")
	}

	if err := os.MkdirAll(s.deps.Dir, 0o755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor: %w", err)
	}
	statusFile, err := os.Create(filepath.Join(s.deps.Dir, StatusFileName))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor: creating status file: %w", err)
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	ticker := s.deps.Clock.NewTicker(s.deps.Interval)
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer ticker.Stop()
		defer statusFile.Close()
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				if err := s.writeOnce(statusFile); err != nil {
					logger.Error("Error writing status", "error", err)
				}
			}
		}
	}()

	return nil
}

func (s *Service) writeOnce(statusFile *os.File) error {
	id := ""
	if s.deps.Session != nil {
		id = s.deps.Session.ID()
	}
	if id == "" {
		return nil
	}

	snap := s.deps.Snapshot()
	if snap.Time.IsZero() {
		snap.Time = s.deps.Clock.Now()
	}

	if err := statusFile.Truncate(0); err != nil {
		return err
	}
	if _, err := statusFile.Seek(0, 0); err != nil {
		return err
	}
	for _, line := range Status(id, snap) {
		if _, err := statusFile.WriteString(line + "\n"); err != nil {
			return err
		}
	}

	if err := s.deps.Backend.RecordPerformance(&snap); err != nil {
		return fmt.Errorf("recording performance: %w", err)
	}
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning || s.stopChan == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.stopChan = nil
	done := s.done
	s.mu.Unlock()
	<-done
}
