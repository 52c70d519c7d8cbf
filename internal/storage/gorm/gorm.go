// Package gormstorage implements the storage.Backend interface on GORM with
// internal queues and a background DB writer goroutine. It serves both the
// postgres and the sqlite backends.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/database"
	"github.com/ImmersiveDrive/simclient/internal/geo"
	"github.com/ImmersiveDrive/simclient/internal/model"
	"github.com/ImmersiveDrive/simclient/internal/model/convert"
	"github.com/ImmersiveDrive/simclient/internal/queue"
	"github.com/ImmersiveDrive/simclient/pkg/core"

	"gorm.io/gorm"
)

// DefaultFlushInterval is how often queued rows are written.
const DefaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Collisions      *queue.Queue[model.Collision]
	LaneInvasions   *queue.Queue[model.LaneInvasion]
	ProximityAlerts *queue.Queue[model.ProximityAlert]
	GnssFixes       *queue.Queue[model.GnssFix]
	Performance     *queue.Queue[model.Performance]
}

func newQueues() *queues {
	return &queues{
		Collisions:      queue.New[model.Collision](),
		LaneInvasions:   queue.New[model.LaneInvasion](),
		ProximityAlerts: queue.New[model.ProximityAlert](),
		GnssFixes:       queue.New[model.GnssFix](),
		Performance:     queue.New[model.Performance](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	log       *slog.Logger
	queues    *queues
	sessionID atomic.Uint64

	flushMu sync.Mutex
	fixMu   sync.Mutex
	fixes   []core.GnssFix // for the route written at session end

	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:   deps,
		log:    deps.Logger,
		queues: newQueues(),
	}
}

// Init runs schema migration and starts the DB writer goroutine.
// If no DB was injected via Dependencies, it creates its own postgres connection.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.GetPostgresDBStandalone()
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.deps.DB = db
	}

	b.log.Info("Migrating schema", "dialect", b.deps.DB.Name())
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB { return b.deps.DB }

// Close stops the DB writer goroutine after a final flush.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	b.stopChan = nil
	return nil
}

// StartSession inserts the session row synchronously so queued rows can be
// stamped with its ID.
func (b *Backend) StartSession(s *core.Session) error {
	row := convert.CoreToSession(*s)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	b.sessionID.Store(uint64(row.ID))

	b.fixMu.Lock()
	b.fixes = nil
	b.fixMu.Unlock()
	return nil
}

// SessionID returns the row ID of the current session, 0 when none.
func (b *Backend) SessionID() uint {
	return uint(b.sessionID.Load())
}

// EndSession flushes pending rows and writes end time, tick count and route.
func (b *Backend) EndSession(s *core.Session) error {
	id := b.SessionID()
	if id == 0 {
		return nil
	}
	b.flush()

	updates := map[string]any{"end_time": time.Now()}
	if s != nil {
		if !s.EndTime.IsZero() {
			updates["end_time"] = s.EndTime
		}
		updates["ticks"] = uint(s.Ticks)
	}

	b.fixMu.Lock()
	fixes := b.fixes
	b.fixes = nil
	b.fixMu.Unlock()

	if route, err := geo.Route(fixes); err == nil {
		updates["route"] = route
		updates["route_length"] = geo.RouteLength(route, geo.MeanLatitude(fixes))
	}

	err := b.deps.DB.Model(&model.SessionRecord{}).Where("id = ?", id).Updates(updates).Error
	b.sessionID.Store(0)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	return nil
}

// RecordCollision converts and queues a collision.
func (b *Backend) RecordCollision(e *core.CollisionEvent) error {
	b.queues.Collisions.Push(convert.CoreToCollision(*e))
	return nil
}

// RecordLaneInvasion converts and queues a lane invasion.
func (b *Backend) RecordLaneInvasion(e *core.LaneInvasionEvent) error {
	b.queues.LaneInvasions.Push(convert.CoreToLaneInvasion(*e))
	return nil
}

// RecordProximity converts and queues a proximity transition.
func (b *Backend) RecordProximity(e *core.ProximityEvent) error {
	b.queues.ProximityAlerts.Push(convert.CoreToProximityAlert(*e))
	return nil
}

// RecordGnssFix converts and queues a fix and keeps it for the route.
func (b *Backend) RecordGnssFix(f *core.GnssFix) error {
	b.queues.GnssFixes.Push(convert.CoreToGnssFix(*f))
	b.fixMu.Lock()
	b.fixes = append(b.fixes, *f)
	b.fixMu.Unlock()
	return nil
}

// RecordPerformance converts and queues a performance snapshot.
func (b *Backend) RecordPerformance(p *core.PerformanceSnapshot) error {
	b.queues.Performance.Push(convert.CoreToPerformance(*p))
	return nil
}

// QueueLengths reports pending rows per table.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{
		"collisions":       b.queues.Collisions.Len(),
		"lane_invasions":   b.queues.LaneInvasions.Len(),
		"proximity_alerts": b.queues.ProximityAlerts.Len(),
		"gnss_fixes":       b.queues.GnssFixes.Len(),
		"performances":     b.queues.Performance.Len(),
	}
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items go back on the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger, stamp func([]T)) error {
	items := q.Drain()
	if len(items) == 0 {
		return nil
	}
	if stamp != nil {
		stamp(items)
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&items).Error
	})
	if err != nil {
		log.Error("Error writing queued rows", "table", name, "count", len(items), "error", err)
		q.Requeue(items)
		return err
	}
	return nil
}

// flush writes every queue once. Rows recorded before any session started
// are discarded.
func (b *Backend) flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	sessionID := b.SessionID()
	if sessionID == 0 {
		b.queues.Collisions.Clear()
		b.queues.LaneInvasions.Clear()
		b.queues.ProximityAlerts.Clear()
		b.queues.GnssFixes.Clear()
		b.queues.Performance.Clear()
		return nil
	}

	db := b.deps.DB
	return errors.Join(
		writeQueue(db, b.queues.Collisions, "collisions", b.log, func(items []model.Collision) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(db, b.queues.LaneInvasions, "lane invasions", b.log, func(items []model.LaneInvasion) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(db, b.queues.ProximityAlerts, "proximity alerts", b.log, func(items []model.ProximityAlert) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(db, b.queues.GnssFixes, "gnss fixes", b.log, func(items []model.GnssFix) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(db, b.queues.Performance, "performance", b.log, func(items []model.Performance) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
	)
}

// writeLoop periodically drains the queues into the DB.
func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			b.flush()
			return
		case <-ticker.C:
			b.flush()
		}
	}
}
