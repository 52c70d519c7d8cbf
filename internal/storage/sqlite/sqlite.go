// Package sqlitestorage records sessions into SQLite. A file database is
// written directly; an in-memory database is snapshotted to DumpPath on an
// interval and once more on Close. Recording itself is the GORM backend.
package sqlitestorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/database"
	gormstorage "github.com/ImmersiveDrive/simclient/internal/storage/gorm"

	"gorm.io/gorm"
)

type Config struct {
	// Path is the database file. Empty means in-memory with dumps.
	Path         string
	DumpInterval time.Duration
	DumpPath     string
}

type Backend struct {
	*gormstorage.Backend
	db  *gorm.DB
	cfg Config
	log *slog.Logger

	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	dumps    int
	lastDump time.Time
}

func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := database.GetSqliteDBStandalone(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", cfg.Path, err)
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{DB: db, Logger: logger}),
		db:      db,
		cfg:     cfg,
		log:     logger.With("component", "sqlite"),
	}, nil
}

func (b *Backend) inMemory() bool {
	return b.cfg.Path == "" && b.cfg.DumpPath != ""
}

// Init migrates the schema and, for an in-memory database with an interval,
// starts the periodic dump.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.inMemory() && b.cfg.DumpInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		b.stop = cancel
		b.wg.Add(1)
		go b.dumpEvery(ctx, b.cfg.DumpInterval)
	}
	return nil
}

// Close stops the periodic dump, flushes the GORM queues and writes the
// final snapshot before releasing the database.
func (b *Backend) Close() error {
	if b.stop != nil {
		b.stop()
		b.wg.Wait()
		b.stop = nil
	}
	err := b.Backend.Close()
	if b.inMemory() {
		err = errors.Join(err, b.Dump())
	}
	if sqlDB, dbErr := b.db.DB(); dbErr == nil {
		err = errors.Join(err, sqlDB.Close())
	}
	return err
}

func (b *Backend) dumpEvery(ctx context.Context, interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Dump(); err != nil {
				b.log.Error("Snapshot failed", "path", b.cfg.DumpPath, "error", err)
				continue
			}
			b.log.Debug("Snapshot written", "path", b.cfg.DumpPath, "duration", time.Since(start))
		}
	}
}

// Dump snapshots the database to DumpPath. The snapshot is written beside
// the target and renamed over it, so a reader never sees a partial file.
func (b *Backend) Dump() error {
	if b.cfg.DumpPath == "" {
		return errors.New("sqlite dump path not set")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	tmp := b.cfg.DumpPath + ".partial"
	if err := database.DumpMemoryDBToDisk(b.db, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.cfg.DumpPath); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	b.dumps++
	b.lastDump = time.Now()
	return nil
}

// Dumps reports how many snapshots were written and when the last one was.
func (b *Backend) Dumps() (int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dumps, b.lastDump
}
