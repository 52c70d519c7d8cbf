package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ImmersiveDrive/simclient/internal/config"
	"github.com/ImmersiveDrive/simclient/internal/database"
	gormstorage "github.com/ImmersiveDrive/simclient/internal/storage/gorm"
)

// openHistoryDB opens the database the sessions were recorded to: an explicit
// SQLite file, the configured SQLite file or its newest dump, or Postgres.
func openHistoryDB(settings config.Settings, dbPath string) (*gorm.DB, func() error, error) {
	closeDB := func(db *gorm.DB) func() error {
		return func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}
	}

	if dbPath == "" && settings.Storage.Type == "sqlite" {
		dbPath = settings.Storage.SQLite.Path
		if dbPath == "" {
			dumps, err := database.GetBackupDBPaths(settings.Storage.SQLite.DumpDir)
			if err != nil {
				return nil, nil, fmt.Errorf("list dumps: %w", err)
			}
			if len(dumps) == 0 {
				return nil, nil, fmt.Errorf("no database dumps in %s", settings.Storage.SQLite.DumpDir)
			}
			// dump names carry the session start, so the newest sorts last
			slices.Sort(dumps)
			dbPath = dumps[len(dumps)-1]
		}
	}
	if dbPath != "" {
		if _, err := os.Stat(dbPath); err != nil {
			return nil, nil, err
		}
		db, err := database.GetSqliteDBStandalone(dbPath)
		if err != nil {
			return nil, nil, err
		}
		return db, closeDB(db), nil
	}

	m := database.NewManager(zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	if err := m.Connect(); err != nil {
		return nil, nil, err
	}
	if m.ShouldSaveLocal {
		return nil, nil, errors.Join(errors.New("postgres is unreachable and no SQLite file was given"), m.Close())
	}
	return m.DB, m.Close, nil
}

func listSessions(w io.Writer, settings config.Settings, dbPath string, limit int) (err error) {
	db, closeDB, err := openHistoryDB(settings, dbPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeDB()) }()

	sessions, err := gormstorage.ListSessions(db, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tDURATION\tMAP\tVEHICLE\tTICKS")
	for _, s := range sessions {
		dur := "-"
		if !s.EndTime.IsZero() {
			dur = s.EndTime.Sub(s.StartTime).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			s.ID, s.StartTime.Local().Format(time.DateTime), dur, s.MapName, s.VehicleBlueprint, s.Ticks)
	}
	return tw.Flush()
}

// historyOutput is the JSON printed per session by the history command.
type historyOutput struct {
	Session         string    `json:"session"`
	Map             string    `json:"map"`
	Vehicle         string    `json:"vehicle"`
	Started         time.Time `json:"started"`
	DurationSeconds float64   `json:"durationSeconds"`
	Ticks           uint64    `json:"ticks"`
	RouteLengthM    float64   `json:"routeLengthMetres"`
	Fixes           int       `json:"fixes"`
	LaneInvasions   int       `json:"laneInvasions"`
	ProximityAlerts int       `json:"proximityAlerts"`
	// Collisions maps tick to the summed collision intensity.
	Collisions map[uint64]float64 `json:"collisions"`
}

func printHistory(w io.Writer, settings config.Settings, dbPath string, sessionIDs []string) (err error) {
	db, closeDB, err := openHistoryDB(settings, dbPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeDB()) }()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	for _, id := range sessionIDs {
		h, err := gormstorage.LoadHistory(db, id)
		if err != nil {
			return err
		}
		out := historyOutput{
			Session:         h.Session.ID,
			Map:             h.Session.MapName,
			Vehicle:         h.Session.VehicleBlueprint,
			Started:         h.Session.StartTime,
			Ticks:           h.Session.Ticks,
			RouteLengthM:    h.RouteLength,
			Fixes:           h.Fixes,
			LaneInvasions:   len(h.LaneInvasions),
			ProximityAlerts: len(h.Proximity),
			Collisions:      make(map[uint64]float64, len(h.Collisions)),
		}
		if !h.Session.EndTime.IsZero() {
			out.DurationSeconds = h.Session.EndTime.Sub(h.Session.StartTime).Seconds()
		}
		for _, c := range h.Collisions {
			out.Collisions[c.Tick] = c.Intensity
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}
