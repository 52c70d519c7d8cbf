// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/geo"
	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// SessionExport is the root JSON structure
type SessionExport struct {
	SessionID        string  `json:"sessionId"`
	ExtensionVersion string  `json:"extensionVersion"`
	Host             string  `json:"host"`
	MapName          string  `json:"mapName"`
	VehicleBlueprint string  `json:"vehicleBlueprint"`
	StartTime        string  `json:"startTime"`
	EndTime          string  `json:"endTime"`
	StepSeconds      float64 `json:"stepSeconds"`
	Duration         float64 `json:"duration"`

	Collisions       []CollisionJSON        `json:"collisions"`
	CollisionHistory []core.CollisionRecord `json:"collisionHistory"` // intensity summed per tick
	LaneInvasions    []LaneJSON             `json:"laneInvasions"`
	Proximity        []ProximityJSON        `json:"proximity"`
	Route            string                 `json:"route,omitempty"` // WKT, EPSG:3857
	RouteLength      float64                `json:"routeLength"`
	Fixes            [][]float64            `json:"fixes"` // [tick, lon, lat, alt]
	Performance      []PerformanceJSON      `json:"performance"`
}

// CollisionJSON is one collision entry.
type CollisionJSON struct {
	Tick       uint64  `json:"tick"`
	OtherActor string  `json:"otherActor"`
	Intensity  float64 `json:"intensity"`
}

// LaneJSON is one lane invasion entry.
type LaneJSON struct {
	Tick     uint64   `json:"tick"`
	Markings []string `json:"markings"`
}

// ProximityJSON is one proximity transition. Nearest is -1 for an empty sweep.
type ProximityJSON struct {
	Tick    uint64  `json:"tick"`
	Active  bool    `json:"active"`
	Nearest float64 `json:"nearest"`
}

// PerformanceJSON is one monitor snapshot.
type PerformanceJSON struct {
	Tick         uint64           `json:"tick"`
	LastTickMs   float64          `json:"lastTickMs"`
	Feeds        []core.FeedStats `json:"feeds"`
	QueueLengths map[string]int   `json:"queueLengths,omitempty"`
}

// exportJSON writes the session data to a (gzipped) JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	mapName := strings.ReplaceAll(b.session.MapName, " ", "_")
	mapName = strings.ReplaceAll(mapName, "/", "_")
	if mapName == "" {
		mapName = "session"
	}
	timestamp := b.session.StartTime.Format("20060102_150405")

	filename := fmt.Sprintf("%s_%s.json", mapName, timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	b.lastExportMeta = core.UploadMetadata{
		SessionID:        export.SessionID,
		MapName:          export.MapName,
		VehicleBlueprint: export.VehicleBlueprint,
		Duration:         export.Duration,
	}
	return nil
}

func (b *Backend) buildExport() SessionExport {
	s := b.session
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}

	export := SessionExport{
		SessionID:        s.ID,
		ExtensionVersion: s.ExtensionVersion,
		Host:             s.Host,
		MapName:          s.MapName,
		VehicleBlueprint: s.VehicleBlueprint,
		StartTime:        s.StartTime.UTC().Format(time.RFC3339Nano),
		EndTime:          end.UTC().Format(time.RFC3339Nano),
		StepSeconds:      s.StepSeconds,
		Duration:         end.Sub(s.StartTime).Seconds(),
		Collisions:       make([]CollisionJSON, 0, len(b.collisions)),
		LaneInvasions:    make([]LaneJSON, 0, len(b.laneInvasions)),
		Proximity:        make([]ProximityJSON, 0, len(b.proximity)),
		Fixes:            make([][]float64, 0, len(b.fixes)),
		Performance:      make([]PerformanceJSON, 0, len(b.performance)),
	}

	byTick := make(map[uint64]float64)
	for _, c := range b.collisions {
		export.Collisions = append(export.Collisions, CollisionJSON{
			Tick:       c.Tick,
			OtherActor: c.OtherActor,
			Intensity:  c.Intensity(),
		})
		byTick[c.Tick] += c.Intensity()
	}
	export.CollisionHistory = make([]core.CollisionRecord, 0, len(byTick))
	for tick, intensity := range byTick {
		export.CollisionHistory = append(export.CollisionHistory, core.CollisionRecord{Tick: tick, Intensity: intensity})
	}
	sort.Slice(export.CollisionHistory, func(i, j int) bool {
		return export.CollisionHistory[i].Tick < export.CollisionHistory[j].Tick
	})

	for _, l := range b.laneInvasions {
		export.LaneInvasions = append(export.LaneInvasions, LaneJSON{Tick: l.Tick, Markings: l.Markings})
	}

	for _, p := range b.proximity {
		nearest := p.Nearest
		if math.IsInf(nearest, 0) || math.IsNaN(nearest) {
			nearest = -1
		}
		export.Proximity = append(export.Proximity, ProximityJSON{Tick: p.Tick, Active: p.Active, Nearest: nearest})
	}

	for _, f := range b.fixes {
		export.Fixes = append(export.Fixes, []float64{float64(f.Tick), f.Longitude, f.Latitude, f.Altitude})
	}
	if route, err := geo.Route(b.fixes); err == nil {
		export.Route = route.AsText()
		export.RouteLength = geo.RouteLength(route, geo.MeanLatitude(b.fixes))
	}

	for _, p := range b.performance {
		export.Performance = append(export.Performance, PerformanceJSON{
			Tick:         p.Tick,
			LastTickMs:   float64(p.LastTick) / float64(time.Millisecond),
			Feeds:        p.Feeds,
			QueueLengths: p.QueueLengths,
		})
	}

	return export
}

// GetExportedFilePath returns the file written by the last EndSession.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata describes the file written by the last EndSession.
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportMeta
}

func writeJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}
