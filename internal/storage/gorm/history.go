package gormstorage

import (
	"fmt"

	"github.com/ImmersiveDrive/simclient/internal/model"
	"github.com/ImmersiveDrive/simclient/internal/model/convert"
	"github.com/ImmersiveDrive/simclient/pkg/core"

	"gorm.io/gorm"
)

// History is everything recorded for one session, as printed by the CLI.
type History struct {
	Session       core.Session
	Collisions    []core.CollisionRecord // intensity summed per tick, tick order
	LaneInvasions []core.LaneInvasionEvent
	Proximity     []core.ProximityEvent
	Fixes         int
	RouteLength   float64
}

// ListSessions returns recorded sessions, newest first.
func ListSessions(db *gorm.DB, limit int) ([]core.Session, error) {
	var rows []model.SessionRecord
	q := db.Order("start_time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]core.Session, len(rows))
	for i, r := range rows {
		out[i] = convert.SessionToCore(r)
	}
	return out, nil
}

// LoadHistory reads the history of the session with the given ID.
func LoadHistory(db *gorm.DB, sessionUID string) (*History, error) {
	var row model.SessionRecord
	if err := db.Where("session_uid = ?", sessionUID).First(&row).Error; err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionUID, err)
	}

	h := &History{Session: convert.SessionToCore(row), RouteLength: row.RouteLength}

	if err := db.Model(&model.Collision{}).
		Select("tick, SUM(intensity) AS intensity").
		Where("session_id = ?", row.ID).
		Group("tick").
		Order("tick").
		Scan(&h.Collisions).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate collisions: %w", err)
	}

	var lanes []model.LaneInvasion
	if err := db.Where("session_id = ?", row.ID).Order("tick").Find(&lanes).Error; err != nil {
		return nil, fmt.Errorf("failed to read lane invasions: %w", err)
	}
	for _, l := range lanes {
		h.LaneInvasions = append(h.LaneInvasions, convert.LaneInvasionToCore(l))
	}

	var alerts []model.ProximityAlert
	if err := db.Where("session_id = ?", row.ID).Order("tick").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to read proximity alerts: %w", err)
	}
	for _, a := range alerts {
		h.Proximity = append(h.Proximity, convert.ProximityAlertToCore(a))
	}

	var fixes int64
	if err := db.Model(&model.GnssFix{}).Where("session_id = ?", row.ID).Count(&fixes).Error; err != nil {
		return nil, fmt.Errorf("failed to count fixes: %w", err)
	}
	h.Fixes = int(fixes)

	return h, nil
}
