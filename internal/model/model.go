package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []any{
	&SessionRecord{},
	&Collision{},
	&LaneInvasion{},
	&ProximityAlert{},
	&GnssFix{},
	&Performance{},
}

////////////////////////
// SESSION MODELS
////////////////////////

// SessionRecord is one drive from vehicle spawn to teardown.
type SessionRecord struct {
	gorm.Model
	SessionUID       string    `json:"sessionId" gorm:"size:36;uniqueIndex"`
	StartTime        time.Time `json:"startTime" gorm:"type:timestamptz;index:idx_session_start"`
	EndTime          time.Time `json:"endTime" gorm:"type:timestamptz"`
	Host             string    `json:"host" gorm:"size:255"`
	MapName          string    `json:"mapName" gorm:"size:127"`
	VehicleBlueprint string    `json:"vehicleBlueprint" gorm:"size:127"`
	VehicleID        uint32    `json:"vehicleId"`
	StepSeconds      float32   `json:"stepSeconds" gorm:"default:0.05"`
	ExtensionVersion string    `json:"extensionVersion" gorm:"size:64"`
	Ticks            uint      `json:"ticks"`

	Route       geom.LineString `json:"route"`       // projected GNSS track, EPSG:3857
	RouteLength float64         `json:"routeLength"` // metres on the ground

	Collisions      []Collision      `gorm:"foreignKey:SessionID"`
	LaneInvasions   []LaneInvasion   `gorm:"foreignKey:SessionID"`
	ProximityAlerts []ProximityAlert `gorm:"foreignKey:SessionID"`
}

func (*SessionRecord) TableName() string {
	return "sessions"
}

////////////////////////
// EVENT MODELS
////////////////////////

// Collision is reported by the collision sensor on the ego vehicle.
type Collision struct {
	ID         uint          `json:"id" gorm:"primarykey;autoIncrement;"`
	Time       time.Time     `json:"time" gorm:"type:timestamptz;"`
	SessionID  uint          `json:"sessionId" gorm:"index:idx_collision_session_id"`
	Session    SessionRecord `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick       uint          `json:"tick" gorm:"index:idx_collision_tick;"`
	OtherActor string        `json:"otherActor" gorm:"size:128"`
	ImpulseX   float64       `json:"impulseX"`
	ImpulseY   float64       `json:"impulseY"`
	ImpulseZ   float64       `json:"impulseZ"`
	Intensity  float64       `json:"intensity"` // magnitude of the normal impulse
}

func (*Collision) TableName() string {
	return "collisions"
}

// LaneInvasion lists the lane markings crossed in one step.
type LaneInvasion struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time      `json:"time" gorm:"type:timestamptz;"`
	SessionID uint           `json:"sessionId" gorm:"index:idx_laneinvasion_session_id"`
	Session   SessionRecord  `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick      uint           `json:"tick" gorm:"index:idx_laneinvasion_tick;"`
	Markings  datatypes.JSON `json:"markings"` // e.g. ["Broken","Solid"]
}

func (*LaneInvasion) TableName() string {
	return "lane_invasions"
}

// ProximityAlert marks the start or end of a radar proximity alert.
type ProximityAlert struct {
	ID        uint          `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time     `json:"time" gorm:"type:timestamptz;"`
	SessionID uint          `json:"sessionId" gorm:"index:idx_proximity_session_id"`
	Session   SessionRecord `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick      uint          `json:"tick"`
	Active    bool          `json:"active"`
	Nearest   *float64      `json:"nearest"` // nil when the sweep was empty
}

func (*ProximityAlert) TableName() string {
	return "proximity_alerts"
}

// GnssFix is one GNSS sample of the ego vehicle.
type GnssFix struct {
	ID        uint          `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time     `json:"time" gorm:"type:timestamptz;"`
	SessionID uint          `json:"sessionId" gorm:"index:idx_gnssfix_session_id"`
	Session   SessionRecord `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick      uint          `json:"tick" gorm:"index:idx_gnssfix_tick;"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Altitude  float64       `json:"altitude"`
	Position  geom.Point    `json:"position"` // EPSG:3857, altitude as Z
}

func (*GnssFix) TableName() string {
	return "gnss_fixes"
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// Performance is a periodic snapshot of the client's own health.
type Performance struct {
	ID             uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time           time.Time      `json:"time" gorm:"type:timestamptz;index:idx_performance_time"`
	SessionID      uint           `json:"sessionId" gorm:"index:idx_performance_session_id"`
	Session        SessionRecord  `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick           uint           `json:"tick"`
	LastTickMs     float32        `json:"lastTickMs"`
	CollisionCount int            `json:"collisionCount"`
	Feeds          datatypes.JSON `json:"feeds"`        // []FeedStats
	QueueLengths   datatypes.JSON `json:"queueLengths"` // map[topic]length
}

func (*Performance) TableName() string {
	return "performances"
}
