package convert

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	original := core.Session{
		ID:               "5f0c",
		StartTime:        now,
		EndTime:          now.Add(time.Minute),
		Host:             "localhost:2000",
		MapName:          "Town03",
		VehicleBlueprint: "vehicle.audi.a2",
		VehicleID:        77,
		StepSeconds:      0.05,
		ExtensionVersion: "1.0.0",
		Ticks:            1800,
	}

	gormObj := CoreToSession(original)
	assert.Equal(t, "5f0c", gormObj.SessionUID)
	assert.Equal(t, uint32(77), gormObj.VehicleID)
	assert.Equal(t, uint(1800), gormObj.Ticks)

	back := SessionToCore(gormObj)
	assert.InDelta(t, 0.05, back.StepSeconds, 1e-6)
	back.StepSeconds = original.StepSeconds
	assert.Equal(t, original, back)
}

func TestCollisionRoundTrip(t *testing.T) {
	now := time.Now()
	original := core.CollisionEvent{
		Tick:          120,
		Time:          now,
		OtherActor:    "vehicle.tesla.model3",
		NormalImpulse: core.Vector3{X: 3, Y: 4},
	}

	gormObj := CoreToCollision(original)
	assert.Equal(t, uint(120), gormObj.Tick)
	assert.Equal(t, 5.0, gormObj.Intensity)

	assert.Equal(t, original, CollisionToCore(gormObj))
	assert.Equal(t, core.CollisionRecord{Tick: 120, Intensity: 5}, CollisionToRecord(gormObj))
}

func TestLaneInvasionRoundTrip(t *testing.T) {
	original := core.LaneInvasionEvent{Tick: 3, Markings: []string{"Broken", "Solid"}}
	gormObj := CoreToLaneInvasion(original)

	var markings []string
	require.NoError(t, json.Unmarshal(gormObj.Markings, &markings))
	assert.Equal(t, []string{"Broken", "Solid"}, markings)
	assert.Equal(t, original, LaneInvasionToCore(gormObj))

	empty := CoreToLaneInvasion(core.LaneInvasionEvent{Tick: 4})
	assert.JSONEq(t, "[]", string(empty.Markings))
}

func TestProximityAlert_InfiniteDistance(t *testing.T) {
	stop := CoreToProximityAlert(core.ProximityEvent{Tick: 9, Active: false, Nearest: math.Inf(1)})
	assert.Nil(t, stop.Nearest)
	assert.True(t, math.IsInf(ProximityAlertToCore(stop).Nearest, 1))

	start := CoreToProximityAlert(core.ProximityEvent{Tick: 8, Active: true, Nearest: 1.5})
	require.NotNil(t, start.Nearest)
	assert.Equal(t, 1.5, *start.Nearest)
	assert.Equal(t, 1.5, ProximityAlertToCore(start).Nearest)
}

func TestGnssFix_Projected(t *testing.T) {
	fix := core.GnssFix{Tick: 1, Longitude: 1, Latitude: 0, Altitude: 10}
	gormObj := CoreToGnssFix(fix)

	coord, ok := gormObj.Position.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 111319.49, coord.XY.X, 0.1)
	assert.Equal(t, 10.0, coord.Z)
	assert.Equal(t, fix, GnssFixToCore(gormObj))

	bad := CoreToGnssFix(core.GnssFix{Longitude: 400})
	assert.True(t, bad.Position.IsEmpty())
}

func TestCoreToPerformance(t *testing.T) {
	p := core.PerformanceSnapshot{
		Tick:           50,
		LastTick:       12 * time.Millisecond,
		CollisionCount: 2,
		Feeds:          []core.FeedStats{{Name: "front", Processed: 49}},
		QueueLengths:   map[string]int{":COLLISION:": 1},
	}
	gormObj := CoreToPerformance(p)
	assert.InDelta(t, 12.0, gormObj.LastTickMs, 1e-3)
	assert.Equal(t, uint(50), gormObj.Tick)
	assert.Contains(t, string(gormObj.Feeds), `"Name":"front"`)
	assert.JSONEq(t, `{":COLLISION:":1}`, string(gormObj.QueueLengths))

	empty := CoreToPerformance(core.PerformanceSnapshot{})
	assert.JSONEq(t, "[]", string(empty.Feeds))
	assert.JSONEq(t, "{}", string(empty.QueueLengths))
}
