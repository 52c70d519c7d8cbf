package influx

import (
	"time"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// TickSample is what the drive loop measured for one tick.
type TickSample struct {
	Time    time.Time
	Session string
	Map     string
	Tick    uint64
	Wait    time.Duration // time spent in AdvanceTick
	Step    time.Duration // whole loop iteration
	Compose time.Duration
	Drawn   int
	Skipped int
	Command core.ControlCommand
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// TickPoint builds the "tick" measurement.
func TickPoint(s TickSample) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("tick").
		AddTag("session", s.Session).
		AddTag("map", s.Map).
		AddField("tick", int64(s.Tick)).
		AddField("wait_ms", ms(s.Wait)).
		AddField("tick_ms", ms(s.Step)).
		AddField("compose_ms", ms(s.Compose)).
		AddField("drawn", s.Drawn).
		AddField("skipped", s.Skipped).
		AddField("throttle", s.Command.Throttle).
		AddField("brake", s.Command.Brake).
		AddField("steer", s.Command.Steer).
		AddField("gear", s.Command.Gear).
		AddField("hand_brake", s.Command.HandBrake).
		SetTime(s.Time)
	return p.SortTags().SortFields()
}

// FeedPoint builds the "feed" measurement for one camera.
func FeedPoint(session string, f core.FeedStats, t time.Time) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("feed").
		AddTag("session", session).
		AddTag("feed", f.Name).
		AddField("processed", int64(f.Processed)).
		AddField("dropped", int64(f.Dropped)).
		AddField("mean_decode_ms", ms(f.MeanDecode())).
		SetTime(t)
	return p.SortTags().SortFields()
}

// WriteTick writes the tick point and one feed point per camera.
func (m *Manager) WriteTick(s TickSample, feeds []core.FeedStats) error {
	if err := m.WritePoint(PerformanceBucket, TickPoint(s)); err != nil {
		return err
	}
	for _, f := range feeds {
		if err := m.WritePoint(PerformanceBucket, FeedPoint(s.Session, f, s.Time)); err != nil {
			return err
		}
	}
	return nil
}
