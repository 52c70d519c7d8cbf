package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName scopes the drive loop instruments.
const InstrumentationName = "github.com/ImmersiveDrive/simclient/internal/drive"

// DriveMetrics records per-tick figures of the drive loop.
type DriveMetrics struct {
	tickDuration metric.Float64Histogram
	waitDuration metric.Float64Histogram
	composed     metric.Int64Counter
	skipped      metric.Int64Counter
	collisions   metric.Int64Counter
}

// NewDriveMetrics creates the instruments on m.
func NewDriveMetrics(m metric.Meter) (*DriveMetrics, error) {
	dm := &DriveMetrics{}
	var err error

	dm.tickDuration, err = m.Float64Histogram(
		"drive.tick.duration",
		metric.WithDescription("Time spent in one client tick"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick histogram: %w", err)
	}

	dm.waitDuration, err = m.Float64Histogram(
		"drive.tick.wait",
		metric.WithDescription("Time spent waiting for the simulator to advance"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating wait histogram: %w", err)
	}

	dm.composed, err = m.Int64Counter(
		"drive.display.composed",
		metric.WithDescription("Camera slots drawn"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating composed counter: %w", err)
	}

	dm.skipped, err = m.Int64Counter(
		"drive.display.skipped",
		metric.WithDescription("Camera slots without a frame"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}

	dm.collisions, err = m.Int64Counter(
		"drive.collisions",
		metric.WithDescription("Collisions reported by the ego vehicle"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating collision counter: %w", err)
	}

	return dm, nil
}

// RecordTick adds one tick worth of measurements.
func (dm *DriveMetrics) RecordTick(ctx context.Context, mapName string, wait, total time.Duration, drawn, skipped int) {
	if dm == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("map", mapName))
	dm.tickDuration.Record(ctx, ms(total), attrs)
	dm.waitDuration.Record(ctx, ms(wait), attrs)
	dm.composed.Add(ctx, int64(drawn), attrs)
	dm.skipped.Add(ctx, int64(skipped), attrs)
}

// RecordCollision counts one collision against the other actor type.
func (dm *DriveMetrics) RecordCollision(ctx context.Context, other string) {
	if dm == nil {
		return
	}
	dm.collisions.Add(ctx, 1, metric.WithAttributes(attribute.String("other", other)))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
