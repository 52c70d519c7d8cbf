package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/ImmersiveDrive/simclient/internal/dispatcher"

// instruments are taken from the global meter provider, which is a no-op
// until otel.New installs one.
type instruments struct {
	queued    metric.Int64ObservableGauge
	processed metric.Int64Counter
	failed    metric.Int64Counter
	dropped   metric.Int64Counter
	latency   metric.Float64Histogram
}

func newInstruments(queueLengths func() map[string]int) (*instruments, error) {
	m := otel.Meter(instrumentationName)
	in := &instruments{}

	var err error
	if in.queued, err = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Sensor events waiting in a handler queue"),
	); err != nil {
		return nil, fmt.Errorf("creating queue gauge: %w", err)
	}
	if _, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for name, n := range queueLengths() {
			o.ObserveInt64(in.queued, int64(n), handlerAttr(name))
		}
		return nil
	}, in.queued); err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}
	if in.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Sensor events handled by a buffered handler"),
	); err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if in.failed, err = m.Int64Counter("dispatcher.events.failed",
		metric.WithDescription("Sensor events whose buffered handler returned an error"),
	); err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	if in.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Sensor events refused by a full handler queue"),
	); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if in.latency, err = m.Float64Histogram("dispatcher.handler.duration",
		metric.WithDescription("Time a buffered handler spends on one event"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("creating latency histogram: %w", err)
	}
	return in, nil
}

func handlerAttr(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("handler", name))
}

// handled records one buffered event. err is the handler's result.
func (in *instruments) handled(attr metric.MeasurementOption, took time.Duration, err error) {
	ctx := context.Background()
	in.processed.Add(ctx, 1, attr)
	in.latency.Record(ctx, float64(took.Microseconds())/1000, attr)
	if err != nil {
		in.failed.Add(ctx, 1, attr)
	}
}

func (in *instruments) refused(attr metric.MeasurementOption) {
	in.dropped.Add(context.Background(), 1, attr)
}
