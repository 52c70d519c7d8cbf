package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), config.OTelConfig{}, nil, "test")
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, Disabled(), p)
	assert.IsType(t, noop.Meter{}, p.Meter("x"))
}

func TestNew_EnabledWithoutSink(t *testing.T) {
	_, err := New(context.Background(), config.OTelConfig{Enabled: true, ServiceName: "drivesim"}, nil, "test")
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_WritesToLogWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(context.Background(), config.OTelConfig{
		Enabled:      true,
		ServiceName:  "drivesim",
		BatchTimeout: time.Second,
	}, &buf, "v9.9.9")
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())

	logger := p.LoggerProvider().Logger("test")
	var rec otellog.Record
	rec.SetBody(otellog.StringValue("tick advanced"))
	logger.Emit(context.Background(), rec)

	require.NoError(t, p.LoggerProvider().ForceFlush(context.Background()))
	assert.Contains(t, buf.String(), "tick advanced")
	assert.Contains(t, buf.String(), "drivesim")
	assert.Contains(t, buf.String(), "v9.9.9")
	assert.True(t, p.Enabled())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDriveMetrics_NoopMeter(t *testing.T) {
	dm, err := NewDriveMetrics(noop.Meter{})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		dm.RecordTick(context.Background(), "Town04", time.Millisecond, 5*time.Millisecond, 6, 0)
		dm.RecordCollision(context.Background(), "vehicle.audi")
	})

	var nilMetrics *DriveMetrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordTick(context.Background(), "Town04", 0, 0, 0, 0)
	})
}
