// Package otel sets up the OpenTelemetry log pipeline and the drive loop
// instruments.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ImmersiveDrive/simclient/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrNoExporter is returned when OTel is enabled without a sink.
var ErrNoExporter = errors.New("otel enabled but no log writer or endpoint configured")

// Provider owns the log pipeline. Metrics come from the global meter
// provider so that the dispatcher and the drive loop share it.
type Provider struct {
	logs    *sdklog.LoggerProvider
	enabled bool
}

// Disabled returns a provider that exports nothing.
func Disabled() *Provider {
	return &Provider{}
}

// New builds the log pipeline. logWriter receives pretty printed records and
// may be nil when an endpoint is configured. version tags the resource.
func New(ctx context.Context, cfg config.OTelConfig, logWriter io.Writer, version string) (*Provider, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}

	exporters, err := logExporters(ctx, cfg, logWriter)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	var batch []sdklog.BatchProcessorOption
	if cfg.BatchTimeout > 0 {
		batch = append(batch, sdklog.WithExportTimeout(cfg.BatchTimeout))
	}
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, exp := range exporters {
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp, batch...)))
	}

	return &Provider{logs: sdklog.NewLoggerProvider(opts...), enabled: true}, nil
}

// logExporters returns one exporter per configured sink: the log file and
// the OTLP endpoint.
func logExporters(ctx context.Context, cfg config.OTelConfig, w io.Writer) ([]sdklog.Exporter, error) {
	var out []sdklog.Exporter
	if w != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(w), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("otel file exporter: %w", err)
		}
		out = append(out, exp)
	}
	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otel OTLP exporter %s: %w", cfg.Endpoint, err)
		}
		out = append(out, exp)
	}
	if len(out) == 0 {
		return nil, ErrNoExporter
	}
	return out, nil
}

// LoggerProvider is nil unless OTel is enabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logs
}

// Meter returns a no-op meter when OTel is disabled.
func (p *Provider) Meter(name string) metric.Meter {
	if !p.enabled {
		return noop.Meter{}
	}
	return otel.GetMeterProvider().Meter(name)
}

// Shutdown exports what is still batched and stops the pipeline.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logs == nil {
		return nil
	}
	if err := p.logs.Shutdown(ctx); err != nil {
		return fmt.Errorf("otel log shutdown: %w", err)
	}
	return nil
}

func (p *Provider) Enabled() bool {
	return p.enabled
}
