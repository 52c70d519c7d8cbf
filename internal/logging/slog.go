package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ServiceName is the instrumentation scope used for OTel log records.
const ServiceName = "drivesim"

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

// Options selects the sinks of a SlogManager.
type Options struct {
	Level string
	// File receives text records. When nil the console is used instead.
	File io.Writer
	// Provider enables the OTel bridge.
	Provider *sdklog.LoggerProvider
	// Graylog receives JSON records, see NewGraylogWriter. GraylogLevel
	// raises its threshold above Level; it never lowers it.
	Graylog      io.Writer
	GraylogLevel string
	// Context adds dynamic attributes (session, tick) to every record.
	Context ContextProvider
}

// SlogManager owns the process logger and the sinks behind it.
type SlogManager struct {
	logger *slog.Logger
	level  slog.LevelVar
	fan    *fanout

	logProvider *sdklog.LoggerProvider
	closers     []io.Closer
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// utcTime renders record timestamps as RFC3339 UTC.
func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
		}
	}
	return a
}

// atLeast is a Leveler that follows base but never goes below floor.
type atLeast struct {
	base  slog.Leveler
	floor slog.Level
}

func (l atLeast) Level() slog.Level {
	return max(l.base.Level(), l.floor)
}

// Setup builds the handler chain. Calling it again replaces the previous
// logger; sinks of the old logger are not closed.
func (m *SlogManager) Setup(opts Options) {
	m.level.Set(parseLevel(opts.Level))
	m.logProvider = opts.Provider

	text := &slog.HandlerOptions{Level: &m.level, ReplaceAttr: utcTime}

	var sinks []sink
	if opts.File != nil {
		sinks = append(sinks, newSink("file", slog.NewTextHandler(opts.File, text)))
	} else {
		sinks = append(sinks, newSink("console", slog.NewTextHandler(stdout, text)))
	}

	if opts.Graylog != nil {
		level := atLeast{base: &m.level, floor: parseLevel(opts.GraylogLevel)}
		if opts.GraylogLevel == "" {
			level.floor = slog.LevelDebug
		}
		sinks = append(sinks, newSink("graylog", slog.NewJSONHandler(opts.Graylog,
			&slog.HandlerOptions{Level: level, ReplaceAttr: utcTime})))
		if c, ok := opts.Graylog.(io.Closer); ok {
			m.closers = append(m.closers, c)
		}
	}

	if opts.Provider != nil {
		sinks = append(sinks, newSink("otel",
			otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(opts.Provider))))
	}

	m.fan = newFanout(sinks...)
	m.logger = slog.New(withDynamicAttrs(m.fan, opts.Context))
	m.logger.Info("Logging initialized", "level", m.level.Level().String(), "sinks", len(sinks))
}

// SetLevel changes the level of every sink.
func (m *SlogManager) SetLevel(level string) {
	m.level.Set(parseLevel(level))
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// SinkFailures reports write errors per sink, omitting sinks without any.
func (m *SlogManager) SinkFailures() map[string]uint64 {
	out := map[string]uint64{}
	if m.fan == nil {
		return out
	}
	for name, n := range m.fan.failures() {
		if n > 0 {
			out[name] = n
		}
	}
	return out
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// Close flushes and releases the network sinks.
func (m *SlogManager) Close(ctx context.Context) error {
	errs := []error{m.Flush(ctx)}
	for _, c := range m.closers {
		errs = append(errs, c.Close())
	}
	m.closers = nil
	return errors.Join(errs...)
}
