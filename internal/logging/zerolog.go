package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// debugBurst caps debug records per second from a KV logger. The dispatcher
// logs every event of a Logged handler at debug level.
const debugBurst = 200

// KV exposes a zerolog.Logger through the key/value method set the
// dispatcher expects.
type KV struct {
	logger zerolog.Logger
}

// NewKV tags every record with component. Debug records beyond debugBurst per
// second are sampled away.
func NewKV(logger zerolog.Logger, component string) *KV {
	sampled := logger.Sample(zerolog.LevelSampler{
		DebugSampler: &zerolog.BurstSampler{Burst: debugBurst, Period: time.Second},
	})
	return &KV{logger: sampled.With().Str("component", component).Logger()}
}

func (l *KV) Debug(msg string, keysAndValues ...any) {
	l.emit(l.logger.Debug(), msg, keysAndValues)
}

func (l *KV) Info(msg string, keysAndValues ...any) {
	l.emit(l.logger.Info(), msg, keysAndValues)
}

func (l *KV) Warn(msg string, keysAndValues ...any) {
	l.emit(l.logger.Warn(), msg, keysAndValues)
}

func (l *KV) Error(msg string, keysAndValues ...any) {
	l.emit(l.logger.Error(), msg, keysAndValues)
}

// emit appends the pairs in order. Non-string keys are skipped with their
// value, errors are rendered with Error(), and a trailing key is written as
// null.
func (l *KV) emit(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if i+1 == len(kv) {
			e = e.Interface(key, nil)
			break
		}
		switch v := kv[i+1].(type) {
		case error:
			e = e.Str(key, v.Error())
		case string:
			e = e.Str(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

// NewZerolog returns the logger of the infrastructure managers (database,
// InfluxDB, dispatcher) at the level of the slog chain.
func NewZerolog(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
