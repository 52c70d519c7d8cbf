package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ContextProvider returns attributes that change while the process runs,
// such as the session ID and the current tick.
type ContextProvider func() []slog.Attr

// sink is one destination of a fanout.
type sink struct {
	name     string
	handler  slog.Handler
	failures *atomic.Uint64
}

func newSink(name string, h slog.Handler) sink {
	return sink{name: name, handler: h, failures: new(atomic.Uint64)}
}

// fanout hands every record to each sink enabled for its level. A sink that
// fails (Graylog unreachable, disk full) does not keep the record from the
// others.
type fanout struct {
	sinks []sink
}

func newFanout(sinks ...sink) *fanout {
	valid := make([]sink, 0, len(sinks))
	for _, s := range sinks {
		if s.handler != nil {
			valid = append(valid, s)
		}
	}
	return &fanout{sinks: valid}
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f.sinks {
		if s.handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if !s.handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.handler.Handle(ctx, r.Clone()); err != nil {
			s.failures.Add(1)
			errs = append(errs, fmt.Errorf("%s sink: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

// derive keeps the failure counters shared with f.
func (f *fanout) derive(fn func(slog.Handler) slog.Handler) *fanout {
	out := &fanout{sinks: make([]sink, len(f.sinks))}
	for i, s := range f.sinks {
		out.sinks[i] = sink{name: s.name, handler: fn(s.handler), failures: s.failures}
	}
	return out
}

// failures reports the Handle errors per sink name.
func (f *fanout) failures() map[string]uint64 {
	out := make(map[string]uint64, len(f.sinks))
	for _, s := range f.sinks {
		out[s.name] = s.failures.Load()
	}
	return out
}

// dynamicAttrs evaluates its providers for every record it handles. Inside a
// group the attributes land in that group.
type dynamicAttrs struct {
	inner     slog.Handler
	providers []ContextProvider
}

func withDynamicAttrs(inner slog.Handler, providers ...ContextProvider) slog.Handler {
	var valid []ContextProvider
	for _, p := range providers {
		if p != nil {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return inner
	}
	return &dynamicAttrs{inner: inner, providers: valid}
}

func (h *dynamicAttrs) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *dynamicAttrs) Handle(ctx context.Context, r slog.Record) error {
	for _, p := range h.providers {
		r.AddAttrs(p()...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *dynamicAttrs) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dynamicAttrs{inner: h.inner.WithAttrs(attrs), providers: h.providers}
}

func (h *dynamicAttrs) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &dynamicAttrs{inner: h.inner.WithGroup(name), providers: h.providers}
}
