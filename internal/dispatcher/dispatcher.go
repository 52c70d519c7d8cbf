// Package dispatcher routes sensor events from simulator callback goroutines
// to the components that consume them.
package dispatcher

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// Event is one sensor delivery published under a topic.
type Event struct {
	Topic     string
	Tick      uint64
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	name       string
	bufferSize int
	blocking   bool
	logged     bool
}

// Named labels the handler in logs and metrics. Defaults to the topic.
func Named(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type buffer struct {
	name string
	ch   chan Event
}

// Dispatcher routes events to every handler registered for their topic.
// Synchronous handlers run on the publishing goroutine and must not block.
type Dispatcher struct {
	logger  Logger
	metrics *instruments

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	buffers  []buffer
	closed   bool
	wg       sync.WaitGroup
}

// New creates a Dispatcher. Metrics go to the global OTel meter provider.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string][]HandlerFunc),
		logger:   logger,
	}
	metrics, err := newInstruments(d.QueueLengths)
	if err != nil {
		return nil, err
	}
	d.metrics = metrics
	return d, nil
}

// Register adds a handler for the topic. Several handlers may share a topic;
// they run in registration order.
func (d *Dispatcher) Register(topic string, h HandlerFunc, opts ...Option) {
	cfg := &config{name: topic}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(cfg.name, handler)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(cfg.name, cfg.bufferSize, cfg.blocking, handler)
	}

	d.handlers[topic] = append(d.handlers[topic], handler)
}

// Dispatch hands the event to every handler of its topic. Errors from the
// handlers are joined; a failing handler does not stop the others.
func (d *Dispatcher) Dispatch(e Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	hs, ok := d.handlers[e.Topic]
	if !ok {
		return fmt.Errorf("unknown topic: %s", e.Topic)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var errs []error
	for _, h := range hs {
		if err := h(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HasHandler returns true if a handler is registered for the topic.
func (d *Dispatcher) HasHandler(topic string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[topic]
	return ok
}

// QueueLengths reports the number of waiting events per buffered handler.
func (d *Dispatcher) QueueLengths() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.buffers))
	for _, b := range d.buffers {
		out[b.name] += len(b.ch)
	}
	return out
}

// Close rejects further events and waits until buffered handlers have
// drained their queues.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, b := range d.buffers {
		close(b.ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// withBuffer must be called with d.mu held.
func (d *Dispatcher) withBuffer(name string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	ch := make(chan Event, size)
	d.buffers = append(d.buffers, buffer{name: name, ch: ch})

	attr := handlerAttr(name)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range ch {
			start := time.Now()
			err := h(e)
			if err != nil && d.logger != nil {
				d.logger.Error("buffered handler failed", "handler", name, "error", err)
			}
			d.metrics.handled(attr, time.Since(start), err)
		}
	}()

	if blocking {
		return func(e Event) error {
			ch <- e
			return nil
		}
	}

	return func(e Event) error {
		select {
		case ch <- e:
			return nil
		default:
			d.metrics.refused(attr)
			return fmt.Errorf("queue full: %s", name)
		}
	}
}

func (d *Dispatcher) withLogging(name string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling event", "handler", name, "tick", e.Tick)

		err := h(e)

		if err != nil {
			d.logger.Error("event failed", "handler", name, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "handler", name, "duration", time.Since(start))
		}

		return err
	}
}
