package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func (l *testLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(":TEST:", func(e Event) error {
		got = e
		return nil
	})

	err := d.Dispatch(Event{Topic: ":TEST:", Tick: 7, Payload: 1.5})

	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Tick)
	assert.Equal(t, 1.5, got.Payload)
	assert.False(t, got.Timestamp.IsZero(), "timestamp is filled in")
}

func TestDispatcher_UnknownTopic(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(Event{Topic: ":UNKNOWN:"})
	assert.Error(t, err)
}

func TestDispatcher_FanOut(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var order []string
	d.Register(":FAN:", func(Event) error {
		order = append(order, "first")
		return errors.New("first failed")
	})
	d.Register(":FAN:", func(Event) error {
		order = append(order, "second")
		return nil
	})

	err := d.Dispatch(Event{Topic: ":FAN:"})

	assert.ErrorContains(t, err, "first failed")
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register(":BUFFERED:", func(e Event) error {
		processed.Add(1)
		wg.Done()
		return nil
	}, Buffered(100))

	for range 3 {
		assert.NoError(t, d.Dispatch(Event{Topic: ":BUFFERED:"}))
	}

	wg.Wait()
	assert.Equal(t, int32(3), processed.Load())
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{})
	block := make(chan struct{})
	var once sync.Once
	d.Register(":FULL:", func(e Event) error {
		once.Do(func() { close(started) })
		<-block
		return nil
	}, Buffered(2))

	require.NoError(t, d.Dispatch(Event{Topic: ":FULL:"})) // being processed
	<-started
	require.NoError(t, d.Dispatch(Event{Topic: ":FULL:"})) // queued
	require.NoError(t, d.Dispatch(Event{Topic: ":FULL:"})) // queued
	assert.Equal(t, 2, d.QueueLengths()[":FULL:"])

	err := d.Dispatch(Event{Topic: ":FULL:"})
	assert.ErrorContains(t, err, "queue full")

	close(block)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{})
	block := make(chan struct{})
	var once sync.Once
	d.Register(":BLOCKING:", func(e Event) error {
		once.Do(func() { close(started) })
		<-block
		return nil
	}, Buffered(1), Blocking())

	d.Dispatch(Event{Topic: ":BLOCKING:"})
	<-started
	d.Dispatch(Event{Topic: ":BLOCKING:"})

	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Topic: ":BLOCKING:"})
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-done
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":LOGGED:", func(e Event) error { return nil }, Logged(), Named("audio.collision"))

	require.NoError(t, d.Dispatch(Event{Topic: ":LOGGED:", Tick: 3}))

	msgs := logger.snapshot()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Contains(t, msgs[0], "audio.collision")
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":ERROR:", func(e Event) error {
		return fmt.Errorf("test error")
	}, Logged())

	assert.Error(t, d.Dispatch(Event{Topic: ":ERROR:"}))

	hasError := false
	for _, msg := range logger.snapshot() {
		if strings.HasPrefix(msg, "ERROR") {
			hasError = true
		}
	}
	assert.True(t, hasError, "expected error log message")
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":EXISTS:", func(e Event) error { return nil })

	assert.True(t, d.HasHandler(":EXISTS:"))
	assert.False(t, d.HasHandler(":NOT_EXISTS:"))
}

func TestDispatcher_CloseDrainsBufferedHandlers(t *testing.T) {
	logger := &testLogger{}
	d, err := New(logger)
	require.NoError(t, err)

	var processed atomic.Int32
	d.Register(":DRAIN:", func(e Event) error {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return nil
	}, Buffered(50))

	for range 20 {
		require.NoError(t, d.Dispatch(Event{Topic: ":DRAIN:"}))
	}
	d.Close()

	assert.Equal(t, int32(20), processed.Load())
	assert.ErrorIs(t, d.Dispatch(Event{Topic: ":DRAIN:"}), ErrClosed)

	// idempotent
	d.Close()
}

func TestDispatcher_BufferedErrorsAreLogged(t *testing.T) {
	logger := &testLogger{}
	d, err := New(logger)
	require.NoError(t, err)

	d.Register(":FAIL:", func(e Event) error { return errors.New("disk full") }, Buffered(4))
	require.NoError(t, d.Dispatch(Event{Topic: ":FAIL:"}))
	d.Close()

	msgs := logger.snapshot()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "disk full")
}
