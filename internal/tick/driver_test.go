package tick

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

type syncCall struct {
	enabled bool
	step    time.Duration
}

type fakeServer struct {
	simhost.Server

	mu      sync.Mutex
	frame   uint64
	block   chan struct{}
	err     error
	syncs   []syncCall
	syncErr error
}

func (s *fakeServer) AdvanceTick(ctx context.Context) (uint64, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.frame++
	return s.frame, nil
}

func (s *fakeServer) SetSynchronousMode(_ context.Context, enabled bool, step time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs = append(s.syncs, syncCall{enabled, step})
	return s.syncErr
}

func (s *fakeServer) ApplyControl(context.Context, core.ActorID, core.ControlCommand) error {
	return nil
}

func TestDriver_Advance(t *testing.T) {
	srv := &fakeServer{frame: 100}
	d := New(srv, Config{}, nil, nil)
	assert.Equal(t, DefaultStep, d.Step())

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.Synchronous())

	for i := 1; i <= 3; i++ {
		res, err := d.Advance(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i), res.Tick)
		assert.Equal(t, uint64(100+i), res.Frame)
	}
	assert.Equal(t, uint64(3), d.Tick())

	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, []syncCall{{true, DefaultStep}, {false, 0}}, srv.syncs)
}

func TestDriver_Timeout(t *testing.T) {
	srv := &fakeServer{block: make(chan struct{})}
	defer close(srv.block)

	d := New(srv, Config{Timeout: 20 * time.Millisecond}, nil, nil)
	start := time.Now()
	_, err := d.Advance(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(0), d.Tick())
}

func TestDriver_Cancelled(t *testing.T) {
	srv := &fakeServer{block: make(chan struct{})}
	defer close(srv.block)

	d := New(srv, Config{Timeout: time.Minute}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Advance(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestDriver_ServerError(t *testing.T) {
	boom := errors.New("world gone")
	d := New(&fakeServer{err: boom}, Config{}, nil, nil)
	_, err := d.Advance(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestDriver_StartFailure(t *testing.T) {
	srv := &fakeServer{syncErr: errors.New("refused")}
	d := New(srv, Config{Step: 10 * time.Millisecond}, nil, nil)

	assert.ErrorContains(t, d.Start(context.Background()), "refused")
	assert.False(t, d.Synchronous())
	assert.NoError(t, d.Stop(context.Background()), "nothing to restore")
	assert.Len(t, srv.syncs, 1)
}
