package sensor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

// fakeServer records calls and lets tests deliver payloads by hand.
type fakeServer struct {
	mu        sync.Mutex
	nextID    core.ActorID
	specs     map[simhost.SensorID]simhost.SensorSpec
	callbacks map[simhost.SensorID]simhost.Callback
	stopped   []simhost.SensorID
	destroyed []core.ActorID

	attachErr    error
	subscribeErr error
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		nextID:    100,
		specs:     make(map[simhost.SensorID]simhost.SensorSpec),
		callbacks: make(map[simhost.SensorID]simhost.Callback),
	}
}

func (s *fakeServer) AdvanceTick(context.Context) (uint64, error) { return 0, nil }
func (s *fakeServer) SetSynchronousMode(context.Context, bool, time.Duration) error {
	return nil
}
func (s *fakeServer) SpawnVehicle(context.Context, string, *core.Transform) (core.ActorID, error) {
	return 1, nil
}

func (s *fakeServer) AttachSensor(_ context.Context, spec simhost.SensorSpec) (simhost.SensorID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachErr != nil {
		return 0, s.attachErr
	}
	s.nextID++
	s.specs[s.nextID] = spec
	return s.nextID, nil
}

func (s *fakeServer) Subscribe(id simhost.SensorID, cb simhost.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	if _, ok := s.specs[id]; !ok {
		return errors.New("unknown sensor")
	}
	s.callbacks[id] = cb
	return nil
}

func (s *fakeServer) StopSensor(_ context.Context, id simhost.SensorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, id)
	return nil
}

func (s *fakeServer) DestroyActor(_ context.Context, id core.ActorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = append(s.destroyed, id)
	return nil
}

func (s *fakeServer) ApplyControl(context.Context, core.ActorID, core.ControlCommand) error {
	return nil
}

func (s *fakeServer) Close() error { return nil }

// deliver invokes the callback the client registered, as the server would.
func (s *fakeServer) deliver(id simhost.SensorID, p simhost.Payload) {
	s.mu.Lock()
	cb := s.callbacks[id]
	s.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (s *fakeServer) spec(id simhost.SensorID) simhost.SensorSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specs[id]
}

func bgra(w, h int, b, g, r byte) []byte {
	raw := make([]byte, 0, w*h*4)
	for range w * h {
		raw = append(raw, b, g, r, 255)
	}
	return raw
}
