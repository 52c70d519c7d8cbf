package worker

import (
	"fmt"

	"github.com/ImmersiveDrive/simclient/internal/dispatcher"
	"github.com/ImmersiveDrive/simclient/internal/sensor"
	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// RegisterHandlers registers the recording handlers with the dispatcher.
// They are buffered so a slow backend never stalls a sensor callback.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(sensor.TopicCollision, m.handleCollision, dispatcher.Named("record.collision"), dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(sensor.TopicLaneInvasion, m.handleLaneInvasion, dispatcher.Named("record.lane"), dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(sensor.TopicProximity, m.handleProximity, dispatcher.Named("record.proximity"), dispatcher.Buffered(1000), dispatcher.Logged())

	// One fix per tick
	d.Register(sensor.TopicGnss, m.handleGnssFix, dispatcher.Named("record.gnss"), dispatcher.Buffered(5000), dispatcher.Logged())
}

func (m *Manager) handleCollision(e dispatcher.Event) error {
	ev, ok := e.Payload.(core.CollisionEvent)
	if !ok {
		return fmt.Errorf("collision payload %T", e.Payload)
	}
	return m.record("collision", func() error { return m.backend.RecordCollision(&ev) })
}

func (m *Manager) handleLaneInvasion(e dispatcher.Event) error {
	ev, ok := e.Payload.(core.LaneInvasionEvent)
	if !ok {
		return fmt.Errorf("lane invasion payload %T", e.Payload)
	}
	return m.record("lane invasion", func() error { return m.backend.RecordLaneInvasion(&ev) })
}

func (m *Manager) handleProximity(e dispatcher.Event) error {
	ev, ok := e.Payload.(core.ProximityEvent)
	if !ok {
		return fmt.Errorf("proximity payload %T", e.Payload)
	}
	return m.record("proximity", func() error { return m.backend.RecordProximity(&ev) })
}

func (m *Manager) handleGnssFix(e dispatcher.Event) error {
	fix, ok := e.Payload.(core.GnssFix)
	if !ok {
		return fmt.Errorf("gnss payload %T", e.Payload)
	}
	return m.record("gnss fix", func() error { return m.backend.RecordGnssFix(&fix) })
}
