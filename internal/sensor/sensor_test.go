package sensor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

func TestCameraConfig_Validate(t *testing.T) {
	base := CameraConfig{Name: "front"}.WithDefaults(1360, 768)
	require.NoError(t, base.Validate())
	assert.Equal(t, 1360, base.ImageWidth)
	assert.Equal(t, DefaultFOV, base.FOV)

	tests := []struct {
		name   string
		mutate func(*CameraConfig)
	}{
		{"no name", func(c *CameraConfig) { c.Name = "" }},
		{"zero width", func(c *CameraConfig) { c.ImageWidth = 0 }},
		{"fov 180", func(c *CameraConfig) { c.FOV = 180 }},
		{"negative fov", func(c *CameraConfig) { c.FOV = -1 }},
		{"negative tick", func(c *CameraConfig) { c.SensorTick = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestCameraConfig_Spec(t *testing.T) {
	c := CameraConfig{
		Name:        "left",
		Transform:   core.Transform{Location: core.Location{X: -0.32, Y: -0.25, Z: 1.3}, Rotation: core.Rotation{Yaw: -40, Pitch: -2}},
		ImageWidth:  1360,
		ImageHeight: 768,
		FOV:         40,
		SensorTick:  0.05,
	}
	spec := c.Spec(7)

	assert.Equal(t, simhost.SensorRGBCamera, spec.Kind)
	assert.Equal(t, core.ActorID(7), spec.Parent)
	assert.Equal(t, c.Transform, spec.Transform)
	assert.Equal(t, map[string]string{
		"image_size_x": "1360",
		"image_size_y": "768",
		"fov":          "40",
		"sensor_tick":  "0.05",
	}, spec.Attributes)
}

func TestDecodeBGRA(t *testing.T) {
	// 2x1 image: left pixel red, right pixel blue (BGRA order)
	p := &simhost.ImagePayload{
		Header: simhost.Header{Tick: 9},
		Width:  2, Height: 1,
		Raw: []byte{0, 0, 255, 255, 255, 0, 0, 255},
	}

	f, err := DecodeBGRA(p, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 0, 0, 0, 0, 255}, f.Pix)
	assert.Equal(t, uint64(9), f.Tick)

	mirrored, err := DecodeBGRA(p, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 255, 255, 0, 0}, mirrored.Pix)
}

func TestDecodeBGRA_Malformed(t *testing.T) {
	tests := []struct {
		name string
		p    *simhost.ImagePayload
	}{
		{"nil", nil},
		{"zero size", &simhost.ImagePayload{}},
		{"short", &simhost.ImagePayload{Width: 2, Height: 2, Raw: make([]byte, 12)}},
		{"long", &simhost.ImagePayload{Width: 1, Height: 1, Raw: make([]byte, 5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBGRA(tt.p, false)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestRegistry_AttachAndDeliver(t *testing.T) {
	srv := newFakeServer()
	reg := NewRegistry(srv, nil)
	ctx := context.Background()

	feed, err := reg.Attach(ctx, CameraConfig{Name: "front"}.WithDefaults(4, 2), 1)
	require.NoError(t, err)
	assert.Equal(t, "4", srv.spec(feed.ID()).Attributes["image_size_x"])

	srv.deliver(feed.ID(), &simhost.ImagePayload{
		Header: simhost.Header{SensorID: feed.ID(), Tick: 3},
		Width:  4, Height: 2, Raw: bgra(4, 2, 1, 2, 3),
	})

	frame, ok := feed.Buffer().Read()
	require.True(t, ok)
	assert.Equal(t, "front", frame.SensorID)
	assert.Equal(t, []byte{3, 2, 1}, frame.Pix[:3])

	stats := feed.Stats()
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Zero(t, stats.Dropped)
	assert.Equal(t, []string{"front"}, feedNames(reg.Stats()))
}

func TestRegistry_MalformedKeepsPreviousFrame(t *testing.T) {
	srv := newFakeServer()
	reg := NewRegistry(srv, nil)

	feed, err := reg.Attach(context.Background(), CameraConfig{Name: "front"}.WithDefaults(2, 2), 1)
	require.NoError(t, err)

	good := &simhost.ImagePayload{Width: 2, Height: 2, Raw: bgra(2, 2, 0, 0, 200)}
	srv.deliver(feed.ID(), good)
	first, _ := feed.Buffer().Read()

	srv.deliver(feed.ID(), &simhost.ImagePayload{Width: 2, Height: 2, Raw: []byte{1, 2}})
	srv.deliver(feed.ID(), &simhost.CollisionPayload{})

	after, ok := feed.Buffer().Read()
	require.True(t, ok)
	assert.Same(t, first, after)
	assert.Equal(t, uint64(2), feed.Stats().Dropped)
}

func TestRegistry_NoWritesAfterStop(t *testing.T) {
	srv := newFakeServer()
	reg := NewRegistry(srv, nil)
	ctx := context.Background()

	feed, err := reg.Attach(ctx, CameraConfig{Name: "front"}.WithDefaults(2, 2), 1)
	require.NoError(t, err)

	require.NoError(t, reg.Stop(ctx))
	assert.Equal(t, []simhost.SensorID{feed.ID()}, srv.stopped)

	// a late delivery after stop
	srv.deliver(feed.ID(), &simhost.ImagePayload{Width: 2, Height: 2, Raw: bgra(2, 2, 1, 1, 1)})
	_, ok := feed.Buffer().Read()
	assert.False(t, ok)

	require.NoError(t, reg.Close(ctx))
	assert.Equal(t, []core.ActorID{feed.ID()}, srv.destroyed)
	assert.Empty(t, reg.Feeds())

	// callbacks for removed feeds are dropped
	srv.deliver(feed.ID(), &simhost.ImagePayload{Width: 2, Height: 2, Raw: bgra(2, 2, 1, 1, 1)})
	_, ok = reg.Lookup(feed.ID())
	assert.False(t, ok)
}

func TestRegistry_AttachErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewRegistry(newFakeServer(), nil).Attach(ctx, CameraConfig{Name: "bad"}, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	srv := newFakeServer()
	srv.attachErr = errors.New("no blueprint")
	_, err = NewRegistry(srv, nil).Attach(ctx, CameraConfig{Name: "front"}.WithDefaults(2, 2), 1)
	assert.ErrorContains(t, err, "no blueprint")

	srv = newFakeServer()
	srv.subscribeErr = errors.New("stream closed")
	reg := NewRegistry(srv, nil)
	_, err = reg.Attach(ctx, CameraConfig{Name: "front"}.WithDefaults(2, 2), 1)
	assert.ErrorContains(t, err, "stream closed")
	assert.Empty(t, srv.destroyed)
	assert.Len(t, reg.Feeds(), 1, "kept for Close")
	require.NoError(t, reg.Close(ctx))
	assert.Len(t, srv.destroyed, 1)
	assert.Empty(t, reg.Feeds())
}

func feedNames(stats []core.FeedStats) []string {
	out := make([]string, len(stats))
	for i, s := range stats {
		out[i] = s.Name
	}
	return out
}
