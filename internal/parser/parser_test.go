package parser

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/audio"
	"github.com/ImmersiveDrive/simclient/internal/control"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestParser() *Parser {
	return NewParser(slog.New(slog.DiscardHandler), epoch)
}

func TestParseSensorData(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name  string
		input string
		check func(t *testing.T, got simhost.Payload)
	}{
		{
			name:  "camera",
			input: `{"kind":"sensor.camera.rgb","sensorId":7,"frame":42,"timestamp":1.5,"width":2,"height":1,"raw":"AAECAwQFBgc="}`,
			check: func(t *testing.T, got simhost.Payload) {
				img, ok := got.(*simhost.ImagePayload)
				require.True(t, ok)
				assert.Equal(t, simhost.SensorID(7), img.Sensor())
				assert.Equal(t, uint64(42), img.Frame())
				assert.Equal(t, epoch.Add(1500*time.Millisecond), img.Timestamp)
				assert.Equal(t, 2, img.Width)
				assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, img.Raw)
			},
		},
		{
			name:  "collision",
			input: `{"kind":"sensor.other.collision","sensorId":3,"frame":1,"otherActor":"vehicle.audi.tt","normalImpulse":{"x":3,"y":4,"z":0}}`,
			check: func(t *testing.T, got simhost.Payload) {
				c, ok := got.(*simhost.CollisionPayload)
				require.True(t, ok)
				assert.Equal(t, "vehicle.audi.tt", c.OtherActor)
				assert.Equal(t, core.Vector3{X: 3, Y: 4}, c.NormalImpulse)
				assert.Equal(t, epoch, c.Timestamp)
			},
		},
		{
			name:  "lane invasion",
			input: `{"kind":"sensor.other.lane_invasion","sensorId":4,"markings":["Solid","Broken"]}`,
			check: func(t *testing.T, got simhost.Payload) {
				l, ok := got.(*simhost.LaneInvasionPayload)
				require.True(t, ok)
				assert.Equal(t, []string{"Solid", "Broken"}, l.Markings)
			},
		},
		{
			name:  "radar",
			input: `{"kind":"sensor.other.radar","sensorId":5,"detections":[{"depth":1.5,"azimuth":0.1,"altitude":0,"velocity":-2}]}`,
			check: func(t *testing.T, got simhost.Payload) {
				r, ok := got.(*simhost.RadarPayload)
				require.True(t, ok)
				require.Len(t, r.Detections, 1)
				assert.Equal(t, 1.5, r.Detections[0].Depth)
			},
		},
		{
			name:  "gnss",
			input: `{"kind":"sensor.other.gnss","sensorId":6,"latitude":49.0,"longitude":8.4,"altitude":110}`,
			check: func(t *testing.T, got simhost.Payload) {
				g, ok := got.(*simhost.GnssPayload)
				require.True(t, ok)
				assert.Equal(t, 49.0, g.Latitude)
				assert.Equal(t, 8.4, g.Longitude)
				assert.Equal(t, 110.0, g.Altitude)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ParseSensorData(json.RawMessage(tt.input))
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestParseSensorData_Errors(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"unknown kind", `{"kind":"sensor.lidar.ray_cast","sensorId":1}`, ErrUnknownKind},
		{"missing id", `{"kind":"sensor.other.gnss"}`, ErrInvalid},
		{"latitude out of range", `{"kind":"sensor.other.gnss","sensorId":1,"latitude":91}`, ErrInvalid},
		{"negative depth", `{"kind":"sensor.other.radar","sensorId":1,"detections":[{"depth":-1}]}`, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseSensorData(json.RawMessage(tt.input))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := p.ParseSensorData(json.RawMessage(`{"kind":`))
	assert.Error(t, err)
}

func TestParseInputState(t *testing.T) {
	p := newTestParser()

	snap, err := p.ParseInputState(json.RawMessage(`{"axes":[0.5,-3,2],"buttons":[false,true],"keys":["w","space"]}`))
	require.NoError(t, err)

	assert.Equal(t, []float64{0.5, -1, 1}, snap.Axes)
	assert.True(t, snap.Button(1))
	assert.True(t, snap.Held(control.KeyW))
	assert.True(t, snap.Held(control.KeySpace))
	assert.False(t, snap.Held(control.KeyS))

	_, err = p.ParseInputState(json.RawMessage(`[]`))
	assert.Error(t, err)
}

func TestParseCueFinished(t *testing.T) {
	p := newTestParser()

	cue, err := p.ParseCueFinished(json.RawMessage(`{"cue":"collision"}`))
	require.NoError(t, err)
	assert.Equal(t, audio.CueCollision, cue)

	_, err = p.ParseCueFinished(json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalid)
}
