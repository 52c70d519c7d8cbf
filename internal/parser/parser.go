// Package parser turns bridge push messages into client types.
// It has zero external dependencies beyond a logger.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/audio"
	"github.com/ImmersiveDrive/simclient/internal/control"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
	"github.com/ImmersiveDrive/simclient/pkg/streaming"
)

var (
	// ErrUnknownKind is returned for sensor_data of a kind the client never attaches.
	ErrUnknownKind = errors.New("unknown sensor kind")
	// ErrInvalid is returned for messages whose fields are out of range.
	ErrInvalid = errors.New("invalid message")
)

// Parser converts bridge push payloads. Simulation timestamps are seconds since
// the epoch passed to NewParser.
type Parser struct {
	logger *slog.Logger
	epoch  time.Time
}

// NewParser creates a new parser with only a logger dependency
func NewParser(logger *slog.Logger, epoch time.Time) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger, epoch: epoch}
}

// ParseSensorData decodes a sensor_data payload.
func (p *Parser) ParseSensorData(raw json.RawMessage) (simhost.Payload, error) {
	var d streaming.SensorData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("error unmarshalling sensor data: %w", err)
	}
	return p.SensorPayload(d)
}

// SensorPayload converts decoded sensor data into the payload type of its kind.
func (p *Parser) SensorPayload(d streaming.SensorData) (simhost.Payload, error) {
	if d.SensorID == 0 {
		return nil, fmt.Errorf("%w: missing sensor id", ErrInvalid)
	}
	h := simhost.Header{
		SensorID:  simhost.SensorID(d.SensorID),
		Tick:      d.Frame,
		Timestamp: p.timestamp(d.Timestamp),
	}

	switch simhost.SensorKind(d.Kind) {
	case simhost.SensorRGBCamera:
		// Size mismatches are left to the image decoder, which counts them
		// as dropped frames on the feed.
		return &simhost.ImagePayload{Header: h, Width: d.Width, Height: d.Height, Raw: d.Raw}, nil

	case simhost.SensorCollision:
		c := &simhost.CollisionPayload{Header: h, OtherActor: d.OtherActor}
		if d.NormalImpulse != nil {
			c.NormalImpulse = *d.NormalImpulse
		}
		return c, nil

	case simhost.SensorLaneInvasion:
		return &simhost.LaneInvasionPayload{Header: h, Markings: d.Markings}, nil

	case simhost.SensorRadar:
		for i, det := range d.Detections {
			if math.IsNaN(det.Depth) || det.Depth < 0 {
				return nil, fmt.Errorf("%w: radar detection %d depth %v", ErrInvalid, i, det.Depth)
			}
		}
		return &simhost.RadarPayload{Header: h, Detections: d.Detections}, nil

	case simhost.SensorGnss:
		if math.Abs(d.Latitude) > 90 || math.Abs(d.Longitude) > 180 {
			return nil, fmt.Errorf("%w: gnss fix %v,%v", ErrInvalid, d.Latitude, d.Longitude)
		}
		return &simhost.GnssPayload{Header: h, Latitude: d.Latitude, Longitude: d.Longitude, Altitude: d.Altitude}, nil
	}

	p.logger.Debug("Dropping sensor data", "kind", d.Kind, "sensor", d.SensorID)
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
}

func (p *Parser) timestamp(seconds float64) time.Time {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return p.epoch
	}
	return p.epoch.Add(time.Duration(seconds * float64(time.Second)))
}

// ParseInputState decodes an input_state payload. Axes are clamped to [-1,1].
func (p *Parser) ParseInputState(raw json.RawMessage) (control.Snapshot, error) {
	var in streaming.InputState
	if err := json.Unmarshal(raw, &in); err != nil {
		return control.Snapshot{}, fmt.Errorf("error unmarshalling input state: %w", err)
	}
	snap := control.Snapshot{
		Axes:    make([]float64, len(in.Axes)),
		Buttons: append([]bool(nil), in.Buttons...),
		Keys:    make(map[control.Key]bool, len(in.Keys)),
	}
	for i, v := range in.Axes {
		if math.IsNaN(v) {
			v = 0
		}
		snap.Axes[i] = math.Max(-1, math.Min(1, v))
	}
	for _, k := range in.Keys {
		snap.Keys[control.Key(k)] = true
	}
	return snap, nil
}

// ParseCueFinished decodes an audio_finished payload.
func (p *Parser) ParseCueFinished(raw json.RawMessage) (audio.Cue, error) {
	var f streaming.CueFinished
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("error unmarshalling cue: %w", err)
	}
	if f.Cue == "" {
		return "", fmt.Errorf("%w: empty cue", ErrInvalid)
	}
	return audio.Cue(f.Cue), nil
}
