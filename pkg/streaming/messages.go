// pkg/streaming/messages.go
package streaming

import (
	"encoding/json"

	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// Telemetry stream message types, sent by the websocket storage backend.
const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypeCollision    = "collision"
	TypeLaneInvasion = "lane_invasion"
	TypeProximity    = "proximity"
	TypeGnssFix      = "gnss_fix"
	TypePerformance  = "performance"
)

// Simulator bridge request types. Every request carries an ID and is answered
// by a TypeResult message echoing it.
const (
	TypeHello        = "hello"
	TypeAdvanceTick  = "advance_tick"
	TypeSetSync      = "set_sync"
	TypeSpawnVehicle = "spawn_vehicle"
	TypeAttachSensor = "attach_sensor"
	TypeSubscribe    = "subscribe"
	TypeStopSensor   = "stop_sensor"
	TypeDestroyActor = "destroy_actor"
	TypeApplyControl = "apply_control"
	TypeNextWeather  = "next_weather"
	TypeSetAutopilot = "set_autopilot"
	TypeLoadCue      = "load_cue"
	TypePlayCue      = "play_cue"
	TypeStopCue      = "stop_cue"
	TypePresentFrame = "present_frame"
	TypeResult       = "result"
)

// Bridge push types, sent without a request.
const (
	TypeSensorData    = "sensor_data"
	TypeInputState    = "input_state"
	TypeAudioFinished = "audio_finished"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage is the telemetry server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// ResultMessage answers a bridge request.
type ResultMessage struct {
	Type    string          `json:"type"` // always "result"
	For     string          `json:"for"`
	ID      uint64          `json:"id"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartSessionPayload carries the session header.
type StartSessionPayload struct {
	Session *core.Session `json:"session"`
}

// HelloPayload opens a bridge connection.
type HelloPayload struct {
	Client  string `json:"client"`
	Version string `json:"version"`
	Map     string `json:"map,omitempty"`
}

// HelloResult describes the bridge and the input device it reads.
type HelloResult struct {
	Server  string `json:"server"`
	Map     string `json:"map"`
	Axes    int    `json:"axes"`
	Buttons int    `json:"buttons"`
}

// TickResult answers advance_tick.
type TickResult struct {
	Frame uint64 `json:"frame"`
}

// SetSyncRequest toggles fixed-step mode. StepSeconds of zero clears the step.
type SetSyncRequest struct {
	Enabled     bool    `json:"enabled"`
	StepSeconds float64 `json:"stepSeconds"`
}

// SpawnVehicleRequest asks the bridge to spawn the ego vehicle.
type SpawnVehicleRequest struct {
	Blueprint string          `json:"blueprint"`
	Transform *core.Transform `json:"transform,omitempty"`
}

// ActorResult answers spawn and attach requests.
type ActorResult struct {
	ActorID core.ActorID `json:"actorId"`
}

// AttachSensorRequest asks the bridge to spawn a sensor attached to Parent.
type AttachSensorRequest struct {
	Kind       string            `json:"kind"`
	Parent     core.ActorID      `json:"parent"`
	Transform  core.Transform    `json:"transform"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ActorRequest addresses a single actor.
type ActorRequest struct {
	ActorID core.ActorID `json:"actorId"`
}

// ApplyControlRequest carries one control command.
type ApplyControlRequest struct {
	ActorID core.ActorID        `json:"actorId"`
	Control core.ControlCommand `json:"control"`
}

// WeatherRequest cycles the weather preset.
type WeatherRequest struct {
	Reverse bool `json:"reverse"`
}

// WeatherResult names the preset now active.
type WeatherResult struct {
	Preset string `json:"preset"`
}

// AutopilotRequest toggles server-side driving.
type AutopilotRequest struct {
	ActorID core.ActorID `json:"actorId"`
	Enabled bool         `json:"enabled"`
}

// CueRequest starts or stops an audio cue on the bridge-side mixer.
type CueRequest struct {
	Cue   string `json:"cue"`
	Loop  bool   `json:"loop,omitempty"`
	Asset string `json:"asset,omitempty"` // load_cue only
}

// CueFinished reports that a one-shot cue stopped playing.
type CueFinished struct {
	Cue string `json:"cue"`
}

// FrameRequest carries one composed surface, JPEG encoded.
type FrameRequest struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	JPEG   []byte `json:"jpeg"`
}

// SensorData is pushed for every sensor delivery. Only the fields of its
// Kind are populated.
type SensorData struct {
	Kind      string  `json:"kind"`
	SensorID  uint32  `json:"sensorId"`
	Frame     uint64  `json:"frame"`
	Timestamp float64 `json:"timestamp"`

	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Raw    []byte `json:"raw,omitempty"`

	OtherActor    string        `json:"otherActor,omitempty"`
	NormalImpulse *core.Vector3 `json:"normalImpulse,omitempty"`

	Markings []string `json:"markings,omitempty"`

	Detections []core.RadarDetection `json:"detections,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Altitude  float64 `json:"altitude,omitempty"`
}

// InputState is the bridge-side view of the wheel and keyboard.
type InputState struct {
	Axes    []float64 `json:"axes"`
	Buttons []bool    `json:"buttons"`
	Keys    []string  `json:"keys"`
}
