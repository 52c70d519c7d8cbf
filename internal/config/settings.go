package config

import (
	"errors"
	"fmt"
	"image/color"
	"slices"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/audio"
	"github.com/ImmersiveDrive/simclient/internal/control"
	"github.com/ImmersiveDrive/simclient/internal/display"
	"github.com/ImmersiveDrive/simclient/internal/sensor"
	"github.com/ImmersiveDrive/simclient/internal/tick"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/spf13/viper"
)

// SimConfig selects and configures the simulator connection.
type SimConfig struct {
	// URL is the websocket address of the simulator bridge.
	URL       string        `mapstructure:"url"`
	Synthetic bool          `mapstructure:"synthetic"`
	Seed      int64         `mapstructure:"seed"`
	Map       string        `mapstructure:"map"`
	Vehicle   string        `mapstructure:"vehicle"`
	Step      time.Duration `mapstructure:"step"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Ticks stops the session after this many steps. Zero runs until quit.
	Ticks     uint64 `mapstructure:"ticks"`
	Autopilot bool   `mapstructure:"autopilot"`
}

// DisplayConfig configures the compositor and where its output goes.
type DisplayConfig struct {
	Width            int    `mapstructure:"width"`
	Height           int    `mapstructure:"height"`
	Rows             int    `mapstructure:"rows"`
	Cols             int    `mapstructure:"cols"`
	ReverseGlyphSize int    `mapstructure:"reverseGlyphSize"`
	Presenter        string `mapstructure:"presenter"` // bridge, png, none
	SnapshotPath     string `mapstructure:"snapshotPath"`
	SnapshotEvery    int    `mapstructure:"snapshotEvery"`
}

// Presenters lists the accepted display.presenter values.
var Presenters = []string{"bridge", "png", "none"}

// Layout returns the compositor grid.
func (d DisplayConfig) Layout() display.Layout {
	return display.Layout{Width: d.Width, Height: d.Height, Rows: d.Rows, Cols: d.Cols}
}

// Compositor returns the compositor configuration.
func (d DisplayConfig) Compositor() display.Config {
	return display.Config{
		Layout:           d.Layout(),
		Background:       color.RGBA{A: 255},
		ReverseGlyphSize: d.ReverseGlyphSize,
	}
}

// CameraSlot is one camera and the viewport it feeds.
type CameraSlot struct {
	sensor.CameraConfig `mapstructure:",squash"`
	Slot                display.Slot `mapstructure:"slot"`
}

// ControlConfig configures the input mapper and its device.
type ControlConfig struct {
	Mode              control.Mode         `mapstructure:"mode"`
	Wheel             control.WheelMapping `mapstructure:"wheel"`
	SteerRate         float64              `mapstructure:"steerRate"`
	SteerLimit        float64              `mapstructure:"steerLimit"`
	SteerDeadband     float64              `mapstructure:"steerDeadband"`
	AutoCancelSignals bool                 `mapstructure:"autoCancelSignals"`
	// Script replays a YAML input timeline instead of the bridge device.
	Script string `mapstructure:"script"`
}

// Mapper returns the mapper configuration.
func (c ControlConfig) Mapper() control.Config {
	return control.Config{
		Mode:              c.Mode,
		Wheel:             c.Wheel,
		SteerRate:         c.SteerRate,
		SteerLimit:        c.SteerLimit,
		AutoCancelSignals: c.AutoCancelSignals,
		SteerDeadband:     c.SteerDeadband,
	}
}

// Settings is the decoded configuration.
type Settings struct {
	LogLevel string             `mapstructure:"logLevel"`
	LogsDir  string             `mapstructure:"logsDir"`
	LogsKeep int                `mapstructure:"logsKeep"`
	Tag      string             `mapstructure:"defaultTag"`
	Sim      SimConfig          `mapstructure:"sim"`
	Display  DisplayConfig      `mapstructure:"display"`
	Cameras  []CameraSlot       `mapstructure:"cameras"`
	Control  ControlConfig      `mapstructure:"control"`
	Audio    audio.Config       `mapstructure:"audio"`
	Sensors  sensor.EventConfig `mapstructure:"sensors"`
	Storage  StorageConfig      `mapstructure:"storage"`
	Influx   InfluxConfig       `mapstructure:"influx"`
	OTel     OTelConfig         `mapstructure:"otel"`
	Graylog  GraylogConfig      `mapstructure:"graylog"`
	API      APIConfig          `mapstructure:"api"`
}

// Tick returns the tick driver configuration.
func (s Settings) Tick() tick.Config {
	return tick.Config{Step: s.Sim.Step, Timeout: s.Sim.Timeout}
}

// DefaultCameras is the reference rig: three forward cameras on a 1x3 grid
// and three rear-facing mirrors overlaid on them.
func DefaultCameras() []CameraSlot {
	driver := core.Location{X: -0.32, Y: -0.25, Z: 1.3}
	forward := func(name string, yaw float64, col int) CameraSlot {
		return CameraSlot{
			CameraConfig: sensor.CameraConfig{
				Name:      name,
				Transform: core.Transform{Location: driver, Rotation: core.Rotation{Pitch: -2, Yaw: yaw}},
			},
			Slot: display.GridSlot(0, col),
		}
	}
	mirror := func(name string, loc core.Location, yaw float64, slot display.Slot) CameraSlot {
		return CameraSlot{
			CameraConfig: sensor.CameraConfig{
				Name:      name,
				Transform: core.Transform{Location: loc, Rotation: core.Rotation{Yaw: yaw}},
				Mirror:    true,
			},
			Slot: slot,
		}
	}
	return []CameraSlot{
		forward("left", -40, 0),
		forward("front", 0, 1),
		forward("right", 40, 2),
		mirror("mirror_left", core.Location{X: 0.7, Y: -1.0, Z: 1.1}, -170, display.OverlaySlot(780, 563, 280, 170, "masks/mask1.png")),
		mirror("mirror_center", core.Location{X: 0.7, Z: 1.3}, -180, display.OverlaySlot(2450, 100, 475, 126, "masks/mask2.png")),
		mirror("mirror_right", core.Location{X: 0.7, Y: 1.0, Z: 1.1}, 170, display.OverlaySlot(3650, 510, 190, 130, "masks/mask3.png")),
	}
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("defaultTag", "drive")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("logsKeep", 20)

	viper.SetDefault("sim.url", "ws://localhost:2000/bridge")
	viper.SetDefault("sim.synthetic", false)
	viper.SetDefault("sim.seed", 1)
	viper.SetDefault("sim.map", "Town03")
	viper.SetDefault("sim.vehicle", "vehicle.audi.a2")
	viper.SetDefault("sim.step", tick.DefaultStep.String())
	viper.SetDefault("sim.timeout", tick.DefaultTimeout.String())
	viper.SetDefault("sim.ticks", 0)
	viper.SetDefault("sim.autopilot", false)

	dc := display.DefaultConfig()
	viper.SetDefault("display.width", dc.Layout.Width)
	viper.SetDefault("display.height", dc.Layout.Height)
	viper.SetDefault("display.rows", dc.Layout.Rows)
	viper.SetDefault("display.cols", dc.Layout.Cols)
	viper.SetDefault("display.reverseGlyphSize", dc.ReverseGlyphSize)
	viper.SetDefault("display.presenter", "bridge")
	viper.SetDefault("display.snapshotPath", "./logs/display.png")
	viper.SetDefault("display.snapshotEvery", 20)

	cc := control.DefaultConfig()
	viper.SetDefault("control.mode", string(cc.Mode))
	w := cc.Wheel
	for key, idx := range map[string]int{
		"steer": w.Steer, "throttle": w.Throttle, "brake": w.Brake,
		"handBrake": w.HandBrake, "reverse": w.Reverse,
		"leftSignal": w.LeftSignal, "rightSignal": w.RightSignal,
		"highBeam": w.HighBeam, "lowBeam": w.LowBeam,
		"respawn": w.Respawn, "nextWeather": w.NextWeather,
	} {
		viper.SetDefault("control.wheel."+key, idx)
	}
	viper.SetDefault("control.steerRate", cc.SteerRate)
	viper.SetDefault("control.steerLimit", cc.SteerLimit)
	viper.SetDefault("control.steerDeadband", cc.SteerDeadband)
	viper.SetDefault("control.autoCancelSignals", cc.AutoCancelSignals)
	viper.SetDefault("control.script", "")

	ac := audio.DefaultConfig()
	for cue, asset := range ac.Assets {
		viper.SetDefault("audio.assets."+string(cue), asset)
	}
	viper.SetDefault("audio.proximityThreshold", ac.ProximityThreshold)
	viper.SetDefault("audio.laneCue", ac.LaneCue)
	viper.SetDefault("audio.historySize", ac.HistorySize)

	ec := sensor.DefaultEventConfig()
	viper.SetDefault("sensors.collision", ec.Collision)
	viper.SetDefault("sensors.laneInvasion", ec.LaneInvasion)
	viper.SetDefault("sensors.gnss", ec.Gnss)
	viper.SetDefault("sensors.radar.enabled", ec.Radar.Enabled)
	viper.SetDefault("sensors.radar.horizontalFov", ec.Radar.HorizontalFOV)
	viper.SetDefault("sensors.radar.verticalFov", ec.Radar.VerticalFOV)
	viper.SetDefault("sensors.radar.range", ec.Radar.Range)
	viper.SetDefault("sensors.radar.transform.location.x", ec.Radar.Transform.Location.X)
	viper.SetDefault("sensors.radar.transform.location.z", ec.Radar.Transform.Location.Z)

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "drivesim")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "drivesim-metrics")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
	viper.SetDefault("graylog.level", "info")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.upload", false)
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpDir", "./recordings")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "drivesim")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Decode unmarshals the loaded configuration into Settings and validates it.
// Cameras fall back to DefaultCameras when the file has none.
func Decode() (Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if len(s.Cameras) == 0 {
		s.Cameras = DefaultCameras()
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings that would otherwise fail late, halfway
// through acquiring the session.
func (s Settings) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, ErrInvalid)...))
	}

	if s.Sim.Step <= 0 {
		invalid("sim.step %s", s.Sim.Step)
	}
	if s.Sim.Timeout <= 0 {
		invalid("sim.timeout %s", s.Sim.Timeout)
	}
	if !s.Sim.Synthetic && s.Sim.URL == "" {
		invalid("sim.url is empty")
	}
	if s.Sim.Vehicle == "" {
		invalid("sim.vehicle is empty")
	}

	layout := s.Display.Layout()
	if err := layout.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains(Presenters, s.Display.Presenter) {
		invalid("display.presenter %q", s.Display.Presenter)
	}
	if s.Display.ReverseGlyphSize <= 0 {
		invalid("display.reverseGlyphSize %d", s.Display.ReverseGlyphSize)
	}

	names := make(map[string]bool, len(s.Cameras))
	for _, c := range s.Cameras {
		if names[c.Name] {
			invalid("camera %q defined twice", c.Name)
		}
		names[c.Name] = true
		if err := c.Slot.Validate(layout); err != nil {
			errs = append(errs, fmt.Errorf("camera %s: %w", c.Name, err))
			continue
		}
		w, h := c.Slot.Size(layout)
		if err := c.CameraConfig.WithDefaults(w, h).Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	switch s.Control.Mode {
	case control.ModeKeyboard, control.ModeWheel:
	default:
		invalid("control.mode %q", s.Control.Mode)
	}
	if s.Audio.ProximityThreshold < 0 {
		invalid("audio.proximityThreshold %v", s.Audio.ProximityThreshold)
	}
	if s.Audio.HistorySize <= 0 {
		invalid("audio.historySize %d", s.Audio.HistorySize)
	}
	if err := s.Sensors.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains(StorageTypes, s.Storage.Type) {
		invalid("storage.type %q", s.Storage.Type)
	}

	return errors.Join(errs...)
}
