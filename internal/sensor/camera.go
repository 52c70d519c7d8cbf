// Package sensor attaches sensors to the vehicle and turns their deliveries
// into frames and events.
package sensor

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

// ErrInvalidConfig is wrapped by every sensor configuration error.
var ErrInvalidConfig = errors.New("invalid sensor config")

// DefaultFOV is the horizontal field of view used when none is configured.
const DefaultFOV = 40.0

// CameraConfig lists the options recognised for an RGB camera.
type CameraConfig struct {
	Name        string         `mapstructure:"name"`
	Transform   core.Transform `mapstructure:"transform"`
	ImageWidth  int            `mapstructure:"imageWidth"`
	ImageHeight int            `mapstructure:"imageHeight"`
	FOV         float64        `mapstructure:"fov"`
	// SensorTick is the capture interval in seconds. Zero captures every tick.
	SensorTick float64 `mapstructure:"sensorTick"`
	// Mirror flips the image horizontally, as seen in a mirror.
	Mirror bool `mapstructure:"mirror"`
}

// WithDefaults fills the image size from the viewport size and the FOV from
// DefaultFOV when they are unset.
func (c CameraConfig) WithDefaults(viewW, viewH int) CameraConfig {
	if c.ImageWidth == 0 {
		c.ImageWidth = viewW
	}
	if c.ImageHeight == 0 {
		c.ImageHeight = viewH
	}
	if c.FOV == 0 {
		c.FOV = DefaultFOV
	}
	return c
}

// Validate checks every option.
func (c CameraConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("camera without name: %w", ErrInvalidConfig)
	}
	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		return fmt.Errorf("camera %s: image size %dx%d: %w", c.Name, c.ImageWidth, c.ImageHeight, ErrInvalidConfig)
	}
	if c.FOV <= 0 || c.FOV >= 180 {
		return fmt.Errorf("camera %s: fov %v outside (0,180): %w", c.Name, c.FOV, ErrInvalidConfig)
	}
	if c.SensorTick < 0 {
		return fmt.Errorf("camera %s: negative sensor tick: %w", c.Name, ErrInvalidConfig)
	}
	return nil
}

// Spec builds the attach request for the server.
func (c CameraConfig) Spec(parent core.ActorID) simhost.SensorSpec {
	attrs := map[string]string{
		"image_size_x": strconv.Itoa(c.ImageWidth),
		"image_size_y": strconv.Itoa(c.ImageHeight),
		"fov":          formatFloat(c.FOV),
	}
	if c.SensorTick > 0 {
		attrs["sensor_tick"] = formatFloat(c.SensorTick)
	}
	return simhost.SensorSpec{
		Kind:       simhost.SensorRGBCamera,
		Transform:  c.Transform,
		Parent:     parent,
		Attributes: attrs,
	}
}
