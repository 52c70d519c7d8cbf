// Package config loads drivesim.cfg.json through viper and decodes it into
// typed, validated settings.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "drivesim.cfg.json"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings.
type SQLiteConfig struct {
	// Path selects a file database. Empty keeps the database in memory and
	// dumps it to DumpDir every DumpInterval.
	Path         string        `mapstructure:"path"`
	DumpDir      string        `mapstructure:"dumpDir"`
	DumpInterval time.Duration `mapstructure:"dumpInterval"`
}

// StorageConfig selects and configures the telemetry backend.
type StorageConfig struct {
	Type   string       `mapstructure:"type"` // memory, sqlite, postgres, websocket, none
	Memory MemoryConfig `mapstructure:"memory"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	// Upload sends the memory export to the results server at session end.
	Upload bool `mapstructure:"upload"`
}

// StorageTypes lists the accepted storage.type values.
var StorageTypes = []string{"memory", "sqlite", "postgres", "websocket", "none"}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ServiceName  string        `mapstructure:"serviceName"`
	BatchTimeout time.Duration `mapstructure:"batchTimeout"`
	Endpoint     string        `mapstructure:"endpoint"`
	Insecure     bool          `mapstructure:"insecure"`
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Protocol string `mapstructure:"protocol"`
	Token    string `mapstructure:"token"`
	Org      string `mapstructure:"org"`
}

// GraylogConfig holds the GELF sink settings.
type GraylogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	// Level is the minimum level shipped to Graylog, independent of logLevel.
	Level string `mapstructure:"level"`
}

// APIConfig holds the results server settings.
type APIConfig struct {
	ServerURL string `mapstructure:"serverUrl"`
	APIKey    string `mapstructure:"apiKey"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file
// leaves the defaults in place; a malformed one is an error.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// Used returns the config file that was read, or "" when running on defaults.
func Used() string {
	return viper.ConfigFileUsed()
}

// BindFlags binds the command line overrides into viper. Only flags the
// user actually set win over the file.
func BindFlags(fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"log-level": "logLevel",
		"synthetic": "sim.synthetic",
		"ticks":     "sim.ticks",
		"bridge":    "sim.url",
		"storage":   "storage.type",
	}
	for flag, key := range bindings {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	if f := fs.Lookup("res"); f != nil && f.Changed {
		w, h, err := ParseResolution(f.Value.String())
		if err != nil {
			return err
		}
		viper.Set("display.width", w)
		viper.Set("display.height", h)
	}
	return nil
}

// ParseResolution parses "WIDTHxHEIGHT".
func ParseResolution(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q is not WIDTHxHEIGHT: %w", s, ErrInvalid)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("resolution width %q: %w", ws, ErrInvalid)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("resolution height %q: %w", hs, ErrInvalid)
	}
	return w, h, nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the storage section.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpDir:      viper.GetString("storage.sqlite.dumpDir"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Upload: viper.GetBool("storage.upload"),
	}
}

// GetOTelConfig returns the otel section.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}
