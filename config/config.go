package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration shared by the web server and the beacon.
type Config struct {
	UserID   string         `yaml:"user_id"`
	Alert    AlertConfig    `yaml:"alert"`
	Gesture  GestureConfig  `yaml:"gesture"`
	Location LocationConfig `yaml:"location"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	Influx   InfluxConfig   `yaml:"influx"`
	NATS     NATSConfig     `yaml:"nats"`
	OPCUA    OPCUAConfig    `yaml:"opcua"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// AlertConfig points at the alert intake endpoint.
type AlertConfig struct {
	Endpoint string `yaml:"endpoint"`
	// Timeout of the submission request, zero means no limit.
	Timeout time.Duration `yaml:"timeout"`
}

type GestureConfig struct {
	HoldThreshold time.Duration `yaml:"hold_threshold"`
}

type LocationConfig struct {
	HighAccuracy *bool         `yaml:"high_accuracy"`
	Timeout      time.Duration `yaml:"timeout"`
	MaximumAge   time.Duration `yaml:"maximum_age"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Path       string `yaml:"path"`
	Level      string `yaml:"level"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

type RedisConfig struct {
	Address string `yaml:"address"`
}

type InfluxConfig struct {
	Address  string `yaml:"address"`
	Database string `yaml:"database"`
	Capacity int    `yaml:"capacity"`
}

type NATSConfig struct {
	Address string `yaml:"address"`
	Topic   string `yaml:"topic"`
}

// OPCUAConfig lists the device nodes the beacon reads its telemetry from.
type OPCUAConfig struct {
	Endpoint      string `yaml:"endpoint"`
	LatitudeNode  string `yaml:"latitude_node"`
	LongitudeNode string `yaml:"longitude_node"`
	BatteryNode   string `yaml:"battery_node"`
	// BatteryScale divides the raw battery value into a [0, 1] fraction.
	BatteryScale float64 `yaml:"battery_scale"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Load reads the YAML file and applies the defaults. An empty path yields the defaults.
// Validation is left to the caller so command-line flags can override the file first.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		raw, err := os.ReadFile(path)

		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// HighAccuracyEnabled reports whether high accuracy positioning is requested.
func (c *LocationConfig) HighAccuracyEnabled() bool {
	return c.HighAccuracy == nil || *c.HighAccuracy
}

func (c *Config) applyDefaults() {
	if c.UserID == "" {
		c.UserID = "anonymous"
	}
	if c.Gesture.HoldThreshold <= 0 {
		c.Gesture.HoldThreshold = 1500 * time.Millisecond
	}
	if c.Location.Timeout <= 0 {
		c.Location.Timeout = 10 * time.Second
	}
	if c.Location.MaximumAge < 0 {
		c.Location.MaximumAge = 0
	} else if c.Location.MaximumAge == 0 {
		c.Location.MaximumAge = 60 * time.Second
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 28
	}
	if c.Influx.Database == "" {
		c.Influx.Database = "sos"
	}
	if c.Influx.Capacity <= 0 {
		c.Influx.Capacity = 1
	}
	if c.NATS.Topic == "" {
		c.NATS.Topic = "sos.alerts"
	}
	if c.OPCUA.BatteryScale == 0 {
		c.OPCUA.BatteryScale = 100
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sos-beacon"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "sos/button"
	}
	if c.MQTT.QoS > 2 {
		c.MQTT.QoS = 2
	}
}

// Validate checks the settings every service needs.
func (c *Config) Validate() error {
	if c.Alert.Endpoint == "" {
		return fmt.Errorf("alert.endpoint is required")
	}
	if c.Alert.Timeout < 0 {
		return fmt.Errorf("alert.timeout must not be negative")
	}
	return nil
}

// ValidateBeacon checks the settings of the device agent.
func (c *Config) ValidateBeacon() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.OPCUA.Endpoint == "" {
		return fmt.Errorf("opcua.endpoint is required")
	}
	if c.OPCUA.LatitudeNode == "" || c.OPCUA.LongitudeNode == "" {
		return fmt.Errorf("opcua.latitude_node and opcua.longitude_node are required")
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	return nil
}
