package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
user_id: TOURIST123
alert:
  endpoint: https://intake.example.org/api/panic
location:
  high_accuracy: false
nats:
  address: nats://localhost:4222
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "TOURIST123", cfg.UserID)
	assert.Equal(t, 1500*time.Millisecond, cfg.Gesture.HoldThreshold)
	assert.Equal(t, 10*time.Second, cfg.Location.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Location.MaximumAge)
	assert.False(t, cfg.Location.HighAccuracyEnabled())
	assert.Zero(t, cfg.Alert.Timeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sos.alerts", cfg.NATS.Topic)
	assert.Equal(t, "sos/button", cfg.MQTT.Topic)
	assert.Equal(t, float64(100), cfg.OPCUA.BatteryScale)
}

func TestLoadParsesDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
alert:
  endpoint: http://localhost:9000/panic
  timeout: 15s
gesture:
  hold_threshold: 2s
location:
  timeout: 5s
  maximum_age: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Alert.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Gesture.HoldThreshold)
	assert.Equal(t, 5*time.Second, cfg.Location.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Location.MaximumAge)
	assert.True(t, cfg.Location.HighAccuracyEnabled())
}

func TestEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "anonymous", cfg.UserID)
	assert.EqualError(t, cfg.Validate(), "alert.endpoint is required")
}

func TestValidateBeacon(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Alert.Endpoint = "http://localhost:9000/panic"
	assert.EqualError(t, cfg.ValidateBeacon(), "opcua.endpoint is required")

	cfg.OPCUA.Endpoint = "opc.tcp://localhost:4840"
	cfg.OPCUA.LatitudeNode = "ns=2;s=GPS.Latitude"
	cfg.OPCUA.LongitudeNode = "ns=2;s=GPS.Longitude"
	assert.EqualError(t, cfg.ValidateBeacon(), "mqtt.broker is required")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	assert.NoError(t, cfg.ValidateBeacon())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
