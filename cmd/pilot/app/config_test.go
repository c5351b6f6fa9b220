package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
	"github.com/roman-kulish/indoor-pilot/internal/rangefinder"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, flight.DefaultLimits(), config.Limits())
	assert.Equal(t, flight.DefaultTiming(), config.Timing())
	assert.Equal(t, flight.ModeGuidedNoGPS, config.Vehicle.Mode)
	assert.Equal(t, "192.168.2.1:14550", config.Link().Address)

	d, ok := config.Dialer().(rangefinder.TCPDialer)
	require.True(t, ok)
	assert.Equal(t, rangefinder.DefaultAddress, d.Address)
}

func TestParseConfig_Overrides(t *testing.T) {
	config, err := ParseConfig([]byte(`
settings:
  logLevel: debug
sensor:
  address: 10.0.0.2:5566
  reconnectDelay: 250ms
vehicle:
  endpoint: tcp-client
  address: 10.0.0.1:5760
  readyTimeout: 30s
flight:
  targetAltitude: 1000
  hold: 3s
recorder:
  enabled: true
mqtt:
  enabled: true
  qos: 1
`))
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.2:5566", config.Sensor.Address)
	assert.Equal(t, Duration(250*time.Millisecond), config.Sensor.ReconnectDelay)
	assert.Equal(t, "tcp-client", config.Link().Endpoint)
	assert.Equal(t, 30*time.Second, config.Link().ReadyTimeout)
	assert.Equal(t, 1000, config.Limits().TargetAltitude)
	assert.Equal(t, 950, config.Limits().TakeoffTrigger())
	assert.Equal(t, 3*time.Second, config.Timing().Hold)
	assert.Equal(t, 200*time.Millisecond, config.Timing().Tick) // untouched default
	assert.True(t, config.Recorder.Enabled)
	assert.Equal(t, byte(1), config.MQTTConfig().QoS)

	level, err := config.Settings.Level()
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", level.String())
}

func TestParseConfig_SerialSensor(t *testing.T) {
	config, err := ParseConfig([]byte(`
sensor:
  transport: serial
  serialPort: /dev/ttyUSB0
  baudRate: 57600
`))
	require.NoError(t, err)

	d, ok := config.Dialer().(rangefinder.SerialDialer)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", d.Port)
	assert.Equal(t, uint(57600), d.BaudRate)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"log level":         "settings:\n  logLevel: loud\n",
		"transport":         "sensor:\n  transport: carrier-pigeon\n",
		"serial port":       "sensor:\n  transport: serial\n",
		"reconnect delay":   "sensor:\n  reconnectDelay: 0s\n",
		"mode":              "vehicle:\n  mode: BARREL_ROLL\n",
		"altitudes":         "flight:\n  targetAltitude: 50\n",
		"thrust":            "flight:\n  maxTakeoffThrust: 1.5\n",
		"tick":              "flight:\n  tick: 0s\n",
		"qos":               "mqtt:\n  qos: 3\n",
		"monitor address":   "monitor:\n  enabled: true\n  address: \"\"\n",
		"recorder batching": "recorder:\n  enabled: true\n  maxBatchSize: 0\n",
		"recorder flush":    "recorder:\n  enabled: true\n  flushInterval: 0s\n",
		"recorder negative": "recorder:\n  enabled: true\n  flushInterval: -1s\n",
		"mqtt timeout":      "mqtt:\n  enabled: true\n  connectTimeout: 0s\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParseConfig_DisabledSectionsSkipChecks(t *testing.T) {
	_, err := ParseConfig([]byte("recorder:\n  flushInterval: 0s\nmqtt:\n  connectTimeout: 0s\n"))
	assert.NoError(t, err)
}

func TestParseConfig_BadDuration(t *testing.T) {
	_, err := ParseConfig([]byte("flight:\n  hold: ten seconds\n"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitor:\n  enabled: true\n  address: :9090\n"), 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", config.Monitor.Address)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_JSONSnapshot(t *testing.T) {
	p, err := json.Marshal(DefaultConfig())
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(p, &doc))
	assert.Equal(t, "200ms", doc["flight"]["tick"])
	assert.Equal(t, "GUIDED_NOGPS", doc["vehicle"]["mode"])
}
