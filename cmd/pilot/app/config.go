package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
	"github.com/roman-kulish/indoor-pilot/internal/monitor"
	"github.com/roman-kulish/indoor-pilot/internal/rangefinder"
	"github.com/roman-kulish/indoor-pilot/internal/vehicle/mavlink"
)

const (
	SensorTransportTCP    = "tcp"
	SensorTransportSerial = "serial"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings" json:"settings"`
	Sensor   SensorConfig   `yaml:"sensor" json:"sensor"`
	Vehicle  VehicleConfig  `yaml:"vehicle" json:"vehicle"`
	Flight   FlightConfig   `yaml:"flight" json:"flight"`
	Recorder RecorderConfig `yaml:"recorder" json:"recorder"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Monitor  MonitorConfig  `yaml:"monitor" json:"monitor"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel      string `yaml:"logLevel" json:"logLevel"`
	LogFile       string `yaml:"logFile" json:"logFile"` // Optional, rotated
	LogMaxSizeMB  int    `yaml:"logMaxSizeMB" json:"logMaxSizeMB"`
	LogMaxBackups int    `yaml:"logMaxBackups" json:"logMaxBackups"`
}

// Level parses LogLevel
func (s Settings) Level() (slog.Level, error) {
	var l slog.Level
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return l, err
	}
	return l, nil
}

// SensorConfig is the distance sensor board link
type SensorConfig struct {
	Transport      string   `yaml:"transport" json:"transport"` // tcp or serial
	Address        string   `yaml:"address" json:"address"`
	SerialPort     string   `yaml:"serialPort" json:"serialPort"`
	BaudRate       uint     `yaml:"baudRate" json:"baudRate"`
	ConnectTimeout Duration `yaml:"connectTimeout" json:"connectTimeout"`
	ReconnectDelay Duration `yaml:"reconnectDelay" json:"reconnectDelay"`
}

// VehicleConfig is the MAVLink autopilot link
type VehicleConfig struct {
	Endpoint        string   `yaml:"endpoint" json:"endpoint"`
	Address         string   `yaml:"address" json:"address"`
	Baud            int      `yaml:"baud" json:"baud"`
	SystemID        byte     `yaml:"systemID" json:"systemID"`
	TargetSystem    byte     `yaml:"targetSystem" json:"targetSystem"`
	TargetComponent byte     `yaml:"targetComponent" json:"targetComponent"`
	Mode            string   `yaml:"mode" json:"mode"`
	ReadyTimeout    Duration `yaml:"readyTimeout" json:"readyTimeout"` // 0 waits until interrupted
}

// FlightConfig overrides the flight profile
type FlightConfig struct {
	TargetAltitude   int      `yaml:"targetAltitude" json:"targetAltitude"` // mm
	LandAltitude     int      `yaml:"landAltitude" json:"landAltitude"`     // mm
	MaxTakeoffThrust float64  `yaml:"maxTakeoffThrust" json:"maxTakeoffThrust"`
	NeededClimb      int      `yaml:"neededClimb" json:"neededClimb"` // mm
	Tick             Duration `yaml:"tick" json:"tick"`
	Poll             Duration `yaml:"poll" json:"poll"`
	Hold             Duration `yaml:"hold" json:"hold"`
	ArmCountdown     Duration `yaml:"armCountdown" json:"armCountdown"`
	TakeoffCountdown Duration `yaml:"takeoffCountdown" json:"takeoffCountdown"`
}

// RecorderConfig represents flight recorder settings
type RecorderConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	DataDirectory string   `yaml:"dataDirectory" json:"dataDirectory"`
	MaxBatchSize  int      `yaml:"maxBatchSize" json:"maxBatchSize"`
	FlushInterval Duration `yaml:"flushInterval" json:"flushInterval"`
}

// MQTTConfig represents live telemetry publishing settings
type MQTTConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	Broker         string   `yaml:"broker" json:"broker"`
	ClientID       string   `yaml:"clientID" json:"clientID"`
	Topic          string   `yaml:"topic" json:"topic"`
	QoS            byte     `yaml:"qos" json:"qos"`
	ConnectTimeout Duration `yaml:"connectTimeout" json:"connectTimeout"`
}

// MonitorConfig represents the WebSocket monitor settings
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// DefaultConfig returns the configuration of the indoor airframe
func DefaultConfig() *Config {
	limits := flight.DefaultLimits()
	timing := flight.DefaultTiming()
	link := mavlink.DefaultConfig()

	return &Config{
		Settings: Settings{
			LogLevel:      "info",
			LogMaxSizeMB:  10,
			LogMaxBackups: 5,
		},
		Sensor: SensorConfig{
			Transport:      SensorTransportTCP,
			Address:        rangefinder.DefaultAddress,
			BaudRate:       115200,
			ConnectTimeout: Duration(2 * time.Second),
			ReconnectDelay: Duration(rangefinder.ReconnectDelay),
		},
		Vehicle: VehicleConfig{
			Endpoint:        link.Endpoint,
			Address:         link.Address,
			Baud:            link.Baud,
			SystemID:        link.SystemID,
			TargetSystem:    link.TargetSystem,
			TargetComponent: link.TargetComponent,
			Mode:            flight.ModeGuidedNoGPS,
		},
		Flight: FlightConfig{
			TargetAltitude:   limits.TargetAltitude,
			LandAltitude:     limits.LandAltitude,
			MaxTakeoffThrust: limits.MaxTakeoffThrust,
			NeededClimb:      limits.NeededClimb,
			Tick:             Duration(timing.Tick),
			Poll:             Duration(timing.Poll),
			Hold:             Duration(timing.Hold),
			ArmCountdown:     Duration(timing.ArmCountdown),
			TakeoffCountdown: Duration(timing.TakeoffCountdown),
		},
		Recorder: RecorderConfig{
			DataDirectory: "data",
			MaxBatchSize:  100,
			FlushInterval: Duration(time.Second),
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			ClientID:       "indoor-pilot",
			Topic:          "pilot",
			ConnectTimeout: Duration(5 * time.Second),
		},
		Monitor: MonitorConfig{
			Address: ":8080",
		},
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return ParseConfig(p)
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result
func ParseConfig(p []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(p, config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if _, err := c.Settings.Level(); err != nil {
		return fmt.Errorf("%w: settings.logLevel: %s", ErrInvalidConfig, err)
	}

	switch c.Sensor.Transport {
	case SensorTransportTCP:
		if c.Sensor.Address == "" {
			return fmt.Errorf("%w: sensor.address is required", ErrInvalidConfig)
		}
	case SensorTransportSerial:
		if c.Sensor.SerialPort == "" || c.Sensor.BaudRate == 0 {
			return fmt.Errorf("%w: sensor.serialPort and sensor.baudRate are required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown sensor.transport '%s'", ErrInvalidConfig, c.Sensor.Transport)
	}

	if c.Sensor.ReconnectDelay <= 0 {
		return fmt.Errorf("%w: sensor.reconnectDelay must be positive", ErrInvalidConfig)
	}

	if c.Vehicle.Address == "" {
		return fmt.Errorf("%w: vehicle.address is required", ErrInvalidConfig)
	}
	if _, err := mavlink.CustomMode(c.Vehicle.Mode); err != nil {
		return fmt.Errorf("%w: vehicle.mode: %s", ErrInvalidConfig, err)
	}
	if c.Vehicle.ReadyTimeout < 0 {
		return fmt.Errorf("%w: vehicle.readyTimeout must not be negative", ErrInvalidConfig)
	}

	f := c.Flight
	if f.LandAltitude <= 0 || f.TargetAltitude <= f.LandAltitude {
		return fmt.Errorf("%w: flight.targetAltitude must be above flight.landAltitude > 0: %d <= %d",
			ErrInvalidConfig, f.TargetAltitude, f.LandAltitude)
	}
	if f.MaxTakeoffThrust <= flight.DefaultLimits().ThrustStart || f.MaxTakeoffThrust > 1 {
		return fmt.Errorf("%w: flight.maxTakeoffThrust must be in (%.2f, 1]: %.3f given",
			ErrInvalidConfig, flight.DefaultLimits().ThrustStart, f.MaxTakeoffThrust)
	}
	if f.NeededClimb <= 0 {
		return fmt.Errorf("%w: flight.neededClimb must be positive", ErrInvalidConfig)
	}
	if f.Tick <= 0 || f.Poll <= 0 || f.Hold < 0 || f.ArmCountdown < 0 || f.TakeoffCountdown < 0 {
		return fmt.Errorf("%w: flight timings must not be negative, tick and poll must be positive", ErrInvalidConfig)
	}

	if c.Recorder.Enabled && c.Recorder.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: recorder.maxBatchSize must be positive", ErrInvalidConfig)
	}
	if c.Recorder.Enabled && c.Recorder.FlushInterval <= 0 {
		return fmt.Errorf("%w: recorder.flushInterval must be positive", ErrInvalidConfig)
	}

	if c.MQTT.Enabled && (c.MQTT.Broker == "" || c.MQTT.Topic == "") {
		return fmt.Errorf("%w: mqtt.broker and mqtt.topic are required", ErrInvalidConfig)
	}
	if c.MQTT.Enabled && c.MQTT.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: mqtt.connectTimeout must be positive", ErrInvalidConfig)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalidConfig)
	}

	if c.Monitor.Enabled && c.Monitor.Address == "" {
		return fmt.Errorf("%w: monitor.address is required", ErrInvalidConfig)
	}

	return nil
}

// Limits returns the flight limits with the configured overrides applied
func (c *Config) Limits() flight.Limits {
	l := flight.DefaultLimits()
	l.TargetAltitude = c.Flight.TargetAltitude
	l.LandAltitude = c.Flight.LandAltitude
	l.MaxTakeoffThrust = c.Flight.MaxTakeoffThrust
	l.NeededClimb = c.Flight.NeededClimb
	return l
}

func (c *Config) Timing() flight.Timing {
	return flight.Timing{
		Tick:             time.Duration(c.Flight.Tick),
		Poll:             time.Duration(c.Flight.Poll),
		Hold:             time.Duration(c.Flight.Hold),
		ArmCountdown:     time.Duration(c.Flight.ArmCountdown),
		TakeoffCountdown: time.Duration(c.Flight.TakeoffCountdown),
	}
}

func (c *Config) Link() mavlink.Config {
	return mavlink.Config{
		Endpoint:        c.Vehicle.Endpoint,
		Address:         c.Vehicle.Address,
		Baud:            c.Vehicle.Baud,
		SystemID:        c.Vehicle.SystemID,
		TargetSystem:    c.Vehicle.TargetSystem,
		TargetComponent: c.Vehicle.TargetComponent,
		ReadyTimeout:    time.Duration(c.Vehicle.ReadyTimeout),
	}
}

// Dialer returns the sensor board dialer for the configured transport
func (c *Config) Dialer() rangefinder.Dialer {
	if c.Sensor.Transport == SensorTransportSerial {
		return rangefinder.SerialDialer{Port: c.Sensor.SerialPort, BaudRate: c.Sensor.BaudRate}
	}
	return rangefinder.TCPDialer{Address: c.Sensor.Address, Timeout: time.Duration(c.Sensor.ConnectTimeout)}
}

func (c *Config) MQTTConfig() monitor.MQTTConfig {
	return monitor.MQTTConfig{
		Broker:         c.MQTT.Broker,
		ClientID:       c.MQTT.ClientID,
		Topic:          c.MQTT.Topic,
		QoS:            c.MQTT.QoS,
		ConnectTimeout: time.Duration(c.MQTT.ConnectTimeout),
	}
}
