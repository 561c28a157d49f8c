package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
	"github.com/Agrid-Dev/thermobrew/internal/logger"
)

// EnvPrefix is stripped from environment variables before they are mapped
// onto config keys.
const EnvPrefix = "THERMOBREW_"

const (
	SensorDS18B20   = "ds18b20"
	SensorSimulated = "simulated"

	ActuatorGPIOCDev = "gpiocdev"
	ActuatorRPIO     = "rpio"
	ActuatorNone     = "none"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	DeviceID    string            `koanf:"device_id" yaml:"device_id"`
	Log         LogConfig         `koanf:"log" yaml:"log"`
	Controllers ControllersConfig `koanf:"controllers" yaml:"controllers"`
	Telemetry   TelemetryConfig   `koanf:"telemetry" yaml:"telemetry"`
	Controller  ControllerConfig  `koanf:"controller" yaml:"controller"`
	Sensor      SensorConfig      `koanf:"sensor" yaml:"sensor"`
	Simulation  SimulationConfig  `koanf:"simulation" yaml:"simulation"`
	Actuator    ActuatorConfig    `koanf:"actuator" yaml:"actuator"`
}

type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
}

type ControllersConfig struct {
	HTTP   HTTPConfig   `koanf:"http" yaml:"http"`
	MQTT   MQTTConfig   `koanf:"mqtt" yaml:"mqtt"`
	MODBUS ModbusConfig `koanf:"modbus" yaml:"modbus"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled" yaml:"enabled"`
	BrokerURL       string        `koanf:"broker_url" yaml:"broker_url"`
	ClientID        string        `koanf:"client_id" yaml:"client_id"`
	BaseTopic       string        `koanf:"base_topic" yaml:"base_topic"`
	QoS             byte          `koanf:"qos" yaml:"qos"`
	RetainSnapshot  bool          `koanf:"retain_snapshot" yaml:"retain_snapshot"`
	PublishInterval time.Duration `koanf:"publish_interval" yaml:"publish_interval"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	Username        string        `koanf:"username" yaml:"username"`
	Password        string        `koanf:"password" yaml:"password"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
	UnitID  byte   `koanf:"unit_id" yaml:"unit_id"`
}

type TelemetryConfig struct {
	Enabled           bool          `koanf:"enabled" yaml:"enabled"`
	ServerURL         string        `koanf:"server_url" yaml:"server_url"`
	ReconnectInterval time.Duration `koanf:"reconnect_interval" yaml:"reconnect_interval"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `koanf:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	HeartbeatMisses   int           `koanf:"heartbeat_misses" yaml:"heartbeat_misses"`
}

// ControllerConfig holds the initial settings. Everything but the pins,
// latching and poll_interval can be changed at runtime through /config.
type ControllerConfig struct {
	Running      bool          `koanf:"running" yaml:"running"`
	SetTemp      float64       `koanf:"set_temp" yaml:"set_temp"`
	TempRange    float64       `koanf:"temp_range" yaml:"temp_range"`
	DataInterval time.Duration `koanf:"data_interval" yaml:"data_interval"`
	Topic        string        `koanf:"topic" yaml:"topic"`
	HeaterPin    int           `koanf:"heater_pin" yaml:"heater_pin"`
	CoolerPin    int           `koanf:"cooler_pin" yaml:"cooler_pin"`
	Latching     bool          `koanf:"latching" yaml:"latching"`
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
}

type SensorConfig struct {
	Driver  string `koanf:"driver" yaml:"driver"` // "ds18b20" | "simulated"
	Address string `koanf:"address" yaml:"address"`
}

type SimulationConfig struct {
	InitialTemperature float64 `koanf:"initial_temperature" yaml:"initial_temperature"`
	AmbientTemperature float64 `koanf:"ambient_temperature" yaml:"ambient_temperature"`
	Coefficient        float64 `koanf:"coefficient" yaml:"coefficient"`
	HeaterRate         float64 `koanf:"heater_rate" yaml:"heater_rate"`
	CoolerRate         float64 `koanf:"cooler_rate" yaml:"cooler_rate"`
}

type ActuatorConfig struct {
	Driver    string `koanf:"driver" yaml:"driver"` // "gpiocdev" | "rpio" | "none"
	Chip      string `koanf:"chip" yaml:"chip"`
	ActiveLow bool   `koanf:"active_low" yaml:"active_low"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	snap := fermenter.DefaultSnapshot()
	return Config{
		Log: LogConfig{Level: logger.InfoLevel},
		Controllers: ControllersConfig{
			HTTP: HTTPConfig{Enabled: true, Addr: ":8080"},
			MQTT: MQTTConfig{
				BrokerURL:       "tcp://localhost:1883",
				PublishInterval: 1 * time.Second,
				WriteTimeout:    2 * time.Second,
			},
			MODBUS: ModbusConfig{Addr: "127.0.0.1:1502", UnitID: 1},
		},
		Telemetry: TelemetryConfig{
			Enabled:           true,
			ServerURL:         "ws://192.168.0.13:8765",
			ReconnectInterval: 5 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			HeartbeatTimeout:  3 * time.Second,
			HeartbeatMisses:   2,
		},
		Controller: ControllerConfig{
			Running:      snap.Running,
			SetTemp:      snap.SetTemp,
			TempRange:    snap.TempRange,
			DataInterval: snap.DataInterval,
			Topic:        snap.Topic,
			HeaterPin:    snap.HeaterPin,
			CoolerPin:    snap.CoolerPin,
			PollInterval: 50 * time.Millisecond,
		},
		Sensor: SensorConfig{Driver: SensorDS18B20},
		Simulation: SimulationConfig{
			InitialTemperature: 68,
			AmbientTemperature: 72,
			Coefficient:        0.001,
			HeaterRate:         0.01,
			CoolerRate:         0.02,
		},
		Actuator: ActuatorConfig{Driver: ActuatorGPIOCDev, Chip: "gpiochip0"},
	}
}

// Load layers defaults, the file at path (if it exists) and THERMOBREW_*
// environment variables, in that order.
func Load(path string) (Config, error) {
	return load(path, os.Environ)
}

func load(path string, environ func() []string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			parser, err := parserFor(path)
			if err != nil {
				return Config{}, err
			}
			if err := k.Load(file.Provider(path), parser); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// Config file missing → use defaults
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyTransform(strings.TrimPrefix(key, EnvPrefix)), value
		},
		EnvironFunc: environ,
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyPortOverride(&cfg, environ)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}
}

// applyPortOverride honours PORT (common in containers) unless the HTTP
// address was set explicitly.
func applyPortOverride(cfg *Config, environ func() []string) {
	var port string
	for _, kv := range environ() {
		name, value, _ := strings.Cut(kv, "=")
		switch name {
		case EnvPrefix + "CONTROLLERS_HTTP_ADDR":
			return
		case "PORT":
			port = value
		}
	}
	if port != "" {
		// listen on all interfaces on that port
		cfg.Controllers.HTTP.Addr = ":" + port
	}
}

// envKeyTransform maps an environment variable name (prefix already
// removed) to a dotted config key:
//
//	CONTROLLERS_HTTP_ADDR -> controllers.http.addr
//	CONTROLLER_SET_TEMP   -> controller.set_temp
//	DEVICE_ID             -> device_id
func envKeyTransform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	if strings.HasPrefix(s, "controllers_") {
		parts := strings.SplitN(s, "_", 3)
		if len(parts) == 3 {
			return parts[0] + "." + parts[1] + "." + parts[2]
		}
		return s
	}

	for _, section := range []string{"log", "telemetry", "controller", "sensor", "simulation", "actuator"} {
		if rest, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + rest
		}
	}
	return s
}

func (c Config) Validate() error {
	if !logger.ValidLevel(c.Log.Level) {
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	if _, err := c.Snapshot(); err != nil {
		return fmt.Errorf("%w: controller: %v", ErrInvalidConfig, err)
	}
	if c.Controller.PollInterval <= 0 {
		return fmt.Errorf("%w: controller.poll_interval must be > 0", ErrInvalidConfig)
	}
	switch c.Sensor.Driver {
	case SensorDS18B20, SensorSimulated:
	default:
		return fmt.Errorf("%w: sensor.driver %q", ErrInvalidConfig, c.Sensor.Driver)
	}
	switch c.Actuator.Driver {
	case ActuatorGPIOCDev, ActuatorRPIO, ActuatorNone:
	default:
		return fmt.Errorf("%w: actuator.driver %q", ErrInvalidConfig, c.Actuator.Driver)
	}
	if c.Simulation.Coefficient < 0 {
		return fmt.Errorf("%w: simulation.coefficient must be >= 0", ErrInvalidConfig)
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.ServerURL == "" {
			return fmt.Errorf("%w: telemetry.server_url is required", ErrInvalidConfig)
		}
		if c.Telemetry.HeartbeatMisses <= 0 {
			return fmt.Errorf("%w: telemetry.heartbeat_misses must be > 0", ErrInvalidConfig)
		}
	}
	if c.Controllers.MQTT.QoS > 1 {
		return fmt.Errorf("%w: controllers.mqtt.qos must be 0 or 1", ErrInvalidConfig)
	}
	return nil
}

// Snapshot builds the initial store contents from the controller section.
func (c Config) Snapshot() (fermenter.Snapshot, error) {
	s := fermenter.Snapshot{
		Running:      c.Controller.Running,
		Topic:        c.Controller.Topic,
		SetTemp:      c.Controller.SetTemp,
		TempRange:    c.Controller.TempRange,
		HeaterPin:    c.Controller.HeaterPin,
		CoolerPin:    c.Controller.CoolerPin,
		DataInterval: c.Controller.DataInterval.Truncate(time.Millisecond),
	}
	if err := s.Validate(); err != nil {
		return fermenter.Snapshot{}, err
	}
	return s, nil
}

// Evaluator returns the state evaluator selected by controller.latching.
func (c Config) Evaluator() fermenter.Evaluator {
	if c.Controller.Latching {
		return fermenter.EvaluateLatching
	}
	return fermenter.Evaluate
}

// DumpYAML writes the effective configuration with secrets masked.
func DumpYAML(w io.Writer, c Config) error {
	if c.Controllers.MQTT.Password != "" {
		c.Controllers.MQTT.Password = "********"
	}
	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
