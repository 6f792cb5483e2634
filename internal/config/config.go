package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config represents the complete configuration for the SCPI bridge
type Config struct {
	Network    NetworkConfig    `yaml:"network"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Logging    LoggingConfig    `yaml:"logging"`
	State      StateConfig      `yaml:"state"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// NetworkConfig holds network-related settings
type NetworkConfig struct {
	SCPI      SCPIConfig      `yaml:"scpi"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// SCPIConfig holds the raw TCP control server settings
type SCPIConfig struct {
	Port           int      `yaml:"port"`
	AllowedCIDRs   []string `yaml:"allowedCidrs"`
	MaxConnections int      `yaml:"maxConnections"`
	MaxLineLength  int      `yaml:"maxLineLength"`
	// AcceptRate limits new connections per second; 0 disables the limit.
	AcceptRate  float64 `yaml:"acceptRate"`
	AcceptBurst int     `yaml:"acceptBurst"`
}

// WebSocketConfig holds the WebSocket control server settings. Port 0 disables it.
type WebSocketConfig struct {
	Port int          `yaml:"port"`
	Path string       `yaml:"path"`
	Auth WSAuthConfig `yaml:"auth"`
}

// WSAuthConfig enables bearer token checks on the WebSocket upgrade. An empty
// algorithm disables them.
type WSAuthConfig struct {
	Algorithm     string `yaml:"algorithm"` // HS256 or RS256
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"publicKeyFile"`
	RequiredScope string `yaml:"requiredScope"`
}

// InstrumentConfig describes the simulated instrument
type InstrumentConfig struct {
	Make            string          `yaml:"make"`
	Model           string          `yaml:"model"`
	Serial          string          `yaml:"serial"`
	FirmwareVersion string          `yaml:"firmwareVersion"`
	SampleRatesHz   []uint64        `yaml:"sampleRatesHz"`
	SampleDepths    []uint64        `yaml:"sampleDepths"`
	Channels        []ChannelConfig `yaml:"channels"`
}

// ChannelConfig names one instrument input and its type
type ChannelConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // analog, digital or trigger
}

// Channel type names accepted in ChannelConfig.Type
const (
	ChannelAnalog  = "analog"
	ChannelDigital = "digital"
	ChannelTrigger = "trigger"
)

// LoggingConfig holds log output settings
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Verbose    bool   `yaml:"verbose"`
}

// StateConfig holds settings persistence options. An empty path disables persistence.
type StateConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig holds status publishing settings
type TelemetryConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig holds MQTT broker settings. An empty broker disables publishing.
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"clientId"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Topic        string `yaml:"topic"`
	QoS          int    `yaml:"qos"`
	KeepAliveSec int    `yaml:"keepAliveSec"`
}

// Load loads configuration from file and environment variables. An explicit
// path takes precedence over SCPI_BRIDGE_CONFIG; with neither, defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SCPI_BRIDGE_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	// Override with environment variables
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration: a four channel analog scope
// with eight digital inputs and an external trigger.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			SCPI: SCPIConfig{
				Port:           5025,
				AllowedCIDRs:   []string{"127.0.0.0/8", "::1/128"},
				MaxConnections: 4,
				MaxLineLength:  4096,
				AcceptRate:     5,
				AcceptBurst:    4,
			},
			WebSocket: WebSocketConfig{
				Port: 0,
				Path: "/scpi",
			},
		},
		Instrument: InstrumentConfig{
			Make:            "ScpiBridge",
			Model:           "SIM-4",
			Serial:          "SIM0001",
			FirmwareVersion: "1.0.0",
			SampleRatesHz:   []uint64{1000, 10000, 100000, 1000000, 10000000, 100000000},
			SampleDepths:    []uint64{1000, 10000, 100000, 1000000},
			Channels: []ChannelConfig{
				{Name: "C1", Type: ChannelAnalog},
				{Name: "C2", Type: ChannelAnalog},
				{Name: "C3", Type: ChannelAnalog},
				{Name: "C4", Type: ChannelAnalog},
				{Name: "D0", Type: ChannelDigital},
				{Name: "D1", Type: ChannelDigital},
				{Name: "D2", Type: ChannelDigital},
				{Name: "D3", Type: ChannelDigital},
				{Name: "D4", Type: ChannelDigital},
				{Name: "D5", Type: ChannelDigital},
				{Name: "D6", Type: ChannelDigital},
				{Name: "D7", Type: ChannelDigital},
				{Name: "EX", Type: ChannelTrigger},
			},
		},
		Logging: LoggingConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			MQTT: MQTTConfig{
				ClientID:     "scpi-bridge",
				Topic:        "scpi-bridge",
				KeepAliveSec: 30,
			},
		},
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("SCPI_BRIDGE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Network.SCPI.Port = p
		}
	}

	if v := os.Getenv("SCPI_BRIDGE_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.Verbose = b
		}
	}

	if secret := os.Getenv("SCPI_BRIDGE_WS_SECRET"); secret != "" {
		cfg.Network.WebSocket.Auth.Secret = secret
	}

	if broker := os.Getenv("SCPI_BRIDGE_MQTT_BROKER"); broker != "" {
		cfg.Telemetry.MQTT.Broker = broker
	}
}

// Validate checks the configuration for consistency
func Validate(cfg *Config) error {
	if cfg.Network.SCPI.Port < 0 || cfg.Network.SCPI.Port > 65535 {
		return fmt.Errorf("invalid scpi port %d", cfg.Network.SCPI.Port)
	}
	if cfg.Network.WebSocket.Port < 0 || cfg.Network.WebSocket.Port > 65535 {
		return fmt.Errorf("invalid websocket port %d", cfg.Network.WebSocket.Port)
	}
	if cfg.Network.WebSocket.Port != 0 && !strings.HasPrefix(cfg.Network.WebSocket.Path, "/") {
		return fmt.Errorf("websocket path %q must start with /", cfg.Network.WebSocket.Path)
	}
	switch auth := cfg.Network.WebSocket.Auth; auth.Algorithm {
	case "":
	case "HS256":
		if auth.Secret == "" {
			return fmt.Errorf("websocket auth HS256 requires a secret")
		}
	case "RS256":
		if auth.PublicKeyFile == "" {
			return fmt.Errorf("websocket auth RS256 requires publicKeyFile")
		}
	default:
		return fmt.Errorf("invalid websocket auth algorithm %q, must be HS256 or RS256", auth.Algorithm)
	}
	if cfg.Network.SCPI.MaxConnections <= 0 {
		return fmt.Errorf("maxConnections must be positive, got %d", cfg.Network.SCPI.MaxConnections)
	}
	if cfg.Network.SCPI.MaxLineLength <= 0 {
		return fmt.Errorf("maxLineLength must be positive, got %d", cfg.Network.SCPI.MaxLineLength)
	}
	if cfg.Network.SCPI.AcceptRate < 0 {
		return fmt.Errorf("acceptRate must not be negative, got %g", cfg.Network.SCPI.AcceptRate)
	}
	if cfg.Network.SCPI.AcceptRate > 0 && cfg.Network.SCPI.AcceptBurst <= 0 {
		return fmt.Errorf("acceptBurst must be positive when acceptRate is set, got %d", cfg.Network.SCPI.AcceptBurst)
	}
	for _, cidr := range cfg.Network.SCPI.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid allowed CIDR %q: %w", cidr, err)
		}
	}

	inst := cfg.Instrument
	if len(inst.SampleRatesHz) == 0 {
		return fmt.Errorf("at least one sample rate must be configured")
	}
	for _, rate := range inst.SampleRatesHz {
		if rate == 0 {
			return fmt.Errorf("sample rate must be non-zero")
		}
	}
	if len(inst.SampleDepths) == 0 {
		return fmt.Errorf("at least one sample depth must be configured")
	}
	if len(inst.Channels) == 0 {
		return fmt.Errorf("at least one channel must be configured")
	}

	validTypes := []string{ChannelAnalog, ChannelDigital, ChannelTrigger}
	seen := make(map[string]bool, len(inst.Channels))
	for _, ch := range inst.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel name must not be empty")
		}
		if ch.Name == "TRIG" {
			return fmt.Errorf("channel name TRIG is reserved")
		}
		if strings.ContainsAny(ch.Name, ":?,; \t") {
			return fmt.Errorf("channel name %q contains protocol delimiters", ch.Name)
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate channel name %s", ch.Name)
		}
		seen[ch.Name] = true
		if !contains(validTypes, ch.Type) {
			return fmt.Errorf("invalid type %s for channel %s, must be one of: %v", ch.Type, ch.Name, validTypes)
		}
	}

	if cfg.Telemetry.MQTT.Broker != "" {
		if cfg.Telemetry.MQTT.Topic == "" {
			return fmt.Errorf("mqtt topic must be set when a broker is configured")
		}
		if cfg.Telemetry.MQTT.QoS < 0 || cfg.Telemetry.MQTT.QoS > 2 {
			return fmt.Errorf("invalid mqtt qos %d", cfg.Telemetry.MQTT.QoS)
		}
	}

	return nil
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
