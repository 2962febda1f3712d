package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/keylightctl/internal/actions"
	"github.com/dokzlo13/keylightctl/internal/hotkey"
)

// DefaultLightPort is the HTTP port of the Elgato accessory API
const DefaultLightPort = 9123

// Config represents the application configuration
type Config struct {
	Lights          []LightConfig     `yaml:"lights"`
	Hotkeys         []HotkeyConfig    `yaml:"hotkeys"`
	Device          DeviceConfig      `yaml:"device"`
	Input           InputConfig       `yaml:"input"`
	DBus            DBusConfig        `yaml:"dbus"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Database        DatabaseConfig    `yaml:"database"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Log             LogConfig         `yaml:"log"`
	Script          string            `yaml:"script"`           // Optional Lua macro script
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // Upper bound for waiting on the dispatcher at exit
}

// LightConfig describes one controllable light
type LightConfig struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// Address returns host:port of the light's HTTP API
func (l LightConfig) Address() string {
	port := l.Port
	if port == 0 {
		port = DefaultLightPort
	}
	return net.JoinHostPort(l.IP, strconv.Itoa(port))
}

// Label returns the display name, falling back to the IP
func (l LightConfig) Label() string {
	if l.Name != "" {
		return l.Name
	}
	return l.IP
}

// HotkeyConfig binds a key combination to an action or a Lua macro
type HotkeyConfig struct {
	Key    string `yaml:"key"`
	Action string `yaml:"action"`
	Macro  string `yaml:"macro"`
	Repeat bool   `yaml:"repeat"` // Also fire on key auto-repeat
}

// DeviceConfig contains settings for the light HTTP clients
type DeviceConfig struct {
	Timeout      Duration `yaml:"timeout"`        // HTTP timeout per request
	RateLimitRPS *float64 `yaml:"rate_limit_rps"` // Requests per second per light; 0 disables limiting (default: 20)
	Probe        *bool    `yaml:"probe"`          // Check every light is reachable at startup (default: true)
}

// DefaultRateLimitRPS applies when rate_limit_rps is not set
const DefaultRateLimitRPS = 20.0

// GetRateLimitRPS returns the per-light request rate with default
func (c *DeviceConfig) GetRateLimitRPS() float64 {
	if c.RateLimitRPS == nil {
		return DefaultRateLimitRPS
	}
	return *c.RateLimitRPS
}

// ShouldProbe returns whether lights are probed at startup
func (c *DeviceConfig) ShouldProbe() bool {
	return c.Probe == nil || *c.Probe
}

// InputConfig contains evdev hotkey capture settings
type InputConfig struct {
	Enabled *bool    `yaml:"enabled"` // default: true
	Devices []string `yaml:"devices"` // Explicit /dev/input paths; empty = autodetect keyboards
}

// IsEnabled returns whether evdev capture is enabled
func (c *InputConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// DBusConfig contains session bus settings
type DBusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the configured level
func (c *LogConfig) GetLevel() string {
	return c.Level
}

// LedgerConfig contains action ledger settings
type LedgerConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// HealthcheckConfig contains status server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// GetHost returns host with default
func (c *HealthcheckConfig) GetHost() string {
	if c.Host == "" {
		return "127.0.0.1"
	}
	return c.Host
}

// GetPort returns port with default
func (c *HealthcheckConfig) GetPort() int {
	if c.Port == 0 {
		return 9090
	}
	return c.Port
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 64)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 64
	}
	return c.QueueSize
}

// GetShutdownTimeout returns the shutdown timeout as time.Duration
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads, parses and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./keylightctl.sqlite"
	}
	if cfg.Device.Timeout == 0 {
		cfg.Device.Timeout = Duration(5 * time.Second)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(10 * time.Second)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for errors that must abort startup
func (c *Config) Validate() error {
	if len(c.Lights) == 0 {
		return fmt.Errorf("at least one light must be configured")
	}
	for i, l := range c.Lights {
		if strings.TrimSpace(l.IP) == "" {
			return fmt.Errorf("lights[%d]: ip is required", i)
		}
		if l.Port < 0 || l.Port > 65535 {
			return fmt.Errorf("lights[%d]: invalid port %d", i, l.Port)
		}
	}

	seen := make(map[string]int, len(c.Hotkeys))
	for i, h := range c.Hotkeys {
		combo, err := hotkey.ParseCombo(h.Key)
		if err != nil {
			return fmt.Errorf("hotkeys[%d]: %w", i, err)
		}
		if prev, dup := seen[combo.String()]; dup {
			return fmt.Errorf("hotkeys[%d]: key %q already bound by hotkeys[%d]", i, h.Key, prev)
		}
		seen[combo.String()] = i

		switch {
		case h.Action != "" && h.Macro != "":
			return fmt.Errorf("hotkeys[%d]: action and macro are mutually exclusive", i)
		case h.Action == "" && h.Macro == "":
			return fmt.Errorf("hotkeys[%d]: either action or macro is required", i)
		case h.Action != "":
			if _, err := actions.Parse(h.Action); err != nil {
				return fmt.Errorf("hotkeys[%d]: %w", i, err)
			}
		}
		if h.Macro != "" && c.Script == "" {
			return fmt.Errorf("hotkeys[%d]: macro %q requires a script", i, h.Macro)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}

	if c.Device.GetRateLimitRPS() < 0 {
		return fmt.Errorf("device.rate_limit_rps must not be negative")
	}

	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
