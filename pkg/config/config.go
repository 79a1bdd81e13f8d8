package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the top-level configuration struct for the application.
// It holds settings for logging, the dashboard API, the two external services
// and the monitors the scheduler runs.
// Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`
	APIPort   string          `mapstructure:"api_port"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Healer    HealerConfig    `mapstructure:"healer"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Stream    StreamConfig    `mapstructure:"stream"`
	EventBus  EventBusConfig  `mapstructure:"event_bus"`
	Monitors  []MonitorConfig `mapstructure:"monitors"`
	Actions   ActionsConfig   `mapstructure:"actions"`

	v *viper.Viper
}

// BackendConfig points at the detection backend that streams telemetry and
// accepts anomaly injections.
type BackendConfig struct {
	StreamURL string        `mapstructure:"stream_url"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// HealerConfig points at the mitigation (healing) service.
type HealerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ResponseFormat string        `mapstructure:"response_format"` // auto, json, text
}

// DashboardConfig holds the view state settings.
type DashboardConfig struct {
	WindowSize       int     `mapstructure:"window_size"`
	Threshold        float64 `mapstructure:"threshold"`
	MitigationPolicy string  `mapstructure:"mitigation_policy"` // supersede, last_resolved
}

// StreamConfig controls how the stream listener is supervised.
type StreamConfig struct {
	Reconnect      bool          `mapstructure:"reconnect"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	StableAfter    time.Duration `mapstructure:"stable_after"`
}

// EventBusConfig sizes the state-change event buffer.
type EventBusConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// MonitorConfig defines the configuration for a single monitor.
// An empty interval marks a long-running monitor that is restarted when it
// returns.
type MonitorConfig struct {
	Name     string                 `mapstructure:"name"`
	Enabled  bool                   `mapstructure:"enabled"`
	Interval string                 `mapstructure:"interval"`
	Config   map[string]interface{} `mapstructure:"config"`
}

// ActionsConfig holds the global configuration for the dashboard actions.
type ActionsConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// LoadConfig reads the configuration from a YAML file (e.g., config.yaml) and
// environment variables. It uses Viper for robust configuration management,
// allowing for defaults and environment variable overrides.
func LoadConfig() (*Config, error) {
	v := newViper()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/nids-watch/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// LoadConfigFile reads the configuration from path. Unlike LoadConfig a
// missing file is an error.
func LoadConfigFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NIDSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("api_port", "8090")

	v.SetDefault("backend.stream_url", "ws://localhost:8000/ws/monitor")
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", 30*time.Second)

	v.SetDefault("healer.base_url", "http://localhost:8080")
	v.SetDefault("healer.timeout", 60*time.Second)
	v.SetDefault("healer.response_format", "auto")

	v.SetDefault("dashboard.window_size", 50)
	v.SetDefault("dashboard.threshold", 0.7)
	v.SetDefault("dashboard.mitigation_policy", "supersede")

	v.SetDefault("stream.reconnect", true)
	v.SetDefault("stream.initial_backoff", 500*time.Millisecond)
	v.SetDefault("stream.max_backoff", 30*time.Second)
	v.SetDefault("stream.stable_after", 10*time.Second)

	v.SetDefault("event_bus.buffer_size", 256)

	v.SetDefault("actions.enabled", true)
	v.SetDefault("actions.rate_per_second", 1.0)
	v.SetDefault("actions.burst", 3)

	v.SetDefault("monitors", []map[string]interface{}{
		{"name": "stream_listener", "enabled": true},
		{"name": "runtime_monitor", "enabled": true, "interval": "15s"},
	})
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.v = v
	return &cfg, nil
}

// Validate rejects settings the dashboard cannot run with.
func (c *Config) Validate() error {
	if c.Dashboard.WindowSize <= 0 {
		return fmt.Errorf("dashboard.window_size must be positive, got %d", c.Dashboard.WindowSize)
	}
	if c.Dashboard.Threshold < 0 || c.Dashboard.Threshold > 1 {
		return fmt.Errorf("dashboard.threshold must be within [0,1], got %v", c.Dashboard.Threshold)
	}
	switch c.Dashboard.MitigationPolicy {
	case "supersede", "last_resolved":
	default:
		return fmt.Errorf("unknown dashboard.mitigation_policy %q", c.Dashboard.MitigationPolicy)
	}
	switch c.Healer.ResponseFormat {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("unknown healer.response_format %q", c.Healer.ResponseFormat)
	}
	return nil
}

// GetMonitorConfig returns the configuration of the named monitor, or nil if
// the monitor is not configured.
func (c *Config) GetMonitorConfig(name string) *MonitorConfig {
	for i := range c.Monitors {
		if c.Monitors[i].Name == name {
			return &c.Monitors[i]
		}
	}
	return nil
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// OnChange watches the loaded config file and calls fn with the freshly
// decoded configuration after each write. Invalid edits are reported through
// onError and otherwise ignored. It is a no-op when no file was loaded.
func (c *Config) OnChange(fn func(*Config), onError func(error)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	v := c.v
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		fn(next)
	})
	v.WatchConfig()
}
