package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given. It may be
// absent.
const DefaultPath = "ooui.yaml"

type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Publish   PublishConfig   `yaml:"publish" toml:"publish"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Samples   SamplesConfig   `yaml:"samples" toml:"samples"`
}

type ServerConfig struct {
	Host string `yaml:"host" toml:"host" env:"OOUI_HOST"`
	Port int    `yaml:"port" toml:"port" env:"OOUI_PORT"`
	// ClientScript is served at /ooui.js when set.
	ClientScript   string   `yaml:"client_script" toml:"client_script" env:"OOUI_CLIENT_SCRIPT"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" env:"OOUI_ALLOWED_ORIGINS" envSeparator:","`
	MetricsPath    string   `yaml:"metrics_path" toml:"metrics_path" env:"OOUI_METRICS_PATH"`
}

type SessionConfig struct {
	MaxFPS        int           `yaml:"max_fps" toml:"max_fps" env:"OOUI_MAX_FPS"`
	ReceiveLimit  int64         `yaml:"receive_limit" toml:"receive_limit" env:"OOUI_RECEIVE_LIMIT"`
	DefaultWidth  float64       `yaml:"default_width" toml:"default_width" env:"OOUI_DEFAULT_WIDTH"`
	DefaultHeight float64       `yaml:"default_height" toml:"default_height" env:"OOUI_DEFAULT_HEIGHT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"OOUI_WRITE_TIMEOUT"`
}

type PublishConfig struct {
	RetryDelay   time.Duration `yaml:"retry_delay" toml:"retry_delay" env:"OOUI_RETRY_DELAY"`
	JSONCacheTTL time.Duration `yaml:"json_cache_ttl" toml:"json_cache_ttl" env:"OOUI_JSON_CACHE_TTL"`
}

type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" toml:"endpoint" env:"OOUI_OTLP_ENDPOINT"`
	ServiceName string `yaml:"service_name" toml:"service_name" env:"OOUI_SERVICE_NAME"`
}

type SamplesConfig struct {
	SysmonInterval time.Duration `yaml:"sysmon_interval" toml:"sysmon_interval" env:"OOUI_SYSMON_INTERVAL"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			MetricsPath: "/metrics",
		},
		Session: SessionConfig{
			MaxFPS:        30,
			ReceiveLimit:  64 * 1024,
			DefaultWidth:  640,
			DefaultHeight: 480,
			WriteTimeout:  10 * time.Second,
		},
		Publish: PublishConfig{
			RetryDelay:   5 * time.Second,
			JSONCacheTTL: time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "oouid",
		},
		Samples: SamplesConfig{
			SysmonInterval: 2 * time.Second,
		},
	}
}

// Load reads path over the defaults, then applies OOUI_* environment
// overrides. Files ending in .toml are decoded as TOML, anything else as
// YAML. A missing DefaultPath is not an error.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Session.ReceiveLimit < 0 {
		return fmt.Errorf("session.receive_limit must not be negative")
	}
	return nil
}

// ThrottleInterval is the minimum spacing between frames sent to one client.
func (c *Config) ThrottleInterval() time.Duration {
	fps := c.Session.MaxFPS
	if fps <= 0 {
		fps = 30
	}
	return time.Second / time.Duration(fps)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
