// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "OOUI_LOG_LEVEL"
	EnvLogNoColor = "OOUI_LOG_NOCOLOR"
	EnvLogJSON    = "OOUI_LOG_JSON"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
	Out       io.Writer
}

var configureOnce sync.Once

func ConfigureRuntime() { Configure(ProfileRuntime) }
func ConfigureTests()   { Configure(ProfileTest) }

// Configure installs the global logger once per process. Later calls are
// no-ops so packages and tests can call it freely.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		log.Logger = New(cfg)
		zerolog.SetGlobalLevel(cfg.Level)
	})
}

// ConfigureLevel is Configure(ProfileRuntime) with a level name from a
// config file. The env override still wins.
func ConfigureLevel(level string) {
	configureOnce.Do(func() {
		cfg := defaultConfig(ProfileRuntime)
		if lvl, ok := ParseLevel(level); ok {
			cfg.Level = lvl
		}
		applyEnvOverrides(&cfg)
		log.Logger = New(cfg)
		zerolog.SetGlobalLevel(cfg.Level)
	})
}

// New builds a logger for cfg without touching the global one.
func New(cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// For returns a child of the global logger tagged with a component name.
func For(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogJSON)); ok {
		cfg.JSON = v
	}
}

// ParseLevel maps a level name to a zerolog level. Unknown or empty names
// report false.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
