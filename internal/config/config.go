// Package config loads settings for the regbind commands.
//
// Values come from, in increasing priority: built-in defaults, a config
// file (TOML, YAML or JSON by extension), and REGBIND_* environment
// variables. Nested keys map to variables with dots replaced by
// underscores, so poll.interval is REGBIND_POLL_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "REGBIND"

// Config holds the settings shared by the regbind commands.
type Config struct {
	Target  TargetConfig  `mapstructure:"target"`
	Poll    PollConfig    `mapstructure:"poll"`
	Log     LogConfig     `mapstructure:"log"`
	Symbols SymbolsConfig `mapstructure:"symbols"`
	Sim     SimConfig     `mapstructure:"sim"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// TargetConfig selects the probe a console talks to.
type TargetConfig struct {
	// Address is host:port of the probe. Empty means discover via mDNS.
	Address string `mapstructure:"address"`

	// ProbeID restricts discovery to one probe.
	ProbeID string `mapstructure:"probe_id"`

	// Timeout bounds each request.
	Timeout time.Duration `mapstructure:"timeout"`

	// HoldWrites keeps writes local while the link is down.
	HoldWrites bool `mapstructure:"hold_writes"`
}

// PollConfig controls the refresh provider.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxOps   float64       `mapstructure:"max_ops"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level"`

	// EventFile, if set, captures protocol events to an .rlog file.
	EventFile string `mapstructure:"event_file"`
}

// SymbolsConfig locates the symbol table.
type SymbolsConfig struct {
	Path string `mapstructure:"path"`
}

// SimConfig configures the simulated probe.
type SimConfig struct {
	Listen    string        `mapstructure:"listen"`
	Latency   time.Duration `mapstructure:"latency"`
	Advertise bool          `mapstructure:"advertise"`
	Name      string        `mapstructure:"name"`

	// MaxMulti caps multi-register reads; negative disables them.
	MaxMulti int `mapstructure:"max_multi"`
}

// MetricsConfig exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	// Listen is the HTTP address; empty disables the endpoint.
	Listen string `mapstructure:"listen"`
}

// Config errors.
var (
	ErrInvalidLevel    = errors.New("invalid log level")
	ErrInvalidInterval = errors.New("poll interval must be positive")
	ErrInvalidTimeout  = errors.New("target timeout must be positive")
)

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Target: TargetConfig{Timeout: 5 * time.Second},
		Poll:   PollConfig{Interval: time.Second},
		Log:    LogConfig{Level: "info"},
		Sim:    SimConfig{Listen: ":7450"},
	}
}

// Load reads the configuration. An empty path skips the file; a path that
// does not exist is an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("target.address", d.Target.Address)
	v.SetDefault("target.probe_id", d.Target.ProbeID)
	v.SetDefault("target.timeout", d.Target.Timeout)
	v.SetDefault("target.hold_writes", d.Target.HoldWrites)
	v.SetDefault("poll.interval", d.Poll.Interval)
	v.SetDefault("poll.max_ops", d.Poll.MaxOps)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.event_file", d.Log.EventFile)
	v.SetDefault("symbols.path", d.Symbols.Path)
	v.SetDefault("sim.listen", d.Sim.Listen)
	v.SetDefault("sim.latency", d.Sim.Latency)
	v.SetDefault("sim.advertise", d.Sim.Advertise)
	v.SetDefault("sim.name", d.Sim.Name)
	v.SetDefault("sim.max_multi", d.Sim.MaxMulti)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// Validate checks values a file or environment could get wrong.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Poll.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.Target.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}
