// Package config provides process configuration for keydeck.
//
// Configuration is read from an optional file (YAML or TOML, chosen by
// extension) and overlaid with command-line flags by the caller. A
// missing file is not an error; defaults apply.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for config files with an unsupported extension.
var ErrUnknownFormat = errors.New("unknown config file format")

// Config is the full process configuration.
type Config struct {
	Deck       DeckConfig       `yaml:"deck" toml:"deck"`
	Navigation NavigationConfig `yaml:"navigation" toml:"navigation"`
	Watch      WatchConfig      `yaml:"watch" toml:"watch"`
	Scripts    ScriptConfig     `yaml:"scripts" toml:"scripts"`
	Log        LogConfig        `yaml:"log" toml:"log"`
}

// DeckConfig describes the device surface.
type DeckConfig struct {
	// Rows and Cols define the key grid when no device reports one.
	Rows int `yaml:"rows" toml:"rows"`
	Cols int `yaml:"cols" toml:"cols"`

	// Brightness is the initial panel brightness, 0-100.
	Brightness int `yaml:"brightness" toml:"brightness"`
}

// NavigationConfig controls page navigation behavior.
type NavigationConfig struct {
	// Wrap makes PREVIOUS/NEXT wrap around the defined page range
	// instead of stopping at the edges.
	Wrap bool `yaml:"wrap" toml:"wrap"`
}

// WatchConfig controls the filesystem watch source.
type WatchConfig struct {
	// DebounceMS is the event coalescing window in milliseconds.
	// Zero disables debouncing.
	DebounceMS int `yaml:"debounce_ms" toml:"debounce_ms"`

	// BufferSize is the watch event channel capacity.
	BufferSize int `yaml:"buffer_size" toml:"buffer_size"`
}

// ScriptConfig controls event action execution.
type ScriptConfig struct {
	// LuaEnabled allows .lua event files to run in the embedded runtime.
	LuaEnabled bool `yaml:"lua_enabled" toml:"lua_enabled"`

	// TimeoutMS bounds a single action execution in milliseconds.
	TimeoutMS int `yaml:"timeout_ms" toml:"timeout_ms"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`

	// File is an optional log file path; empty means stderr.
	File string `yaml:"file" toml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Deck: DeckConfig{
			Rows:       3,
			Cols:       5,
			Brightness: 30,
		},
		Navigation: NavigationConfig{
			Wrap: false,
		},
		Watch: WatchConfig{
			DebounceMS: 50,
			BufferSize: 256,
		},
		Scripts: ScriptConfig{
			LuaEnabled: true,
			TimeoutMS:  5000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path over the defaults.
// An empty path or a missing file returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return cfg, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the rest of the process cannot work with.
func (c Config) Validate() error {
	if c.Deck.Rows < 1 || c.Deck.Cols < 1 {
		return fmt.Errorf("deck grid %dx%d is invalid", c.Deck.Rows, c.Deck.Cols)
	}
	if c.Deck.Brightness < 0 || c.Deck.Brightness > 100 {
		return fmt.Errorf("brightness %d out of range 0-100", c.Deck.Brightness)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// DebounceDelay returns the watch debounce window as a duration.
func (c WatchConfig) DebounceDelay() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// Timeout returns the script timeout as a duration.
func (c ScriptConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
