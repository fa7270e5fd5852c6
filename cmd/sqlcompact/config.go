package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/FocuswithJustin/sqlcompact/internal/logging"
)

// DefaultConfigFile is looked up in the working directory when --config is
// not given.
const DefaultConfigFile = "sqlcompact.json"

// Config holds the defaults the commands fall back on when a flag is not
// given.
type Config struct {
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`

	// Reserve is the page reserve VACUUM rebuilds with; -1 keeps the
	// database's current reserve.
	Reserve int `json:"reserve" yaml:"reserve"`
	// Codec is the codec new databases are created with.
	Codec string `json:"codec" yaml:"codec"`

	SnapshotDir string `json:"snapshot_dir" yaml:"snapshot_dir"`
	BusyTimeout string `json:"busy_timeout" yaml:"busy_timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:    "warn",
		LogFormat:   "text",
		Reserve:     -1,
		Codec:       "none",
		SnapshotDir: ".sqlcompact/snapshots",
		BusyTimeout: "5s",
	}
}

// LoadConfig reads path over the defaults. YAML is used for .yaml and .yml
// files, JSON with comments and trailing commas otherwise. A missing default
// config file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	default:
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return cfg, fmt.Errorf("invalid JSONC in %s: %w", path, err)
		}
		if err := json.Unmarshal(standardized, &cfg); err != nil {
			return cfg, fmt.Errorf("invalid JSON in %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks the values a config file may set.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	if c.Reserve < -1 || c.Reserve > 255 {
		return fmt.Errorf("reserve %d out of range (-1..255)", c.Reserve)
	}
	switch c.Codec {
	case "", "none", "checksum", "cipher":
	default:
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	if _, err := c.BusyTimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// BusyTimeoutDuration parses BusyTimeout; empty means no wait.
func (c Config) BusyTimeoutDuration() (time.Duration, error) {
	if c.BusyTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.BusyTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid busy_timeout %q: %w", c.BusyTimeout, err)
	}
	return d, nil
}

// InitLogging configures the global logger from the config.
func (c Config) InitLogging() error {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(c.LogFormat)
	if err != nil {
		return err
	}
	logging.InitLoggerTo(stderr, level, format)
	return nil
}

const configTemplate = `{
	// Log level: debug, info, warn or error.
	"log_level": %q,
	// Log format: text or json.
	"log_format": %q,
	// Reserve VACUUM rebuilds with; -1 keeps the current one.
	"reserve": %d,
	// Codec for new databases: none, checksum or cipher.
	"codec": %q,
	"snapshot_dir": %q,
	"busy_timeout": %q,
}
`

// Marshal renders the config in the format its file name asks for.
func (c Config) Marshal(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(c)
	}
	return []byte(fmt.Sprintf(configTemplate,
		c.LogLevel, c.LogFormat, c.Reserve, c.Codec, c.SnapshotDir, c.BusyTimeout)), nil
}

// WriteConfig atomically writes c to path.
func WriteConfig(path string, c Config) error {
	data, err := c.Marshal(path)
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}
