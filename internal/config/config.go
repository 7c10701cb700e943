// Package config loads scand configuration from YAML or TOML files with
// .env and SCANNER_* environment overrides.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed scanner.example.yaml
var exampleConf []byte

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Scanner  ScannerConfig  `yaml:"scanner" toml:"scanner"`
	Camera   CameraConfig   `yaml:"camera" toml:"camera"`
	Native   NativeConfig   `yaml:"native" toml:"native"`
	Fallback FallbackConfig `yaml:"fallback" toml:"fallback"`
	Grammar  GrammarConfig  `yaml:"grammar" toml:"grammar"`
	MQTT     MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

// ScannerConfig holds session controller settings.
type ScannerConfig struct {
	Facing               string  `yaml:"facing" toml:"facing"`
	Backend              string  `yaml:"backend" toml:"backend"`
	DebounceMS           int     `yaml:"debounce_ms" toml:"debounce_ms"`
	PollFPS              float64 `yaml:"poll_fps" toml:"poll_fps"`
	BenignMissIntervalMS int     `yaml:"benign_miss_interval_ms" toml:"benign_miss_interval_ms"`
	MaxDetectErrors      int     `yaml:"max_detect_errors" toml:"max_detect_errors"`
}

// CameraConfig holds capture settings.
type CameraConfig struct {
	EnvironmentDevice string `yaml:"environment_device" toml:"environment_device"`
	AnyDevice         string `yaml:"any_device" toml:"any_device"`
	Width             int    `yaml:"width" toml:"width"`
	Height            int    `yaml:"height" toml:"height"`
	FPS               int    `yaml:"fps" toml:"fps"`
	OpenTimeoutMS     int    `yaml:"open_timeout_ms" toml:"open_timeout_ms"`
	ReadyFrames       int    `yaml:"ready_frames" toml:"ready_frames"`
	ReadyTimeoutMS    int    `yaml:"ready_timeout_ms" toml:"ready_timeout_ms"`
}

// NativeConfig tunes the in-process detector.
type NativeConfig struct {
	TryHarder  bool `yaml:"try_harder" toml:"try_harder"`
	SecondPass bool `yaml:"second_pass" toml:"second_pass"`
}

// FallbackConfig tunes the zbar engine.
type FallbackConfig struct {
	MissIntervalMS int `yaml:"miss_interval_ms" toml:"miss_interval_ms"`
}

// GrammarConfig is the payload prefix table. Empty means the built-in one.
type GrammarConfig struct {
	Prefixes []PrefixRule `yaml:"prefixes" toml:"prefixes"`
}

// PrefixRule maps a prefix to a code kind name.
type PrefixRule struct {
	Prefix string `yaml:"prefix" toml:"prefix"`
	Kind   string `yaml:"kind" toml:"kind"`
}

// MQTTConfig configures the event emitter.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Broker   string `yaml:"broker" toml:"broker"`
	ClientID string `yaml:"client_id" toml:"client_id"`
	Topic    string `yaml:"topic" toml:"topic"`
	QoS      byte   `yaml:"qos" toml:"qos"`
	Encoding string `yaml:"encoding" toml:"encoding"`
}

// ServerConfig configures the local HTTP bridge.
type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads path, applies environment overrides and validates the result.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Parse decodes data as "yaml" or "toml" without validating it.
func Parse(data []byte, format string) (*Config, error) {
	var cfg Config
	switch format {
	case "toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case "yaml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	return &cfg, nil
}

// Default returns the embedded example configuration, validated.
func Default() *Config {
	cfg, err := Parse(exampleConf, "yaml")
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// WriteExample writes the embedded example config to path. It refuses to
// overwrite an existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, exampleConf, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}
