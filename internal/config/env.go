package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCANNER_"

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Missing files are ignored; variables that
// are already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

type envBinding struct {
	key string
	set func(*Config, string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

var envBindings = []envBinding{
	{"FACING", str(func(c *Config) *string { return &c.Scanner.Facing })},
	{"BACKEND", str(func(c *Config) *string { return &c.Scanner.Backend })},
	{"DEBOUNCE_MS", integer(func(c *Config) *int { return &c.Scanner.DebounceMS })},
	{"POLL_FPS", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Scanner.PollFPS = f
		return nil
	}},
	{"CAMERA_DEVICE", str(func(c *Config) *string { return &c.Camera.EnvironmentDevice })},
	{"CAMERA_ANY_DEVICE", str(func(c *Config) *string { return &c.Camera.AnyDevice })},
	{"CAMERA_WIDTH", integer(func(c *Config) *int { return &c.Camera.Width })},
	{"CAMERA_HEIGHT", integer(func(c *Config) *int { return &c.Camera.Height })},
	{"CAMERA_FPS", integer(func(c *Config) *int { return &c.Camera.FPS })},
	{"NATIVE_SECOND_PASS", boolean(func(c *Config) *bool { return &c.Native.SecondPass })},
	{"MQTT_ENABLED", boolean(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"MQTT_BROKER", str(func(c *Config) *string { return &c.MQTT.Broker })},
	{"MQTT_CLIENT_ID", str(func(c *Config) *string { return &c.MQTT.ClientID })},
	{"MQTT_TOPIC", str(func(c *Config) *string { return &c.MQTT.Topic })},
	{"MQTT_ENCODING", str(func(c *Config) *string { return &c.MQTT.Encoding })},
	{"SERVER_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
}

// ApplyEnv overrides cfg with SCANNER_* variables found through lookup
// (normally os.LookupEnv).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
		}
	}
	return nil
}
