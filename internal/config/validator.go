package config

import (
	"fmt"
	"strings"

	codescanner "github.com/e7canasta/code-scanner"
	"github.com/e7canasta/code-scanner/internal/camera"
	"github.com/e7canasta/code-scanner/internal/payload"
)

// Validate checks cfg and fills defaults for zero values.
func Validate(cfg *Config) error {
	if _, err := camera.ParseFacing(cfg.Scanner.Facing); err != nil {
		return err
	}
	if _, err := codescanner.ParseBackendMode(cfg.Scanner.Backend); err != nil {
		return err
	}
	if cfg.Scanner.DebounceMS < 0 {
		return fmt.Errorf("scanner.debounce_ms must be >= 0")
	}
	if cfg.Scanner.DebounceMS == 0 {
		cfg.Scanner.DebounceMS = 1500
	}
	if cfg.Scanner.PollFPS < 0 {
		return fmt.Errorf("scanner.poll_fps must be >= 0")
	}
	if cfg.Scanner.PollFPS == 0 {
		cfg.Scanner.PollFPS = 10
	}
	if cfg.Scanner.BenignMissIntervalMS == 0 {
		cfg.Scanner.BenignMissIntervalMS = 2000
	}

	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 || cfg.Camera.FPS < 0 {
		return fmt.Errorf("camera width, height and fps must be >= 0")
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = 480
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 15
	}
	if cfg.Camera.OpenTimeoutMS == 0 {
		cfg.Camera.OpenTimeoutMS = 5000
	}
	if cfg.Camera.ReadyFrames == 0 {
		cfg.Camera.ReadyFrames = 3
	}
	if cfg.Camera.ReadyTimeoutMS == 0 {
		cfg.Camera.ReadyTimeoutMS = 5000
	}

	if cfg.Fallback.MissIntervalMS == 0 {
		cfg.Fallback.MissIntervalMS = 2000
	}

	for i, r := range cfg.Grammar.Prefixes {
		if strings.TrimSpace(r.Prefix) == "" {
			return fmt.Errorf("grammar.prefixes[%d].prefix is required", i)
		}
		kind, err := payload.ParseKind(r.Kind)
		if err != nil {
			return fmt.Errorf("grammar.prefixes[%d]: %w", i, err)
		}
		if kind == payload.KindUnrecognized {
			return fmt.Errorf("grammar.prefixes[%d]: kind %q cannot be routed to", i, r.Kind)
		}
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.Topic == "" {
			return fmt.Errorf("mqtt.topic is required when mqtt is enabled")
		}
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "code-scanner"
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	switch cfg.MQTT.Encoding {
	case "":
		cfg.MQTT.Encoding = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.encoding must be json or msgpack, got %q", cfg.MQTT.Encoding)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8088"
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	return nil
}
