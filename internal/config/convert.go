package config

import (
	"log/slog"
	"time"

	codescanner "github.com/e7canasta/code-scanner"
	"github.com/e7canasta/code-scanner/internal/camera"
	"github.com/e7canasta/code-scanner/internal/detect"
	"github.com/e7canasta/code-scanner/internal/payload"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Rules returns the prefix table, or nil for the built-in one.
func (c *Config) Rules() ([]payload.Rule, error) {
	if len(c.Grammar.Prefixes) == 0 {
		return nil, nil
	}
	rules := make([]payload.Rule, 0, len(c.Grammar.Prefixes))
	for _, p := range c.Grammar.Prefixes {
		kind, err := payload.ParseKind(p.Kind)
		if err != nil {
			return nil, err
		}
		rules = append(rules, payload.Rule{Prefix: p.Prefix, Kind: kind})
	}
	return rules, nil
}

// CameraSettings returns the capture configuration.
func (c *Config) CameraSettings() camera.Config {
	return camera.Config{
		EnvironmentDevice: c.Camera.EnvironmentDevice,
		AnyDevice:         c.Camera.AnyDevice,
		Width:             c.Camera.Width,
		Height:            c.Camera.Height,
		FPS:               c.Camera.FPS,
		OpenTimeout:       ms(c.Camera.OpenTimeoutMS),
		Ready: camera.ReadyConfig{
			MinFrames: c.Camera.ReadyFrames,
			Timeout:   ms(c.Camera.ReadyTimeoutMS),
		},
	}
}

// NativeSettings returns the native detector configuration.
func (c *Config) NativeSettings() detect.NativeConfig {
	return detect.NativeConfig{
		TryHarder:  c.Native.TryHarder,
		SecondPass: c.Native.SecondPass,
	}
}

// EngineSettings returns the zbar engine configuration.
func (c *Config) EngineSettings() detect.EngineConfig {
	return detect.EngineConfig{
		Camera:       c.CameraSettings(),
		MissInterval: ms(c.Fallback.MissIntervalMS),
	}
}

// ControllerOptions maps the scanner section onto controller options.
func (c *Config) ControllerOptions(logger *slog.Logger) (codescanner.Options, error) {
	facing, err := camera.ParseFacing(c.Scanner.Facing)
	if err != nil {
		return codescanner.Options{}, err
	}
	mode, err := codescanner.ParseBackendMode(c.Scanner.Backend)
	if err != nil {
		return codescanner.Options{}, err
	}
	rules, err := c.Rules()
	if err != nil {
		return codescanner.Options{}, err
	}
	return codescanner.Options{
		Facing:                     facing,
		Backend:                    mode,
		DebounceWindow:             ms(c.Scanner.DebounceMS),
		PollRate:                   c.Scanner.PollFPS,
		BenignMissInterval:         ms(c.Scanner.BenignMissIntervalMS),
		MaxConsecutiveDetectErrors: c.Scanner.MaxDetectErrors,
		Rules:                      rules,
		Logger:                     logger,
	}, nil
}

// Dependencies builds the GStreamer camera, zxing detector and zbar engine.
// Native and fallback are always wired; the controller probes them.
func (c *Config) Dependencies(logger *slog.Logger) (codescanner.Dependencies, error) {
	cam, err := codescanner.NewGStreamerCamera(c.CameraSettings(), logger)
	if err != nil {
		return codescanner.Dependencies{}, err
	}
	return codescanner.Dependencies{
		Camera:   cam,
		Native:   codescanner.NewZXingDetector(c.NativeSettings(), logger),
		Fallback: codescanner.NewZBarEngine(c.EngineSettings(), logger),
	}, nil
}
