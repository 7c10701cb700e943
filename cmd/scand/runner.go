package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/e7canasta/code-scanner/internal/config"
)

// runner holds what every command needs.
type runner struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

type action func(ctx context.Context, r *runner, cmd *cli.Command) error

// withRunner loads configuration and logging before running fn.
func withRunner(fn action) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		r, err := newRunner(cmd)
		if err != nil {
			return err
		}
		return fn(ctx, r, cmd)
	}
}

func newRunner(cmd *cli.Command) (*runner, error) {
	if err := config.LoadDotEnv(cmd.String("env-file")); err != nil {
		return nil, err
	}

	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if format := cmd.String("log-format"); format != "" {
		cfg.Log.Format = format
	}

	logger, err := newLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &runner{cfg: cfg, logger: logger, out: os.Stdout}, nil
}

// loadConfig reads path, or the embedded defaults plus SCANNER_* overrides
// when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return cfg, nil
}

func writeExample(path string) error {
	if err := config.WriteExample(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
