// Command scand runs the code scanner: a local websocket bridge with MQTT
// fan-out (serve), a one-shot terminal scan (scan) and a capability check
// (probe).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

const version = "v0.1.0"

func main() {
	app := &cli.Command{
		Name:    "scand",
		Usage:   "Camera QR scanning engine",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (.yaml or .toml); embedded defaults when empty",
				Sources: cli.EnvVars("SCANNER_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file loaded before the configuration",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override log.format: text, json",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			scanCommand(),
			probeCommand(),
			initCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "scand: %v\n", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the websocket bridge and health endpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Override server.addr",
			},
		},
		Action: withRunner(func(ctx context.Context, r *runner, cmd *cli.Command) error {
			return r.serve(ctx, cmd.String("addr"))
		}),
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Open one session and print its events",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long (0 waits forever)",
				Value: defaultScanTimeout,
			},
			&cli.StringFlag{
				Name:  "facing",
				Usage: "Override scanner.facing: environment, any",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Override scanner.backend: auto, native, fallback",
			},
			&cli.BoolFlag{
				Name:  "keep",
				Usage: "Keep scanning after the first recognized code",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print events as JSON lines",
			},
		},
		Action: withRunner(func(ctx context.Context, r *runner, cmd *cli.Command) error {
			return r.scan(ctx, scanOptions{
				timeout: cmd.Duration("timeout"),
				facing:  cmd.String("facing"),
				backend: cmd.String("backend"),
				keep:    cmd.Bool("keep"),
				json:    cmd.Bool("json"),
			})
		}),
	}
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "Report GStreamer, camera and backend availability",
		Action: withRunner(func(ctx context.Context, r *runner, _ *cli.Command) error {
			return r.probe(ctx)
		}),
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Write the example configuration",
		ArgsUsage: "[path]",
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				path = "scanner.yaml"
			}
			return writeExample(path)
		},
	}
}
