package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	codescanner "github.com/e7canasta/code-scanner"
	"github.com/e7canasta/code-scanner/internal/config"
	"github.com/e7canasta/code-scanner/internal/emitter"
	"github.com/e7canasta/code-scanner/internal/server"
)

const closeTimeout = 5 * time.Second

// controller wires the GStreamer-backed dependencies and probes them once
// so the caller can report what this host supports.
func (r *runner) controller(cfg *config.Config) (*codescanner.Controller, codescanner.Capabilities, error) {
	deps, err := cfg.Dependencies(r.logger)
	if err != nil {
		return nil, codescanner.Capabilities{}, err
	}
	opts, err := cfg.ControllerOptions(r.logger)
	if err != nil {
		return nil, codescanner.Capabilities{}, err
	}

	caps := codescanner.ProbeBackends(deps)
	r.logger.Info("backends probed",
		"native", capabilityText(caps.Native),
		"fallback", capabilityText(caps.Fallback),
		"mode", opts.Backend,
	)

	ctrl, err := codescanner.NewController(deps, opts)
	if err != nil {
		return nil, codescanner.Capabilities{}, err
	}
	return ctrl, caps, nil
}

func capabilityText(err error) string {
	if err == nil {
		return "available"
	}
	return err.Error()
}

func (r *runner) serve(ctx context.Context, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr != "" {
		r.cfg.Server.Addr = addr
	}

	ctrl, caps, err := r.controller(r.cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := ctrl.Close(closeCtx); err != nil {
			r.logger.Warn("controller close", "error", err)
		}
	}()

	var pub server.Publisher
	if r.cfg.MQTT.Enabled {
		em, err := emitter.New(emitter.Config{
			Broker:   r.cfg.MQTT.Broker,
			ClientID: r.cfg.MQTT.ClientID,
			Topic:    r.cfg.MQTT.Topic,
			QoS:      r.cfg.MQTT.QoS,
			Encoding: r.cfg.MQTT.Encoding,
		}, r.logger)
		if err != nil {
			return err
		}
		if err := em.Connect(ctx); err != nil {
			return err
		}
		defer em.Disconnect()
		pub = em
	}

	srv, err := server.New(ctrl, server.Options{
		Addr:         r.cfg.Server.Addr,
		Capabilities: caps,
		Publisher:    pub,
		Logger:       r.logger,
		CloseTimeout: closeTimeout,
	})
	if err != nil {
		return err
	}

	r.logger.Info("starting code scanner", "version", version, "addr", r.cfg.Server.Addr, "mqtt", r.cfg.MQTT.Enabled)
	return srv.Run(ctx)
}
