package main

import (
	"context"
	"fmt"
	"time"

	codescanner "github.com/e7canasta/code-scanner"
	"github.com/e7canasta/code-scanner/internal/camera"
	"github.com/e7canasta/code-scanner/internal/detect"
)

const probeTimeout = 10 * time.Second

// probe reports what this host can do without starting a session.
func (r *runner) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	fmt.Fprintf(r.out, "GStreamer:     %s\n", capabilityText(camera.CheckAvailable()))
	fmt.Fprintf(r.out, "zbar element:  %s\n", capabilityText(detect.CheckZBar()))

	deps, err := r.cfg.Dependencies(r.logger)
	if err != nil {
		fmt.Fprintf(r.out, "Camera:        %v\n", err)
		return err
	}
	caps := codescanner.ProbeBackends(deps)
	fmt.Fprintf(r.out, "Native:        %s\n", capabilityText(caps.Native))
	fmt.Fprintf(r.out, "Fallback:      %s\n", capabilityText(caps.Fallback))

	for _, facing := range []codescanner.Facing{codescanner.FacingEnvironment, codescanner.FacingAny} {
		fmt.Fprintf(r.out, "Camera %-11s %s\n", facing.String()+":", probeCamera(ctx, deps.Camera, facing))
	}

	if caps.Native != nil && caps.Fallback != nil {
		return fmt.Errorf("no usable detection backend")
	}
	return nil
}

// probeCamera opens and attaches the camera for facing, reads one frame
// and releases it.
func probeCamera(ctx context.Context, provider codescanner.CameraProvider, facing codescanner.Facing) string {
	started := time.Now()
	handle, err := provider.Open(ctx, facing)
	if err != nil {
		return fmt.Sprintf("unavailable (%s): %v", camera.ReasonOf(err), err)
	}
	defer handle.Close()

	if err := handle.Attach(ctx); err != nil {
		return fmt.Sprintf("opened but not streaming: %v", err)
	}
	frame, ok := handle.CurrentFrame()
	if !ok {
		return "streaming, no frame yet"
	}
	return fmt.Sprintf("ok %dx%d, first frame after %s", frame.Width, frame.Height, time.Since(started).Round(time.Millisecond))
}
