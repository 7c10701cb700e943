package codescanner

import (
	"context"
	"log/slog"

	"github.com/e7canasta/code-scanner/internal/camera"
	"github.com/e7canasta/code-scanner/internal/detect"
)

// CameraConfig describes capture devices and format.
type CameraConfig = camera.Config

// ReadyConfig controls the camera readiness gate.
type ReadyConfig = camera.ReadyConfig

// NativeConfig tunes the in-process detector.
type NativeConfig = detect.NativeConfig

// EngineConfig configures the zbar engine.
type EngineConfig = detect.EngineConfig

// DefaultCameraConfig returns 640x480 @ 15 fps on /dev/video0.
func DefaultCameraConfig() CameraConfig { return camera.DefaultConfig() }

type gstCamera struct {
	provider *camera.Provider
}

// NewGStreamerCamera returns a CameraProvider backed by v4l2src or
// autovideosrc pipelines.
func NewGStreamerCamera(cfg CameraConfig, logger *slog.Logger) (CameraProvider, error) {
	p, err := camera.NewProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	return gstCamera{provider: p}, nil
}

func (g gstCamera) Open(ctx context.Context, facing Facing) (CameraHandle, error) {
	h, err := g.provider.Open(ctx, facing)
	if err != nil {
		return nil, err
	}
	return h, nil
}

type zxingFactory struct {
	factory *detect.NativeFactory
}

// NewZXingDetector returns the native backend: gozxing decoding with an
// optional goqr second pass.
func NewZXingDetector(cfg NativeConfig, logger *slog.Logger) NativeDetectorFactory {
	return zxingFactory{factory: detect.NewNativeFactory(cfg, logger)}
}

func (z zxingFactory) Probe() error { return z.factory.Probe() }

func (z zxingFactory) New() (FrameDetector, error) {
	d, err := z.factory.New()
	if err != nil {
		return nil, err
	}
	return d, nil
}

type zbarFactory struct {
	cfg    EngineConfig
	logger *slog.Logger
}

// NewZBarEngine returns the fallback backend. Each session gets a fresh
// engine; construction fails when the zbar element is not installed.
func NewZBarEngine(cfg EngineConfig, logger *slog.Logger) FallbackEngineFactory {
	return zbarFactory{cfg: cfg, logger: logger}
}

func (z zbarFactory) New() (FallbackEngine, error) {
	e, err := detect.NewZBarEngine(z.cfg, z.logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Capabilities reports which backends can run here.
type Capabilities struct {
	Native   error
	Fallback error
}

// ProbeBackends checks each configured backend without touching a camera.
func ProbeBackends(deps Dependencies) Capabilities {
	var caps Capabilities
	if deps.Native == nil {
		caps.Native = ErrBackendUnavailable
	} else {
		caps.Native = deps.Native.Probe()
	}
	if deps.Fallback == nil {
		caps.Fallback = ErrBackendUnavailable
	} else if engine, err := deps.Fallback.New(); err != nil {
		caps.Fallback = err
	} else {
		engine.Stop()
	}
	return caps
}
