package codescanner

import "context"

// CameraProvider opens capture devices.
type CameraProvider interface {
	// Open acquires the device for facing. Failures should be
	// *AcquisitionError; a cancelled ctx returns ctx.Err().
	Open(ctx context.Context, facing Facing) (CameraHandle, error)
}

// CameraHandle is one opened device.
//
// Implementations must guarantee:
//   - Attach blocks until the sink is playable and honors ctx
//   - CurrentFrame never blocks and returns only the latest frame
//   - Close is idempotent and the device is released when it returns
type CameraHandle interface {
	Attach(ctx context.Context) error
	CurrentFrame() (*Frame, bool)
	Close() error
}

// NativeDetectorFactory is the pull-based backend.
type NativeDetectorFactory interface {
	// Probe reports whether the native capability exists. Called once per
	// session; an error is never fatal.
	Probe() error
	// New constructs a detector. An error degrades the session to the
	// fallback backend.
	New() (FrameDetector, error)
}

// FrameDetector decodes single frames.
type FrameDetector interface {
	// DetectOnce returns found=false with a nil error when the frame holds
	// no code.
	DetectOnce(frame *Frame) (text string, found bool, err error)
	Close() error
}

// FallbackEngineFactory is the push-based backend.
type FallbackEngineFactory interface {
	New() (FallbackEngine, error)
}

// FallbackEngine owns its own device and loop. Start returns once the
// engine is scanning; Stop releases the device and is idempotent.
type FallbackEngine interface {
	Start(ctx context.Context, facing Facing, cb EngineCallbacks) error
	Stop() error
}

// lossReporter is implemented by handles that can report device loss after
// open (the GStreamer handle does).
type lossReporter interface {
	Done() <-chan struct{}
	Err() error
}
