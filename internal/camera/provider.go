package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Config describes the devices and capture format.
type Config struct {
	// EnvironmentDevice is the device path of the rear camera. Empty means
	// no environment-facing camera is known and such requests fail with
	// ReasonNoDevice.
	EnvironmentDevice string
	// AnyDevice is used for FacingAny. Empty selects autovideosrc.
	AnyDevice string

	Width  int
	Height int
	FPS    int

	// OpenTimeout bounds the wait for the pipeline to reach PLAYING.
	OpenTimeout time.Duration
	Ready       ReadyConfig
}

// DefaultConfig returns a 640x480 @ 15 fps capture on /dev/video0.
func DefaultConfig() Config {
	return Config{
		EnvironmentDevice: "/dev/video0",
		Width:             640,
		Height:            480,
		FPS:               15,
		OpenTimeout:       5 * time.Second,
		Ready:             ReadyConfig{MinFrames: 3},
	}
}

// DeviceFor maps facing to a device path. An empty path with a nil error
// means "let GStreamer pick" (autovideosrc).
func (c Config) DeviceFor(facing Facing) (string, error) {
	if facing == FacingEnvironment {
		if c.EnvironmentDevice == "" {
			return "", &AcquisitionError{
				Reason: ReasonNoDevice,
				Facing: facing,
				Err:    errors.New("no environment-facing device configured"),
			}
		}
		return c.EnvironmentDevice, nil
	}
	return c.AnyDevice, nil
}

// Provider opens capture devices.
type Provider struct {
	cfg    Config
	logger *slog.Logger
}

// NewProvider validates cfg and checks GStreamer availability.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("camera: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS < 0 {
		return nil, fmt.Errorf("camera: fps must be >= 0, got %d", cfg.FPS)
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := CheckAvailable(); err != nil {
		return nil, err
	}
	return &Provider{cfg: cfg, logger: logger}, nil
}

// DeviceFor returns the device path configured for facing.
func (p *Provider) DeviceFor(facing Facing) (string, error) {
	return p.cfg.DeviceFor(facing)
}

// Open starts a capture pipeline for facing and waits until it plays.
//
// Failures are *AcquisitionError. If ctx is cancelled first, the partially
// opened pipeline is torn down and ctx.Err() is returned.
func (p *Provider) Open(ctx context.Context, facing Facing) (*Handle, error) {
	device, err := p.DeviceFor(facing)
	if err != nil {
		return nil, err
	}

	elems, err := createPipeline(pipelineConfig{
		Device: device,
		Width:  p.cfg.Width,
		Height: p.cfg.Height,
		FPS:    p.cfg.FPS,
	})
	if err != nil {
		return nil, &AcquisitionError{Reason: ReasonUnknown, Facing: facing, Err: err}
	}

	if err := elems.Pipeline.SetState(gst.StatePlaying); err != nil {
		reason, detail := DrainError(elems.Pipeline)
		destroyPipeline(elems)
		if detail != nil {
			err = fmt.Errorf("%w: %v", err, detail)
		}
		return nil, &AcquisitionError{Reason: reason, Facing: facing, Err: err}
	}

	if err := WaitPlaying(ctx, elems.Pipeline, p.cfg.OpenTimeout); err != nil {
		destroyPipeline(elems)
		var acqErr *AcquisitionError
		if errors.As(err, &acqErr) {
			acqErr.Facing = facing
		}
		return nil, err
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		facing:   facing,
		device:   deviceLabel(device),
		cfg:      p.cfg,
		elems:    elems,
		slot:     NewSlot(),
		logger:   p.logger,
		cancel:   cancel,
		done:     make(chan struct{}),
		openedAt: time.Now(),
	}
	h.active.Store(true)

	h.wg.Add(1)
	go h.monitor(monitorCtx)

	p.logger.Info("camera: device opened",
		"facing", facing.String(),
		"device", h.device,
		"resolution", fmt.Sprintf("%dx%d", p.cfg.Width, p.cfg.Height),
	)
	return h, nil
}

func deviceLabel(device string) string {
	if device == "" {
		return "auto"
	}
	return device
}

// WaitPlaying polls the bus until the pipeline reports PLAYING. Bus errors
// come back as *AcquisitionError without a facing.
func WaitPlaying(ctx context.Context, pipeline *gst.Pipeline, timeout time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return &AcquisitionError{
				Reason: ReasonUnknown,
				Err:    fmt.Errorf("pipeline did not reach PLAYING within %s", timeout),
			}
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return &AcquisitionError{
				Reason: ClassifyGStreamerError(gerr),
				Err:    fmt.Errorf("%s (%s)", gerr.Error(), gerr.DebugString()),
			}
		case gst.MessageEOS:
			return &AcquisitionError{Reason: ReasonUnknown, Err: errors.New("end of stream during open")}
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
					return nil
				}
			}
		}
	}
}

// DrainError looks briefly for the bus error explaining a failed state
// change.
func DrainError(pipeline *gst.Pipeline) (Reason, error) {
	bus := pipeline.GetPipelineBus()
	for i := 0; i < 5; i++ {
		msg := bus.TimedPop(20 * time.Millisecond)
		if msg == nil {
			continue
		}
		if msg.Type() == gst.MessageError {
			gerr := msg.ParseError()
			return ClassifyGStreamerError(gerr), fmt.Errorf("%s (%s)", gerr.Error(), gerr.DebugString())
		}
	}
	return ReasonUnknown, nil
}

// HandleStats is a snapshot of capture counters.
type HandleStats struct {
	Frames  uint64
	Dropped uint64
	Bytes   uint64
	Uptime  time.Duration
}

// Handle is one opened capture device.
//
// Thread-safety: all methods are safe for concurrent use. Close is
// idempotent and leaves the device released when it returns.
type Handle struct {
	facing   Facing
	device   string
	cfg      Config
	elems    *pipelineElements
	slot     *Slot
	logger   *slog.Logger
	openedAt time.Time

	seq      uint64
	bytes    uint64
	attached atomic.Bool
	active   atomic.Bool

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	done    chan struct{}
	failMu  sync.Mutex
	failErr error
}

// Facing returns the facing this handle was opened for.
func (h *Handle) Facing() Facing { return h.facing }

// Device returns the device path, or "auto".
func (h *Handle) Device() string { return h.device }

// Attach connects the pipeline output to the latest-frame slot and blocks
// until the sink has produced enough frames to be considered playing.
func (h *Handle) Attach(ctx context.Context) error {
	if !h.active.Load() {
		return &AcquisitionError{Reason: ReasonUnknown, Facing: h.facing, Err: errors.New("handle closed")}
	}

	if h.attached.CompareAndSwap(false, true) {
		h.elems.AppSink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: h.onNewSample,
		})
	}

	if _, err := WaitReady(ctx, h.slot, h.cfg.Ready, h.logger); err != nil {
		if devErr := h.Err(); devErr != nil && errors.Is(err, ErrSlotClosed) {
			err = devErr
			if !errors.As(err, new(*AcquisitionError)) {
				err = &AcquisitionError{Reason: ReasonUnknown, Facing: h.facing, Err: devErr}
			}
		}
		var acqErr *AcquisitionError
		if errors.As(err, &acqErr) {
			acqErr.Facing = h.facing
		}
		return err
	}
	return nil
}

// onNewSample copies the mapped buffer into a Frame and publishes it.
// GStreamer reuses the buffer, so the copy is required.
func (h *Handle) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	frame := &Frame{
		Seq:       atomic.AddUint64(&h.seq, 1),
		Timestamp: time.Now(),
		Width:     h.cfg.Width,
		Height:    h.cfg.Height,
		Stride:    RGBStride(h.cfg.Width),
		Data:      frameData,
		Device:    h.device,
		TraceID:   uuid.New().String(),
	}
	atomic.AddUint64(&h.bytes, uint64(len(frameData)))

	if !h.slot.Publish(frame) {
		return gst.FlowEOS
	}
	return gst.FlowOK
}

// CurrentFrame returns the latest captured frame, if any.
func (h *Handle) CurrentFrame() (*Frame, bool) {
	return h.slot.Current()
}

// Active reports whether the device is still held.
func (h *Handle) Active() bool { return h.active.Load() }

// Done is closed when the pipeline fails or ends on its own.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the failure that closed Done, if any.
func (h *Handle) Err() error {
	h.failMu.Lock()
	defer h.failMu.Unlock()
	return h.failErr
}

// Stats returns a snapshot of capture counters.
func (h *Handle) Stats() HandleStats {
	received, dropped := h.slot.Stats()
	return HandleStats{
		Frames:  received,
		Dropped: dropped,
		Bytes:   atomic.LoadUint64(&h.bytes),
		Uptime:  time.Since(h.openedAt),
	}
}

// Close releases the device. Idempotent.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			h.logger.Warn("camera: timeout waiting for bus monitor to stop", "device", h.device)
		}

		h.closeErr = destroyPipeline(h.elems)
		h.slot.Close()
		h.active.Store(false)

		received, dropped := h.slot.Stats()
		h.logger.Info("camera: device released",
			"device", h.device,
			"frames", received,
			"dropped", dropped,
			"uptime", time.Since(h.openedAt),
		)
	})
	return h.closeErr
}

// monitor watches the bus for errors and end-of-stream after open.
func (h *Handle) monitor(ctx context.Context) {
	defer h.wg.Done()

	bus := h.elems.Pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			h.fail(errors.New("camera: end of stream"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			reason := ClassifyGStreamerError(gerr)
			h.logger.Error("camera: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"reason", string(reason),
				"device", h.device,
			)
			h.fail(&AcquisitionError{Reason: reason, Facing: h.facing, Err: errors.New(gerr.Error())})
			return
		case gst.MessageStateChanged:
			if msg.Source() == h.elems.Pipeline.GetName() {
				old, newState := msg.ParseStateChanged()
				h.logger.Debug("camera: pipeline state changed", "from", old, "to", newState)
			}
		}
	}
}

func (h *Handle) fail(err error) {
	h.failMu.Lock()
	if h.failErr == nil {
		h.failErr = err
		close(h.done)
	}
	h.failMu.Unlock()
	h.slot.Close()
}
