package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/code-scanner/internal/camera"
)

// ErrEngineStopped is returned by Start after Stop.
var ErrEngineStopped = errors.New("detect: engine stopped")

// Callbacks receive engine output. They are invoked from the engine's bus
// goroutine and must not block for long.
type Callbacks struct {
	OnDecoded    func(text string, at time.Time)
	OnBenignMiss func()
	OnFailure    func(err error)
}

// EngineConfig configures the zbar engine.
type EngineConfig struct {
	Camera camera.Config
	// MissInterval is how long the engine must see nothing before it
	// reports a benign miss.
	MissInterval time.Duration
}

// CheckZBar reports whether the zbar GStreamer element is installed.
func CheckZBar() error {
	camera.Init()
	elem, err := gst.NewElement("zbar")
	if err != nil {
		return fmt.Errorf("detect: zbar element unavailable (install gst-plugins-bad): %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}

// ZBarEngine is the push-based backend. It opens the device itself, so the
// caller must release any handle on the same device before Start.
//
//	source → videoconvert → videoscale → capsfilter → zbar → fakesink
//
// zbar posts an element message named "barcode" per symbol; only QR-Code
// symbols are forwarded.
type ZBarEngine struct {
	cfg    EngineConfig
	logger *slog.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopped  bool
}

// NewZBarEngine checks that zbar is available and returns an idle engine.
func NewZBarEngine(cfg EngineConfig, logger *slog.Logger) (*ZBarEngine, error) {
	if err := CheckZBar(); err != nil {
		return nil, err
	}
	if cfg.MissInterval <= 0 {
		cfg.MissInterval = 2 * time.Second
	}
	if cfg.Camera.OpenTimeout <= 0 {
		cfg.Camera.OpenTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ZBarEngine{cfg: cfg, logger: logger}, nil
}

// Start opens the device for facing and begins scanning. It returns once the
// pipeline is playing. Acquisition problems come back as
// *camera.AcquisitionError.
func (e *ZBarEngine) Start(ctx context.Context, facing camera.Facing, cb Callbacks) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrEngineStopped
	}
	if e.started {
		return errors.New("detect: engine already started")
	}

	device, err := e.cfg.Camera.DeviceFor(facing)
	if err != nil {
		return err
	}

	pipeline, err := e.buildPipeline(device)
	if err != nil {
		return &camera.AcquisitionError{Reason: camera.ReasonUnknown, Facing: facing, Err: err}
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		reason, detail := camera.DrainError(pipeline)
		pipeline.SetState(gst.StateNull)
		if detail != nil {
			err = fmt.Errorf("%w: %v", err, detail)
		}
		return &camera.AcquisitionError{Reason: reason, Facing: facing, Err: err}
	}

	if err := camera.WaitPlaying(ctx, pipeline, e.cfg.Camera.OpenTimeout); err != nil {
		pipeline.SetState(gst.StateNull)
		var acqErr *camera.AcquisitionError
		if errors.As(err, &acqErr) {
			acqErr.Facing = facing
		}
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.pipeline = pipeline
	e.cancel = cancel
	e.started = true

	e.wg.Add(1)
	go e.busLoop(loopCtx, pipeline, cb)

	e.logger.Info("detect: zbar engine started", "facing", facing.String(), "device", device)
	return nil
}

func (e *ZBarEngine) buildPipeline(device string) (*gst.Pipeline, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := camera.SourceElement(device)
	if err != nil {
		return nil, err
	}

	elems := []*gst.Element{src}
	for _, name := range []string{"videoconvert", "videoscale", "capsfilter", "zbar", "fakesink"} {
		elem, err := gst.NewElement(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", name, err)
		}
		switch name {
		case "capsfilter":
			caps := fmt.Sprintf("video/x-raw,width=%d,height=%d", e.cfg.Camera.Width, e.cfg.Camera.Height)
			elem.SetProperty("caps", gst.NewCapsFromString(caps))
		case "zbar":
			elem.SetProperty("message", true)
			elem.SetProperty("cache", false)
		case "fakesink":
			elem.SetProperty("sync", false)
		}
		elems = append(elems, elem)
	}

	if err := pipeline.AddMany(elems...); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(elems...); err != nil {
		return nil, fmt.Errorf("failed to link zbar pipeline: %w", err)
	}
	return pipeline, nil
}

func (e *ZBarEngine) busLoop(ctx context.Context, pipeline *gst.Pipeline, cb Callbacks) {
	defer e.wg.Done()

	bus := pipeline.GetPipelineBus()
	lastActivity := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			if time.Since(lastActivity) >= e.cfg.MissInterval {
				lastActivity = time.Now()
				if cb.OnBenignMiss != nil {
					cb.OnBenignMiss()
				}
			}
			continue
		}

		switch msg.Type() {
		case gst.MessageElement:
			text, ok := parseBarcode(msg)
			if !ok {
				continue
			}
			lastActivity = time.Now()
			if cb.OnDecoded != nil {
				cb.OnDecoded(text, lastActivity)
			}

		case gst.MessageError:
			if ctx.Err() != nil {
				return
			}
			gerr := msg.ParseError()
			e.logger.Error("detect: zbar pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			if cb.OnFailure != nil {
				cb.OnFailure(fmt.Errorf("detect: zbar pipeline error: %s", gerr.Error()))
			}
			return

		case gst.MessageEOS:
			if ctx.Err() != nil {
				return
			}
			if cb.OnFailure != nil {
				cb.OnFailure(errors.New("detect: zbar pipeline reached end of stream"))
			}
			return
		}
	}
}

// parseBarcode extracts a QR payload from a zbar element message.
func parseBarcode(msg *gst.Message) (string, bool) {
	st := msg.GetStructure()
	if st == nil || st.Name() != "barcode" {
		return "", false
	}

	symbolType, err := st.GetValue("type")
	if err != nil {
		return "", false
	}
	symbol, err := st.GetValue("symbol")
	if err != nil {
		return "", false
	}
	return qrSymbol(symbolType, symbol)
}

func qrSymbol(symbolType, symbol interface{}) (string, bool) {
	typ, ok := symbolType.(string)
	if !ok || typ != "QR-Code" {
		return "", false
	}
	text, ok := symbol.(string)
	return text, ok
}

// Stop tears the pipeline down and releases the device. Idempotent; Start
// is refused afterwards.
func (e *ZBarEngine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	pipeline, cancel := e.pipeline, e.cancel
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	e.wg.Wait()

	if err := pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("detect: stop zbar pipeline: %w", err)
	}
	e.logger.Info("detect: zbar engine stopped")
	return nil
}
