package detect

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/liyue201/goqr"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/e7canasta/code-scanner/internal/camera"
)

// ErrDetectorClosed is returned by DetectOnce after Close.
var ErrDetectorClosed = errors.New("detect: detector closed")

// NativeConfig tunes the in-process detector.
type NativeConfig struct {
	// TryHarder spends more time per frame looking for a code.
	TryHarder bool
	// SecondPass retries frames gozxing found nothing in with goqr.
	SecondPass bool
}

// NativeFactory probes for and builds in-process QR detectors.
type NativeFactory struct {
	cfg    NativeConfig
	logger *slog.Logger
}

// NewNativeFactory returns a factory for cfg.
func NewNativeFactory(cfg NativeConfig, logger *slog.Logger) *NativeFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &NativeFactory{cfg: cfg, logger: logger}
}

// Probe checks that the decoder runs on this platform by decoding a blank
// image. A clean "not found" is the expected outcome; a panic or any other
// error means the capability is missing.
func (f *NativeFactory) Probe() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detect: native decoder panicked during probe: %v", r)
		}
	}()

	blank := image.NewGray(image.Rect(0, 0, 32, 32))
	bmp, err := gozxing.NewBinaryBitmapFromImage(blank)
	if err != nil {
		return fmt.Errorf("detect: native probe: %w", err)
	}

	_, err = qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err == nil {
		return nil
	}
	var readerErr gozxing.ReaderException
	if errors.As(err, &readerErr) {
		return nil
	}
	return fmt.Errorf("detect: native probe: %w", err)
}

// New builds a detector.
func (f *NativeFactory) New() (*NativeDetector, error) {
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_POSSIBLE_FORMATS: []gozxing.BarcodeFormat{gozxing.BarcodeFormat_QR_CODE},
	}
	if f.cfg.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return &NativeDetector{
		reader: qrcode.NewQRCodeReader(),
		hints:  hints,
		cfg:    f.cfg,
		logger: f.logger,
	}, nil
}

// NativeDetector decodes one frame at a time. DetectOnce calls are
// serialized; the poll loop is its only caller in practice.
type NativeDetector struct {
	mu     sync.Mutex
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
	cfg    NativeConfig
	logger *slog.Logger
	closed bool

	attempts   atomic.Uint64
	hits       atomic.Uint64
	secondPass atomic.Uint64
}

// DetectOnce decodes frame. Nothing found is ("", false, nil); err is
// reserved for unusable frames or decoder faults.
func (d *NativeDetector) DetectOnce(frame *camera.Frame) (text string, found bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", false, ErrDetectorClosed
	}
	d.attempts.Add(1)

	defer func() {
		if r := recover(); r != nil {
			text, found, err = "", false, fmt.Errorf("detect: decoder panic on frame %d: %v", frame.Seq, r)
		}
	}()

	img, err := FrameToGray(frame)
	if err != nil {
		return "", false, err
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false, fmt.Errorf("detect: binarize frame %d: %w", frame.Seq, err)
	}

	result, err := d.reader.Decode(bmp, d.hints)
	d.reader.Reset()
	if err == nil {
		d.hits.Add(1)
		return result.GetText(), true, nil
	}

	var readerErr gozxing.ReaderException
	if !errors.As(err, &readerErr) {
		return "", false, fmt.Errorf("detect: decode frame %d: %w", frame.Seq, err)
	}

	if d.cfg.SecondPass {
		if codes, qrErr := goqr.Recognize(img); qrErr == nil && len(codes) > 0 {
			d.hits.Add(1)
			d.secondPass.Add(1)
			d.logger.Debug("detect: second pass decoded frame", "seq", frame.Seq, "trace_id", frame.TraceID)
			return string(codes[0].Payload), true, nil
		}
	}

	return "", false, nil
}

// NativeStats counts detection attempts.
type NativeStats struct {
	Attempts   uint64
	Hits       uint64
	SecondPass uint64
}

// Stats returns a snapshot of counters.
func (d *NativeDetector) Stats() NativeStats {
	return NativeStats{
		Attempts:   d.attempts.Load(),
		Hits:       d.hits.Load(),
		SecondPass: d.secondPass.Load(),
	}
}

// Close marks the detector unusable. Idempotent.
func (d *NativeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
