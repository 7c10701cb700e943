package codescanner

import (
	"context"
	"errors"
	"testing"
	"time"
)

// lossyHandle is a fakeHandle that can report device loss.
type lossyHandle struct {
	fakeHandle
	lost chan struct{}
}

func (h *lossyHandle) Done() <-chan struct{} { return h.lost }
func (h *lossyHandle) Err() error            { return errBoom }

func TestNativeBackend_CameraLoss(t *testing.T) {
	h := &lossyHandle{fakeHandle: fakeHandle{cam: &fakeCamera{}}, lost: make(chan struct{})}
	native := &fakeNative{}
	det, _ := native.New()

	b := &nativeBackend{detector: det, handle: h, pollRate: 500, logger: quietLogger()}

	failed := make(chan error, 1)
	err := b.start(context.Background(), backendSink{
		decoded: func(string, time.Time, string) {},
		miss:    func() {},
		failure: func(err error) { failed <- err },
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	close(h.lost)
	select {
	case err := <-failed:
		if !errors.Is(err, errBoom) {
			t.Errorf("failure = %v, want wrapped device error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("camera loss not reported")
	}

	if err := b.stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestNativeBackend_SkipsRepeatedFrames(t *testing.T) {
	h := &staticHandle{frame: &Frame{Seq: 7}}
	calls := 0
	native := &fakeNative{detect: func(*Frame) (string, bool, error) {
		calls++
		return "", false, nil
	}}
	det, _ := native.New()
	b := &nativeBackend{detector: det, handle: h, pollRate: 1000, logger: quietLogger()}

	b.start(context.Background(), backendSink{
		decoded: func(string, time.Time, string) {},
		miss:    func() {},
		failure: func(error) {},
	})
	time.Sleep(50 * time.Millisecond)
	b.stop()

	if calls != 1 {
		t.Errorf("detector ran %d times on the same frame, want 1", calls)
	}
}

func TestNativeBackend_StopIsIdempotentAndFinal(t *testing.T) {
	native := &fakeNative{}
	det, _ := native.New()
	b := &nativeBackend{detector: det, handle: &staticHandle{}, pollRate: 10, logger: quietLogger()}

	if err := b.stop(); err != nil {
		t.Fatal(err)
	}
	if err := b.stop(); err != nil {
		t.Fatal(err)
	}
	if native.closed.Load() != 1 {
		t.Errorf("detector closed %d times, want 1", native.closed.Load())
	}
	if err := b.start(context.Background(), backendSink{}); !errors.Is(err, errBackendStopped) {
		t.Errorf("start after stop err = %v", err)
	}
}

type staticHandle struct {
	frame *Frame
}

func (h *staticHandle) Attach(context.Context) error { return nil }
func (h *staticHandle) CurrentFrame() (*Frame, bool) { return h.frame, h.frame != nil }
func (h *staticHandle) Close() error                 { return nil }
