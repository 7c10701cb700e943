package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	codescanner "github.com/e7canasta/code-scanner"
	"github.com/e7canasta/code-scanner/internal/emitter"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubCamera struct {
	opened atomic.Int32
	closed atomic.Int32
}

func (c *stubCamera) Open(context.Context, codescanner.Facing) (codescanner.CameraHandle, error) {
	c.opened.Add(1)
	return &stubHandle{cam: c}, nil
}

func (c *stubCamera) held() int32 { return c.opened.Load() - c.closed.Load() }

type stubHandle struct {
	cam  *stubCamera
	seq  atomic.Uint64
	once sync.Once
}

func (h *stubHandle) Attach(context.Context) error { return nil }

func (h *stubHandle) CurrentFrame() (*codescanner.Frame, bool) {
	return &codescanner.Frame{Seq: h.seq.Add(1), Width: 1, Height: 1, Data: []byte{0, 0, 0}}, true
}

func (h *stubHandle) Close() error {
	h.once.Do(func() { h.cam.closed.Add(1) })
	return nil
}

// stubNative decodes text from every frame.
type stubNative struct{ text string }

func (n stubNative) Probe() error                                        { return nil }
func (n stubNative) New() (codescanner.FrameDetector, error)             { return n, nil }
func (n stubNative) DetectOnce(*codescanner.Frame) (string, bool, error) { return n.text, true, nil }
func (n stubNative) Close() error                                        { return nil }

type stubPublisher struct {
	// hold, when set, blocks every Publish until closed, like a broker
	// that stopped acknowledging.
	hold chan struct{}

	mu    sync.Mutex
	kinds []codescanner.EventKind
}

func (p *stubPublisher) Publish(ev codescanner.Event) error {
	if p.hold != nil {
		<-p.hold
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, ev.Kind)
	return nil
}

func (p *stubPublisher) Stats() emitter.Stats { return emitter.Stats{Connected: true} }

func (p *stubPublisher) published() []codescanner.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]codescanner.EventKind(nil), p.kinds...)
}

type fixture struct {
	cam  *stubCamera
	ctrl *codescanner.Controller
	pub  *stubPublisher
	http *httptest.Server
}

func newFixture(t *testing.T, caps codescanner.Capabilities) *fixture {
	t.Helper()
	return newFixtureWith(t, caps, &stubPublisher{})
}

func newFixtureWith(t *testing.T, caps codescanner.Capabilities, pub *stubPublisher) *fixture {
	t.Helper()
	cam := &stubCamera{}
	ctrl, err := codescanner.NewController(codescanner.Dependencies{
		Camera: cam,
		Native: stubNative{text: "PAT:PAT-7|BED:3"},
	}, codescanner.Options{
		Backend:  codescanner.BackendNativeOnly,
		PollRate: 200,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(ctrl, Options{Capabilities: caps, Publisher: pub, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ctrl.Close(ctx)
	})
	return &fixture{cam: cam, ctrl: ctrl, pub: pub, http: ts}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/scan"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEvent struct {
	Kind string `json:"kind"`
	Code *struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	} `json:"code"`
	Error string `json:"error"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Kind != "benignMiss" {
			return ev
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestScan_SlowPublisherDoesNotDelayClient(t *testing.T) {
	pub := &stubPublisher{hold: make(chan struct{})}
	f := newFixtureWith(t, codescanner.Capabilities{}, pub)
	conn := f.dial(t)

	// readEvent fails after 2s; a blocked broker must not hold events back.
	if ev := readEvent(t, conn); ev.Kind != "ready" {
		t.Fatalf("first event = %q, want ready", ev.Kind)
	}
	if ev := readEvent(t, conn); ev.Kind != "scanResult" {
		t.Fatalf("second event = %q, want scanResult", ev.Kind)
	}
	if n := len(pub.published()); n != 0 {
		t.Fatalf("published %d events while the broker was blocked", n)
	}

	close(pub.hold)
	waitFor(t, "queued events published", func() bool { return len(pub.published()) >= 2 })
	if kinds := pub.published(); kinds[0] != codescanner.EventReady {
		t.Errorf("published = %v, want ready first", kinds)
	}
}

func TestScan_StreamsAndClosesOnCommand(t *testing.T) {
	f := newFixture(t, codescanner.Capabilities{})
	conn := f.dial(t)

	if ev := readEvent(t, conn); ev.Kind != "ready" {
		t.Fatalf("first event = %q, want ready", ev.Kind)
	}
	ev := readEvent(t, conn)
	if ev.Kind != "scanResult" || ev.Code == nil {
		t.Fatalf("second event = %+v, want scanResult", ev)
	}
	if ev.Code.Kind != "patient" || ev.Code.Value != "PAT-7" {
		t.Errorf("code = %+v", *ev.Code)
	}

	if err := conn.WriteJSON(clientCommand{Command: "close"}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("close error = %v, want normal closure", err)
			}
			break
		}
	}

	waitFor(t, "camera release", func() bool { return f.cam.held() == 0 })
	waitFor(t, "idle", func() bool { return f.ctrl.State() == codescanner.StateIdle })

	waitFor(t, "publish", func() bool { return len(f.pub.published()) >= 2 })
	kinds := f.pub.published()
	if kinds[0] != codescanner.EventReady || kinds[1] != codescanner.EventScanResult {
		t.Errorf("published = %v", kinds)
	}
}

func TestScan_DisconnectClosesSession(t *testing.T) {
	f := newFixture(t, codescanner.Capabilities{})
	conn := f.dial(t)

	if ev := readEvent(t, conn); ev.Kind != "ready" {
		t.Fatalf("first event = %q", ev.Kind)
	}
	conn.Close()

	waitFor(t, "camera release", func() bool { return f.cam.held() == 0 })
	waitFor(t, "idle", func() bool { return f.ctrl.State() == codescanner.StateIdle })

	// The controller accepts a new session afterwards.
	second := f.dial(t)
	if ev := readEvent(t, second); ev.Kind != "ready" {
		t.Fatalf("reopen first event = %q", ev.Kind)
	}
}

func TestScan_SecondClientRejected(t *testing.T) {
	f := newFixture(t, codescanner.Capabilities{})
	first := f.dial(t)
	if ev := readEvent(t, first); ev.Kind != "ready" {
		t.Fatalf("first event = %q", ev.Kind)
	}

	second := f.dial(t)
	ev := readEvent(t, second)
	if !strings.Contains(ev.Error, codescanner.ErrSessionActive.Error()) {
		t.Errorf("second client got %+v, want session-active error", ev)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Errorf("close = %v, want try-again-later", err)
	}
}

func TestReadiness(t *testing.T) {
	unavailable := errors.New("missing")
	tests := []struct {
		name       string
		caps       codescanner.Capabilities
		wantCode   int
		wantStatus string
	}{
		{"both backends", codescanner.Capabilities{}, http.StatusOK, "healthy"},
		{"fallback only", codescanner.Capabilities{Native: unavailable}, http.StatusOK, "degraded"},
		{"no backend", codescanner.Capabilities{Native: unavailable, Fallback: unavailable}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.caps)
			resp, err := http.Get(f.http.URL + "/readiness")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, codescanner.Capabilities{})

	resp, err := http.Get(f.http.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}

	resp, err = http.Get(f.http.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, want := range []string{
		"code_scanner_sessions_opened_total 0",
		`code_scanner_state{state="idle",backend="none"} 1`,
		"code_scanner_mqtt_published_total 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	resp, err = http.Post(f.http.URL+"/health", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /health = %d, want 405", resp.StatusCode)
	}
}

func TestNew_RequiresController(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("expected error")
	}
}
