// Package server exposes a scan controller over HTTP: health probes, a
// plain-text metrics page and a websocket that streams one session per
// connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	codescanner "github.com/e7canasta/code-scanner"
	"github.com/e7canasta/code-scanner/internal/emitter"
)

// Publisher receives a copy of every event streamed to a client.
// *emitter.MQTTEmitter implements it.
type Publisher interface {
	Publish(codescanner.Event) error
	Stats() emitter.Stats
}

// Options configures a Server.
type Options struct {
	Addr string
	// Capabilities is the backend probe result reported by /readiness.
	Capabilities codescanner.Capabilities
	// Publisher is optional.
	Publisher Publisher
	Logger    *slog.Logger
	// CloseTimeout bounds session teardown when a client leaves (default 5s).
	CloseTimeout time.Duration
}

// Server is the local UI bridge.
type Server struct {
	ctrl    *codescanner.Controller
	opts    Options
	logger  *slog.Logger
	started time.Time

	upgrader websocket.Upgrader
	router   *mux.Router

	publishDropped atomic.Uint64
}

// New builds the router. ctrl must not be nil.
func New(ctrl *codescanner.Controller, opts Options) (*Server, error) {
	if ctrl == nil {
		return nil, errors.New("server: controller is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8088"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 5 * time.Second
	}

	s := &Server{
		ctrl:    ctrl,
		opts:    opts,
		logger:  opts.Logger,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge serves a kiosk UI on the same host.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readiness", s.handleReadiness).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/ws/scan", s.handleScan).Methods(http.MethodGet)
	s.router = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.opts.Addr,
		Handler:     s.router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("server: listening",
		"addr", s.opts.Addr,
		"endpoints", []string{"/health", "/readiness", "/metrics", "/ws/scan"},
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// HealthStatus is the /readiness body.
type HealthStatus struct {
	Status        string                   `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64                    `json:"uptime_seconds"`
	State         codescanner.SessionState `json:"state"`
	Native        string                   `json:"native"`
	Fallback      string                   `json:"fallback"`
	MQTTConnected *bool                    `json:"mqtt_connected,omitempty"`
}

func capability(err error) string {
	if err == nil {
		return "available"
	}
	return err.Error()
}

// HealthCheck reports whether a session could be served right now.
func (s *Server) HealthCheck() HealthStatus {
	caps := s.opts.Capabilities
	st := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		State:         s.ctrl.State(),
		Native:        capability(caps.Native),
		Fallback:      capability(caps.Fallback),
	}
	if s.opts.Publisher != nil {
		connected := s.opts.Publisher.Stats().Connected
		st.MQTTConnected = &connected
	}

	switch {
	case caps.Native != nil && caps.Fallback != nil:
		st.Status = "unhealthy"
	case caps.Native != nil || (st.MQTTConnected != nil && !*st.MQTTConnected):
		st.Status = "degraded"
	}
	return st
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	health := s.HealthCheck()
	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	st := s.ctrl.Stats()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
	}
	counter("code_scanner_sessions_opened_total", "Scan sessions opened.", st.SessionsOpened)
	counter("code_scanner_scan_results_total", "Scan results delivered.", st.ScanResults)
	counter("code_scanner_suppressed_reads_total", "Reads suppressed by the debounce gate.", st.Suppressed)
	counter("code_scanner_acquisition_failures_total", "Sessions that failed to acquire a camera.", st.AcquisitionFailures)
	counter("code_scanner_backend_failures_total", "Sessions ended by a fatal backend failure.", st.BackendFailures)

	fmt.Fprintf(w, "# TYPE code_scanner_generation gauge\ncode_scanner_generation %d\n", st.Generation)
	fmt.Fprintf(w, "# TYPE code_scanner_state gauge\ncode_scanner_state{state=%q,backend=%q} 1\n", st.State, st.Backend)
	fmt.Fprintf(w, "# TYPE code_scanner_uptime_seconds gauge\ncode_scanner_uptime_seconds %d\n",
		int64(time.Since(s.started).Seconds()))

	if s.opts.Publisher != nil {
		es := s.opts.Publisher.Stats()
		var total uint64
		for _, n := range es.Published {
			total += n
		}
		counter("code_scanner_mqtt_published_total", "Events published to MQTT.", total)
		counter("code_scanner_mqtt_errors_total", "MQTT publish failures.", es.Errors)
		counter("code_scanner_mqtt_dropped_total", "Events dropped because the publish queue was full.", s.publishDropped.Load())
	}
}
