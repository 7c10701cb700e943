package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	codescanner "github.com/e7canasta/code-scanner"
)

const defaultScanTimeout = 30 * time.Second

type scanOptions struct {
	timeout time.Duration
	facing  string
	backend string
	keep    bool
	json    bool
}

func (r *runner) scan(ctx context.Context, o scanOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	if o.facing != "" {
		r.cfg.Scanner.Facing = o.facing
	}
	if o.backend != "" {
		r.cfg.Scanner.Backend = o.backend
	}

	ctrl, _, err := r.controller(r.cfg)
	if err != nil {
		return err
	}

	session, err := ctrl.Open(ctx)
	if err != nil {
		return err
	}
	started := time.Now()

	var (
		results int
		failure error
	)
loop:
	for {
		select {
		case ev, ok := <-session.Events():
			if !ok {
				break loop
			}
			if err := printEvent(r.out, ev, o.json); err != nil {
				return err
			}
			switch ev.Kind {
			case codescanner.EventScanResult:
				results++
				if !o.keep && ev.Code != nil && ev.Code.Recognized() {
					break loop
				}
			case codescanner.EventAcquisitionFailed:
				failure = fmt.Errorf("camera acquisition failed: %s", ev.Reason)
			case codescanner.EventFatalBackendFailure:
				failure = fmt.Errorf("backend failure: %s", ev.Reason)
			}
		case <-ctx.Done():
			break loop
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := ctrl.Close(closeCtx); err != nil {
		r.logger.Warn("session close", "error", err)
	}

	if !o.json {
		st := ctrl.Stats()
		fmt.Fprintf(r.out, "\n  Duration:    %s\n", time.Since(started).Round(time.Millisecond))
		fmt.Fprintf(r.out, "  Results:     %d\n", st.ScanResults)
		fmt.Fprintf(r.out, "  Suppressed:  %d\n", st.Suppressed)
	}

	if failure == nil && results == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		failure = fmt.Errorf("no code scanned within %s", o.timeout)
	}
	return failure
}

// printEvent writes ev as one JSON line or one human-readable line.
func printEvent(w io.Writer, ev codescanner.Event, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(ev)
	}
	_, err := fmt.Fprintln(w, formatEvent(ev))
	return err
}

func formatEvent(ev codescanner.Event) string {
	prefix := fmt.Sprintf("[%s] %-20s", ev.At.Format("15:04:05.000"), ev.Kind)
	switch ev.Kind {
	case codescanner.EventReady:
		return fmt.Sprintf("%s backend=%s session=%s", prefix, ev.Backend, ev.SessionID)
	case codescanner.EventScanResult:
		if ev.Code == nil {
			return prefix
		}
		return fmt.Sprintf("%s %s %q", prefix, ev.Code.Kind, ev.Code.Value)
	case codescanner.EventAcquisitionFailed, codescanner.EventFatalBackendFailure:
		return fmt.Sprintf("%s %s", prefix, ev.Reason)
	}
	return prefix
}
