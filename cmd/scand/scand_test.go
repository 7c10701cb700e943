package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	codescanner "github.com/e7canasta/code-scanner"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format  string
		level   string
		wantErr bool
		logged  string
	}{
		{"text", "info", false, "scanner up"},
		{"json", "info", false, `"msg":"scanner up"`},
		{"json", "error", false, ""},
		{"text", "loud", true, ""},
		{"xml", "info", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.format+"/"+tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(&buf, tt.format, tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			logger.Info("scanner up", "addr", ":8088")
			if tt.logged == "" {
				if buf.Len() != 0 {
					t.Errorf("expected nothing logged, got %q", buf.String())
				}
				return
			}
			if !strings.Contains(buf.String(), tt.logged) {
				t.Errorf("log output %q missing %q", buf.String(), tt.logged)
			}
		})
	}
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2025, 1, 2, 10, 11, 12, 0, time.UTC)
	tests := []struct {
		name string
		ev   codescanner.Event
		want []string
	}{
		{
			"ready",
			codescanner.Event{Kind: codescanner.EventReady, Backend: codescanner.BackendFallback, SessionID: "abc", At: at},
			[]string{"10:11:12.000", "ready", "backend=fallback", "session=abc"},
		},
		{
			"scan result",
			codescanner.Event{Kind: codescanner.EventScanResult, At: at,
				Code: &codescanner.ParsedCode{Kind: codescanner.KindAppointment, Value: "APPT-1"}},
			[]string{"scanResult", "appointment", `"APPT-1"`},
		},
		{
			"acquisition failed",
			codescanner.Event{Kind: codescanner.EventAcquisitionFailed, Reason: "permission-denied", At: at},
			[]string{"acquisitionFailed", "permission-denied"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatEvent = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestPrintEvent_JSON(t *testing.T) {
	var buf bytes.Buffer
	ev := codescanner.Event{Kind: codescanner.EventBenignMiss, SessionID: "s"}
	if err := printEvent(&buf, ev, true); err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("not JSON: %q", buf.String())
	}
	if got["kind"] != "benignMiss" {
		t.Errorf("kind = %v", got["kind"])
	}
}

func TestLoadConfig_DefaultsWithEnv(t *testing.T) {
	t.Setenv("SCANNER_BACKEND", "native")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scanner.Backend != "native" {
		t.Errorf("backend = %q", cfg.Scanner.Backend)
	}

	t.Setenv("SCANNER_BACKEND", "gpu")
	if _, err := loadConfig(""); err == nil {
		t.Error("invalid override: expected error")
	}
}
