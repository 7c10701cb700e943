package codescanner

import (
	"time"

	"github.com/e7canasta/code-scanner/internal/camera"
	"github.com/e7canasta/code-scanner/internal/detect"
	"github.com/e7canasta/code-scanner/internal/payload"
)

// Facing selects which camera to acquire.
type Facing = camera.Facing

const (
	FacingEnvironment = camera.FacingEnvironment
	FacingAny         = camera.FacingAny
)

// Frame is one captured RGB frame.
type Frame = camera.Frame

// ParsedCode is a routed payload.
type ParsedCode = payload.ParsedCode

// CodeKind classifies a ParsedCode.
type CodeKind = payload.CodeKind

const (
	KindUnrecognized = payload.KindUnrecognized
	KindPrescription = payload.KindPrescription
	KindAppointment  = payload.KindAppointment
	KindPatient      = payload.KindPatient
)

// Rule is one entry of the prefix table.
type Rule = payload.Rule

// DefaultRules returns the default prefix table.
func DefaultRules() []Rule { return payload.DefaultRules() }

// EngineCallbacks receive output from a FallbackEngine.
type EngineCallbacks = detect.Callbacks

// SessionState is the controller state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAcquiring
	StateDetecting
	StateClosing
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateDetecting:
		return "detecting"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SessionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// BackendKind identifies the detection backend serving a session.
type BackendKind int

const (
	BackendNone BackendKind = iota
	BackendNative
	BackendFallback
)

func (b BackendKind) String() string {
	switch b {
	case BackendNative:
		return "native"
	case BackendFallback:
		return "fallback"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (b BackendKind) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// EventKind identifies an Event.
type EventKind int

const (
	EventReady EventKind = iota
	EventAcquisitionFailed
	EventScanResult
	EventBenignMiss
	EventFatalBackendFailure
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventAcquisitionFailed:
		return "acquisitionFailed"
	case EventScanResult:
		return "scanResult"
	case EventBenignMiss:
		return "benignMiss"
	case EventFatalBackendFailure:
		return "fatalBackendFailure"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// DecodedEvent is the raw detector output behind a scan result.
type DecodedEvent struct {
	RawText   string    `json:"raw_text" msgpack:"raw_text"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty" msgpack:"trace_id,omitempty"`
}

// Event is emitted on Session.Events.
//
// Reason is set for EventAcquisitionFailed (an AcquisitionReason) and
// EventFatalBackendFailure (a description). Code and Decoded are set for
// EventScanResult only.
type Event struct {
	Kind       EventKind     `json:"kind" msgpack:"kind"`
	SessionID  string        `json:"session_id" msgpack:"session_id"`
	Generation uint64        `json:"generation" msgpack:"generation"`
	Backend    BackendKind   `json:"backend" msgpack:"backend"`
	Reason     string        `json:"reason,omitempty" msgpack:"reason,omitempty"`
	Code       *ParsedCode   `json:"code,omitempty" msgpack:"code,omitempty"`
	Decoded    *DecodedEvent `json:"decoded,omitempty" msgpack:"decoded,omitempty"`
	At         time.Time     `json:"at" msgpack:"at"`
}
