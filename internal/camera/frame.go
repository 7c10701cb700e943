// Package camera owns the local capture device: it opens a GStreamer
// pipeline for a requested facing, keeps only the latest frame, and
// releases the device when closed.
package camera

import (
	"fmt"
	"strings"
	"time"
)

// Facing selects which device to acquire.
type Facing int

const (
	// FacingEnvironment prefers the rear ("environment") camera.
	FacingEnvironment Facing = iota
	// FacingAny accepts whatever device the system offers.
	FacingAny
)

func (f Facing) String() string {
	switch f {
	case FacingEnvironment:
		return "environment"
	case FacingAny:
		return "any"
	default:
		return "unknown"
	}
}

// ParseFacing maps a facing name to its value.
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "environment", "rear", "back":
		return FacingEnvironment, nil
	case "any", "":
		return FacingAny, nil
	}
	return FacingAny, fmt.Errorf("camera: unknown facing %q", s)
}

// Frame is one captured RGB frame.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Stride    int    // bytes per row; 0 means packed, Width*3
	Data      []byte // RGB rows, Stride bytes apart
	Device    string
	TraceID   string
}

// RGBStride is the row size GStreamer uses for video/x-raw,format=RGB:
// Width*3 rounded up to a multiple of 4.
func RGBStride(width int) int {
	return (width*3 + 3) &^ 3
}
