package camera

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// Reason classifies why a camera could not be acquired.
type Reason string

const (
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonNoDevice         Reason = "no-device"
	ReasonUnknown          Reason = "unknown"
)

// ErrAcquisition matches any *AcquisitionError via errors.Is.
var ErrAcquisition = errors.New("camera: acquisition failed")

// AcquisitionError reports a failed device open or readiness wait.
type AcquisitionError struct {
	Reason Reason
	Facing Facing
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera: acquisition failed (%s, facing=%s)", e.Reason, e.Facing)
	}
	return fmt.Sprintf("camera: acquisition failed (%s, facing=%s): %v", e.Reason, e.Facing, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

func (e *AcquisitionError) Is(target error) bool { return target == ErrAcquisition }

// ReasonOf extracts the acquisition reason from err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr.Reason
	}
	return ReasonUnknown
}

// ClassifyGStreamerError maps a pipeline error to an acquisition reason.
// go-gst does not expose the GError domain, so this relies on the message
// and debug text.
func ClassifyGStreamerError(gerr *gst.GError) Reason {
	if gerr == nil {
		return ReasonUnknown
	}
	return ClassifyText(gerr.Error(), gerr.DebugString())
}

// ClassifyText is the keyword heuristic behind ClassifyGStreamerError.
// Permission keywords win over device keywords because v4l2src reports both
// through the same "could not open device" message.
func ClassifyText(message, debug string) Reason {
	combined := strings.ToLower(message + " " + debug)

	if containsAny(combined, permissionKeywords) {
		return ReasonPermissionDenied
	}
	if containsAny(combined, noDeviceKeywords) {
		return ReasonNoDevice
	}
	return ReasonUnknown
}

var permissionKeywords = []string{
	"permission denied",
	"operation not permitted",
	"access denied",
	"not authorized",
	"unauthorized",
	"forbidden",
	"eacces",
	"eperm",
}

var noDeviceKeywords = []string{
	"no such file or directory",
	"no such device",
	"cannot identify device",
	"is not a capture device",
	"not a v4l2 device",
	"no device",
	"device not found",
	"resource not found",
	"enoent",
	"enodev",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
