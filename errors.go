package codescanner

import (
	"context"
	"errors"

	"github.com/e7canasta/code-scanner/internal/camera"
	"github.com/e7canasta/code-scanner/internal/detect"
)

// AcquisitionError reports why no camera could be acquired.
type AcquisitionError = camera.AcquisitionError

// AcquisitionReason classifies an AcquisitionError.
type AcquisitionReason = camera.Reason

const (
	ReasonPermissionDenied = camera.ReasonPermissionDenied
	ReasonNoDevice         = camera.ReasonNoDevice
	ReasonUnknown          = camera.ReasonUnknown
)

var (
	// ErrAcquisition matches any AcquisitionError.
	ErrAcquisition = camera.ErrAcquisition
	// ErrBackendUnavailable means neither backend could be used.
	ErrBackendUnavailable = errors.New("code-scanner: no usable detection backend")
	// ErrSessionActive is returned by Open while a session is not IDLE.
	ErrSessionActive = errors.New("code-scanner: a scan session is already active")
	// ErrControllerClosed is returned by Open after Controller.Close.
	ErrControllerClosed = errors.New("code-scanner: controller closed")
)

// isAbort reports whether err is the expected result of cancelling an
// in-flight step during close. Such errors are never surfaced.
func isAbort(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, camera.ErrSlotClosed) ||
		errors.Is(err, detect.ErrEngineStopped) ||
		errors.Is(err, detect.ErrDetectorClosed) ||
		errors.Is(err, errBackendStopped)
}
