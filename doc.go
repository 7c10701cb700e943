// Package codescanner runs a camera-driven QR scanning session on a local
// device and turns decoded payloads into typed commands.
//
// The package owns the hard part of scanning: acquiring the camera,
// choosing a detection backend, suppressing repeated reads, and making sure
// the device is released on every exit path. What the application does with
// a scanned code (lookups, UI, export) stays outside; the controller only
// emits typed events.
//
// # Quick Start
//
//	cam, _ := codescanner.NewGStreamerCamera(codescanner.DefaultCameraConfig(), nil)
//	ctrl, err := codescanner.NewController(codescanner.Dependencies{
//	    Camera:   cam,
//	    Native:   codescanner.NewZXingDetector(codescanner.NativeConfig{TryHarder: true}, nil),
//	    Fallback: codescanner.NewZBarEngine(codescanner.EngineConfig{Camera: codescanner.DefaultCameraConfig()}, nil),
//	}, codescanner.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session, err := ctrl.Open(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close(context.Background())
//
//	for ev := range session.Events() {
//	    switch ev.Kind {
//	    case codescanner.EventScanResult:
//	        fmt.Println(ev.Code.Kind, ev.Code.Value)
//	    case codescanner.EventAcquisitionFailed, codescanner.EventFatalBackendFailure:
//	        log.Println(ev.Reason)
//	    }
//	}
//
// # Session Lifecycle
//
//	IDLE → ACQUIRING → DETECTING → CLOSING → IDLE
//	         │             │
//	         └──→ ERROR ←──┘ → IDLE
//
// Open returns immediately in ACQUIRING. The camera is opened with the
// configured facing, retried once with FacingAny, then a backend is chosen:
//
//   - Native: frames are pulled from the camera at a bounded rate and
//     decoded in-process (gozxing, with an optional goqr second pass).
//   - Fallback: the controller releases its own camera and a zbar engine
//     opens the device itself and pushes decoded symbols back.
//
// The native capability is probed once per session. If the native
// detector cannot be constructed the session degrades to the fallback; if
// neither backend is usable the session ends with EventFatalBackendFailure.
//
// # Events
//
//   - EventReady: the backend is running, DETECTING entered
//   - EventAcquisitionFailed: no camera (Reason is permission-denied,
//     no-device or unknown)
//   - EventScanResult: a debounced, routed code (unrecognized codes included)
//   - EventBenignMiss: nothing decoded recently (throttled)
//   - EventFatalBackendFailure: detection cannot continue
//
// # Generations
//
// Every Open and every close increments the controller generation. Each
// asynchronous continuation (device open, readiness wait, detection result,
// engine callback) captures the generation it was started under and is
// dropped if the generation moved on. This is what keeps a late camera or a
// late decode from leaking into a closed or newer session.
//
// # Close
//
// Session.Close is idempotent, safe to call concurrently, and safe to call
// from the goroutine ranging over Events. When it returns (with a context
// that did not expire) the camera and any engine device are released, no
// further events are delivered, and the Events channel is closed.
package codescanner
