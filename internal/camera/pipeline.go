package camera

import (
	"fmt"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var initOnce sync.Once

// Init initializes GStreamer once per process.
func Init() {
	initOnce.Do(func() { gst.Init(nil) })
}

// CheckAvailable reports whether GStreamer and the elements this package
// needs can be instantiated.
func CheckAvailable() error {
	Init()
	for _, name := range []string{"videoconvert", "videoscale", "videorate", "capsfilter", "appsink"} {
		elem, err := gst.NewElement(name)
		if err != nil {
			return fmt.Errorf("camera: gstreamer element %q unavailable: %w", name, err)
		}
		elem.SetState(gst.StateNull)
	}
	return nil
}

type pipelineConfig struct {
	Device string // empty selects autovideosrc
	Width  int
	Height int
	FPS    int
}

type pipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
	Source   *gst.Element
}

// SourceElement builds the capture source for device: v4l2src for a device
// path, autovideosrc when device is empty. Shared with the zbar engine so
// both backends open devices the same way.
func SourceElement(device string) (*gst.Element, error) {
	if device == "" {
		src, err := gst.NewElement("autovideosrc")
		if err != nil {
			return nil, fmt.Errorf("failed to create autovideosrc: %w", err)
		}
		return src, nil
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", device)
	return src, nil
}

// createPipeline assembles
//
//	source → videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
//
// in the NULL state. The appsink keeps a single buffer and drops older ones
// so the pipeline never queues frames behind a slow detector.
func createPipeline(cfg pipelineConfig) (*pipelineElements, error) {
	Init()

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := SourceElement(cfg.Device)
	if err != nil {
		return nil, err
	}

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	rate.SetProperty("drop-only", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(rgbCaps(cfg.Width, cfg.Height, cfg.FPS)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to link capture pipeline: %w", err)
	}

	return &pipelineElements{Pipeline: pipeline, AppSink: sink, Source: src}, nil
}

func rgbCaps(width, height, fps int) string {
	if fps <= 0 {
		return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", width, height)
	}
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1", width, height, fps)
}

func destroyPipeline(elems *pipelineElements) error {
	if elems == nil || elems.Pipeline == nil {
		return nil
	}
	if err := elems.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
