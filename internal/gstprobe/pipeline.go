package gstprobe

import (
	"errors"
	"time"

	"github.com/banshee-data/squeakview/internal/timeutil"
	"github.com/banshee-data/squeakview/internal/toggles"
)

// Element names looked up in the launch string.
const (
	ElementStreamTap    = "perf_tap"
	ElementInfer        = "pgie"
	ElementOSD          = "osd"
	ElementPreviewValve = "preview_valve"
	ElementVideoSelect  = "vis_select"
	ElementPreviewSink  = "preview_sink"
)

// Selector pads of the video feed: the live feed and the black background.
const (
	padLive  = "sink_0"
	padBlack = "sink_1"
)

// ErrUnavailable is returned by Build when the binary was compiled without
// GStreamer support.
var ErrUnavailable = errors.New("gstprobe: built without gstreamer support (build with -tags gst)")

// ErrNoMetadata is returned by NativeMetadata when the binary cannot read
// DeepStream batch metadata.
var ErrNoMetadata = errors.New("gstprobe: built without deepstream metadata support (build with -tags gst,deepstream)")

// ErrMissingOSD is returned when inference is enabled but the graph has no
// OSD element to probe.
var ErrMissingOSD = errors.New("gstprobe: osd element missing")

// Options configure a pipeline.
type Options struct {
	// Inference enables the inference and OSD probes.
	Inference bool
	// Preview and Video are the initial toggle states.
	Preview bool
	Video   bool
	// EOSTimeout bounds the wait for end-of-stream after cancellation.
	EOSTimeout time.Duration
	// Clock times the EOS wait; nil uses the system clock.
	Clock timeutil.Clock
}

// DefaultEOSTimeout is used when Options.EOSTimeout is not positive.
const DefaultEOSTimeout = 5 * time.Second

// selectorPad returns the selector pad for a video toggle state.
func selectorPad(videoOn bool) string {
	if videoOn {
		return padLive
	}
	return padBlack
}

// toggleAction describes how a toggle change maps onto the graph.
type toggleAction struct {
	element  string
	property string
	drop     bool   // valve drop value, for preview
	pad      string // selector pad, for video
}

// actionFor maps a toggle change to its graph action. Skeleton is handled
// per frame by the stage and has no graph action.
func actionFor(n toggles.Name, on bool) (toggleAction, bool) {
	switch n {
	case toggles.Preview:
		return toggleAction{element: ElementPreviewValve, property: "drop", drop: !on}, true
	case toggles.Video:
		return toggleAction{element: ElementVideoSelect, property: "active-pad", pad: selectorPad(on)}, true
	}
	return toggleAction{}, false
}
