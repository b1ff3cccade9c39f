//go:build gst && deepstream

package gstprobe

/*
#cgo pkg-config: gstreamer-1.0
#cgo CFLAGS: -I/opt/nvidia/deepstream/deepstream/sources/includes
#cgo LDFLAGS: -L/opt/nvidia/deepstream/deepstream/lib -lnvdsgst_meta -lnvds_meta
#include <gst/gst.h>
#include "gstnvdsmeta.h"
#include "nvdsmeta.h"
*/
import "C"

import (
	"errors"
	"image/color"

	"github.com/banshee-data/squeakview/internal/overlay"
	"github.com/banshee-data/squeakview/internal/pose"
	"github.com/banshee-data/squeakview/internal/stage"
)

// displayBudget is the capacity of one NvDsDisplayMeta.
var displayBudget = overlay.Budget{
	MaxPoints: int(C.MAX_ELEMENTS_IN_DISPLAY_META),
	MaxLines:  int(C.MAX_ELEMENTS_IN_DISPLAY_META),
}

var errNoBatchMeta = errors.New("buffer carries no NvDsBatchMeta")

// NativeMetadata returns the NvDsBatchMeta walker and the display meta
// overlay sink.
func NativeMetadata() (FrameExtractor, OverlaySink, error) {
	return batchMetaExtractor{}, displayMetaSink{}, nil
}

func batchMeta(b BufferInfo) *C.NvDsBatchMeta {
	if b.Native == nil {
		return nil
	}
	return C.gst_buffer_get_nvds_batch_meta((*C.GstBuffer)(b.Native))
}

type batchMetaExtractor struct{}

// Frames copies every NvDsFrameMeta of the batch and its object metas.
func (batchMetaExtractor) Frames(b BufferInfo) ([]stage.FrameInput, error) {
	batch := batchMeta(b)
	if batch == nil {
		return nil, errNoBatchMeta
	}
	C.nvds_acquire_meta_lock(batch)
	defer C.nvds_release_meta_lock(batch)

	var frames []stage.FrameInput
	for l := batch.frame_meta_list; l != nil; l = l.next {
		fm := (*C.NvDsFrameMeta)(l.data)
		budget := displayBudget
		in := stage.FrameInput{
			FrameNum: int64(fm.frame_num),
			PTS:      framePTS(uint64(fm.buf_pts)),
			StreamID: int(fm.pad_index),
			Width:    int(fm.source_frame_width),
			Height:   int(fm.source_frame_height),
			Budget:   &budget,
		}
		for o := fm.obj_meta_list; o != nil; o = o.next {
			om := (*C.NvDsObjectMeta)(o.data)
			rect := om.rect_params
			in.Detections = append(in.Detections, pose.Detection{
				Rect: pose.Rect{
					X: float64(rect.left),
					Y: float64(rect.top),
					W: float64(rect.width),
					H: float64(rect.height),
				},
				Confidence: float64(om.confidence),
				ClassID:    int(om.class_id),
				Label:      C.GoString(&om.obj_label[0]),
				ObjectID:   objectID(uint64(om.object_id)),
			})
		}
		frames = append(frames, in)
	}
	return frames, nil
}

type displayMetaSink struct{}

// Draw attaches one display meta with the frame's circles and lines to the
// NvDsFrameMeta the frame was read from.
func (displayMetaSink) Draw(b BufferInfo, in stage.FrameInput, out stage.FrameOutput) {
	prims := out.Overlay
	if len(prims.Points) == 0 && len(prims.Lines) == 0 {
		return
	}
	batch := batchMeta(b)
	if batch == nil {
		return
	}
	C.nvds_acquire_meta_lock(batch)
	defer C.nvds_release_meta_lock(batch)

	var fm *C.NvDsFrameMeta
	for l := batch.frame_meta_list; l != nil; l = l.next {
		f := (*C.NvDsFrameMeta)(l.data)
		if int64(f.frame_num) == in.FrameNum && int(f.pad_index) == in.StreamID {
			fm = f
			break
		}
	}
	if fm == nil {
		return
	}

	dm := C.nvds_acquire_display_meta_from_pool(batch)
	if dm == nil {
		return
	}
	n := 0
	for _, p := range prims.Points {
		if n >= len(dm.circle_params) {
			break
		}
		cp := &dm.circle_params[n]
		cp.xc = C.uint(nonNegative(p.X))
		cp.yc = C.uint(nonNegative(p.Y))
		cp.radius = C.uint(max(1, p.Radius))
		cp.circle_color = osdColor(p.Color)
		cp.has_bg_color = 0
		n++
	}
	dm.num_circles = C.guint(n)

	n = 0
	for _, ln := range prims.Lines {
		if n >= len(dm.line_params) {
			break
		}
		lp := &dm.line_params[n]
		lp.x1 = C.uint(nonNegative(ln.X1))
		lp.y1 = C.uint(nonNegative(ln.Y1))
		lp.x2 = C.uint(nonNegative(ln.X2))
		lp.y2 = C.uint(nonNegative(ln.Y2))
		lp.line_width = C.uint(max(1, ln.Width))
		lp.line_color = osdColor(ln.Color)
		n++
	}
	dm.num_lines = C.guint(n)

	C.nvds_add_display_meta_to_frame(fm, dm)
}

func osdColor(c color.RGBA) C.NvOSD_ColorParams {
	return C.NvOSD_ColorParams{
		red:   C.double(float64(c.R) / 255),
		green: C.double(float64(c.G) / 255),
		blue:  C.double(float64(c.B) / 255),
		alpha: C.double(float64(c.A) / 255),
	}
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
