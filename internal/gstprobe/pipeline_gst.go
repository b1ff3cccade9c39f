//go:build gst

package gstprobe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/tinyzimmer/go-glib/glib"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/banshee-data/squeakview/internal/monitoring"
	"github.com/banshee-data/squeakview/internal/timeutil"
	"github.com/banshee-data/squeakview/internal/toggles"
)

var initOnce sync.Once

// Pipeline is a parsed launch string with the probes attached.
type Pipeline struct {
	pipeline *gst.Pipeline
	hooks    *Hooks
	opts     Options

	mu       sync.Mutex
	elements map[string]*gst.Element

	// negotiated OSD sink caps, read on the streaming thread
	width, height atomic.Int64
}

// Build parses launch and attaches the probes. Missing optional elements
// only disable their feature; a missing OSD or frame metadata extractor with
// inference enabled fails.
func Build(launch string, hooks *Hooks, opts Options) (*Pipeline, error) {
	if opts.Inference && hooks.cfg.Extractor == nil {
		return nil, ErrNoExtractor
	}
	initOnce.Do(func() { gst.Init(nil) })
	if opts.EOSTimeout <= 0 {
		opts.EOSTimeout = DefaultEOSTimeout
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	monitoring.Opsf("[INFO] building pipeline")
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	p := &Pipeline{
		pipeline: pipeline,
		hooks:    hooks,
		opts:     opts,
		elements: make(map[string]*gst.Element),
	}

	if tap := p.element(ElementStreamTap); tap != nil {
		if pad := tap.GetStaticPad("src"); pad != nil {
			pad.AddProbe(gst.PadProbeTypeBuffer, func(_ *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
				if info.GetBuffer() != nil {
					hooks.StreamBuffer()
				}
				return gst.PadProbeOK
			})
		}
	} else {
		monitoring.Opsf("[WARN] %s element not found; stream fps disabled", ElementStreamTap)
	}

	if opts.Inference {
		if err := p.attachInference(); err != nil {
			pipeline.SetState(gst.StateNull)
			return nil, err
		}
	}

	p.ApplyToggle(toggles.Preview, opts.Preview)
	if p.element(ElementVideoSelect) != nil {
		p.ApplyToggle(toggles.Video, opts.Video)
	} else if opts.Inference {
		monitoring.Opsf("[WARN] %s missing; video toggle unavailable", ElementVideoSelect)
	}
	return p, nil
}

func (p *Pipeline) attachInference() error {
	osd := p.element(ElementOSD)
	if osd == nil {
		return ErrMissingOSD
	}

	if pgie := p.element(ElementInfer); pgie == nil {
		monitoring.Opsf("[WARN] nvinfer element %q not found; inference metrics disabled", ElementInfer)
	} else {
		if pad := pgie.GetStaticPad("sink"); pad != nil {
			pad.AddProbe(gst.PadProbeTypeBuffer, func(_ *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
				if buf := info.GetBuffer(); buf != nil {
					p.hooks.InferStart(bufferKey(buf))
				}
				return gst.PadProbeOK
			})
		} else {
			monitoring.Opsf("[WARN] nvinfer sink pad missing; cannot time inference")
		}
		if pad := pgie.GetStaticPad("src"); pad != nil {
			pad.AddProbe(gst.PadProbeTypeBuffer, func(_ *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
				if buf := info.GetBuffer(); buf != nil {
					p.hooks.InferEnd(bufferKey(buf))
				}
				return gst.PadProbeOK
			})
		} else {
			monitoring.Opsf("[WARN] nvinfer src pad missing; cannot time inference")
		}
	}

	// GPU mode works with NVMM surfaces.
	for name, value := range map[string]interface{}{
		"process-mode": 0,
		"display-bbox": 1,
		"display-text": 1,
	} {
		if err := osd.SetProperty(name, value); err != nil {
			monitoring.Opsf("[WARN] could not set OSD %s: %v", name, err)
		}
	}

	pad := osd.GetStaticPad("sink")
	if pad == nil {
		return fmt.Errorf("%w: sink pad", ErrMissingOSD)
	}
	pad.AddProbe(gst.PadProbeTypeBuffer, func(pad *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
		buf := info.GetBuffer()
		if buf == nil {
			return gst.PadProbeOK
		}
		p.updateCaps(pad)
		p.hooks.OSDBuffer(BufferInfo{
			Key:    bufferKey(buf),
			PTS:    bufferPTS(buf),
			Width:  int(p.width.Load()),
			Height: int(p.height.Load()),
			Native: unsafe.Pointer(buf.Instance()),
		})
		return gst.PadProbeOK
	})
	return nil
}

// updateCaps records the negotiated frame size the first time it is known.
func (p *Pipeline) updateCaps(pad *gst.Pad) {
	if p.width.Load() > 0 && p.height.Load() > 0 {
		return
	}
	caps := pad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		return
	}
	structure := caps.GetStructureAt(0)
	if val, err := structure.GetValue("width"); err == nil {
		if w, ok := val.(int); ok {
			p.width.Store(int64(w))
		}
	}
	if val, err := structure.GetValue("height"); err == nil {
		if h, ok := val.(int); ok {
			p.height.Store(int64(h))
		}
	}
	monitoring.Diagf("[PROBE] osd caps: %s", caps.String())
}

func bufferKey(buf *gst.Buffer) uintptr {
	return uintptr(unsafe.Pointer(buf.Instance()))
}

func bufferPTS(buf *gst.Buffer) time.Duration {
	pts := time.Duration(buf.PresentationTimestamp())
	if pts < 0 {
		return -1
	}
	return pts
}

// element looks up a named element once and caches it.
func (p *Pipeline) element(name string) *gst.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[name]; ok {
		return el
	}
	el, err := p.pipeline.GetElementByName(name)
	if err != nil {
		el = nil
	}
	p.elements[name] = el
	return el
}

// ApplyToggle applies a preview or video toggle to the graph. Skeleton
// changes are ignored here.
func (p *Pipeline) ApplyToggle(n toggles.Name, on bool) {
	act, ok := actionFor(n, on)
	if !ok {
		return
	}
	el := p.element(act.element)
	if el == nil {
		monitoring.Diagf("[TOGGLE] %s: element %s missing", n, act.element)
		return
	}

	var err error
	switch n {
	case toggles.Preview:
		err = el.SetProperty(act.property, act.drop)
	case toggles.Video:
		err = setPadProperty(el, act.property, act.pad)
	}
	if err != nil {
		monitoring.Opsf("[TOGGLE] %s toggle failed: %v", n, err)
		return
	}
	monitoring.Diagf("[TOGGLE] %s applied to %s", n, act.element)
}

// setPadProperty sets an object-typed property to one of el's own pads.
func setPadProperty(el *gst.Element, property, padName string) error {
	pad := el.GetStaticPad(padName)
	if pad == nil {
		return fmt.Errorf("pad %s not found", padName)
	}
	propType, err := el.GetPropertyType(property)
	if err != nil {
		return err
	}
	val, err := glib.ValueInit(propType)
	if err != nil {
		return err
	}
	val.SetInstance(uintptr(pad.Unsafe()))
	return el.SetPropertyValue(property, val)
}

// Run sets the pipeline playing and watches the bus until end of stream,
// an error, or ctx is done. On cancellation an EOS is sent so muxers
// finalise their files, bounded by the EOS timeout.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer p.pipeline.SetState(gst.StateNull)

	bus := p.pipeline.GetPipelineBus()
	var eosWait timeutil.Timer
	defer func() {
		if eosWait != nil {
			eosWait.Stop()
		}
	}()
	for {
		if eosWait == nil && ctx.Err() != nil {
			monitoring.Opsf("[SIG] stop requested, sending EOS")
			p.pipeline.SendEvent(gst.NewEOSEvent())
			eosWait = p.opts.Clock.NewTimer(p.opts.EOSTimeout)
		}
		if eosWait != nil {
			select {
			case <-eosWait.C():
				monitoring.Opsf("[WARN] no EOS within %s; stopping", p.opts.EOSTimeout)
				return ctx.Err()
			default:
			}
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			monitoring.Opsf("[INFO] end of stream")
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			monitoring.Opsf("[ERROR] %s", gerr.Error())
			monitoring.Diagf("[ERROR] debug: %s", gerr.DebugString())
			return fmt.Errorf("pipeline error: %s", gerr.Error())

		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			monitoring.Opsf("[WARN] %s", gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() == p.pipeline.GetName() {
				from, to := msg.ParseStateChanged()
				monitoring.Diagf("[INFO] pipeline state %s -> %s", from, to)
			}
		}
	}
}
