package pose

import "math"

// Letterbox describes the uniform resize with symmetric padding that maps a
// source frame into the network input tensor. ToSource undoes it.
type Letterbox struct {
	NetW, NetH     float64
	FrameW, FrameH float64

	gain       float64
	padX, padY float64
}

// NewLetterbox builds the transform for a tensor of netW×netH fed from a
// frameW×frameH source. Non-positive frame dimensions fall back to
// defaultW×defaultH.
func NewLetterbox(netW, netH, frameW, frameH, defaultW, defaultH float64) Letterbox {
	if frameW <= 0 || frameH <= 0 {
		frameW, frameH = defaultW, defaultH
	}
	gain := 1.0
	if frameW > 0 && frameH > 0 {
		gain = math.Min(netW/frameW, netH/frameH)
	}
	if !(gain > 0) || math.IsInf(gain, 0) {
		gain = 1.0
	}
	return Letterbox{
		NetW:   netW,
		NetH:   netH,
		FrameW: frameW,
		FrameH: frameH,
		gain:   gain,
		padX:   0.5 * (netW - frameW*gain),
		padY:   0.5 * (netH - frameH*gain),
	}
}

// Gain returns the uniform scale factor from source to tensor.
func (l Letterbox) Gain() float64 { return l.gain }

// Pad returns the horizontal and vertical padding in tensor pixels.
func (l Letterbox) Pad() (float64, float64) { return l.padX, l.padY }

// ToSource maps a tensor-space point into source-frame pixels, clamped to
// [0, dim-1] on each axis.
func (l Letterbox) ToSource(x, y float64) (float64, float64) {
	sx := (x - l.padX) / l.gain
	sy := (y - l.padY) / l.gain
	return clamp(sx, 0, l.FrameW-1), clamp(sy, 0, l.FrameH-1)
}

// ToTensor applies the forward letterbox to a source-frame point. It is not
// clamped.
func (l Letterbox) ToTensor(x, y float64) (float64, float64) {
	return x*l.gain + l.padX, y*l.gain + l.padY
}

// BoxToSource maps both corners of b with ToSource.
func (l Letterbox) BoxToSource(b Box) Box {
	x1, y1 := l.ToSource(b.X1, b.Y1)
	x2, y2 := l.ToSource(b.X2, b.Y2)
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo || math.IsNaN(v) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
