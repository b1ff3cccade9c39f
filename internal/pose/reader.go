package pose

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/squeakview/internal/monitoring"
)

// Querier is the native pose cache query. Implementations must return a
// Go-owned copy of the payload: the Reader keeps the slice it is given.
type Querier interface {
	Query() (data []float32, keypoints int, seq uint64)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func() ([]float32, int, uint64)

// Query calls f.
func (f QuerierFunc) Query() ([]float32, int, uint64) { return f() }

// ReaderConfig carries the geometry the Reader needs to undo the letterbox.
type ReaderConfig struct {
	// NetW and NetH are the network input dimensions.
	NetW, NetH float64
	// DefaultW and DefaultH replace degenerate source frame dimensions.
	DefaultW, DefaultH float64
}

// FrameGeometry is the size of the source frame the batch is mapped into.
type FrameGeometry struct {
	Width, Height float64
}

// ErrInvalidStride is returned when the cache reports a non-positive
// keypoint count alongside a non-empty payload.
var ErrInvalidStride = errors.New("pose: invalid cache stride")

// ReaderStats counts reader activity since creation.
type ReaderStats struct {
	Polls     uint64
	Decodes   uint64
	CacheHits uint64
	Empty     uint64
	Truncated uint64
}

// Reader polls a Querier once per frame and returns the decoded batch for the
// newest sequence, decoding each sequence at most once.
type Reader struct {
	mu    sync.Mutex
	q     Querier
	cfg   ReaderConfig
	cache SequenceCache
	k     int
	stats ReaderStats

	strideWarned bool
	sampleOnce   sync.Once
}

// NewReader creates a Reader over q.
func NewReader(q Querier, cfg ReaderConfig) *Reader {
	return &Reader{q: q, cfg: cfg}
}

// Fetch returns the batch for the current native sequence with coordinates in
// the source frame. Sequence 0 or an empty payload is an empty batch, not an
// error.
func (r *Reader) Fetch(frame FrameGeometry) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Polls++
	data, k, seq := r.q.Query()

	if seq == 0 || len(data) == 0 {
		r.stats.Empty++
		b := Batch{Seq: seq, KeypointCount: r.k}
		r.cache.Store(b)
		return b, nil
	}

	if !r.cache.IsStale(seq) {
		r.stats.CacheHits++
		b, _ := r.cache.Get()
		return b, nil
	}

	entries, st := Decode(data, k)
	if k <= 0 {
		if !r.strideWarned {
			monitoring.Opsf("[POSE] cache stride invalid: stride=%d", st.Stride)
			r.strideWarned = true
		}
		return Batch{Seq: seq}, fmt.Errorf("%w: keypoints=%d", ErrInvalidStride, k)
	}
	if st.Dropped > 0 {
		r.stats.Truncated++
		monitoring.Opsf("[POSE] cache size mismatch total=%d stride=%d dropped=%d", len(data), st.Stride, st.Dropped)
	}
	r.stats.Decodes++
	r.k = k

	lb := NewLetterbox(r.cfg.NetW, r.cfg.NetH, frame.Width, frame.Height, r.cfg.DefaultW, r.cfg.DefaultH)
	keep := entries[:0]
	for _, e := range entries {
		if e.Confidence <= 0 {
			continue
		}
		e.Box = lb.BoxToSource(e.Box)
		for j := range e.Keypoints {
			kp := &e.Keypoints[j]
			kp.X, kp.Y = lb.ToSource(kp.X, kp.Y)
		}
		keep = append(keep, e)
	}
	sort.SliceStable(keep, func(i, j int) bool {
		return keep[i].Confidence > keep[j].Confidence
	})

	b := Batch{Seq: seq, KeypointCount: k, Entries: keep}
	r.cache.Store(b)

	if len(keep) > 0 {
		r.sampleOnce.Do(func() {
			first := keep[0]
			monitoring.Diagf("[POSE] cache sample seq=%d conf=%.4f kp0=(%.2f,%.2f) k=%d",
				seq, first.Confidence, first.Keypoints[0].X, first.Keypoints[0].Y, k)
		})
	}
	return b, nil
}

// KeypointCount returns K from the most recent successful decode, or 0 when
// nothing has been decoded yet.
func (r *Reader) KeypointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.k
}

// Stats returns a copy of the reader counters.
func (r *Reader) Stats() ReaderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
