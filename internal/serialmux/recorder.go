package serialmux

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/squeakview/internal/monitoring"
	"github.com/banshee-data/squeakview/internal/timeutil"
)

// Header is the serial.csv header written by the rig firmware protocol.
var Header = []string{
	"eventType", "unixTime", "rp2040Time", "side", "count",
	"duration", "latency", "value", "context", "reason",
}

// DefaultFlushEvery is the row interval between CSV flushes.
const DefaultFlushEvery = 25

// TTLPrefix marks the line the rig prints when it sees the camera trigger.
const TTLPrefix = "CAMERA_"

// ErrRecorderClosed is returned by writes after Close.
var ErrRecorderClosed = errors.New("serialmux: recorder closed")

// SplitLine maps a serial line onto the header columns. Lines with at most
// len(Header) comma separated fields are split and padded; longer lines
// are kept whole in eventType.
func SplitLine(line string) []string {
	row := make([]string, len(Header))
	fields := strings.Split(line, ",")
	if len(fields) > len(Header) {
		row[0] = line
		return row
	}
	copy(row, fields)
	return row
}

// Recorder appends serial lines to a CSV file.
type Recorder struct {
	mu         sync.Mutex
	w          *csv.Writer
	closer     io.Closer
	flushEvery int
	rows       int
	closed     bool
	clock      timeutil.Clock

	ttlOnce sync.Once
	ttl     chan struct{}
}

// CreateRecorder opens path for appending and writes the header when the
// file is new or empty.
func CreateRecorder(path string, flushEvery int) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open serial csv %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat serial csv %s: %w", path, err)
	}
	r := newRecorder(f, flushEvery)
	r.closer = f
	if info.Size() == 0 {
		if err := r.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

// NewRecorder writes to w, starting with the header.
func NewRecorder(w io.Writer, flushEvery int) (*Recorder, error) {
	r := newRecorder(w, flushEvery)
	if err := r.writeHeader(); err != nil {
		return nil, err
	}
	return r, nil
}

func newRecorder(w io.Writer, flushEvery int) *Recorder {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	return &Recorder{
		w:          csv.NewWriter(w),
		flushEvery: flushEvery,
		clock:      timeutil.RealClock{},
		ttl:        make(chan struct{}),
	}
}

// SetClock replaces the clock used by WaitForTTL.
func (r *Recorder) SetClock(c timeutil.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = c
}

func (r *Recorder) writeHeader() error {
	if err := r.w.Write(Header); err != nil {
		return fmt.Errorf("write serial header: %w", err)
	}
	r.w.Flush()
	return r.w.Error()
}

// Record appends one line.
func (r *Recorder) Record(line string) error {
	if strings.HasPrefix(line, TTLPrefix) {
		r.ttlOnce.Do(func() { close(r.ttl) })
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	if err := r.w.Write(SplitLine(line)); err != nil {
		return fmt.Errorf("write serial row: %w", err)
	}
	r.rows++
	if r.rows%r.flushEvery == 0 {
		r.w.Flush()
		return r.w.Error()
	}
	return nil
}

// Marker records a non-serial alignment row.
func (r *Recorder) Marker(marker string, now time.Time) error {
	return r.Record(fmt.Sprintf("MARKER,%s,%s", marker, now.Format("15:04:05")))
}

// Rows is the number of rows written after the header.
func (r *Recorder) Rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

// TTLSeen is closed once a camera trigger line has been recorded.
func (r *Recorder) TTLSeen() <-chan struct{} { return r.ttl }

// WaitForTTL blocks until the camera trigger line is seen, timeout passes
// or ctx is done, and reports whether it was seen.
func (r *Recorder) WaitForTTL(ctx context.Context, timeout time.Duration) bool {
	monitoring.Opsf("[SER] waiting for camera TTL line (timeout %.1fs)", timeout.Seconds())
	r.mu.Lock()
	t := r.clock.NewTimer(timeout)
	r.mu.Unlock()
	defer t.Stop()
	select {
	case <-r.ttl:
		monitoring.Opsf("[SER] TTL detected")
		return true
	case <-t.C():
	case <-ctx.Done():
	}
	monitoring.Opsf("[SER] TTL not detected within timeout, continuing")
	return false
}

// Run records every line from lines until the channel closes or ctx is
// done. Write errors are logged and do not stop recording.
func (r *Recorder) Run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			monitoring.Tracef("[SER] %s", line)
			if err := r.Record(line); err != nil {
				monitoring.Opsf("[SER] csv write error: %v", err)
				if errors.Is(err, ErrRecorderClosed) {
					return nil
				}
			}
		}
	}
}

// Close flushes and closes the file. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.w.Flush()
	err := r.w.Error()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
	}
	return err
}
