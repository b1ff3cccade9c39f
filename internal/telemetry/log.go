package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/banshee-data/squeakview/internal/fsutil"
	"github.com/banshee-data/squeakview/internal/pose"
)

// DefaultFlushEvery is the number of rows between explicit flushes.
const DefaultFlushEvery = 25

var (
	// ErrSchemaFrozen is returned when the schema changes after a row was
	// written.
	ErrSchemaFrozen = errors.New("telemetry: schema frozen after first row")
	// ErrRowWidth is returned for a row whose keypoint count does not match
	// the schema.
	ErrRowWidth = errors.New("telemetry: row keypoint count does not match schema")
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("telemetry: log closed")
)

// Row is one detection in one frame.
type Row struct {
	Frame      int64
	TsMs       int64 // -1 when the presentation timestamp is unknown
	StreamID   int
	ObjectID   int64
	ClassID    int
	ClassLabel string
	Confidence float64
	Rect       pose.Rect
	// Keypoints is nil for a detection without a matched pose.
	Keypoints []pose.Keypoint
}

// Log is the detections CSV. The file is created on first use with the
// current schema's header. Until a row is written the schema may still
// change, in which case the file is recreated.
type Log struct {
	mu         sync.Mutex
	fs         fsutil.FileSystem
	path       string
	schema     Schema
	flushEvery int

	f      io.WriteCloser
	w      *csv.Writer
	rows   int
	closed bool
}

// Options configure a Log.
type Options struct {
	FS         fsutil.FileSystem // nil means the OS filesystem
	FlushEvery int               // non-positive means DefaultFlushEvery
}

// NewLog returns a log that will write schema to path. Nothing is created
// until Open or the first Append.
func NewLog(path string, schema Schema, opts Options) *Log {
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	return &Log{fs: opts.FS, path: path, schema: schema, flushEvery: opts.FlushEvery}
}

// Path returns the file path.
func (l *Log) Path() string { return l.path }

// Schema returns the current schema.
func (l *Log) Schema() Schema {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.schema
}

// Rows returns the number of rows written.
func (l *Log) Rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

// Open creates the file and writes the header if that has not happened yet.
func (l *Log) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openLocked()
}

func (l *Log) openLocked() error {
	if l.closed {
		return ErrClosed
	}
	if l.f != nil {
		return nil
	}
	f, err := l.fs.Create(l.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", l.path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(l.schema.Header()); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush header: %w", err)
	}
	l.f, l.w = f, w
	return nil
}

// EnsureSchema switches to s. If the file already has s's header this is a
// no-op. If rows have been written it fails with ErrSchemaFrozen. Otherwise
// the file is removed and will be recreated with the new header.
func (l *Log) EnsureSchema(s Schema) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.schema.Equal(s) {
		return nil
	}
	if l.rows > 0 {
		return fmt.Errorf("%w: have %d keypoints, want %d", ErrSchemaFrozen, l.schema.Keypoints, s.Keypoints)
	}
	if l.f != nil {
		l.f.Close()
		l.f, l.w = nil, nil
		if err := l.fs.Remove(l.path); err != nil && l.fs.Exists(l.path) {
			return fmt.Errorf("remove %s: %w", l.path, err)
		}
	}
	l.schema = s
	return l.openLocked()
}

// Append writes one row. Rows whose keypoints do not fit the schema are
// rejected with ErrRowWidth and nothing is written.
func (l *Log) Append(r Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.openLocked(); err != nil {
		return err
	}
	if r.Keypoints != nil && len(r.Keypoints) != l.schema.Keypoints {
		return fmt.Errorf("%w: got %d, want %d", ErrRowWidth, len(r.Keypoints), l.schema.Keypoints)
	}
	if err := l.w.Write(l.encode(r)); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	l.rows++
	if l.rows%l.flushEvery == 0 {
		l.w.Flush()
		if err := l.w.Error(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	return nil
}

func (l *Log) encode(r Row) []string {
	rec := make([]string, 0, l.schema.Width())
	rec = append(rec,
		strconv.FormatInt(r.Frame, 10),
		strconv.FormatInt(r.TsMs, 10),
		strconv.Itoa(r.StreamID),
		strconv.FormatInt(r.ObjectID, 10),
		strconv.Itoa(r.ClassID),
		r.ClassLabel,
		fixed(r.Confidence, 6),
		fixed(r.Rect.X, 3),
		fixed(r.Rect.Y, 3),
		fixed(r.Rect.W, 3),
		fixed(r.Rect.H, 3),
	)
	if r.Keypoints == nil {
		for i := 0; i < l.schema.Keypoints; i++ {
			rec = append(rec, "", "", "")
		}
		return rec
	}
	for _, kp := range r.Keypoints {
		rec = append(rec, fixed(kp.X, 3), fixed(kp.Y, 3), fixed(kp.Score, 3))
	}
	return rec
}

// Flush writes buffered rows to the file.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	l.w.Flush()
	return l.w.Error()
}

// Close flushes and closes the file. It is safe to call more than once.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.f == nil {
		return nil
	}
	l.w.Flush()
	err := l.w.Error()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f, l.w = nil, nil
	return err
}

func fixed(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
