// Package toggles polls the on/off control files in the run directory.
//
// An operator flips a feature by writing "on" or "off" into its file. Content
// is trimmed and lower-cased; only "on" enables. A missing or unreadable file
// leaves the feature as it was.
package toggles

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/squeakview/internal/fsutil"
	"github.com/banshee-data/squeakview/internal/monitoring"
	"github.com/banshee-data/squeakview/internal/timeutil"
)

// Name identifies a toggle.
type Name string

const (
	Preview  Name = "preview"
	Skeleton Name = "skeleton"
	Video    Name = "video"
)

// All lists every toggle in polling order.
var All = []Name{Preview, Skeleton, Video}

// DefaultInterval is the polling period.
const DefaultInterval = time.Second

// FileName returns the control file name for n.
func FileName(n Name) string { return string(n) + "_toggle.txt" }

// Parse reports whether control file content means on.
func Parse(data []byte) bool {
	return strings.ToLower(strings.TrimSpace(string(data))) == "on"
}

// Config configures a Poller.
type Config struct {
	Dir      string
	FS       fsutil.FileSystem // nil means the OS filesystem
	Clock    timeutil.Clock    // nil means the real clock
	Interval time.Duration     // non-positive means DefaultInterval

	// Skeleton is the initial skeleton state.
	Skeleton bool
	// PreviewAttached is false when no preview window exists; preview is
	// then held off whatever its file says.
	PreviewAttached bool
}

// Poller holds the current toggle states.
type Poller struct {
	cfg   Config
	state map[Name]*atomic.Bool

	mu        sync.Mutex
	listeners []func(Name, bool)
}

// NewPoller returns a poller with preview and video on and skeleton per
// cfg. Nothing is read or written until WriteInitial, Poll or Run.
func NewPoller(cfg Config) *Poller {
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	p := &Poller{cfg: cfg, state: make(map[Name]*atomic.Bool, len(All))}
	for _, n := range All {
		p.state[n] = new(atomic.Bool)
	}
	p.state[Preview].Store(cfg.PreviewAttached)
	p.state[Skeleton].Store(cfg.Skeleton)
	p.state[Video].Store(true)
	return p
}

// Path returns the control file path for n.
func (p *Poller) Path(n Name) string { return filepath.Join(p.cfg.Dir, FileName(n)) }

// WriteInitial writes every control file with its starting state so the
// operator has something to edit.
func (p *Poller) WriteInitial() error {
	for _, n := range All {
		content := "off"
		if n == Preview || p.Enabled(n) {
			content = "on"
		}
		if err := fsutil.WriteFileAtomic(p.cfg.FS, p.Path(n), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Enabled returns the current state of n.
func (p *Poller) Enabled(n Name) bool {
	s, ok := p.state[n]
	return ok && s.Load()
}

// OnChange registers fn to be called after a toggle changes state. Callbacks
// run on the polling goroutine.
func (p *Poller) OnChange(fn func(Name, bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Poll reads every control file once and applies changes.
func (p *Poller) Poll() {
	for _, n := range All {
		data, err := p.cfg.FS.ReadFile(p.Path(n))
		if err != nil {
			continue
		}
		want := Parse(data)
		if n == Preview && !p.cfg.PreviewAttached {
			want = false
		}
		if p.state[n].Swap(want) == want {
			continue
		}
		monitoring.Opsf("[TOGGLE] %s %s", n, onOff(want))
		p.mu.Lock()
		listeners := append([]func(Name, bool){}, p.listeners...)
		p.mu.Unlock()
		for _, fn := range listeners {
			fn(n, want)
		}
	}
}

// Set writes the control file for n and applies it at once. Unknown names
// are rejected.
func (p *Poller) Set(n Name, on bool) error {
	if _, ok := p.state[n]; !ok {
		return fmt.Errorf("unknown toggle %q", n)
	}
	content := "off"
	if on {
		content = "on"
	}
	if err := fsutil.WriteFileAtomic(p.cfg.FS, p.Path(n), []byte(content), 0o644); err != nil {
		return err
	}
	p.Poll()
	return nil
}

// Run polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			p.Poll()
		}
	}
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
