// Package watch reports when a tailed file may have changed.
//
// Events are hints: a consumer must stat the file itself before acting. Event
// channels hold at most one pending event, so bursts of changes collapse into
// a single wake-up.
package watch

import (
	"context"
	"os"
	"time"

	"github.com/maxpert/tailpub/cfg"
	"github.com/spf13/afero"
)

// Kind classifies what a watcher observed
type Kind int

const (
	// Initial is sent once when watching starts
	Initial Kind = iota
	// Grow means the file got larger or was touched
	Grow
	// Truncate means the file got smaller
	Truncate
	// Rotate means the path now names a different file
	Rotate
	// Missing means the file could not be stat'ed
	Missing
)

func (k Kind) String() string {
	switch k {
	case Initial:
		return "initial"
	case Grow:
		return "grow"
	case Truncate:
		return "truncate"
	case Rotate:
		return "rotate"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// Event is a change notification for one path
type Event struct {
	Path string
	Kind Kind
	Info os.FileInfo // nil when Missing
}

// Watcher produces change events for a path until ctx is done, then closes
// the channel
type Watcher interface {
	Watch(ctx context.Context, path string) <-chan Event
}

// SameFile reports whether a and b describe the same underlying file. When
// the filesystem carries no identity (in-memory filesystems) it reports true.
func SameFile(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Sys() == nil || b.Sys() == nil {
		return true
	}
	return os.SameFile(a, b)
}

// probe remembers the last stat of a path and classifies the next one
type probe struct {
	fs      afero.Fs
	path    string
	last    os.FileInfo
	missing bool
}

func (p *probe) check() (Event, bool) {
	info, err := p.fs.Stat(p.path)
	if err != nil {
		if p.missing {
			return Event{}, false
		}
		p.missing = true
		p.last = nil
		return Event{Path: p.path, Kind: Missing}, true
	}

	prev := p.last
	p.last = info
	p.missing = false

	switch {
	case prev == nil:
		return Event{Path: p.path, Kind: Grow, Info: info}, true
	case !SameFile(prev, info):
		return Event{Path: p.path, Kind: Rotate, Info: info}, true
	case info.Size() < prev.Size():
		return Event{Path: p.path, Kind: Truncate, Info: info}, true
	case info.Size() > prev.Size(), !info.ModTime().Equal(prev.ModTime()):
		return Event{Path: p.path, Kind: Grow, Info: info}, true
	default:
		return Event{}, false
	}
}

// offer delivers ev unless an event is already pending
func offer(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
	}
}

// Poller stats files at a fixed interval
type Poller struct {
	fs       afero.Fs
	interval time.Duration
}

// NewPoller creates a polling watcher
func NewPoller(fs afero.Fs, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{fs: fs, interval: interval}
}

// Watch starts polling path
func (p *Poller) Watch(ctx context.Context, path string) <-chan Event {
	ch := make(chan Event, 1)
	pr := &probe{fs: p.fs, path: path}

	go func() {
		defer close(ch)

		info, _ := pr.fs.Stat(path)
		pr.last = info
		pr.missing = info == nil
		offer(ch, Event{Path: path, Kind: Initial, Info: info})

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ev, ok := pr.check(); ok {
					offer(ch, ev)
				}
			}
		}
	}()

	return ch
}

// New creates the watcher selected by config
func New(config cfg.WatchConfiguration, fs afero.Fs) Watcher {
	interval := time.Duration(config.PollIntervalMS) * time.Millisecond
	if config.Mode == cfg.WatchNotify {
		return NewNotifier(fs, interval)
	}
	return NewPoller(fs, interval)
}
