package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Notifier reacts to OS file notifications on the file's directory and keeps
// polling as a fallback for filesystems that do not deliver them (NFS, some
// container mounts).
type Notifier struct {
	fs       afero.Fs
	interval time.Duration
}

// NewNotifier creates an fsnotify-backed watcher
func NewNotifier(fs afero.Fs, fallbackInterval time.Duration) *Notifier {
	if fallbackInterval <= 0 {
		fallbackInterval = time.Second
	}
	return &Notifier{fs: fs, interval: fallbackInterval}
}

// Watch subscribes to the parent directory of path. Watching the directory
// instead of the file keeps notifications flowing across rotation.
func (n *Notifier) Watch(ctx context.Context, path string) <-chan Event {
	ch := make(chan Event, 1)
	path = filepath.Clean(path)
	pr := &probe{fs: n.fs, path: path}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("File notifications unavailable, polling only")
		fsw = nil
	} else if err := fsw.Add(filepath.Dir(path)); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Cannot watch directory, polling only")
		fsw.Close()
		fsw = nil
	}

	go func() {
		defer close(ch)

		var events chan fsnotify.Event
		var errs chan error
		if fsw != nil {
			defer fsw.Close()
			events = fsw.Events
			errs = fsw.Errors
		}

		info, _ := pr.fs.Stat(path)
		pr.last = info
		pr.missing = info == nil
		offer(ch, Event{Path: path, Kind: Initial, Info: info})

		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
					continue
				}
				if e, ok := pr.check(); ok {
					offer(ch, e)
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				log.Warn().Err(err).Str("file", path).Msg("File watcher error")
			case <-ticker.C:
				if e, ok := pr.check(); ok {
					offer(ch, e)
				}
			}
		}
	}()

	return ch
}
