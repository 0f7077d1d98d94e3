package bootconfig

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change reports a detected edit of the watched bootstrap file.
type Change struct {
	Config           *ProcessConfig
	ChangedAt        time.Time
	PreviousChecksum string
}

// Watcher watches one bootstrap config file for external edits and
// emits a Change whenever the reloaded content's checksum differs from
// the last seen one.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu         sync.Mutex
	isWatching bool
}

// NewWatcher creates a Watcher bound to path; path need not exist yet.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, watcher: w}, nil
}

// Watch starts watching the directory containing the config file
// (watching the directory, not the file, survives editors that replace
// the file via rename-on-save) and streams Changes until ctx is done or
// Stop is called.
func (w *Watcher) Watch(ctx context.Context) (<-chan Change, <-chan error) {
	changes := make(chan Change, 10)
	errs := make(chan error, 10)

	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		close(changes)
		close(errs)
		return changes, errs
	}
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Unlock()
		errs <- err
		close(changes)
		close(errs)
		return changes, errs
	}
	w.isWatching = true
	w.mu.Unlock()

	go func() {
		defer close(changes)
		defer close(errs)

		var last *ProcessConfig
		for {
			select {
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path, nil)
				if err != nil {
					errs <- err
					continue
				}
				if last != nil && last.Checksum == cfg.Checksum {
					continue
				}
				var prevSum string
				if last != nil {
					prevSum = last.Checksum
				}
				changes <- Change{Config: cfg, ChangedAt: time.Now(), PreviousChecksum: prevSum}
				last = cfg
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()

	return changes, errs
}

// Stop releases the underlying filesystem watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isWatching {
		return nil
	}
	w.isWatching = false
	return w.watcher.Close()
}
