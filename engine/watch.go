package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchSettingsFile watches path (a domains/settings XML file, in the
// shape xmlbinding.ExportSettings writes) for external edits and calls
// ImportDomains whenever it changes, generalizing bootconfig.Watcher's
// hot-reload of the process's own bootstrap file to the engine's
// domain settings. Reload errors (a bad checksum, malformed XML) are
// sent on the returned channel rather than aborting the watch; the
// live domain state is left untouched on any failed reload, same
// all-or-nothing guarantee ImportDomains gives a direct caller.
func (e *Engine) WatchSettingsFile(ctx context.Context, path string) (<-chan error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	errs := make(chan error, 10)
	go func() {
		defer close(errs)
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := e.reloadSettingsFile(path); err != nil {
					errs <- err
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return errs, nil
}

func (e *Engine) reloadSettingsFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return e.ImportDomains(f)
}
