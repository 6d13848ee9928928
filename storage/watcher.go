package storage

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches apps_root for externally-dropped sidecar manifests
// (".manifest.json" files placed next to a binary outside of a supervisor
// install call) and reports them on Events so a supervisor can pick them up
// without a restart. It is an opt-in convenience, off by default.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan string

	closeOnce sync.Once
}

// NewWatcher starts watching root for file creation/write events.
func NewWatcher(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, events: make(chan string, 16)}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				close(w.events)
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			select {
			case w.events <- ev.Name:
			default:
				Logger().Warn("dropped apps_root watch event, channel full", zap.String("path", ev.Name))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			Logger().Warn("apps_root watcher error", zap.Error(err))
		}
	}
}

// Events yields the path of every created/modified file under the watched
// root.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
	})
	return err
}
