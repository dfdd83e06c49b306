package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay absorbs the burst of filesystem events editors produce
// for a single save.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	fsw    *fsnotify.Watcher
	doneCh chan struct{}
}

// Watch reloads path whenever it is written or recreated and hands the
// result to onChange. A failed reload is delivered with a nil config and
// the error; the previous configuration stays in effect.
func Watch(path string, onChange func(*Config, error)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory so replace-by-rename saves are still seen.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, doneCh: make(chan struct{})}
	go w.run(abs, onChange)
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) run(path string, onChange func(*Config, error)) {
	defer close(w.doneCh)

	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				onChange(Load(path))
			})
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
