package tail

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ZehViking/simple-io-plugin/internal/cancellation"
)

// watcher wakes sessions early when their file changes. It watches the
// containing directories rather than the files so that removal and
// re-creation are reported too. A nil *watcher is valid and does nothing;
// sessions then rely on their poll interval alone.
type watcher struct {
	fsw *fsnotify.Watcher
	log *zap.Logger

	mu   sync.Mutex
	dirs map[string]int
	subs map[string]map[*cancellation.Signal]struct{}
	done chan struct{}
}

func newWatcher(log *zap.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &watcher{
		fsw:  fsw,
		log:  log,
		dirs: map[string]int{},
		subs: map[string]map[*cancellation.Signal]struct{}{},
		done: make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// add routes change events for path to sig.
func (w *watcher) add(path string, sig *cancellation.Signal) error {
	if w == nil {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	if w.subs[abs] == nil {
		w.subs[abs] = map[*cancellation.Signal]struct{}{}
	}
	w.subs[abs][sig] = struct{}{}
	return nil
}

func (w *watcher) remove(path string, sig *cancellation.Signal) {
	if w == nil {
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	subs, ok := w.subs[abs]
	if !ok {
		return
	}
	if _, ok := subs[sig]; !ok {
		return
	}
	delete(subs, sig)
	if len(subs) == 0 {
		delete(w.subs, abs)
	}
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		// The directory may already be gone; fsnotify drops it itself then.
		_ = w.fsw.Remove(dir)
	}
}

func (w *watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			w.notify(filepath.Clean(event.Name))

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *watcher) notify(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for sig := range w.subs[path] {
		sig.Notify()
	}
}

func (w *watcher) close() error {
	if w == nil {
		return nil
	}
	err := w.fsw.Close()
	<-w.done
	return err
}
