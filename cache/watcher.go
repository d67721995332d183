package cache

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Skryldev/imgconv/core"
)

// Invalidator drops cached entries of a source.  *Cache implements it.
type Invalidator interface {
	Invalidate(source string) int
}

// Watcher invalidates a source in the cache whenever its file changes on
// disk.  It watches parent directories so editors that replace files by
// rename are noticed too.
type Watcher struct {
	fsw    *fsnotify.Watcher
	target Invalidator
	logger core.Logger
	notify func(path string)

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching.  Call Close to stop.
func NewWatcher(target Invalidator, logger core.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = core.NopLogger{}
	}
	w := &Watcher{
		fsw:    fsw,
		target: target,
		logger: logger,
		files:  make(map[string]struct{}),
		dirs:   make(map[string]int),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// OnInvalidate registers fn to be called after a path was invalidated.
// Must be called before the first Add.
func (w *Watcher) OnInvalidate(fn func(path string)) { w.notify = fn }

// Add starts tracking path.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; ok {
		return nil
	}
	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[abs] = struct{}{}
	return nil
}

// Remove stops tracking path.
func (w *Watcher) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; !ok {
		return nil
	}
	delete(w.files, abs)
	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		return w.fsw.Remove(dir)
	}
	return nil
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("cache.watcher", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	path := filepath.Clean(ev.Name)
	w.mu.Lock()
	_, tracked := w.files[path]
	w.mu.Unlock()
	if !tracked {
		return
	}
	n := w.target.Invalidate(path)
	w.logger.Debug("cache.invalidate", "path", path, "op", ev.Op.String(), "entries", n)
	if w.notify != nil {
		w.notify(path)
	}
}
