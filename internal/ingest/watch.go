package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/parseltongue/internal/logging"
	"github.com/dusk-indust/parseltongue/internal/parse"
)

// DefaultDebounce is the quiet period after the last change before a batch
// is handed to the callback.
const DefaultDebounce = 500 * time.Millisecond

// ChangeHandler receives the repository-relative paths changed during one
// debounce window, sorted. An error is logged; watching continues.
type ChangeHandler func(ctx context.Context, paths []string) error

// Watcher follows a directory tree and reports changes to supported source
// files in debounced batches.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   map[string]bool
	handler  ChangeHandler
	logger   logrus.FieldLogger
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnoreDirs skips directories with any of the given base names.
// Hidden directories are always skipped.
func WithIgnoreDirs(dirs ...string) WatchOption {
	return func(w *Watcher) {
		for _, d := range dirs {
			w.ignore[d] = true
		}
	}
}

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(l logrus.FieldLogger) WatchOption {
	return func(w *Watcher) { w.logger = logging.OrDiscard(l) }
}

// NewWatcher returns a watcher for root calling h per batch.
func NewWatcher(root string, h ChangeHandler, opts ...WatchOption) *Watcher {
	w := &Watcher{
		root:     root,
		debounce: DefaultDebounce,
		ignore:   make(map[string]bool),
		handler:  h,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. Changes still pending when ctx ends are
// dropped.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.root); err != nil {
		return err
	}
	w.logger.WithField("root", w.root).Info("watching for changes")

	pending := make(map[string]bool)
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(fw, ev.Name); err != nil {
						w.logger.WithError(err).WithField("dir", ev.Name).Warn("cannot watch new directory")
					}
					continue
				}
			}
			rel, ok := w.relevant(ev.Name)
			if !ok {
				continue
			}
			pending[rel] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("file watcher error")

		case <-timerC:
			timer, timerC = nil, nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			w.logger.WithField("files", len(paths)).Debug("change batch ready")
			if err := w.handler(ctx, paths); err != nil {
				w.logger.WithError(err).Warn("change handler failed")
			}
		}
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != w.root && w.skip(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) skip(name string) bool {
	return w.ignore[name] || (strings.HasPrefix(name, ".") && name != ".")
}

// relevant maps an event path to its repository-relative form when it is a
// supported source file outside ignored directories.
func (w *Watcher) relevant(p string) (string, bool) {
	if _, ok := parse.LanguageForPath(p); !ok {
		return "", false
	}
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return "", false
	}
	dirs := strings.Split(rel, "/")
	for _, d := range dirs[:len(dirs)-1] {
		if w.skip(d) {
			return "", false
		}
	}
	return rel, true
}
