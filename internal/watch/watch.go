// Package watch turns filesystem events under skill roots into root
// invalidations. It only reports root ids; it never touches caches itself.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andywolf/skillctx/internal/skills"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a root must be quiet before it is reported.
const DefaultDebounce = 250 * time.Millisecond

// Options tunes a Watcher.
type Options struct {
	Debounce time.Duration
	Logger   *zap.Logger
	// OnChange, if set, is called after a root has been invalidated.
	OnChange func(rootID string)
}

// Stats counts watcher activity.
type Stats struct {
	Events        int
	Invalidations int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher watches every root directory and the skill directories directly
// beneath it. Bursts of events for one root are coalesced into a single call
// to the invalidate function once the root has been quiet for the debounce
// interval.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	roots       []skills.Root
	invalidate  func(rootID string)
	onChange    func(rootID string)
	logger      *zap.Logger
	debounceDur time.Duration
	pending     map[string]time.Time
	watched     map[string]string // directory -> root id
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// New creates a watcher over roots that reports changed roots to invalidate.
func New(roots []skills.Root, invalidate func(rootID string), opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Watcher{
		watcher:     fw,
		roots:       append([]skills.Root(nil), roots...),
		invalidate:  invalidate,
		onChange:    opts.OnChange,
		logger:      opts.Logger,
		debounceDur: opts.Debounce,
		pending:     make(map[string]time.Time),
		watched:     make(map[string]string),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start adds watches and begins processing events in a goroutine. Roots that
// do not exist are skipped; TTL expiry still picks them up once created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	for _, r := range w.roots {
		w.addRootLocked(r)
	}
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("failed to close watcher", zap.Error(err))
	}
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Watched returns the number of watched directories.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

func (w *Watcher) addRootLocked(r skills.Root) {
	if err := w.addDirLocked(r.Path, r.ID); err != nil {
		w.logger.Warn("root not watched", zap.String("root", r.ID), zap.String("path", r.Path), zap.Error(err))
		return
	}
	entries, err := os.ReadDir(r.Path)
	if err != nil {
		return
	}
	for _, de := range entries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		sub := filepath.Join(r.Path, de.Name())
		if info, err := os.Stat(sub); err == nil && info.IsDir() {
			_ = w.addDirLocked(sub, r.ID)
		}
	}
	w.logger.Debug("watching root", zap.String("root", r.ID), zap.String("path", r.Path))
}

func (w *Watcher) addDirLocked(dir, rootID string) error {
	if _, ok := w.watched[dir]; ok {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = rootID
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	rootID, ok := w.rootForLocked(event.Name)
	if !ok {
		return
	}
	now := time.Now()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = now
	w.pending[rootID] = now

	// a new skill directory needs its own watch to see its SKILL.md change
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if _, isRoot := w.rootByPathLocked(filepath.Dir(event.Name)); isRoot {
				_ = w.addDirLocked(event.Name, rootID)
			}
		}
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if _, watched := w.watched[event.Name]; watched {
			delete(w.watched, event.Name)
		}
	}
}

// rootForLocked maps a path to the root whose watched directory contains it.
func (w *Watcher) rootForLocked(name string) (string, bool) {
	if id, ok := w.watched[name]; ok {
		return id, true
	}
	id, ok := w.watched[filepath.Dir(name)]
	return id, ok
}

func (w *Watcher) rootByPathLocked(dir string) (string, bool) {
	for _, r := range w.roots {
		if filepath.Clean(r.Path) == filepath.Clean(dir) {
			return r.ID, true
		}
	}
	return "", false
}

// flush reports roots that have been quiet for the debounce interval.
func (w *Watcher) flush() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for id, at := range w.pending {
		if now.Sub(at) >= w.debounceDur {
			ready = append(ready, id)
			delete(w.pending, id)
		}
	}
	w.stats.Invalidations += len(ready)
	w.mu.Unlock()

	for _, id := range ready {
		w.logger.Debug("root changed", zap.String("root", id))
		w.invalidate(id)
		if w.onChange != nil {
			w.onChange(id)
		}
	}
}
