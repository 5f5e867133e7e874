// Package engine is the long-lived owner of every cache and of pin state. It
// turns a prompt into the ordered, budgeted set of skill documents to serve.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andywolf/skillctx/internal/cache"
	"github.com/andywolf/skillctx/internal/events"
	"github.com/andywolf/skillctx/internal/match"
	"github.com/andywolf/skillctx/internal/pins"
	"github.com/andywolf/skillctx/internal/skills"
	"github.com/andywolf/skillctx/internal/watch"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoRoots is returned when a request leaves no root to discover from.
var ErrNoRoots = errors.New("no usable skill roots")

// Options configures an Engine.
type Options struct {
	Roots         []skills.Root
	TTL           time.Duration
	MaxBytes      int64
	PrefixWindow  int
	MinTokenLen   int
	IncludeMirror bool
	Pins          pins.Config

	Logger *zap.Logger
	Events events.Sink
	Clock  func() time.Time
	// Discover replaces the filesystem discovery pass; tests use it to count
	// scans.
	Discover cache.DiscoverFunc
}

// Engine serves resolutions. It is safe for concurrent use.
type Engine struct {
	opts      Options
	roots     []skills.Root
	logger    *zap.Logger
	events    events.Sink
	now       func() time.Time
	discovery *cache.Discovery
	content   *cache.Content
	pins      *pins.Manager
	store     pins.Store

	mu      sync.Mutex
	watcher *watch.Watcher
}

// New builds an engine over opts.Roots. Persisted pin state is loaded from
// store; unreadable state is reported by Warnings, not returned as an error.
func New(opts Options, store pins.Store) (*Engine, error) {
	if len(opts.Roots) == 0 {
		return nil, ErrNoRoots
	}
	seen := make(map[string]bool, len(opts.Roots))
	for _, r := range opts.Roots {
		if r.ID == "" || r.ID == cache.AllRoots {
			return nil, fmt.Errorf("invalid root id %q", r.ID)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate root id %q", r.ID)
		}
		seen[r.ID] = true
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Discover == nil {
		opts.Discover = skills.Discover
	}
	if opts.MinTokenLen <= 0 {
		opts.MinTokenLen = match.DefaultMinTokenLen
	}
	if opts.PrefixWindow <= 0 {
		opts.PrefixWindow = match.DefaultPrefixWindow
	}

	e := &Engine{
		opts:   opts,
		roots:  skills.OrderRoots(opts.Roots),
		logger: opts.Logger,
		events: opts.Events,
		now:    opts.Clock,
		discovery: cache.NewDiscovery(opts.Discover, opts.TTL,
			cache.WithClock(opts.Clock),
			cache.WithLogger(opts.Logger.Named("discovery"))),
		content: cache.NewContent(opts.Logger.Named("content")),
		pins:    pins.NewManager(store, opts.Pins, opts.Logger.Named("pins")),
		store:   store,
	}
	return e, nil
}

// Roots returns the configured roots in priority order.
func (e *Engine) Roots() []skills.Root {
	return append([]skills.Root(nil), e.roots...)
}

// Warnings returns startup warnings about persisted state.
func (e *Engine) Warnings() []string {
	return e.pins.Warnings()
}

// Invalidate marks the cached candidate sets containing rootID stale. It
// never blocks.
func (e *Engine) Invalidate(rootID string) {
	e.discovery.Invalidate(rootID)
	e.emit(events.Event{Type: events.EventInvalidate, RootID: rootID})
}

// Refresh marks every cached candidate set stale and drops cached bodies.
func (e *Engine) Refresh() {
	e.discovery.Refresh()
	e.content.Purge()
	e.emit(events.Event{Type: events.EventInvalidate, RootID: cache.AllRoots})
}

// Candidates returns the candidate set over every configured root, optional
// ones included.
func (e *Engine) Candidates(ctx context.Context) (*skills.CandidateSet, error) {
	return e.discovery.Resolve(ctx, e.roots)
}

// Stats reports cache counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Scans:        e.discovery.Scans(),
		Hits:         e.discovery.Hits(),
		ContentReads: e.content.Reads(),
		CachedBodies: e.content.Len(),
	}
}

// Stats are cache counters.
type Stats struct {
	Scans        int64 `json:"scans"`
	Hits         int64 `json:"hits"`
	ContentReads int64 `json:"content_reads"`
	CachedBodies int   `json:"cached_bodies"`
}

// Watch starts a file watcher over the configured roots whose events
// invalidate the matching root. The watcher is stopped by Close.
func (e *Engine) Watch(ctx context.Context, opts watch.Options) (*watch.Watcher, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil {
		return e.watcher, nil
	}
	if opts.Logger == nil {
		opts.Logger = e.logger.Named("watch")
	}
	w, err := watch.New(e.roots, e.Invalidate, opts)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	e.watcher = w
	return w, nil
}

// Close stops the watcher and releases persisted state and the events sink.
func (e *Engine) Close() error {
	e.mu.Lock()
	w := e.watcher
	e.watcher = nil
	e.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	return errors.Join(e.store.Close(), e.events.Close())
}

func (e *Engine) emit(ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	if err := e.events.WriteOne(ev); err != nil {
		e.logger.Warn("failed to write event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func newRequestID() string {
	return uuid.NewString()
}
