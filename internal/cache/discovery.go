package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andywolf/skillctx/internal/skills"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// AllRoots may be passed to Invalidate to mark every cached set stale.
const AllRoots = "*"

const defaultQueueSize = 256

// DiscoverFunc performs one full discovery pass over roots.
type DiscoverFunc func(roots []skills.Root) *skills.CandidateSet

// Discovery memoizes CandidateSets per root-set.
//
// At most one discovery pass runs per key at a time. Callers arriving while a
// pass is in flight wait for it and share its result; stale sets are never
// served. Invalidation requests are queued and applied by the cache itself
// on the next Resolve, so senders never block.
type Discovery struct {
	discover DiscoverFunc
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	records map[string]*discoveryRecord
	epochs  map[string]uint64
	global  uint64

	queue    chan string
	overflow atomic.Bool
	group    singleflight.Group

	scans atomic.Int64
	hits  atomic.Int64
}

type discoveryRecord struct {
	Record[*skills.CandidateSet]
	key    string
	epochs map[string]uint64
	global uint64
}

// DiscoveryOption configures a Discovery cache.
type DiscoveryOption func(*Discovery)

// WithClock overrides the time source.
func WithClock(now func() time.Time) DiscoveryOption {
	return func(d *Discovery) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) DiscoveryOption {
	return func(d *Discovery) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithQueueSize sets the invalidation queue capacity. When the queue is full
// further invalidations degrade to invalidating everything.
func WithQueueSize(n int) DiscoveryOption {
	return func(d *Discovery) {
		if n > 0 {
			d.queue = make(chan string, n)
		}
	}
}

// NewDiscovery creates a discovery cache. A ttl of zero disables caching.
func NewDiscovery(discover DiscoverFunc, ttl time.Duration, opts ...DiscoveryOption) *Discovery {
	d := &Discovery{
		discover: discover,
		ttl:      ttl,
		now:      time.Now,
		logger:   zap.NewNop(),
		records:  make(map[string]*discoveryRecord),
		epochs:   make(map[string]uint64),
		queue:    make(chan string, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Key identifies a root-set.
func Key(roots []skills.Root) string {
	parts := make([]string, 0, len(roots))
	for _, r := range roots {
		parts = append(parts, r.ID+"="+r.Path)
	}
	return strings.Join(parts, "\x00")
}

// Invalidate marks every cached set containing rootID stale. It never blocks
// and is idempotent.
func (d *Discovery) Invalidate(rootID string) {
	select {
	case d.queue <- rootID:
	default:
		d.overflow.Store(true)
	}
}

// Refresh marks every cached set stale.
func (d *Discovery) Refresh() {
	d.Invalidate(AllRoots)
}

// Resolve returns the CandidateSet for roots, running a discovery pass when
// the cached one is missing, expired, or invalidated. If ctx ends while
// waiting, Resolve returns ctx.Err() but the pass still completes and
// populates the cache.
func (d *Discovery) Resolve(ctx context.Context, roots []skills.Root) (*skills.CandidateSet, error) {
	key := Key(roots)

	d.mu.Lock()
	d.drainLocked()
	if rec := d.records[key]; d.validLocked(key, rec, roots) {
		d.mu.Unlock()
		d.hits.Add(1)
		return rec.Value, nil
	}
	d.mu.Unlock()

	ch := d.group.DoChan(key, func() (any, error) {
		return d.recompute(key, roots), nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*skills.CandidateSet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Discovery) recompute(key string, roots []skills.Root) *skills.CandidateSet {
	d.mu.Lock()
	d.drainLocked()
	if rec := d.records[key]; d.validLocked(key, rec, roots) {
		d.mu.Unlock()
		return rec.Value
	}
	epochs := make(map[string]uint64, len(roots))
	for _, r := range roots {
		epochs[r.ID] = d.epochs[r.ID]
	}
	global := d.global
	d.mu.Unlock()

	start := d.now()
	set := d.discover(roots)
	d.scans.Add(1)
	d.logger.Debug("discovery pass complete",
		zap.Int("roots", len(roots)),
		zap.Int("entries", set.Len()),
		zap.Int("duplicates", len(set.Duplicates)),
		zap.Duration("took", d.now().Sub(start)))

	d.mu.Lock()
	d.records[key] = &discoveryRecord{
		Record: Record[*skills.CandidateSet]{Value: set, ComputedAt: start, TTL: d.ttl},
		key:    key,
		epochs: epochs,
		global: global,
	}
	d.mu.Unlock()
	return set
}

func (d *Discovery) drainLocked() {
	if d.overflow.Swap(false) {
		d.global++
	}
	for {
		select {
		case id := <-d.queue:
			if id == AllRoots {
				d.global++
			} else {
				d.epochs[id]++
			}
		default:
			return
		}
	}
}

func (d *Discovery) validLocked(key string, rec *discoveryRecord, roots []skills.Root) bool {
	if rec == nil {
		return false
	}
	if rec.Value == nil || rec.key != key || rec.epochs == nil {
		d.logger.Warn("discarding corrupt discovery record", zap.String("key", key))
		delete(d.records, key)
		return false
	}
	if !rec.Valid(d.now()) || rec.global != d.global {
		return false
	}
	for _, r := range roots {
		if rec.epochs[r.ID] != d.epochs[r.ID] {
			return false
		}
	}
	return true
}

// Scans returns how many discovery passes have run.
func (d *Discovery) Scans() int64 {
	return d.scans.Load()
}

// Hits returns how many Resolve calls were served from cache.
func (d *Discovery) Hits() int64 {
	return d.hits.Load()
}
