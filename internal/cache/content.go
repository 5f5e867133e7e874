package cache

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andywolf/skillctx/internal/skills"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotFound reports a skill document that no longer exists.
	ErrNotFound = errors.New("skill document not found")
	// ErrIO reports any other failure reading a skill document.
	ErrIO = errors.New("skill document unreadable")
)

// ReadError is returned by Content.Read. It matches ErrNotFound or ErrIO
// with errors.Is, as well as the underlying filesystem error.
type ReadError struct {
	Path string
	Kind error
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Err)
}

func (e *ReadError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newReadError(path string, err error) *ReadError {
	kind := ErrIO
	if errors.Is(err, os.ErrNotExist) {
		kind = ErrNotFound
	}
	return &ReadError{Path: path, Kind: kind, Err: err}
}

// Body is the decoded content of one skill document. Data is shared between
// readers and must not be modified.
type Body struct {
	Data []byte
	Hash string
}

type contentRecord struct {
	Record[[]byte]
	hash    string
	size    int64
	modTime time.Time
}

// Content caches skill document bodies keyed by path and content hash.
// A lookup is served from cache only when the cached hash equals the entry's
// hash and the file's size and modification time are unchanged; anything
// else forces a re-read. Records are swapped atomically, so concurrent
// readers observe either the previous or the new body in full.
type Content struct {
	now    func() time.Time
	logger *zap.Logger

	mu      sync.RWMutex
	records map[string]*contentRecord
	group   singleflight.Group

	reads atomic.Int64
}

// NewContent creates an empty content cache.
func NewContent(logger *zap.Logger) *Content {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Content{
		now:     time.Now,
		logger:  logger,
		records: make(map[string]*contentRecord),
	}
}

// Read returns the body of entry.
func (c *Content) Read(entry skills.Entry) (Body, error) {
	info, err := os.Stat(entry.Path)
	if err != nil {
		c.Forget(entry.Path)
		return Body{}, newReadError(entry.Path, err)
	}

	c.mu.RLock()
	rec := c.records[entry.Path]
	c.mu.RUnlock()
	if c.fresh(entry, rec, info) {
		return Body{Data: rec.Value, Hash: rec.hash}, nil
	}

	v, err, _ := c.group.Do(entry.Path, func() (any, error) {
		data, err := os.ReadFile(entry.Path)
		if err != nil {
			return nil, newReadError(entry.Path, err)
		}
		c.reads.Add(1)
		next := &contentRecord{
			Record:  Record[[]byte]{Value: data, ComputedAt: c.now(), TTL: NoExpiry},
			hash:    skills.HashBytes(data),
			size:    int64(len(data)),
			modTime: info.ModTime(),
		}
		c.mu.Lock()
		c.records[entry.Path] = next
		c.mu.Unlock()
		return next, nil
	})
	if err != nil {
		c.Forget(entry.Path)
		return Body{}, err
	}
	next := v.(*contentRecord)
	if next.hash != entry.Hash {
		c.logger.Debug("skill content changed since discovery",
			zap.String("path", entry.Path),
			zap.String("root", entry.RootID))
	}
	return Body{Data: next.Value, Hash: next.hash}, nil
}

func (c *Content) fresh(entry skills.Entry, rec *contentRecord, info os.FileInfo) bool {
	if rec == nil {
		return false
	}
	if int64(len(rec.Value)) != rec.size || rec.hash == "" {
		c.logger.Warn("discarding corrupt content record", zap.String("path", entry.Path))
		c.Forget(entry.Path)
		return false
	}
	return rec.Valid(c.now()) &&
		rec.hash == entry.Hash &&
		rec.size == info.Size() &&
		rec.modTime.Equal(info.ModTime())
}

// Forget drops the cached body for path.
func (c *Content) Forget(path string) {
	c.mu.Lock()
	delete(c.records, path)
	c.mu.Unlock()
}

// Purge drops every cached body.
func (c *Content) Purge() {
	c.mu.Lock()
	c.records = make(map[string]*contentRecord)
	c.mu.Unlock()
}

// Len returns the number of cached bodies.
func (c *Content) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Reads returns how many times a document was read from disk.
func (c *Content) Reads() int64 {
	return c.reads.Load()
}
