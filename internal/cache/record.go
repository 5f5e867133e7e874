// Package cache memoizes discovery passes and skill document bodies.
package cache

import "time"

// NoExpiry marks a record that stays valid until it is explicitly replaced.
const NoExpiry time.Duration = -1

// Record is a cached value together with the time it was computed and the
// TTL governing its staleness. Records are replaced wholesale, never mutated.
type Record[V any] struct {
	Value      V
	ComputedAt time.Time
	TTL        time.Duration
}

// Valid reports whether the record is still fresh at now. A zero TTL is never
// valid, which disables caching.
func (r *Record[V]) Valid(now time.Time) bool {
	if r == nil {
		return false
	}
	if r.TTL == NoExpiry {
		return true
	}
	return now.Sub(r.ComputedAt) < r.TTL
}
