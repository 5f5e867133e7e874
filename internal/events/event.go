// Package events records served resolutions and pin changes as JSONL for
// later analysis.
package events

import (
	"time"
)

// EventType identifies the category of an event.
type EventType string

const (
	// EventResolve is a served resolution.
	EventResolve EventType = "resolve"
	// EventPin is a change to the manual pin set or the auto-pin flag.
	EventPin EventType = "pin"
	// EventInvalidate is a root marked stale by a watcher or refresh.
	EventInvalidate EventType = "invalidate"
)

// Event is one line of the events file.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Type      EventType `json:"type"`

	// Tokens are the prompt tokens used for matching.
	Tokens []string `json:"tokens,omitempty"`
	// Included lists served skills in inclusion order.
	Included []string `json:"included,omitempty"`
	// Truncated lists skills dropped by the byte budget.
	Truncated []string `json:"truncated,omitempty"`

	BytesUsed int64 `json:"bytes_used,omitempty"`
	Budget    int64 `json:"budget,omitempty"`

	// Skills are the identities affected by a pin event.
	Skills []string `json:"skills,omitempty"`
	// RootID is the root affected by an invalidate event.
	RootID string `json:"root,omitempty"`

	Summary string `json:"summary,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	WriteOne(event Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) WriteOne(Event) error { return nil }
func (Nop) Close() error         { return nil }
