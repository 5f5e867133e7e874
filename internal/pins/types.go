// Package pins tracks manually pinned skills, the served-skill history, and
// the auto-pin set derived from it.
package pins

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a pin target that no configured root provides.
var ErrNotFound = errors.New("skill not found in any root")

// HistoryEntry records the skills served by one resolution.
type HistoryEntry struct {
	TS        int64    `json:"ts"`
	Skills    []string `json:"skills"`
	RequestID string   `json:"request_id,omitempty"`
}

// PinSet is a snapshot of pin state.
type PinSet struct {
	Manual         []string `json:"manual"`
	Defaults       []string `json:"defaults,omitempty"`
	Auto           []string `json:"auto"`
	AutoPinEnabled bool     `json:"auto_pin_enabled"`
}

// All returns manual, default and auto pins as a set.
func (p PinSet) All() map[string]bool {
	out := make(map[string]bool, len(p.Manual)+len(p.Defaults)+len(p.Auto))
	for _, group := range [][]string{p.Manual, p.Defaults, p.Auto} {
		for _, id := range group {
			out[id] = true
		}
	}
	return out
}

// TargetError is a per-identity failure of a pin or unpin operation.
type TargetError struct {
	ID  string
	Err error
}

func (e TargetError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e TargetError) Unwrap() error {
	return e.Err
}

// Result is returned by pin and unpin operations. Failures for individual
// identities do not abort the batch.
type Result struct {
	PinSet  PinSet
	Changed []string
	Failed  []TargetError
}

// Config controls history retention and the auto-pin heuristic.
type Config struct {
	HistoryCap     int
	AutoPinDefault bool
	Defaults       []string
	AutoPin        AutoPinOptions
}

const (
	DefaultHistoryCap     = 50
	DefaultAutoPinCount   = 3
	DefaultAutoPinWindow  = 5
	DefaultAutoPinMinHits = 2
)

// Store persists pin state. Implementations enforce the history cap on write.
type Store interface {
	LoadPins() ([]string, error)
	SavePins(ids []string) error
	// LoadAutoPin returns ok=false when no flag has been persisted yet.
	LoadAutoPin() (enabled bool, ok bool, err error)
	SaveAutoPin(enabled bool) error
	LoadHistory(limit int) ([]HistoryEntry, error)
	AppendHistory(entry HistoryEntry, limit int) error
	Close() error
}
