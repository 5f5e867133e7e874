package pins

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager owns pin state. Writes are serialized and persisted before they
// become visible; readers always get a complete snapshot.
type Manager struct {
	store  Store
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	manual   map[string]bool
	autoPin  bool
	history  []HistoryEntry
	warnings []string
}

// NewManager loads persisted state from store. Unreadable state is replaced by
// empty state and reported through Warnings rather than failing.
func NewManager(store Store, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	m := &Manager{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		manual:  make(map[string]bool),
		autoPin: cfg.AutoPinDefault,
	}

	if ids, err := store.LoadPins(); err != nil {
		m.warn("pinned skills unreadable, starting with none", err)
	} else {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				m.manual[id] = true
			}
		}
	}

	if enabled, ok, err := store.LoadAutoPin(); err != nil {
		m.warn("auto-pin flag unreadable, using default", err)
	} else if ok {
		m.autoPin = enabled
	}

	if history, err := store.LoadHistory(cfg.HistoryCap); err != nil {
		m.warn("history unreadable, starting empty", err)
	} else {
		m.history = history
	}
	return m
}

func (m *Manager) warn(msg string, err error) {
	m.warnings = append(m.warnings, fmt.Sprintf("%s: %v", msg, err))
	m.logger.Warn(msg, zap.Error(err))
}

// Warnings returns startup warnings about persisted state.
func (m *Manager) Warnings() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.warnings...)
}

// PinSet returns the current pin state.
func (m *Manager) PinSet() PinSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pinSetLocked()
}

func (m *Manager) pinSetLocked() PinSet {
	set := PinSet{
		Manual:         sortedKeys(m.manual),
		Defaults:       m.defaultsLocked(),
		Auto:           []string{},
		AutoPinEnabled: m.autoPin,
	}
	if m.autoPin {
		set.Auto = AutoPinned(m.history, m.cfg.AutoPin)
	}
	return set
}

func (m *Manager) defaultsLocked() []string {
	seen := make(map[string]bool)
	for _, id := range m.cfg.Defaults {
		if id = strings.TrimSpace(id); id != "" {
			seen[id] = true
		}
	}
	return sortedKeys(seen)
}

// Pinned returns manual and default pins.
func (m *Manager) Pinned() []string {
	set := m.PinSet()
	all := make(map[string]bool)
	for _, id := range append(set.Manual, set.Defaults...) {
		all[id] = true
	}
	return sortedKeys(all)
}

// AutoPinned returns the auto-pinned identities, empty when auto-pin is off.
func (m *Manager) AutoPinned() []string {
	return m.PinSet().Auto
}

// Pin adds ids to the manual set. exists reports whether an identity is
// provided by any root; unknown identities are reported in Result.Failed.
func (m *Manager) Pin(exists func(string) bool, ids ...string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result
	next := copySet(m.manual)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !exists(id) {
			res.Failed = append(res.Failed, TargetError{ID: id, Err: ErrNotFound})
			continue
		}
		if !next[id] {
			next[id] = true
			res.Changed = append(res.Changed, id)
		}
	}
	if err := m.commitPinsLocked(next, res.Changed); err != nil {
		return Result{}, err
	}
	res.PinSet = m.pinSetLocked()
	return res, nil
}

// Unpin removes ids from the manual set. An identity that is neither pinned
// nor provided by any root is reported in Result.Failed.
func (m *Manager) Unpin(exists func(string) bool, ids ...string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result
	next := copySet(m.manual)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if next[id] {
			delete(next, id)
			res.Changed = append(res.Changed, id)
			continue
		}
		if !exists(id) {
			res.Failed = append(res.Failed, TargetError{ID: id, Err: ErrNotFound})
		}
	}
	if err := m.commitPinsLocked(next, res.Changed); err != nil {
		return Result{}, err
	}
	res.PinSet = m.pinSetLocked()
	return res, nil
}

// UnpinAll clears the manual set.
func (m *Manager) UnpinAll() (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := Result{Changed: sortedKeys(m.manual)}
	if err := m.commitPinsLocked(map[string]bool{}, res.Changed); err != nil {
		return Result{}, err
	}
	res.PinSet = m.pinSetLocked()
	return res, nil
}

func (m *Manager) commitPinsLocked(next map[string]bool, changed []string) error {
	if len(changed) == 0 {
		return nil
	}
	if err := m.store.SavePins(sortedKeys(next)); err != nil {
		return fmt.Errorf("failed to persist pins: %w", err)
	}
	m.manual = next
	m.logger.Info("pins updated", zap.Strings("changed", changed), zap.Int("pinned", len(next)))
	return nil
}

// SetAutoPin enables or disables auto-pinning and persists the flag.
func (m *Manager) SetAutoPin(enabled bool) (PinSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SaveAutoPin(enabled); err != nil {
		return PinSet{}, fmt.Errorf("failed to persist auto-pin flag: %w", err)
	}
	m.autoPin = enabled
	m.logger.Info("auto-pin toggled", zap.Bool("enabled", enabled))
	return m.pinSetLocked(), nil
}

// RecordServed appends the identities served by one resolution to the
// history. Empty records are not stored.
func (m *Manager) RecordServed(requestID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	entry := HistoryEntry{
		TS:        at.Unix(),
		Skills:    append([]string(nil), ids...),
		RequestID: requestID,
	}
	sort.Strings(entry.Skills)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.AppendHistory(entry, m.cfg.HistoryCap); err != nil {
		return fmt.Errorf("failed to persist history: %w", err)
	}
	m.history = capHistory(append(m.history, entry), m.cfg.HistoryCap)
	return nil
}

// History returns up to n entries, most recent first.
func (m *Manager) History(n int) []HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Recent(m.history, n)
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k := range in {
		out[k] = true
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
