package pins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// File names used by FileStore inside its state directory.
const (
	PinnedFile  = "pinned.json"
	AutoPinFile = "autopin.json"
	HistoryFile = "history.json"
)

// FileStore persists pin state as JSON files in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the state directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// LoadPins reads the pinned set. A missing file yields an empty set.
func (s *FileStore) LoadPins() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	if _, err := s.readJSON(PinnedFile, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SavePins writes the pinned set sorted.
func (s *FileStore) SavePins(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string{}, ids...)
	sort.Strings(out)
	return s.writeJSON(PinnedFile, out)
}

// LoadAutoPin reads the persisted auto-pin flag.
func (s *FileStore) LoadAutoPin() (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var enabled bool
	found, err := s.readJSON(AutoPinFile, &enabled)
	if err != nil {
		return false, false, err
	}
	return enabled, found, nil
}

// SaveAutoPin writes the auto-pin flag.
func (s *FileStore) SaveAutoPin(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(AutoPinFile, enabled)
}

// LoadHistory reads the history, keeping at most limit newest entries.
func (s *FileStore) LoadHistory(limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var history []HistoryEntry
	if _, err := s.readJSON(HistoryFile, &history); err != nil {
		return nil, err
	}
	return capHistory(history, limit), nil
}

// AppendHistory appends entry and drops the oldest entries beyond limit.
// An unreadable history file is replaced.
func (s *FileStore) AppendHistory(entry HistoryEntry, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var history []HistoryEntry
	if _, err := s.readJSON(HistoryFile, &history); err != nil {
		history = nil
	}
	history = capHistory(append(history, entry), limit)
	return s.writeJSON(HistoryFile, history)
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readJSON(name string, v any) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return true, nil
}

// writeJSON replaces name atomically so readers never see a partial file.
func (s *FileStore) writeJSON(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
