package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultFilename is used when the configured events path is a directory.
const DefaultFilename = "events.jsonl"

// FileSink appends one JSON object per event to a file. Each event is a
// single write under the sink's lock, so concurrent writers never interleave
// lines.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *json.Encoder
}

// ResolvePath returns the events file for a configured path: a path naming
// an existing directory gets DefaultFilename inside it.
func ResolvePath(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, DefaultFilename)
	}
	return path
}

// NewFileSink opens the events file for appending, creating it and its
// directory if needed.
func NewFileSink(path string) (*FileSink, error) {
	path = ResolvePath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	return &FileSink{path: path, file: file, enc: json.NewEncoder(file)}, nil
}

// WriteOne appends event.
func (s *FileSink) WriteOne(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("events file is closed")
	}
	if err := s.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the file. Closing twice is a no-op.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("failed to close events file: %w", err)
	}
	return nil
}

// Path returns the events file path.
func (s *FileSink) Path() string {
	return s.path
}

// Query selects events read back from a file.
type Query struct {
	Types []EventType // empty means every type
	Since time.Time   // zero means no lower bound
	Tail  int         // keep only the last Tail matches; <= 0 keeps all
}

// Match reports whether ev satisfies the type and time constraints.
func (q Query) Match(ev Event) bool {
	if !q.Since.IsZero() && ev.Timestamp.Before(q.Since) {
		return false
	}
	if len(q.Types) == 0 {
		return true
	}
	for _, t := range q.Types {
		if ev.Type == t {
			return true
		}
	}
	return false
}

// ReadEvents streams the events file and returns the events selected by q,
// oldest first. A missing file holds no events.
func ReadEvents(path string, q Query) ([]Event, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var out []Event
	dec := json.NewDecoder(file)
	for n := 1; ; n++ {
		var ev Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse event %d: %w", n, err)
		}
		if !q.Match(ev) {
			continue
		}
		out = append(out, ev)
		if q.Tail > 0 && len(out) > q.Tail {
			out = out[1:]
		}
	}
	return out, nil
}
