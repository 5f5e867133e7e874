// Package skills discovers skill documents under prioritized root directories
// and merges them into a single deduplicated candidate set.
package skills

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// SkillFile is the document name recognized inside each skill directory.
// Matching is case-insensitive.
const SkillFile = "SKILL.md"

// Root is a prioritized filesystem location contributing skills.
// Lower Rank wins; equal ranks are broken by configuration order.
type Root struct {
	ID       string
	Name     string
	Path     string
	Rank     int
	Mirror   bool     // secondary source, only served when cross-source inclusion is on
	Optional bool     // excluded unless a request asks for it
	FoldCase bool     // identities are lower-cased
	Ignore   []string // doublestar patterns matched against skill directory names
}

// Label returns the display name of the root, falling back to its ID.
func (r Root) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Normalize converts a skill directory name into the identity used for
// deduplication.
func (r Root) Normalize(name string) string {
	name = strings.TrimSpace(filepath.ToSlash(name))
	name = strings.Trim(path.Clean("/"+name), "/")
	if r.FoldCase {
		name = strings.ToLower(name)
	}
	return name
}

// Entry is a single discovered skill document.
type Entry struct {
	Name    string    `json:"name"`
	RootID  string    `json:"root"`
	RelPath string    `json:"rel_path"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Hash    string    `json:"hash"`
}

// NoteKind classifies a soft discovery failure.
type NoteKind string

const (
	NoteRootUnavailable NoteKind = "root_unavailable"
	NoteEntryUnreadable NoteKind = "entry_unreadable"
	NoteAmbiguous       NoteKind = "ambiguous"
	NoteUnknownRoot     NoteKind = "unknown_root"
)

// Note records a non-fatal problem observed while scanning.
type Note struct {
	Kind    NoteKind `json:"kind"`
	RootID  string   `json:"root"`
	Path    string   `json:"path"`
	Message string   `json:"message"`
}

// Snapshot is the result of scanning one root.
type Snapshot struct {
	Root    Root
	Entries []Entry
	Notes   []Note
}

// Duplicate records an entry dropped because a higher-priority root already
// provided the same identity.
type Duplicate struct {
	Name         string `json:"name"`
	RootID       string `json:"root"`
	Path         string `json:"path"`
	WinnerRootID string `json:"winner_root"`
	WinnerPath   string `json:"winner_path"`
}

// CandidateSet is the deduplicated, priority-ordered result of one discovery
// pass. It is never modified after Resolve returns it.
type CandidateSet struct {
	Roots      []Root
	Entries    []Entry
	Duplicates []Duplicate
	Notes      []Note
	ScannedAt  time.Time

	index map[string]int
	ranks map[string]int
}

// Len returns the number of entries.
func (s *CandidateSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Lookup returns the entry with the given identity.
func (s *CandidateSet) Lookup(name string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return Entry{}, false
	}
	return s.Entries[i], true
}

// Names returns entry identities in candidate order.
func (s *CandidateSet) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, e.Name)
	}
	return out
}

// Root returns the root with the given ID.
func (s *CandidateSet) Root(id string) (Root, bool) {
	if s == nil {
		return Root{}, false
	}
	for _, r := range s.Roots {
		if r.ID == id {
			return r, true
		}
	}
	return Root{}, false
}

// Position returns the 1-based resolution position of a root, or 0 when the
// root is not part of the set.
func (s *CandidateSet) Position(rootID string) int {
	if s == nil {
		return 0
	}
	return s.ranks[rootID]
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	p = strings.TrimSpace(p)
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
