package assemble

import (
	"fmt"
	"strings"

	"github.com/andywolf/skillctx/internal/skills"
)

// Counts summarizes Diagnostics.
type Counts struct {
	Included        int `json:"included"`
	SkippedByFilter int `json:"skipped_by_filter"`
	SkippedBySource int `json:"skipped_by_source"`
	Duplicates      int `json:"duplicates"`
	Truncated       int `json:"truncated"`
	Notes           int `json:"notes"`
}

// Diagnostics describes the fate of every candidate in one assembly pass.
type Diagnostics struct {
	Included        []string           `json:"included"`
	SkippedByFilter []string           `json:"skipped_by_filter"`
	// SkippedBySource lists mirror roots not consulted for this request.
	SkippedBySource []string           `json:"skipped_by_source"`
	Duplicates      []skills.Duplicate `json:"duplicates"`
	Truncated       []string           `json:"truncated"`
	Notes           []skills.Note      `json:"notes"`
	BytesUsed       int64              `json:"bytes_used"`
	Budget          int64              `json:"budget"`
	Unbounded       bool               `json:"unbounded"`
	Counts          Counts             `json:"counts"`
}

func newDiagnostics(set *skills.CandidateSet, maxBytes int64) Diagnostics {
	d := Diagnostics{
		Included:        []string{},
		SkippedByFilter: []string{},
		SkippedBySource: []string{},
		Duplicates:      []skills.Duplicate{},
		Truncated:       []string{},
		Notes:           []skills.Note{},
		Budget:          maxBytes,
		Unbounded:       maxBytes <= 0,
	}
	if d.Unbounded {
		d.Budget = 0
	}
	if set != nil {
		d.Duplicates = append(d.Duplicates, set.Duplicates...)
		d.Notes = append(d.Notes, set.Notes...)
	}
	return d
}

func (d *Diagnostics) finish() {
	d.Counts = Counts{
		Included:        len(d.Included),
		SkippedByFilter: len(d.SkippedByFilter),
		SkippedBySource: len(d.SkippedBySource),
		Duplicates:      len(d.Duplicates),
		Truncated:       len(d.Truncated),
		Notes:           len(d.Notes),
	}
}

// Usage formats the byte total against the budget, e.g. "80/100" or
// "80/unbounded".
func (d Diagnostics) Usage() string {
	if d.Unbounded {
		return fmt.Sprintf("%d/unbounded", d.BytesUsed)
	}
	return fmt.Sprintf("%d/%d", d.BytesUsed, d.Budget)
}

// Summary renders a compact single-comment summary suitable for appending to
// the payload.
func (d Diagnostics) Summary() string {
	var b strings.Builder
	b.WriteString("<!-- skillctx diagnostics\n")
	fmt.Fprintf(&b, "included (%d): %s\n", len(d.Included), joinOrNone(d.Included))
	fmt.Fprintf(&b, "skipped by filter (%d): %s\n", len(d.SkippedByFilter), joinOrNone(d.SkippedByFilter))
	if len(d.SkippedBySource) > 0 {
		fmt.Fprintf(&b, "skipped by source (%d): %s\n", len(d.SkippedBySource), joinOrNone(d.SkippedBySource))
	}
	for _, dup := range d.Duplicates {
		fmt.Fprintf(&b, "duplicate: %s from %s (kept %s)\n", dup.Name, dup.RootID, dup.WinnerRootID)
	}
	fmt.Fprintf(&b, "truncated (%d): %s\n", len(d.Truncated), joinOrNone(d.Truncated))
	for _, n := range d.Notes {
		fmt.Fprintf(&b, "note: %s %s: %s\n", n.Kind, n.Path, n.Message)
	}
	fmt.Fprintf(&b, "bytes: %s\n", d.Usage())
	b.WriteString("-->")
	return b.String()
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
