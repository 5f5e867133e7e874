// Package assemble combines matched and pinned candidates into the final,
// byte-budgeted payload and reports what happened to every candidate.
package assemble

import (
	"errors"

	"github.com/andywolf/skillctx/internal/cache"
	"github.com/andywolf/skillctx/internal/match"
	"github.com/andywolf/skillctx/internal/skills"
)

// BodyReader supplies skill bodies. *cache.Content implements it.
type BodyReader interface {
	Read(entry skills.Entry) (cache.Body, error)
}

// Input is everything one assembly pass needs.
type Input struct {
	Candidates *skills.CandidateSet
	Matches    map[string]match.Result
	Pins       map[string]bool
	MaxBytes   int64 // <= 0 means unbounded
	// SkippedSources names roots left out of discovery because their source
	// is not enabled for this request.
	SkippedSources []string
	// Notes carries soft failures observed before assembly, such as entries
	// whose content could not be read for matching.
	Notes []skills.Note
}

// Item is one included skill.
type Item struct {
	Entry   skills.Entry
	Body    []byte
	Pinned  bool
	Matched bool
	Token   string
}

// Result is the assembled payload plus its diagnostics.
type Result struct {
	Items       []Item
	Diagnostics Diagnostics
}

// Assemble orders included candidates (pinned-and-unmatched first, then
// matched, each in candidate order), pulls their bodies and enforces the
// budget. Adding stops at the first body that would overflow the budget;
// that entry and everything after it are reported as truncated.
func Assemble(in Input, reader BodyReader) Result {
	set := in.Candidates
	diag := newDiagnostics(set, in.MaxBytes)
	diag.Notes = append(diag.Notes, in.Notes...)
	diag.SkippedBySource = append(diag.SkippedBySource, in.SkippedSources...)
	noted := make(map[string]bool, len(in.Notes))
	for _, n := range in.Notes {
		noted[n.Path] = true
	}

	var pinnedOnly, matched []skills.Entry
	if set != nil {
		for _, e := range set.Entries {
			if noted[e.Path] {
				continue
			}
			switch {
			case in.Matches[e.Name].Matched:
				matched = append(matched, e)
			case in.Pins[e.Name]:
				pinnedOnly = append(pinnedOnly, e)
			default:
				diag.SkippedByFilter = append(diag.SkippedByFilter, e.Name)
			}
		}
	}
	order := append(pinnedOnly, matched...)

	var res Result
	for i, e := range order {
		body, err := reader.Read(e)
		if err != nil {
			diag.Notes = append(diag.Notes, unreadableNote(e, err))
			continue
		}
		size := int64(len(body.Data))
		if !diag.Unbounded && diag.BytesUsed+size > diag.Budget {
			for _, rest := range order[i:] {
				diag.Truncated = append(diag.Truncated, rest.Name)
			}
			break
		}
		diag.BytesUsed += size
		m := in.Matches[e.Name]
		res.Items = append(res.Items, Item{
			Entry:   e,
			Body:    body.Data,
			Pinned:  in.Pins[e.Name],
			Matched: m.Matched,
			Token:   m.Token,
		})
		diag.Included = append(diag.Included, e.Name)
	}

	diag.finish()
	res.Diagnostics = diag
	return res
}

func unreadableNote(e skills.Entry, err error) skills.Note {
	msg := err.Error()
	if errors.Is(err, cache.ErrNotFound) {
		msg = "skill document disappeared: " + msg
	}
	return skills.Note{
		Kind:    skills.NoteEntryUnreadable,
		RootID:  e.RootID,
		Path:    e.Path,
		Message: msg,
	}
}

// MatchedNames returns, in inclusion order, the included identities that
// matched the prompt.
func (r Result) MatchedNames() []string {
	var out []string
	for _, it := range r.Items {
		if it.Matched {
			out = append(out, it.Entry.Name)
		}
	}
	return out
}

// Bytes returns the total size of included bodies.
func (r Result) Bytes() int64 {
	var n int64
	for _, it := range r.Items {
		n += int64(len(it.Body))
	}
	return n
}
