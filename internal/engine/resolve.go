package engine

import (
	"context"
	"strings"

	"github.com/andywolf/skillctx/internal/assemble"
	"github.com/andywolf/skillctx/internal/events"
	"github.com/andywolf/skillctx/internal/match"
	"github.com/andywolf/skillctx/internal/skills"
	"go.uber.org/zap"
)

// Request is one resolution request.
type Request struct {
	Prompt string
	// MaxBytes overrides the configured budget when set; <= 0 means unbounded.
	MaxBytes *int64
	Diagnose bool
	// IncludeRoots enables optional and mirror roots for this call only.
	// ExcludeRoots drops roots for this call only.
	IncludeRoots []string
	ExcludeRoots []string
}

// Item is one served skill.
type Item struct {
	Name    string `json:"name"`
	Root    string `json:"root"`
	Path    string `json:"path"`
	Body    string `json:"body"`
	Pinned  bool   `json:"pinned"`
	Matched bool   `json:"matched"`
}

// Response is the result of Resolve. Diagnostics is set only when the
// request asked for it.
type Response struct {
	RequestID   string                `json:"request_id"`
	Items       []Item                `json:"items"`
	BytesUsed   int64                 `json:"bytes_used"`
	Diagnostics *assemble.Diagnostics `json:"diagnostics,omitempty"`

	items []assemble.Item
}

// Names returns the served identities in order.
func (r *Response) Names() []string {
	out := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, it.Name)
	}
	return out
}

// Render returns the payload text: the served bodies followed, when
// diagnostics were requested, by their summary.
func (r *Response) Render() string {
	out := assemble.Render(r.items)
	if r.Diagnostics == nil {
		return out
	}
	if out == "" {
		return r.Diagnostics.Summary()
	}
	return out + "\n\n" + r.Diagnostics.Summary()
}

// Resolve discovers candidates over the active roots, matches them against
// the prompt, merges pins and assembles the budgeted payload. Identities
// served because they matched the prompt are appended to history once the
// payload is assembled.
func (e *Engine) Resolve(ctx context.Context, req Request) (*Response, error) {
	roots, mirrors, rootNotes := e.activeRoots(req)
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}

	set, err := e.discovery.Resolve(ctx, roots)
	if err != nil {
		return nil, err
	}

	tokens := match.Tokenize(req.Prompt, e.opts.MinTokenLen)
	matches, readNotes := e.match(set, tokens)

	budget := e.opts.MaxBytes
	if req.MaxBytes != nil {
		budget = *req.MaxBytes
	}

	pinned := make(map[string]bool)
	for id := range e.pins.PinSet().All() {
		if _, ok := set.Lookup(id); ok {
			pinned[id] = true
		}
	}

	res := assemble.Assemble(assemble.Input{
		Candidates:     set,
		Matches:        matches,
		Pins:           pinned,
		MaxBytes:       budget,
		SkippedSources: mirrors,
		Notes:          append(rootNotes, readNotes...),
	}, e.content)

	id := newRequestID()
	served := res.MatchedNames()
	if err := e.pins.RecordServed(id, served, e.now()); err != nil {
		e.logger.Warn("failed to record history", zap.String("request_id", id), zap.Error(err))
	}

	d := res.Diagnostics
	e.logger.Debug("resolution served",
		zap.String("request_id", id),
		zap.Int("tokens", len(tokens)),
		zap.Int("included", len(d.Included)),
		zap.Int("truncated", len(d.Truncated)),
		zap.String("bytes", d.Usage()))
	e.emit(events.Event{
		RequestID: id,
		Type:      events.EventResolve,
		Tokens:    tokens.Sorted(),
		Included:  d.Included,
		Truncated: d.Truncated,
		BytesUsed: d.BytesUsed,
		Budget:    d.Budget,
	})

	resp := &Response{
		RequestID: id,
		Items:     make([]Item, 0, len(res.Items)),
		BytesUsed: d.BytesUsed,
		items:     res.Items,
	}
	for _, it := range res.Items {
		resp.Items = append(resp.Items, Item{
			Name:    it.Entry.Name,
			Root:    it.Entry.RootID,
			Path:    it.Entry.Path,
			Body:    string(it.Body),
			Pinned:  it.Pinned,
			Matched: it.Matched,
		})
	}
	if req.Diagnose {
		resp.Diagnostics = &d
	}
	return resp, nil
}

// activeRoots applies the per-request include/exclude lists. Optional roots
// only take part when included; mirror roots when included or when mirrors
// are enabled. Left-out mirror roots are returned separately so they can be
// reported as skipped by source. Discovery only sees servable roots, so a
// mirror never shadows a copy that would be served. Unknown ids produce
// notes.
func (e *Engine) activeRoots(req Request) ([]skills.Root, []string, []skills.Note) {
	known := make(map[string]bool, len(e.roots))
	for _, r := range e.roots {
		known[r.ID] = true
	}
	var notes []skills.Note
	include := make(map[string]bool)
	exclude := make(map[string]bool)
	for _, list := range []struct {
		ids []string
		set map[string]bool
	}{{req.IncludeRoots, include}, {req.ExcludeRoots, exclude}} {
		for _, id := range list.ids {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if !known[id] {
				notes = append(notes, skills.Note{Kind: skills.NoteUnknownRoot, RootID: id, Message: "no configured root with this id"})
				continue
			}
			list.set[id] = true
		}
	}

	var out []skills.Root
	var mirrors []string
	for _, r := range e.roots {
		if exclude[r.ID] {
			continue
		}
		if r.Optional && !include[r.ID] {
			continue
		}
		if r.Mirror && !e.opts.IncludeMirror && !include[r.ID] {
			mirrors = append(mirrors, r.ID)
			continue
		}
		out = append(out, r)
	}
	return out, mirrors, notes
}

// match reads each candidate's prefix through the content cache and matches
// it against tokens. An empty token set matches nothing and reads nothing.
// A body whose hash differs from the discovered one means the candidate set
// is stale, so its root is invalidated for the next request.
func (e *Engine) match(set *skills.CandidateSet, tokens match.Tokens) (map[string]match.Result, []skills.Note) {
	out := make(map[string]match.Result)
	if tokens.Empty() {
		return out, nil
	}
	var notes []skills.Note
	stale := make(map[string]bool)
	for _, entry := range set.Entries {
		if r := match.Match(tokens, entry.Name, nil); r.Matched {
			out[entry.Name] = r
			continue
		}
		body, err := e.content.Read(entry)
		if err != nil {
			e.logger.Warn("skill unreadable", zap.String("path", entry.Path), zap.Error(err))
			notes = append(notes, skills.Note{
				Kind:    skills.NoteEntryUnreadable,
				RootID:  entry.RootID,
				Path:    entry.Path,
				Message: err.Error(),
			})
			stale[entry.RootID] = true
			continue
		}
		if body.Hash != entry.Hash {
			stale[entry.RootID] = true
		}
		if r := match.Match(tokens, entry.Name, match.Prefix(body.Data, e.opts.PrefixWindow)); r.Matched {
			out[entry.Name] = r
		}
	}
	for id := range stale {
		e.discovery.Invalidate(id)
	}
	return out, notes
}
