package assemble

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/andywolf/skillctx/internal/cache"
	"github.com/andywolf/skillctx/internal/match"
	"github.com/andywolf/skillctx/internal/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapReader map[string][]byte

func (m mapReader) Read(e skills.Entry) (cache.Body, error) {
	data, ok := m[e.Path]
	if !ok {
		return cache.Body{}, &cache.ReadError{Path: e.Path, Kind: cache.ErrNotFound, Err: os.ErrNotExist}
	}
	return cache.Body{Data: data, Hash: skills.HashBytes(data)}, nil
}

func entry(root, name string) skills.Entry {
	return skills.Entry{Name: name, RootID: root, Path: "/" + root + "/" + name + "/SKILL.md"}
}

type group struct {
	root  skills.Root
	names []string
}

// fixture builds a candidate set from root groups and a reader serving bodies
// of the given size.
func fixture(size int, groups ...group) (*skills.CandidateSet, mapReader) {
	reader := mapReader{}
	var snaps []skills.Snapshot
	for _, g := range groups {
		snap := skills.Snapshot{Root: g.root}
		for _, n := range g.names {
			e := entry(g.root.ID, n)
			snap.Entries = append(snap.Entries, e)
			reader[e.Path] = bytes.Repeat([]byte("x"), size)
		}
		snaps = append(snaps, snap)
	}
	return skills.Resolve(snaps), reader
}

func matches(names ...string) map[string]match.Result {
	out := make(map[string]match.Result)
	for _, n := range names {
		out[n] = match.Result{Matched: true, Token: n}
	}
	return out
}

func TestAssemble_BudgetStopsBeforeOverflow(t *testing.T) {
	set, reader := fixture(40, group{skills.Root{ID: "a"}, []string{"one", "three", "two"}})

	res := Assemble(Input{
		Candidates: set,
		Matches:    matches("one", "two", "three"),
		MaxBytes:   100,
	}, reader)

	d := res.Diagnostics
	assert.Equal(t, []string{"one", "three"}, d.Included)
	assert.Equal(t, []string{"two"}, d.Truncated)
	assert.Equal(t, int64(80), d.BytesUsed)
	assert.Equal(t, int64(100), d.Budget)
	assert.False(t, d.Unbounded)
	assert.Equal(t, "80/100", d.Usage())
	assert.Equal(t, int64(80), res.Bytes())
}

func TestAssemble_TruncatesEverythingAfterTheStop(t *testing.T) {
	set, reader := fixture(10, group{skills.Root{ID: "a"}, []string{"a1", "a2", "a3"}})
	reader["/a/a1/SKILL.md"] = bytes.Repeat([]byte("x"), 50)

	res := Assemble(Input{Candidates: set, Matches: matches("a1", "a2", "a3"), MaxBytes: 30}, reader)

	// a2 and a3 would fit on their own, but nothing after the first overflow
	// is added.
	assert.Empty(t, res.Items)
	assert.Equal(t, []string{"a1", "a2", "a3"}, res.Diagnostics.Truncated)
	assert.Equal(t, int64(0), res.Diagnostics.BytesUsed)
}

func TestAssemble_TotalNeverExceedsBudget(t *testing.T) {
	for _, budget := range []int64{1, 7, 20, 33, 64, 99, 100, 1000} {
		t.Run(fmt.Sprint(budget), func(t *testing.T) {
			set, reader := fixture(0, group{skills.Root{ID: "a"}, []string{"s1", "s2", "s3", "s4", "s5"}})
			for i, e := range set.Entries {
				reader[e.Path] = bytes.Repeat([]byte("y"), 7*(i+1))
			}
			res := Assemble(Input{Candidates: set, Matches: matches(set.Names()...), MaxBytes: budget}, reader)

			assert.LessOrEqual(t, res.Bytes(), budget)
			assert.Equal(t, res.Bytes(), res.Diagnostics.BytesUsed)
			for _, it := range res.Items {
				assert.Equal(t, reader[it.Entry.Path], it.Body)
			}
			assert.Equal(t, len(set.Entries), len(res.Items)+len(res.Diagnostics.Truncated))
		})
	}
}

func TestAssemble_UnboundedNeverTruncates(t *testing.T) {
	set, reader := fixture(4096, group{skills.Root{ID: "a"}, []string{"a", "b", "c"}})
	res := Assemble(Input{Candidates: set, Matches: matches("a", "b", "c")}, reader)

	assert.Len(t, res.Items, 3)
	assert.Empty(t, res.Diagnostics.Truncated)
	assert.True(t, res.Diagnostics.Unbounded)
	assert.Equal(t, "12288/unbounded", res.Diagnostics.Usage())
}

func TestAssemble_PinnedUnmatchedComeFirst(t *testing.T) {
	set, reader := fixture(1, group{skills.Root{ID: "a"}, []string{"alpha", "beta", "gamma", "delta"}})

	res := Assemble(Input{
		Candidates: set,
		Matches:    matches("alpha", "gamma"),
		Pins:       map[string]bool{"gamma": true, "delta": true},
	}, reader)

	var names []string
	for _, it := range res.Items {
		names = append(names, it.Entry.Name)
	}
	assert.Equal(t, []string{"delta", "alpha", "gamma"}, names)
	assert.Equal(t, []string{"beta"}, res.Diagnostics.SkippedByFilter)
	assert.Equal(t, []string{"alpha", "gamma"}, res.MatchedNames())

	assert.True(t, res.Items[0].Pinned)
	assert.False(t, res.Items[0].Matched)
	assert.True(t, res.Items[2].Pinned)
	assert.True(t, res.Items[2].Matched)
}

func TestAssemble_PinsSurviveEmptyPrompt(t *testing.T) {
	set, reader := fixture(5, group{skills.Root{ID: "a"}, []string{"x", "y"}})
	res := Assemble(Input{Candidates: set, Pins: map[string]bool{"x": true}}, reader)

	require.Len(t, res.Items, 1)
	assert.Equal(t, "x", res.Items[0].Entry.Name)
	assert.Empty(t, res.MatchedNames())
}

func TestAssemble_NothingMatchedNothingPinned(t *testing.T) {
	set, reader := fixture(5, group{skills.Root{ID: "a"}, []string{"x", "y"}})
	res := Assemble(Input{Candidates: set}, reader)

	assert.Empty(t, res.Items)
	assert.Equal(t, []string{"x", "y"}, res.Diagnostics.SkippedByFilter)
}

func TestAssemble_ReportsSkippedSources(t *testing.T) {
	set, reader := fixture(3, group{skills.Root{ID: "main", Rank: 0}, []string{"a"}})
	res := Assemble(Input{Candidates: set, Matches: matches("a"), SkippedSources: []string{"mirror"}}, reader)

	assert.Equal(t, []string{"a"}, res.Diagnostics.Included)
	assert.Equal(t, []string{"mirror"}, res.Diagnostics.SkippedBySource)
	assert.Equal(t, 1, res.Diagnostics.Counts.SkippedBySource)
}

func TestAssemble_UnreadableEntryDoesNotStopThePass(t *testing.T) {
	set, reader := fixture(2, group{skills.Root{ID: "a"}, []string{"a", "b", "c"}})
	delete(reader, "/a/b/SKILL.md")

	res := Assemble(Input{Candidates: set, Matches: matches("a", "b", "c")}, reader)

	assert.Equal(t, []string{"a", "c"}, res.Diagnostics.Included)
	require.Len(t, res.Diagnostics.Notes, 1)
	assert.Equal(t, skills.NoteEntryUnreadable, res.Diagnostics.Notes[0].Kind)
	assert.Equal(t, "/a/b/SKILL.md", res.Diagnostics.Notes[0].Path)
}

func TestAssemble_PrenotedEntriesAreExcluded(t *testing.T) {
	set, reader := fixture(2, group{skills.Root{ID: "a"}, []string{"a", "b"}})
	note := skills.Note{Kind: skills.NoteEntryUnreadable, RootID: "a", Path: "/a/b/SKILL.md", Message: "gone"}

	res := Assemble(Input{Candidates: set, Pins: map[string]bool{"b": true}, Notes: []skills.Note{note}}, reader)

	assert.Empty(t, res.Items)
	assert.Equal(t, []string{"a"}, res.Diagnostics.SkippedByFilter)
	assert.Equal(t, []skills.Note{note}, res.Diagnostics.Notes)
}

func TestAssemble_CarriesDuplicatesAndCounts(t *testing.T) {
	set, reader := fixture(1,
		group{skills.Root{ID: "A", Rank: 0}, []string{"x"}},
		group{skills.Root{ID: "B", Rank: 1}, []string{"x"}},
	)
	res := Assemble(Input{Candidates: set, Pins: map[string]bool{"x": true}}, reader)

	require.Len(t, res.Items, 1)
	assert.Equal(t, "A", res.Items[0].Entry.RootID)
	require.Len(t, res.Diagnostics.Duplicates, 1)
	assert.Equal(t, "B", res.Diagnostics.Duplicates[0].RootID)
	assert.Equal(t, Counts{Included: 1, Duplicates: 1}, res.Diagnostics.Counts)
}

func TestAssemble_Deterministic(t *testing.T) {
	set, reader := fixture(9, group{skills.Root{ID: "a"}, []string{"c", "b", "a"}})
	in := Input{Candidates: set, Matches: matches("a", "c"), Pins: map[string]bool{"b": true}, MaxBytes: 20}

	first := Assemble(in, reader)
	second := Assemble(in, reader)
	assert.Equal(t, Render(first.Items), Render(second.Items))
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
}

func TestRender(t *testing.T) {
	items := []Item{
		{Entry: skills.Entry{Name: "x", RootID: "A"}, Body: []byte("body x\n")},
		{Entry: skills.Entry{Name: "y", RootID: "B"}, Body: []byte("body y")},
	}
	assert.Equal(t, "<!-- skill: x (A) -->\nbody x\n\n<!-- skill: y (B) -->\nbody y", Render(items))
	assert.Empty(t, Render(nil))
}

func TestDiagnostics_Summary(t *testing.T) {
	set, reader := fixture(40, group{skills.Root{ID: "a"}, []string{"p", "q", "r"}})
	res := Assemble(Input{Candidates: set, Matches: matches("p", "q", "r"), MaxBytes: 100}, reader)

	summary := res.Diagnostics.Summary()
	assert.True(t, strings.HasPrefix(summary, "<!-- skillctx diagnostics"))
	assert.Contains(t, summary, "included (2): p, q")
	assert.Contains(t, summary, "truncated (1): r")
	assert.Contains(t, summary, "bytes: 80/100")
}
