package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andywolf/skillctx/internal/events"
	"github.com/andywolf/skillctx/internal/pins"
	"github.com/andywolf/skillctx/internal/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func writeSkill(t *testing.T, root, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, name, skills.SkillFile), []byte(body), 0o644))
}

type harness struct {
	engine *Engine
	scans  *atomic.Int64
	clock  *clock
	state  string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		scans: &atomic.Int64{},
		clock: &clock{now: time.Unix(1_700_000_000, 0)},
		state: t.TempDir(),
	}
	if opts.TTL == 0 {
		opts.TTL = time.Minute
	}
	opts.Clock = h.clock.Now
	opts.Discover = func(roots []skills.Root) *skills.CandidateSet {
		h.scans.Add(1)
		return skills.Discover(roots)
	}
	e, err := New(opts, pins.NewFileStore(h.state))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	h.engine = e
	return h
}

func TestNew_RequiresRoots(t *testing.T) {
	_, err := New(Options{}, pins.NewFileStore(t.TempDir()))
	assert.ErrorIs(t, err, ErrNoRoots)
}

func TestNew_RejectsDuplicateRootIDs(t *testing.T) {
	_, err := New(Options{Roots: []skills.Root{{ID: "a", Path: "/x"}, {ID: "a", Path: "/y"}}}, pins.NewFileStore(t.TempDir()))
	require.Error(t, err)
}

func TestResolve_PinnedDuplicateAttributedToHigherPriority(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeSkill(t, a, "x", "from a")
	writeSkill(t, b, "x", "from b")
	h := newHarness(t, Options{Roots: []skills.Root{
		{ID: "A", Rank: 0, Path: a},
		{ID: "B", Rank: 1, Path: b},
	}})
	ctx := context.Background()

	res, err := h.engine.Pin(ctx, "x")
	require.NoError(t, err)
	require.Empty(t, res.Failed)

	resp, err := h.engine.Resolve(ctx, Request{Diagnose: true})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "x", resp.Items[0].Name)
	assert.Equal(t, "A", resp.Items[0].Root)
	assert.Equal(t, "from a", resp.Items[0].Body)
	assert.True(t, resp.Items[0].Pinned)

	require.NotNil(t, resp.Diagnostics)
	require.Len(t, resp.Diagnostics.Duplicates, 1)
	assert.Equal(t, "B", resp.Diagnostics.Duplicates[0].RootID)
	assert.Equal(t, "A", resp.Diagnostics.Duplicates[0].WinnerRootID)
}

func TestResolve_PromptMatchesNameAndContent(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "Ship the service")
	writeSkill(t, root, "review", "Check the diff for kubernetes manifests")
	writeSkill(t, root, "unrelated", "Nothing to see")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})

	resp, err := h.engine.Resolve(context.Background(), Request{Prompt: "Please DEPLOY to Kubernetes", Diagnose: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "review"}, resp.Names())
	assert.Equal(t, []string{"unrelated"}, resp.Diagnostics.SkippedByFilter)
}

func TestResolve_EmptyPromptMatchesNothing(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "body")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})

	resp, err := h.engine.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
	assert.Empty(t, h.engine.History(0))
}

func TestResolve_IdempotentWithoutRescan(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "deploy body")
	writeSkill(t, root, "review", "review body")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})
	ctx := context.Background()

	first, err := h.engine.Resolve(ctx, Request{Prompt: "deploy review", Diagnose: true})
	require.NoError(t, err)
	second, err := h.engine.Resolve(ctx, Request{Prompt: "deploy review", Diagnose: true})
	require.NoError(t, err)

	assert.Equal(t, first.Render(), second.Render())
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, int64(1), h.scans.Load())
}

func TestResolve_InvalidationReflectsFilesystem(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "v1")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})
	ctx := context.Background()

	resp, err := h.engine.Resolve(ctx, Request{Prompt: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy"}, resp.Names())

	writeSkill(t, root, "deployment-notes", "v1")
	resp, err = h.engine.Resolve(ctx, Request{Prompt: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy"}, resp.Names(), "cached set is still valid")

	h.engine.Invalidate("main")
	resp, err = h.engine.Resolve(ctx, Request{Prompt: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "deployment-notes"}, resp.Names())
	assert.Equal(t, int64(2), h.scans.Load())
}

func TestResolve_TTLExpiryRescans(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "v1")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}, TTL: 10 * time.Second})
	ctx := context.Background()

	_, err := h.engine.Resolve(ctx, Request{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "deploy")))

	h.clock.Advance(11 * time.Second)
	set, err := h.engine.Candidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, int64(2), h.scans.Load())
}

func TestResolve_ChangedContentIsServedAndRootInvalidated(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "old body")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})
	ctx := context.Background()

	_, err := h.engine.Resolve(ctx, Request{Prompt: "ship"})
	require.NoError(t, err)

	writeSkill(t, root, "deploy", "ship it now, new body")
	resp, err := h.engine.Resolve(ctx, Request{Prompt: "ship"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "ship it now, new body", resp.Items[0].Body)

	_, err = h.engine.Resolve(ctx, Request{Prompt: "ship"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.scans.Load())
}

func TestResolve_BudgetOverride(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"aaa", "bbb", "ccc"} {
		writeSkill(t, root, name, strings.Repeat("z", 40))
	}
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})

	budget := int64(100)
	resp, err := h.engine.Resolve(context.Background(), Request{Prompt: "aaa bbb ccc", MaxBytes: &budget, Diagnose: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "bbb"}, resp.Names())
	assert.Equal(t, []string{"ccc"}, resp.Diagnostics.Truncated)
	assert.Equal(t, "80/100", resp.Diagnostics.Usage())

	resp, err = h.engine.Resolve(context.Background(), Request{Prompt: "aaa bbb ccc"})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 3)
	assert.Nil(t, resp.Diagnostics)
}

func TestResolve_IncludeAndExcludeRoots(t *testing.T) {
	main, extra, mirror := t.TempDir(), t.TempDir(), t.TempDir()
	writeSkill(t, main, "alpha", "a")
	writeSkill(t, extra, "beta", "b")
	writeSkill(t, mirror, "gamma", "g")
	h := newHarness(t, Options{Roots: []skills.Root{
		{ID: "main", Rank: 0, Path: main},
		{ID: "extra", Rank: 1, Path: extra, Optional: true},
		{ID: "mirror", Rank: 2, Path: mirror, Mirror: true},
	}})
	ctx := context.Background()
	prompt := "alpha beta gamma"

	resp, err := h.engine.Resolve(ctx, Request{Prompt: prompt, Diagnose: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, resp.Names())
	assert.Equal(t, []string{"mirror"}, resp.Diagnostics.SkippedBySource)

	resp, err = h.engine.Resolve(ctx, Request{Prompt: prompt, IncludeRoots: []string{"extra", "mirror"}, Diagnose: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, resp.Names())
	assert.Empty(t, resp.Diagnostics.SkippedBySource)

	resp, err = h.engine.Resolve(ctx, Request{Prompt: prompt, ExcludeRoots: []string{"main"}, IncludeRoots: []string{"mirror", "nope"}, Diagnose: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma"}, resp.Names())
	require.NotEmpty(t, resp.Diagnostics.Notes)
	assert.Equal(t, skills.NoteUnknownRoot, resp.Diagnostics.Notes[0].Kind)

	_, err = h.engine.Resolve(ctx, Request{ExcludeRoots: []string{"main"}})
	assert.ErrorIs(t, err, ErrNoRoots)
}

func TestPin_MirrorOnlySkillIsNotFound(t *testing.T) {
	main, mirror := t.TempDir(), t.TempDir()
	writeSkill(t, main, "deploy", "d")
	writeSkill(t, mirror, "x", "mirrored")
	h := newHarness(t, Options{Roots: []skills.Root{
		{ID: "codex", Rank: 10, Path: main},
		{ID: "claude", Rank: 30, Path: mirror, Mirror: true},
	}})
	ctx := context.Background()

	res, err := h.engine.Pin(ctx, "x", "deploy")
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "x", res.Failed[0].ID)
	assert.ErrorIs(t, res.Failed[0], pins.ErrNotFound)
	assert.Equal(t, []string{"deploy"}, res.PinSet.Manual)

	resp, err := h.engine.Resolve(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy"}, resp.Names())
}

func TestPin_MirrorOnlySkillServedWhenMirrorsEnabled(t *testing.T) {
	main, mirror := t.TempDir(), t.TempDir()
	writeSkill(t, main, "deploy", "d")
	writeSkill(t, mirror, "x", "mirrored")
	h := newHarness(t, Options{IncludeMirror: true, Roots: []skills.Root{
		{ID: "codex", Rank: 10, Path: main},
		{ID: "claude", Rank: 30, Path: mirror, Mirror: true},
	}})
	ctx := context.Background()

	res, err := h.engine.Pin(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, res.Failed)

	resp, err := h.engine.Resolve(ctx, Request{})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "x", resp.Items[0].Name)
	assert.Equal(t, "claude", resp.Items[0].Root)
}

func TestResolve_DisabledMirrorDoesNotShadowPrimary(t *testing.T) {
	mirror, primary := t.TempDir(), t.TempDir()
	writeSkill(t, mirror, "x", "mirrored")
	writeSkill(t, primary, "x", "primary")
	h := newHarness(t, Options{Roots: []skills.Root{
		{ID: "mirror", Rank: 0, Path: mirror, Mirror: true},
		{ID: "primary", Rank: 1, Path: primary},
	}})
	ctx := context.Background()

	_, err := h.engine.Pin(ctx, "x")
	require.NoError(t, err)

	resp, err := h.engine.Resolve(ctx, Request{Diagnose: true})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "primary", resp.Items[0].Root)
	assert.Equal(t, "primary", resp.Items[0].Body)
	assert.Empty(t, resp.Diagnostics.Duplicates)
	assert.Equal(t, []string{"mirror"}, resp.Diagnostics.SkippedBySource)

	resp, err = h.engine.Resolve(ctx, Request{IncludeRoots: []string{"mirror"}, Diagnose: true})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "mirror", resp.Items[0].Root)
	require.Len(t, resp.Diagnostics.Duplicates, 1)
	assert.Equal(t, "primary", resp.Diagnostics.Duplicates[0].RootID)
}

func TestResolve_MissingRootIsSoft(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "x")
	h := newHarness(t, Options{Roots: []skills.Root{
		{ID: "gone", Rank: 0, Path: filepath.Join(root, "missing")},
		{ID: "main", Rank: 1, Path: root},
	}})

	resp, err := h.engine.Resolve(context.Background(), Request{Prompt: "deploy", Diagnose: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy"}, resp.Names())
	require.Len(t, resp.Diagnostics.Notes, 1)
	assert.Equal(t, skills.NoteRootUnavailable, resp.Diagnostics.Notes[0].Kind)
}

func TestResolve_UnreadableEntryDoesNotAbort(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "alpha", "about kubernetes")
	writeSkill(t, root, "beta", "about kubernetes")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})
	ctx := context.Background()

	_, err := h.engine.Candidates(ctx)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "alpha")))

	resp, err := h.engine.Resolve(ctx, Request{Prompt: "kubernetes", Diagnose: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, resp.Names())
	require.Len(t, resp.Diagnostics.Notes, 1)
	assert.Equal(t, skills.NoteEntryUnreadable, resp.Diagnostics.Notes[0].Kind)
}

func TestResolve_RecordsMatchedHistoryOnly(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "x")
	writeSkill(t, root, "review", "y")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})
	ctx := context.Background()

	_, err := h.engine.Pin(ctx, "review")
	require.NoError(t, err)
	resp, err := h.engine.Resolve(ctx, Request{Prompt: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"review", "deploy"}, resp.Names())

	history := h.engine.History(10)
	require.Len(t, history, 1)
	assert.Equal(t, []string{"deploy"}, history[0].Skills)
	assert.Equal(t, resp.RequestID, history[0].RequestID)
	assert.Equal(t, h.clock.Now().Unix(), history[0].TS)
}

func TestResolve_AutoPinFromHistory(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "yak", "y")
	writeSkill(t, root, "zebra", "z")
	h := newHarness(t, Options{
		Roots: []skills.Root{{ID: "main", Path: root}},
		Pins:  pins.Config{AutoPin: pins.AutoPinOptions{Count: 1}},
	})
	ctx := context.Background()

	for _, prompt := range []string{"yak", "yak", "zebra", "yak"} {
		_, err := h.engine.Resolve(ctx, Request{Prompt: prompt})
		require.NoError(t, err)
	}
	resp, err := h.engine.Resolve(ctx, Request{})
	require.NoError(t, err)
	assert.Empty(t, resp.Items, "auto-pin is opt-in")

	set, err := h.engine.SetAutoPin(true)
	require.NoError(t, err)
	assert.Equal(t, []string{"yak"}, set.Auto)

	resp, err = h.engine.Resolve(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"yak"}, resp.Names())
}

func TestPin_ReportsMissingIdentity(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "x")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})

	res, err := h.engine.Pin(context.Background(), "deploy", "ghost")
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy"}, res.PinSet.Manual)
	require.Len(t, res.Failed, 1)
	assert.True(t, errors.Is(res.Failed[0], pins.ErrNotFound))

	res, err = h.engine.UnpinAll()
	require.NoError(t, err)
	assert.Empty(t, res.PinSet.Manual)
}

func TestResolve_ConcurrentCallersShareOneScan(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "x")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.engine.Resolve(context.Background(), Request{Prompt: "deploy"})
			if assert.NoError(t, err) {
				assert.Equal(t, []string{"deploy"}, resp.Names())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), h.scans.Load())
}

func TestResolve_WritesEvents(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "x")
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := events.NewFileSink(path)
	require.NoError(t, err)
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}, Events: sink})

	resp, err := h.engine.Resolve(context.Background(), Request{Prompt: "deploy"})
	require.NoError(t, err)
	require.NoError(t, h.engine.Close())

	resolved, err := events.ReadEvents(path, events.Query{Types: []events.EventType{events.EventResolve}})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, resp.RequestID, resolved[0].RequestID)
	assert.Equal(t, []string{"deploy"}, resolved[0].Included)
}

func TestResponse_Render(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", "deploy body\n")
	h := newHarness(t, Options{Roots: []skills.Root{{ID: "main", Path: root}}})

	resp, err := h.engine.Resolve(context.Background(), Request{Prompt: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, "<!-- skill: deploy (main) -->\ndeploy body", resp.Render())

	resp, err = h.engine.Resolve(context.Background(), Request{Prompt: "deploy", Diagnose: true})
	require.NoError(t, err)
	assert.Contains(t, resp.Render(), "included (1): deploy")
}
