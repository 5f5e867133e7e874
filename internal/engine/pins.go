package engine

import (
	"context"

	"github.com/andywolf/skillctx/internal/events"
	"github.com/andywolf/skillctx/internal/pins"
)

// Pin adds identities to the manual pin set. Identities that no root served
// by default provides are reported per identity in the result.
func (e *Engine) Pin(ctx context.Context, ids ...string) (pins.Result, error) {
	exists, err := e.existsFunc(ctx)
	if err != nil {
		return pins.Result{}, err
	}
	res, err := e.pins.Pin(exists, ids...)
	if err != nil {
		return pins.Result{}, err
	}
	e.emitPin("pinned", res.Changed)
	return res, nil
}

// Unpin removes identities from the manual pin set.
func (e *Engine) Unpin(ctx context.Context, ids ...string) (pins.Result, error) {
	exists, err := e.existsFunc(ctx)
	if err != nil {
		return pins.Result{}, err
	}
	res, err := e.pins.Unpin(exists, ids...)
	if err != nil {
		return pins.Result{}, err
	}
	e.emitPin("unpinned", res.Changed)
	return res, nil
}

// UnpinAll clears the manual pin set.
func (e *Engine) UnpinAll() (pins.Result, error) {
	res, err := e.pins.UnpinAll()
	if err != nil {
		return pins.Result{}, err
	}
	e.emitPin("unpinned", res.Changed)
	return res, nil
}

// SetAutoPin enables or disables auto-pinning.
func (e *Engine) SetAutoPin(enabled bool) (pins.PinSet, error) {
	set, err := e.pins.SetAutoPin(enabled)
	if err != nil {
		return pins.PinSet{}, err
	}
	summary := "auto-pin disabled"
	if enabled {
		summary = "auto-pin enabled"
	}
	e.emit(events.Event{Type: events.EventPin, Skills: set.Auto, Summary: summary})
	return set, nil
}

// PinSet returns the current pin state.
func (e *Engine) PinSet() pins.PinSet {
	return e.pins.PinSet()
}

// History returns up to n history entries, most recent first.
func (e *Engine) History(n int) []pins.HistoryEntry {
	return e.pins.History(n)
}

// existsFunc reports identities present in the candidate set of a request
// with no per-call root overrides, the set pins are served from.
func (e *Engine) existsFunc(ctx context.Context) (func(string) bool, error) {
	roots, _, _ := e.activeRoots(Request{})
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}
	set, err := e.discovery.Resolve(ctx, roots)
	if err != nil {
		return nil, err
	}
	return func(id string) bool {
		_, ok := set.Lookup(id)
		return ok
	}, nil
}

func (e *Engine) emitPin(summary string, changed []string) {
	if len(changed) == 0 {
		return
	}
	e.emit(events.Event{Type: events.EventPin, Skills: changed, Summary: summary})
}
