package pins

import (
	"sort"
)

// AutoPinOptions tunes AutoPinned.
type AutoPinOptions struct {
	Count   int // maximum identities returned; <= 0 means no limit
	Window  int // most recent history entries considered; <= 0 means all
	MinHits int // minimum occurrences within the window; <= 0 means 1
}

// AutoPinned derives auto-pinned identities from history, which is ordered
// oldest first. Identities are ranked by occurrence count, then by most
// recent occurrence, then by name, and the top Count are returned.
func AutoPinned(history []HistoryEntry, opts AutoPinOptions) []string {
	if opts.Window > 0 && len(history) > opts.Window {
		history = history[len(history)-opts.Window:]
	}
	minHits := opts.MinHits
	if minHits <= 0 {
		minHits = 1
	}

	type stat struct {
		id       string
		count    int
		lastSeen int
	}
	stats := make(map[string]*stat)
	for i, entry := range history {
		for _, id := range entry.Skills {
			s, ok := stats[id]
			if !ok {
				s = &stat{id: id}
				stats[id] = s
			}
			s.count++
			s.lastSeen = i
		}
	}

	ranked := make([]*stat, 0, len(stats))
	for _, s := range stats {
		if s.count >= minHits {
			ranked = append(ranked, s)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		if ranked[i].lastSeen != ranked[j].lastSeen {
			return ranked[i].lastSeen > ranked[j].lastSeen
		}
		return ranked[i].id < ranked[j].id
	})
	if opts.Count > 0 && len(ranked) > opts.Count {
		ranked = ranked[:opts.Count]
	}

	out := make([]string, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, s.id)
	}
	return out
}

// Recent returns up to n entries, most recent first. n <= 0 returns all.
func Recent(history []HistoryEntry, n int) []HistoryEntry {
	if n <= 0 || n > len(history) {
		n = len(history)
	}
	out := make([]HistoryEntry, 0, n)
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, history[i])
	}
	return out
}

// capHistory drops the oldest entries beyond limit.
func capHistory(history []HistoryEntry, limit int) []HistoryEntry {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
