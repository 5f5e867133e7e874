package skills

import (
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxParallelScans bounds concurrent root scans in Discover.
const maxParallelScans = 4

// OrderRoots returns roots sorted by ascending rank. Roots sharing a rank keep
// their configuration order, so the first listed one wins ties.
func OrderRoots(roots []Root) []Root {
	out := append([]Root(nil), roots...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rank < out[j].Rank
	})
	return out
}

// Discover scans every root and resolves the snapshots into a CandidateSet.
func Discover(roots []Root) *CandidateSet {
	snaps := make([]Snapshot, len(roots))
	var g errgroup.Group
	g.SetLimit(maxParallelScans)
	for i := range roots {
		g.Go(func() error {
			snaps[i] = ScanRoot(roots[i])
			return nil
		})
	}
	_ = g.Wait()
	return Resolve(snaps)
}

// Resolve merges snapshots into one CandidateSet. Roots are visited in
// priority order and the first root providing an identity wins; later copies
// are recorded as duplicates referencing the winner.
func Resolve(snaps []Snapshot) *CandidateSet {
	ordered := append([]Snapshot(nil), snaps...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Root.Rank < ordered[j].Root.Rank
	})

	set := &CandidateSet{
		ScannedAt: time.Now(),
		index:     make(map[string]int),
		ranks:     make(map[string]int, len(ordered)),
	}
	admitted := make(map[string]Entry)
	rankOf := make(map[string]int, len(ordered))
	for pos, snap := range ordered {
		set.Roots = append(set.Roots, snap.Root)
		rankOf[snap.Root.ID] = snap.Root.Rank
		set.ranks[snap.Root.ID] = pos + 1
		set.Notes = append(set.Notes, snap.Notes...)
		for _, e := range snap.Entries {
			if winner, ok := admitted[e.Name]; ok {
				set.Duplicates = append(set.Duplicates, Duplicate{
					Name:         e.Name,
					RootID:       e.RootID,
					Path:         e.Path,
					WinnerRootID: winner.RootID,
					WinnerPath:   winner.Path,
				})
				continue
			}
			admitted[e.Name] = e
			set.Entries = append(set.Entries, e)
		}
	}

	sort.SliceStable(set.Entries, func(i, j int) bool {
		ri, rj := rankOf[set.Entries[i].RootID], rankOf[set.Entries[j].RootID]
		if ri != rj {
			return ri < rj
		}
		return set.Entries[i].Name < set.Entries[j].Name
	})
	for i, e := range set.Entries {
		set.index[e.Name] = i
	}
	return set
}
