package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/andywolf/skillctx/internal/engine"
	"github.com/andywolf/skillctx/internal/pins"
	"github.com/andywolf/skillctx/internal/skills"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show roots, pins and cache state",
	Long: `Show the configured roots in priority order with the number of skills
each contributes, scan notes, the current pins and cache counters.

Example:
  skillctx status`,
	Args: cobra.NoArgs,
	RunE: checkStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func checkStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	set, err := s.engine.Candidates(context.Background())
	if err != nil {
		return err
	}

	report := statusReport{
		Roots:    s.engine.Roots(),
		Set:      set,
		Pins:     s.engine.PinSet(),
		Stats:    s.engine.Stats(),
		Warnings: s.engine.Warnings(),
		StateDir: s.cfg.StateDir(),
		Backend:  s.cfg.State.Backend,
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), report.String())
	return err
}

type statusReport struct {
	Roots    []skills.Root
	Set      *skills.CandidateSet
	Pins     pins.PinSet
	Stats    engine.Stats
	Warnings []string
	StateDir string
	Backend  string
}

func (r statusReport) String() string {
	counts := make(map[string]int)
	for _, e := range r.Set.Entries {
		counts[e.RootID]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-12s %-6s %-10s %6s  %s\n", "RANK", "ROOT", "KIND", "FLAGS", "SKILLS", "PATH")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, root := range r.Roots {
		kind := "local"
		if root.Mirror {
			kind = "mirror"
		}
		flags := ""
		if root.Optional {
			flags = "optional"
		}
		fmt.Fprintf(&b, "%-4d %-12s %-6s %-10s %6d  %s\n", root.Rank, root.ID, kind, flags, counts[root.ID], root.Path)
	}
	fmt.Fprintf(&b, "\n%d skill(s), %d shadowed duplicate(s)\n", r.Set.Len(), len(r.Set.Duplicates))

	for _, n := range r.Set.Notes {
		fmt.Fprintf(&b, "note: %s %s: %s\n", n.Kind, n.RootID, n.Message)
	}

	b.WriteString("\n")
	b.WriteString(formatPinSet(r.Pins))
	fmt.Fprintf(&b, "\nstate: %s (%s)\n", r.StateDir, r.Backend)
	fmt.Fprintf(&b, "cache: %d scan(s), %d hit(s), %d content read(s)\n", r.Stats.Scans, r.Stats.Hits, r.Stats.ContentReads)
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return b.String()
}
