package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andywolf/skillctx/internal/skills"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered skills",
	Long: `List every skill discovered across the configured roots in priority
order. Copies shadowed by a higher-priority root are shown with --all.

Example:
  skillctx list
  skillctx list --xml`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().Bool("xml", false, "print an <available_skills> catalog")
	listCmd.Flags().Bool("json", false, "print entries as JSON")
	listCmd.Flags().Bool("all", false, "also show shadowed duplicates and scan notes")
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	set, err := s.engine.Candidates(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	asXML, _ := cmd.Flags().GetBool("xml")
	asJSON, _ := cmd.Flags().GetBool("json")
	all, _ := cmd.Flags().GetBool("all")

	switch {
	case asXML:
		_, err = fmt.Fprintln(out, skills.RenderCatalog(set, time.Now()))
		return err
	case asJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(set.Entries)
	}

	_, err = fmt.Fprint(out, formatCandidates(set, all))
	return err
}

func formatCandidates(set *skills.CandidateSet, all bool) string {
	var b strings.Builder
	if set.Len() == 0 {
		b.WriteString("No skills found.\n")
	} else {
		fmt.Fprintf(&b, "%-30s %-12s %8s  %s\n", "SKILL", "ROOT", "BYTES", "PATH")
		b.WriteString(strings.Repeat("-", 80) + "\n")
		for _, e := range set.Entries {
			fmt.Fprintf(&b, "%-30s %-12s %8d  %s\n", e.Name, e.RootID, e.Size, e.Path)
		}
		fmt.Fprintf(&b, "\n%d skill(s) found.\n", set.Len())
	}
	if !all {
		return b.String()
	}
	for _, d := range set.Duplicates {
		fmt.Fprintf(&b, "shadowed: %s in %s (using %s)\n", d.Name, d.RootID, d.WinnerRootID)
	}
	for _, n := range set.Notes {
		fmt.Fprintf(&b, "note: %s %s: %s\n", n.Kind, n.RootID, n.Message)
	}
	return b.String()
}
