package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/andywolf/skillctx/internal/pins"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently served skills",
	Long: `Show the skills served because they matched a prompt, newest first.

Example:
  skillctx history
  skillctx history -n 5 --since 1h`,
	Args: cobra.NoArgs,
	RunE: showHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "number of entries to show")
	historyCmd.Flags().String("since", "", "only entries since timestamp (e.g., 2024-01-01T00:00:00Z) or duration (e.g., 1h)")
}

func showHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	sinceStr, _ := cmd.Flags().GetString("since")

	since, err := parseSince(sinceStr, time.Now())
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	entries := s.engine.History(0)
	_, err = fmt.Fprint(cmd.OutOrStdout(), formatHistory(filterHistory(entries, since, limit)))
	return err
}

func parseSince(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if dur, err := time.ParseDuration(value); err == nil {
		return now.Add(-dur), nil
	}
	since, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since value: %s", value)
	}
	return since, nil
}

// filterHistory keeps entries at or after since, at most limit of them.
// Entries are newest first.
func filterHistory(entries []pins.HistoryEntry, since time.Time, limit int) []pins.HistoryEntry {
	var out []pins.HistoryEntry
	for _, e := range entries {
		if !since.IsZero() && time.Unix(e.TS, 0).Before(since) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func formatHistory(entries []pins.HistoryEntry) string {
	if len(entries) == 0 {
		return "(no history)\n"
	}
	var b strings.Builder
	for _, e := range entries {
		ts := time.Unix(e.TS, 0).UTC().Format(time.RFC3339)
		fmt.Fprintf(&b, "%s | %s\n", ts, strings.Join(e.Skills, ", "))
	}
	return b.String()
}
