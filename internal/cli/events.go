package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/andywolf/skillctx/internal/config"
	"github.com/andywolf/skillctx/internal/events"
	"github.com/andywolf/skillctx/internal/skills"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recorded resolution, pin and invalidation events",
	Long: `Show events from the configured events_file.

Example:
  skillctx events --tail 20
  skillctx events --type resolve --type pin`,
	Args: cobra.NoArgs,
	RunE: showEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().Int("tail", 50, "number of events to show from the end (0 = all)")
	eventsCmd.Flags().StringSlice("type", nil, "only show events of these types (resolve, pin, invalidate)")
	eventsCmd.Flags().String("since", "", "only events since timestamp (e.g., 2024-01-01T00:00:00Z) or duration (e.g., 1h)")
}

func showEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.EventsFile == "" {
		return fmt.Errorf("events_file is not configured")
	}

	sinceStr, _ := cmd.Flags().GetString("since")
	since, err := parseSince(sinceStr, time.Now())
	if err != nil {
		return err
	}
	q := events.Query{Since: since}
	q.Tail, _ = cmd.Flags().GetInt("tail")
	typeNames, _ := cmd.Flags().GetStringSlice("type")
	for _, name := range typeNames {
		q.Types = append(q.Types, events.EventType(name))
	}

	selected, err := events.ReadEvents(events.ResolvePath(skills.ExpandHome(cfg.EventsFile)), q)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "(no events)")
		return nil
	}
	for _, ev := range selected {
		fmt.Fprintln(cmd.OutOrStdout(), formatEvent(ev))
	}
	return nil
}

func formatEvent(ev events.Event) string {
	ts := ev.Timestamp.UTC().Format(time.RFC3339)
	switch ev.Type {
	case events.EventResolve:
		return fmt.Sprintf("[%s] resolve %s: %s (%d bytes)", ts, ev.RequestID, listOrNone(ev.Included), ev.BytesUsed)
	case events.EventPin:
		return fmt.Sprintf("[%s] pin: %s %s", ts, ev.Summary, strings.Join(ev.Skills, ", "))
	case events.EventInvalidate:
		return fmt.Sprintf("[%s] invalidate: %s", ts, ev.RootID)
	default:
		return fmt.Sprintf("[%s] %s: %s", ts, ev.Type, ev.Summary)
	}
}
