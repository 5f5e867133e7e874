package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/andywolf/skillctx/internal/pins"
	"github.com/spf13/cobra"
)

var pinCmd = &cobra.Command{
	Use:   "pin <skill>...",
	Short: "Pin skills so they are served with every prompt",
	Long: `Pin one or more skills. Pinned skills are served ahead of prompt
matches on every resolve. Identities that no root provides are reported and
skipped; the rest are still pinned.

Example:
  skillctx pin code-review terraform`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPin,
}

var unpinCmd = &cobra.Command{
	Use:   "unpin [skill...]",
	Short: "Remove pins",
	Long: `Remove pins for the given skills, or every manual pin with --all.

Example:
  skillctx unpin terraform
  skillctx unpin --all`,
	RunE: runUnpin,
}

var autopinCmd = &cobra.Command{
	Use:       "autopin <on|off>",
	Short:     "Enable or disable auto-pinning from recent history",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runAutopin,
}

var pinsCmd = &cobra.Command{
	Use:   "pins",
	Short: "Show manual, default and auto pins",
	Args:  cobra.NoArgs,
	RunE:  runPins,
}

func init() {
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
	rootCmd.AddCommand(autopinCmd)
	rootCmd.AddCommand(pinsCmd)

	unpinCmd.Flags().Bool("all", false, "remove every manual pin")
}

func runPin(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	res, err := s.engine.Pin(context.Background(), args...)
	return reportPinOutcome(cmd.OutOrStdout(), cmd.ErrOrStderr(), "pinned", res, err)
}

func runUnpin(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		return fmt.Errorf("specify skills to unpin or use --all")
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	var res pins.Result
	if all {
		res, err = s.engine.UnpinAll()
	} else {
		res, err = s.engine.Unpin(context.Background(), args...)
	}
	return reportPinOutcome(cmd.OutOrStdout(), cmd.ErrOrStderr(), "unpinned", res, err)
}

func runAutopin(cmd *cobra.Command, args []string) error {
	enabled, err := parseOnOff(args[0])
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	set, err := s.engine.SetAutoPin(enabled)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), formatPinSet(set))
	return err
}

func runPins(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	_, err = fmt.Fprint(cmd.OutOrStdout(), formatPinSet(s.engine.PinSet()))
	return err
}

func parseOnOff(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid value %q (must be on or off)", arg)
	}
}

// reportPinOutcome prints res unless the operation failed as a whole, in
// which case res is empty and only err is returned.
func reportPinOutcome(out, errOut io.Writer, verb string, res pins.Result, err error) error {
	if err != nil {
		return err
	}
	printPinResult(out, errOut, verb, res)
	return nil
}

// printPinResult reports per-identity failures on stderr without failing the
// command.
func printPinResult(out, errOut io.Writer, verb string, res pins.Result) {
	for _, f := range res.Failed {
		fmt.Fprintf(errOut, "skipped %s\n", f.Error())
	}
	if len(res.Changed) > 0 {
		fmt.Fprintf(out, "%s: %s\n", verb, strings.Join(res.Changed, ", "))
	}
	fmt.Fprint(out, formatPinSet(res.PinSet))
}

func formatPinSet(set pins.PinSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "manual: %s\n", listOrNone(set.Manual))
	if len(set.Defaults) > 0 {
		fmt.Fprintf(&b, "defaults: %s\n", listOrNone(set.Defaults))
	}
	state := "off"
	if set.AutoPinEnabled {
		state = "on"
	}
	fmt.Fprintf(&b, "auto (%s): %s\n", state, listOrNone(set.Auto))
	return b.String()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
