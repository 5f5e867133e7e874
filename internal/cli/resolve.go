package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andywolf/skillctx/internal/engine"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [prompt...]",
	Short: "Resolve the skills relevant to a prompt",
	Long: `Resolve the skills relevant to a prompt and print their bodies.

Pinned and auto-pinned skills are always included. With --hook the prompt is
read from the hook JSON on stdin and the payload is wrapped for a
UserPromptSubmit hook.

Example:
  skillctx resolve "review this terraform plan"
  skillctx resolve --max-bytes 8192 --diagnose "deploy"
  echo '{"prompt":"deploy"}' | skillctx resolve --hook`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().Int64("max-bytes", 0, "byte budget for this call (0 = unbounded, default from config)")
	resolveCmd.Flags().Bool("diagnose", false, "append diagnostics")
	resolveCmd.Flags().StringSlice("include-root", nil, "enable an optional or mirror root for this call")
	resolveCmd.Flags().StringSlice("exclude-root", nil, "skip a root for this call")
	resolveCmd.Flags().Bool("hook", false, "read the prompt from hook JSON on stdin and emit hook JSON")
	resolveCmd.Flags().Bool("stdin", false, "read the prompt from stdin")
	resolveCmd.Flags().Bool("json", false, "print the response as JSON")
}

func runResolve(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	hook, _ := cmd.Flags().GetBool("hook")
	fromStdin, _ := cmd.Flags().GetBool("stdin")
	asJSON, _ := cmd.Flags().GetBool("json")

	prompt := strings.Join(args, " ")
	if hook || fromStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		if hook {
			prompt = promptFromHook(data)
		} else {
			prompt = string(data)
		}
	}
	if prompt == "" {
		prompt = os.Getenv("SKILLCTX_PROMPT")
	}

	req := engine.Request{
		Prompt:   prompt,
		Diagnose: s.cfg.Diagnose,
	}
	if cmd.Flags().Changed("max-bytes") {
		maxBytes, _ := cmd.Flags().GetInt64("max-bytes")
		req.MaxBytes = &maxBytes
	}
	if cmd.Flags().Changed("diagnose") {
		req.Diagnose, _ = cmd.Flags().GetBool("diagnose")
	}
	req.IncludeRoots, _ = cmd.Flags().GetStringSlice("include-root")
	req.ExcludeRoots, _ = cmd.Flags().GetStringSlice("exclude-root")

	resp, err := s.engine.Resolve(context.Background(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case hook:
		payload, err := hookPayload(resp.Render())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(payload))
		return err
	case asJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	default:
		if text := resp.Render(); text != "" {
			_, err = fmt.Fprintln(out, text)
		}
		return err
	}
}

// promptFromHook extracts the prompt from hook input. Input that is not a JSON
// object with a prompt field is used verbatim.
func promptFromHook(data []byte) string {
	var in struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(data, &in); err == nil && in.Prompt != "" {
		return in.Prompt
	}
	return strings.TrimSpace(string(data))
}

// hookPayload wraps content for a UserPromptSubmit hook.
func hookPayload(content string) ([]byte, error) {
	payload := map[string]any{
		"hookSpecificOutput": map[string]any{
			"hookEventName":     "UserPromptSubmit",
			"additionalContext": content,
		},
	}
	return json.Marshal(payload)
}
