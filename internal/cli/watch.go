package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/andywolf/skillctx/internal/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch skill roots and report changes",
	Long: `Watch the configured roots and invalidate cached discovery whenever a
skill is added, edited or removed. Runs until interrupted.

Example:
  skillctx watch --debounce 500ms`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Duration("debounce", 0, "quiet period before a change is applied (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	debounce := s.cfg.Watch.Debounce
	if cmd.Flags().Changed("debounce") {
		debounce, _ = cmd.Flags().GetDuration("debounce")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	reporter := newChangeReporter(out, func(ctx context.Context) (int, error) {
		set, err := s.engine.Candidates(ctx)
		if err != nil {
			return 0, err
		}
		return set.Len(), nil
	}, s.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		reporter.Run(ctx)
	}()
	defer func() { <-done }()

	w, err := s.engine.Watch(ctx, watch.Options{
		Debounce: debounce,
		OnChange: reporter.Notify,
	})
	if err != nil {
		stop()
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	fmt.Fprintf(out, "Watching %d director(ies). Press Ctrl+C to stop.\n", w.Watched())
	<-ctx.Done()
	return nil
}

// changeReporter prints refreshed skill counts off the watcher goroutine.
// Changes arriving while a rescan runs are coalesced per root.
type changeReporter struct {
	out    io.Writer
	count  func(ctx context.Context) (int, error)
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]bool
	wake    chan struct{}
}

func newChangeReporter(out io.Writer, count func(ctx context.Context) (int, error), logger *zap.Logger) *changeReporter {
	return &changeReporter{
		out:     out,
		count:   count,
		logger:  logger,
		pending: make(map[string]bool),
		wake:    make(chan struct{}, 1),
	}
}

// Notify records a changed root. It never blocks.
func (r *changeReporter) Notify(rootID string) {
	r.mu.Lock()
	r.pending[rootID] = true
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run reports pending changes until ctx ends.
func (r *changeReporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}

		r.mu.Lock()
		roots := make([]string, 0, len(r.pending))
		for id := range r.pending {
			roots = append(roots, id)
		}
		r.pending = make(map[string]bool)
		r.mu.Unlock()
		if len(roots) == 0 {
			continue
		}
		sort.Strings(roots)

		n, err := r.count(ctx)
		if err != nil {
			r.logger.Warn("rescan failed", zap.Strings("roots", roots), zap.Error(err))
			continue
		}
		fmt.Fprintf(r.out, "%s changed: %d skill(s)\n", strings.Join(roots, ", "), n)
	}
}
