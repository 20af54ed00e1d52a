package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/evident/internal/events"
	"github.com/ppiankov/evident/internal/run"
)

var (
	batchConcurrency int
	batchTimeout     time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch [dir]",
	Short: "Check every transcript in a directory",
	Long: `Batch checks every supported transcript (.json, .srt, .vtt, .txt)
directly under a directory, by default the inbox under the data dir.
Runs execute concurrently and share the fetch rate limiter, page cache
and run store. Claim review is disabled in batch mode.

Example:
  evident batch
  evident batch ./transcripts --concurrency 4 --timeout 1h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 2, "number of concurrent runs")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Review.Enabled = false

	dir := cfg.InboxDir()
	if len(args) == 1 {
		dir = args[0]
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	orch, closer, err := run.Build(cfg, bus, log)
	if err != nil {
		return err
	}
	defer closer()

	paths, err := run.ListTranscripts(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "No transcripts found in %s\n", dir)
		return nil
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Evident Batch Processing\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input dir:    %s\n", dir)
	fmt.Fprintf(os.Stderr, "  Transcripts:  %d\n", len(paths))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", batchConcurrency)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "⚙️  Checking %d transcripts with %d workers...\n", len(paths), batchConcurrency)
	fmt.Fprintf(os.Stderr, "\n")

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := run.NewBatchRunner(orch, batchConcurrency)
	results := runner.ProcessPaths(ctx, paths)

	successCount := 0
	failureCount := 0
	for _, res := range results {
		if res.Err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", res.Path, res.Err)
			continue
		}
		successCount++
		fmt.Fprintf(os.Stderr, "✓ %s (report: %s)\n", res.Path, res.Run.ReportMD)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d transcripts\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "\n")

	if failureCount > 0 {
		return fmt.Errorf("%d of %d runs failed", failureCount, len(results))
	}
	return nil
}
