package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/evident/internal/events"
	"github.com/ppiankov/evident/internal/run"
)

var (
	reviewPause bool
	outJSON     string
	outMD       string
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <transcript>",
	Short: "Fact-check a video transcript",
	Long: `Check runs the full pipeline over one transcript file
(.json, .srt, .vtt or .txt):
- Extract factual claims chunk by chunk
- Consolidate claims into narrative groups
- Gather web evidence under the run fetch budget
- Grade sources by authority tier and gate every verdict
- Write report.json and report.md under the run directory

With --review the run pauses after extraction so claims can be inspected
and dropped before any evidence is fetched; continue with 'evident resume'.

Example:
  evident check talk.vtt
  evident check talk.vtt --review
  evident check talk.vtt --md report.md --json report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&reviewPause, "review", false, "pause after extraction for claim review")
	checkCmd.Flags().StringVar(&outJSON, "json", "", "also copy the JSON report to this path")
	checkCmd.Flags().StringVar(&outMD, "md", "", "also copy the Markdown report to this path")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if reviewPause {
		cfg.Review.Enabled = true
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()
	stop := startProgressPrinter(bus)
	defer stop()

	orch, closer, err := run.Build(cfg, bus, log)
	if err != nil {
		return err
	}
	defer closer()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := orch.Check(ctx, args[0])
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	if res.Paused {
		printReviewPrompt(res)
		return nil
	}

	printRunSummary(res)
	return copyArtifacts(res, outJSON, outMD)
}

// copyArtifacts duplicates the run reports to user-chosen paths
func copyArtifacts(res *run.Result, jsonPath, mdPath string) error {
	copies := []struct{ src, dst string }{
		{res.ReportJSON, jsonPath},
		{res.ReportMD, mdPath},
	}
	for _, c := range copies {
		if c.dst == "" {
			continue
		}
		data, err := os.ReadFile(c.src)
		if err != nil {
			return fmt.Errorf("read report: %w", err)
		}
		if err := os.WriteFile(c.dst, data, 0o644); err != nil {
			return fmt.Errorf("copy report to %s: %w", c.dst, err)
		}
		fmt.Fprintf(os.Stderr, "✓ Copied: %s\n", c.dst)
	}
	return nil
}
