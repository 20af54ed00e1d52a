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

var dropClaims []string

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a run paused for claim review",
	Long: `Resume continues a run that paused after claim extraction. Claims
named with --drop are removed first; narrative groups left with fewer than
two members dissolve. The rest of the pipeline then runs to completion.

Example:
  evident resume 20250824-153012-a1b2c3d4
  evident resume 20250824-153012-a1b2c3d4 --drop c2,c5`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringSliceVar(&dropClaims, "drop", nil, "claim ids to drop before continuing (comma-separated)")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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

	res, err := orch.Resume(ctx, args[0], dropClaims)
	if err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}

	printRunSummary(res)
	return nil
}
