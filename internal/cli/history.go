package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/evident/internal/store"
)

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs, most recent first",
	Long: `History lists runs recorded in the local run store, most recent
first. Unfinished rows belong to runs that are still in flight, paused for
review, or were interrupted.

Example:
  evident history
  evident history --limit 10`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum rows to list (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	history, err := store.Open(cfg.StoreDir())
	if err != nil {
		return err
	}
	defer history.Close()

	runs, err := history.List(context.Background(), historyLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "No runs recorded yet. Start one with: evident check <transcript>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTAGE\tCLAIMS\tVERDICTS\tTITLE")
	for _, r := range runs {
		stage := r.FinalStage
		if !r.Finished() {
			stage += " (unfinished)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			stage,
			r.Claims,
			r.Verdicts,
			r.Title,
		)
	}
	return w.Flush()
}
