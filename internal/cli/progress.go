package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/evident/internal/events"
	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/run"
)

// startProgressPrinter mirrors run events onto stderr. The returned stop
// func unsubscribes and waits for the printer to drain.
func startProgressPrinter(bus *events.Bus) func() {
	ch, cancel := bus.Subscribe(256)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Level {
			case events.LevelWarn:
				fmt.Fprintf(os.Stderr, "!  %s\n", ev.Message)
			case events.LevelError:
				fmt.Fprintf(os.Stderr, "✗  %s\n", ev.Message)
			default:
				fmt.Fprintf(os.Stderr, "⚙️  %s\n", ev.Message)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// ratingDisplayOrder fixes the breakdown line ordering, claim ratings from
// strongest support to strongest refutation, then group ratings
var ratingDisplayOrder = []model.Rating{
	model.RatingVerified,
	model.RatingLikelyTrue,
	model.RatingConflicting,
	model.RatingInsufficient,
	model.RatingLikelyFalse,
	model.RatingFalse,
	model.RatingConsistent,
	model.RatingMisleading,
	model.RatingContradictory,
}

func printRunSummary(res *run.Result) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "✓ Run %s complete\n", res.RunID)

	if len(res.Manifest.Ratings) > 0 {
		var parts []string
		for _, rating := range ratingDisplayOrder {
			if n := res.Manifest.Ratings[string(rating)]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, rating))
			}
		}
		fmt.Fprintf(os.Stderr, "✓ Verdicts: %s\n", strings.Join(parts, ", "))
	}

	fmt.Fprintf(os.Stderr, "✓ Report: %s\n", res.ReportMD)
}

// printReviewPrompt lists the extracted claims so the operator can decide
// which to drop before resuming
func printReviewPrompt(res *run.Result) {
	fmt.Fprintf(os.Stderr, "\nRun %s paused for claim review.\n\n", res.RunID)
	for _, claim := range res.Claims {
		if claim.GroupID != "" {
			fmt.Fprintf(os.Stderr, "  %s [%s]: %s\n", claim.ID, claim.GroupID, claim.Text)
		} else {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", claim.ID, claim.Text)
		}
	}
	fmt.Fprintf(os.Stderr, "\nResume, optionally dropping claims:\n")
	fmt.Fprintf(os.Stderr, "  evident resume %s\n", res.RunID)
	fmt.Fprintf(os.Stderr, "  evident resume %s --drop c2,c5\n", res.RunID)
}
