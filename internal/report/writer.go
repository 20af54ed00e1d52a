// Package report renders a finished run into its on-disk artifacts:
// report.json for machines and report.md for people.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/text"
)

// ratingOrder fixes the display order of claim ratings in tallies
var ratingOrder = []model.Rating{
	model.RatingVerified,
	model.RatingLikelyTrue,
	model.RatingConflicting,
	model.RatingInsufficient,
	model.RatingLikelyFalse,
	model.RatingFalse,
}

// Writer renders reports under a runs directory
type Writer struct {
	dir string
	log *slog.Logger
}

// NewWriter creates a report writer rooted at runsDir
func NewWriter(runsDir string, log *slog.Logger) *Writer {
	return &Writer{
		dir: runsDir,
		log: log.With("component", "report"),
	}
}

// Write renders report.json and report.md under runs/<id>/ and returns
// both paths.
func (w *Writer) Write(rep *model.Report) (jsonPath, mdPath string, err error) {
	runDir := filepath.Join(w.dir, rep.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create run dir: %w", err)
	}

	jsonPath = filepath.Join(runDir, "report.json")
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write report.json: %w", err)
	}

	mdPath = filepath.Join(runDir, "report.md")
	if err := os.WriteFile(mdPath, []byte(RenderMarkdown(rep)), 0o644); err != nil {
		return "", "", fmt.Errorf("write report.md: %w", err)
	}

	w.log.Info("report written", "run", rep.RunID, "dir", runDir)
	return jsonPath, mdPath, nil
}

// RenderMarkdown renders the human-readable report
func RenderMarkdown(rep *model.Report) string {
	var sb strings.Builder

	title := rep.Title
	if title == "" {
		title = rep.RunID
	}
	fmt.Fprintf(&sb, "# Fact-check report: %s\n\n", title)
	fmt.Fprintf(&sb, "Run `%s`", rep.RunID)
	if rep.TranscriptPath != "" {
		fmt.Fprintf(&sb, " on `%s`", rep.TranscriptPath)
	}
	if !rep.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, ", %s", rep.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	sb.WriteString(".\n\n")
	sb.WriteString(tallyLine(rep))
	sb.WriteString("\n")

	if rep.Summary != nil && rep.Summary.Markdown != "" {
		sb.WriteString("\n## Summary\n\n")
		sb.WriteString(strings.TrimSpace(rep.Summary.Markdown))
		sb.WriteString("\n")
	}

	renderVerdictTable(&sb, rep)
	renderGroups(&sb, rep)
	renderClaims(&sb, rep)

	return sb.String()
}

// tallyLine summarizes claim counts by rating, in fixed order
func tallyLine(rep *model.Report) string {
	counts := rep.RatingCounts()
	total := 0
	for _, n := range counts {
		total += n
	}
	parts := make([]string, 0, len(counts))
	for _, rating := range ratingOrder {
		if n := counts[string(rating)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, rating))
		}
	}
	if total == 0 {
		return "No claims were checked.\n"
	}
	return fmt.Sprintf("%d claims checked: %s.\n", total, strings.Join(parts, ", "))
}

func renderVerdictTable(sb *strings.Builder, rep *model.Report) {
	if len(rep.Claims) == 0 {
		return
	}
	sb.WriteString("\n## Verdicts\n\n")
	sb.WriteString("| # | Claim | Rating | Confidence |\n")
	sb.WriteString("|---|-------|--------|------------|\n")
	for _, claim := range rep.Claims {
		rating, confidence := model.RatingInsufficient, 0.0
		if v, ok := rep.VerdictFor(claim.ID); ok {
			rating, confidence = v.Rating, v.Confidence
		}
		cell := strings.ReplaceAll(text.Truncate(claim.Text, 90), "|", "\\|")
		fmt.Fprintf(sb, "| %s | %s | %s | %.2f |\n", claim.ID, cell, rating, confidence)
	}
}

func renderGroups(sb *strings.Builder, rep *model.Report) {
	if len(rep.Groups) == 0 {
		return
	}
	sb.WriteString("\n## Narrative groups\n")
	for _, group := range rep.Groups {
		sb.WriteString("\n")
		if v, ok := rep.GroupVerdictFor(group.ID); ok {
			fmt.Fprintf(sb, "### %s: %s (%.2f)\n\n", group.ID, v.Rating, v.Confidence)
			fmt.Fprintf(sb, "Members: %s\n", strings.Join(group.ClaimIDs, ", "))
			if group.Rationale != "" {
				fmt.Fprintf(sb, "\n%s\n", group.Rationale)
			}
			if v.Rationale != "" {
				fmt.Fprintf(sb, "\n%s\n", v.Rationale)
			}
		} else {
			fmt.Fprintf(sb, "### %s\n\nMembers: %s\n", group.ID, strings.Join(group.ClaimIDs, ", "))
		}
	}
}

func renderClaims(sb *strings.Builder, rep *model.Report) {
	if len(rep.Claims) == 0 {
		return
	}
	sb.WriteString("\n## Claims\n")
	for _, claim := range rep.Claims {
		sb.WriteString("\n")
		verdict, hasVerdict := rep.VerdictFor(claim.ID)
		if hasVerdict {
			fmt.Fprintf(sb, "### %s: %s (%.2f)\n\n", claim.ID, verdict.Rating, verdict.Confidence)
		} else {
			fmt.Fprintf(sb, "### %s\n\n", claim.ID)
		}
		fmt.Fprintf(sb, "> %s\n", claim.Text)
		fmt.Fprintf(sb, "\nTranscript segments %d-%d.\n", claim.SegmentStart, claim.SegmentEnd)

		if !hasVerdict {
			continue
		}
		if verdict.Rationale != "" {
			fmt.Fprintf(sb, "\n%s\n", verdict.Rationale)
		}
		if verdict.Downgraded {
			fmt.Fprintf(sb, "\nRating downgraded: %s.\n", verdict.DowngradeReason)
		}
		renderCitations(sb, rep, claim.ID, verdict.Citations)
	}
}

// renderCitations lists cited snippets as "[sn1] URL" lines
func renderCitations(sb *strings.Builder, rep *model.Report, claimID string, citations []string) {
	if len(citations) == 0 {
		return
	}
	ev, ok := rep.EvidenceFor(claimID)
	if !ok {
		return
	}
	sb.WriteString("\nCitations:\n\n")
	for _, id := range citations {
		sn, ok := ev.Snippet(id)
		if !ok {
			continue
		}
		if src, ok := ev.Source(sn.SourceID); ok {
			fmt.Fprintf(sb, "- [%s] %s\n", id, src.URL)
		}
	}
}
