package report

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ppiankov/evident/internal/llm"
	"github.com/ppiankov/evident/internal/model"
)

const summarySystem = `You write the closing summary of a fact-check report. Describe what the gathered evidence shows; never assert truth beyond the per-claim ratings you are given. If you cite a source, use only URLs from the allowed list, verbatim. If evidence was thin, say so plainly. Write 3-5 sentences of markdown, no headings.`

// maxPromptURLs caps the allowlist in the prompt to keep token use sane
const maxPromptURLs = 20

var urlPattern = regexp.MustCompile(`https?://[^\s<>()\[\]"']+`)

// Summarizer composes the narrative overview for a finished run. It is
// best-effort: every failure mode degrades to warnings, never an error.
type Summarizer struct {
	provider llm.Provider
	log      *slog.Logger
}

// NewSummarizer creates a report summarizer. A nil provider disables it.
func NewSummarizer(provider llm.Provider, log *slog.Logger) *Summarizer {
	return &Summarizer{
		provider: provider,
		log:      log.With("component", "summary"),
	}
}

// Summarize writes the report overview, restricted to gathered evidence
// URLs. Any URL outside that set is stripped from the output and recorded
// as a warning. Returns nil when summarization is disabled.
func (s *Summarizer) Summarize(ctx context.Context, run *model.RunState, rep *model.Report) *model.Summary {
	if s == nil || s.provider == nil {
		return nil
	}

	urls, allowed := evidenceURLs(rep)
	prompt := buildSummaryPrompt(rep, urls)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := s.provider.Generate(ctx, llm.Request{
			Role:   llm.RoleWrite,
			System: summarySystem,
			Prompt: prompt,
		})
		if err != nil {
			lastErr = err
			continue
		}
		run.Usage(model.StageSummary).Add(resp.PromptTokens, resp.CompletionTokens)

		markdown := strings.TrimSpace(resp.Text)
		if markdown == "" {
			lastErr = fmt.Errorf("empty summary response")
			continue
		}

		summary := &model.Summary{Provider: s.provider.Name(), Model: resp.Model}
		summary.Markdown, summary.Warnings = stripUncitedURLs(markdown, allowed)
		for _, warning := range summary.Warnings {
			s.log.Warn("summary citation stripped", "warning", warning)
		}
		return summary
	}

	s.log.Warn("summary generation failed", "error", lastErr)
	return &model.Summary{
		Provider: s.provider.Name(),
		Warnings: []string{fmt.Sprintf("summary generation failed: %v", lastErr)},
	}
}

// evidenceURLs collects the distinct source URLs of the run, in first-seen
// order, plus a lookup set for leak detection.
func evidenceURLs(rep *model.Report) ([]string, map[string]bool) {
	var urls []string
	allowed := make(map[string]bool)
	for _, ev := range rep.Evidence {
		for _, src := range ev.Sources {
			if src.URL == "" || allowed[src.URL] {
				continue
			}
			allowed[src.URL] = true
			urls = append(urls, src.URL)
		}
	}
	return urls, allowed
}

func buildSummaryPrompt(rep *model.Report, urls []string) string {
	var sb strings.Builder

	title := rep.Title
	if title == "" {
		title = rep.RunID
	}
	fmt.Fprintf(&sb, "Video: %s\n", title)
	sb.WriteString(tallyLine(rep))

	sb.WriteString("\nClaims and ratings:\n")
	for _, claim := range rep.Claims {
		rating := model.RatingInsufficient
		if v, ok := rep.VerdictFor(claim.ID); ok {
			rating = v.Rating
		}
		fmt.Fprintf(&sb, "- [%s, %s] %s\n", claim.ID, rating, claim.Text)
	}

	for _, group := range rep.Groups {
		if v, ok := rep.GroupVerdictFor(group.ID); ok {
			fmt.Fprintf(&sb, "- [group %s, %s] claims %s\n", group.ID, v.Rating, strings.Join(group.ClaimIDs, ", "))
		}
	}

	sb.WriteString("\nAllowed URLs:\n")
	if len(urls) == 0 {
		sb.WriteString("(none; cite nothing)\n")
	}
	for i, url := range urls {
		if i >= maxPromptURLs {
			fmt.Fprintf(&sb, "... and %d more URLs\n", len(urls)-maxPromptURLs)
			break
		}
		fmt.Fprintf(&sb, "- %s\n", url)
	}
	return sb.String()
}

// stripUncitedURLs removes URLs outside the allowed set, leaving a marker
// in place and one warning per distinct leak. Trailing sentence punctuation
// is not part of the URL.
func stripUncitedURLs(markdown string, allowed map[string]bool) (string, []string) {
	var warnings []string
	seen := make(map[string]bool)

	out := urlPattern.ReplaceAllStringFunc(markdown, func(match string) string {
		url := strings.TrimRight(match, ".,;:!?")
		trailer := match[len(url):]
		if allowed[url] {
			return match
		}
		if !seen[url] {
			seen[url] = true
			warnings = append(warnings, fmt.Sprintf("stripped uncited URL %s", url))
		}
		return "[uncited link removed]" + trailer
	})
	return out, warnings
}
