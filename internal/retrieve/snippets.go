package retrieve

import (
	"sort"

	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/text"
)

// passages scores page sentences against the claim and keeps the most
// relevant ones, restored to document order. Scores at the floor are kept;
// zero-overlap sentences never are. Returned snippets carry text and
// relevance only; ids and references are assigned after the pool drains.
func passages(claimText, pageText string, perSource, maxChars int, floor float64) []model.Snippet {
	if perSource <= 0 {
		perSource = 1
	}

	type scored struct {
		text  string
		score float64
		pos   int
	}

	var hits []scored
	for i, sentence := range text.SplitSentences(pageText) {
		score := text.OverlapScore(claimText, sentence)
		if score == 0 || score < floor {
			continue
		}
		hits = append(hits, scored{text: sentence, score: score, pos: i})
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > perSource {
		hits = hits[:perSource]
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].pos < hits[b].pos })

	snippets := make([]model.Snippet, 0, len(hits))
	for _, h := range hits {
		snippets = append(snippets, model.Snippet{
			Text:      text.Truncate(h.text, maxChars),
			Relevance: h.score,
		})
	}
	return snippets
}
