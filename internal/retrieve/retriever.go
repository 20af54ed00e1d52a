// Package retrieve gathers web evidence for claims: query generation,
// metasearch, filtered fetching under a run-wide budget, and snippet
// selection.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/evident/internal/cache"
	"github.com/ppiankov/evident/internal/config"
	"github.com/ppiankov/evident/internal/fetch"
	"github.com/ppiankov/evident/internal/llm"
	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/search"
	"github.com/ppiankov/evident/internal/text"
	"github.com/ppiankov/evident/internal/tier"
	"github.com/ppiankov/evident/internal/worker"
)

// Searcher runs one metasearch query
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// Fetcher retrieves one page's visible text
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Result, error)
}

// Retriever collects evidence bundles for claims
type Retriever struct {
	provider   llm.Provider
	searcher   Searcher
	fetcher    Fetcher
	pages      *cache.PageStore
	classifier *tier.Classifier
	cfg        config.RetrieveConfig
	log        *slog.Logger

	budgetNote sync.Once
}

// NewRetriever creates an evidence retriever
func NewRetriever(provider llm.Provider, searcher Searcher, fetcher Fetcher, pages *cache.PageStore, classifier *tier.Classifier, cfg config.RetrieveConfig, log *slog.Logger) *Retriever {
	return &Retriever{
		provider:   provider,
		searcher:   searcher,
		fetcher:    fetcher,
		pages:      pages,
		classifier: classifier,
		cfg:        cfg,
		log:        log.With("component", "retrieve"),
	}
}

// Pass parameterizes one retrieval wave. The zero value is the first pass:
// configured per-claim cap, ids starting at s1/sn1. The second pass raises
// the cap and continues the numbering.
type Pass struct {
	ExtraSources int // headroom above the configured per-claim source cap
	SourceSeq    int // next source ordinal, minimum 1
	SnippetSeq   int // next snippet ordinal, minimum 1
}

// NextPass builds the follow-up wave: extraSources headroom and ordinals
// continuing after every id already assigned, so run-wide ids stay unique.
func NextPass(evidence []model.ClaimEvidence, extraSources int) Pass {
	pass := Pass{ExtraSources: extraSources, SourceSeq: 1, SnippetSeq: 1}
	for _, ev := range evidence {
		for _, src := range ev.Sources {
			if n, ok := ordinal(src.ID, "s"); ok && n >= pass.SourceSeq {
				pass.SourceSeq = n + 1
			}
		}
		for _, sn := range ev.Snippets {
			if n, ok := ordinal(sn.ID, "sn"); ok && n >= pass.SnippetSeq {
				pass.SnippetSeq = n + 1
			}
		}
	}
	return pass
}

func ordinal(id, prefix string) (int, bool) {
	rest := strings.TrimPrefix(id, prefix)
	if rest == id || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Gather retrieves evidence for every claim on a bounded worker pool and
// returns one bundle per claim, in claim order. Source and snippet ids are
// assigned after the pool drains, so they are deterministic for a given
// claim set regardless of worker count.
func (r *Retriever) Gather(ctx context.Context, run *model.RunState, claims []model.Claim, pass Pass) []model.ClaimEvidence {
	if len(claims) == 0 {
		return nil
	}

	workers := r.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(claims) {
		workers = len(claims)
	}

	maxSources := r.cfg.MaxSourcesPerClaim + pass.ExtraSources
	if maxSources <= 0 {
		maxSources = 1
	}

	pool := worker.NewPool(workers)
	pool.Start()
	for _, claim := range claims {
		pool.Submit(&claimJob{ctx: ctx, retriever: r, run: run, claim: claim, maxSources: maxSources})
	}

	byClaim := make(map[string]*claimResult, len(claims))
	for _, res := range pool.Wait() {
		cr, ok := res.(*claimResult)
		if !ok {
			continue
		}
		if cr.err != nil {
			r.log.Warn("claim retrieval incomplete", "claim", cr.claimID, "error", cr.err)
		}
		byClaim[cr.claimID] = cr
	}

	sourceSeq := pass.SourceSeq
	if sourceSeq < 1 {
		sourceSeq = 1
	}
	snippetSeq := pass.SnippetSeq
	if snippetSeq < 1 {
		snippetSeq = 1
	}

	bundles := make([]model.ClaimEvidence, 0, len(claims))
	for _, claim := range claims {
		bundle := model.ClaimEvidence{ClaimID: claim.ID}
		if cr := byClaim[claim.ID]; cr != nil {
			for _, gs := range cr.sources {
				gs.source.ID = fmt.Sprintf("s%d", sourceSeq)
				sourceSeq++
				bundle.Sources = append(bundle.Sources, gs.source)
				for _, sn := range gs.snippets {
					sn.ID = fmt.Sprintf("sn%d", snippetSeq)
					snippetSeq++
					sn.ClaimID = claim.ID
					sn.SourceID = gs.source.ID
					bundle.Snippets = append(bundle.Snippets, sn)
				}
			}
		}
		bundles = append(bundles, bundle)
	}
	return bundles
}

// gatheredSource pairs a source with its snippets before ids exist
type gatheredSource struct {
	source   model.Source
	snippets []model.Snippet
}

// claimJob gathers evidence for one claim inside the pool
type claimJob struct {
	ctx        context.Context
	retriever  *Retriever
	run        *model.RunState
	claim      model.Claim
	maxSources int
}

// claimResult is the pool output for one claim
type claimResult struct {
	claimID string
	sources []gatheredSource
	err     error
}

func (c *claimResult) GetError() error { return c.err }

func (j *claimJob) Execute(_ context.Context) worker.Result {
	r := j.retriever
	result := &claimResult{claimID: j.claim.ID}

	queries := r.buildQueries(j.ctx, j.run, j.claim)
	candidates := r.searchCandidates(j.ctx, queries)

	for _, cand := range candidates {
		if err := j.ctx.Err(); err != nil {
			result.err = err
			return result
		}
		if len(result.sources) >= j.maxSources {
			break
		}
		if gs, ok := r.collectSource(j.ctx, j.run, j.claim, cand); ok {
			result.sources = append(result.sources, gs)
		}
	}
	return result
}

// candidate is one search hit that survived the prefilter
type candidate struct {
	url     string
	title   string
	preview float64
}

// searchCandidates runs all queries and returns deduplicated candidates,
// best preview score first. Deny-listed domains and hits whose title and
// snippet barely overlap the query are excluded before any fetch.
func (r *Retriever) searchCandidates(ctx context.Context, queries []string) []candidate {
	seen := make(map[string]bool)
	var out []candidate

	for _, query := range queries {
		results, err := r.searcher.Search(ctx, query)
		if err != nil {
			r.log.Warn("search failed", "query", query, "error", err)
			continue
		}
		for _, res := range results {
			normalized := normalizeURL(res.URL)
			if normalized == "" || seen[normalized] {
				continue
			}
			seen[normalized] = true

			if r.classifier.Denied(normalized) {
				continue
			}
			preview := text.OverlapScore(query, res.Title+" "+res.Content)
			if preview < r.cfg.MinPreviewScore {
				continue
			}
			out = append(out, candidate{url: normalized, title: res.Title, preview: preview})
		}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].preview > out[b].preview })
	return out
}

// collectSource turns one candidate into a source with snippets. Cached
// pages are free; a miss must win a unit of the run fetch budget before the
// network is touched. Sources yielding no relevant passage are discarded.
func (r *Retriever) collectSource(ctx context.Context, run *model.RunState, claim model.Claim, cand candidate) (gatheredSource, bool) {
	var page *cache.Page
	status := model.FetchCached

	if cached, found := r.pages.Get(cand.url); found {
		page = cached
		run.Counters.CacheHits.Add(1)
	} else {
		if !run.AcquireFetch() {
			r.budgetNote.Do(func() {
				run.AddNote("fetch budget exhausted; remaining candidates limited to cached pages")
				r.log.Warn("fetch budget exhausted")
			})
			return gatheredSource{}, false
		}
		fetched, err := r.fetcher.Fetch(ctx, cand.url)
		if err != nil {
			run.Counters.FetchFailures.Add(1)
			r.log.Debug("fetch failed", "url", cand.url, "error", err)
			return gatheredSource{}, false
		}
		run.Counters.SourcesFetched.Add(1)
		page = &cache.Page{
			URL:       cand.url,
			FinalURL:  fetched.FinalURL,
			Title:     fetched.Title,
			Text:      fetched.Text,
			FetchedAt: time.Now().UTC(),
		}
		if err := r.pages.Put(cand.url, page); err != nil {
			r.log.Debug("cache write failed", "url", cand.url, "error", err)
		}
		status = model.FetchOK
	}

	snippets := passages(claim.Text, page.Text, r.cfg.SnippetsPerSource, r.cfg.SnippetMaxChars, r.cfg.MinPreviewScore)
	if len(snippets) == 0 {
		return gatheredSource{}, false
	}
	run.Counters.SnippetsMatched.Add(int64(len(snippets)))

	title := page.Title
	if title == "" {
		title = cand.title
	}
	return gatheredSource{
		source: model.Source{
			URL:       cand.url,
			Domain:    tier.Domain(cand.url),
			Tier:      r.classifier.Classify(cand.url),
			Title:     title,
			Status:    status,
			FetchedAt: page.FetchedAt,
		},
		snippets: snippets,
	}, true
}

// normalizeURL canonicalizes a candidate URL so deduplication and cache keys
// agree: http(s) only, scheme and host lowercased, fragment dropped, empty
// path normalized to /
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
