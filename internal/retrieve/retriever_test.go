package retrieve

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/evident/internal/cache"
	"github.com/ppiankov/evident/internal/config"
	"github.com/ppiankov/evident/internal/fetch"
	"github.com/ppiankov/evident/internal/llm"
	"github.com/ppiankov/evident/internal/logging"
	"github.com/ppiankov/evident/internal/model"
	"github.com/ppiankov/evident/internal/search"
	"github.com/ppiankov/evident/internal/tier"
)

type fakeProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (f *fakeProvider) Name() string                       { return "fake" }
func (f *fakeProvider) IsAvailable(_ context.Context) bool { return true }

func (f *fakeProvider) Generate(_ context.Context, _ llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	text := ""
	if i < len(f.responses) {
		text = f.responses[i]
	} else if len(f.responses) > 0 {
		text = f.responses[len(f.responses)-1]
	}
	return &llm.Response{Text: text, PromptTokens: 6, CompletionTokens: 3}, nil
}

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]search.Result
	queries []string
}

func (s *fakeSearch) Search(_ context.Context, query string) ([]search.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	return s.results[query], nil
}

func (s *fakeSearch) seenQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]*fetch.Result
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if page, ok := f.pages[rawURL]; ok {
		return page, nil
	}
	return nil, errors.New("no such page")
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const claimText = "Arctic sea ice declined thirteen percent per decade since 1979."

func iceClaim() model.Claim {
	return model.Claim{ID: "c1", Text: claimText}
}

const icePageText = "Satellite observations show Arctic sea ice declined about thirteen percent per decade since 1979. " +
	"The instruments use passive microwave sensing. " +
	"Unrelated navigation links and cookie notices follow here."

func testRetrieveConfig() config.RetrieveConfig {
	cfg := config.Default().Retrieve
	cfg.EnableQueryGeneration = false
	cfg.EnableFactcheckQuery = false
	return cfg
}

func newTestRetriever(cfg config.RetrieveConfig, provider llm.Provider, searcher Searcher, fetcher Fetcher) (*Retriever, *cache.PageStore) {
	pages := cache.NewPageStore(cache.NewMemoryCache(time.Hour, time.Hour), time.Hour)
	classifier := tier.New(config.Default().Tier)
	return NewRetriever(provider, searcher, fetcher, pages, classifier, cfg, logging.Discard()), pages
}

func TestGather_BuildsSourcesAndSnippets(t *testing.T) {
	searcher := &fakeSearch{results: map[string][]search.Result{
		claimText: {
			{URL: "https://www.pinterest.com/pin/123", Title: "Arctic sea ice declined thirteen percent", Content: "per decade since 1979"},
			{URL: "https://example.com/recipes", Title: "weeknight pasta ideas", Content: "quick dinners"},
			{URL: "https://climate.nasa.gov/evidence", Title: "Arctic sea ice decline", Content: "ice declined per satellite data since 1979"},
		},
	}}
	fetcher := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://climate.nasa.gov/evidence": {URL: "https://climate.nasa.gov/evidence", FinalURL: "https://climate.nasa.gov/evidence", Title: "Vital Signs", Text: icePageText, StatusCode: 200},
	}}
	retriever, _ := newTestRetriever(testRetrieveConfig(), &fakeProvider{}, searcher, fetcher)
	run := model.NewRunState("test", "", "", 80)

	bundles := retriever.Gather(context.Background(), run, []model.Claim{iceClaim()}, Pass{})

	if len(bundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(bundles))
	}
	bundle := bundles[0]
	if len(bundle.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(bundle.Sources))
	}
	source := bundle.Sources[0]
	if source.ID != "s1" || source.Domain != "climate.nasa.gov" || source.Status != model.FetchOK {
		t.Errorf("source = %+v", source)
	}
	if source.Tier != model.TierGovernment {
		t.Errorf("tier = %v, want government", source.Tier)
	}
	if len(bundle.Snippets) != 1 {
		t.Fatalf("expected 1 snippet, got %d", len(bundle.Snippets))
	}
	snippet := bundle.Snippets[0]
	if snippet.ID != "sn1" || snippet.ClaimID != "c1" || snippet.SourceID != "s1" {
		t.Errorf("snippet refs = %+v", snippet)
	}
	if !strings.Contains(snippet.Text, "thirteen percent per decade") {
		t.Errorf("snippet text = %q", snippet.Text)
	}

	// The deny-listed and low-overlap hits never reach the fetcher
	if fetcher.fetchCount() != 1 {
		t.Errorf("fetch calls = %v", fetcher.calls)
	}
	if got := run.Counters.SourcesFetched.Load(); got != 1 {
		t.Errorf("SourcesFetched = %d", got)
	}
	if got := run.Counters.SnippetsMatched.Load(); got != 1 {
		t.Errorf("SnippetsMatched = %d", got)
	}
	if got := run.BudgetRemaining(); got != 79 {
		t.Errorf("budget remaining = %d, want 79", got)
	}
}

func TestGather_CachedPagesCostNoBudget(t *testing.T) {
	searcher := &fakeSearch{results: map[string][]search.Result{
		claimText: {
			{URL: "https://climate.nasa.gov/evidence", Title: "Arctic sea ice decline", Content: "declined since 1979 per satellite data"},
		},
	}}
	fetcher := &fakeFetcher{}
	retriever, pages := newTestRetriever(testRetrieveConfig(), &fakeProvider{}, searcher, fetcher)
	if err := pages.Put("https://climate.nasa.gov/evidence", &cache.Page{
		URL:       "https://climate.nasa.gov/evidence",
		Title:     "Vital Signs",
		Text:      icePageText,
		FetchedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	run := model.NewRunState("test", "", "", 0) // no budget at all

	bundles := retriever.Gather(context.Background(), run, []model.Claim{iceClaim()}, Pass{})

	if len(bundles[0].Sources) != 1 {
		t.Fatalf("expected cached source, got %d", len(bundles[0].Sources))
	}
	if bundles[0].Sources[0].Status != model.FetchCached {
		t.Errorf("status = %v, want cached", bundles[0].Sources[0].Status)
	}
	if fetcher.fetchCount() != 0 {
		t.Errorf("fetcher called for a cached page: %v", fetcher.calls)
	}
	if got := run.Counters.CacheHits.Load(); got != 1 {
		t.Errorf("CacheHits = %d", got)
	}
}

func TestGather_BudgetExhaustionStopsNewFetches(t *testing.T) {
	searcher := &fakeSearch{results: map[string][]search.Result{
		claimText: {
			{URL: "https://climate.nasa.gov/evidence", Title: "Arctic sea ice decline since 1979", Content: "declined per decade"},
			{URL: "https://nsidc.org/report", Title: "Arctic sea ice decline since 1979", Content: "declined per decade"},
		},
	}}
	fetcher := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://climate.nasa.gov/evidence": {FinalURL: "https://climate.nasa.gov/evidence", Text: icePageText, StatusCode: 200},
		"https://nsidc.org/report":          {FinalURL: "https://nsidc.org/report", Text: icePageText, StatusCode: 200},
	}}
	retriever, _ := newTestRetriever(testRetrieveConfig(), &fakeProvider{}, searcher, fetcher)
	run := model.NewRunState("test", "", "", 1)

	bundles := retriever.Gather(context.Background(), run, []model.Claim{iceClaim()}, Pass{})

	if len(bundles[0].Sources) != 1 {
		t.Fatalf("expected 1 source under a budget of 1, got %d", len(bundles[0].Sources))
	}
	if fetcher.fetchCount() != 1 {
		t.Errorf("fetch calls = %v", fetcher.calls)
	}
	if got := run.BudgetRemaining(); got != 0 {
		t.Errorf("budget remaining = %d", got)
	}

	run.Finish()
	manifest := run.BuildManifest(nil)
	if len(manifest.Notes) != 1 || !strings.Contains(manifest.Notes[0], "budget exhausted") {
		t.Errorf("expected a budget note, got %v", manifest.Notes)
	}
}

func TestGather_SourceCapAndPassHeadroom(t *testing.T) {
	results := []search.Result{
		{URL: "https://climate.nasa.gov/a", Title: "Arctic sea ice decline since 1979", Content: "declined per decade"},
		{URL: "https://nsidc.org/b", Title: "Arctic sea ice decline since 1979", Content: "declined per decade"},
		{URL: "https://noaa.gov/c", Title: "Arctic sea ice decline since 1979", Content: "declined per decade"},
	}
	pages := map[string]*fetch.Result{}
	for _, res := range results {
		pages[res.URL] = &fetch.Result{FinalURL: res.URL, Text: icePageText, StatusCode: 200}
	}
	cfg := testRetrieveConfig()
	cfg.MaxSourcesPerClaim = 2

	searcher := &fakeSearch{results: map[string][]search.Result{claimText: results}}
	retriever, _ := newTestRetriever(cfg, &fakeProvider{}, searcher, &fakeFetcher{pages: pages})
	run := model.NewRunState("test", "", "", 80)

	bundles := retriever.Gather(context.Background(), run, []model.Claim{iceClaim()}, Pass{})
	if len(bundles[0].Sources) != 2 {
		t.Fatalf("expected cap of 2 sources, got %d", len(bundles[0].Sources))
	}

	// Second wave with headroom and continued numbering
	searcher2 := &fakeSearch{results: map[string][]search.Result{claimText: results}}
	retriever2, _ := newTestRetriever(cfg, &fakeProvider{}, searcher2, &fakeFetcher{pages: pages})
	run2 := model.NewRunState("test", "", "", 80)

	more := retriever2.Gather(context.Background(), run2, []model.Claim{iceClaim()}, Pass{
		ExtraSources: 1,
		SourceSeq:    3,
		SnippetSeq:   2,
	})
	if len(more[0].Sources) != 3 {
		t.Fatalf("expected 3 sources with headroom, got %d", len(more[0].Sources))
	}
	if more[0].Sources[0].ID != "s3" {
		t.Errorf("first source id = %q, want s3", more[0].Sources[0].ID)
	}
	if more[0].Snippets[0].ID != "sn2" {
		t.Errorf("first snippet id = %q, want sn2", more[0].Snippets[0].ID)
	}
}

func TestGather_GeneratedQueriesAndFactcheckVariant(t *testing.T) {
	cfg := testRetrieveConfig()
	cfg.EnableQueryGeneration = true
	cfg.EnableFactcheckQuery = true
	cfg.QueriesPerClaim = 2

	provider := &fakeProvider{responses: []string{
		`["arctic sea ice satellite record decline", "nsidc sea ice extent trend"]`,
	}}
	searcher := &fakeSearch{results: map[string][]search.Result{}}
	retriever, _ := newTestRetriever(cfg, provider, searcher, &fakeFetcher{})
	run := model.NewRunState("test", "", "", 10)

	retriever.Gather(context.Background(), run, []model.Claim{iceClaim()}, Pass{})

	queries := searcher.seenQueries()
	if len(queries) != 3 {
		t.Fatalf("expected 3 queries, got %v", queries)
	}
	if queries[0] != "arctic sea ice satellite record decline" {
		t.Errorf("first query = %q", queries[0])
	}
	if !strings.HasSuffix(queries[2], " fact check") {
		t.Errorf("last query = %q, want a fact check variant", queries[2])
	}
}

func TestGather_QueryGenerationFallsBackToClaimText(t *testing.T) {
	cfg := testRetrieveConfig()
	cfg.EnableQueryGeneration = true

	provider := &fakeProvider{err: errors.New("backend down")}
	searcher := &fakeSearch{results: map[string][]search.Result{}}
	retriever, _ := newTestRetriever(cfg, provider, searcher, &fakeFetcher{})
	run := model.NewRunState("test", "", "", 10)

	retriever.Gather(context.Background(), run, []model.Claim{iceClaim()}, Pass{})

	queries := searcher.seenQueries()
	if len(queries) != 1 || queries[0] != claimText {
		t.Errorf("queries = %v, want just the claim text", queries)
	}
	if provider.calls != 2 {
		t.Errorf("expected 2 generation attempts, got %d", provider.calls)
	}
}

func TestGather_SameResultsRegardlessOfWorkerCount(t *testing.T) {
	claims := []model.Claim{
		{ID: "c1", Text: "Arctic sea ice declined thirteen percent per decade since 1979."},
		{ID: "c2", Text: "Global wheat exports fell sharply after the 2022 invasion."},
		{ID: "c3", Text: "Electric cars reached ten percent of new sales in 2023."},
	}
	results := map[string][]search.Result{
		claims[0].Text: {{URL: "https://climate.nasa.gov/a", Title: "Arctic sea ice declined per decade since 1979", Content: "thirteen percent"}},
		claims[1].Text: {{URL: "https://fao.org/b", Title: "Global wheat exports fell after 2022 invasion", Content: "sharply"}},
		claims[2].Text: {{URL: "https://iea.org/c", Title: "Electric cars reached ten percent of sales 2023", Content: "new sales"}},
	}
	pageFor := func(u string, body string) *fetch.Result {
		return &fetch.Result{FinalURL: u, Text: body, StatusCode: 200}
	}
	pages := map[string]*fetch.Result{
		"https://climate.nasa.gov/a": pageFor("https://climate.nasa.gov/a", "Arctic sea ice declined thirteen percent per decade since 1979 according to the satellite record."),
		"https://fao.org/b":          pageFor("https://fao.org/b", "Global wheat exports fell sharply after the 2022 invasion disrupted Black Sea shipping."),
		"https://iea.org/c":          pageFor("https://iea.org/c", "Electric cars reached ten percent of new sales in 2023 across major markets."),
	}

	gather := func(workers int) []model.ClaimEvidence {
		cfg := testRetrieveConfig()
		cfg.Workers = workers
		retriever, _ := newTestRetriever(cfg, &fakeProvider{}, &fakeSearch{results: results}, &fakeFetcher{pages: pages})
		run := model.NewRunState("test", "", "", 80)
		return retriever.Gather(context.Background(), run, claims, Pass{})
	}

	serial := gather(1)
	parallel := gather(8)

	if len(serial) != len(parallel) {
		t.Fatalf("bundle counts differ: %d vs %d", len(serial), len(parallel))
	}
	for i := range serial {
		a, b := serial[i], parallel[i]
		if a.ClaimID != b.ClaimID || len(a.Sources) != len(b.Sources) || len(a.Snippets) != len(b.Snippets) {
			t.Fatalf("bundle %d differs: %+v vs %+v", i, a, b)
		}
		for j := range a.Sources {
			if a.Sources[j].ID != b.Sources[j].ID || a.Sources[j].URL != b.Sources[j].URL {
				t.Errorf("claim %s source %d: %+v vs %+v", a.ClaimID, j, a.Sources[j], b.Sources[j])
			}
		}
		for j := range a.Snippets {
			if a.Snippets[j].ID != b.Snippets[j].ID || a.Snippets[j].SourceID != b.Snippets[j].SourceID {
				t.Errorf("claim %s snippet %d: %+v vs %+v", a.ClaimID, j, a.Snippets[j], b.Snippets[j])
			}
		}
	}
}

func TestGather_FetchFailureCountsAndContinues(t *testing.T) {
	searcher := &fakeSearch{results: map[string][]search.Result{
		claimText: {
			{URL: "https://deadhost.org/page", Title: "Arctic sea ice decline since 1979", Content: "declined per decade"},
			{URL: "https://climate.nasa.gov/evidence", Title: "Arctic sea ice decline since 1979", Content: "declined per decade"},
		},
	}}
	fetcher := &fakeFetcher{pages: map[string]*fetch.Result{
		"https://climate.nasa.gov/evidence": {FinalURL: "https://climate.nasa.gov/evidence", Text: icePageText, StatusCode: 200},
	}}
	retriever, _ := newTestRetriever(testRetrieveConfig(), &fakeProvider{}, searcher, fetcher)
	run := model.NewRunState("test", "", "", 80)

	bundles := retriever.Gather(context.Background(), run, []model.Claim{iceClaim()}, Pass{})

	if len(bundles[0].Sources) != 1 {
		t.Fatalf("expected the healthy source to survive, got %d", len(bundles[0].Sources))
	}
	if got := run.Counters.FetchFailures.Load(); got != 1 {
		t.Errorf("FetchFailures = %d, want 1", got)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM/Path#frag", "https://example.com/Path"},
		{"https://example.com", "https://example.com/"},
		{"ftp://example.com/file", ""},
		{"http://example.com/a?b=c", "http://example.com/a?b=c"},
		{"not a url at all ://", ""},
	}
	for _, tc := range cases {
		if got := normalizeURL(tc.in); got != tc.want {
			t.Errorf("normalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNextPassContinuesNumbering(t *testing.T) {
	evidence := []model.ClaimEvidence{
		{
			ClaimID: "c1",
			Sources: []model.Source{{ID: "s1"}, {ID: "s3"}},
			Snippets: []model.Snippet{
				{ID: "sn1", SourceID: "s1"},
				{ID: "sn7", SourceID: "s3"},
			},
		},
		{ClaimID: "c2", Sources: []model.Source{{ID: "s2"}}, Snippets: []model.Snippet{{ID: "sn4", SourceID: "s2"}}},
	}

	pass := NextPass(evidence, 5)
	if pass.ExtraSources != 5 {
		t.Errorf("ExtraSources = %d, want 5", pass.ExtraSources)
	}
	if pass.SourceSeq != 4 {
		t.Errorf("SourceSeq = %d, want 4", pass.SourceSeq)
	}
	if pass.SnippetSeq != 8 {
		t.Errorf("SnippetSeq = %d, want 8", pass.SnippetSeq)
	}
}

func TestNextPassOnEmptyEvidenceStartsAtOne(t *testing.T) {
	pass := NextPass(nil, 2)
	if pass.SourceSeq != 1 || pass.SnippetSeq != 1 {
		t.Errorf("ordinals = %d/%d, want 1/1", pass.SourceSeq, pass.SnippetSeq)
	}
}
