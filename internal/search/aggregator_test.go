package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"mediascout/searchservice/internal/domain"
)

type fakeProvider struct {
	name     string
	category domain.MediaCategory
	items    []domain.SearchResult
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{Name: p.name, Label: p.name, Category: p.category, Enabled: true}
}

func (p *fakeProvider) Category() domain.MediaCategory { return p.category }

func (p *fakeProvider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	_ = ctx
	_ = request
	return append([]domain.SearchResult(nil), p.items...), nil
}

type countingProvider struct {
	name     string
	category domain.MediaCategory
	items    []domain.SearchResult
	hits     atomic.Int32
}

func (p *countingProvider) Name() string { return p.name }

func (p *countingProvider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{Name: p.name, Label: p.name, Category: p.category, Enabled: true}
}

func (p *countingProvider) Category() domain.MediaCategory { return p.category }

func (p *countingProvider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	_ = ctx
	_ = request
	p.hits.Add(1)
	return append([]domain.SearchResult(nil), p.items...), nil
}

type failingProvider struct {
	name     string
	category domain.MediaCategory
	err      error
}

func (p *failingProvider) Name() string { return p.name }

func (p *failingProvider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{Name: p.name, Label: p.name, Category: p.category, Enabled: true}
}

func (p *failingProvider) Category() domain.MediaCategory { return p.category }

func (p *failingProvider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	return nil, p.err
}

// recoveringProvider fails its first Search calls and then serves normally,
// mimicking a provider outage that clears.
type recoveringProvider struct {
	name     string
	category domain.MediaCategory
	items    []domain.SearchResult
	failures int32
	hits     atomic.Int32
}

func (p *recoveringProvider) Name() string { return p.name }

func (p *recoveringProvider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{Name: p.name, Label: p.name, Category: p.category, Enabled: true}
}

func (p *recoveringProvider) Category() domain.MediaCategory { return p.category }

func (p *recoveringProvider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	_ = ctx
	_ = request
	if p.hits.Add(1) <= p.failures {
		return nil, errors.New("malformed payload")
	}
	return append([]domain.SearchResult(nil), p.items...), nil
}

type trendingProvider struct {
	fakeProvider
	trending []domain.SearchResult
	hits     atomic.Int32
}

func (p *trendingProvider) Trending(ctx context.Context, limit int) ([]domain.SearchResult, error) {
	_ = ctx
	p.hits.Add(1)
	items := append([]domain.SearchResult(nil), p.trending...)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type recommendingProvider struct {
	fakeProvider
	related []domain.SearchResult
}

func (p *recommendingProvider) Recommend(ctx context.Context, item domain.SearchResult, limit int) ([]domain.SearchResult, error) {
	_ = ctx
	_ = item
	items := append([]domain.SearchResult(nil), p.related...)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Search: basic scenarios
// ---------------------------------------------------------------------------

func TestSearchEmptyQuery(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "test"},
	}, time.Second)

	_, err := service.Search(context.Background(), domain.SearchRequest{Query: ""})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestSearchWhitespaceOnlyQuery(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "test"},
	}, time.Second)

	_, err := service.Search(context.Background(), domain.SearchRequest{Query: "   "})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestSearchShortQueryReturnsEmptyHealthy(t *testing.T) {
	provider := &countingProvider{name: "test"}
	service := NewService([]Provider{provider}, time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{Query: "a"})
	if err != nil {
		t.Fatalf("short query must not error: %v", err)
	}
	if len(response.Items) != 0 {
		t.Fatalf("expected no items, got %d", len(response.Items))
	}
	if !response.Final {
		t.Fatal("expected final response")
	}
	if provider.hits.Load() != 0 {
		t.Fatal("short query must not reach any provider")
	}
}

func TestSearchNegativeOffset(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "test"},
	}, time.Second)

	_, err := service.Search(context.Background(), domain.SearchRequest{Query: "test", Offset: -1})
	if !errors.Is(err, ErrInvalidOffset) {
		t.Fatalf("expected ErrInvalidOffset, got %v", err)
	}
}

func TestSearchNoProviders(t *testing.T) {
	service := NewService(nil, time.Second)

	_, err := service.Search(context.Background(), domain.SearchRequest{Query: "test"})
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}

func TestSearchCategoryRouting(t *testing.T) {
	games := &countingProvider{
		name:     "bgg",
		category: domain.CategoryBoardGame,
		items:    []domain.SearchResult{{ID: "13", Source: "bgg", Title: "Catan"}},
	}
	movies := &countingProvider{
		name:     "tmdb",
		category: domain.CategoryMovie,
		items:    []domain.SearchResult{{ID: "603", Source: "tmdb", Title: "The Matrix"}},
	}
	service := NewService([]Provider{games, movies}, time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{
		Query:    "catan",
		Category: domain.CategoryBoardGame,
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Items) != 1 || response.Items[0].Source != "bgg" {
		t.Fatalf("expected only boardgame results, got %#v", response.Items)
	}
	if movies.hits.Load() != 0 {
		t.Fatal("movie provider must not be called for boardgame search")
	}
}

func TestSearchUnknownCategoryNoProviders(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "bgg", category: domain.CategoryBoardGame},
	}, time.Second)

	_, err := service.Search(context.Background(), domain.SearchRequest{
		Query:    "dune",
		Category: domain.CategoryBook,
	})
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders for unserved category, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Search: fan-out, dedup, degradation
// ---------------------------------------------------------------------------

func TestSearchFanOutAcrossCategories(t *testing.T) {
	providers := make([]Provider, 4)
	for i := range providers {
		providers[i] = &fakeProvider{
			name:  fmt.Sprintf("prov%d", i),
			items: []domain.SearchResult{{ID: fmt.Sprintf("id%d", i), Source: fmt.Sprintf("prov%d", i), Title: "Match"}},
		}
	}
	service := NewService(providers, 2*time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{Query: "match", Limit: 50})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if response.TotalItems != 4 {
		t.Fatalf("expected 4 items from 4 providers, got %d", response.TotalItems)
	}
	if len(response.Providers) != 4 {
		t.Fatalf("expected 4 provider statuses, got %d", len(response.Providers))
	}
}

func TestSearchDedupesBySourceAndID(t *testing.T) {
	// Same id from the same source collapses; same id from a different source
	// stays distinct.
	service := NewService([]Provider{
		&fakeProvider{
			name: "alpha",
			items: []domain.SearchResult{
				{ID: "13", Source: "alpha", Title: "Catan"},
				{ID: "13", Source: "alpha", Title: "Catan duplicate"},
			},
		},
		&fakeProvider{
			name:  "beta",
			items: []domain.SearchResult{{ID: "13", Source: "beta", Title: "Something Else"}},
		},
	}, 2*time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{Query: "catan", Limit: 50})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if response.TotalItems != 2 {
		t.Fatalf("expected 2 items (same-source dupe removed), got %d", response.TotalItems)
	}
}

func TestSearchProviderFailureDegrades(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{
			name:  "good",
			items: []domain.SearchResult{{ID: "1", Source: "good", Title: "Result"}},
		},
		&failingProvider{
			name: "bad",
			err:  fmt.Errorf("parse error: invalid JSON"),
		},
	}, 2*time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{Query: "test", Limit: 10})
	if err != nil {
		t.Fatalf("partial failure must not fail the search: %v", err)
	}
	if len(response.Items) != 1 {
		t.Fatalf("expected 1 result from healthy provider, got %d", len(response.Items))
	}

	var good, bad *domain.ProviderStatus
	for i := range response.Providers {
		switch response.Providers[i].Name {
		case "good":
			good = &response.Providers[i]
		case "bad":
			bad = &response.Providers[i]
		}
	}
	if good == nil || bad == nil {
		t.Fatalf("expected statuses for both providers, got %#v", response.Providers)
	}
	if !good.OK || good.Count != 1 {
		t.Fatalf("unexpected good status: %#v", good)
	}
	if bad.OK || bad.Error == "" {
		t.Fatalf("unexpected bad status: %#v", bad)
	}
}

func TestSearchEmptyProviderIsHealthyNotDown(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "empty"},
	}, time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{Query: "obscure", Limit: 10})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Providers) != 1 {
		t.Fatalf("expected 1 status, got %d", len(response.Providers))
	}
	status := response.Providers[0]
	if !status.OK || status.Count != 0 || status.Error != "" {
		t.Fatalf("zero results must read as healthy: %#v", status)
	}
}

// ---------------------------------------------------------------------------
// Search: pagination
// ---------------------------------------------------------------------------

func TestSearchPaginationAndHasMore(t *testing.T) {
	items := make([]domain.SearchResult, 25)
	for i := range items {
		items[i] = domain.SearchResult{ID: fmt.Sprintf("id%d", i), Source: "test", Title: fmt.Sprintf("Item %d", i)}
	}
	service := NewService([]Provider{
		&fakeProvider{name: "test", items: items},
	}, 2*time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{
		Query:  "item",
		Limit:  10,
		Offset: 10,
	})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Items) != 10 {
		t.Fatalf("expected 10 items on page 2, got %d", len(response.Items))
	}
	if response.TotalItems != 25 {
		t.Fatalf("expected totalItems=25, got %d", response.TotalItems)
	}
	if !response.HasMore {
		t.Fatal("expected hasMore=true with 5 items remaining")
	}
}

func TestSearchOffsetBeyondResults(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{
			name:  "test",
			items: []domain.SearchResult{{ID: "1", Source: "test", Title: "Only"}},
		},
	}, time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{
		Query:  "only",
		Limit:  10,
		Offset: 100,
	})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Items) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(response.Items))
	}
	if response.HasMore {
		t.Fatal("expected hasMore=false past the end")
	}
}

func TestSearchLimitClamped(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "test", items: []domain.SearchResult{{ID: "1", Source: "test", Title: "A"}}},
	}, time.Second)

	response, err := service.Search(context.Background(), domain.SearchRequest{Query: "test", Limit: 9999})
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if response.Limit != 100 {
		t.Fatalf("expected limit capped at 100, got %d", response.Limit)
	}
}

// ---------------------------------------------------------------------------
// Search: caching
// ---------------------------------------------------------------------------

func TestSearchSecondIdenticalCallServedFromCache(t *testing.T) {
	provider := &countingProvider{
		name:  "cached",
		items: []domain.SearchResult{{ID: "13", Source: "cached", Title: "Catan"}},
	}
	service := NewService([]Provider{provider}, 2*time.Second)

	request := domain.SearchRequest{Query: "catan", Limit: 10}

	first, err := service.Search(context.Background(), request)
	if err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	second, err := service.Search(context.Background(), request)
	if err != nil {
		t.Fatalf("second search failed: %v", err)
	}

	if got := provider.hits.Load(); got != 1 {
		t.Fatalf("expected exactly 1 provider call within TTL, got %d", got)
	}
	if len(first.Items) != len(second.Items) {
		t.Fatalf("cached response diverged: %d vs %d items", len(first.Items), len(second.Items))
	}
}

func TestSearchNoCacheBypassesCache(t *testing.T) {
	provider := &countingProvider{
		name:  "nocache",
		items: []domain.SearchResult{{ID: "1", Source: "nocache", Title: "A"}},
	}
	service := NewService([]Provider{provider}, 2*time.Second)

	request := domain.SearchRequest{Query: "test", Limit: 10}
	if _, err := service.Search(context.Background(), request); err != nil {
		t.Fatalf("first search failed: %v", err)
	}

	bypass := request
	bypass.NoCache = true
	if _, err := service.Search(context.Background(), bypass); err != nil {
		t.Fatalf("bypass search failed: %v", err)
	}

	if got := provider.hits.Load(); got != 2 {
		t.Fatalf("expected 2 calls with NoCache, got %d", got)
	}
}

func TestSearchCacheDisabled(t *testing.T) {
	provider := &countingProvider{
		name:  "direct",
		items: []domain.SearchResult{{ID: "1", Source: "direct", Title: "A"}},
	}
	service := NewService([]Provider{provider}, 2*time.Second, WithCacheDisabled(true))

	request := domain.SearchRequest{Query: "test", Limit: 10}
	service.Search(context.Background(), request)
	service.Search(context.Background(), request)

	if got := provider.hits.Load(); got != 2 {
		t.Fatalf("expected 2 calls with cache disabled, got %d", got)
	}
}

func TestSearchCacheExpiry(t *testing.T) {
	provider := &countingProvider{
		name:  "expiring",
		items: []domain.SearchResult{{ID: "1", Source: "expiring", Title: "A"}},
	}
	service := NewService([]Provider{provider}, 2*time.Second, WithCacheTTL(30*time.Millisecond))

	request := domain.SearchRequest{Query: "test", Limit: 10}
	if _, err := service.Search(context.Background(), request); err != nil {
		t.Fatalf("first search failed: %v", err)
	}

	// Past the stale window the entry is evicted and the provider is hit anew.
	time.Sleep(120 * time.Millisecond)
	if _, err := service.Search(context.Background(), request); err != nil {
		t.Fatalf("post-expiry search failed: %v", err)
	}

	if got := provider.hits.Load(); got < 2 {
		t.Fatalf("expected provider to be re-queried after TTL, got %d calls", got)
	}
}

func TestSearchFailedResponseNotCached(t *testing.T) {
	provider := &recoveringProvider{
		name:     "flaky",
		items:    []domain.SearchResult{{ID: "1", Source: "flaky", Title: "Back"}},
		failures: 1,
	}
	service := NewService([]Provider{provider}, 2*time.Second)

	request := domain.SearchRequest{Query: "test", Limit: 10}
	first, err := service.Search(context.Background(), request)
	if err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	if len(first.Providers) != 1 || first.Providers[0].OK {
		t.Fatalf("expected failed provider status on the first call, got %#v", first.Providers)
	}

	// The failed response must not be pinned for the TTL: the next identical
	// request goes back to the provider, which has recovered.
	second, err := service.Search(context.Background(), request)
	if err != nil {
		t.Fatalf("second search failed: %v", err)
	}
	if got := provider.hits.Load(); got != 2 {
		t.Fatalf("expected a fresh provider call after the outage, got %d total calls", got)
	}
	if len(second.Providers) != 1 || !second.Providers[0].OK {
		t.Fatalf("expected healthy status after recovery, got %#v", second.Providers)
	}
	if len(second.Items) != 1 {
		t.Fatalf("expected recovered results, got %d items", len(second.Items))
	}
}

func TestSearchStreamFailedResponseNotCached(t *testing.T) {
	provider := &recoveringProvider{
		name:     "flaky",
		items:    []domain.SearchResult{{ID: "1", Source: "flaky", Title: "Back"}},
		failures: 1,
	}
	service := NewService([]Provider{provider}, 2*time.Second)

	request := domain.SearchRequest{Query: "test", Limit: 10}
	for range service.SearchStream(context.Background(), request) {
	}

	response, err := service.Search(context.Background(), request)
	if err != nil {
		t.Fatalf("search after failed stream failed: %v", err)
	}
	if got := provider.hits.Load(); got != 2 {
		t.Fatalf("stream failure must not be cached, expected a fresh provider call, got %d total", got)
	}
	if len(response.Providers) != 1 || !response.Providers[0].OK {
		t.Fatalf("expected healthy status after recovery, got %#v", response.Providers)
	}
}

// ---------------------------------------------------------------------------
// Providers / aliases
// ---------------------------------------------------------------------------

func TestProvidersSorted(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "zeta"},
		&fakeProvider{name: "alpha"},
	}, time.Second)

	providers := service.Providers()
	if len(providers) != 2 {
		t.Fatalf("unexpected providers count: %d", len(providers))
	}
	if providers[0].Name != "alpha" || providers[1].Name != "zeta" {
		t.Fatalf("unexpected order: %#v", providers)
	}
}

func TestProviderAliasesResolve(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "bgg", category: domain.CategoryBoardGame},
	}, time.Second)

	provider, err := service.ProviderByName("boardgamegeek")
	if err != nil {
		t.Fatalf("alias lookup failed: %v", err)
	}
	if provider.Name() != "bgg" {
		t.Fatalf("alias resolved to wrong provider: %s", provider.Name())
	}
	if len(service.Providers()) != 1 {
		t.Fatal("providers list must not duplicate aliases")
	}
}

func TestProviderByNameUnknown(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "bgg"},
	}, time.Second)

	if _, err := service.ProviderByName("nope"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNewServiceSkipsNilProviders(t *testing.T) {
	service := NewService([]Provider{
		nil,
		&fakeProvider{name: "valid"},
		nil,
	}, time.Second)
	if len(service.Providers()) != 1 {
		t.Fatalf("expected 1 provider (skipping nils), got %d", len(service.Providers()))
	}
}

func TestNewServiceDefaultTimeout(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "test"},
	}, 0)
	if service.timeout != 15*time.Second {
		t.Fatalf("expected default timeout 15s, got %v", service.timeout)
	}
}

// ---------------------------------------------------------------------------
// Trending
// ---------------------------------------------------------------------------

func TestTrendingFansOutToTrenders(t *testing.T) {
	trender := &trendingProvider{
		fakeProvider: fakeProvider{name: "bgg", category: domain.CategoryBoardGame},
		trending: []domain.SearchResult{
			{ID: "1", Source: "bgg", Title: "Hot One", Rank: 1},
			{ID: "2", Source: "bgg", Title: "Hot Two", Rank: 2},
		},
	}
	plain := &countingProvider{name: "plain", category: domain.CategoryBoardGame}
	service := NewService([]Provider{trender, plain}, 2*time.Second)

	response, err := service.Trending(context.Background(), domain.CategoryBoardGame, 10)
	if err != nil {
		t.Fatalf("trending error: %v", err)
	}
	if len(response.Items) != 2 {
		t.Fatalf("expected 2 trending items, got %d", len(response.Items))
	}
	if plain.hits.Load() != 0 {
		t.Fatal("providers without a trending list must not be searched")
	}
	if !response.Final {
		t.Fatal("expected final trending response")
	}
}

func TestTrendingNoTrenders(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "plain"},
	}, time.Second)

	if _, err := service.Trending(context.Background(), domain.CategoryAny, 10); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}

func TestTrendingCached(t *testing.T) {
	trender := &trendingProvider{
		fakeProvider: fakeProvider{name: "bgg", category: domain.CategoryBoardGame},
		trending:     []domain.SearchResult{{ID: "1", Source: "bgg", Title: "Hot", Rank: 1}},
	}
	service := NewService([]Provider{trender}, 2*time.Second)

	if _, err := service.Trending(context.Background(), domain.CategoryBoardGame, 10); err != nil {
		t.Fatalf("first trending failed: %v", err)
	}
	if _, err := service.Trending(context.Background(), domain.CategoryBoardGame, 10); err != nil {
		t.Fatalf("second trending failed: %v", err)
	}
	if got := trender.hits.Load(); got != 1 {
		t.Fatalf("expected 1 provider call (second served from cache), got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Recommendations
// ---------------------------------------------------------------------------

func TestRecommendationsRouteToSeedProvider(t *testing.T) {
	recommender := &recommendingProvider{
		fakeProvider: fakeProvider{name: "bgg", category: domain.CategoryBoardGame},
		related: []domain.SearchResult{
			{ID: "2", Source: "bgg", Title: "Related One"},
			{ID: "3", Source: "bgg", Title: "Related Two"},
		},
	}
	service := NewService([]Provider{recommender}, 2*time.Second)

	items, err := service.Recommendations(context.Background(), domain.SearchResult{
		ID:     "1",
		Source: "bgg",
		Title:  "Seed",
	}, 10)
	if err != nil {
		t.Fatalf("recommendations error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 related items, got %d", len(items))
	}
}

func TestRecommendationsUnknownSource(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "bgg"},
	}, time.Second)

	_, err := service.Recommendations(context.Background(), domain.SearchResult{
		ID:     "1",
		Source: "unknown",
	}, 10)
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestRecommendationsProviderWithoutRecommender(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "plain"},
	}, time.Second)

	items, err := service.Recommendations(context.Background(), domain.SearchResult{
		ID:     "1",
		Source: "plain",
	}, 10)
	if err != nil {
		t.Fatalf("expected graceful empty result, got error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty recommendations, got %d", len(items))
	}
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

func TestSearchStreamEndsWithFinalSnapshot(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{
			name:  "one",
			items: []domain.SearchResult{{ID: "1", Source: "one", Title: "First"}},
		},
		&fakeProvider{
			name:  "two",
			items: []domain.SearchResult{{ID: "2", Source: "two", Title: "Second"}},
		},
	}, 2*time.Second, WithCacheDisabled(true))

	ch := service.SearchStream(context.Background(), domain.SearchRequest{Query: "test", Limit: 10})

	var last domain.SearchResponse
	count := 0
	for response := range ch {
		last = response
		count++
	}
	if count == 0 {
		t.Fatal("expected at least one snapshot")
	}
	if !last.Final {
		t.Fatal("last snapshot must be final")
	}
	if last.TotalItems != 2 {
		t.Fatalf("expected 2 items in final snapshot, got %d", last.TotalItems)
	}
}

func TestSearchStreamShortQuery(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "test"},
	}, time.Second)

	ch := service.SearchStream(context.Background(), domain.SearchRequest{Query: "x"})

	response, ok := <-ch
	if !ok {
		t.Fatal("expected one empty response before close")
	}
	if !response.Final || len(response.Items) != 0 {
		t.Fatalf("expected final empty response, got %#v", response)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}
