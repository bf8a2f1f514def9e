package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"mediascout/searchservice/internal/domain"
)

// maxConcurrentProviders limits the number of provider queries that can run
// simultaneously, so a broad any-category search does not stampede every
// remote API at once.
const maxConcurrentProviders = 6

// minQueryLength is the shortest query worth sending anywhere. Shorter input
// short-circuits to an empty, healthy response with no provider call at all.
const minQueryLength = 2

type preparedSearch struct {
	query    string
	category domain.MediaCategory
	limit    int
	offset   int
	sortBy   domain.SearchSortBy
	filters  domain.SearchFilters
	exact    bool
	selected []Provider
}

func (p preparedSearch) cacheRequest() domain.SearchRequest {
	return domain.SearchRequest{
		Query:    p.query,
		Category: p.category,
		Limit:    p.limit,
		Offset:   p.offset,
		SortBy:   p.sortBy,
		Filters:  p.filters,
		Exact:    p.exact,
	}
}

func (s *Service) Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error) {
	prepared, short, err := s.prepareSearch(request)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	if short {
		return emptyResponse(request), nil
	}

	if s.cacheDisabled || request.NoCache {
		return s.executePreparedSearch(ctx, prepared)
	}

	startedAt := time.Now()
	cacheKey := buildSearchCacheKey(prepared.cacheRequest())

	if cached, ok, needsRefresh := s.cacheLookup(cacheKey, startedAt); ok {
		// Track popularity even on cache hits, so the warmer keeps hot
		// queries fresh.
		s.markPopular(cacheKey, prepared.cacheRequest(), startedAt)
		if needsRefresh {
			s.refreshCacheAsync(cacheKey, prepared)
		}
		cached.ElapsedMS = time.Since(startedAt).Milliseconds()
		return cached, nil
	}

	response, err := s.executePreparedSearch(ctx, prepared)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	if responseCacheable(response) {
		s.cacheStore(cacheKey, response, time.Now())
	}
	s.markPopular(cacheKey, prepared.cacheRequest(), time.Now())
	return response, nil
}

// responseCacheable reports whether a response may be stored. A response
// carrying any failed provider status is never cached: the outage would
// otherwise be replayed for the full TTL after the provider recovers.
func responseCacheable(response domain.SearchResponse) bool {
	for _, status := range response.Providers {
		if !status.OK {
			return false
		}
	}
	return true
}

func (s *Service) searchNoCache(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error) {
	prepared, short, err := s.prepareSearch(request)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	if short {
		return emptyResponse(request), nil
	}

	response, err := s.executePreparedSearch(ctx, prepared)
	if err != nil {
		return domain.SearchResponse{}, err
	}

	cacheKey := buildSearchCacheKey(prepared.cacheRequest())
	if responseCacheable(response) {
		s.cacheStore(cacheKey, response, time.Now())
	} else {
		s.cacheClearRefreshing(cacheKey)
	}
	return response, nil
}

func (s *Service) refreshCacheAsync(cacheKey string, prepared preparedSearch) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout+2*time.Second)
		defer cancel()
		response, err := s.executePreparedSearch(ctx, prepared)
		if err != nil || !responseCacheable(response) {
			s.cacheClearRefreshing(cacheKey)
			return
		}
		s.cacheStore(cacheKey, response, time.Now())
	}()
}

func (s *Service) prepareSearch(request domain.SearchRequest) (preparedSearch, bool, error) {
	query := strings.TrimSpace(request.Query)
	if query == "" {
		return preparedSearch{}, false, ErrInvalidQuery
	}
	if len([]rune(query)) < minQueryLength {
		return preparedSearch{}, true, nil
	}
	if request.Offset < 0 {
		return preparedSearch{}, false, ErrInvalidOffset
	}

	limit := request.Limit
	if limit <= 0 {
		limit = 30
	}
	if limit > 100 {
		limit = 100
	}

	selected, err := s.resolveProviders(request.Category)
	if err != nil {
		return preparedSearch{}, false, err
	}

	return preparedSearch{
		query:    query,
		category: request.Category,
		limit:    limit,
		offset:   request.Offset,
		sortBy:   domain.NormalizeSortBy(string(request.SortBy)),
		filters:  request.Filters,
		exact:    request.Exact,
		selected: selected,
	}, false, nil
}

func emptyResponse(request domain.SearchRequest) domain.SearchResponse {
	return domain.SearchResponse{
		Query:     strings.TrimSpace(request.Query),
		Category:  request.Category,
		Items:     []domain.SearchResult{},
		Providers: []domain.ProviderStatus{},
		SortBy:    domain.NormalizeSortBy(string(request.SortBy)),
		Limit:     request.Limit,
		Final:     true,
	}
}

func (s *Service) executePreparedSearch(ctx context.Context, prepared preparedSearch) (domain.SearchResponse, error) {
	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	statuses := make([]domain.ProviderStatus, len(prepared.selected))
	resultsByKey := make(map[string]domain.SearchResult)

	var mu sync.Mutex
	sem := semaphore.NewWeighted(maxConcurrentProviders)
	var wg sync.WaitGroup

	for i, provider := range prepared.selected {
		wg.Add(1)
		go func(index int, current Provider) {
			defer wg.Done()

			items, status := s.runProviderSearch(runCtx, sem, current, prepared)

			mu.Lock()
			statuses[index] = status
			for _, item := range items {
				key := dedupeKey(item)
				if _, exists := resultsByKey[key]; !exists {
					resultsByKey[key] = item
				}
			}
			mu.Unlock()
		}(i, provider)
	}
	wg.Wait()

	items := make([]domain.SearchResult, 0, len(resultsByKey))
	for _, item := range resultsByKey {
		items = append(items, item)
	}

	items = applyFilters(items, prepared.filters)
	items = rankResults(items, prepared.query, prepared.sortBy, time.Now())

	total := len(items)
	page := paginate(items, prepared.offset, prepared.limit)

	return domain.SearchResponse{
		Query:      prepared.query,
		Category:   prepared.category,
		Items:      page,
		Providers:  statuses,
		ElapsedMS:  time.Since(startedAt).Milliseconds(),
		TotalItems: total,
		Limit:      prepared.limit,
		Offset:     prepared.offset,
		HasMore:    prepared.offset+len(page) < total,
		SortBy:     prepared.sortBy,
		Final:      true,
	}, nil
}

// runProviderSearch runs the full per-provider guard chain: semaphore slot,
// circuit-breaker check, rate-limit wait, retried search, health recording.
// A failure degrades to an empty contribution with a not-OK status; it never
// fails the composite call.
func (s *Service) runProviderSearch(ctx context.Context, sem *semaphore.Weighted, current Provider, prepared preparedSearch) ([]domain.SearchResult, domain.ProviderStatus) {
	providerKey := strings.ToLower(strings.TrimSpace(current.Name()))
	statusName := strings.ToLower(strings.TrimSpace(current.Info().Name))
	if statusName == "" {
		statusName = providerKey
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, domain.ProviderStatus{Name: statusName, OK: false, Error: "context cancelled"}
	}
	defer sem.Release(1)

	now := time.Now()
	if blocked, until, lastErr := s.isProviderBlocked(providerKey, now); blocked {
		return nil, domain.ProviderStatus{
			Name:  statusName,
			OK:    false,
			Error: fmt.Sprintf("provider temporarily unhealthy until %s: %s", until.UTC().Format(time.RFC3339), lastErr),
		}
	}

	if err := s.waitProviderRateLimit(ctx, providerKey); err != nil {
		return nil, domain.ProviderStatus{Name: statusName, OK: false, Error: "rate limit wait cancelled"}
	}

	// Over-fetch so filtering and pagination still have material to work
	// with after rejects.
	fetchLimit := prepared.limit + prepared.offset
	if fetchLimit < 30 {
		fetchLimit = 30
	}
	if fetchLimit > 100 {
		fetchLimit = 100
	}

	providerStartedAt := time.Now()
	var items []domain.SearchResult
	searchErr := RetryWithBackoff(ctx, DefaultRetryConfig(), func() error {
		var err error
		items, err = current.Search(ctx, domain.SearchRequest{
			Query:  prepared.query,
			Limit:  fetchLimit,
			SortBy: prepared.sortBy,
			Exact:  prepared.exact,
		})
		return err
	})
	elapsed := time.Since(providerStartedAt)
	s.recordProviderResult(providerKey, prepared.query, searchErr, elapsed, time.Now())

	if searchErr != nil {
		slog.Warn("provider search failed",
			slog.String("provider", providerKey),
			slog.String("query", truncateQuery(prepared.query)),
			slog.Int64("elapsedMs", elapsed.Milliseconds()),
			slog.String("error", searchErr.Error()),
		)
		return nil, domain.ProviderStatus{Name: statusName, OK: false, Error: searchErr.Error()}
	}

	return items, domain.ProviderStatus{Name: statusName, OK: true, Count: len(items)}
}

// resolveProviders returns the providers serving a category, or every
// provider when no category is given.
func (s *Service) resolveProviders(category domain.MediaCategory) ([]Provider, error) {
	if len(s.providers) == 0 {
		return nil, ErrNoProviders
	}

	selected := make([]Provider, 0, len(s.providers))
	seen := make(map[string]struct{}, len(s.providers))
	for _, provider := range s.providers {
		key := strings.ToLower(strings.TrimSpace(provider.Name()))
		if key == "" {
			continue
		}
		if _, exists := seen[key]; exists {
			continue
		}
		if category != domain.CategoryAny && provider.Category() != category {
			continue
		}
		seen[key] = struct{}{}
		selected = append(selected, provider)
	}

	if len(selected) == 0 {
		return nil, ErrNoProviders
	}
	sort.Slice(selected, func(i, j int) bool {
		return strings.ToLower(selected[i].Name()) < strings.ToLower(selected[j].Name())
	})
	return selected, nil
}

// ProviderByName resolves a provider or alias for targeted calls such as
// recommendations.
func (s *Service) ProviderByName(name string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, ErrUnknownProvider
	}
	provider, ok := s.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, key)
	}
	return provider, nil
}

// dedupeKey treats (source, id) as identity. Cross-provider id collisions are
// expected and must stay distinct.
func dedupeKey(item domain.SearchResult) string {
	return strings.ToLower(strings.TrimSpace(item.Source)) + ":" + strings.TrimSpace(item.ID)
}

func paginate(items []domain.SearchResult, offset, limit int) []domain.SearchResult {
	total := len(items)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	page := make([]domain.SearchResult, 0, end-start)
	page = append(page, items[start:end]...)
	return page
}

func truncateQuery(query string) string {
	const max = 80
	if len(query) <= max {
		return query
	}
	return query[:max]
}

// Trending fans out to every provider in the category that publishes a hot
// or popularity list, ordered by provider rank within each provider block.
func (s *Service) Trending(ctx context.Context, category domain.MediaCategory, limit int) (domain.SearchResponse, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	startedAt := time.Now()
	cacheKey := buildTrendingCacheKey(category, limit)
	if !s.cacheDisabled {
		if cached, ok, _ := s.cacheLookup(cacheKey, startedAt); ok {
			cached.ElapsedMS = time.Since(startedAt).Milliseconds()
			return cached, nil
		}
	}

	selected, err := s.resolveProviders(category)
	if err != nil {
		return domain.SearchResponse{}, err
	}

	trenders := make([]Provider, 0, len(selected))
	for _, provider := range selected {
		if _, ok := provider.(Trender); ok {
			trenders = append(trenders, provider)
		}
	}
	if len(trenders) == 0 {
		return domain.SearchResponse{}, ErrNoProviders
	}

	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	statuses := make([]domain.ProviderStatus, len(trenders))
	collected := make([][]domain.SearchResult, len(trenders))

	var wg sync.WaitGroup
	for i, provider := range trenders {
		wg.Add(1)
		go func(index int, current Provider) {
			defer wg.Done()

			providerKey := strings.ToLower(strings.TrimSpace(current.Name()))
			now := time.Now()
			if blocked, until, lastErr := s.isProviderBlocked(providerKey, now); blocked {
				statuses[index] = domain.ProviderStatus{
					Name:  providerKey,
					OK:    false,
					Error: fmt.Sprintf("provider temporarily unhealthy until %s: %s", until.UTC().Format(time.RFC3339), lastErr),
				}
				return
			}
			if err := s.waitProviderRateLimit(runCtx, providerKey); err != nil {
				statuses[index] = domain.ProviderStatus{Name: providerKey, OK: false, Error: "rate limit wait cancelled"}
				return
			}

			providerStartedAt := time.Now()
			items, trendErr := current.(Trender).Trending(runCtx, limit)
			s.recordProviderResult(providerKey, "trending", trendErr, time.Since(providerStartedAt), time.Now())

			if trendErr != nil {
				slog.Warn("provider trending failed",
					slog.String("provider", providerKey),
					slog.String("error", trendErr.Error()),
				)
				statuses[index] = domain.ProviderStatus{Name: providerKey, OK: false, Error: trendErr.Error()}
				return
			}
			collected[index] = items
			statuses[index] = domain.ProviderStatus{Name: providerKey, OK: true, Count: len(items)}
		}(i, provider)
	}
	wg.Wait()

	items := make([]domain.SearchResult, 0, limit)
	for _, block := range collected {
		items = append(items, block...)
	}
	if len(items) > limit {
		items = items[:limit]
	}

	response := domain.SearchResponse{
		Query:      "",
		Category:   category,
		Items:      items,
		Providers:  statuses,
		ElapsedMS:  time.Since(startedAt).Milliseconds(),
		TotalItems: len(items),
		Limit:      limit,
		Final:      true,
	}

	if !s.cacheDisabled && responseCacheable(response) {
		s.cacheStore(cacheKey, response, time.Now())
	}
	return response, nil
}

// Recommendations asks the seed item's own provider for related results.
func (s *Service) Recommendations(ctx context.Context, item domain.SearchResult, limit int) ([]domain.SearchResult, error) {
	provider, err := s.ProviderByName(item.Source)
	if err != nil {
		return nil, err
	}
	recommender, ok := provider.(Recommender)
	if !ok {
		return []domain.SearchResult{}, nil
	}

	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	providerKey := strings.ToLower(strings.TrimSpace(provider.Name()))
	if blocked, until, lastErr := s.isProviderBlocked(providerKey, time.Now()); blocked {
		return nil, fmt.Errorf("provider temporarily unhealthy until %s: %s", until.UTC().Format(time.RFC3339), lastErr)
	}
	if err := s.waitProviderRateLimit(runCtx, providerKey); err != nil {
		return nil, err
	}

	startedAt := time.Now()
	related, err := recommender.Recommend(runCtx, item, limit)
	s.recordProviderResult(providerKey, "recommend:"+truncateQuery(item.Title), err, time.Since(startedAt), time.Now())
	if err != nil {
		return nil, err
	}
	return related, nil
}

func (s *Service) SearchStream(ctx context.Context, request domain.SearchRequest) <-chan domain.SearchResponse {
	ch := make(chan domain.SearchResponse, 8)

	prepared, short, err := s.prepareSearch(request)
	if err != nil || short {
		if short {
			ch <- emptyResponse(request)
		}
		close(ch)
		return ch
	}

	// Cache hit collapses the stream to a single final snapshot.
	if !s.cacheDisabled && !request.NoCache {
		startedAt := time.Now()
		cacheKey := buildSearchCacheKey(prepared.cacheRequest())
		if cached, ok, needsRefresh := s.cacheLookup(cacheKey, startedAt); ok {
			s.markPopular(cacheKey, prepared.cacheRequest(), startedAt)
			if needsRefresh {
				s.refreshCacheAsync(cacheKey, prepared)
			}
			cached.ElapsedMS = time.Since(startedAt).Milliseconds()
			cached.Final = true
			ch <- cached
			close(ch)
			return ch
		}
	}

	go s.executeStreamSearch(ctx, prepared, ch)
	return ch
}

func (s *Service) executeStreamSearch(ctx context.Context, prepared preparedSearch, ch chan<- domain.SearchResponse) {
	defer close(ch)

	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	statuses := make([]domain.ProviderStatus, len(prepared.selected))
	resultsByKey := make(map[string]domain.SearchResult)

	providerNames := make([]string, len(prepared.selected))
	for i, p := range prepared.selected {
		providerNames[i] = strings.ToLower(strings.TrimSpace(p.Name()))
	}
	slog.Info("stream search started",
		slog.String("query", truncateQuery(prepared.query)),
		slog.Any("providers", providerNames),
		slog.Int("limit", prepared.limit),
	)

	var mu sync.Mutex
	sem := semaphore.NewWeighted(maxConcurrentProviders)
	var wg sync.WaitGroup

	for i, provider := range prepared.selected {
		wg.Add(1)
		go func(index int, current Provider) {
			defer wg.Done()

			items, status := s.runProviderSearch(runCtx, sem, current, prepared)

			mu.Lock()
			statuses[index] = status
			for _, item := range items {
				key := dedupeKey(item)
				if _, exists := resultsByKey[key]; !exists {
					resultsByKey[key] = item
				}
			}
			snapshot := buildStreamSnapshot(prepared, resultsByKey, statuses, startedAt)
			mu.Unlock()

			select {
			case ch <- snapshot:
			case <-ctx.Done():
			}
		}(i, provider)
	}
	wg.Wait()

	mu.Lock()
	final := buildStreamSnapshot(prepared, resultsByKey, statuses, startedAt)
	mu.Unlock()
	final.Final = true

	if !s.cacheDisabled {
		cacheKey := buildSearchCacheKey(prepared.cacheRequest())
		if responseCacheable(final) {
			s.cacheStore(cacheKey, final, time.Now())
		}
		s.markPopular(cacheKey, prepared.cacheRequest(), time.Now())
	}

	failed := 0
	for _, st := range statuses {
		if !st.OK {
			failed++
		}
	}
	slog.Info("stream search completed",
		slog.String("query", truncateQuery(prepared.query)),
		slog.Int("totalResults", final.TotalItems),
		slog.Int("providers", len(statuses)),
		slog.Int("failed", failed),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)

	select {
	case ch <- final:
	case <-ctx.Done():
	}
}

func buildStreamSnapshot(
	prepared preparedSearch,
	resultsByKey map[string]domain.SearchResult,
	statuses []domain.ProviderStatus,
	startedAt time.Time,
) domain.SearchResponse {
	items := make([]domain.SearchResult, 0, len(resultsByKey))
	for _, item := range resultsByKey {
		items = append(items, item)
	}

	items = applyFilters(items, prepared.filters)
	items = rankResults(items, prepared.query, prepared.sortBy, time.Now())

	total := len(items)
	page := paginate(items, prepared.offset, prepared.limit)

	statusesCopy := make([]domain.ProviderStatus, len(statuses))
	copy(statusesCopy, statuses)

	return domain.SearchResponse{
		Query:      prepared.query,
		Category:   prepared.category,
		Items:      page,
		Providers:  statusesCopy,
		ElapsedMS:  time.Since(startedAt).Milliseconds(),
		TotalItems: total,
		Limit:      prepared.limit,
		Offset:     prepared.offset,
		HasMore:    prepared.offset+len(page) < total,
		SortBy:     prepared.sortBy,
	}
}
