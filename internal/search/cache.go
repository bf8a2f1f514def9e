package search

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"mediascout/searchservice/internal/domain"
	"mediascout/searchservice/internal/metrics"
)

const (
	defaultCacheTTL    = time.Hour
	defaultStaleTTL    = 3 * time.Hour
	defaultTrendingTTL = 30 * time.Minute

	defaultWarmInterval        = 5 * time.Minute
	defaultWarmTopQueries      = 12
	defaultCacheMaxEntries     = 400
	defaultPopularMaxEntries   = 200
	maxConcurrentWarmRefreshes = 3
)

type searchWarmerConfig struct {
	cacheTTL          time.Duration
	staleTTL          time.Duration
	trendingTTL       time.Duration
	warmInterval      time.Duration
	warmTopQueries    int
	cacheMaxEntries   int
	popularMaxEntries int
}

type cachedSearchResponse struct {
	response    domain.SearchResponse
	updatedAt   time.Time
	expiresAt   time.Time
	staleUntil  time.Time
	refreshing  bool
	refreshOnce sync.Once // one refresh per stale period
}

type popularQuery struct {
	request  domain.SearchRequest
	hits     int
	lastSeen time.Time
	lastWarm time.Time
}

type warmSpec struct {
	key     string
	request domain.SearchRequest
}

func defaultSearchWarmerConfig() searchWarmerConfig {
	return searchWarmerConfig{
		cacheTTL:          defaultCacheTTL,
		staleTTL:          defaultStaleTTL,
		trendingTTL:       defaultTrendingTTL,
		warmInterval:      defaultWarmInterval,
		warmTopQueries:    defaultWarmTopQueries,
		cacheMaxEntries:   defaultCacheMaxEntries,
		popularMaxEntries: defaultPopularMaxEntries,
	}
}

func (s *Service) runWarmer(ctx context.Context) {
	ticker := time.NewTicker(s.warmerCfg.warmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runWarmCycle(ctx)
		}
	}
}

func (s *Service) runWarmCycle(ctx context.Context) {
	now := time.Now()
	specs := s.collectWarmSpecs(now)
	if len(specs) == 0 {
		return
	}

	// Bounded parallel refreshes: sequential warming of a dozen queries at
	// full search latency would overrun the warm interval.
	sem := semaphore.NewWeighted(maxConcurrentWarmRefreshes)
	var wg sync.WaitGroup

	for _, spec := range specs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		wg.Add(1)
		go func(spec warmSpec) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				s.cacheClearRefreshing(spec.key)
				return
			}
			defer sem.Release(1)

			refreshCtx, cancel := context.WithTimeout(ctx, s.timeout+2*time.Second)
			defer cancel()

			if _, err := s.searchNoCache(refreshCtx, spec.request); err != nil {
				s.cacheClearRefreshing(spec.key)
			}
		}(spec)
	}

	wg.Wait()
}

func (s *Service) collectWarmSpecs(now time.Time) []warmSpec {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if len(s.popular) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.popular))
	for key := range s.popular {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		left := s.popular[keys[i]]
		right := s.popular[keys[j]]
		if left.hits != right.hits {
			return left.hits > right.hits
		}
		return left.lastSeen.After(right.lastSeen)
	})

	limit := s.warmerCfg.warmTopQueries
	if limit <= 0 {
		limit = defaultWarmTopQueries
	}
	if len(keys) < limit {
		limit = len(keys)
	}

	specs := make([]warmSpec, 0, limit)
	for _, key := range keys[:limit] {
		pop := s.popular[key]
		if pop == nil {
			continue
		}
		if !pop.lastWarm.IsZero() && now.Sub(pop.lastWarm) < s.warmerCfg.warmInterval/2 {
			continue
		}
		if cacheEntry, ok := s.cache[key]; ok && now.Before(cacheEntry.expiresAt) {
			continue
		}
		pop.lastWarm = now
		if cacheEntry := s.cache[key]; cacheEntry != nil {
			cacheEntry.refreshing = true
		}
		specs = append(specs, warmSpec{key: key, request: pop.request})
	}
	return specs
}

func (s *Service) cacheLookup(key string, now time.Time) (domain.SearchResponse, bool, bool) {
	// Try Redis first
	if s.redisCache != nil {
		resp, found, err := s.redisCache.Get(context.Background(), key)
		if err == nil && found {
			metrics.CacheHitsTotal.Inc()
			// Keep a local in-memory copy so the warmer can reason about
			// freshness without re-querying Redis.
			s.cacheStoreMemoryOnly(key, resp, now, s.effectiveTTL(key))
			return resp, true, false
		}
	}

	// Fallback to in-memory
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, ok := s.cache[key]
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return domain.SearchResponse{}, false, false
	}

	if now.Before(entry.expiresAt) {
		metrics.CacheHitsTotal.Inc()
		return cloneSearchResponse(entry.response), true, false
	}

	if now.Before(entry.staleUntil) {
		metrics.CacheHitsTotal.Inc()
		// sync.Once guarantees a single refresh per stale period even when
		// several requests land in the stale window at once.
		needsRefresh := false
		entry.refreshOnce.Do(func() {
			needsRefresh = true
			entry.refreshing = true
		})
		return cloneSearchResponse(entry.response), true, needsRefresh
	}

	metrics.CacheMissesTotal.Inc()
	delete(s.cache, key)
	delete(s.popular, key)
	return domain.SearchResponse{}, false, false
}

func (s *Service) cacheStore(key string, response domain.SearchResponse, now time.Time) {
	cacheTTL := s.effectiveTTL(key)

	// Store in Redis if available
	if s.redisCache != nil {
		_ = s.redisCache.Set(context.Background(), key, response, cacheTTL)
	}

	s.cacheStoreMemoryOnly(key, response, now, cacheTTL)
}

// effectiveTTL returns the TTL for a cache key. Trending responses churn on
// the provider side far faster than query results, so they expire sooner.
func (s *Service) effectiveTTL(key string) time.Duration {
	if strings.HasPrefix(key, trendingKeyPrefix) {
		if ttl := s.warmerCfg.trendingTTL; ttl > 0 {
			return ttl
		}
		return defaultTrendingTTL
	}
	if ttl := s.warmerCfg.cacheTTL; ttl > 0 {
		return ttl
	}
	return defaultCacheTTL
}

func (s *Service) cacheStoreMemoryOnly(key string, response domain.SearchResponse, now time.Time, cacheTTL time.Duration) {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	staleTTL := s.warmerCfg.staleTTL
	if staleTTL <= cacheTTL {
		staleTTL = cacheTTL * 3
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache[key] = &cachedSearchResponse{
		response:   cloneSearchResponse(response),
		updatedAt:  now,
		expiresAt:  now.Add(cacheTTL),
		staleUntil: now.Add(staleTTL),
		refreshing: false,
	}
	s.trimCacheLocked(now)
}

func (s *Service) cacheClearRefreshing(key string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if entry := s.cache[key]; entry != nil {
		entry.refreshing = false
	}
}

func (s *Service) markPopular(key string, request domain.SearchRequest, now time.Time) {
	// Warm cache for first-page requests; deeper pages are cheap once the
	// first page is warm.
	if request.Offset > 0 {
		return
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	pop, ok := s.popular[key]
	if !ok {
		s.popular[key] = &popularQuery{
			request:  request,
			hits:     1,
			lastSeen: now,
		}
	} else {
		pop.hits++
		pop.lastSeen = now
		pop.request = request
	}

	limit := s.warmerCfg.popularMaxEntries
	if limit <= 0 {
		limit = defaultPopularMaxEntries
	}
	if len(s.popular) <= limit {
		return
	}

	// Drop least popular + oldest query.
	type pair struct {
		key   string
		value *popularQuery
	}
	items := make([]pair, 0, len(s.popular))
	for popKey, value := range s.popular {
		items = append(items, pair{key: popKey, value: value})
	}
	sort.Slice(items, func(i, j int) bool {
		left := items[i].value
		right := items[j].value
		if left.hits != right.hits {
			return left.hits < right.hits
		}
		return left.lastSeen.Before(right.lastSeen)
	})
	for i := 0; i < len(items)-limit; i++ {
		delete(s.popular, items[i].key)
	}
}

func (s *Service) trimCacheLocked(now time.Time) {
	maxEntries := s.warmerCfg.cacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}

	for key, entry := range s.cache {
		if now.After(entry.staleUntil) {
			delete(s.cache, key)
		}
	}

	if len(s.cache) <= maxEntries {
		return
	}

	type pair struct {
		key   string
		entry *cachedSearchResponse
	}
	items := make([]pair, 0, len(s.cache))
	for key, entry := range s.cache {
		items = append(items, pair{key: key, entry: entry})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].entry.updatedAt.Before(items[j].entry.updatedAt)
	})
	for i := 0; i < len(items)-maxEntries; i++ {
		delete(s.cache, items[i].key)
	}
}

func cloneSearchResponse(response domain.SearchResponse) domain.SearchResponse {
	cloned := response
	if response.Items != nil {
		cloned.Items = make([]domain.SearchResult, len(response.Items))
		for i, item := range response.Items {
			cloned.Items[i] = cloneSearchResult(item)
		}
	}
	if response.Providers != nil {
		cloned.Providers = append([]domain.ProviderStatus(nil), response.Providers...)
	}
	return cloned
}

func cloneSearchResult(item domain.SearchResult) domain.SearchResult {
	copied := item
	if item.Rating != nil {
		value := *item.Rating
		copied.Rating = &value
	}
	if item.BoardGame != nil {
		details := *item.BoardGame
		details.Designers = append([]domain.NamedRef(nil), item.BoardGame.Designers...)
		details.Artists = append([]domain.NamedRef(nil), item.BoardGame.Artists...)
		details.Publishers = append([]domain.NamedRef(nil), item.BoardGame.Publishers...)
		details.Categories = append([]domain.NamedRef(nil), item.BoardGame.Categories...)
		details.Mechanics = append([]domain.NamedRef(nil), item.BoardGame.Mechanics...)
		details.Families = append([]domain.NamedRef(nil), item.BoardGame.Families...)
		copied.BoardGame = &details
	}
	if item.Movie != nil {
		details := *item.Movie
		copied.Movie = &details
	}
	if item.Game != nil {
		details := *item.Game
		details.Platforms = append([]domain.NamedRef(nil), item.Game.Platforms...)
		details.Genres = append([]domain.NamedRef(nil), item.Game.Genres...)
		copied.Game = &details
	}
	if item.Book != nil {
		details := *item.Book
		details.Authors = append([]string(nil), item.Book.Authors...)
		copied.Book = &details
	}
	if item.Music != nil {
		details := *item.Music
		copied.Music = &details
	}
	return copied
}

const trendingKeyPrefix = "trending|"

func buildSearchCacheKey(request domain.SearchRequest) string {
	return strings.Join([]string{
		"q=" + strings.ToLower(strings.TrimSpace(request.Query)),
		"c=" + string(request.Category),
		"l=" + strconv.Itoa(request.Limit),
		"o=" + strconv.Itoa(request.Offset),
		"sb=" + string(request.SortBy),
		"x=" + boolKey(request.Exact),
		"f=" + filtersKey(request.Filters),
	}, "|")
}

func buildTrendingCacheKey(category domain.MediaCategory, limit int) string {
	return trendingKeyPrefix + string(category) + "|l=" + strconv.Itoa(limit)
}

func filtersKey(filters domain.SearchFilters) string {
	return strings.Join([]string{
		"pl=" + strconv.Itoa(filters.MinPlayers) + "-" + strconv.Itoa(filters.MaxPlayers),
		"pt=" + strconv.Itoa(filters.MinPlayTime) + "-" + strconv.Itoa(filters.MaxPlayTime),
		"ma=" + strconv.Itoa(filters.MinAge),
		"y=" + strconv.Itoa(filters.YearFrom) + "-" + strconv.Itoa(filters.YearTo),
		"mr=" + strconv.FormatFloat(filters.MinRating, 'f', 2, 64),
		"cx=" + strings.ToLower(strings.TrimSpace(filters.Complexity)),
		"g=" + strings.ToLower(strings.TrimSpace(filters.Genre)),
		"mp=" + strconv.FormatFloat(filters.MaxPrice, 'f', 2, 64),
		"xe=" + boolKey(filters.ExcludeExplicit),
	}, ";")
}

func boolKey(value bool) string {
	if value {
		return "1"
	}
	return "0"
}
