package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"mediascout/searchservice/internal/domain"
)

var (
	ErrInvalidQuery    = errors.New("query is required")
	ErrNoProviders     = errors.New("no search providers configured")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidOffset   = errors.New("offset must be >= 0")
)

type Provider interface {
	Name() string
	Info() domain.ProviderInfo
	Category() domain.MediaCategory
	Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error)
}

// Trender is an optional interface for providers that expose a popularity or
// hot list independent of any query.
type Trender interface {
	Trending(ctx context.Context, limit int) ([]domain.SearchResult, error)
}

// Recommender is an optional interface for providers that can produce results
// related to a seed item.
type Recommender interface {
	Recommend(ctx context.Context, item domain.SearchResult, limit int) ([]domain.SearchResult, error)
}

// RateLimited is an optional interface for providers that declare a minimum
// interval between outbound requests. The service enforces it with a shared
// per-provider limiter so concurrent searches cannot stack requests.
type RateLimited interface {
	RequestInterval() time.Duration
}

type Service struct {
	providers     map[string]Provider
	timeout       time.Duration
	cacheDisabled bool
	cacheMu       sync.RWMutex
	cache         map[string]*cachedSearchResponse
	popular       map[string]*popularQuery
	warmerCfg     searchWarmerConfig
	warmerRun     atomic.Bool
	redisCache    *RedisCacheBackend
	limiterMu     sync.Mutex
	limiters      map[string]*rate.Limiter
	healthMu      sync.Mutex
	health        map[string]*providerHealth
}

type ServiceOption func(*Service)

func WithRedisCache(backend *RedisCacheBackend) ServiceOption {
	return func(s *Service) {
		s.redisCache = backend
	}
}

func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.warmerCfg.cacheTTL = ttl
			s.warmerCfg.staleTTL = ttl * 3
		}
	}
}

func WithTrendingCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.warmerCfg.trendingTTL = ttl
		}
	}
}

func WithCacheDisabled(disabled bool) ServiceOption {
	return func(s *Service) {
		s.cacheDisabled = disabled
	}
}

func NewService(providers []Provider, timeout time.Duration, opts ...ServiceOption) *Service {
	registry := make(map[string]Provider, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(provider.Name()))
		if name == "" {
			continue
		}
		registry[name] = provider
		for _, alias := range providerAliases(name) {
			if _, exists := registry[alias]; !exists {
				registry[alias] = provider
			}
		}
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	svc := &Service{
		providers: registry,
		timeout:   timeout,
		cache:     make(map[string]*cachedSearchResponse),
		popular:   make(map[string]*popularQuery),
		warmerCfg: defaultSearchWarmerConfig(),
		limiters:  make(map[string]*rate.Limiter),
		health:    make(map[string]*providerHealth),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) StartBackground(ctx context.Context) {
	if s.warmerRun.CompareAndSwap(false, true) {
		go s.runWarmer(ctx)
	}
}

func providerAliases(name string) []string {
	switch name {
	case "bgg":
		return []string{"boardgamegeek"}
	case "googlebooks":
		return []string{"books"}
	case "itunes":
		return []string{"music"}
	default:
		return nil
	}
}

func (s *Service) Providers() []domain.ProviderInfo {
	if len(s.providers) == 0 {
		return nil
	}
	items := make([]domain.ProviderInfo, 0, len(s.providers))
	seen := make(map[string]struct{}, len(s.providers))
	for _, provider := range s.providers {
		info := provider.Info()
		if info.Name == "" {
			info.Name = strings.ToLower(strings.TrimSpace(provider.Name()))
		}
		info.Name = strings.ToLower(strings.TrimSpace(info.Name))
		if info.Name == "" {
			continue
		}
		if _, exists := seen[info.Name]; exists {
			continue
		}
		seen[info.Name] = struct{}{}
		if info.Label == "" {
			info.Label = info.Name
		}
		items = append(items, info)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}
