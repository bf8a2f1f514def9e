package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mediascout/searchservice/internal/domain"
	"mediascout/searchservice/internal/providers/common"
)

const (
	defaultBaseURL  = "https://api.themoviedb.org/3"
	posterBaseURL   = "https://image.tmdb.org/t/p/w300"
	defaultLanguage = "en-US"
	redisCacheKey   = "msearch:tmdb:"

	// TMDB ratings come back on a 0-10 scale.
	ratingScale = 10
)

type Config struct {
	APIKey   string
	BaseURL  string
	Language string
	Client   *http.Client
	Redis    *redis.Client
	CacheTTL time.Duration
}

// Provider wraps the TMDB v3 JSON API for movies and TV. Raw API responses
// are cached in Redis when a client is supplied; TMDB metadata churns slowly,
// so a long TTL is safe.
type Provider struct {
	apiKey   string
	baseURL  string
	language string
	http     *http.Client
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewProvider(cfg Config) *Provider {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = defaultLanguage
	}
	return &Provider{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: language,
		http:     httpClient,
		redis:    cfg.Redis,
		cacheTTL: cacheTTL,
	}
}

func (p *Provider) Name() string {
	return "tmdb"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:     p.Name(),
		Label:    "The Movie Database",
		Category: domain.CategoryMovie,
		Enabled:  p.Enabled(),
	}
}

func (p *Provider) Category() domain.MediaCategory {
	return domain.CategoryMovie
}

func (p *Provider) Enabled() bool {
	return p.apiKey != ""
}

type rawResult struct {
	ID           int     `json:"id"`
	Title        string  `json:"title,omitempty"`
	Name         string  `json:"name,omitempty"`
	Overview     string  `json:"overview,omitempty"`
	PosterPath   string  `json:"poster_path,omitempty"`
	VoteAverage  float64 `json:"vote_average,omitempty"`
	VoteCount    int     `json:"vote_count,omitempty"`
	Popularity   float64 `json:"popularity,omitempty"`
	ReleaseDate  string  `json:"release_date,omitempty"`
	FirstAirDate string  `json:"first_air_date,omitempty"`
	MediaType    string  `json:"media_type,omitempty"`
}

func (r rawResult) displayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

func (r rawResult) year() int {
	date := r.ReleaseDate
	if date == "" {
		date = r.FirstAirDate
	}
	return common.YearFromDate(date)
}

type resultPage struct {
	Results []rawResult `json:"results"`
}

func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	if !p.Enabled() {
		return nil, errors.New("tmdb api key not configured")
	}
	query := strings.TrimSpace(request.Query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	params := url.Values{
		"query":    {query},
		"language": {p.language},
	}
	page, err := p.getPage(ctx, "/search/multi", params, "search:"+strings.ToLower(query))
	if err != nil {
		return nil, err
	}

	limit := request.Limit
	if limit <= 0 {
		limit = 30
	}

	results := make([]domain.SearchResult, 0, len(page.Results))
	for _, raw := range page.Results {
		if raw.MediaType != "movie" && raw.MediaType != "tv" {
			continue
		}
		result, ok := p.toResult(raw)
		if !ok {
			continue
		}
		results = append(results, result)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (p *Provider) Trending(ctx context.Context, limit int) ([]domain.SearchResult, error) {
	if !p.Enabled() {
		return nil, errors.New("tmdb api key not configured")
	}
	page, err := p.getPage(ctx, "/trending/movie/week", url.Values{"language": {p.language}}, "trending")
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 20
	}
	results := make([]domain.SearchResult, 0, limit)
	for i, raw := range page.Results {
		result, ok := p.toResult(raw)
		if !ok {
			continue
		}
		// The trending feed is already popularity-ordered; record position
		// as rank so downstream scoring sees the signal.
		result.Rank = i + 1
		results = append(results, result)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (p *Provider) Recommend(ctx context.Context, item domain.SearchResult, limit int) ([]domain.SearchResult, error) {
	if !p.Enabled() {
		return nil, errors.New("tmdb api key not configured")
	}
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return []domain.SearchResult{}, nil
	}

	page, err := p.getPage(ctx, "/movie/"+url.PathEscape(id)+"/recommendations",
		url.Values{"language": {p.language}}, "recommend:"+id)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 10
	}
	results := make([]domain.SearchResult, 0, limit)
	for _, raw := range page.Results {
		if strconv.Itoa(raw.ID) == id {
			continue
		}
		result, ok := p.toResult(raw)
		if !ok {
			continue
		}
		results = append(results, result)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (p *Provider) toResult(raw rawResult) (domain.SearchResult, bool) {
	title := strings.TrimSpace(raw.displayTitle())
	if title == "" || raw.ID == 0 {
		return domain.SearchResult{}, false
	}

	image := ""
	if raw.PosterPath != "" {
		image = posterBaseURL + raw.PosterPath
	}

	var rating *float64
	if raw.VoteAverage > 0 {
		rating = common.NormalizeRating(raw.VoteAverage, ratingScale, true)
	}

	overview := common.TruncateText(common.CleanMarkupText(raw.Overview), 500)

	mediaType := raw.MediaType
	if mediaType == "" {
		mediaType = "movie"
	}

	return domain.SearchResult{
		ID:           strconv.Itoa(raw.ID),
		Source:       p.Name(),
		Category:     domain.CategoryMovie,
		Title:        title,
		Year:         raw.year(),
		Image:        image,
		Rating:       rating,
		RatingsCount: raw.VoteCount,
		Movie: &domain.MovieDetails{
			Overview:   overview,
			Popularity: raw.Popularity,
			MediaType:  mediaType,
		},
	}, true
}

// getPage fetches one result page, consulting the Redis response cache first.
// Cache failures fall through to the network; they never fail the call.
func (p *Provider) getPage(ctx context.Context, path string, params url.Values, cacheKey string) (resultPage, error) {
	fullKey := redisCacheKey + p.language + ":" + cacheKey

	if p.redis != nil {
		if data, err := p.redis.Get(ctx, fullKey).Bytes(); err == nil {
			var page resultPage
			if json.Unmarshal(data, &page) == nil {
				return page, nil
			}
		}
	}

	params.Set("api_key", p.apiKey)
	reqURL := p.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return resultPage{}, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return resultPage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resultPage{}, fmt.Errorf("tmdb HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return resultPage{}, err
	}

	var page resultPage
	if err := json.Unmarshal(body, &page); err != nil {
		return resultPage{}, err
	}

	if p.redis != nil {
		if data, err := json.Marshal(page); err == nil {
			_ = p.redis.Set(ctx, fullKey, data, p.cacheTTL).Err()
		}
	}

	return page, nil
}
