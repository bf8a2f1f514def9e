package rawg

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

	"mediascout/searchservice/internal/domain"
	"mediascout/searchservice/internal/providers/common"
)

const (
	defaultBaseURL = "https://api.rawg.io/api"

	// RAWG ratings are 0-5 already; no rescale needed beyond clamping.
	ratingScale = 5
)

type Config struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// Provider wraps the RAWG video-game database JSON API.
type Provider struct {
	apiKey  string
	baseURL string
	http    *http.Client
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
	return &Provider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (p *Provider) Name() string {
	return "rawg"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:     p.Name(),
		Label:    "RAWG",
		Category: domain.CategoryVideoGame,
		Enabled:  p.Enabled(),
	}
}

func (p *Provider) Category() domain.MediaCategory {
	return domain.CategoryVideoGame
}

func (p *Provider) Enabled() bool {
	return p.apiKey != ""
}

type rawGame struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Released        string  `json:"released,omitempty"`
	BackgroundImage string  `json:"background_image,omitempty"`
	Rating          float64 `json:"rating,omitempty"`
	RatingsCount    int     `json:"ratings_count,omitempty"`
	Metacritic      int     `json:"metacritic,omitempty"`
	Platforms       []struct {
		Platform struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"platform"`
	} `json:"platforms,omitempty"`
	Genres []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres,omitempty"`
}

type gamePage struct {
	Results []rawGame `json:"results"`
}

func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	if !p.Enabled() {
		return nil, errors.New("rawg api key not configured")
	}
	query := strings.TrimSpace(request.Query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	limit := request.Limit
	if limit <= 0 {
		limit = 30
	}
	params := url.Values{
		"search":    {query},
		"page_size": {strconv.Itoa(limit)},
	}
	if request.Exact {
		params.Set("search_exact", "true")
	}

	page, err := p.getPage(ctx, "/games", params)
	if err != nil {
		return nil, err
	}
	return p.toResults(page.Results, limit, 0), nil
}

// Trending uses the most-added listing for the trailing year window.
func (p *Provider) Trending(ctx context.Context, limit int) ([]domain.SearchResult, error) {
	if !p.Enabled() {
		return nil, errors.New("rawg api key not configured")
	}
	if limit <= 0 {
		limit = 20
	}

	yearEnd := time.Now()
	yearStart := yearEnd.AddDate(-1, 0, 0)
	params := url.Values{
		"dates":     {yearStart.Format("2006-01-02") + "," + yearEnd.Format("2006-01-02")},
		"ordering":  {"-added"},
		"page_size": {strconv.Itoa(limit)},
	}

	page, err := p.getPage(ctx, "/games", params)
	if err != nil {
		return nil, err
	}
	return p.toResults(page.Results, limit, 1), nil
}

// Recommend walks the same-series listing first and falls back to a
// genre-seeded search.
func (p *Provider) Recommend(ctx context.Context, item domain.SearchResult, limit int) ([]domain.SearchResult, error) {
	if !p.Enabled() {
		return nil, errors.New("rawg api key not configured")
	}
	id := strings.TrimSpace(item.ID)
	if limit <= 0 {
		limit = 10
	}

	if id != "" {
		params := url.Values{"page_size": {strconv.Itoa(limit)}}
		page, err := p.getPage(ctx, "/games/"+url.PathEscape(id)+"/game-series", params)
		if err == nil && len(page.Results) > 0 {
			return filterOutSeed(p.toResults(page.Results, limit, 0), id), nil
		}
	}

	if item.Game != nil && len(item.Game.Genres) > 0 {
		params := url.Values{
			"genres":    {strings.ToLower(item.Game.Genres[0].Name)},
			"ordering":  {"-rating"},
			"page_size": {strconv.Itoa(limit + 1)},
		}
		page, err := p.getPage(ctx, "/games", params)
		if err != nil {
			return nil, err
		}
		related := filterOutSeed(p.toResults(page.Results, limit+1, 0), id)
		if len(related) > limit {
			related = related[:limit]
		}
		return related, nil
	}

	return []domain.SearchResult{}, nil
}

func filterOutSeed(results []domain.SearchResult, seedID string) []domain.SearchResult {
	if seedID == "" {
		return results
	}
	out := results[:0]
	for _, result := range results {
		if result.ID != seedID {
			out = append(out, result)
		}
	}
	return out
}

func (p *Provider) toResults(games []rawGame, limit int, rankFrom int) []domain.SearchResult {
	results := make([]domain.SearchResult, 0, len(games))
	for i, game := range games {
		name := strings.TrimSpace(game.Name)
		if name == "" || game.ID == 0 {
			continue
		}

		var rating *float64
		if game.Rating > 0 {
			rating = common.NormalizeRating(game.Rating, ratingScale, true)
		}

		details := &domain.GameDetails{
			Metacritic: game.Metacritic,
			Released:   game.Released,
		}
		for _, entry := range game.Platforms {
			if entry.Platform.Name == "" {
				continue
			}
			details.Platforms = append(details.Platforms, domain.NamedRef{
				ID:   strconv.Itoa(entry.Platform.ID),
				Name: entry.Platform.Name,
			})
		}
		for _, genre := range game.Genres {
			if genre.Name == "" {
				continue
			}
			details.Genres = append(details.Genres, domain.NamedRef{
				ID:   strconv.Itoa(genre.ID),
				Name: genre.Name,
			})
		}

		rank := 0
		if rankFrom > 0 {
			rank = rankFrom + i
		}

		results = append(results, domain.SearchResult{
			ID:           strconv.Itoa(game.ID),
			Source:       p.Name(),
			Category:     domain.CategoryVideoGame,
			Title:        name,
			Year:         common.YearFromDate(game.Released),
			Image:        strings.TrimSpace(game.BackgroundImage),
			Rating:       rating,
			RatingsCount: game.RatingsCount,
			Rank:         rank,
			Game:         details,
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}

func (p *Provider) getPage(ctx context.Context, path string, params url.Values) (gamePage, error) {
	params.Set("key", p.apiKey)
	reqURL := p.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return gamePage{}, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return gamePage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return gamePage{}, fmt.Errorf("rawg HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return gamePage{}, err
	}

	var page gamePage
	if err := json.Unmarshal(body, &page); err != nil {
		return gamePage{}, err
	}
	return page, nil
}
