package itunes

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
	defaultBaseURL = "https://itunes.apple.com"

	maxPageSize = 50

	// iTunes throttles aggressively (roughly 20 calls/min); space requests.
	requestInterval = 3 * time.Second
)

type Config struct {
	BaseURL string
	Country string
	Client  *http.Client
}

// Provider wraps the keyless iTunes Search API for music tracks.
type Provider struct {
	baseURL string
	country string
	http    *http.Client
}

func NewProvider(cfg Config) *Provider {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	country := strings.TrimSpace(cfg.Country)
	if country == "" {
		country = "US"
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		country: country,
		http:    httpClient,
	}
}

func (p *Provider) Name() string {
	return "itunes"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:     p.Name(),
		Label:    "iTunes",
		Category: domain.CategoryMusic,
		Enabled:  true,
	}
}

func (p *Provider) Category() domain.MediaCategory {
	return domain.CategoryMusic
}

func (p *Provider) RequestInterval() time.Duration {
	return requestInterval
}

type rawTrack struct {
	TrackID           int64   `json:"trackId"`
	TrackName         string  `json:"trackName"`
	ArtistName        string  `json:"artistName,omitempty"`
	CollectionName    string  `json:"collectionName,omitempty"`
	ArtworkURL100     string  `json:"artworkUrl100,omitempty"`
	TrackPrice        float64 `json:"trackPrice,omitempty"`
	ReleaseDate       string  `json:"releaseDate,omitempty"`
	PrimaryGenreName  string  `json:"primaryGenreName,omitempty"`
	TrackExplicitness string  `json:"trackExplicitness,omitempty"`
	PreviewURL        string  `json:"previewUrl,omitempty"`
}

type trackPage struct {
	Results []rawTrack `json:"results"`
}

func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	query := strings.TrimSpace(request.Query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	limit := request.Limit
	if limit <= 0 {
		limit = 30
	}
	pageSize := limit
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	params := url.Values{
		"term":    {query},
		"media":   {"music"},
		"entity":  {"song"},
		"country": {p.country},
		"limit":   {strconv.Itoa(pageSize)},
	}
	page, err := p.getTracks(ctx, params)
	if err != nil {
		return nil, err
	}
	return p.toResults(page.Results, limit), nil
}

// Recommend searches by the seed track's artist, excluding the seed itself.
func (p *Provider) Recommend(ctx context.Context, item domain.SearchResult, limit int) ([]domain.SearchResult, error) {
	if item.Music == nil || strings.TrimSpace(item.Music.Artist) == "" {
		return []domain.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{
		"term":      {item.Music.Artist},
		"media":     {"music"},
		"entity":    {"song"},
		"attribute": {"artistTerm"},
		"country":   {p.country},
		"limit":     {strconv.Itoa(limit + 1)},
	}
	page, err := p.getTracks(ctx, params)
	if err != nil {
		return nil, err
	}

	results := p.toResults(page.Results, limit+1)
	out := make([]domain.SearchResult, 0, limit)
	for _, result := range results {
		if result.ID == item.ID {
			continue
		}
		out = append(out, result)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) toResults(tracks []rawTrack, limit int) []domain.SearchResult {
	results := make([]domain.SearchResult, 0, len(tracks))
	for _, track := range tracks {
		name := strings.TrimSpace(track.TrackName)
		if name == "" || track.TrackID == 0 {
			continue
		}

		results = append(results, domain.SearchResult{
			ID:       strconv.FormatInt(track.TrackID, 10),
			Source:   p.Name(),
			Category: domain.CategoryMusic,
			Title:    name,
			Year:     common.YearFromDate(track.ReleaseDate),
			Image:    strings.TrimSpace(track.ArtworkURL100),
			Music: &domain.MusicDetails{
				Artist:     track.ArtistName,
				Album:      track.CollectionName,
				Price:      track.TrackPrice,
				Explicit:   strings.EqualFold(track.TrackExplicitness, "explicit"),
				PreviewURL: track.PreviewURL,
				Genre:      track.PrimaryGenreName,
			},
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}

func (p *Provider) getTracks(ctx context.Context, params url.Values) (trackPage, error) {
	reqURL := p.baseURL + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return trackPage{}, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return trackPage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return trackPage{}, fmt.Errorf("itunes HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return trackPage{}, err
	}

	var page trackPage
	if err := json.Unmarshal(body, &page); err != nil {
		return trackPage{}, err
	}
	return page, nil
}
