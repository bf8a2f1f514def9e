package googlebooks

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
	defaultBaseURL = "https://www.googleapis.com/books/v1"

	// Google Books averageRating is 0-5 already.
	ratingScale = 5

	maxPageSize = 40
)

type Config struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// Provider wraps the Google Books volumes API. The key is optional; keyless
// requests run against the public quota.
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
	return "googlebooks"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:     p.Name(),
		Label:    "Google Books",
		Category: domain.CategoryBook,
		Enabled:  true,
	}
}

func (p *Provider) Category() domain.MediaCategory {
	return domain.CategoryBook
}

type rawVolume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title         string   `json:"title"`
		Authors       []string `json:"authors,omitempty"`
		Publisher     string   `json:"publisher,omitempty"`
		PublishedDate string   `json:"publishedDate,omitempty"`
		Description   string   `json:"description,omitempty"`
		PageCount     int      `json:"pageCount,omitempty"`
		AverageRating float64  `json:"averageRating,omitempty"`
		RatingsCount  int      `json:"ratingsCount,omitempty"`
		ImageLinks    struct {
			Thumbnail      string `json:"thumbnail,omitempty"`
			SmallThumbnail string `json:"smallThumbnail,omitempty"`
		} `json:"imageLinks,omitempty"`
	} `json:"volumeInfo"`
}

type volumePage struct {
	Items []rawVolume `json:"items"`
}

func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	query := strings.TrimSpace(request.Query)
	if query == "" {
		return nil, errors.New("query is required")
	}
	if request.Exact {
		query = `"` + query + `"`
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
		"q":          {query},
		"maxResults": {strconv.Itoa(pageSize)},
		"printType":  {"books"},
	}
	page, err := p.getVolumes(ctx, params)
	if err != nil {
		return nil, err
	}
	return p.toResults(page.Items, limit), nil
}

// Recommend searches by the seed's first author; books have no first-class
// related-volumes endpoint.
func (p *Provider) Recommend(ctx context.Context, item domain.SearchResult, limit int) ([]domain.SearchResult, error) {
	if item.Book == nil || len(item.Book.Authors) == 0 {
		return []domain.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{
		"q":          {"inauthor:" + `"` + item.Book.Authors[0] + `"`},
		"maxResults": {strconv.Itoa(min(limit+1, maxPageSize))},
		"printType":  {"books"},
	}
	page, err := p.getVolumes(ctx, params)
	if err != nil {
		return nil, err
	}

	results := p.toResults(page.Items, limit+1)
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

func (p *Provider) toResults(volumes []rawVolume, limit int) []domain.SearchResult {
	results := make([]domain.SearchResult, 0, len(volumes))
	for _, volume := range volumes {
		info := volume.VolumeInfo
		title := strings.TrimSpace(info.Title)
		id := strings.TrimSpace(volume.ID)
		if id == "" || title == "" {
			continue
		}

		var rating *float64
		if info.AverageRating > 0 {
			rating = common.NormalizeRating(info.AverageRating, ratingScale, true)
		}

		image := info.ImageLinks.Thumbnail
		if image == "" {
			image = info.ImageLinks.SmallThumbnail
		}
		// Google Books thumbnails come over plain HTTP by default.
		image = strings.Replace(image, "http://", "https://", 1)

		description := common.TruncateText(common.CleanMarkupText(info.Description), 500)

		results = append(results, domain.SearchResult{
			ID:           id,
			Source:       p.Name(),
			Category:     domain.CategoryBook,
			Title:        title,
			Year:         common.YearFromDate(info.PublishedDate),
			Image:        image,
			Rating:       rating,
			RatingsCount: info.RatingsCount,
			Book: &domain.BookDetails{
				Authors:     info.Authors,
				Publisher:   info.Publisher,
				PageCount:   info.PageCount,
				Description: description,
			},
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}

func (p *Provider) getVolumes(ctx context.Context, params url.Values) (volumePage, error) {
	if p.apiKey != "" {
		params.Set("key", p.apiKey)
	}
	reqURL := p.baseURL + "/volumes?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return volumePage{}, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return volumePage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return volumePage{}, fmt.Errorf("googlebooks HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return volumePage{}, err
	}

	var page volumePage
	if err := json.Unmarshal(body, &page); err != nil {
		return volumePage{}, err
	}
	return page, nil
}
