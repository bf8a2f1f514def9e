package bgg

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mediascout/searchservice/internal/domain"
	"mediascout/searchservice/internal/providers/common"
)

const (
	defaultEndpoint  = "https://boardgamegeek.com/xmlapi2"
	defaultUserAgent = "mediascout-search/1.0"

	// BGG documents a limit of one request per second per client.
	requestInterval = time.Second

	// The API answers batched /thing requests with an "accepted, still
	// processing" page while it builds the response. One bounded retry
	// after this backoff, then the batch degrades to an empty set.
	processingBackoff = 2 * time.Second

	// Callers should keep /thing batches small; oversized id lists trip
	// the interim-processing path far more often.
	maxDetailBatch = 20
)

// processingMarker is matched by substring against the raw body; the interim
// response is plain text, not XML, so it must be detected before parsing.
const processingMarker = "Your request for this collection has been accepted"

type Config struct {
	Endpoint        string
	UserAgent       string
	RequestInterval time.Duration
	Client          *http.Client
}

type Provider struct {
	client    *http.Client
	endpoint  string
	userAgent string
	interval  time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	interval := cfg.RequestInterval
	if interval <= 0 {
		interval = requestInterval
	}
	return &Provider{
		client:    client,
		endpoint:  endpoint,
		userAgent: userAgent,
		interval:  interval,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		logger:    slog.Default(),
	}
}

func (p *Provider) Name() string {
	return "bgg"
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:     p.Name(),
		Label:    "BoardGameGeek",
		Category: domain.CategoryBoardGame,
		Enabled:  true,
	}
}

func (p *Provider) Category() domain.MediaCategory {
	return domain.CategoryBoardGame
}

func (p *Provider) RequestInterval() time.Duration {
	return p.interval
}

// Search runs the two-step BGG flow: /search for candidate ids, then a
// batched /thing?stats=1 fetch for full records. The detail fetch always
// follows the id search; the two steps are never reordered or interleaved.
func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	query := strings.TrimSpace(request.Query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	hits, err := p.searchIDs(ctx, query, request.Exact)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []domain.SearchResult{}, nil
	}

	limit := request.Limit
	if limit <= 0 {
		limit = 30
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.ID)
	}
	return p.GetDetailsByIDs(ctx, ids)
}

type searchHit struct {
	ID   string
	Name string
	Year int
}

func (p *Provider) searchIDs(ctx context.Context, query string, exact bool) ([]searchHit, error) {
	params := url.Values{
		"query": {query},
		"type":  {"boardgame"},
	}
	if exact {
		params.Set("exact", "1")
	}

	payload, err := p.get(ctx, "/search", params)
	if err != nil {
		return nil, err
	}

	var parsed searchDocument
	if err := xml.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("invalid search XML: %w", err)
	}

	hits := make([]searchHit, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		id := strings.TrimSpace(item.ID)
		name := item.primaryName()
		if id == "" || name == "" {
			continue
		}
		hits = append(hits, searchHit{
			ID:   id,
			Name: name,
			Year: item.YearPublished.Value,
		})
	}
	return hits, nil
}

// GetDetailsByIDs fetches full records for up to maxDetailBatch ids per
// request. The interim "accepted, still processing" response is retried once
// after a fixed backoff and then degrades to an empty set: the caller renders
// "no results", it does not crash.
func (p *Provider) GetDetailsByIDs(ctx context.Context, ids []string) ([]domain.SearchResult, error) {
	results := make([]domain.SearchResult, 0, len(ids))
	for start := 0; start < len(ids); start += maxDetailBatch {
		end := start + maxDetailBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := p.fetchThingBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (p *Provider) fetchThingBatch(ctx context.Context, ids []string) ([]domain.SearchResult, error) {
	params := url.Values{
		"id":    {strings.Join(ids, ",")},
		"type":  {"boardgame"},
		"stats": {"1"},
	}

	payload, err := p.get(ctx, "/thing", params)
	if err != nil {
		return nil, err
	}

	if isProcessingResponse(payload) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(processingBackoff):
		}
		payload, err = p.get(ctx, "/thing", params)
		if err != nil {
			return nil, err
		}
		if isProcessingResponse(payload) {
			p.logger.Warn("bgg details still processing after retry, returning empty batch",
				slog.Int("ids", len(ids)))
			return []domain.SearchResult{}, nil
		}
	}

	var parsed thingDocument
	if err := xml.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("invalid thing XML: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		result, ok := p.itemToResult(item)
		if !ok {
			p.logger.Debug("bgg record dropped: no primary name", slog.String("id", item.ID))
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// Trending returns the hot list, rank-ascending (rank 1 = hottest).
func (p *Provider) Trending(ctx context.Context, limit int) ([]domain.SearchResult, error) {
	payload, err := p.get(ctx, "/hot", url.Values{"type": {"boardgame"}})
	if err != nil {
		return nil, err
	}

	var parsed hotDocument
	if err := xml.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("invalid hot list XML: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		name := strings.TrimSpace(item.Name.Value)
		id := strings.TrimSpace(item.ID)
		if id == "" || name == "" {
			continue
		}
		results = append(results, domain.SearchResult{
			ID:       id,
			Source:   p.Name(),
			Category: domain.CategoryBoardGame,
			Title:    name,
			Year:     item.YearPublished.Value,
			Image:    strings.TrimSpace(item.Thumbnail.Value),
			Rank:     item.Rank,
		})
	}
	sortByRankAscending(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Recommend re-searches using the seed game's strongest category or mechanic
// and filters the seed itself out. BGG has no first-class related-items
// endpoint, so shared taxonomy is the closest signal available.
func (p *Provider) Recommend(ctx context.Context, item domain.SearchResult, limit int) ([]domain.SearchResult, error) {
	seedID := strings.TrimSpace(item.ID)
	details := item.BoardGame
	if details == nil && seedID != "" {
		fetched, err := p.GetDetailsByIDs(ctx, []string{seedID})
		if err != nil {
			return nil, err
		}
		if len(fetched) > 0 {
			details = fetched[0].BoardGame
		}
	}

	seedTerm := ""
	if details != nil {
		if len(details.Categories) > 0 {
			seedTerm = details.Categories[0].Name
		} else if len(details.Mechanics) > 0 {
			seedTerm = details.Mechanics[0].Name
		}
	}
	if seedTerm == "" {
		seedTerm = firstTitleWord(item.Title)
	}
	if seedTerm == "" {
		return []domain.SearchResult{}, nil
	}

	if limit <= 0 {
		limit = 10
	}
	related, err := p.Search(ctx, domain.SearchRequest{Query: seedTerm, Limit: limit + 1})
	if err != nil {
		return nil, err
	}

	out := make([]domain.SearchResult, 0, limit)
	for _, candidate := range related {
		if candidate.ID == seedID {
			continue
		}
		out = append(out, candidate)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *Provider) itemToResult(item thingItem) (domain.SearchResult, bool) {
	name := item.primaryName()
	if name == "" {
		return domain.SearchResult{}, false
	}

	stats := item.Statistics.Ratings
	var rating *float64
	if avg := stats.Average.Value; avg > 0 {
		rating = common.NormalizeRating(avg, 10, true)
	}

	details := &domain.BoardGameDetails{
		MinPlayers:  item.MinPlayers.Value,
		MaxPlayers:  item.MaxPlayers.Value,
		MinPlayTime: item.MinPlayTime.Value,
		MaxPlayTime: item.MaxPlayTime.Value,
		MinAge:      item.MinAge.Value,
		Weight:      stats.AverageWeight.Value,
		OwnedCount:  stats.Owned.Value,
		Description: common.CleanMarkupText(item.Description),
		Designers:   item.linksOfType("boardgamedesigner"),
		Artists:     item.linksOfType("boardgameartist"),
		Publishers:  item.linksOfType("boardgamepublisher"),
		Categories:  item.linksOfType("boardgamecategory"),
		Mechanics:   item.linksOfType("boardgamemechanic"),
		Families:    item.linksOfType("boardgamefamily"),
	}
	details.PlayerCountText = common.RangeText(details.MinPlayers, details.MaxPlayers, "players")
	details.PlayTimeText = common.RangeText(details.MinPlayTime, details.MaxPlayTime, "minutes")
	details.Complexity = common.ComplexityLabel(details.Weight)

	image := strings.TrimSpace(item.Image)
	if image == "" {
		image = strings.TrimSpace(item.Thumbnail)
	}

	return domain.SearchResult{
		ID:           strings.TrimSpace(item.ID),
		Source:       p.Name(),
		Category:     domain.CategoryBoardGame,
		Title:        name,
		Year:         item.YearPublished.Value,
		Image:        image,
		Rating:       rating,
		RatingsCount: stats.UsersRated.Value,
		Rank:         stats.boardGameRank(),
		BoardGame:    details,
	}, true
}

func (p *Provider) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	// One token per outbound request: a search that fans into several /thing
	// batches still honors the documented request rate.
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	uri := p.endpoint + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/xml,text/xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// 202 is the queued variant of the interim-processing page.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("bgg HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
}

func isProcessingResponse(payload []byte) bool {
	return strings.Contains(string(payload), processingMarker)
}

func sortByRankAscending(results []domain.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Rank < results[j].Rank
	})
}

func firstTitleWord(title string) string {
	fields := strings.Fields(strings.TrimSpace(title))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// XML document shapes. BGG emits both self-closing value-attribute tags
// (<minplayers value="2"/>) and text-content tags (CDATA descriptions);
// the attr/chardata split below tolerates both.

type searchDocument struct {
	Items []searchItem `xml:"item"`
}

type searchItem struct {
	ID            string     `xml:"id,attr"`
	Type          string     `xml:"type,attr"`
	Names         []nameNode `xml:"name"`
	YearPublished valueInt   `xml:"yearpublished"`
}

func (s searchItem) primaryName() string {
	return primaryNameOf(s.Names)
}

type thingDocument struct {
	Items []thingItem `xml:"item"`
}

type thingItem struct {
	ID            string     `xml:"id,attr"`
	Type          string     `xml:"type,attr"`
	Names         []nameNode `xml:"name"`
	YearPublished valueInt   `xml:"yearpublished"`
	Image         string     `xml:"image"`
	Thumbnail     string     `xml:"thumbnail"`
	Description   string     `xml:"description"`
	MinPlayers    valueInt   `xml:"minplayers"`
	MaxPlayers    valueInt   `xml:"maxplayers"`
	MinPlayTime   valueInt   `xml:"minplaytime"`
	MaxPlayTime   valueInt   `xml:"maxplaytime"`
	MinAge        valueInt   `xml:"minage"`
	Links         []linkNode `xml:"link"`
	Statistics    statistics `xml:"statistics"`
}

func (t thingItem) primaryName() string {
	return primaryNameOf(t.Names)
}

// linksOfType extracts every repeated <link type="X"> sibling as an {id, name}
// pair; the same generic routine serves designers, mechanics, categories and
// the rest of the taxonomy.
func (t thingItem) linksOfType(linkType string) []domain.NamedRef {
	var refs []domain.NamedRef
	for _, link := range t.Links {
		if !strings.EqualFold(strings.TrimSpace(link.Type), linkType) {
			continue
		}
		name := strings.TrimSpace(link.Value)
		if name == "" {
			continue
		}
		refs = append(refs, domain.NamedRef{ID: strings.TrimSpace(link.ID), Name: name})
	}
	return refs
}

type nameNode struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

func primaryNameOf(names []nameNode) string {
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name.Type), "primary") {
			return strings.TrimSpace(name.Value)
		}
	}
	return ""
}

type linkNode struct {
	Type  string `xml:"type,attr"`
	ID    string `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

type valueInt struct {
	Value int `xml:"value,attr"`
}

type valueFloat struct {
	Value float64 `xml:"value,attr"`
}

type statistics struct {
	Ratings ratingStats `xml:"ratings"`
}

type ratingStats struct {
	Average       valueFloat `xml:"average"`
	UsersRated    valueInt   `xml:"usersrated"`
	AverageWeight valueFloat `xml:"averageweight"`
	Owned         valueInt   `xml:"owned"`
	Ranks         rankList   `xml:"ranks"`
}

type rankList struct {
	Ranks []rankNode `xml:"rank"`
}

type rankNode struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// boardGameRank returns the overall boardgame rank, 0 when the item is
// unranked ("Not Ranked" in the wire format).
func (r ratingStats) boardGameRank() int {
	for _, rank := range r.Ranks.Ranks {
		if !strings.EqualFold(strings.TrimSpace(rank.Name), "boardgame") {
			continue
		}
		value, err := strconv.Atoi(strings.TrimSpace(rank.Value))
		if err != nil || value <= 0 {
			return 0
		}
		return value
	}
	return 0
}

type hotDocument struct {
	Items []hotItem `xml:"item"`
}

type hotItem struct {
	ID            string    `xml:"id,attr"`
	Rank          int       `xml:"rank,attr"`
	Name          valueAttr `xml:"name"`
	YearPublished valueInt  `xml:"yearpublished"`
	Thumbnail     valueAttr `xml:"thumbnail"`
}

type valueAttr struct {
	Value string `xml:"value,attr"`
}
