package trailers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediascout/searchservice/internal/domain"
)

const (
	youtubeWatchURL  = "https://www.youtube.com/watch?v="
	youtubeOEmbedURL = "https://www.youtube.com/oembed"
	youtubeSearchURL = "https://www.youtube.com/results"
	youtubeAPIURL    = "https://www.googleapis.com/youtube/v3/search"
)

// Default Invidious mirrors, tried in order. Instances rotate in and out of
// service; the list is overridable via config.
var defaultInvidiousMirrors = []string{
	"https://inv.nadeko.net",
	"https://invidious.nerdvpn.de",
	"https://yewtu.be",
}

// knownTrailers maps lowercased titles to verified YouTube video ids for
// titles requested often enough that an API round trip is wasteful.
var knownTrailers = map[string]string{
	"catan":               "9d50dK9mPLc",
	"wingspan":            "lgDzByuTRzw",
	"gloomhaven":          "z5gPzlrKM6M",
	"terraforming mars":   "n3-Cr2RRjU8",
	"azul":                "csb1tG0HOPY",
	"7 wonders":           "f9Y9mWfnvYE",
	"pandemic":            "Jw_TBvl1E0E",
	"ticket to ride":      "4JhFhyvJdnA",
	"carcassonne":         "8CS9fBsmyrk",
	"spirit island":       "A8XZ3KdatMs",
}

type Config struct {
	YouTubeAPIKey    string
	InvidiousMirrors []string
	Client           *http.Client
}

// Orchestrator resolves a trailer for a title through an ordered fallback
// chain. It never returns an error: every strategy failure advances to the
// next, and the last strategy always produces a renderable URL.
type Orchestrator struct {
	apiKey  string
	mirrors []string
	http    *http.Client
	logger  *slog.Logger
}

func NewOrchestrator(cfg Config) *Orchestrator {
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	mirrors := cfg.InvidiousMirrors
	if len(mirrors) == 0 {
		mirrors = defaultInvidiousMirrors
	}
	return &Orchestrator{
		apiKey:  strings.TrimSpace(cfg.YouTubeAPIKey),
		mirrors: mirrors,
		http:    httpClient,
		logger:  slog.Default(),
	}
}

// Lookup runs the fallback chain: known table, YouTube Data API, Invidious
// mirrors, constructed search URL. The result is always non-nil.
func (o *Orchestrator) Lookup(ctx context.Context, title string, year int) domain.TrailerResult {
	cleaned := strings.TrimSpace(title)

	if result, ok := o.fromKnownTable(ctx, cleaned); ok {
		return result
	}
	if result, ok := o.fromYouTubeAPI(ctx, cleaned, year); ok {
		return result
	}
	if result, ok := o.fromInvidious(ctx, cleaned, year); ok {
		return result
	}
	return o.searchURLFallback(cleaned)
}

func (o *Orchestrator) fromKnownTable(ctx context.Context, title string) (domain.TrailerResult, bool) {
	key := strings.ToLower(title)
	if key == "" {
		return domain.TrailerResult{}, false
	}

	videoID, ok := knownTrailers[key]
	if !ok {
		// Fuzzy pass: either side contains the other, first match wins.
		for known, id := range knownTrailers {
			if strings.Contains(key, known) || strings.Contains(known, key) {
				videoID = id
				ok = true
				break
			}
		}
	}
	if !ok {
		return domain.TrailerResult{}, false
	}

	verified := o.verifyVideo(ctx, videoID)
	if !verified {
		// Stale table entry; let the live strategies take over.
		o.logger.Debug("known trailer failed verification", slog.String("title", title), slog.String("videoId", videoID))
		return domain.TrailerResult{}, false
	}

	return domain.TrailerResult{
		Title:    title,
		URL:      youtubeWatchURL + videoID,
		VideoID:  videoID,
		Source:   "known",
		Verified: true,
		Direct:   true,
	}, true
}

// verifyVideo confirms a video id exists via the oEmbed endpoint. oEmbed is
// verification only, never discovery.
func (o *Orchestrator) verifyVideo(ctx context.Context, videoID string) bool {
	params := url.Values{
		"url":    {youtubeWatchURL + videoID},
		"format": {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, youtubeOEmbedURL+"?"+params.Encode(), nil)
	if err != nil {
		return false
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}

type videoCandidate struct {
	ID       string
	Title    string
	Channel  string
	Duration time.Duration
}

func (o *Orchestrator) fromYouTubeAPI(ctx context.Context, title string, year int) (domain.TrailerResult, bool) {
	if o.apiKey == "" || title == "" {
		return domain.TrailerResult{}, false
	}

	params := url.Values{
		"part":       {"snippet"},
		"q":          {trailerQuery(title, year)},
		"type":       {"video"},
		"maxResults": {"10"},
		"key":        {o.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, youtubeAPIURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.TrailerResult{}, false
	}
	resp, err := o.http.Do(req)
	if err != nil {
		o.logger.Debug("youtube api unreachable", slog.String("error", err.Error()))
		return domain.TrailerResult{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.TrailerResult{}, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return domain.TrailerResult{}, false
	}

	var parsed struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title        string `json:"title"`
				ChannelTitle string `json:"channelTitle"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.TrailerResult{}, false
	}

	candidates := make([]videoCandidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.ID.VideoID == "" {
			continue
		}
		candidates = append(candidates, videoCandidate{
			ID:      item.ID.VideoID,
			Title:   item.Snippet.Title,
			Channel: item.Snippet.ChannelTitle,
		})
	}

	best, ok := pickBestCandidate(candidates, title)
	if !ok {
		return domain.TrailerResult{}, false
	}
	return domain.TrailerResult{
		Title:    title,
		URL:      youtubeWatchURL + best.ID,
		VideoID:  best.ID,
		Source:   "youtube",
		Verified: true,
		Direct:   true,
	}, true
}

func (o *Orchestrator) fromInvidious(ctx context.Context, title string, year int) (domain.TrailerResult, bool) {
	if title == "" {
		return domain.TrailerResult{}, false
	}

	for _, mirror := range o.mirrors {
		candidates, err := o.invidiousSearch(ctx, mirror, trailerQuery(title, year))
		if err != nil {
			o.logger.Debug("invidious mirror failed",
				slog.String("mirror", mirror),
				slog.String("error", err.Error()),
			)
			continue
		}
		best, ok := pickBestCandidate(candidates, title)
		if !ok {
			continue
		}
		return domain.TrailerResult{
			Title:    title,
			URL:      youtubeWatchURL + best.ID,
			VideoID:  best.ID,
			Source:   "invidious",
			Verified: false,
			Direct:   true,
		}, true
	}
	return domain.TrailerResult{}, false
}

func (o *Orchestrator) invidiousSearch(ctx context.Context, mirror, query string) ([]videoCandidate, error) {
	params := url.Values{
		"q":    {query},
		"type": {"video"},
	}
	reqURL := strings.TrimRight(mirror, "/") + "/api/v1/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invidious HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		Author        string `json:"author"`
		LengthSeconds int    `json:"lengthSeconds"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, errors.New("no results")
	}

	candidates := make([]videoCandidate, 0, len(parsed))
	for _, item := range parsed {
		if item.VideoID == "" {
			continue
		}
		candidates = append(candidates, videoCandidate{
			ID:       item.VideoID,
			Title:    item.Title,
			Channel:  item.Author,
			Duration: time.Duration(item.LengthSeconds) * time.Second,
		})
	}
	return candidates, nil
}

// searchURLFallback is the unconditional last resort: a results-page URL,
// not a direct video, but always renderable.
func (o *Orchestrator) searchURLFallback(title string) domain.TrailerResult {
	params := url.Values{"search_query": {strings.TrimSpace(title + " trailer")}}
	return domain.TrailerResult{
		Title:  title,
		URL:    youtubeSearchURL + "?" + params.Encode(),
		Source: "search",
		Direct: false,
	}
}

func trailerQuery(title string, year int) string {
	query := title + " trailer"
	if year > 0 {
		query += " " + fmt.Sprintf("%d", year)
	}
	return query
}

// trustedChannels earn a scoring bonus: official publisher and review
// channels whose uploads are near-always genuine trailers.
var trustedChannels = []string{
	"official",
	"games",
	"boardgamegeek",
	"the dice tower",
	"shut up & sit down",
	"watch it played",
	"ign",
	"gamespot",
}

// pickBestCandidate scores each candidate and returns the best one with a
// positive score. Zero or negative means every candidate looked wrong.
func pickBestCandidate(candidates []videoCandidate, subject string) (videoCandidate, bool) {
	subjectLower := strings.ToLower(strings.TrimSpace(subject))
	bestScore := 0
	var best videoCandidate
	found := false

	for _, candidate := range candidates {
		score := scoreCandidate(candidate, subjectLower)
		if score > bestScore {
			bestScore = score
			best = candidate
			found = true
		}
	}
	return best, found
}

func scoreCandidate(candidate videoCandidate, subjectLower string) int {
	titleLower := strings.ToLower(candidate.Title)
	channelLower := strings.ToLower(candidate.Channel)

	score := 0
	if strings.Contains(titleLower, "trailer") {
		score += 30
	}
	if strings.Contains(titleLower, "official") {
		score += 15
	}
	if subjectLower != "" && strings.Contains(titleLower, subjectLower) {
		score += 25
	}
	for _, channel := range trustedChannels {
		if strings.Contains(channelLower, channel) {
			score += 20
			break
		}
	}
	// Trailers run one to three minutes; ten-minute reviews and ten-second
	// clips are both outliers.
	if candidate.Duration > 0 {
		if candidate.Duration < 20*time.Second || candidate.Duration > 5*time.Minute {
			score -= 25
		}
	}
	return score
}
