package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediascout/searchservice/internal/domain"
	"mediascout/searchservice/internal/search"
)

type stubSearchService struct {
	lastRequest  domain.SearchRequest
	response     domain.SearchResponse
	err          error
	trending     domain.SearchResponse
	trendingErr  error
	related      []domain.SearchResult
	relatedErr   error
	providerList []domain.ProviderInfo
	diagnostics  []domain.ProviderDiagnostics
}

func (s *stubSearchService) Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error) {
	_ = ctx
	s.lastRequest = request
	return s.response, s.err
}

func (s *stubSearchService) SearchStream(ctx context.Context, request domain.SearchRequest) <-chan domain.SearchResponse {
	_ = ctx
	s.lastRequest = request
	ch := make(chan domain.SearchResponse, 2)
	partial := s.response
	partial.Final = false
	ch <- partial
	final := s.response
	final.Final = true
	ch <- final
	close(ch)
	return ch
}

func (s *stubSearchService) Trending(ctx context.Context, category domain.MediaCategory, limit int) (domain.SearchResponse, error) {
	_ = ctx
	_ = category
	_ = limit
	return s.trending, s.trendingErr
}

func (s *stubSearchService) Recommendations(ctx context.Context, item domain.SearchResult, limit int) ([]domain.SearchResult, error) {
	_ = ctx
	_ = item
	_ = limit
	return s.related, s.relatedErr
}

func (s *stubSearchService) Providers() []domain.ProviderInfo {
	return s.providerList
}

func (s *stubSearchService) ProviderDiagnostics() []domain.ProviderDiagnostics {
	return s.diagnostics
}

type stubTrailerService struct {
	result domain.TrailerResult
}

func (s *stubTrailerService) Lookup(ctx context.Context, title string, year int) domain.TrailerResult {
	_ = ctx
	_ = year
	result := s.result
	result.Title = title
	return result
}

func newTestServer(stub *stubSearchService, options ...ServerOption) http.Handler {
	return NewServer(stub, options...).Handler()
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(&stubSearchService{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}

func TestSearchEndpoint(t *testing.T) {
	stub := &stubSearchService{
		response: domain.SearchResponse{
			Query: "catan",
			Items: []domain.SearchResult{
				{ID: "13", Source: "bgg", Category: domain.CategoryBoardGame, Title: "Catan"},
			},
			Providers:  []domain.ProviderStatus{{Name: "bgg", OK: true, Count: 1}},
			TotalItems: 1,
			Final:      true,
		},
	}
	handler := newTestServer(stub)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/search?q=catan&category=boardgame&limit=10&offset=5&sortBy=rating&minPlayers=2&maxPlayers=4&minRating=3.5&exact=true", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	request := stub.lastRequest
	if request.Query != "catan" || request.Category != domain.CategoryBoardGame {
		t.Fatalf("unexpected request: %#v", request)
	}
	if request.Limit != 10 || request.Offset != 5 {
		t.Fatalf("pagination not parsed: %#v", request)
	}
	if request.SortBy != domain.SearchSortByRating {
		t.Fatalf("sortBy not parsed: %q", request.SortBy)
	}
	if !request.Exact {
		t.Fatal("exact flag not parsed")
	}
	if request.Filters.MinPlayers != 2 || request.Filters.MaxPlayers != 4 || request.Filters.MinRating != 3.5 {
		t.Fatalf("filters not parsed: %#v", request.Filters)
	}

	var response domain.SearchResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(response.Items) != 1 || response.Items[0].Title != "Catan" {
		t.Fatalf("unexpected response body: %#v", response)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	handler := newTestServer(&stubSearchService{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search", nil))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "invalid_request") {
		t.Fatalf("expected error envelope, got %s", recorder.Body.String())
	}
}

func TestSearchQueryTooLong(t *testing.T) {
	handler := newTestServer(&stubSearchService{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/search?q="+strings.Repeat("a", 501), nil))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized query, got %d", recorder.Code)
	}
}

func TestSearchInvalidLimit(t *testing.T) {
	handler := newTestServer(&stubSearchService{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search?q=catan&limit=zero", nil))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestSearchErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid query", search.ErrInvalidQuery, http.StatusBadRequest},
		{"invalid offset", search.ErrInvalidOffset, http.StatusBadRequest},
		{"unknown provider", search.ErrUnknownProvider, http.StatusBadRequest},
		{"no providers", search.ErrNoProviders, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestServer(&stubSearchService{err: tc.err})

			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search?q=catan", nil))

			if recorder.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, recorder.Code)
			}
		})
	}
}

func TestSearchMethodNotAllowed(t *testing.T) {
	handler := newTestServer(&stubSearchService{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/search?q=catan", nil))

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestSearchStreamEmitsSSE(t *testing.T) {
	stub := &stubSearchService{
		response: domain.SearchResponse{
			Query:      "catan",
			Items:      []domain.SearchResult{{ID: "13", Source: "bgg", Title: "Catan"}},
			TotalItems: 1,
		},
	}
	handler := newTestServer(stub)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/stream?q=catan", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	body := recorder.Body.String()
	for _, event := range []string{"event: bootstrap", "event: update", "event: done"} {
		if !strings.Contains(body, event) {
			t.Fatalf("missing %q in stream body:\n%s", event, body)
		}
	}
}

func TestTrendingEndpoint(t *testing.T) {
	stub := &stubSearchService{
		trending: domain.SearchResponse{
			Category:   domain.CategoryBoardGame,
			Items:      []domain.SearchResult{{ID: "1", Source: "bgg", Title: "Hot"}},
			TotalItems: 1,
			Final:      true,
		},
	}
	handler := newTestServer(stub)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/trending?category=boardgame&limit=5", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response domain.SearchResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(response.Items) != 1 || response.Items[0].Title != "Hot" {
		t.Fatalf("unexpected trending body: %#v", response)
	}
}

func TestTrendingNoProviders(t *testing.T) {
	handler := newTestServer(&stubSearchService{trendingErr: search.ErrNoProviders})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/trending", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
}

func TestRecommendationsEndpoint(t *testing.T) {
	stub := &stubSearchService{
		related: []domain.SearchResult{
			{ID: "2", Source: "bgg", Title: "Related"},
		},
	}
	handler := newTestServer(stub)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/recommendations?source=bgg&id=13", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Items []domain.SearchResult `json:"items"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Title != "Related" {
		t.Fatalf("unexpected recommendations: %#v", payload.Items)
	}
}

func TestRecommendationsRequiresSeed(t *testing.T) {
	handler := newTestServer(&stubSearchService{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/recommendations?source=bgg", nil))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without id or title, got %d", recorder.Code)
	}
}

func TestTrailerEndpoint(t *testing.T) {
	handler := newTestServer(&stubSearchService{}, WithTrailers(&stubTrailerService{
		result: domain.TrailerResult{
			URL:      "https://www.youtube.com/watch?v=9d50dK9mPLc",
			VideoID:  "9d50dK9mPLc",
			Source:   "known",
			Verified: true,
			Direct:   true,
		},
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/trailer?title=Catan&year=1995", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var result domain.TrailerResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.Title != "Catan" || result.VideoID != "9d50dK9mPLc" {
		t.Fatalf("unexpected trailer result: %#v", result)
	}
}

func TestTrailerRequiresTitle(t *testing.T) {
	handler := newTestServer(&stubSearchService{}, WithTrailers(&stubTrailerService{}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/trailer", nil))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without title, got %d", recorder.Code)
	}
}

func TestTrailerNotConfigured(t *testing.T) {
	handler := newTestServer(&stubSearchService{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/trailer?title=Catan", nil))

	if recorder.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without trailer service, got %d", recorder.Code)
	}
}

func TestProvidersEndpoint(t *testing.T) {
	handler := newTestServer(&stubSearchService{
		providerList: []domain.ProviderInfo{
			{Name: "bgg", Label: "BoardGameGeek", Category: domain.CategoryBoardGame, Enabled: true},
		},
	})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/providers", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload struct {
		Items []domain.ProviderInfo `json:"items"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Name != "bgg" {
		t.Fatalf("unexpected providers: %#v", payload.Items)
	}
}

func TestProvidersHealthEndpoint(t *testing.T) {
	blocked := "2026-01-01T00:00:00Z"
	handler := newTestServer(&stubSearchService{
		diagnostics: []domain.ProviderDiagnostics{
			{Name: "bgg", ConsecutiveFailures: 4, BlockedUntil: &blocked, LastError: "http 503"},
		},
	})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/providers/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "blockedUntil") || !strings.Contains(body, "http 503") {
		t.Fatalf("expected diagnostics in body: %s", body)
	}
}

func TestUnknownPathNotFound(t *testing.T) {
	handler := newTestServer(&stubSearchService{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/search/unknown", nil))

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/search", "/search"},
		{"/search/stream", "/search/stream"},
		{"/search/trending", "/search/trending"},
		{"/search/providers", "/search/providers"},
		{"/search/providers/health", "/search/providers"},
		{"/health", "/health"},
		{"/favicon.ico", "/other"},
	}
	for _, tc := range cases {
		if got := normalizeRoute(tc.path); got != tc.want {
			t.Fatalf("normalizeRoute(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/search?q=test", nil)
	request.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(request); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}
