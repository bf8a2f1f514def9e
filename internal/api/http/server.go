package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediascout/searchservice/internal/domain"
	"mediascout/searchservice/internal/metrics"
	"mediascout/searchservice/internal/search"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type SearchService interface {
	Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error)
	SearchStream(ctx context.Context, request domain.SearchRequest) <-chan domain.SearchResponse
	Trending(ctx context.Context, category domain.MediaCategory, limit int) (domain.SearchResponse, error)
	Recommendations(ctx context.Context, item domain.SearchResult, limit int) ([]domain.SearchResult, error)
	Providers() []domain.ProviderInfo
	ProviderDiagnostics() []domain.ProviderDiagnostics
}

type TrailerService interface {
	Lookup(ctx context.Context, title string, year int) domain.TrailerResult
}

type Server struct {
	search   SearchService
	trailers TrailerService
	logger   *slog.Logger
}

const maxQueryLength = 500

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithTrailers(trailers TrailerService) ServerOption {
	return func(s *Server) {
		s.trailers = trailers
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search: searchService,
		logger: slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search/providers", s.handleProviders)
	mux.HandleFunc("/search/providers/health", s.handleProvidersHealth)
	mux.HandleFunc("/search/stream", s.handleSearchStream)
	mux.HandleFunc("/search/trending", s.handleTrending)
	mux.HandleFunc("/search/recommendations", s.handleRecommendations)
	mux.HandleFunc("/search/trailer", s.handleTrailer)
	mux.HandleFunc("/search", s.handleSearch)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "media-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	request, err := parseSearchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	response, err := s.search.Search(r.Context(), request)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("query", truncate(request.Query, 80)),
			slog.String("category", string(request.Category)),
			slog.String("error", err.Error()),
		)
		writeSearchError(w, err)
		return
	}

	failedProviders := make([]string, 0, len(response.Providers))
	for _, providerStatus := range response.Providers {
		if !providerStatus.OK {
			failedProviders = append(failedProviders, providerStatus.Name)
		}
	}
	s.logger.Info("search completed",
		slog.String("query", truncate(request.Query, 80)),
		slog.String("category", string(request.Category)),
		slog.Int("totalItems", response.TotalItems),
		slog.Int64("elapsedMs", response.ElapsedMS),
		slog.Int("failedProviders", len(failedProviders)),
	)
	if len(failedProviders) > 0 {
		s.logger.Warn("search providers partially failed",
			slog.String("query", truncate(request.Query, 80)),
			slog.Any("failedProviders", failedProviders),
		)
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/stream" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	request, err := parseSearchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := writeSSEEvent(w, flusher, "bootstrap", map[string]any{
		"final":  false,
		"query":  request.Query,
		"status": "started",
	}); err != nil {
		return // Client disconnected
	}

	ch := s.search.SearchStream(r.Context(), request)
	for response := range ch {
		select {
		case <-r.Context().Done():
			return // Client disconnected
		default:
		}
		if err := writeSSEEvent(w, flusher, "update", response); err != nil {
			return // Client disconnected
		}
	}

	_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true})
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/trending" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	category := domain.NormalizeCategory(strings.TrimSpace(r.URL.Query().Get("category")))
	limit, err := parsePositiveInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}

	response, err := s.search.Trending(r.Context(), category, limit)
	if err != nil {
		s.logger.Warn("trending request failed",
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
		writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/recommendations" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	source := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("source")))
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if source == "" || (id == "" && title == "") {
		writeError(w, http.StatusBadRequest, "invalid_request", "source and id or title are required")
		return
	}
	limit, err := parsePositiveInt(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}

	seed := domain.SearchResult{
		ID:       id,
		Source:   source,
		Title:    title,
		Category: domain.NormalizeCategory(strings.TrimSpace(r.URL.Query().Get("category"))),
	}

	items, err := s.search.Recommendations(r.Context(), seed, limit)
	if err != nil {
		s.logger.Warn("recommendations request failed",
			slog.String("source", source),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleTrailer(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/trailer" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.trailers == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "trailer service is not configured")
		return
	}

	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	year := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid year")
			return
		}
		year = parsed
	}

	result := s.trailers.Lookup(r.Context(), title, year)
	metrics.TrailerLookupsTotal.WithLabelValues(result.Source).Inc()
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/providers" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.search.Providers(),
	})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/providers/health" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     s.search.ProviderDiagnostics(),
	})
}

func parseSearchRequest(r *http.Request) (domain.SearchRequest, error) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		return domain.SearchRequest{}, errors.New("query is required")
	}
	if len(query) > maxQueryLength {
		return domain.SearchRequest{}, errors.New("query too long (max 500 characters)")
	}
	limit, err := parsePositiveInt(r, "limit", 30)
	if err != nil {
		return domain.SearchRequest{}, errors.New("invalid limit")
	}
	offset, err := parseNonNegativeInt(r, "offset", 0)
	if err != nil {
		return domain.SearchRequest{}, errors.New("invalid offset")
	}

	filters, err := parseSearchFilters(r)
	if err != nil {
		return domain.SearchRequest{}, err
	}

	return domain.SearchRequest{
		Query:    query,
		Category: domain.NormalizeCategory(strings.TrimSpace(r.URL.Query().Get("category"))),
		Limit:    limit,
		Offset:   offset,
		SortBy:   domain.NormalizeSortBy(strings.TrimSpace(r.URL.Query().Get("sortBy"))),
		Filters:  filters,
		Exact:    parseOptionalBool(r.URL.Query().Get("exact")),
		NoCache:  parseOptionalBool(r.URL.Query().Get("nocache")) || parseOptionalBool(r.URL.Query().Get("noCache")),
	}, nil
}

func parseSearchFilters(r *http.Request) (domain.SearchFilters, error) {
	q := r.URL.Query()
	var filters domain.SearchFilters

	intFields := []struct {
		key  string
		dest *int
	}{
		{"minPlayers", &filters.MinPlayers},
		{"maxPlayers", &filters.MaxPlayers},
		{"minPlayTime", &filters.MinPlayTime},
		{"maxPlayTime", &filters.MaxPlayTime},
		{"minAge", &filters.MinAge},
		{"yearFrom", &filters.YearFrom},
		{"yearTo", &filters.YearTo},
	}
	for _, field := range intFields {
		raw := strings.TrimSpace(q.Get(field.key))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return filters, fmt.Errorf("invalid %s", field.key)
		}
		*field.dest = parsed
	}

	if raw := strings.TrimSpace(q.Get("minRating")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			return filters, errors.New("invalid minRating")
		}
		filters.MinRating = parsed
	}
	if raw := strings.TrimSpace(q.Get("maxPrice")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			return filters, errors.New("invalid maxPrice")
		}
		filters.MaxPrice = parsed
	}

	filters.Complexity = strings.TrimSpace(q.Get("complexity"))
	filters.Genre = strings.TrimSpace(q.Get("genre"))
	filters.ExcludeExplicit = parseOptionalBool(q.Get("excludeExplicit"))
	return filters, nil
}

func writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrInvalidQuery),
		errors.Is(err, search.ErrInvalidOffset),
		errors.Is(err, search.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, search.ErrNoProviders):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
	}
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseNonNegativeInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
