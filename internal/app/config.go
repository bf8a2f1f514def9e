package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
	UserAgent      string

	BGGEndpoint        string
	TMDBAPIKey         string
	TMDBBaseURL        string
	TMDBLanguage       string
	RAWGAPIKey         string
	RAWGBaseURL        string
	GoogleBooksAPIKey  string
	GoogleBooksBaseURL string
	ITunesBaseURL      string
	ITunesCountry      string
	YouTubeAPIKey      string
	InvidiousMirrors   []string

	RedisURL         string
	CacheTTL         time.Duration
	TrendingCacheTTL time.Duration
	CacheDisabled    bool
	TMDBCacheTTL     time.Duration
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8090"),
		RequestTimeout: time.Duration(getEnvInt("SEARCH_TIMEOUT_SECONDS", 15)) * time.Second,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:      getEnv("SEARCH_USER_AGENT", "mediascout-search/1.0"),

		BGGEndpoint:        getEnv("SEARCH_PROVIDER_BGG_ENDPOINT", "https://boardgamegeek.com/xmlapi2"),
		TMDBAPIKey:         strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
		TMDBBaseURL:        getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		TMDBLanguage:       getEnv("TMDB_LANGUAGE", "en-US"),
		RAWGAPIKey:         strings.TrimSpace(os.Getenv("RAWG_API_KEY")),
		RAWGBaseURL:        getEnv("RAWG_BASE_URL", "https://api.rawg.io/api"),
		GoogleBooksAPIKey:  strings.TrimSpace(os.Getenv("GOOGLE_BOOKS_API_KEY")),
		GoogleBooksBaseURL: getEnv("GOOGLE_BOOKS_BASE_URL", "https://www.googleapis.com/books/v1"),
		ITunesBaseURL:      getEnv("ITUNES_BASE_URL", "https://itunes.apple.com"),
		ITunesCountry:      getEnv("ITUNES_COUNTRY", "US"),
		YouTubeAPIKey:      strings.TrimSpace(os.Getenv("YOUTUBE_API_KEY")),
		InvidiousMirrors:   splitList(getEnv("INVIDIOUS_MIRRORS", "")),

		RedisURL:         getEnv("REDIS_URL", ""),
		CacheTTL:         time.Duration(getEnvInt("SEARCH_CACHE_TTL_MINUTES", 60)) * time.Minute,
		TrendingCacheTTL: time.Duration(getEnvInt("TRENDING_CACHE_TTL_MINUTES", 30)) * time.Minute,
		CacheDisabled:    getEnvBool("SEARCH_CACHE_DISABLED", false),
		TMDBCacheTTL:     time.Duration(getEnvInt("TMDB_CACHE_TTL_HOURS", 24)) * time.Hour,
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value != "" {
			values = append(values, value)
		}
	}
	return values
}
