package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "mediascout/searchservice/internal/api/http"
	"mediascout/searchservice/internal/app"
	"mediascout/searchservice/internal/metrics"
	"mediascout/searchservice/internal/providers/bgg"
	"mediascout/searchservice/internal/providers/googlebooks"
	"mediascout/searchservice/internal/providers/itunes"
	"mediascout/searchservice/internal/providers/rawg"
	"mediascout/searchservice/internal/providers/tmdb"
	"mediascout/searchservice/internal/providers/trailers"
	"mediascout/searchservice/internal/search"
	"mediascout/searchservice/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "media-search")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "media-search"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.String("bggEndpoint", cfg.BGGEndpoint),
		slog.Bool("hasTMDBKey", strings.TrimSpace(cfg.TMDBAPIKey) != ""),
		slog.Bool("hasRAWGKey", strings.TrimSpace(cfg.RAWGAPIKey) != ""),
		slog.Bool("hasGoogleBooksKey", strings.TrimSpace(cfg.GoogleBooksAPIKey) != ""),
		slog.Bool("hasYouTubeKey", strings.TrimSpace(cfg.YouTubeAPIKey) != ""),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Duration("cacheTTL", cfg.CacheTTL),
	)

	redisClient := buildRedisClient(cfg, logger)
	providers := buildProviders(cfg, redisClient, logger)

	searchService := search.NewService(providers, cfg.RequestTimeout, buildServiceOptions(cfg, redisClient)...)

	trailerService := trailers.NewOrchestrator(trailers.Config{
		YouTubeAPIKey:    cfg.YouTubeAPIKey,
		InvidiousMirrors: cfg.InvidiousMirrors,
		Client:           &http.Client{Timeout: 8 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	})

	handler := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithTrailers(trailerService),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE streaming (/search/stream) can legitimately exceed short write timeouts.
		// Keep it disabled at the server level; rely on per-provider timeouts and upstream limits.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	searchService.StartBackground(rootCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("media search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.RequestTimeout),
		slog.Int("providers", len(providers)),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("media search service stopped")
}

func buildProviders(cfg app.Config, redisClient *redis.Client, logger *slog.Logger) []search.Provider {
	tracedClient := func() *http.Client {
		return &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	providers := []search.Provider{
		bgg.NewProvider(bgg.Config{
			Endpoint:  cfg.BGGEndpoint,
			UserAgent: cfg.UserAgent,
			Client:    tracedClient(),
		}),
		googlebooks.NewProvider(googlebooks.Config{
			APIKey:  cfg.GoogleBooksAPIKey,
			BaseURL: cfg.GoogleBooksBaseURL,
			Client:  tracedClient(),
		}),
		itunes.NewProvider(itunes.Config{
			BaseURL: cfg.ITunesBaseURL,
			Country: cfg.ITunesCountry,
			Client:  tracedClient(),
		}),
	}

	tmdbProvider := tmdb.NewProvider(tmdb.Config{
		APIKey:   cfg.TMDBAPIKey,
		BaseURL:  cfg.TMDBBaseURL,
		Language: cfg.TMDBLanguage,
		Client:   tracedClient(),
		Redis:    redisClient,
		CacheTTL: cfg.TMDBCacheTTL,
	})
	if tmdbProvider.Enabled() {
		providers = append(providers, tmdbProvider)
	} else {
		logger.Info("tmdb api key not configured, movie provider disabled")
	}

	rawgProvider := rawg.NewProvider(rawg.Config{
		APIKey:  cfg.RAWGAPIKey,
		BaseURL: cfg.RAWGBaseURL,
		Client:  tracedClient(),
	})
	if rawgProvider.Enabled() {
		providers = append(providers, rawgProvider)
	} else {
		logger.Info("rawg api key not configured, video game provider disabled")
	}

	return providers
}

func buildRedisClient(cfg app.Config, logger *slog.Logger) *redis.Client {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory cache only", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, using in-memory cache only", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}

func buildServiceOptions(cfg app.Config, redisClient *redis.Client) []search.ServiceOption {
	var opts []search.ServiceOption

	if cfg.CacheDisabled {
		opts = append(opts, search.WithCacheDisabled(true))
		return opts
	}

	if cfg.CacheTTL > 0 {
		opts = append(opts, search.WithCacheTTL(cfg.CacheTTL))
	}
	if cfg.TrendingCacheTTL > 0 {
		opts = append(opts, search.WithTrendingCacheTTL(cfg.TrendingCacheTTL))
	}
	if redisClient != nil {
		opts = append(opts, search.WithRedisCache(search.NewRedisCacheBackend(redisClient)))
	}

	return opts
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
