package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"

	"docbrief/internal/config"
	"docbrief/internal/handlers"
	"docbrief/internal/indexing"
	"docbrief/internal/integrations/google"
	"docbrief/internal/locking"
	"docbrief/internal/middleware"
	"docbrief/internal/services"
	"docbrief/internal/storage"
)

const (
	connectRetryInterval = 5 * time.Second
	maxConnectAttempts   = 6
)

// ServiceBundle wires every component once for both the server and the CLI.
type ServiceBundle struct {
	Config       *config.Config
	Store        storage.Store
	Credentials  *google.CredentialProvider
	Indexer      *indexing.Indexer
	RAG          *services.RAGService
	Briefing     *services.BriefingService
	CalendarSync *services.CalendarService
	Auth         *middleware.Authenticator

	closers []func() error
}

// bundleOptions lets tests point the external clients at fakes.
type bundleOptions struct {
	openAI openai.ClientConfig
	google []option.ClientOption
	gemini []option.ClientOption
	locker locking.Locker
}

func initializeServices(ctx context.Context, cfg *config.Config) (*ServiceBundle, error) {
	slog.Info("Initializing services...")

	store, err := connectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := bundleOptions{openAI: openai.DefaultConfig(cfg.OpenAIAPIKey), locker: locking.NoopLocker{}}
	var closers []func() error

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = store.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		opts.locker = locking.NewRedisLocker(client, cfg.IndexLockTTL)
		closers = append(closers, client.Close)
		slog.Info("Per-user indexing lock enabled", "redis_addr", cfg.RedisAddr, "ttl", cfg.IndexLockTTL)
	} else {
		slog.Warn("REDIS_ADDR not set, concurrent indexing runs for a user are not serialized")
	}

	bundle, err := newServiceBundle(ctx, cfg, store, opts)
	if err != nil {
		_ = store.Close()
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	bundle.closers = append(bundle.closers, closers...)

	slog.Info("All services initialized successfully")
	return bundle, nil
}

// connectStore retries the database connection a few times so the service can
// start alongside its database.
func connectStore(ctx context.Context, cfg *config.Config) (*storage.PostgresStore, error) {
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		store, err := storage.NewPostgresStore(cfg.DatabaseURL, cfg.EmbeddingDimensions)
		if err == nil {
			return store, nil
		}
		lastErr = err
		slog.Error("Failed to connect to database, retrying",
			"attempt", attempt,
			"retry_in", connectRetryInterval,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryInterval):
		}
	}
	return nil, fmt.Errorf("connect to database after %d attempts: %w", maxConnectAttempts, lastErr)
}

func newServiceBundle(ctx context.Context, cfg *config.Config, store storage.Store, opts bundleOptions) (*ServiceBundle, error) {
	timeout := cfg.ExternalCallTimeout
	openaiClient := openai.NewClientWithConfig(opts.openAI)

	answers, briefs, closers, err := newGenerators(ctx, cfg, openaiClient, opts.gemini)
	if err != nil {
		return nil, err
	}

	credentials := google.NewCredentialProvider(store, google.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret), timeout)
	drive := google.NewDriveClient(timeout, opts.google...)
	calendar := google.NewCalendarClient(timeout, opts.google...)

	embeddings := services.NewEmbeddingServiceWithClient(openaiClient, cfg.EmbeddingModel, timeout)
	retriever := services.NewRetriever(embeddings, store)
	synthesizer := services.NewSynthesizer(answers, briefs)

	params, err := indexing.Preset(cfg.ChunkPreset)
	if err != nil {
		return nil, err
	}
	indexCfg := indexing.Config{
		BatchSize:          cfg.IndexBatchSize,
		FileLimit:          cfg.DriveFileLimit,
		EmbeddingBatchSize: cfg.EmbeddingBatchSize,
		Params:             params,
	}

	return &ServiceBundle{
		Config:       cfg,
		Store:        store,
		Credentials:  credentials,
		Indexer:      indexing.NewIndexer(drive, embeddings, store, credentials, opts.locker, indexCfg),
		RAG:          services.NewRAGService(retriever, synthesizer),
		Briefing:     services.NewBriefingService(store, retriever, synthesizer),
		CalendarSync: services.NewCalendarService(credentials, calendar, store),
		Auth:         middleware.NewAuthenticator(cfg.JWTSecret),
		closers:      append(closers, store.Close),
	}, nil
}

func newGenerators(ctx context.Context, cfg *config.Config, client *openai.Client, geminiOpts []option.ClientOption) (services.Generator, services.Generator, []func() error, error) {
	timeout := cfg.ExternalCallTimeout

	switch strings.ToLower(cfg.GenerationProvider) {
	case "gemini":
		answerGen, err := services.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GenerationModel, timeout, geminiOpts...)
		if err != nil {
			return nil, nil, nil, err
		}
		briefGen, err := services.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.BriefModel, timeout, geminiOpts...)
		if err != nil {
			_ = answerGen.Close()
			return nil, nil, nil, err
		}
		slog.Info("Using Gemini for generation", "model", cfg.GenerationModel, "brief_model", cfg.BriefModel)
		return answerGen, briefGen, []func() error{answerGen.Close, briefGen.Close}, nil
	default:
		slog.Info("Using OpenAI for generation", "model", cfg.GenerationModel, "brief_model", cfg.BriefModel)
		return services.NewOpenAIGenerator(client, cfg.GenerationModel, timeout),
			services.NewOpenAIGenerator(client, cfg.BriefModel, timeout), nil, nil
	}
}

func (b *ServiceBundle) Routes(limiter *middleware.IPRateLimiter) handlers.Routes {
	return handlers.Routes{
		Search:   handlers.NewSearchHandler(b.RAG),
		Index:    handlers.NewIndexHandler(b.Indexer, b.Store, b.Config.ChunkPreset),
		Meetings: handlers.NewMeetingHandler(b.Briefing, b.CalendarSync),
		Auth:     b.Auth,
		Limiter:  limiter,
		Store:    b.Store,
	}
}

func (b *ServiceBundle) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
