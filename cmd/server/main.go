package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/esi_helpdesk/backend/internal/ai"
	"github.com/esi_helpdesk/backend/internal/config"
	"github.com/esi_helpdesk/backend/internal/db"
	httpapi "github.com/esi_helpdesk/backend/internal/http"
	"github.com/esi_helpdesk/backend/internal/observability"
	"github.com/esi_helpdesk/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "helpdesk-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to init schema")
	}

	rules, err := service.LoadRuleset(cfg.RulesFile)
	if err != nil {
		logger.Fatal().Err(err).Str("rules_file", cfg.RulesFile).Msg("failed to load rules")
	}

	var synthesizer ai.AnswerSynthesizer
	switch cfg.Provider() {
	case "anthropic":
		key := cfg.AnthropicAPIKey
		if key == "" {
			key = cfg.LLMAPIKey
		}
		synthesizer = ai.NewAnthropicSynthesizer(key, cfg.LLMModel, cfg.LLMMaxTokens)
	case "openai":
		synthesizer = ai.OpenAICompatSynthesizer{
			BaseURL:   cfg.LLMBaseURL,
			Model:     cfg.LLMModel,
			APIKey:    cfg.LLMAPIKey,
			MaxTokens: cfg.LLMMaxTokens,
		}
	default:
		synthesizer = ai.MockSynthesizer{}
		logger.Info().Msg("using mock answer synthesizer")
	}

	var knowledge ai.KnowledgeSource
	if cfg.VectorSearchEnabled() {
		var embedder ai.Embedder = ai.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingAPIKey, nil)
		if cfg.RedisURL != "" {
			opts, err := goredis.ParseURL(cfg.RedisURL)
			if err != nil {
				logger.Fatal().Err(err).Msg("invalid REDIS_URL")
			}
			rdb := goredis.NewClient(opts)
			defer rdb.Close()
			embedder = ai.NewCachedEmbedder(embedder, rdb, cfg.EmbeddingCacheTTL, logger)
		}
		knowledge = ai.VectorKnowledgeSource{Embedder: embedder, Index: store}
	} else {
		knowledge = ai.MockKnowledgeSource{Documents: ai.DefaultMockDocuments()}
		logger.Info().Msg("using mock knowledge source")
	}

	pipeline := &service.ConversationPipeline{
		Rules:       rules,
		Knowledge:   knowledge,
		Synthesizer: synthesizer,
		Store:       service.PGStore{DB: store},
		Observer:    observability.NewMetrics(cfg.MetricsNamespace),
		Logger:      logger,
		TopK:        cfg.RetrievalTopK,
	}

	router := httpapi.Router(cfg, store, pipeline, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
