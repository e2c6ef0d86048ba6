package bootstrap

import (
	"context"
	"fmt"

	"github.com/kirillkom/docchat/internal/config"
	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/core/ports"
	"github.com/kirillkom/docchat/internal/core/usecase"
	"github.com/kirillkom/docchat/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docchat/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docchat/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docchat/internal/infrastructure/resilience"
	"github.com/kirillkom/docchat/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.HTTPServerMetrics

	Chat      ports.ChatService
	Publisher ports.TurnPublisher

	// Queue and History back the turn-persistence worker; the api binary
	// only uses the publisher side.
	Queue   *nats.Queue
	History ports.MessageStore

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	chunks := postgres.NewChunkRepository(db, cfg.EmbeddingDim)
	if err := chunks.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure chunk schema: %w", err)
	}
	catalog := postgres.NewDocumentCatalog(db)

	history := postgres.NewMessageRepository(db)
	if err := history.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultPolicy())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	serverMetrics := metrics.NewHTTPServerMetrics("docchat-api")

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	ollamaClient.SetSkippedFragmentsHook(func(count int) {
		serverMetrics.RecordSkippedFragments("docchat-api", count)
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewStreamingGenerator(ollamaClient)

	policy := usecase.RetrievalPolicy{
		TopK:             cfg.RetrievalTopK,
		OversampleFactor: cfg.RetrievalOversampleFactor,
		Weights: domain.FusionWeights{
			Semantic: cfg.RetrievalSemanticWeight,
			Keyword:  cfg.RetrievalKeywordWeight,
		},
		RRFK:                cfg.RetrievalRRFK,
		MinSimilarity:       cfg.RetrievalMinSimilarity,
		EmbeddingDim:        cfg.EmbeddingDim,
		ChannelBudget:       cfg.ChannelBudget(),
		DegradeToSurvivor:   cfg.RetrievalDegrade,
		RequireBothChannels: cfg.RetrievalRequireBoth,
	}

	retriever := usecase.NewDualRetriever(chunks, policy)
	streamer := usecase.NewAnswerStreamer(generator, usecase.StreamOptions{
		BufferSize:      cfg.StreamBufferSize,
		FallbackMessage: cfg.StreamFallbackText,
		NoGroundingMode: cfg.StreamNoGrounding,
		Disclaimer:      cfg.StreamDisclaimer,
		DeclineMessage:  cfg.StreamDeclineText,
	})
	chat := usecase.NewAskUseCase(embedder, retriever, catalog, streamer, policy, cfg.SourceExcerptChars)

	return &App{
		Config:    cfg,
		Metrics:   serverMetrics,
		Chat:      chat,
		Publisher: queue,
		Queue:     queue,
		History:   history,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
