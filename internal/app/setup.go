package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"google.golang.org/genai"

	"github.com/koopa0/recall/db"
	"github.com/koopa0/recall/internal/chunk"
	"github.com/koopa0/recall/internal/cluster"
	"github.com/koopa0/recall/internal/config"
	"github.com/koopa0/recall/internal/content"
	"github.com/koopa0/recall/internal/index"
	"github.com/koopa0/recall/internal/ingest"
	"github.com/koopa0/recall/internal/llm"
	"github.com/koopa0/recall/internal/log"
	"github.com/koopa0/recall/internal/retrieve"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	a.Pool = pool
	a.Index = index.NewStore(pool, logger)

	contentDB, err := content.Open(cfg.ContentDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening content store: %w", err)
	}
	a.contentDB = contentDB
	if err := content.Migrate(contentDB); err != nil {
		return nil, fmt.Errorf("migrating content store: %w", err)
	}
	contents := content.New(contentDB, logger)

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	gatewayOpts := []llm.GatewayOption{llm.WithRateLimit(cfg.EmbedRPS, cfg.BatchSize)}
	if cfg.Provider != config.ProviderOpenAI {
		// Gemini embedding models emit 3072 dimensions unless told to
		// truncate to the width the points schema stores.
		dim := int32(index.VectorDimension)
		gatewayOpts = append(gatewayOpts,
			llm.WithEmbedOptions(&genai.EmbedContentConfig{OutputDimensionality: &dim}))
	}
	gateway := llm.NewGateway(embedder, index.VectorDimension, logger, gatewayOpts...)

	summarizer := llm.NewGenkitSummarizer(g, cfg.ModelName)
	a.Answerer = llm.NewGenkitAnswerer(g, cfg.ModelName)

	splitter, err := chunk.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("creating splitter: %w", err)
	}

	a.Pipeline = ingest.New(splitter, gateway, a.Index, contents, logger,
		ingest.WithBatchSize(cfg.BatchSize),
		ingest.WithSummarizer(summarizer),
	)
	a.Engine = retrieve.NewEngine(a.Index, contents, gateway, logger,
		retrieve.WithDefaultTopK(cfg.TopK),
		retrieve.WithDefaultLambda(cfg.MMRLambda),
	)
	a.Clusterer = cluster.New(a.Index, logger,
		cluster.WithEps(cfg.ClusterEps),
		cluster.WithMinClusterSize(cfg.MinClusterSize),
	)
	a.Queue = ingest.NewQueue(cfg.QueueWorkers, cfg.QueueCapacity, logger)

	return a, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider
// plugin. OpenAI auto-registers embedders in Init; Gemini embedders
// are created on demand.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
