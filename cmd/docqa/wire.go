package main

import (
	"context"
	"log/slog"
	"time"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/embedding"
	"docqa/internal/embedding/hashed"
	"docqa/internal/embedding/openai"
	ragerr "docqa/internal/errors"
	"docqa/internal/generation"
	anthropicgen "docqa/internal/generation/anthropic"
	googlegen "docqa/internal/generation/google"
	openaigen "docqa/internal/generation/openai"
	"docqa/internal/history"
	"docqa/internal/rag"
	"docqa/internal/service"
	"docqa/internal/summarizer"
	"docqa/internal/vectorstore/flat"
)

// providerKeyEnv is the conventional API key variable per generator type.
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"google":    "GEMINI_API_KEY",
}

// App holds every wired component.
type App struct {
	Config  *config.AppConfig
	Service *service.RAGService
	Records *history.Store
}

// Close releases the history database.
func (a *App) Close() error {
	return a.Records.Close()
}

// Wire builds every component from cfg, warms the embedder up and loads the
// persisted index. When requireGenerator is false a generator that cannot be
// built (usually a missing API key) is replaced by one that reports the
// problem on use, so ingestion and listings work offline.
func Wire(ctx context.Context, cfg *config.AppConfig, requireGenerator bool) (*App, error) {
	ch, err := chunker.New(chunker.Config{
		Strategy:     cfg.Chunker.Type,
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
	})
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeCLISetupFailure, "creating chunker")
	}

	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeCLISetupFailure, "creating embedder %s", cfg.Embedder.Type)
	}

	gen, err := newGenerator(ctx, cfg.Generator)
	if err != nil {
		if requireGenerator {
			return nil, ragerr.Wrapf(err, ragerr.CodeCLISetupFailure, "creating generator %s", cfg.Generator.Type)
		}
		slog.Debug("generator unavailable", "type", cfg.Generator.Type, "error", err)
		gen = unavailableGenerator{provider: cfg.Generator.Type, err: err}
	}

	store := flat.NewStorage(flat.Config{
		Dir:          cfg.VectorStore.Dir,
		IndexFile:    cfg.VectorStore.IndexFile,
		MetadataFile: cfg.VectorStore.MetadataFile,
	})

	records, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeCLISetupFailure, "opening history %s", cfg.History.Path)
	}

	orchestrator := rag.New(emb, store, gen, rag.Config{
		TopK:            cfg.RAG.TopK,
		Temperature:     cfg.Generator.Temperature,
		MaxTokens:       cfg.Generator.MaxTokens,
		PreviewChars:    cfg.RAG.PreviewChars,
		PreviewPassages: cfg.RAG.PreviewPassages,
	})

	svc := service.NewRAGService(service.Deps{
		Chunker:         ch,
		Embedder:        emb,
		Store:           store,
		Orchestrator:    orchestrator,
		Summarizer:      summarizer.NewFrequency(),
		Records:         records,
		GenerationModel: gen.Model(),
	}, service.Options{SummaryMaxSentences: cfg.Summarizer.MaxSentences})

	if err := svc.Prepare(ctx); err != nil {
		_ = records.Close()
		return nil, err
	}
	slog.Debug("components wired",
		"embedder", emb.Model(),
		"generator", gen.Name()+"/"+gen.Model(),
		"chunker", ch.Strategy(),
		"store", cfg.VectorStore.Dir,
	)
	return &App{Config: cfg, Service: svc, Records: records}, nil
}

func newEmbedder(cfg config.EmbedderConfig) (embedding.Embedder, error) {
	switch cfg.Type {
	case "hashed", "":
		return hashed.NewEmbedder(cfg.Dimension), nil
	case "openai":
		return openai.NewClient(openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			BatchSize: cfg.OpenAI.BatchSize,
		})
	default:
		return nil, ragerr.New(ragerr.CodeCLISetupFailure, "unknown embedder", ragerr.Field("type", cfg.Type))
	}
}

func newGenerator(ctx context.Context, cfg config.GeneratorConfig) (generation.Generator, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = providerKeyEnv[cfg.Type]
	}
	switch cfg.Type {
	case "openai", "":
		return openaigen.New(openaigen.Config{APIKeyEnv: keyEnv, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "anthropic":
		return anthropicgen.New(anthropicgen.Config{APIKeyEnv: keyEnv, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "google":
		return googlegen.New(ctx, googlegen.Config{APIKeyEnv: keyEnv, BaseURL: cfg.BaseURL, Model: cfg.Model})
	default:
		return nil, ragerr.New(ragerr.CodeCLISetupFailure, "unknown generator", ragerr.Field("type", cfg.Type))
	}
}

// unavailableGenerator stands in for a provider that could not be built.
type unavailableGenerator struct {
	provider string
	err      error
}

func (g unavailableGenerator) Name() string  { return g.provider }
func (g unavailableGenerator) Model() string { return "unavailable" }

func (g unavailableGenerator) Generate(context.Context, generation.Request) (generation.Response, error) {
	return generation.Response{}, g.err
}
