// Package rag answers questions by retrieving stored passages and asking a
// language model to answer from them.
package rag

import (
	"context"
	"log/slog"
	"time"

	"docqa/internal/domain"
	ragerr "docqa/internal/errors"
	"docqa/internal/generation"
)

const (
	DefaultTopK            = 3
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 500
	DefaultPreviewChars    = 200
	DefaultPreviewPassages = 2
)

// QueryEmbedder embeds a single question.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Searcher finds the passages nearest to a query vector.
type Searcher interface {
	Search(query []float32, topK int) ([]domain.RetrievalResult, error)
}

type Config struct {
	TopK            int
	Temperature     float64
	MaxTokens       int
	PreviewChars    int
	PreviewPassages int
}

// Orchestrator runs embed, retrieve, prompt, generate and source extraction
// for one question at a time. It holds no mutable state of its own.
type Orchestrator struct {
	embedder  QueryEmbedder
	store     Searcher
	generator generation.Generator
	cfg       Config
}

// New returns an Orchestrator. Zero config values take the defaults.
func New(embedder QueryEmbedder, store Searcher, generator generation.Generator, cfg Config) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = DefaultPreviewChars
	}
	if cfg.PreviewPassages <= 0 {
		cfg.PreviewPassages = DefaultPreviewPassages
	}
	return &Orchestrator{embedder: embedder, store: store, generator: generator, cfg: cfg}
}

func (o *Orchestrator) TopK() int { return o.cfg.TopK }

// Answer never fails: collaborator errors are folded into an AnswerResult
// whose Error field is set.
func (o *Orchestrator) Answer(ctx context.Context, question string) domain.AnswerResult {
	start := time.Now()

	result, err := o.answer(ctx, question, start)
	if err != nil {
		slog.Warn("question failed", "code", ragerr.CodeOf(err), "error", err)
		return domain.AnswerResult{
			Answer:       "Error processing question: " + err.Error(),
			Sources:      []string{},
			ResponseTime: time.Since(start).Seconds(),
			Error:        err.Error(),
		}
	}
	slog.Info("question answered",
		"chunks", result.ChunksRetrieved,
		"sources", len(result.Sources),
		"tokens", result.TokensUsed,
		"response_time", result.ResponseTime,
	)
	return result
}

func (o *Orchestrator) answer(ctx context.Context, question string, start time.Time) (domain.AnswerResult, error) {
	vec, err := o.embedder.EmbedOne(ctx, question)
	if err != nil {
		return domain.AnswerResult{}, ragerr.Wrap(err, ragerr.CodeRAGEmbedFailure, "embedding question")
	}

	results, err := o.store.Search(vec, o.cfg.TopK)
	if err != nil {
		return domain.AnswerResult{}, ragerr.Wrap(err, ragerr.CodeRAGSearchFailure, "searching vector store")
	}
	slog.Debug("passages retrieved", "count", len(results), "top_k", o.cfg.TopK)

	system, user, ok := BuildPrompt(question, FormatContext(results))
	answer := NoContextResponse
	var (
		tokens  int
		genTime time.Duration
	)
	if ok {
		resp, err := o.generator.Generate(ctx, generation.Request{
			Prompt:       user,
			SystemPrompt: system,
			Temperature:  o.cfg.Temperature,
			MaxTokens:    o.cfg.MaxTokens,
		})
		if err != nil {
			return domain.AnswerResult{}, ragerr.Wrap(err, ragerr.CodeRAGGenerateFailure, "generating answer")
		}
		answer = resp.Text
		tokens = resp.TokensUsed
		genTime = resp.Elapsed
	}

	return domain.AnswerResult{
		Answer:          answer,
		Sources:         ExtractSources(results),
		ResponseTime:    time.Since(start).Seconds(),
		GenerationTime:  genTime.Seconds(),
		ContextPreview:  Preview(results, o.cfg.PreviewPassages, o.cfg.PreviewChars),
		ChunksRetrieved: len(results),
		TokensUsed:      tokens,
	}, nil
}
