package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/embedding/hashed"
	ragerr "docqa/internal/errors"
	"docqa/internal/generation"
	"docqa/internal/vectorstore/flat"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) EmbedOne(context.Context, string) ([]float32, error) { return f.vec, f.err }

type fakeSearcher struct {
	results []domain.RetrievalResult
	err     error
	gotTopK int
}

func (f *fakeSearcher) Search(_ []float32, topK int) ([]domain.RetrievalResult, error) {
	f.gotTopK = topK
	return f.results, f.err
}

type fakeGenerator struct {
	calls []generation.Request
	resp  generation.Response
	err   error
}

func (f *fakeGenerator) Name() string  { return "fake" }
func (f *fakeGenerator) Model() string { return "fake-model" }
func (f *fakeGenerator) Generate(_ context.Context, req generation.Request) (generation.Response, error) {
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func result(text, source string, page int, dist float32) domain.RetrievalResult {
	return domain.RetrievalResult{Passage: domain.Passage{Text: text, Source: source, Page: page}, Distance: dist}
}

func TestAnswerWithContext(t *testing.T) {
	searcher := &fakeSearcher{results: []domain.RetrievalResult{
		result("Warranty lasts two years.", "manual.pdf", 3, 0.1),
		result("Returns within 30 days.", "manual.pdf", 3, 0.2),
		result("Support via email.", "faq.md", 1, 0.3),
	}}
	gen := &fakeGenerator{resp: generation.Response{Text: "Two years.", TokensUsed: 42, Elapsed: 1500 * time.Millisecond}}
	o := New(fakeEmbedder{vec: []float32{1}}, searcher, gen, Config{Temperature: 0.2, MaxTokens: 99})

	res := o.Answer(context.Background(), "How long is the warranty?")

	assert.Empty(t, res.Error)
	assert.Equal(t, "Two years.", res.Answer)
	assert.Equal(t, []string{"manual.pdf - Page 3", "faq.md - Page 1"}, res.Sources)
	assert.Equal(t, 3, res.ChunksRetrieved)
	assert.Equal(t, 42, res.TokensUsed)
	assert.InDelta(t, 1.5, res.GenerationTime, 1e-9)
	assert.GreaterOrEqual(t, res.ResponseTime, 0.0)
	assert.Equal(t, "Warranty lasts two years.\n\nReturns within 30 days.", res.ContextPreview)
	assert.Equal(t, DefaultTopK, searcher.gotTopK)

	require.Len(t, gen.calls, 1)
	req := gen.calls[0]
	assert.Equal(t, SystemPrompt, req.SystemPrompt)
	assert.Equal(t, 0.2, req.Temperature)
	assert.Equal(t, 99, req.MaxTokens)
	assert.True(t, strings.HasPrefix(req.Prompt, "Context from knowledge base:\n[Source 1: manual.pdf, Page 3]\nWarranty lasts two years."))
	assert.True(t, strings.HasSuffix(req.Prompt, "Question: How long is the warranty?\n\nAnswer based on the context above:"))
}

func TestAnswerEmptyStoreSkipsGeneration(t *testing.T) {
	gen := &fakeGenerator{}
	o := New(fakeEmbedder{vec: []float32{1}}, &fakeSearcher{}, gen, Config{})

	res := o.Answer(context.Background(), "anything?")

	assert.Empty(t, res.Error)
	assert.Equal(t, NoContextResponse, res.Answer)
	assert.Empty(t, res.Sources)
	assert.NotNil(t, res.Sources)
	assert.Zero(t, res.ChunksRetrieved)
	assert.Empty(t, gen.calls)
}

func TestAnswerFailuresBecomeErrorAnswers(t *testing.T) {
	tests := []struct {
		name     string
		embedder fakeEmbedder
		searcher *fakeSearcher
		gen      *fakeGenerator
	}{
		{
			name:     "embedding",
			embedder: fakeEmbedder{err: ragerr.New(ragerr.CodeEmbeddingEmptyText, "text cannot be empty")},
			searcher: &fakeSearcher{},
			gen:      &fakeGenerator{},
		},
		{
			name:     "search",
			embedder: fakeEmbedder{vec: []float32{1}},
			searcher: &fakeSearcher{err: errors.New("width mismatch")},
			gen:      &fakeGenerator{},
		},
		{
			name:     "generation",
			embedder: fakeEmbedder{vec: []float32{1}},
			searcher: &fakeSearcher{results: []domain.RetrievalResult{result("t", "s", 1, 0)}},
			gen:      &fakeGenerator{err: errors.New("quota exceeded")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(tt.embedder, tt.searcher, tt.gen, Config{})

			res := o.Answer(context.Background(), "q")

			require.NotEmpty(t, res.Error)
			assert.True(t, strings.HasPrefix(res.Answer, "Error processing question: "))
			assert.Contains(t, res.Answer, res.Error)
			assert.Equal(t, []string{}, res.Sources)
			assert.Zero(t, res.ChunksRetrieved)
		})
	}
}

func TestAnswerEndToEndWithFlatStore(t *testing.T) {
	ctx := context.Background()
	emb := hashed.NewEmbedder(128)
	store := flat.NewStorage(flat.Config{Dir: t.TempDir()})
	passages := []domain.Passage{
		{Text: "The espresso machine needs descaling every month.", Source: "coffee.md", Page: 1},
		{Text: "Bicycle tyres should be inflated to the pressure on the sidewall.", Source: "bike.txt", Page: 2},
	}
	texts := []string{passages[0].Text, passages[1].Text}
	vectors, err := emb.EmbedMany(ctx, texts)
	require.NoError(t, err)
	require.NoError(t, store.AddVectors(vectors, passages))

	gen := &fakeGenerator{resp: generation.Response{Text: "Monthly."}}
	o := New(emb, store, gen, Config{TopK: 1})

	res := o.Answer(ctx, "How often does the espresso machine need descaling?")

	assert.Empty(t, res.Error)
	assert.Equal(t, []string{"coffee.md - Page 1"}, res.Sources)
	require.Len(t, gen.calls, 1)
	assert.Contains(t, gen.calls[0].Prompt, "descaling every month")
}
