// Package hashed provides an offline embedder that needs no corpus preparation
// and no network: term frequencies are hashed into a fixed number of buckets.
package hashed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"docqa/internal/embedding"
	ragerr "docqa/internal/errors"
)

const DefaultDimension = 384

// Embedder implements signed feature hashing over lower-cased word tokens,
// with stopwords removed and the result L2-normalised.
type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewEmbedder returns a hashed embedder producing vectors of the given width.
// A non-positive width selects DefaultDimension.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}
}

func (e *Embedder) Name() string { return "hashed" }

func (e *Embedder) Model() string { return fmt.Sprintf("hashed-%d", e.dimension) }

func (e *Embedder) Dimension() int { return e.dimension }

// WarmUp is a no-op; the width is known up front.
func (e *Embedder) WarmUp(context.Context) error { return nil }

func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embedding.EmptyTextError()
	}
	if err := ctx.Err(); err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeEmbeddingRequestInvalid, "embedding cancelled")
	}
	return e.embed(text), nil
}

func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	texts = embedding.NonEmpty(texts)
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, ragerr.Wrap(err, ragerr.CodeEmbeddingRequestInvalid, "embedding cancelled")
		}
		out = append(out, e.embed(t))
	}
	return out, nil
}

func (e *Embedder) embed(text string) []float32 {
	vec := make([]float32, e.dimension)
	tokens := e.tokenize(text)
	if len(tokens) == 0 {
		return vec
	}
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	total := float64(len(tokens))
	for term, count := range tf {
		idx, sign := e.bucket(term)
		vec[idx] += sign * float32(float64(count)/total)
	}
	// L2 normalize
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

// bucket maps a term to a slot and a sign, so collisions tend to cancel
// rather than accumulate.
func (e *Embedder) bucket(term string) (int, float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	sum := h.Sum64()
	sign := float32(1)
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % uint64(e.dimension)), sign
}

func (e *Embedder) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := e.tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "how", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
