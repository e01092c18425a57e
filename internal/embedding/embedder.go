package embedding

import (
	"context"
	"strings"

	ragerr "docqa/internal/errors"
)

// Embedder converts free text into a fixed-width vector. Remote providers may
// not know their width until WarmUp has run.
type Embedder interface {
	Name() string
	Model() string
	Dimension() int
	// WarmUp performs any one-time initialisation, such as probing a remote
	// model for its output width. Callers invoke it before serving traffic.
	WarmUp(ctx context.Context) error
	// EmbedOne rejects blank text with an embedding.text.empty error.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// EmbedMany embeds the non-blank texts, in order. Blank entries are dropped,
	// so callers that need positional alignment must not pass blanks.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// EmptyTextError is returned for blank input.
func EmptyTextError() error {
	return ragerr.New(ragerr.CodeEmbeddingEmptyText, "text cannot be empty")
}

// NonEmpty returns texts without blank entries.
func NonEmpty(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}
