package google

import (
	"context"
	"strings"
	"time"

	"google.golang.org/genai"

	"docqa/internal/generation"
	ragerr "docqa/internal/errors"
)

const DefaultModel = "gemini-2.0-flash"

// Config holds Google Gemini provider configuration.
type Config struct {
	APIKey    string
	APIKeyEnv string
	BaseURL   string
	Model     string
}

// Generator implements generation.Generator using the Gemini API.
type Generator struct {
	client *genai.Client
	model  string
}

// New creates a new Google generator. Returns an error if the API key is missing.
func New(ctx context.Context, cfg Config) (*Generator, error) {
	key := generation.ResolveAPIKey(cfg.APIKey, cfg.APIKeyEnv)
	if key == "" {
		return nil, generation.MissingKeyError("google", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeGenerationUpstreamFailure, "google: creating client")
	}
	return &Generator{client: client, model: cfg.Model}, nil
}

func (g *Generator) Name() string { return "google" }

func (g *Generator) Model() string { return g.model }

func (g *Generator) Generate(ctx context.Context, req generation.Request) (generation.Response, error) {
	if err := generation.ValidateRequest("google", req); err != nil {
		return generation.Response{}, err
	}
	start := time.Now()
	result, err := g.client.Models.GenerateContent(ctx, g.model, buildContents(req), buildConfig(req))
	if err != nil {
		return generation.Response{}, generation.UpstreamError(err, "google", g.model)
	}
	text := strings.TrimSpace(extractText(result))
	if text == "" {
		return generation.Response{}, generation.EmptyResponseError("google", g.model)
	}
	tokens := 0
	if result.UsageMetadata != nil {
		tokens = int(result.UsageMetadata.TotalTokenCount)
	}
	return generation.Response{
		Text:       text,
		TokensUsed: tokens,
		Elapsed:    time.Since(start),
		Model:      g.model,
	}, nil
}

func buildContents(req generation.Request) []*genai.Content {
	return []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}
}

// buildConfig converts a generation.Request into a genai.GenerateContentConfig.
func buildConfig(req generation.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{
				{Text: req.SystemPrompt},
			},
		}
	}
	return cfg
}

// extractText concatenates the text parts of the first candidate that has any.
func extractText(result *genai.GenerateContentResponse) string {
	if result == nil {
		return ""
	}
	for _, candidate := range result.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		var b strings.Builder
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				b.WriteString(part.Text)
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}
