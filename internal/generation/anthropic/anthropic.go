package anthropic

import (
	"context"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"docqa/internal/generation"
)

const (
	DefaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
)

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey    string
	APIKeyEnv string
	BaseURL   string
	Model     string
}

// Generator implements generation.Generator using the Messages API.
type Generator struct {
	client anthropicsdk.Client
	model  string
}

// New creates a new Anthropic generator. Returns an error if the API key is missing.
func New(cfg Config) (*Generator, error) {
	key := generation.ResolveAPIKey(cfg.APIKey, cfg.APIKeyEnv)
	if key == "" {
		return nil, generation.MissingKeyError("anthropic", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Generator{client: anthropicsdk.NewClient(opts...), model: cfg.Model}, nil
}

func (g *Generator) Name() string { return "anthropic" }

func (g *Generator) Model() string { return g.model }

func (g *Generator) Generate(ctx context.Context, req generation.Request) (generation.Response, error) {
	if err := generation.ValidateRequest("anthropic", req); err != nil {
		return generation.Response{}, err
	}
	start := time.Now()
	msg, err := g.client.Messages.New(ctx, buildParams(g.model, req))
	if err != nil {
		return generation.Response{}, generation.UpstreamError(err, "anthropic", g.model)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return generation.Response{}, generation.EmptyResponseError("anthropic", g.model)
	}
	model := string(msg.Model)
	if model == "" {
		model = g.model
	}
	return generation.Response{
		Text:       text,
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		Elapsed:    time.Since(start),
		Model:      model,
	}, nil
}

// buildParams converts a generation.Request into Messages API params. The
// Messages API requires max_tokens, so a default applies when unset.
func buildParams(model string, req generation.Request) anthropicsdk.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropicsdk.Float(req.Temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	return params
}
