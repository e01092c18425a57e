package openai

import (
	"context"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"docqa/internal/generation"
)

const DefaultModel = "gpt-4o-mini"

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey    string
	APIKeyEnv string
	BaseURL   string // optional, useful for testing against a mock server
	Model     string
}

// Generator implements generation.Generator using the Chat Completions API.
type Generator struct {
	client openaisdk.Client
	model  string
}

// New creates a new OpenAI generator. Returns an error if the API key is missing.
func New(cfg Config) (*Generator, error) {
	key := generation.ResolveAPIKey(cfg.APIKey, cfg.APIKeyEnv)
	if key == "" {
		return nil, generation.MissingKeyError("openai", cfg.APIKeyEnv)
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

	return &Generator{client: openaisdk.NewClient(opts...), model: cfg.Model}, nil
}

func (g *Generator) Name() string { return "openai" }

func (g *Generator) Model() string { return g.model }

func (g *Generator) Generate(ctx context.Context, req generation.Request) (generation.Response, error) {
	if err := generation.ValidateRequest("openai", req); err != nil {
		return generation.Response{}, err
	}
	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, buildParams(g.model, req))
	if err != nil {
		return generation.Response{}, generation.UpstreamError(err, "openai", g.model)
	}
	var text string
	if len(resp.Choices) > 0 {
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if text == "" {
		return generation.Response{}, generation.EmptyResponseError("openai", g.model)
	}
	model := resp.Model
	if model == "" {
		model = g.model
	}
	return generation.Response{
		Text:       text,
		TokensUsed: int(resp.Usage.TotalTokens),
		Elapsed:    time.Since(start),
		Model:      model,
	}, nil
}

// buildParams converts a generation.Request into chat completion params. The
// system prompt, when present, is sent as the first message.
func buildParams(model string, req generation.Request) openaisdk.ChatCompletionNewParams {
	var msgs []openaisdk.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		msgs = append(msgs, openaisdk.SystemMessage(req.SystemPrompt))
	}
	msgs = append(msgs, openaisdk.UserMessage(req.Prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    msgs,
		Temperature: param.NewOpt(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}
