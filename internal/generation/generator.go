// Package generation defines the contract for the language model that writes
// answers from an assembled prompt. Provider SDK adapters live in
// subpackages.
package generation

import (
	"context"
	"os"
	"strings"
	"time"

	ragerr "docqa/internal/errors"
)

// Request is a single non-streaming completion request.
type Request struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Response is the generated text plus accounting.
type Response struct {
	Text       string
	TokensUsed int
	Elapsed    time.Duration
	Model      string
}

type Generator interface {
	Name() string
	Model() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// ResolveAPIKey returns key, or the value of env when key is empty.
func ResolveAPIKey(key, env string) string {
	if key != "" {
		return key
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// MissingKeyError reports a provider configured without credentials.
func MissingKeyError(provider, env string) error {
	return ragerr.New(ragerr.CodeGenerationRequestInvalid, provider+": api key not set (env "+env+")",
		ragerr.FieldProvider(provider), ragerr.Field("env", env))
}

// ValidateRequest rejects prompts that carry no text.
func ValidateRequest(provider string, req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return ragerr.New(ragerr.CodeGenerationRequestInvalid, provider+": prompt is empty",
			ragerr.FieldProvider(provider))
	}
	return nil
}

// UpstreamError wraps an SDK failure.
func UpstreamError(err error, provider, model string) error {
	return ragerr.Wrapf(err, ragerr.CodeGenerationUpstreamFailure, "%s: generating with %s", provider, model)
}

// EmptyResponseError reports a completion without any text.
func EmptyResponseError(provider, model string) error {
	return ragerr.New(ragerr.CodeGenerationResponseInvalid, provider+": response contained no text",
		ragerr.FieldProvider(provider), ragerr.Field("model", model))
}
