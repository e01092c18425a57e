package generation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "docqa/internal/errors"
)

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("DOCQA_TEST_GEN_KEY", "from-env")

	assert.Equal(t, "explicit", ResolveAPIKey("explicit", "DOCQA_TEST_GEN_KEY"))
	assert.Equal(t, "from-env", ResolveAPIKey("", "DOCQA_TEST_GEN_KEY"))
	assert.Equal(t, "", ResolveAPIKey("", ""))
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest("p", Request{Prompt: "hi"}))

	err := ValidateRequest("p", Request{Prompt: "\n"})
	require.Error(t, err)
	assert.Equal(t, ragerr.CodeGenerationRequestInvalid, ragerr.CodeOf(err))
}

func TestErrorHelpers(t *testing.T) {
	cause := errors.New("connection reset")
	err := UpstreamError(cause, "openai", "gpt")
	assert.ErrorIs(t, err, cause)
	assert.True(t, ragerr.IsUpstreamFailure(err))
	assert.Contains(t, err.Error(), "openai: generating with gpt")

	assert.Equal(t, ragerr.CodeGenerationResponseInvalid, ragerr.CodeOf(EmptyResponseError("google", "gemini")))
	err = MissingKeyError("anthropic", "ANTHROPIC_API_KEY")
	assert.True(t, ragerr.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "api key not set (env ANTHROPIC_API_KEY)")
}
