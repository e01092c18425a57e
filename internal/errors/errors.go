// Package errors provides coded, structured errors shared by every docqa
// package. Codes follow the "<area>.<operation>.<reason>" convention; the
// trailing reason drives classification helpers such as IsInvalidInput.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeChunkerConfigInvalid Code = "chunker.config.invalid_value"

	CodeVectorStoreDimensionMismatch Code = "vectorstore.add.dimension_mismatch"
	CodeVectorStoreQueryInvalid      Code = "vectorstore.search.invalid_input"
	CodeVectorStoreDimensionInvalid  Code = "vectorstore.initialize.invalid_value"
	CodeVectorStorePersistFailure    Code = "vectorstore.save.failure"
	CodeVectorStoreLoadInvalid       Code = "vectorstore.load.invalid_format"
	CodeVectorStoreLoadFailure       Code = "vectorstore.load.failure"
	CodeVectorStoreTruncateInvalid   Code = "vectorstore.truncate.invalid_input"

	CodeEmbeddingEmptyText       Code = "embedding.text.empty"
	CodeEmbeddingRequestInvalid  Code = "embedding.request.invalid"
	CodeEmbeddingUpstreamFailure Code = "embedding.upstream.failure"
	CodeEmbeddingResponseInvalid Code = "embedding.response.invalid"

	CodeGenerationRequestInvalid  Code = "generation.request.invalid"
	CodeGenerationUpstreamFailure Code = "generation.upstream.failure"
	CodeGenerationResponseInvalid Code = "generation.response.invalid"

	CodeParserTypeUnsupported Code = "parser.type.unsupported"
	CodeParserReadFailure     Code = "parser.read.failure"

	CodeRAGEmbedFailure    Code = "rag.embed.failure"
	CodeRAGSearchFailure   Code = "rag.search.failure"
	CodeRAGGenerateFailure Code = "rag.generate.failure"

	CodeIngestInputInvalid Code = "ingest.input.invalid"
	CodeIngestNotFound     Code = "ingest.document.not_found"
	CodeIngestFailure      Code = "ingest.pipeline.failure"

	CodeHistoryDatabaseFailure Code = "history.database.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"
	CodeCLIAskFailure   Code = "cli.ask.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldDocumentID(value string) Attr { return Field("document_id", value) }

func FieldPath(value string) Attr { return Field("path", value) }

func FieldProvider(value string) Attr { return Field("provider", value) }

func FieldDimension(value int) Attr { return Field("dimension", value) }

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the innermost code in the chain (the first code set), or ""
// for plain errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

// FieldsOf returns the structured context attached along the chain.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	switch reason(CodeOf(err)) {
	case "invalid", "invalid_input", "invalid_value", "invalid_format", "dimension_mismatch", "empty":
		return true
	}
	return false
}

func IsUnsupported(err error) bool {
	return reason(CodeOf(err)) == "unsupported"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

// HTTPStatus maps an error to the status code an API handler should return.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnsupported(err):
		return http.StatusUnsupportedMediaType
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
