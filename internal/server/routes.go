package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"docqa/internal/domain"
	ragerr "docqa/internal/errors"
	"docqa/internal/parser"
	"docqa/internal/service"
)

func (s *Server) registerRoutes() {
	maxBytes := int64(s.cfg.MaxUploadMB) << 20

	// Document endpoints
	huma.Register(s.api, huma.Operation{
		OperationID:  "upload-document",
		Method:       http.MethodPost,
		Path:         "/api/v1/documents",
		Summary:      "Upload and ingest a document",
		Tags:         []string{"documents"},
		MaxBodyBytes: maxBytes + 1<<20, // room for multipart framing
	}, s.handleUploadDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/api/v1/documents",
		Summary:     "List ingested documents",
		Tags:        []string{"documents"},
	}, s.handleListDocuments)

	// Question endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "ask",
		Method:      http.MethodPost,
		Path:        "/api/v1/ask",
		Summary:     "Answer a question from the knowledge base",
		Tags:        []string{"questions"},
	}, s.handleAsk)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-queries",
		Method:      http.MethodGet,
		Path:        "/api/v1/queries",
		Summary:     "Recent questions and answers",
		Tags:        []string{"questions"},
	}, s.handleListQueries)

	huma.Register(s.api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/stats",
		Summary:     "Knowledge base statistics",
		Tags:        []string{"system"},
	}, s.handleStats)
}

// --- Request/Response types for huma ---

type uploadDocumentInput struct {
	RawBody multipart.Form
}
type uploadDocumentOutput struct {
	Body domain.DocumentRecord
}

type listDocumentsOutput struct {
	Body struct {
		Documents []domain.DocumentRecord `json:"documents"`
	}
}

type askInput struct {
	Body struct {
		Question string `json:"question" minLength:"1" maxLength:"1000" doc:"Question to answer"`
	}
}
type askOutput struct {
	Body domain.AnswerResult
}

type listQueriesInput struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Maximum number of queries"`
}
type listQueriesOutput struct {
	Body struct {
		Queries []domain.QueryRecord `json:"queries"`
	}
}

type statsOutput struct {
	Body service.Stats
}

// --- Handlers ---

func (s *Server) handleUploadDocument(ctx context.Context, input *uploadDocumentInput) (*uploadDocumentOutput, error) {
	files := input.RawBody.File["file"]
	if len(files) == 0 {
		return nil, huma.Error400BadRequest("multipart field \"file\" is required")
	}
	fh := files[0]
	name := filepath.Base(fh.Filename)
	if _, err := parser.ForExtension(parser.FileType(name)); err != nil {
		return nil, huma.NewError(http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported file type; supported: %s", strings.Join(parser.SupportedExtensions, ", ")))
	}
	if limit := int64(s.cfg.MaxUploadMB) << 20; fh.Size > limit {
		return nil, huma.NewError(http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.cfg.MaxUploadMB))
	}

	path, err := s.storeUpload(fh, name)
	if err != nil {
		return nil, toHTTPError("storing upload", err)
	}

	title := ""
	if v := input.RawBody.Value["title"]; len(v) > 0 {
		title = v[0]
	}
	if strings.TrimSpace(title) == "" {
		title = name
	}
	rec, err := s.backend.IngestFile(ctx, path, title)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Warn("removing failed upload", "path", path, "error", rmErr)
		}
		return nil, toHTTPError("ingesting document", err)
	}
	return &uploadDocumentOutput{Body: rec}, nil
}

// storeUpload copies the uploaded file under the upload directory with a
// unique prefix so concurrent uploads of the same name never collide.
func (s *Server) storeUpload(fh *multipart.FileHeader, name string) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", ragerr.Errorf(ragerr.CodeServerInternalFailure, "creating upload dir: %w", err)
	}
	src, err := fh.Open()
	if err != nil {
		return "", ragerr.Errorf(ragerr.CodeServerRequestInvalid, "opening upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+"_"+name)
	dst, err := os.Create(path)
	if err != nil {
		return "", ragerr.Errorf(ragerr.CodeServerInternalFailure, "creating %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", ragerr.Errorf(ragerr.CodeServerInternalFailure, "writing %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", ragerr.Errorf(ragerr.CodeServerInternalFailure, "closing %s: %w", path, err)
	}
	return path, nil
}

func (s *Server) handleListDocuments(ctx context.Context, _ *struct{}) (*listDocumentsOutput, error) {
	docs, err := s.backend.Documents(ctx)
	if err != nil {
		return nil, toHTTPError("listing documents", err)
	}
	out := &listDocumentsOutput{}
	out.Body.Documents = docs
	return out, nil
}

func (s *Server) handleAsk(ctx context.Context, input *askInput) (*askOutput, error) {
	question := strings.TrimSpace(input.Body.Question)
	if question == "" {
		return nil, huma.Error400BadRequest("question must not be blank")
	}
	return &askOutput{Body: s.backend.Ask(ctx, question)}, nil
}

func (s *Server) handleListQueries(ctx context.Context, input *listQueriesInput) (*listQueriesOutput, error) {
	queries, err := s.backend.RecentQueries(ctx, input.Limit)
	if err != nil {
		return nil, toHTTPError("listing queries", err)
	}
	out := &listQueriesOutput{}
	out.Body.Queries = queries
	return out, nil
}

func (s *Server) handleStats(ctx context.Context, _ *struct{}) (*statsOutput, error) {
	stats, err := s.backend.Stats(ctx)
	if err != nil {
		return nil, toHTTPError("reading stats", err)
	}
	return &statsOutput{Body: stats}, nil
}

// toHTTPError maps a coded error to a huma status error. Internal failures
// are logged and hidden from the client.
func toHTTPError(action string, err error) error {
	status := ragerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		slog.Error(action+" failed", "code", ragerr.CodeOf(err), "error", err)
		return huma.Error500InternalServerError(action + " failed")
	}
	return huma.NewError(status, err.Error())
}
