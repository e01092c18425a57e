package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	ragerr "docqa/internal/errors"
	"docqa/internal/parser"
	"docqa/internal/rag"
	"docqa/internal/vectorstore"
)

// Records persists the administrative history of documents and questions.
type Records interface {
	RecordDocument(ctx context.Context, rec *domain.DocumentRecord) error
	ListDocuments(ctx context.Context) ([]domain.DocumentRecord, error)
	RecordQuery(ctx context.Context, rec *domain.QueryRecord) error
	RecentQueries(ctx context.Context, limit int) ([]domain.QueryRecord, error)
	Counts(ctx context.Context) (documents, queries int, err error)
}

// Deps are the collaborators a RAGService is built from.
type Deps struct {
	Chunker      domain.Chunker
	Embedder     embedding.Embedder
	Store        vectorstore.Storage
	Orchestrator *rag.Orchestrator
	Summarizer   domain.Summarizer
	Records      Records
	// GenerationModel is reported by Stats.
	GenerationModel string
}

type Options struct {
	SummaryMaxSentences int
}

// Stats describes the pipeline and its stored state.
type Stats struct {
	VectorStore     domain.Stats `json:"vector_store"`
	EmbeddingModel  string       `json:"embedding_model"`
	GenerationModel string       `json:"llm_model"`
	TopK            int          `json:"top_k"`
	Documents       int          `json:"documents"`
	Queries         int          `json:"queries"`
}

// RAGService ingests documents into the vector store and answers questions
// against it. Ingestion is serialised so AddVectors and Save always run as
// one unit; questions only take the store's read lock.
type RAGService struct {
	chunker    domain.Chunker
	embedder   embedding.Embedder
	store      vectorstore.Storage
	rag        *rag.Orchestrator
	summarizer domain.Summarizer
	records    Records
	genModel   string

	summaryMaxSentences int

	ingestMu sync.Mutex
}

func NewRAGService(deps Deps, opts Options) *RAGService {
	return &RAGService{
		chunker:             deps.Chunker,
		embedder:            deps.Embedder,
		store:               deps.Store,
		rag:                 deps.Orchestrator,
		summarizer:          deps.Summarizer,
		records:             deps.Records,
		genModel:            deps.GenerationModel,
		summaryMaxSentences: opts.SummaryMaxSentences,
	}
}

// Prepare warms the embedder up and loads any persisted index. Missing or
// corrupt artifacts leave the store empty; a persisted index whose width
// differs from the embedder's is an error.
func (s *RAGService) Prepare(ctx context.Context) error {
	if err := s.embedder.WarmUp(ctx); err != nil {
		return ragerr.Wrap(err, ragerr.CodeCLISetupFailure, "warming up embedder",
			ragerr.FieldProvider(s.embedder.Name()))
	}
	loaded, err := s.store.Load()
	switch {
	case err != nil:
		slog.Warn("ignoring unreadable vector store, starting empty", "code", ragerr.CodeOf(err), "error", err)
	case !loaded:
		slog.Info("no persisted vector store found, starting empty")
	default:
		stats := s.store.Stats()
		slog.Info("vector store loaded", "vectors", stats.TotalVectors, "dimension", stats.Dimension)
		if dim := s.embedder.Dimension(); dim > 0 && stats.TotalVectors > 0 && stats.Dimension != dim {
			return ragerr.New(ragerr.CodeVectorStoreDimensionMismatch,
				"persisted index width differs from the embedding model; re-ingest or change embedder",
				ragerr.FieldDimension(stats.Dimension), ragerr.Field("embedder_dimension", dim))
		}
	}
	return nil
}

// IngestDocuments expands glob patterns and ingests every supported file.
// Files with unsupported extensions are skipped. A failure on one file does
// not stop the others; all failures are returned joined.
func (s *RAGService) IngestDocuments(ctx context.Context, patterns []string) ([]domain.DocumentRecord, error) {
	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, ragerr.Wrap(err, ragerr.CodeIngestInputInvalid, "bad glob pattern", ragerr.FieldPath(p))
		}
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if _, err := parser.ForExtension(parser.FileType(m)); err != nil {
				slog.Debug("skipping unsupported file", "path", m)
				continue
			}
			paths = append(paths, m)
		}
	}
	if len(paths) == 0 {
		return nil, ragerr.New(ragerr.CodeIngestInputInvalid,
			fmt.Sprintf("no supported documents found (supported: %s)", strings.Join(parser.SupportedExtensions, ", ")))
	}

	var (
		records []domain.DocumentRecord
		errs    []error
	)
	for _, p := range paths {
		rec, err := s.IngestFile(ctx, p, "")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	if len(errs) == 1 {
		return records, errs[0]
	}
	return records, ragerr.Join(errs...)
}

// IngestFile parses, chunks, embeds and indexes one file, then records it.
// An empty title defaults to the file name. Collaborator failures are
// returned; nothing is recorded for a document that failed to index.
func (s *RAGService) IngestFile(ctx context.Context, path, title string) (domain.DocumentRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.DocumentRecord{}, ragerr.New(ragerr.CodeIngestNotFound, "document not found", ragerr.FieldPath(path))
		}
		return domain.DocumentRecord{}, ragerr.Wrap(err, ragerr.CodeIngestFailure, "reading document", ragerr.FieldPath(path))
	}
	if info.IsDir() {
		return domain.DocumentRecord{}, ragerr.New(ragerr.CodeIngestInputInvalid, "path is a directory", ragerr.FieldPath(path))
	}
	fileType := parser.FileType(path)
	p, err := parser.ForExtension(fileType)
	if err != nil {
		return domain.DocumentRecord{}, err
	}
	if title = strings.TrimSpace(title); title == "" {
		title = filepath.Base(path)
	}

	start := time.Now()
	content, err := p.Parse(path)
	if err != nil {
		return domain.DocumentRecord{}, err
	}

	doc := domain.Document{
		ID:       uuid.NewString(),
		Title:    title,
		Path:     path,
		FileType: fileType,
		Content:  content,
		Metadata: map[string]string{"file_type": fileType},
	}
	passages := s.chunker.Chunk(doc)
	if err := s.index(ctx, passages); err != nil {
		return domain.DocumentRecord{}, ragerr.Wrap(err, ragerr.CodeIngestFailure, "indexing document",
			ragerr.FieldPath(path), ragerr.FieldDocumentID(doc.ID))
	}

	rec := domain.DocumentRecord{
		ID:         doc.ID,
		Title:      title,
		Path:       path,
		FileType:   fileType,
		FileSize:   info.Size(),
		ChunkCount: len(passages),
		Processed:  true,
		Summary:    s.summarize(content),
	}
	if err := s.records.RecordDocument(ctx, &rec); err != nil {
		return rec, err
	}
	slog.Info("document ingested",
		"title", title,
		"file_type", fileType,
		"chunks", len(passages),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return rec, nil
}

// index embeds passages and appends them to the store, saving under the
// ingest lock.
func (s *RAGService) index(ctx context.Context, passages []domain.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vectors, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(passages) {
		return ragerr.New(ragerr.CodeEmbeddingResponseInvalid, "embedder returned a different number of vectors",
			ragerr.Field("passages", len(passages)), ragerr.Field("vectors", len(vectors)))
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	before := s.store.Stats().MetadataCount
	if err := s.store.AddVectors(vectors, passages); err != nil {
		return err
	}
	if err := s.store.Save(); err != nil {
		// A failed document is not recorded, so its passages must not stay searchable.
		if terr := s.store.Truncate(before); terr != nil {
			slog.Warn("rolling back unsaved passages failed", "code", ragerr.CodeOf(terr), "error", terr)
		}
		return err
	}
	return nil
}

func (s *RAGService) summarize(content string) string {
	if s.summarizer == nil {
		return ""
	}
	summary, err := s.summarizer.Summarize(content, s.summaryMaxSentences)
	if err != nil {
		slog.Warn("summarizing document failed", "error", err)
		return ""
	}
	return summary
}

// Ask answers question and logs it. Logging failures never affect the answer.
func (s *RAGService) Ask(ctx context.Context, question string) domain.AnswerResult {
	question = strings.TrimSpace(question)
	result := s.rag.Answer(ctx, question)

	rec := domain.QueryRecord{
		Question:        question,
		Answer:          result.Answer,
		Sources:         result.Sources,
		ResponseTime:    result.ResponseTime,
		ContextUsed:     result.ContextPreview,
		ChunksRetrieved: result.ChunksRetrieved,
		Error:           result.Error,
	}
	if err := s.records.RecordQuery(ctx, &rec); err != nil {
		slog.Warn("recording query failed", "error", err)
	}
	return result
}

func (s *RAGService) Stats(ctx context.Context) (Stats, error) {
	docs, queries, err := s.records.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		VectorStore:     s.store.Stats(),
		EmbeddingModel:  s.embedder.Model(),
		GenerationModel: s.genModel,
		TopK:            s.rag.TopK(),
		Documents:       docs,
		Queries:         queries,
	}, nil
}

func (s *RAGService) Documents(ctx context.Context) ([]domain.DocumentRecord, error) {
	return s.records.ListDocuments(ctx)
}

func (s *RAGService) RecentQueries(ctx context.Context, limit int) ([]domain.QueryRecord, error) {
	return s.records.RecentQueries(ctx, limit)
}
