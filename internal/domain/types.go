package domain

import "time"

// Document is raw document text plus the source metadata copied onto every
// passage cut from it.
type Document struct {
	ID       string
	Title    string
	Path     string
	FileType string
	Content  string
	Metadata map[string]string
}

// Passage is a bounded span of document text with page and source
// provenance. It is the unit of retrieval.
type Passage struct {
	Text       string            `json:"text"`
	Page       int               `json:"page"`
	Source     string            `json:"source"`
	DocumentID string            `json:"document_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RetrievalResult is a stored passage with its squared Euclidean distance to
// the query vector.
type RetrievalResult struct {
	Passage  Passage `json:"passage"`
	Distance float32 `json:"distance"`
}

// AnswerResult is the outcome of one question. Error is set when the
// pipeline degraded to an error answer.
type AnswerResult struct {
	Answer          string   `json:"answer"`
	Sources         []string `json:"sources"`
	ResponseTime    float64  `json:"response_time"`
	GenerationTime  float64  `json:"generation_time"`
	ContextPreview  string   `json:"context_preview"`
	ChunksRetrieved int      `json:"chunks_retrieved"`
	TokensUsed      int      `json:"tokens_used"`
	Error           string   `json:"error,omitempty"`
}

// Stats describes the vector store. MetadataCount always equals TotalVectors.
type Stats struct {
	TotalVectors  int `json:"total_vectors"`
	Dimension     int `json:"dimension"`
	MetadataCount int `json:"metadata_count"`
}

// DocumentRecord is the persisted record of an ingested document.
type DocumentRecord struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Path       string    `json:"path"`
	FileType   string    `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	ChunkCount int       `json:"chunk_count"`
	Processed  bool      `json:"processed"`
	Summary    string    `json:"summary"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// QueryRecord is the persisted record of an answered question.
type QueryRecord struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	Sources         []string  `json:"sources"`
	ResponseTime    float64   `json:"response_time"`
	ContextUsed     string    `json:"context_used"`
	ChunksRetrieved int       `json:"chunks_retrieved"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Chunker splits documents into passages suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) []Passage
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
