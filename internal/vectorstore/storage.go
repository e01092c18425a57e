package vectorstore

import "docqa/internal/domain"

// Storage persists passage embeddings and answers exact nearest-neighbour
// queries. Implementations are safe for concurrent use: searches may run in
// parallel while writers are exclusive.
type Storage interface {
	Initialize(dimension int) error
	AddVectors(embeddings [][]float32, metadata []domain.Passage) error
	Search(query []float32, topK int) ([]domain.RetrievalResult, error)
	Save() error
	// Truncate drops every passage after the first n.
	Truncate(n int) error
	// Load replaces the in-memory state with the persisted artifacts. It
	// reports false without error when nothing has been persisted yet.
	Load() (bool, error)
	Stats() domain.Stats
	Dirty() bool
}
