// Package flat implements an exact, append-only vector store that keeps every
// embedding in one contiguous float32 slice and persists it as a binary index
// artifact next to a JSON metadata artifact.
package flat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"docqa/internal/domain"
	ragerr "docqa/internal/errors"
)

const (
	DefaultIndexFile    = "index.bin"
	DefaultMetadataFile = "metadata.json"
)

// Config locates the persisted artifacts.
type Config struct {
	Dir          string
	IndexFile    string
	MetadataFile string
}

// Storage is a brute-force squared-L2 index. Vectors are stored row-major so
// row i belongs to passages[i].
type Storage struct {
	mu       sync.RWMutex
	dim      int
	vectors  []float32
	passages []domain.Passage
	dirty    bool

	indexPath    string
	metadataPath string
}

func NewStorage(cfg Config) *Storage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = DefaultIndexFile
	}
	if cfg.MetadataFile == "" {
		cfg.MetadataFile = DefaultMetadataFile
	}
	return &Storage{
		indexPath:    filepath.Join(cfg.Dir, cfg.IndexFile),
		metadataPath: filepath.Join(cfg.Dir, cfg.MetadataFile),
	}
}

// Initialize resets the store to empty with a fixed vector width.
func (s *Storage) Initialize(dimension int) error {
	if dimension <= 0 {
		return ragerr.New(ragerr.CodeVectorStoreDimensionInvalid, "dimension must be positive",
			ragerr.FieldDimension(dimension))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dim = dimension
	s.vectors = nil
	s.passages = nil
	s.dirty = true
	return nil
}

// AddVectors appends embeddings and their passages. The batch is validated in
// full before anything is appended.
func (s *Storage) AddVectors(embeddings [][]float32, metadata []domain.Passage) error {
	if len(embeddings) != len(metadata) {
		return ragerr.New(ragerr.CodeVectorStoreDimensionMismatch, "embeddings and metadata differ in length",
			ragerr.Field("embeddings", len(embeddings)), ragerr.Field("metadata", len(metadata)))
	}
	if len(embeddings) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	if dim == 0 {
		dim = len(embeddings[0])
		if dim == 0 {
			return ragerr.New(ragerr.CodeVectorStoreDimensionMismatch, "embedding has zero width")
		}
	}
	for i, e := range embeddings {
		if len(e) != dim {
			return ragerr.New(ragerr.CodeVectorStoreDimensionMismatch, "embedding width does not match store",
				ragerr.FieldDimension(dim), ragerr.Field("index", i), ragerr.Field("width", len(e)))
		}
	}

	s.dim = dim
	for _, e := range embeddings {
		s.vectors = append(s.vectors, e...)
	}
	s.passages = append(s.passages, metadata...)
	s.dirty = true
	s.checkInvariant()
	return nil
}

// Truncate keeps the first n passages and drops the rest. It undoes an
// AddVectors batch that could not be persisted.
func (s *Storage) Truncate(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n > len(s.passages) {
		return ragerr.New(ragerr.CodeVectorStoreTruncateInvalid, "truncate beyond store size",
			ragerr.Field("n", n), ragerr.Field("metadata", len(s.passages)))
	}
	if n == len(s.passages) {
		return nil
	}
	s.vectors = s.vectors[:n*s.dim]
	s.passages = s.passages[:n]
	s.dirty = true
	s.checkInvariant()
	return nil
}

// Search returns up to topK passages ordered by ascending squared Euclidean
// distance. Equal distances keep insertion order.
func (s *Storage) Search(query []float32, topK int) ([]domain.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.passages)
	if total == 0 || topK <= 0 {
		return []domain.RetrievalResult{}, nil
	}
	if len(query) != s.dim {
		return nil, ragerr.New(ragerr.CodeVectorStoreQueryInvalid, "query width does not match store",
			ragerr.FieldDimension(s.dim), ragerr.Field("width", len(query)))
	}

	type scored struct {
		idx  int
		dist float32
	}
	scores := make([]scored, total)
	for i := 0; i < total; i++ {
		scores[i] = scored{idx: i, dist: squaredL2(query, s.vectors[i*s.dim:(i+1)*s.dim])}
	}
	sort.SliceStable(scores, func(a, b int) bool { return scores[a].dist < scores[b].dist })

	k := min(topK, total)
	results := make([]domain.RetrievalResult, k)
	for i := 0; i < k; i++ {
		results[i] = domain.RetrievalResult{
			Passage:  s.passages[scores[i].idx],
			Distance: scores[i].dist,
		}
	}
	return results, nil
}

// Save writes both artifacts. An empty store writes nothing.
func (s *Storage) Save() error {
	s.mu.RLock()
	if len(s.passages) == 0 {
		s.mu.RUnlock()
		return nil
	}
	index := encodeIndex(s.dim, s.vectors)
	metadata, err := json.Marshal(s.passages)
	total := len(s.passages)
	s.mu.RUnlock()
	if err != nil {
		return ragerr.Wrap(err, ragerr.CodeVectorStorePersistFailure, "encoding metadata")
	}

	if err := os.MkdirAll(filepath.Dir(s.indexPath), 0o755); err != nil {
		return ragerr.Wrap(err, ragerr.CodeVectorStorePersistFailure, "creating store directory",
			ragerr.FieldPath(filepath.Dir(s.indexPath)))
	}
	if err := writeFileAtomic(s.indexPath, index); err != nil {
		return ragerr.Wrap(err, ragerr.CodeVectorStorePersistFailure, "writing index", ragerr.FieldPath(s.indexPath))
	}
	if err := writeFileAtomic(s.metadataPath, metadata); err != nil {
		return ragerr.Wrap(err, ragerr.CodeVectorStorePersistFailure, "writing metadata", ragerr.FieldPath(s.metadataPath))
	}

	s.mu.Lock()
	if len(s.passages) == total {
		s.dirty = false
	}
	s.mu.Unlock()
	slog.Debug("vector store saved", "path", s.indexPath, "vectors", total)
	return nil
}

// Load replaces the in-memory state with the persisted artifacts. When either
// artifact is missing it returns false and leaves the store untouched; corrupt
// artifacts return an error and also leave the store untouched.
func (s *Storage) Load() (bool, error) {
	index, err := os.ReadFile(s.indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, ragerr.Wrap(err, ragerr.CodeVectorStoreLoadFailure, "reading index", ragerr.FieldPath(s.indexPath))
	}
	rawMetadata, err := os.ReadFile(s.metadataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, ragerr.Wrap(err, ragerr.CodeVectorStoreLoadFailure, "reading metadata", ragerr.FieldPath(s.metadataPath))
	}

	dim, n, vectors, err := decodeIndex(index)
	if err != nil {
		return false, err
	}
	var passages []domain.Passage
	if err := json.Unmarshal(rawMetadata, &passages); err != nil {
		return false, ragerr.Wrap(err, ragerr.CodeVectorStoreLoadInvalid, "decoding metadata", ragerr.FieldPath(s.metadataPath))
	}
	if len(passages) != n {
		return false, ragerr.New(ragerr.CodeVectorStoreLoadInvalid, "metadata count does not match index",
			ragerr.Field("vectors", n), ragerr.Field("metadata", len(passages)))
	}

	s.mu.Lock()
	s.dim = dim
	s.vectors = vectors
	s.passages = passages
	s.dirty = false
	s.checkInvariant()
	s.mu.Unlock()
	slog.Debug("vector store loaded", "path", s.indexPath, "vectors", n, "dimension", dim)
	return true, nil
}

func (s *Storage) Stats() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	if s.dim > 0 {
		total = len(s.vectors) / s.dim
	}
	return domain.Stats{TotalVectors: total, Dimension: s.dim, MetadataCount: len(s.passages)}
}

// Dirty reports whether the store holds changes not yet written by Save.
func (s *Storage) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// checkInvariant must be called with the write lock held.
func (s *Storage) checkInvariant() {
	if s.dim > 0 && len(s.vectors) != len(s.passages)*s.dim {
		panic(fmt.Sprintf("flat: %d floats for %d passages at dimension %d", len(s.vectors), len(s.passages), s.dim))
	}
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
