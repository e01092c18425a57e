package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndListDocuments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	older := &domain.DocumentRecord{Title: "Manual", FileType: "pdf", FileSize: 2048, ChunkCount: 7, Processed: true, Summary: "About things.", UploadedAt: base}
	newer := &domain.DocumentRecord{Title: "FAQ", FileType: "md", UploadedAt: base.Add(time.Hour)}
	require.NoError(t, s.RecordDocument(ctx, older))
	require.NoError(t, s.RecordDocument(ctx, newer))
	assert.NotEmpty(t, older.ID)

	docs, err := s.ListDocuments(ctx)

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "FAQ", docs[0].Title)
	assert.Equal(t, *older, docs[1])
}

func TestRecordDocumentReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rec := &domain.DocumentRecord{ID: "doc-1", Title: "Draft", FileType: "txt"}
	require.NoError(t, s.RecordDocument(ctx, rec))

	rec.Processed = true
	rec.ChunkCount = 3
	require.NoError(t, s.RecordDocument(ctx, rec))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.True(t, docs[0].Processed)
	assert.Equal(t, 3, docs[0].ChunkCount)
}

func TestRecentQueries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for i, q := range []string{"first?", "second?", "third?"} {
		require.NoError(t, s.RecordQuery(ctx, &domain.QueryRecord{
			Question:        q,
			Answer:          "answer",
			Sources:         []string{"a.txt - Page 1"},
			ResponseTime:    0.25,
			ChunksRetrieved: 1,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.RecentQueries(ctx, 2)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third?", got[0].Question)
	assert.Equal(t, "second?", got[1].Question)
	assert.Equal(t, []string{"a.txt - Page 1"}, got[0].Sources)
	assert.Equal(t, 0.25, got[0].ResponseTime)
	assert.Equal(t, base.Add(2*time.Minute), got[0].CreatedAt)
}

func TestRecordQueryWithErrorAndNoSources(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordQuery(ctx, &domain.QueryRecord{Question: "q", Answer: "Error processing question: boom", Error: "boom"}))

	got, err := s.RecentQueries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Error)
	assert.Equal(t, []string{}, got[0].Sources)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	docs, queries, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, docs)
	assert.Zero(t, queries)

	require.NoError(t, s.RecordDocument(ctx, &domain.DocumentRecord{Title: "a", FileType: "txt"}))
	require.NoError(t, s.RecordQuery(ctx, &domain.QueryRecord{Question: "q", Answer: "a"}))
	require.NoError(t, s.RecordQuery(ctx, &domain.QueryRecord{Question: "q2", Answer: "a"}))

	docs, queries, err = s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 2, queries)
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 100, time.UTC)
	assert.Equal(t, ts, parseTime(formatTime(ts)))
	assert.True(t, parseTime("").IsZero())
	assert.Less(t, formatTime(ts), formatTime(ts.Add(time.Millisecond)))
}
