package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	ragerr "docqa/internal/errors"
	"docqa/internal/server"
	"docqa/internal/service"
)

type mockBackend struct {
	ingested  []string
	titles    []string
	ingestErr error
	asked     []string
	gotLimit  int
	docs      []domain.DocumentRecord
	statsErr  error
}

func (m *mockBackend) IngestFile(_ context.Context, path, title string) (domain.DocumentRecord, error) {
	if m.ingestErr != nil {
		return domain.DocumentRecord{}, m.ingestErr
	}
	m.ingested = append(m.ingested, path)
	m.titles = append(m.titles, title)
	return domain.DocumentRecord{ID: "doc-1", Title: title, Path: path, FileType: "txt", ChunkCount: 2, Processed: true}, nil
}

func (m *mockBackend) Documents(context.Context) ([]domain.DocumentRecord, error) {
	return m.docs, nil
}

func (m *mockBackend) Ask(_ context.Context, question string) domain.AnswerResult {
	m.asked = append(m.asked, question)
	return domain.AnswerResult{Answer: "42", Sources: []string{"guide.txt - Page 1"}, ChunksRetrieved: 1}
}

func (m *mockBackend) RecentQueries(_ context.Context, limit int) ([]domain.QueryRecord, error) {
	m.gotLimit = limit
	return []domain.QueryRecord{{ID: "q1", Question: "why?", Answer: "because", Sources: []string{}}}, nil
}

func (m *mockBackend) Stats(context.Context) (service.Stats, error) {
	if m.statsErr != nil {
		return service.Stats{}, m.statsErr
	}
	return service.Stats{
		VectorStore:    domain.Stats{TotalVectors: 4, Dimension: 384, MetadataCount: 4},
		EmbeddingModel: "hashed-384",
		TopK:           3,
		Documents:      1,
	}, nil
}

func newTestServer(t *testing.T, backend *mockBackend) (*server.Server, string) {
	t.Helper()
	uploads := t.TempDir()
	srv, err := server.New(server.Config{
		ListenAddr:  "127.0.0.1:0",
		MaxUploadMB: 1,
		UploadDir:   uploads,
	}, backend)
	require.NoError(t, err)
	return srv, uploads
}

func do(t *testing.T, srv *server.Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, filename string, content []byte, title string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	if title != "" {
		require.NoError(t, mw.WriteField("title", title))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServer_New_Validation(t *testing.T) {
	_, err := server.New(server.Config{UploadDir: "x"}, &mockBackend{})
	assert.True(t, ragerr.HasCode(err, ragerr.CodeServerConfigInvalid))

	_, err = server.New(server.Config{ListenAddr: ":0"}, &mockBackend{})
	assert.True(t, ragerr.HasCode(err, ragerr.CodeServerConfigInvalid))

	_, err = server.New(server.Config{ListenAddr: ":0", UploadDir: "x"}, nil)
	assert.True(t, ragerr.HasCode(err, ragerr.CodeServerConfigInvalid))
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &mockBackend{})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestServer_OpenAPISpecListsRoutes(t *testing.T) {
	srv, _ := newTestServer(t, &mockBackend{})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	require.Equal(t, http.StatusOK, w.Code)
	for _, path := range []string{"/api/v1/documents", "/api/v1/ask", "/api/v1/queries", "/api/v1/stats"} {
		assert.Contains(t, w.Body.String(), path)
	}
}

func TestAsk(t *testing.T) {
	backend := &mockBackend{}
	srv, _ := newTestServer(t, backend)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"question":"  what is it?  "}`))
	req.Header.Set("Content-Type", "application/json")

	w := do(t, srv, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got domain.AnswerResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "42", got.Answer)
	assert.Equal(t, []string{"guide.txt - Page 1"}, got.Sources)
	assert.Equal(t, []string{"what is it?"}, backend.asked)
}

func TestAskRejectsBadQuestions(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", `{"question":""}`},
		{"blank", `{"question":"   "}`},
		{"too long", `{"question":"` + strings.Repeat("a", 1001) + `"}`},
		{"missing", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{}
			srv, _ := newTestServer(t, backend)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := do(t, srv, req)

			assert.GreaterOrEqual(t, w.Code, 400)
			assert.Less(t, w.Code, 500)
			assert.Empty(t, backend.asked)
		})
	}
}

func TestUploadDocument(t *testing.T) {
	backend := &mockBackend{}
	srv, uploads := newTestServer(t, backend)

	w := do(t, srv, multipartUpload(t, "guide.txt", []byte("Some guide text."), "User Guide"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, backend.ingested, 1)
	assert.True(t, strings.HasPrefix(backend.ingested[0], uploads))
	assert.True(t, strings.HasSuffix(backend.ingested[0], "_guide.txt"))
	assert.Equal(t, []string{"User Guide"}, backend.titles)
	data, err := os.ReadFile(backend.ingested[0])
	require.NoError(t, err)
	assert.Equal(t, "Some guide text.", string(data))

	var got domain.DocumentRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "doc-1", got.ID)
	assert.Equal(t, 2, got.ChunkCount)
}

func TestUploadDocumentTitleDefaultsToFilename(t *testing.T) {
	backend := &mockBackend{}
	srv, _ := newTestServer(t, backend)

	w := do(t, srv, multipartUpload(t, "notes.md", []byte("# Notes"), ""))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"notes.md"}, backend.titles)
}

func TestUploadDocumentRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		want     int
	}{
		{"missing file", "", nil, http.StatusBadRequest},
		{"unsupported type", "sheet.xlsx", []byte("x"), http.StatusUnsupportedMediaType},
		{"too large", "big.txt", bytes.Repeat([]byte("a"), 1<<20+1), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{}
			srv, _ := newTestServer(t, backend)

			w := do(t, srv, multipartUpload(t, tt.filename, tt.content, ""))

			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Empty(t, backend.ingested)
		})
	}
}

func TestUploadDocumentIngestFailureRemovesFile(t *testing.T) {
	backend := &mockBackend{ingestErr: ragerr.New(ragerr.CodeEmbeddingUpstreamFailure, "provider down")}
	srv, uploads := newTestServer(t, backend)

	w := do(t, srv, multipartUpload(t, "guide.txt", []byte("text"), ""))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	entries, err := os.ReadDir(uploads)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListDocuments(t *testing.T) {
	backend := &mockBackend{docs: []domain.DocumentRecord{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}}
	srv, _ := newTestServer(t, backend)

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Documents []domain.DocumentRecord `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got.Documents, 2)
}

func TestListQueries(t *testing.T) {
	backend := &mockBackend{}
	srv, _ := newTestServer(t, backend)

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/v1/queries?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, backend.gotLimit)

	w = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/v1/queries", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, backend.gotLimit)

	w = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/v1/queries?limit=0", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, &mockBackend{})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got service.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 4, got.VectorStore.TotalVectors)
	assert.Equal(t, "hashed-384", got.EmbeddingModel)
}

func TestStatsInternalErrorIsHidden(t *testing.T) {
	srv, _ := newTestServer(t, &mockBackend{statsErr: ragerr.New(ragerr.CodeHistoryDatabaseFailure, "disk I/O error at /secret/path")})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "/secret/path")
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &mockBackend{})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	w := do(t, srv, req)

	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_StartAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv, err := server.New(server.Config{ListenAddr: addr, UploadDir: t.TempDir()}, &mockBackend{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
