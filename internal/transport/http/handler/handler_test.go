package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deckqa/internal/ai"
	"deckqa/internal/app"
	"deckqa/internal/bootstrap"
	"deckqa/internal/config"
	"deckqa/internal/model"
	"deckqa/internal/parser"
	"deckqa/internal/retrieval"
	"deckqa/internal/store"
	"deckqa/internal/transport/http/response"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type embedderStub struct {
	vec []float32
	err error
}

func (e embedderStub) Embed(context.Context, string) ([]float32, error) {
	return e.vec, e.err
}

type historyStub struct{ turns []model.QATurn }

func (h historyStub) ListByDocumentKey(key string, _ int) ([]model.QATurn, error) {
	var out []model.QATurn
	for _, t := range h.turns {
		if t.DocumentKey == key {
			out = append(out, t)
		}
	}
	return out, nil
}

func newTestRouter(t *testing.T, embedder Embedder, history TurnHistory) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	ingest := app.NewIngestService(s, parser.NewLocalParser(), nil, nil, nil, nil, nil, 1<<20)
	query := app.NewQueryService(s, nil, nil, nil, nil, nil, app.QueryConfig{})

	documents := NewDocumentHandler(ingest, 1<<20)
	queries := NewQueryHandler(query, history)
	pathway := NewPathwayHandler(retrieval.NewLocalIndex())

	r := gin.New()
	r.POST("/documents/pdf", documents.UploadPDF)
	r.POST("/documents/text", documents.CreateText)
	r.GET("/documents", documents.List)
	r.DELETE("/documents/:id", documents.Delete)
	r.POST("/documents/clear", documents.Clear)
	r.POST("/query", queries.Ask)
	r.POST("/query/multi", queries.AskMulti)
	r.GET("/history", queries.History)
	r.POST("/embeddings", NewEmbeddingHandler(embedder).Embed)
	r.POST("/pathway/ingest", pathway.Ingest)
	r.POST("/pathway/query", pathway.Query)
	r.GET("/pathway/documents", pathway.Documents)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestTextDocumentThenQuery(t *testing.T) {
	r := newTestRouter(t, embedderStub{}, nil)

	w := doJSON(t, r, http.MethodPost, "/documents/text", gin.H{
		"name":    "deck.txt",
		"content": "Revenue grew 20% YoY. The team has ten engineers.",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ingested app.IngestResult
	decodeEnvelope(t, w, &ingested)
	require.NotEmpty(t, ingested.DocumentID)
	assert.Equal(t, 1, ingested.ChunkCount)

	w = doJSON(t, r, http.MethodPost, "/query", gin.H{"doc_id": ingested.DocumentID, "question": "What was revenue growth?"})
	require.Equal(t, http.StatusOK, w.Code)
	var result app.QueryResult
	env := decodeEnvelope(t, w, &result)
	assert.Equal(t, response.CodeOK, env.Code)
	assert.Equal(t, app.StatusOK, result.Status)
	assert.Equal(t, app.TierLexical, result.Tier)
	assert.Contains(t, result.Answers[0], "Revenue grew 20% YoY")

	w = doJSON(t, r, http.MethodGet, "/documents", nil)
	var listed struct {
		Documents []app.DocumentSummary `json:"documents"`
		Total     int                   `json:"total"`
	}
	decodeEnvelope(t, w, &listed)
	assert.Equal(t, 1, listed.Total)
	assert.Equal(t, "deck.txt", listed.Documents[0].Filename)

	w = doJSON(t, r, http.MethodDelete, "/documents/"+ingested.DocumentID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodDelete, "/documents/"+ingested.DocumentID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeNotFound, decodeEnvelope(t, w, nil).Code)
}

func TestQuery_Responses(t *testing.T) {
	r := newTestRouter(t, embedderStub{}, nil)

	t.Run("unknown document is a 200 with not_found status", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/query", gin.H{"doc_id": "ghost", "question": "anything?"})
		require.Equal(t, http.StatusOK, w.Code)
		var result app.QueryResult
		decodeEnvelope(t, w, &result)
		assert.Equal(t, app.StatusNotFound, result.Status)
	})

	t.Run("multi with no known documents", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/query/multi", gin.H{"doc_ids": []string{"x"}, "question": "q?"})
		require.Equal(t, http.StatusOK, w.Code)
		var result app.QueryResult
		decodeEnvelope(t, w, &result)
		assert.Equal(t, app.StatusNotFound, result.Status)
	})

	bad := []struct {
		name string
		path string
		body gin.H
	}{
		{"missing question", "/query", gin.H{"doc_id": "d1"}},
		{"blank question", "/query", gin.H{"doc_id": "d1", "question": "  "}},
		{"top_k out of range", "/query", gin.H{"doc_id": "d1", "question": "q", "top_k": 500}},
		{"empty id list", "/query/multi", gin.H{"doc_ids": []string{}, "question": "q"}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, response.CodeBadRequest, decodeEnvelope(t, w, nil).Code)
		})
	}
}

func upload(t *testing.T, r http.Handler, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := form.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/pdf", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUploadPDF_Errors(t *testing.T) {
	r := newTestRouter(t, embedderStub{}, nil)

	tests := []struct {
		name     string
		filename string
		data     []byte
		status   int
		code     int
	}{
		{"missing file", "", nil, http.StatusBadRequest, response.CodeBadRequest},
		{"wrong extension", "notes.docx", []byte("x"), http.StatusUnsupportedMediaType, response.CodeUnsupportedFile},
		{"too large", "big.pdf", make([]byte, 2<<20), http.StatusRequestEntityTooLarge, response.CodeFileTooLarge},
		{"unparseable pdf", "broken.pdf", []byte("not a pdf"), http.StatusBadGateway, response.CodeUpstreamFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := upload(t, r, tt.filename, tt.data)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeEnvelope(t, w, nil).Code)
		})
	}
}

func TestEmbeddings(t *testing.T) {
	tests := []struct {
		name   string
		stub   embedderStub
		status int
	}{
		{"ok", embedderStub{vec: []float32{0.5, 1}}, http.StatusOK},
		{"not configured", embedderStub{err: ai.ErrNotConfigured}, http.StatusServiceUnavailable},
		{"rate limited", embedderStub{err: &ai.StatusError{StatusCode: 429}}, http.StatusTooManyRequests},
		{"upstream failure", embedderStub{err: errors.New("boom")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, tt.stub, nil)
			w := doJSON(t, r, http.MethodPost, "/embeddings", gin.H{"text": "hello"})
			assert.Equal(t, tt.status, w.Code)
		})
	}

	r := newTestRouter(t, embedderStub{vec: []float32{0.5, 1}}, nil)
	w := doJSON(t, r, http.MethodPost, "/embeddings", gin.H{"text": "hello"})
	var out struct {
		Embedding  []float32 `json:"embedding"`
		Dimensions int       `json:"dimensions"`
	}
	decodeEnvelope(t, w, &out)
	assert.Equal(t, 2, out.Dimensions)
}

func TestHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		r := newTestRouter(t, embedderStub{}, nil)
		w := doJSON(t, r, http.MethodGet, "/history?doc_key=d1", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("lists turns with citations", func(t *testing.T) {
		turn := model.QATurn{DocumentKey: "d1", Question: "q", Answer: "a", Tier: app.TierLexical}
		turn.SetCitations([]model.Citation{{Title: "Revenue"}})
		r := newTestRouter(t, embedderStub{}, historyStub{turns: []model.QATurn{turn}})

		w := doJSON(t, r, http.MethodGet, "/history?doc_key=d1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var out struct {
			Turns []struct {
				Question  string           `json:"question"`
				Citations []model.Citation `json:"citations"`
			} `json:"turns"`
		}
		decodeEnvelope(t, w, &out)
		require.Len(t, out.Turns, 1)
		assert.Equal(t, "Revenue", out.Turns[0].Citations[0].Title)
	})
}

func TestPathway(t *testing.T) {
	r := newTestRouter(t, embedderStub{}, nil)

	w := doJSON(t, r, http.MethodPost, "/pathway/ingest", retrieval.IngestRequest{
		DocumentID: "d1",
		Chunks:     []model.Chunk{{Title: "Revenue", Text: "Revenue grew 20% YoY"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/pathway/query", retrieval.QueryRequest{DocumentID: "d1", Question: "revenue"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp retrieval.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Answers[0], "Revenue grew 20% YoY")

	w = doJSON(t, r, http.MethodPost, "/pathway/query", gin.H{"doc_id": "d1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/pathway/documents", nil)
	assert.JSONEq(t, `{"documents":["d1"],"total":1}`, w.Body.String())
}

func TestHealth_DisabledDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := &bootstrap.App{
		Config:    &config.Config{App: config.AppConfig{Name: "deckqa", Env: "test"}},
		Store:     store.NewMemoryStore(),
		StartedAt: time.Now(),
	}
	r := gin.New()
	r.GET("/healthz", NewHealthHandler(a).Check)

	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		App          string                      `json:"app"`
		Dependencies map[string]dependencyStatus `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "deckqa", body.App)
	assert.False(t, body.Dependencies["mysql"].Enabled)
	assert.True(t, body.Dependencies["redis"].OK)
}
