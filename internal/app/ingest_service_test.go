package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deckqa/internal/chunker"
	"deckqa/internal/model"
	"deckqa/internal/parser"
	"deckqa/internal/retrieval"
	"deckqa/internal/store"
)

type fakeParser struct {
	markdown   string
	parseErr   error
	fields     map[string]any
	extractErr error
}

func (p *fakeParser) ParseToMarkdown(context.Context, string, []byte) (*parser.ParseResult, error) {
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	return &parser.ParseResult{Markdown: p.markdown}, nil
}

func (p *fakeParser) ExtractStructured(context.Context, string, map[string]any) (map[string]any, error) {
	if p.extractErr != nil {
		return nil, p.extractErr
	}
	return p.fields, nil
}

type fakeCompleter struct {
	fields map[string]any
	err    error
	calls  int
}

func (c *fakeCompleter) CompleteJSON(context.Context, string, map[string]any) (map[string]any, error) {
	c.calls++
	return c.fields, c.err
}

// fakeRecorder behaves like a table: status updates only touch existing rows.
type fakeRecorder struct {
	mu       sync.Mutex
	created  []*model.DocumentRecord
	statuses map[string]string
	deleted  []string
	cleared  bool
}

func (r *fakeRecorder) Create(record *model.DocumentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, record)
	if r.statuses == nil {
		r.statuses = map[string]string{}
	}
	r.statuses[record.ID] = record.MirrorStatus
	return nil
}

func (r *fakeRecorder) UpdateMirrorStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.statuses[id]; ok {
		r.statuses[id] = status
	}
	return nil
}

func (r *fakeRecorder) AdvanceMirrorStatus(id, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.statuses[id]; ok && cur == from {
		r.statuses[id] = to
	}
	return nil
}

func (r *fakeRecorder) status(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

func (r *fakeRecorder) Delete(id string) error {
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeRecorder) DeleteAll() error {
	r.cleared = true
	return nil
}

type fakeConversationStore struct {
	deleted []string
	cleared bool
}

func (c *fakeConversationStore) Delete(_ context.Context, key string) error {
	c.deleted = append(c.deleted, key)
	return nil
}

func (c *fakeConversationStore) Clear(context.Context) error {
	c.cleared = true
	return nil
}

type fakeResponseCache struct{ cleared bool }

func (c *fakeResponseCache) Clear() error {
	c.cleared = true
	return nil
}

type fakeRemote struct {
	mu      sync.Mutex
	ingests []retrieval.IngestRequest
	err     error
	cleared bool
}

func (r *fakeRemote) Ingest(_ context.Context, req retrieval.IngestRequest) (*retrieval.IngestResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingests = append(r.ingests, req)
	if r.err != nil {
		return nil, r.err
	}
	return &retrieval.IngestResponse{Status: "success", DocumentID: req.DocumentID}, nil
}

func (r *fakeRemote) ClearAll(context.Context) (*retrieval.ClearResponse, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.cleared = true
	return &retrieval.ClearResponse{Status: "success"}, nil
}

var deckFields = map[string]any{
	"DocTitle": "Acme Rockets",
	"Slides": []any{
		map[string]any{"SlideNumber": float64(1), "Title": "Problem", "Bullets": []any{"Launches are costly"}},
		map[string]any{"SlideNumber": float64(2), "Title": "Revenue", "Narrative": "Revenue grew 20% YoY"},
	},
}

func newIngestFixture(p DocumentParser, c StructuredCompleter, opts ...IngestOption) (*IngestService, *store.MemoryStore, *fakeRecorder, *fakeRemote, *DirectMirror) {
	s := store.NewMemoryStore()
	rec := &fakeRecorder{}
	remote := &fakeRemote{}
	mirror := NewDirectMirror(remote, rec)
	svc := NewIngestService(s, p, c, chunker.New(), rec, mirror, remote, 1<<20, opts...)
	ids := 0
	svc.newID = func() string {
		ids++
		return "id-" + string(rune('0'+ids))
	}
	return svc, s, rec, remote, mirror
}

func TestIngestPDF_StructuredExtraction(t *testing.T) {
	svc, s, rec, remote, mirror := newIngestFixture(&fakeParser{markdown: "# deck", fields: deckFields}, nil)

	res, err := svc.IngestPDF(context.Background(), PDFUpload{Filename: "deck.PDF", Data: []byte("%PDF")})
	require.NoError(t, err)
	mirror.Wait()

	assert.Equal(t, "id-1", res.DocumentID)
	assert.Equal(t, DocTypePitchDeck, res.DocType)
	assert.Equal(t, 3, res.ChunkCount)
	assert.Equal(t, MirrorPending, res.MirrorStatus)
	require.NotNil(t, res.Summary)
	assert.Equal(t, "Deck: Acme Rockets", res.Summary.Text)
	require.Len(t, res.Slides, 2)
	assert.Equal(t, SlidePreview{Ordinal: 2, Title: "Revenue", Snippet: "Revenue | Revenue grew 20% YoY"}, res.Slides[1])

	stored := s.Get("id-1")
	require.Len(t, stored, 3)
	for _, c := range stored {
		assert.Equal(t, "id-1", c.DocumentID)
		assert.Equal(t, "deck.PDF", c.SourceName)
		assert.NotEmpty(t, c.ID)
		assert.False(t, c.CreatedAt.IsZero())
	}

	require.Len(t, rec.created, 1)
	assert.Equal(t, int64(4), rec.created[0].FileSize)
	require.Len(t, remote.ingests, 1)
	assert.Equal(t, "id-1", remote.ingests[0].DocumentID)
	assert.Len(t, remote.ingests[0].Chunks, 3)
}

func TestIngestPDF_FallbackChain(t *testing.T) {
	extractFailed := &parser.ExtractError{StatusCode: 422, Detail: "schema mismatch"}

	t.Run("generative extraction", func(t *testing.T) {
		c := &fakeCompleter{fields: deckFields}
		svc, _, _, _, mirror := newIngestFixture(&fakeParser{markdown: "text", extractErr: extractFailed}, c)
		res, err := svc.IngestPDF(context.Background(), PDFUpload{Filename: "a.pdf", Data: []byte("x")})
		require.NoError(t, err)
		mirror.Wait()
		assert.Equal(t, 1, c.calls)
		assert.Equal(t, DocTypePitchDeck, res.DocType)
	})

	t.Run("markdown headings", func(t *testing.T) {
		c := &fakeCompleter{err: errors.New("rate limited")}
		p := &fakeParser{markdown: "PROBLEM\nLaunches are costly.\nSOLUTION\nReusable boosters.", fields: map[string]any{}}
		svc, _, _, _, mirror := newIngestFixture(p, c)
		res, err := svc.IngestPDF(context.Background(), PDFUpload{Filename: "a.pdf", Data: []byte("x")})
		require.NoError(t, err)
		mirror.Wait()
		assert.Equal(t, 3, res.ChunkCount)
		assert.Equal(t, "Deck Summary", res.Summary.Title)
	})

	t.Run("sentence chunker", func(t *testing.T) {
		p := &fakeParser{markdown: "plain prose without headings. second sentence.", extractErr: extractFailed}
		svc, s, _, _, mirror := newIngestFixture(p, nil)
		res, err := svc.IngestPDF(context.Background(), PDFUpload{Filename: "notes.pdf", Data: []byte("x")})
		require.NoError(t, err)
		mirror.Wait()
		assert.Equal(t, DocTypeDocument, res.DocType)
		chunks := s.Get(res.DocumentID)
		require.Len(t, chunks, 1)
		assert.Equal(t, "notes", chunks[0].Title)
		assert.True(t, chunks[0].HasTag(model.TagDocument))
	})
}

func TestIngestPDF_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		parser  *fakeParser
		upload  PDFUpload
		wantErr error
	}{
		{"empty", &fakeParser{}, PDFUpload{Filename: "a.pdf"}, ErrInvalidInput},
		{"too large", &fakeParser{}, PDFUpload{Filename: "a.pdf", Data: make([]byte, 2<<20)}, ErrFileTooLarge},
		{"not a pdf", &fakeParser{}, PDFUpload{Filename: "a.docx", Data: []byte("x")}, ErrUnsupportedFile},
		{"blank markdown", &fakeParser{markdown: "  \n"}, PDFUpload{Filename: "a.pdf", Data: []byte("x")}, ErrNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, s, _, _, _ := newIngestFixture(tt.parser, nil)
			_, err := svc.IngestPDF(context.Background(), tt.upload)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, s.DocumentIDs())
		})
	}

	t.Run("parse error is returned as is", func(t *testing.T) {
		svc, _, _, _, _ := newIngestFixture(&fakeParser{parseErr: &parser.ParseError{StatusCode: 500, Detail: "boom"}}, nil)
		_, err := svc.IngestPDF(context.Background(), PDFUpload{Filename: "a.pdf", Data: []byte("x")})
		var pe *parser.ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 500, pe.StatusCode)
	})
}

func TestIngestText(t *testing.T) {
	svc, s, _, _, mirror := newIngestFixture(&fakeParser{}, nil)

	res, err := svc.IngestText(context.Background(), TextUpload{Name: "memo.txt", Content: strings.Repeat("Growth is strong. ", 5)})
	require.NoError(t, err)
	mirror.Wait()
	assert.Equal(t, DocTypeDocument, res.DocType)
	assert.Equal(t, "memo", s.Get(res.DocumentID)[0].Title)

	_, err = svc.IngestText(context.Background(), TextUpload{Name: "x", Content: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIngest_MirrorFailureDoesNotFailUpload(t *testing.T) {
	svc, s, _, remote, mirror := newIngestFixture(&fakeParser{}, nil)
	remote.err = retrieval.ErrRemoteUnavailable

	res, err := svc.IngestText(context.Background(), TextUpload{Name: "a.txt", Content: "Some text."})
	require.NoError(t, err)
	mirror.Wait()
	assert.Len(t, s.Get(res.DocumentID), 1)
}

func TestDocumentsLifecycle(t *testing.T) {
	conversations := &fakeConversationStore{}
	responses := &fakeResponseCache{}
	svc, s, rec, remote, mirror := newIngestFixture(&fakeParser{}, nil,
		WithConversationCache(conversations), WithResponseCache(responses))
	ctx := context.Background()

	a, err := svc.IngestText(ctx, TextUpload{Name: "a.txt", Content: "First doc."})
	require.NoError(t, err)
	_, err = svc.IngestText(ctx, TextUpload{Name: "b.txt", Content: "Second doc."})
	require.NoError(t, err)
	mirror.Wait()

	docs := svc.ListDocuments()
	require.Len(t, docs, 2)
	assert.Equal(t, "a.txt", docs[0].Filename)
	assert.Equal(t, "First doc.", docs[0].Content)
	assert.Equal(t, 1, docs[0].ChunkCount)

	require.NoError(t, svc.DeleteDocument(ctx, a.DocumentID))
	assert.Empty(t, s.Get(a.DocumentID))
	assert.Equal(t, []string{a.DocumentID}, rec.deleted)
	assert.Equal(t, []string{a.DocumentID}, conversations.deleted)
	assert.ErrorIs(t, svc.DeleteDocument(ctx, a.DocumentID), ErrDocumentNotFound)

	cleared := svc.ClearAll(ctx)
	assert.Equal(t, 1, cleared.DocumentsRemoved)
	assert.True(t, cleared.RemoteCleared)
	assert.True(t, remote.cleared)
	assert.True(t, rec.cleared)
	assert.True(t, conversations.cleared)
	assert.True(t, responses.cleared)
	assert.True(t, cleared.ResponseCacheCleared)
	assert.Empty(t, svc.ListDocuments())
}

func TestClearAll_RemoteFailureIsNotFatal(t *testing.T) {
	svc, _, rec, remote, _ := newIngestFixture(&fakeParser{}, nil)
	remote.err = retrieval.ErrRemoteUnavailable

	cleared := svc.ClearAll(context.Background())
	assert.False(t, cleared.RemoteCleared)
	assert.True(t, rec.cleared)
}

func TestIngest_DirectMirrorRecordsOutcome(t *testing.T) {
	t.Run("mirrored", func(t *testing.T) {
		svc, _, rec, _, mirror := newIngestFixture(&fakeParser{}, nil)
		res, err := svc.IngestText(context.Background(), TextUpload{Name: "a.txt", Content: "Some text."})
		require.NoError(t, err)
		assert.Equal(t, MirrorPending, res.MirrorStatus)
		mirror.Wait()
		assert.Equal(t, MirrorDone, rec.status(res.DocumentID))
	})

	t.Run("failed", func(t *testing.T) {
		svc, _, rec, remote, mirror := newIngestFixture(&fakeParser{}, nil)
		remote.err = retrieval.ErrRemoteUnavailable
		res, err := svc.IngestText(context.Background(), TextUpload{Name: "a.txt", Content: "Some text."})
		require.NoError(t, err)
		mirror.Wait()
		assert.Equal(t, MirrorFailed, rec.status(res.DocumentID))
	})
}

// inlineWorkerPublisher finishes the mirror job before Publish returns, the
// way a fast queue consumer can.
type inlineWorkerPublisher struct {
	status MirrorStatusStore
}

func (p inlineWorkerPublisher) Publish(_ context.Context, _ string, payload any) error {
	req := payload.(retrieval.IngestRequest)
	return p.status.UpdateMirrorStatus(req.DocumentID, MirrorDone)
}

func TestIngest_QueuedMirrorStatus(t *testing.T) {
	newService := func(publisher func(rec *fakeRecorder) JobPublisher) (*IngestService, *fakeRecorder) {
		rec := &fakeRecorder{}
		mirror := NewQueueMirror(publisher(rec), "mirror")
		return NewIngestService(store.NewMemoryStore(), &fakeParser{}, nil, nil, rec, mirror, nil, 1<<20), rec
	}
	upload := TextUpload{Name: "a.txt", Content: "Some text."}

	tests := []struct {
		name      string
		publisher func(rec *fakeRecorder) JobPublisher
		want      string
	}{
		{"worker finishes before publish returns", func(rec *fakeRecorder) JobPublisher { return inlineWorkerPublisher{status: rec} }, MirrorDone},
		{"queued", func(*fakeRecorder) JobPublisher { return failingPublisher{} }, MirrorQueued},
		{"publish fails", func(*fakeRecorder) JobPublisher { return failingPublisher{err: errors.New("closed")} }, MirrorFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, rec := newService(tt.publisher)
			res, err := svc.IngestText(context.Background(), upload)
			require.NoError(t, err)
			require.Len(t, rec.created, 1)
			assert.Equal(t, MirrorPending, rec.created[0].MirrorStatus)
			assert.Equal(t, tt.want, rec.status(res.DocumentID))
		})
	}
}

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, string, any) error { return p.err }

func TestQueueMirror(t *testing.T) {
	req := retrieval.IngestRequest{DocumentID: "d1"}
	assert.Equal(t, MirrorQueued, NewQueueMirror(failingPublisher{}, "q").Mirror(context.Background(), req))
	assert.Equal(t, MirrorFailed, NewQueueMirror(failingPublisher{err: errors.New("closed")}, "q").Mirror(context.Background(), req))
}
