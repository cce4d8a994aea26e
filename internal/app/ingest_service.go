package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"deckqa/internal/chunker"
	"deckqa/internal/ingest"
	"deckqa/internal/model"
	"deckqa/internal/parser"
	"deckqa/internal/pkg/textutil"
	"deckqa/internal/retrieval"
)

const (
	DocTypePitchDeck = "pitch_deck"
	DocTypeDocument  = "document"

	previewSnippetChars = 150
)

// DocumentStore is the chunk store as seen by ingestion.
type DocumentStore interface {
	Put(documentID string, chunks []model.Chunk)
	Get(documentID string) []model.Chunk
	Remove(documentID string)
	Clear()
	DocumentIDs() []string
}

type DocumentParser interface {
	ParseToMarkdown(ctx context.Context, filename string, data []byte) (*parser.ParseResult, error)
	ExtractStructured(ctx context.Context, markdown string, schema map[string]any) (map[string]any, error)
}

// StructuredCompleter extracts schema-shaped JSON from free text.
type StructuredCompleter interface {
	CompleteJSON(ctx context.Context, input string, schema map[string]any) (map[string]any, error)
}

type DocumentRecorder interface {
	Create(record *model.DocumentRecord) error
	// AdvanceMirrorStatus sets status to to only while it is still from.
	AdvanceMirrorStatus(id, from, to string) error
	Delete(id string) error
	DeleteAll() error
}

// ConversationForgetter drops cached Q/A turns.
type ConversationForgetter interface {
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// ResponseCacheClearer wipes the generative response cache.
type ResponseCacheClearer interface {
	Clear() error
}

type RemoteClearer interface {
	ClearAll(ctx context.Context) (*retrieval.ClearResponse, error)
}

type PDFUpload struct {
	Filename string
	Data     []byte
}

type TextUpload struct {
	Name    string
	Content string
}

type SlidePreview struct {
	Ordinal int    `json:"slide"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type IngestResult struct {
	DocumentID   string         `json:"doc_id"`
	Filename     string         `json:"filename"`
	DocType      string         `json:"doc_type"`
	ChunkCount   int            `json:"chunk_count"`
	FileSize     int64          `json:"file_size"`
	MirrorStatus string         `json:"mirror_status"`
	Preview      *model.Chunk   `json:"preview_chunk,omitempty"`
	Summary      *model.Chunk   `json:"summary,omitempty"`
	Slides       []SlidePreview `json:"slides"`
}

type DocumentSummary struct {
	DocumentID string    `json:"doc_id"`
	Filename   string    `json:"filename"`
	CreatedAt  time.Time `json:"created_at"`
	ChunkCount int       `json:"chunk_count"`
	Content    string    `json:"content"`
}

type ClearResult struct {
	DocumentsRemoved     int  `json:"documents_removed"`
	RemoteCleared        bool `json:"remote_cleared"`
	ResponseCacheCleared bool `json:"response_cache_cleared"`
}

// IngestService turns uploads into stored chunks. Record keeping, remote
// mirroring and remote clearing are best-effort and never fail an upload.
type IngestService struct {
	store          DocumentStore
	parser         DocumentParser
	completer      StructuredCompleter
	chunker        *chunker.Chunker
	records        DocumentRecorder
	mirror         Mirror
	remote         RemoteClearer
	conversations  ConversationForgetter
	responses      ResponseCacheClearer
	maxUploadBytes int64
	now            func() time.Time
	newID          func() string
}

// IngestOption configures optional IngestService collaborators.
type IngestOption func(*IngestService)

// WithConversationCache drops conversation history along with documents.
func WithConversationCache(c ConversationForgetter) IngestOption {
	return func(s *IngestService) {
		s.conversations = c
	}
}

// WithResponseCache clears the generative response cache on ClearAll.
func WithResponseCache(c ResponseCacheClearer) IngestOption {
	return func(s *IngestService) {
		s.responses = c
	}
}

// NewIngestService wires ingestion. completer, records, mirror and remote
// may be nil.
func NewIngestService(
	documentStore DocumentStore,
	documentParser DocumentParser,
	completer StructuredCompleter,
	textChunker *chunker.Chunker,
	records DocumentRecorder,
	mirror Mirror,
	remote RemoteClearer,
	maxUploadBytes int64,
	opts ...IngestOption,
) *IngestService {
	if textChunker == nil {
		textChunker = chunker.New()
	}
	s := &IngestService{
		store:          documentStore,
		parser:         documentParser,
		completer:      completer,
		chunker:        textChunker,
		records:        records,
		mirror:         mirror,
		remote:         remote,
		maxUploadBytes: maxUploadBytes,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *IngestService) IngestPDF(ctx context.Context, upload PDFUpload) (*IngestResult, error) {
	filename := filepath.Base(strings.TrimSpace(upload.Filename))
	if len(upload.Data) == 0 || filename == "" || filename == "." {
		return nil, ErrInvalidInput
	}
	if s.maxUploadBytes > 0 && int64(len(upload.Data)) > s.maxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(upload.Data), s.maxUploadBytes)
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, ErrUnsupportedFile
	}

	parsed, err := s.parser.ParseToMarkdown(ctx, filename, upload.Data)
	if err != nil {
		return nil, err
	}
	markdown := strings.TrimSpace(parsed.Markdown)
	if markdown == "" {
		return nil, ErrNoContent
	}

	chunks := s.extractChunks(ctx, markdown, strings.TrimSuffix(filename, filepath.Ext(filename)))
	if len(chunks) == 0 {
		return nil, ErrNoContent
	}
	return s.persist(ctx, filename, int64(len(upload.Data)), chunks), nil
}

func (s *IngestService) IngestText(ctx context.Context, upload TextUpload) (*IngestResult, error) {
	name := strings.TrimSpace(upload.Name)
	if name == "" {
		name = "untitled.txt"
	}
	content := strings.TrimSpace(upload.Content)
	if content == "" {
		return nil, ErrInvalidInput
	}
	if s.maxUploadBytes > 0 && int64(len(content)) > s.maxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(content), s.maxUploadBytes)
	}

	chunks := s.chunker.Chunks(content, strings.TrimSuffix(name, filepath.Ext(name)))
	if len(chunks) == 0 {
		return nil, ErrNoContent
	}
	return s.persist(ctx, name, int64(len(content)), chunks), nil
}

// extractChunks tries, in order: structured extraction by the parsing
// backend, structured extraction by the generative backend, markdown
// heading heuristics and plain sentence chunking. Heading heuristics are
// used only when at least one heading was recognised.
func (s *IngestService) extractChunks(ctx context.Context, markdown, title string) []model.Chunk {
	fields, err := s.parser.ExtractStructured(ctx, markdown, ingest.SlidesSchema)
	if err != nil {
		log.Printf("structured extraction failed: %v", err)
	} else if chunks := ingest.ExtractedToChunks(fields); hasSlides(chunks) {
		return chunks
	}

	if s.completer != nil {
		fields, err := s.completer.CompleteJSON(ctx, markdown, ingest.SlidesSchema)
		if err != nil {
			log.Printf("generative extraction failed: %v", err)
		} else if chunks := ingest.ExtractedToChunks(fields); hasSlides(chunks) {
			return chunks
		}
	}

	if chunks := ingest.MarkdownToChunks(markdown); hasHeadings(chunks) {
		return chunks
	}
	return s.chunker.Chunks(markdown, title)
}

// persist stamps ownership on the chunks, stores them and kicks off the
// best-effort side effects.
func (s *IngestService) persist(ctx context.Context, filename string, size int64, chunks []model.Chunk) *IngestResult {
	docID := s.newID()
	now := s.now()
	docType := DocTypeDocument
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = s.newID()
		}
		chunks[i].DocumentID = docID
		chunks[i].SourceName = filename
		chunks[i].CreatedAt = now
		if chunks[i].HasTag(model.TagSlides) {
			docType = DocTypePitchDeck
		}
	}
	s.store.Put(docID, chunks)
	log.Printf("document ingested: doc_id=%s filename=%s chunks=%d", docID, filename, len(chunks))

	mirrorStatus := MirrorDisabled
	if s.mirror != nil {
		mirrorStatus = MirrorPending
	}
	// The record exists before the mirror starts so a fast worker finds it.
	recorded := false
	if s.records != nil {
		record := &model.DocumentRecord{
			ID:           docID,
			Filename:     filename,
			DocType:      docType,
			ChunkCount:   len(chunks),
			FileSize:     size,
			MirrorStatus: mirrorStatus,
			CreatedAt:    now,
		}
		if err := s.records.Create(record); err != nil {
			log.Printf("save document record failed: doc_id=%s err=%v", docID, err)
		} else {
			recorded = true
		}
	}

	if s.mirror != nil {
		mirrorStatus = s.mirror.Mirror(ctx, retrieval.IngestRequest{
			DocumentID: docID,
			DocType:    docType,
			Source:     filename,
			Chunks:     chunks,
		})
		if recorded && mirrorStatus != MirrorPending {
			if err := s.records.AdvanceMirrorStatus(docID, MirrorPending, mirrorStatus); err != nil {
				log.Printf("record mirror status failed: doc_id=%s err=%v", docID, err)
			}
		}
	}

	return buildIngestResult(docID, filename, docType, size, mirrorStatus, chunks)
}

func buildIngestResult(docID, filename, docType string, size int64, mirrorStatus string, chunks []model.Chunk) *IngestResult {
	result := &IngestResult{
		DocumentID:   docID,
		Filename:     filename,
		DocType:      docType,
		ChunkCount:   len(chunks),
		FileSize:     size,
		MirrorStatus: mirrorStatus,
		Slides:       []SlidePreview{},
	}
	first := chunks[0]
	result.Preview = &first
	for _, c := range chunks {
		switch {
		case c.HasTag(model.TagSummary) && result.Summary == nil:
			summary := c
			result.Summary = &summary
		case c.HasTag(model.TagSlides):
			result.Slides = append(result.Slides, SlidePreview{
				Ordinal: c.Ordinal,
				Title:   c.Title,
				Snippet: textutil.Truncate(c.Text, previewSnippetChars),
			})
		}
	}
	return result
}

func (s *IngestService) ListDocuments() []DocumentSummary {
	ids := s.store.DocumentIDs()
	out := make([]DocumentSummary, 0, len(ids))
	for _, id := range ids {
		chunks := s.store.Get(id)
		if len(chunks) == 0 {
			continue
		}
		first := chunks[0]
		out = append(out, DocumentSummary{
			DocumentID: id,
			Filename:   first.SourceName,
			CreatedAt:  first.CreatedAt,
			ChunkCount: len(chunks),
			Content:    first.Text,
		})
	}
	return out
}

func (s *IngestService) DeleteDocument(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}
	if len(s.store.Get(id)) == 0 {
		return ErrDocumentNotFound
	}
	s.store.Remove(id)
	if s.records != nil {
		if err := s.records.Delete(id); err != nil {
			log.Printf("delete document record failed: doc_id=%s err=%v", id, err)
		}
	}
	if s.conversations != nil {
		if err := s.conversations.Delete(context.WithoutCancel(ctx), id); err != nil {
			log.Printf("delete conversation failed: doc_id=%s err=%v", id, err)
		}
	}
	return nil
}

func (s *IngestService) ClearAll(ctx context.Context) *ClearResult {
	result := &ClearResult{DocumentsRemoved: len(s.store.DocumentIDs())}
	s.store.Clear()

	if s.remote != nil {
		if _, err := s.remote.ClearAll(context.WithoutCancel(ctx)); err != nil {
			log.Printf("clear remote index failed: %v", err)
		} else {
			result.RemoteCleared = true
		}
	}
	if s.records != nil {
		if err := s.records.DeleteAll(); err != nil {
			log.Printf("delete document records failed: %v", err)
		}
	}
	if s.conversations != nil {
		if err := s.conversations.Clear(context.WithoutCancel(ctx)); err != nil {
			log.Printf("clear conversations failed: %v", err)
		}
	}
	if s.responses != nil {
		if err := s.responses.Clear(); err != nil {
			log.Printf("clear response cache failed: %v", err)
		} else {
			result.ResponseCacheCleared = true
		}
	}
	return result
}

func hasSlides(chunks []model.Chunk) bool {
	for _, c := range chunks {
		if c.HasTag(model.TagSlides) {
			return true
		}
	}
	return false
}

func hasHeadings(chunks []model.Chunk) bool {
	for _, c := range chunks {
		if c.HasTag(model.TagSlides) && c.Title != ingest.UntitledSlide {
			return true
		}
	}
	return false
}
