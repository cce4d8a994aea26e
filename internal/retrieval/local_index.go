package retrieval

import (
	"fmt"
	"strings"

	"deckqa/internal/model"
	"deckqa/internal/pkg/textutil"
	"deckqa/internal/store"
)

// LocalIndex is the in-process stand-in served at the fallback endpoint. It
// keeps its own copy of mirrored chunks, separate from the primary store.
type LocalIndex struct {
	chunks *store.MemoryStore
}

func NewLocalIndex() *LocalIndex {
	return &LocalIndex{chunks: store.NewMemoryStore()}
}

func (x *LocalIndex) Ingest(req IngestRequest) IngestResponse {
	id := req.DocumentID
	if id == "" {
		id = "unknown"
	}
	x.chunks.Put(id, req.Chunks)
	return IngestResponse{
		Status:     "success",
		Message:    fmt.Sprintf("Document %s ingested successfully", id),
		DocumentID: id,
		ChunkCount: len(req.Chunks),
	}
}

func (x *LocalIndex) Query(req QueryRequest) QueryResponse {
	ids := req.DocumentIDs
	if len(ids) == 0 && req.DocumentID != "" {
		ids = []string{req.DocumentID}
	}

	var union []model.Chunk
	known := false
	for _, id := range ids {
		if chunks := x.chunks.Get(id); chunks != nil {
			known = true
			union = append(union, chunks...)
		}
	}
	if !known {
		return QueryResponse{
			Answers:   []string{"I couldn't find the requested document. Please make sure the document was uploaded successfully."},
			Citations: []model.Citation{},
		}
	}

	if hits := store.Rank(union, req.Question, 1); len(hits) > 0 {
		best := hits[0].Chunk
		return QueryResponse{
			Answers:   []string{"Based on the document: " + textutil.Truncate(textutil.Clean(best.Text), 300)},
			Citations: []model.Citation{{DocumentID: best.DocumentID, Title: titleOr(best.Title, "Document")}},
		}
	}

	var parts []string
	for i, c := range union {
		if i == 2 {
			break
		}
		if t := textutil.Prefix(textutil.Clean(c.Text), 100); t != "" {
			parts = append(parts, t)
		}
	}
	return QueryResponse{
		Answers: []string{fmt.Sprintf(
			"I found the document but no specific matches for '%s'. Here's some content from the document: %s...",
			req.Question, strings.Join(parts, " "),
		)},
		Citations: []model.Citation{{DocumentID: union[0].DocumentID, Title: titleOr(union[0].Title, "Document")}},
	}
}

func (x *LocalIndex) Clear() ClearResponse {
	x.chunks.Clear()
	return ClearResponse{Status: "success", Message: "All documents cleared from local index"}
}

func (x *LocalIndex) Documents() []string {
	return x.chunks.DocumentIDs()
}

func titleOr(title, fallback string) string {
	if strings.TrimSpace(title) == "" {
		return fallback
	}
	return title
}
