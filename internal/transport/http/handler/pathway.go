package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"deckqa/internal/retrieval"
)

// PathwayHandler serves the local fallback retrieval endpoint. It speaks
// the remote backend's plain JSON, not the API envelope.
type PathwayHandler struct {
	index *retrieval.LocalIndex
}

func NewPathwayHandler(index *retrieval.LocalIndex) *PathwayHandler {
	return &PathwayHandler{index: index}
}

func (h *PathwayHandler) Ingest(c *gin.Context) {
	var req retrieval.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.DocumentID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "doc_id and chunks are required"})
		return
	}
	c.JSON(http.StatusOK, h.index.Ingest(req))
}

func (h *PathwayHandler) Query(c *gin.Context) {
	var req retrieval.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "question is required"})
		return
	}
	c.JSON(http.StatusOK, h.index.Query(req))
}

func (h *PathwayHandler) Clear(c *gin.Context) {
	c.JSON(http.StatusOK, h.index.Clear())
}

func (h *PathwayHandler) Documents(c *gin.Context) {
	docs := h.index.Documents()
	c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
}
