package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"deckqa/internal/ai"
	"deckqa/internal/transport/http/response"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type EmbeddingHandler struct {
	embedder Embedder
}

type EmbedRequest struct {
	Text string `json:"text" binding:"required"`
}

func NewEmbeddingHandler(embedder Embedder) *EmbeddingHandler {
	return &EmbeddingHandler{embedder: embedder}
}

func (h *EmbeddingHandler) Embed(c *gin.Context) {
	var req EmbedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	vec, err := h.embedder.Embed(c.Request.Context(), req.Text)
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrEmptyInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, ai.ErrNotConfigured):
			response.Error(c, http.StatusServiceUnavailable, response.CodeServiceDisabled, err.Error())
		case errors.Is(err, ai.ErrRateLimited):
			response.Error(c, http.StatusTooManyRequests, response.CodeRateLimited, err.Error())
		default:
			response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailed, "embedding failed: "+err.Error())
		}
		return
	}
	response.OK(c, gin.H{"embedding": vec, "dimensions": len(vec)})
}
