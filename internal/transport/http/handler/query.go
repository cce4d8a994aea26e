package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"deckqa/internal/app"
	"deckqa/internal/model"
	"deckqa/internal/transport/http/response"
)

// TurnHistory lists persisted Q/A turns.
type TurnHistory interface {
	ListByDocumentKey(key string, limit int) ([]model.QATurn, error)
}

type QueryHandler struct {
	query   *app.QueryService
	history TurnHistory
}

type AskRequest struct {
	DocumentID string `json:"doc_id" binding:"required"`
	Question   string `json:"question" binding:"required"`
	TopK       int    `json:"top_k" binding:"gte=0,lte=50"`
	Persona    string `json:"persona"`
}

type AskMultiRequest struct {
	DocumentIDs []string `json:"doc_ids" binding:"required,min=1"`
	Question    string   `json:"question" binding:"required"`
	TopK        int      `json:"top_k" binding:"gte=0,lte=50"`
	Persona     string   `json:"persona"`
}

type historyItem struct {
	model.QATurn
	CitationList []model.Citation `json:"citations"`
}

// NewQueryHandler accepts a nil history when turns are not persisted.
func NewQueryHandler(query *app.QueryService, history TurnHistory) *QueryHandler {
	return &QueryHandler{query: query, history: history}
}

// Ask always answers 200 once the payload is valid; the outcome is in
// data.status.
func (h *QueryHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	response.OK(c, h.query.Query(c.Request.Context(), app.QueryInput{
		DocumentID: req.DocumentID,
		Question:   req.Question,
		TopK:       req.TopK,
		Persona:    req.Persona,
	}))
}

func (h *QueryHandler) AskMulti(c *gin.Context) {
	var req AskMultiRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	response.OK(c, h.query.QueryMulti(c.Request.Context(), app.MultiQueryInput{
		DocumentIDs: req.DocumentIDs,
		Question:    req.Question,
		TopK:        req.TopK,
		Persona:     req.Persona,
	}))
}

func (h *QueryHandler) History(c *gin.Context) {
	if h.history == nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceDisabled, "turn history is not enabled")
		return
	}
	key := strings.TrimSpace(c.Query("doc_key"))
	if key == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "doc_key is required")
		return
	}
	turns, err := h.history.ListByDocumentKey(key, parseIntQuery(c, "limit", 50))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load history failed")
		return
	}
	items := make([]historyItem, 0, len(turns))
	for _, t := range turns {
		items = append(items, historyItem{QATurn: t, CitationList: t.CitationList()})
	}
	response.OK(c, gin.H{"turns": items})
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
