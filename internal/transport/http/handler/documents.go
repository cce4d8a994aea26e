package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"deckqa/internal/app"
	"deckqa/internal/parser"
	"deckqa/internal/transport/http/response"
)

type DocumentHandler struct {
	ingest         *app.IngestService
	maxUploadBytes int64
}

type CreateTextDocumentRequest struct {
	Name    string `json:"name" binding:"max=255"`
	Content string `json:"content" binding:"required"`
}

func NewDocumentHandler(ingest *app.IngestService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{ingest: ingest, maxUploadBytes: maxUploadBytes}
}

// UploadPDF accepts a multipart form with a "file" field.
func (h *DocumentHandler) UploadPDF(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		writeIngestError(c, app.ErrFileTooLarge)
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}

	result, err := h.ingest.IngestPDF(c.Request.Context(), app.PDFUpload{Filename: file.Filename, Data: data})
	if err != nil {
		writeIngestError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *DocumentHandler) CreateText(c *gin.Context) {
	var req CreateTextDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.ingest.IngestText(c.Request.Context(), app.TextUpload{Name: req.Name, Content: req.Content})
	if err != nil {
		writeIngestError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs := h.ingest.ListDocuments()
	response.OK(c, gin.H{"documents": docs, "total": len(docs)})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.ingest.DeleteDocument(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted_doc_id": id})
}

func (h *DocumentHandler) Clear(c *gin.Context) {
	response.OK(c, h.ingest.ClearAll(c.Request.Context()))
}

func writeIngestError(c *gin.Context, err error) {
	var (
		parseErr   *parser.ParseError
		extractErr *parser.ExtractError
	)
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrFileTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, err.Error())
	case errors.Is(err, app.ErrUnsupportedFile):
		response.Error(c, http.StatusUnsupportedMediaType, response.CodeUnsupportedFile, err.Error())
	case errors.Is(err, app.ErrNoContent):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeNoContent, err.Error())
	case errors.As(err, &parseErr), errors.As(err, &extractErr):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailed, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fmt.Sprintf("ingest failed: %v", err))
	}
}
