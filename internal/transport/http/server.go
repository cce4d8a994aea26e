package http

import (
	"github.com/gin-gonic/gin"

	"deckqa/internal/bootstrap"
	"deckqa/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = app.Config.MaxUploadBytes()

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	var history handler.TurnHistory
	if app.Turns != nil {
		history = app.Turns
	}
	documentHandler := handler.NewDocumentHandler(app.Ingest, app.Config.MaxUploadBytes())
	queryHandler := handler.NewQueryHandler(app.Query, history)
	embeddingHandler := handler.NewEmbeddingHandler(app.LLM)

	v1 := router.Group("/api/v1")
	documents := v1.Group("/documents")
	documents.POST("/pdf", documentHandler.UploadPDF)
	documents.POST("/text", documentHandler.CreateText)
	documents.GET("", documentHandler.List)
	documents.DELETE("/:id", documentHandler.Delete)
	documents.POST("/clear", documentHandler.Clear)

	v1.POST("/query", queryHandler.Ask)
	v1.POST("/query/multi", queryHandler.AskMulti)
	v1.GET("/history", queryHandler.History)
	v1.POST("/embeddings", embeddingHandler.Embed)

	pathwayHandler := handler.NewPathwayHandler(app.LocalIndex)
	pathway := router.Group("/pathway")
	pathway.POST("/ingest", pathwayHandler.Ingest)
	pathway.POST("/query", pathwayHandler.Query)
	pathway.POST("/clear", pathwayHandler.Clear)
	pathway.GET("/documents", pathwayHandler.Documents)

	return router
}
