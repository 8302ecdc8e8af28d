// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrbot-consultas/backend/internal/fetch"
	"github.com/mrbot-consultas/backend/internal/session"
	"github.com/mrbot-consultas/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store      storage.Store
	SessionMgr *session.Manager
	FetchMgr   *fetch.Manager
	Client     BotClient
	Version    string
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, deps *Dependencies) *Handler {
	h := NewHandler(deps.Store, deps.SessionMgr, deps.FetchMgr, deps.Client, deps.Version)

	e.GET("/api/health", h.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	files := e.Group("/api/files")
	files.POST("/upload", h.HandleUploadFile)
	files.GET("/recent", h.HandleRecentFiles)
	files.GET("/:id", h.HandleGetFile)
	files.DELETE("/:id", h.HandleDeleteFile)

	batches := e.Group("/api/batches")
	batches.POST("", h.HandleStartBatch)
	batches.GET("/:id/status", h.HandleBatchStatus)
	batches.GET("/:id/results", h.HandleBatchResults)
	batches.GET("/:id/results/msgpack", h.HandleBatchResultsMsgpack)
	batches.GET("/:id/report", h.HandleBatchReport)
	batches.POST("/:id/cancel", h.HandleCancelBatch)

	downloads := e.Group("/api/downloads")
	downloads.POST("", h.HandleStartDownload)
	downloads.GET("/:id/status", h.HandleDownloadStatus)
	downloads.GET("/:id/archive", h.HandleDownloadArchive)
	downloads.GET("/:id/log", h.HandleDownloadLog)

	e.POST("/api/consolidate", h.HandleConsolidate)

	e.GET("/api/user/quota/:email", h.HandleUserQuota)
	e.POST("/api/user", h.HandleCreateUser)
	e.POST("/api/user/reset-key", h.HandleResetAPIKey)
	e.POST("/api/queries/cuit", h.HandleCuitQuery)
	e.POST("/api/queries/:service", h.HandleSingleQuery)

	return h
}
