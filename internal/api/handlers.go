// Package api exposes the JSON surface the browser front end drives.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mrbot-consultas/backend/internal/fetch"
	"github.com/mrbot-consultas/backend/internal/session"
	"github.com/mrbot-consultas/backend/internal/storage"
)

// Handler handles API requests.
type Handler struct {
	store    storage.Store
	sessions *session.Manager
	fetchMgr *fetch.Manager
	client   BotClient
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(store storage.Store, sessions *session.Manager, fetchMgr *fetch.Manager, client BotClient, version string) *Handler {
	return &Handler{
		store:    store,
		sessions: sessions,
		fetchMgr: fetchMgr,
		client:   client,
		version:  version,
	}
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}
