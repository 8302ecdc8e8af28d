// handlers_batches.go - Batch query lifecycle
package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mrbot-consultas/backend/internal/batch"
	"github.com/mrbot-consultas/backend/internal/models"
	"github.com/mrbot-consultas/backend/internal/mrbot"
	"github.com/mrbot-consultas/backend/internal/spreadsheet"
)

// StartBatchRequest launches a batch over an uploaded spreadsheet, or over
// an inline CUIT list for services that only need the identifier.
type StartBatchRequest struct {
	FileID  string          `json:"fileId"`
	Service string          `json:"service"`
	Cuits   []string        `json:"cuits,omitempty"`
	Desde   string          `json:"desde,omitempty"`
	Hasta   string          `json:"hasta,omitempty"`
	Options map[string]bool `json:"options,omitempty"`
}

// HandleStartBatch parses the input spreadsheet and starts the background
// batch run.
func (h *Handler) HandleStartBatch(c echo.Context) error {
	var req StartBatchRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Service == "" {
		return NewValidationError("service")
	}

	svc, err := mrbot.LookupService(req.Service)
	if err != nil {
		return NewBadRequestError(
			fmt.Sprintf("unknown service %q, valid services: %v", req.Service, mrbot.ServiceNames()), nil)
	}

	rows, err := h.resolveRows(req, svc)
	if err != nil {
		return err
	}

	params := batch.Params{Desde: req.Desde, Hasta: req.Hasta, Options: req.Options}
	sess, err := h.sessions.StartBatch(req.FileID, svc, rows, params)
	if err != nil {
		return NewInternalError("failed to start batch", err)
	}

	return c.JSON(http.StatusAccepted, sess)
}

func (h *Handler) resolveRows(req StartBatchRequest, svc mrbot.Service) ([]models.QueryRow, error) {
	if len(req.Cuits) > 0 {
		rows := make([]models.QueryRow, len(req.Cuits))
		for i, cuit := range req.Cuits {
			rows[i] = models.QueryRow{
				Index:      i,
				Line:       i + 1, // inline lists have no header row
				Identifier: cuit,
				Fields:     map[string]string{svc.IdentifierColumn: cuit},
			}
		}
		return rows, nil
	}

	if req.FileID == "" {
		return nil, NewValidationError("fileId")
	}
	info, err := h.store.Get(req.FileID)
	if err != nil {
		return nil, NewNotFoundError("file", req.FileID)
	}
	content, err := h.store.Read(req.FileID)
	if err != nil {
		return nil, NewInternalError("failed to read file", err)
	}

	rows, err := spreadsheet.ParseWorkbook(bytes.NewReader(content), info.Name, svc)
	if err != nil {
		return nil, NewBadRequestError("cannot parse spreadsheet", err)
	}
	return rows, nil
}

// HandleBatchStatus returns the session snapshot for polling.
func (h *Handler) HandleBatchStatus(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.sessions.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleBatchResults returns the per-row results of a finished batch.
func (h *Handler) HandleBatchResults(c echo.Context) error {
	id := c.Param("id")
	results, err := h.sessions.Results(id)
	if err != nil {
		return NewNotFoundError("results for session", id)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

// HandleBatchResultsMsgpack returns the results msgpack-encoded for the
// front end's compact transfer path.
func (h *Handler) HandleBatchResultsMsgpack(c echo.Context) error {
	id := c.Param("id")
	results, err := h.sessions.Results(id)
	if err != nil {
		return NewNotFoundError("results for session", id)
	}

	data, err := msgpack.Marshal(map[string]interface{}{
		"results": results,
		"total":   len(results),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleBatchReport builds and returns the consolidated XLSX report.
func (h *Handler) HandleBatchReport(c echo.Context) error {
	id := c.Param("id")
	results, err := h.sessions.Results(id)
	if err != nil {
		return NewNotFoundError("results for session", id)
	}
	svc, err := h.sessions.Service(id)
	if err != nil {
		return NewNotFoundError("session", id)
	}

	report, err := spreadsheet.WriteReport(results, svc.IdentifierColumn)
	if err != nil {
		return NewInternalError("failed to build report", err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="resultado_%s.xlsx"`, svc.Name))
	return c.Blob(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", report)
}

// HandleCancelBatch stops a running batch between rows.
func (h *Handler) HandleCancelBatch(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.Cancel(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusAccepted)
}
