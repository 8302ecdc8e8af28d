// handlers_downloads.go - Result file fetch jobs
package api

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mrbot-consultas/backend/internal/fetch"
	"github.com/mrbot-consultas/backend/internal/models"
	"github.com/mrbot-consultas/backend/internal/spreadsheet"
)

// HandleStartDownload starts an async job downloading every result file a
// batch referenced. The references come from a finished session (JSON
// {"batchId": ...}) or from an uploaded consolidated XLSX (multipart).
func (h *Handler) HandleStartDownload(c echo.Context) error {
	refs, err := h.resolveRefs(c)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return NewBadRequestError("no downloadable file references found", nil)
	}

	job := h.fetchMgr.StartJob(refs)
	return c.JSON(http.StatusAccepted, job)
}

func (h *Handler) resolveRefs(c echo.Context) ([]models.FileReference, error) {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return nil, NewBadRequestError("multipart field 'file' is required", err)
		}
		src, err := fileHeader.Open()
		if err != nil {
			return nil, NewBadRequestError("cannot open uploaded file", err)
		}
		defer src.Close()
		content, err := io.ReadAll(src)
		if err != nil {
			return nil, NewBadRequestError("cannot read uploaded file", err)
		}

		refs, err := spreadsheet.ExtractFileRefs(bytes.NewReader(content))
		if err != nil {
			return nil, NewBadRequestError("cannot extract URLs from workbook", err)
		}
		return refs, nil
	}

	var req struct {
		BatchID string `json:"batchId"`
	}
	if err := c.Bind(&req); err != nil {
		return nil, NewBadRequestError("invalid JSON body", err)
	}
	if req.BatchID == "" {
		return nil, NewValidationError("batchId")
	}

	refs, err := h.sessions.FileRefs(req.BatchID)
	if err != nil {
		return nil, NewNotFoundError("batch", req.BatchID)
	}
	return refs, nil
}

// HandleDownloadStatus returns the fetch job snapshot for polling.
func (h *Handler) HandleDownloadStatus(c echo.Context) error {
	id := c.Param("id")
	job, ok := h.fetchMgr.GetJob(id)
	if !ok {
		return NewNotFoundError("download job", id)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleDownloadArchive returns the bundled ZIP of a completed job.
func (h *Handler) HandleDownloadArchive(c echo.Context) error {
	id := c.Param("id")
	archive, err := h.fetchMgr.Archive(id)
	if err != nil {
		job, ok := h.fetchMgr.GetJob(id)
		if !ok {
			return NewNotFoundError("download job", id)
		}
		if job.Status != fetch.StatusComplete {
			return NewConflictError("download job is not complete yet")
		}
		return NewInternalError("failed to read archive", err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="descargas.zip"`)
	return c.Blob(http.StatusOK, "application/zip", archive)
}

// HandleDownloadLog returns the per-file download log as XLSX.
func (h *Handler) HandleDownloadLog(c echo.Context) error {
	id := c.Param("id")
	entries, err := h.fetchMgr.LogEntries(id)
	if err != nil {
		return NewNotFoundError("download job", id)
	}

	workbook, err := fetch.WriteLog(entries)
	if err != nil {
		return NewInternalError("failed to build log workbook", err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="log_descargas.xlsx"`)
	return c.Blob(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", workbook)
}
