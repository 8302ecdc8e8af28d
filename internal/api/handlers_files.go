// handlers_files.go - Spreadsheet upload and file management
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HandleUploadFile accepts a multipart spreadsheet upload and saves it to
// storage. Parsing happens later, when a batch is started against it.
func (h *Handler) HandleUploadFile(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("multipart field 'file' is required", err)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return NewBadRequestError("cannot open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(fileHeader.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleRecentFiles returns the most recently uploaded files.
func (h *Handler) HandleRecentFiles(c echo.Context) error {
	files, err := h.store.List(20)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file.
func (h *Handler) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("file", id)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile removes a file from storage.
func (h *Handler) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if err := h.store.Delete(id); err != nil {
		return NewNotFoundError("file", id)
	}
	return c.NoContent(http.StatusNoContent)
}
