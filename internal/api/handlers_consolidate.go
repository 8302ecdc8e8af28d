// handlers_consolidate.go - CSV consolidation endpoint
package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mrbot-consultas/backend/internal/consolidate"
)

// HandleConsolidate takes an uploaded ZIP of downloaded result files and
// returns a ZIP with one consolidated XLSX per group. Row counts and the
// number of skipped files travel in response headers since the body is the
// archive itself.
func (h *Handler) HandleConsolidate(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("multipart field 'file' is required", err)
	}
	src, err := fileHeader.Open()
	if err != nil {
		return NewBadRequestError("cannot open uploaded file", err)
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return NewBadRequestError("cannot read uploaded file", err)
	}

	res, err := consolidate.Consolidate(content)
	if err != nil {
		return NewBadRequestError("cannot consolidate archive", err)
	}
	if res.EmitidosRows == 0 && res.RecibidosRows == 0 {
		return NewBadRequestError("archive contains no consolidatable CSV files", nil)
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, `attachment; filename="consolidados.zip"`)
	header.Set("X-Emitidos-Rows", strconv.Itoa(res.EmitidosRows))
	header.Set("X-Recibidos-Rows", strconv.Itoa(res.RecibidosRows))
	header.Set("X-Skipped-Files", strconv.Itoa(len(res.Skipped)))
	return c.Blob(http.StatusOK, "application/zip", res.Archive)
}
