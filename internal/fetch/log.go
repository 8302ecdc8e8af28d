package fetch

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/mrbot-consultas/backend/internal/models"
)

const logSheet = "Log de descargas"

// WriteLog renders the per-file download log as an XLSX workbook, one row
// per entry in run order.
func WriteLog(entries []models.DownloadLogEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", logSheet)

	header := []any{"grupo", "url", "estado", "detalle"}
	if err := f.SetSheetRow(logSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []any{e.Group, e.URL, string(e.State), e.Detail}
		if err := f.SetSheetRow(logSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
