package spreadsheet

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mrbot-consultas/backend/internal/models"
)

const reportSheet = "Resultados"

// WriteReport renders batch results as an XLSX workbook. Fixed columns come
// first, then one column per summary key sorted by name so related batches
// produce comparable layouts.
func WriteReport(results []models.QueryResult, identifierColumn string) ([]byte, error) {
	summaryCols := summaryColumns(results)

	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", reportSheet)

	header := append([]string{"fila", identifierColumn, "estado", "http_status", "mensaje"}, summaryCols...)
	if err := writeRow(f, 1, header); err != nil {
		return nil, err
	}

	for i, res := range results {
		row := []string{
			strconv.Itoa(res.Row.Line),
			res.Row.Identifier,
			string(res.Status),
			httpStatusCell(res.HTTPStatus),
			res.Message,
		}
		for _, col := range summaryCols {
			row = append(row, res.Summary[col])
		}
		if err := writeRow(f, i+2, row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func summaryColumns(results []models.QueryResult) []string {
	var cols []string
	seen := map[string]bool{}
	for _, res := range results {
		for key := range res.Summary {
			if !seen[key] {
				seen[key] = true
				cols = append(cols, key)
			}
		}
	}
	// Map iteration order is not stable, so sort for determinism.
	sort.Strings(cols)
	return cols
}

func httpStatusCell(status int) string {
	if status == 0 {
		return ""
	}
	return strconv.Itoa(status)
}

func writeRow(f *excelize.File, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(reportSheet, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}

// ExtractFileRefs scans an XLSX workbook for URL columns and returns the
// referenced result files grouped as Emitidos or Recibidos. Any column whose
// header contains "url" counts; "recibido" in the header routes the link to
// the Recibidos group, everything else lands in Emitidos.
func ExtractFileRefs(r *bytes.Reader) ([]models.FileReference, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("workbook is empty")
	}

	type urlCol struct {
		idx   int
		group string
	}
	var cols []urlCol
	for i, h := range rows[0] {
		name := strings.ToLower(strings.TrimSpace(h))
		if !strings.Contains(name, "url") {
			continue
		}
		group := models.GroupEmitidos
		if strings.Contains(name, "recibido") {
			group = models.GroupRecibidos
		}
		cols = append(cols, urlCol{idx: i, group: group})
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no URL columns found")
	}

	var refs []models.FileReference
	for _, row := range rows[1:] {
		for _, col := range cols {
			if col.idx >= len(row) {
				continue
			}
			u := strings.TrimSpace(row[col.idx])
			if u == "" || !strings.HasPrefix(u, "http") {
				continue
			}
			refs = append(refs, models.FileReference{Group: col.group, URL: u})
		}
	}
	return refs, nil
}
