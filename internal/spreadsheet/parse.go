// Package spreadsheet reads uploaded credential workbooks and writes the
// per-batch XLSX result report.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mrbot-consultas/backend/internal/models"
	"github.com/mrbot-consultas/backend/internal/mrbot"
)

// ErrNoRows is returned when a workbook contains headers but no data rows.
var ErrNoRows = fmt.Errorf("no data rows found")

// ParseWorkbook reads an uploaded XLSX or CSV file and returns one QueryRow
// per data row. Headers are lower-cased and trimmed before matching against
// the service's required columns; a missing required column fails the whole
// parse since every row would be unusable.
func ParseWorkbook(r io.Reader, filename string, svc mrbot.Service) ([]models.QueryRow, error) {
	var (
		table [][]string
		err   error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		table, err = readXLSX(r)
	case ".csv", ".txt":
		table, err = readCSV(r)
	default:
		return nil, fmt.Errorf("unsupported file type %q: use .xlsx or .csv", filepath.Ext(filename))
	}
	if err != nil {
		return nil, err
	}
	return buildRows(table, svc)
}

func readXLSX(r io.Reader) ([][]string, error) {
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
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = sniffDelimiter(raw)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}

// sniffDelimiter picks ';' or ',' by counting occurrences in the first line.
func sniffDelimiter(raw []byte) rune {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

func buildRows(table [][]string, svc mrbot.Service) ([]models.QueryRow, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	headers := make([]string, len(table[0]))
	index := make(map[string]int, len(table[0]))
	for i, h := range table[0] {
		name := strings.ToLower(strings.TrimSpace(h))
		headers[i] = name
		if name != "" {
			if _, dup := index[name]; !dup {
				index[name] = i
			}
		}
	}

	var missing []string
	for _, col := range svc.RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns for %s: %s",
			svc.Name, strings.Join(missing, ", "))
	}

	var rows []models.QueryRow
	for rowIdx, record := range table[1:] {
		if isEmptyRecord(record) {
			continue
		}
		fields := make(map[string]string, len(headers))
		for i, name := range headers {
			if name == "" || i >= len(record) {
				continue
			}
			fields[name] = strings.TrimSpace(record[i])
		}
		rows = append(rows, models.QueryRow{
			Index:      rowIdx,
			Line:       rowIdx + 2, // header occupies line 1
			Identifier: fields[svc.IdentifierColumn],
			Fields:     fields,
		})
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}

func isEmptyRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
