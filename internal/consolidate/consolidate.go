// Package consolidate merges the semicolon-delimited CSV files inside a
// downloaded archive into one consolidated XLSX workbook per group.
package consolidate

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/mrbot-consultas/backend/internal/models"
)

const (
	sheetName         = "Consolidado"
	workbookEmitidos  = "Consolidados Emitidos.xlsx"
	workbookRecibidos = "Consolidados Recibidos.xlsx"
)

// SkippedFile records a CSV that could not be merged.
type SkippedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Result is the outcome of one consolidation run.
type Result struct {
	// Archive is a ZIP holding one consolidated XLSX per group that had
	// at least one parseable file.
	Archive []byte `json:"-"`

	EmitidosRows  int           `json:"emitidosRows"`
	RecibidosRows int           `json:"recibidosRows"`
	Skipped       []SkippedFile `json:"skipped,omitempty"`
}

var digitRun = regexp.MustCompile(`[0-9]+`)

// Consolidate merges every CSV under Emitidos/ and Recibidos/ in the input
// archive. Files are processed in archive order and rows keep their file
// order; a file that fails to parse is recorded in Skipped and the run
// continues. The function is pure: identical input bytes produce identical
// row content.
func Consolidate(zipBytes []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	res := &Result{}
	var out bytes.Buffer
	zw := zip.NewWriter(&out)

	groups := []struct {
		dir      string
		workbook string
		counter  *int
	}{
		{models.GroupEmitidos, workbookEmitidos, &res.EmitidosRows},
		{models.GroupRecibidos, workbookRecibidos, &res.RecibidosRows},
	}

	for _, g := range groups {
		merged, skipped := mergeGroup(zr, g.dir)
		res.Skipped = append(res.Skipped, skipped...)
		if merged == nil {
			continue
		}
		*g.counter = len(merged.rows)

		workbook, err := merged.writeXLSX()
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", g.workbook, err)
		}
		w, err := zw.Create(g.workbook)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(workbook); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	res.Archive = out.Bytes()
	return res, nil
}

// table accumulates merged rows. Columns are "Cuit" plus every header in
// first-seen order; rows from files missing a column get empty cells there.
type table struct {
	columns []string
	index   map[string]int
	rows    []map[string]string
}

func newTable() *table {
	t := &table{index: map[string]int{}}
	t.addColumn("Cuit")
	return t
}

func (t *table) addColumn(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	return len(t.columns) - 1
}

func mergeGroup(zr *zip.Reader, dir string) (*table, []SkippedFile) {
	var (
		merged  *table
		skipped []SkippedFile
	)
	prefix := dir + "/"

	for _, member := range zr.File {
		if member.FileInfo().IsDir() || !strings.HasPrefix(member.Name, prefix) {
			continue
		}
		if !strings.EqualFold(path.Ext(member.Name), ".csv") {
			continue
		}

		records, err := readCSVMember(member)
		if err != nil {
			skipped = append(skipped, SkippedFile{Name: member.Name, Reason: err.Error()})
			continue
		}
		if len(records) < 2 {
			skipped = append(skipped, SkippedFile{Name: member.Name, Reason: "sin filas de datos"})
			continue
		}

		if merged == nil {
			merged = newTable()
		}
		cuit := extractCUIT(path.Base(member.Name))
		appendFile(merged, records, cuit)
	}
	return merged, skipped
}

func appendFile(t *table, records [][]string, cuit string) {
	header := records[0]
	colIdx := make([]int, len(header))
	for i, h := range header {
		colIdx[i] = t.addColumn(strings.TrimSpace(h))
	}

	for _, record := range records[1:] {
		row := map[string]string{"Cuit": cuit}
		for i, cell := range record {
			if i >= len(header) {
				break
			}
			row[t.columns[colIdx[i]]] = cell
		}
		t.rows = append(t.rows, row)
	}
}

func readCSVMember(member *zip.File) ([][]string, error) {
	rc, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("abrir entrada: %w", err)
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("leer entrada: %w", err)
	}

	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(raw) {
		raw = latin1ToUTF8(raw)
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsear csv: %w", err)
	}
	return records, nil
}

// latin1ToUTF8 reinterprets bytes as ISO-8859-1. Every byte maps to the
// code point of the same value, so the conversion cannot fail.
func latin1ToUTF8(raw []byte) []byte {
	out := make([]rune, len(raw))
	for i, b := range raw {
		out[i] = rune(b)
	}
	return []byte(string(out))
}

// extractCUIT pulls the taxpayer id out of a result file name: the last
// standalone run of exactly 11 digits, or "" when none exists.
func extractCUIT(name string) string {
	var cuit string
	for _, run := range digitRun.FindAllString(name, -1) {
		if len(run) == 11 {
			cuit = run
		}
	}
	return cuit
}

func (t *table) writeXLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", sheetName)

	header := make([]any, len(t.columns))
	for i, c := range t.columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, err
	}

	for i, row := range t.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		cells := make([]any, len(t.columns))
		for j, col := range t.columns {
			cells[j] = row[col]
		}
		if err := f.SetSheetRow(sheetName, cell, &cells); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
