package models

// RowStatus represents the outcome of a single batched query.
type RowStatus string

const (
	RowStatusOK    RowStatus = "ok"
	RowStatusError RowStatus = "error"
)

// ErrorKind classifies a row or file level failure.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindAPI        ErrorKind = "api"
	ErrorKindStorage    ErrorKind = "storage"
	ErrorKindParse      ErrorKind = "parse"
)

// QueryRow is one input record parsed from an uploaded spreadsheet.
// Index is the 0-based position among the data rows; Line is the 1-based
// row in the source file as the user sees it (for spreadsheets the header
// occupies line 1, so the first data row is line 2). Fields holds the
// spreadsheet columns by lower-cased header name.
type QueryRow struct {
	Index      int               `json:"index"`
	Line       int               `json:"line"`
	Identifier string            `json:"identifier"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// QueryResult is the outcome of the HTTP call issued for one QueryRow.
// It is created once after the call returns and never mutated.
type QueryResult struct {
	Row        QueryRow          `json:"row" msgpack:"row"`
	Status     RowStatus         `json:"status" msgpack:"status"`
	Kind       ErrorKind         `json:"kind,omitempty" msgpack:"kind,omitempty"`
	HTTPStatus int               `json:"httpStatus,omitempty" msgpack:"httpStatus,omitempty"`
	Message    string            `json:"message,omitempty" msgpack:"message,omitempty"`
	Summary    map[string]string `json:"summary,omitempty" msgpack:"summary,omitempty"`
	FileRefs   []FileReference   `json:"fileRefs,omitempty" msgpack:"fileRefs,omitempty"`
}

// FileReference points at a result file the API uploaded to object storage.
type FileReference struct {
	Group string `json:"group" msgpack:"group"` // "Emitidos" or "Recibidos"
	URL   string `json:"url" msgpack:"url"`
}
