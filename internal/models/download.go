package models

// Archive groups for fetched result files.
const (
	GroupEmitidos  = "Emitidos"
	GroupRecibidos = "Recibidos"
)

// DownloadState describes the outcome of fetching one file reference.
type DownloadState string

const (
	DownloadStateFile      DownloadState = "ok_archivo"    // stored as-is
	DownloadStateExtracted DownloadState = "ok_extraido"   // inner zip entry extracted
	DownloadStateEmptyZip  DownloadState = "zip_vacio"     // zip contained no files
	DownloadStateHTTPError DownloadState = "error_http"    // non-200 response
	DownloadStateZipError  DownloadState = "error_lectura" // unreadable zip entry
	DownloadStateError     DownloadState = "error"         // network or other failure
)

// DownloadLogEntry records what happened to a single file reference during a
// fetch run. One URL may produce several entries when it is a zip that gets
// exploded into its members.
type DownloadLogEntry struct {
	Group  string        `json:"group"`
	URL    string        `json:"url"`
	State  DownloadState `json:"state"`
	Detail string        `json:"detail,omitempty"`
}
