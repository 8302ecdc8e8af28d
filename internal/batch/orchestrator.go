// Package batch runs one outbound query per spreadsheet row and collects
// the per-row outcomes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mrbot-consultas/backend/internal/models"
	"github.com/mrbot-consultas/backend/internal/mrbot"
)

// Querier issues one cataloged service call. *mrbot.Client satisfies it.
type Querier interface {
	Consulta(ctx context.Context, svc mrbot.Service, payload map[string]any) (*mrbot.Response, error)
}

// Params are the user-supplied batch options shared by every row.
type Params struct {
	// Desde and Hasta bound the queried period, formatted DD/MM/YYYY.
	Desde string `json:"desde,omitempty"`
	Hasta string `json:"hasta,omitempty"`

	// Options override the per-service payload flag defaults.
	Options map[string]bool `json:"options,omitempty"`
}

// ProgressFunc reports rows completed out of the total.
type ProgressFunc func(done, total int)

// Orchestrator maps input rows to query results, one call per row, in input
// order. It never retries a row: each request that reaches the server spends
// quota whether it succeeds or not.
type Orchestrator struct {
	querier Querier
	logger  zerolog.Logger
}

// New creates an Orchestrator backed by the given querier.
func New(querier Querier) *Orchestrator {
	return &Orchestrator{
		querier: querier,
		logger:  log.With().Str("component", "batch").Logger(),
	}
}

// Run executes the batch sequentially. The result slice always has exactly
// one entry per input row, in input order; failures are recorded in place and
// the batch continues. Context cancellation stops between rows and the
// completed prefix is returned with the context error.
func (o *Orchestrator) Run(ctx context.Context, svc mrbot.Service, rows []models.QueryRow, params Params, progress ProgressFunc) ([]models.QueryResult, error) {
	results := make([]models.QueryResult, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, o.runRow(ctx, svc, row, params))
		if progress != nil {
			progress(i+1, len(rows))
		}
	}
	return results, nil
}

func (o *Orchestrator) runRow(ctx context.Context, svc mrbot.Service, row models.QueryRow, params Params) models.QueryResult {
	if row.Identifier == "" {
		return models.QueryResult{
			Row:     row,
			Status:  models.RowStatusError,
			Kind:    models.ErrorKindValidation,
			Message: fmt.Sprintf("fila %d: columna %s vacia", row.Line, svc.IdentifierColumn),
		}
	}

	resp, err := o.querier.Consulta(ctx, svc, buildPayload(svc, row, params))
	if err != nil {
		o.logger.Warn().Err(err).Int("row", row.Index).Str("service", svc.Name).Msg("query failed")
		kind := models.ErrorKindNetwork
		var apiErr *mrbot.APIError
		if errors.As(err, &apiErr) && apiErr.Class != mrbot.ErrorClassNetwork {
			kind = models.ErrorKindAPI
		}
		return models.QueryResult{
			Row:     row,
			Status:  models.RowStatusError,
			Kind:    kind,
			Message: err.Error(),
		}
	}

	result := models.QueryResult{
		Row:        row,
		HTTPStatus: resp.HTTPStatus,
	}
	result.Summary, result.FileRefs = summarize(svc, resp)

	switch {
	case !resp.OK():
		result.Status = models.RowStatusError
		result.Kind = models.ErrorKindAPI
		result.Message = apiMessage(resp)
	case failedDespiteOK(svc, resp):
		result.Status = models.RowStatusError
		result.Kind = models.ErrorKindAPI
		result.Message = apiMessage(resp)
	default:
		result.Status = models.RowStatusOK
	}
	return result
}

// failedDespiteOK catches services that report failure inside a 200 body.
func failedDespiteOK(svc mrbot.Service, resp *mrbot.Response) bool {
	if ok, present := resp.BoolField("success"); present && !ok {
		return true
	}
	if svc.Name == "sct" || svc.Name == "ccma" {
		if resp.StringField("error_message") != "" {
			return true
		}
	}
	return false
}

func apiMessage(resp *mrbot.Response) string {
	if msg := resp.StringField("message", "detail", "error_message", "raw_text"); msg != "" {
		return msg
	}
	return fmt.Sprintf("respuesta con estado %d", resp.HTTPStatus)
}

// defaultOptions are the payload flags each service gets unless overridden.
var defaultOptions = map[string]map[string]bool{
	"mis_comprobantes": {
		"descarga_emitidos":  true,
		"descarga_recibidos": true,
		"proxy_request":      false,
		"carga_s3":           true,
		"carga_minio":        false,
		"carga_json":         false,
	},
	"rcel": {
		"b64_pdf":      false,
		"minio_upload": true,
	},
	"sct": {
		"excel_b64":     false,
		"csv_b64":       false,
		"pdf_b64":       false,
		"excel_minio":   true,
		"csv_minio":     true,
		"pdf_minio":     true,
		"proxy_request": false,
	},
	"ccma": {
		"proxy_request": false,
	},
}

// buildPayload assembles the JSON body for one row: the row's required
// columns, the shared date range where the service takes one, and the option
// flags (defaults overlaid with the user's choices).
func buildPayload(svc mrbot.Service, row models.QueryRow, params Params) map[string]any {
	payload := make(map[string]any, len(svc.RequiredColumns)+8)
	for _, col := range svc.RequiredColumns {
		payload[col] = row.Fields[col]
	}

	switch svc.Name {
	case "mis_comprobantes", "rcel":
		if params.Desde != "" {
			payload["desde"] = params.Desde
		}
		if params.Hasta != "" {
			payload["hasta"] = params.Hasta
		}
	}
	if svc.Name == "mis_comprobantes" {
		payload["b64"] = false
	}

	for flag, def := range defaultOptions[svc.Name] {
		payload[flag] = def
	}
	for flag, v := range params.Options {
		if _, known := defaultOptions[svc.Name][flag]; known {
			payload[flag] = v
		}
	}
	return payload
}

// urlKeys are the mis_comprobantes response fields that point at uploaded
// result archives.
var urlKeys = []struct {
	key   string
	group string
}{
	{"mis_comprobantes_emitidos_url_s3", models.GroupEmitidos},
	{"mis_comprobantes_emitidos_url_minio", models.GroupEmitidos},
	{"mis_comprobantes_recibidos_url_s3", models.GroupRecibidos},
	{"mis_comprobantes_recibidos_url_minio", models.GroupRecibidos},
}

// summarize pulls the per-service report columns out of a response.
func summarize(svc mrbot.Service, resp *mrbot.Response) (map[string]string, []models.FileReference) {
	summary := map[string]string{}
	var refs []models.FileReference

	switch svc.Name {
	case "mis_comprobantes":
		if ok, present := resp.BoolField("success"); present {
			summary["success"] = strconv.FormatBool(ok)
		}
		if msg := resp.StringField("message", "detail"); msg != "" {
			summary["message"] = msg
		}
		for _, uk := range urlKeys {
			if u := resp.StringField(uk.key); u != "" {
				summary[uk.key] = u
				refs = append(refs, models.FileReference{Group: uk.group, URL: u})
			}
		}
	case "rcel":
		if ok, present := resp.BoolField("success"); present {
			summary["success"] = strconv.FormatBool(ok)
		}
		if msg := resp.StringField("message", "detail"); msg != "" {
			summary["message"] = msg
		}
		if n := resp.ListLen("facturas_emitidas"); n >= 0 {
			summary["num_facturas"] = strconv.Itoa(n)
		}
	case "sct", "ccma":
		if s := resp.StringField("status"); s != "" {
			summary["status"] = s
		}
		if msg := resp.StringField("error_message"); msg != "" {
			summary["error_message"] = msg
		}
	case "apoc":
		if flagged, present := resp.BoolField("apoc", "es_apocrifo"); present {
			summary["apoc"] = strconv.FormatBool(flagged)
		}
		if d := resp.StringField("fecha_apoc", "fecha"); d != "" {
			summary["fecha_apoc"] = d
		}
		if d := resp.StringField("fecha_publicacion"); d != "" {
			summary["fecha_publicacion"] = d
		}
	}

	if len(summary) == 0 {
		return nil, refs
	}
	return summary, refs
}
