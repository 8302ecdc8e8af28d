package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mrbot-consultas/backend/internal/batch"
	"github.com/mrbot-consultas/backend/internal/fetch"
	"github.com/mrbot-consultas/backend/internal/models"
	"github.com/mrbot-consultas/backend/internal/mrbot"
	"github.com/mrbot-consultas/backend/internal/session"
	"github.com/mrbot-consultas/backend/internal/testutil"
)

type testEnv struct {
	handler *Handler
	echo    *echo.Echo
	store   *testutil.MockStorage
	client  *testutil.MockBotClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := testutil.NewMockStorage()
	client := testutil.NewMockBotClient()
	sessions := session.NewManager(batch.New(client))
	fetchMgr := fetch.NewManager(fetch.NewFetcher(time.Second))

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	h := RegisterRoutes(e, &Dependencies{
		Store:      store,
		SessionMgr: sessions,
		FetchMgr:   fetchMgr,
		Client:     client,
		Version:    "test",
	})

	return &testEnv{handler: h, echo: e, store: store, client: client}
}

func (env *testEnv) request(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) postJSON(t *testing.T, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return env.request(t, http.MethodPost, target, bytes.NewBuffer(data), echo.MIMEApplicationJSON)
}

func multipartFile(t *testing.T, fieldName, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func sctWorkbook(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &cells))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func waitForBatch(t *testing.T, env *testEnv, id string) models.BatchSession {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		rec := env.request(t, http.MethodGet, "/api/batches/"+id+"/status", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var sess models.BatchSession
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
		if sess.Status == models.SessionStatusComplete || sess.Status == models.SessionStatusError {
			return sess
		}
		select {
		case <-deadline:
			t.Fatalf("batch stuck in %s", sess.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/api/health", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleUploadFile(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartFile(t, "file", "credenciales.xlsx", []byte("content"))
	rec := env.request(t, http.MethodPost, "/api/files/upload", body, contentType)

	require.Equal(t, http.StatusCreated, rec.Code)
	var info models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "credenciales.xlsx", info.Name)
	assert.NotEmpty(t, info.ID)
}

func TestHandleUploadFileMissingField(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartFile(t, "wrong", "f.xlsx", []byte("x"))
	rec := env.request(t, http.MethodPost, "/api/files/upload", body, contentType)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "BAD_REQUEST")
}

func TestHandleGetAndDeleteFile(t *testing.T) {
	env := newTestEnv(t)
	info := env.store.AddFile("f-1", "a.xlsx", []byte("x"))

	rec := env.request(t, http.MethodGet, "/api/files/"+info.ID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodDelete, "/api/files/"+info.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/files/"+info.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestStartBatchFromSpreadsheet(t *testing.T) {
	env := newTestEnv(t)
	env.client.Response = &mrbot.Response{HTTPStatus: 200, Data: map[string]any{"status": "finalizado"}}

	workbook := sctWorkbook(t, [][]string{
		{"cuit_login", "clave", "cuit_representado"},
		{"20111111112", "s1", "20222222223"},
		{"20111111112", "s2", "20333333334"},
	})
	info := env.store.AddFile("wb-1", "sct.xlsx", workbook)

	rec := env.postJSON(t, "/api/batches", map[string]any{
		"fileId":  info.ID,
		"service": "sct",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var sess models.BatchSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, 2, sess.RowCount)

	final := waitForBatch(t, env, sess.ID)
	assert.Equal(t, models.SessionStatusComplete, final.Status)
	assert.Equal(t, 2, final.OKCount)
	assert.Equal(t, 2, env.client.Calls())
}

func TestStartBatchFromCuitList(t *testing.T) {
	env := newTestEnv(t)
	env.client.Response = &mrbot.Response{HTTPStatus: 200, Data: map[string]any{"apocrifo": false}}

	rec := env.postJSON(t, "/api/batches", map[string]any{
		"service": "apoc",
		"cuits":   []string{"20111111112", "20333333334"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var sess models.BatchSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	final := waitForBatch(t, env, sess.ID)
	assert.Equal(t, models.SessionStatusComplete, final.Status)
}

func TestStartBatchValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		payload map[string]any
		code    int
		body    string
	}{
		{"missing service", map[string]any{"fileId": "x"}, http.StatusBadRequest, "service"},
		{"unknown service", map[string]any{"fileId": "x", "service": "nope"}, http.StatusBadRequest, "unknown service"},
		{"missing fileId", map[string]any{"service": "sct"}, http.StatusBadRequest, "fileId"},
		{"missing file", map[string]any{"fileId": "ghost", "service": "sct"}, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postJSON(t, "/api/batches", tt.payload)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestStartBatchBadSpreadsheet(t *testing.T) {
	env := newTestEnv(t)

	workbook := sctWorkbook(t, [][]string{
		{"cuit_login", "clave"}, // cuit_representado missing
		{"20111111112", "s1"},
	})
	info := env.store.AddFile("wb-bad", "sct.xlsx", workbook)

	rec := env.postJSON(t, "/api/batches", map[string]any{"fileId": info.ID, "service": "sct"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cuit_representado")
}

func TestBatchResultsAndReport(t *testing.T) {
	env := newTestEnv(t)
	env.client.Response = &mrbot.Response{HTTPStatus: 200, Data: map[string]any{"status": "finalizado"}}

	rec := env.postJSON(t, "/api/batches", map[string]any{
		"service": "apoc",
		"cuits":   []string{"20111111112"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sess models.BatchSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	waitForBatch(t, env, sess.ID)

	rec = env.request(t, http.MethodGet, "/api/batches/"+sess.ID+"/results", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Results []models.QueryResult `json:"results"`
		Total   int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 1, payload.Total)
	assert.Equal(t, models.RowStatusOK, payload.Results[0].Status)

	rec = env.request(t, http.MethodGet, "/api/batches/"+sess.ID+"/results/msgpack", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	rec = env.request(t, http.MethodGet, "/api/batches/"+sess.ID+"/report", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "resultado_apoc.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Resultados")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "20111111112", rows[1][1])
}

func TestBatchResultsBeforeCompletion(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/api/batches/ghost/results", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadFlowFromBatch(t *testing.T) {
	fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("col;val\n1;2\n"))
	}))
	defer fileSrv.Close()

	env := newTestEnv(t)
	env.client.Response = &mrbot.Response{HTTPStatus: 200, Data: map[string]any{
		"success":                          true,
		"mis_comprobantes_emitidos_url_s3": fileSrv.URL + "/20111111112.csv",
	}}

	workbook := sctWorkbook(t, [][]string{
		{"cuit_inicio_sesion", "nombre_representado", "cuit_representado", "contrasena"},
		{"20111111112", "ACME", "20222222223", "s"},
	})
	info := env.store.AddFile("wb-mc", "mc.xlsx", workbook)

	rec := env.postJSON(t, "/api/batches", map[string]any{"fileId": info.ID, "service": "mis_comprobantes"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sess models.BatchSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	waitForBatch(t, env, sess.ID)

	rec = env.postJSON(t, "/api/downloads", map[string]any{"batchId": sess.ID})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job fetch.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	deadline := time.After(5 * time.Second)
	for {
		rec = env.request(t, http.MethodGet, "/api/downloads/"+job.ID+"/status", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var snap fetch.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		if snap.Status == fetch.StatusComplete {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("download job stuck in %s", snap.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	rec = env.request(t, http.MethodGet, "/api/downloads/"+job.ID+"/archive", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get(echo.HeaderContentType))

	rec = env.request(t, http.MethodGet, "/api/downloads/"+job.ID+"/log", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "log_descargas.xlsx")
}

func TestStartDownloadValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/downloads", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/api/downloads", map[string]any{"batchId": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleConsolidate(t *testing.T) {
	env := newTestEnv(t)

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	w, err := zw.Create("Emitidos/20111111112.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("Fecha;Importe\n01/01/2026;100\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	body, contentType := multipartFile(t, "file", "descargas.zip", zipBuf.Bytes())
	rec := env.request(t, http.MethodPost, "/api/consolidate", body, contentType)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "1", rec.Header().Get("X-Emitidos-Rows"))
}

func TestHandleConsolidateRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartFile(t, "file", "x.zip", []byte("not a zip"))
	rec := env.request(t, http.MethodPost, "/api/consolidate", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserProxies(t *testing.T) {
	env := newTestEnv(t)
	env.client.Response = &mrbot.Response{HTTPStatus: 200, Data: map[string]any{"consultas": float64(10)}}

	rec := env.request(t, http.MethodGet, "/api/user/quota/user@example.com", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"http_status":200`)

	rec = env.postJSON(t, "/api/user", map[string]any{"email": "new@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.postJSON(t, "/api/user", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/api/user/reset-key", map[string]any{"email": "user@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.postJSON(t, "/api/queries/cuit", map[string]any{"cuit": "20111111112"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.postJSON(t, "/api/queries/cuit", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSingleQueryProxy(t *testing.T) {
	env := newTestEnv(t)
	env.client.Response = &mrbot.Response{HTTPStatus: 200, Data: map[string]any{"status": "finalizado"}}

	rec := env.postJSON(t, "/api/queries/sct", map[string]any{
		"cuit_login":        "20111111112",
		"clave":             "secret",
		"cuit_representado": "20222222223",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sct", env.client.LastService)

	rec = env.postJSON(t, "/api/queries/sct", map[string]any{"cuit_login": "20111111112"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postJSON(t, "/api/queries/nope", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "unknown service"))
}
