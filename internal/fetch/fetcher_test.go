package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrbot-consultas/backend/internal/models"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func archiveContents(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(content)
	}
	return out
}

func TestFetchStoresPlainFilesAndExplodesZips(t *testing.T) {
	inner := buildZip(t, map[string]string{
		"sub/20111111112-emitidos.csv": "a;b\n1;2\n",
		"20111111112-detalle.csv":      "c;d\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain.csv":
			w.Header().Set("Content-Disposition", `attachment; filename="20333333334.csv"`)
			w.Write([]byte("x;y\n"))
		case "/bundle.zip":
			w.Write(inner)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	refs := []models.FileReference{
		{Group: models.GroupEmitidos, URL: srv.URL + "/plain.csv"},
		{Group: models.GroupEmitidos, URL: srv.URL + "/bundle.zip"},
		{Group: models.GroupRecibidos, URL: srv.URL + "/missing"},
	}

	res, err := NewFetcher(time.Second).Fetch(context.Background(), refs, nil)
	require.NoError(t, err)

	contents := archiveContents(t, res.Archive)
	assert.Equal(t, "x;y\n", contents["Emitidos/20333333334.csv"])
	assert.Equal(t, "a;b\n1;2\n", contents["Emitidos/20111111112-emitidos.csv"])
	assert.Equal(t, "c;d\n", contents["Emitidos/20111111112-detalle.csv"])
	assert.Len(t, contents, 3)

	assert.Equal(t, 3, res.OKCount)
	assert.Equal(t, 1, res.ErrorCount)

	require.Len(t, res.Log, 4)
	assert.Equal(t, models.DownloadStateFile, res.Log[0].State)
	assert.Equal(t, models.DownloadStateExtracted, res.Log[1].State)
	assert.Equal(t, models.DownloadStateExtracted, res.Log[2].State)
	assert.Equal(t, models.DownloadStateHTTPError, res.Log[3].State)
}

func TestFetchNameCollisions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	refs := []models.FileReference{
		{Group: models.GroupEmitidos, URL: srv.URL + "/a/archivo.csv"},
		{Group: models.GroupEmitidos, URL: srv.URL + "/b/archivo.csv"},
		{Group: models.GroupRecibidos, URL: srv.URL + "/c/archivo.csv"},
	}

	res, err := NewFetcher(time.Second).Fetch(context.Background(), refs, nil)
	require.NoError(t, err)

	contents := archiveContents(t, res.Archive)
	assert.Contains(t, contents, "Emitidos/archivo.csv")
	assert.Contains(t, contents, "Emitidos/archivo_1.csv")
	assert.Contains(t, contents, "Recibidos/archivo.csv")
}

func TestFetchEmptyZip(t *testing.T) {
	empty := buildZip(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(empty)
	}))
	defer srv.Close()

	refs := []models.FileReference{{Group: models.GroupEmitidos, URL: srv.URL + "/e.zip"}}
	res, err := NewFetcher(time.Second).Fetch(context.Background(), refs, nil)
	require.NoError(t, err)

	require.Len(t, res.Log, 1)
	assert.Equal(t, models.DownloadStateEmptyZip, res.Log[0].State)
	assert.Equal(t, 0, res.OKCount)
	assert.Equal(t, 0, res.ErrorCount)
}

func TestFetchUnreachableHost(t *testing.T) {
	refs := []models.FileReference{{Group: models.GroupEmitidos, URL: "http://127.0.0.1:1/x.csv"}}
	res, err := NewFetcher(time.Second).Fetch(context.Background(), refs, nil)
	require.NoError(t, err)

	require.Len(t, res.Log, 1)
	assert.Equal(t, models.DownloadStateError, res.Log[0].State)
	assert.Equal(t, 1, res.ErrorCount)

	// The archive is still a valid, readable zip.
	assert.Empty(t, archiveContents(t, res.Archive))
}

func TestFetchProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	var seen []int
	refs := []models.FileReference{
		{Group: models.GroupEmitidos, URL: srv.URL + "/1.csv"},
		{Group: models.GroupEmitidos, URL: srv.URL + "/2.csv"},
	}
	_, err := NewFetcher(time.Second).Fetch(context.Background(), refs, func(done, total int) {
		assert.Equal(t, 2, total)
		seen = append(seen, done)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestManagerLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	mgr := NewManager(NewFetcher(time.Second))
	job := mgr.StartJob([]models.FileReference{
		{Group: models.GroupEmitidos, URL: srv.URL + "/a.csv"},
	})
	require.NotEmpty(t, job.ID)

	deadline := time.After(5 * time.Second)
	for {
		snap, ok := mgr.GetJob(job.ID)
		require.True(t, ok)
		if snap.Status == StatusComplete {
			assert.Equal(t, float64(100), snap.Progress)
			assert.Equal(t, 1, snap.OKCount)
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job did not complete, status %s", snap.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	archive, err := mgr.Archive(job.ID)
	require.NoError(t, err)
	assert.Contains(t, archiveContents(t, archive), "Emitidos/a.csv")

	entries, err := mgr.LogEntries(job.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	mgr.CleanupOldJobs(0)
	_, ok := mgr.GetJob(job.ID)
	assert.False(t, ok)
}

func TestStartJobReturnsPendingSnapshot(t *testing.T) {
	mgr := NewManager(NewFetcher(time.Second))

	// Jobs with no references finish almost instantly, so the worker
	// goroutine races StartJob's return value unless it is a snapshot.
	for i := 0; i < 50; i++ {
		job := mgr.StartJob(nil)
		assert.Equal(t, StatusPending, job.Status)
		assert.Zero(t, job.Progress)
	}
}

func TestWriteLog(t *testing.T) {
	data, err := WriteLog([]models.DownloadLogEntry{
		{Group: models.GroupEmitidos, URL: "https://s3.example.com/a.zip", State: models.DownloadStateExtracted, Detail: "a.csv"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestIsZipSignatures(t *testing.T) {
	regular := buildZip(t, map[string]string{"a.csv": "x"})
	empty := buildZip(t, nil)

	assert.True(t, isZip(regular))
	assert.True(t, isZip(empty))
	assert.False(t, isZip([]byte("PK")))
	assert.False(t, isZip([]byte("cuit;monto\n1;2\n")))
}

func TestUniqueNames(t *testing.T) {
	s := newNameSet()
	assert.Equal(t, "a.csv", s.unique("Emitidos", "a.csv"))
	assert.Equal(t, "a_1.csv", s.unique("Emitidos", "a.csv"))
	assert.Equal(t, "a_2.csv", s.unique("Emitidos", "a.csv"))
	assert.Equal(t, "a.csv", s.unique("Recibidos", "a.csv"))
	assert.Equal(t, "descarga", s.unique("Emitidos", ""))
}
