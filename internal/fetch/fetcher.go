// Package fetch downloads the result files a batch referenced (S3/MinIO
// URLs), explodes nested ZIPs, and bundles everything into one archive.
package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mrbot-consultas/backend/internal/models"
)

// Result is the outcome of one fetch run: the bundled archive plus one log
// entry per processed file. A run with failed URLs still yields an archive
// holding whatever was reachable.
type Result struct {
	Archive    []byte
	Log        []models.DownloadLogEntry
	OKCount    int
	ErrorCount int
}

// Fetcher downloads referenced files over HTTP.
type Fetcher struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewFetcher creates a Fetcher. Zero timeout means 5 minutes per file.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With().Str("component", "fetch").Logger(),
	}
}

// SetHTTPClient swaps the underlying HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(hc *http.Client) {
	f.httpClient = hc
}

// Fetch downloads every reference sequentially and returns the bundled
// archive. Failures are logged per URL and never abort the run; context
// cancellation stops between files and keeps the completed prefix.
func (f *Fetcher) Fetch(ctx context.Context, refs []models.FileReference, progress func(done, total int)) (*Result, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := newNameSet()

	res := &Result{}
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return res, err
		}
		entries := f.fetchOne(ctx, zw, names, ref)
		res.Log = append(res.Log, entries...)
		for _, e := range entries {
			if e.State == models.DownloadStateFile || e.State == models.DownloadStateExtracted {
				res.OKCount++
			} else if e.State != models.DownloadStateEmptyZip {
				res.ErrorCount++
			}
		}
		if progress != nil {
			progress(i+1, len(refs))
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	res.Archive = buf.Bytes()
	return res, nil
}

// fetchOne downloads a single reference and writes its content into the
// archive under the reference's group directory.
func (f *Fetcher) fetchOne(ctx context.Context, zw *zip.Writer, names *nameSet, ref models.FileReference) []models.DownloadLogEntry {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return []models.DownloadLogEntry{{
			Group: ref.Group, URL: ref.URL,
			State: models.DownloadStateError, Detail: err.Error(),
		}}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", ref.URL).Msg("download failed")
		return []models.DownloadLogEntry{{
			Group: ref.Group, URL: ref.URL,
			State: models.DownloadStateError, Detail: err.Error(),
		}}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return []models.DownloadLogEntry{{
			Group: ref.Group, URL: ref.URL,
			State:  models.DownloadStateHTTPError,
			Detail: fmt.Sprintf("status %d", resp.StatusCode),
		}}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []models.DownloadLogEntry{{
			Group: ref.Group, URL: ref.URL,
			State: models.DownloadStateError, Detail: err.Error(),
		}}
	}

	if isZip(body) {
		return f.explodeZip(zw, names, ref, body)
	}

	name := names.unique(ref.Group, fileNameFor(resp, ref.URL))
	if err := writeEntry(zw, ref.Group+"/"+name, body); err != nil {
		return []models.DownloadLogEntry{{
			Group: ref.Group, URL: ref.URL,
			State: models.DownloadStateError, Detail: err.Error(),
		}}
	}
	return []models.DownloadLogEntry{{
		Group: ref.Group, URL: ref.URL,
		State: models.DownloadStateFile, Detail: name,
	}}
}

// explodeZip extracts every member of a downloaded zip into the group
// directory, flattening paths. One log entry per extracted member.
func (f *Fetcher) explodeZip(zw *zip.Writer, names *nameSet, ref models.FileReference, body []byte) []models.DownloadLogEntry {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return []models.DownloadLogEntry{{
			Group: ref.Group, URL: ref.URL,
			State: models.DownloadStateZipError, Detail: err.Error(),
		}}
	}

	var entries []models.DownloadLogEntry
	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			entries = append(entries, models.DownloadLogEntry{
				Group: ref.Group, URL: ref.URL,
				State:  models.DownloadStateZipError,
				Detail: fmt.Sprintf("%s: %v", member.Name, err),
			})
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			entries = append(entries, models.DownloadLogEntry{
				Group: ref.Group, URL: ref.URL,
				State:  models.DownloadStateZipError,
				Detail: fmt.Sprintf("%s: %v", member.Name, err),
			})
			continue
		}

		name := names.unique(ref.Group, sanitizeName(path.Base(member.Name)))
		if err := writeEntry(zw, ref.Group+"/"+name, content); err != nil {
			entries = append(entries, models.DownloadLogEntry{
				Group: ref.Group, URL: ref.URL,
				State: models.DownloadStateError, Detail: err.Error(),
			})
			continue
		}
		entries = append(entries, models.DownloadLogEntry{
			Group: ref.Group, URL: ref.URL,
			State: models.DownloadStateExtracted, Detail: name,
		})
	}

	if len(entries) == 0 {
		return []models.DownloadLogEntry{{
			Group: ref.Group, URL: ref.URL,
			State: models.DownloadStateEmptyZip,
		}}
	}
	return entries
}

func writeEntry(zw *zip.Writer, name string, content []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	return err
}

// isZip matches the local-file-header signature of a regular archive and the
// end-of-central-directory signature an empty archive starts with.
func isZip(body []byte) bool {
	if len(body) < 4 {
		return false
	}
	return bytes.HasPrefix(body, []byte("PK\x03\x04")) || bytes.HasPrefix(body, []byte("PK\x05\x06"))
}

// fileNameFor derives a file name from the Content-Disposition header or,
// failing that, the last URL path segment.
func fileNameFor(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := sanitizeName(params["filename"]); name != "" {
				return name
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := sanitizeName(path.Base(u.Path)); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return "descarga"
}

// sanitizeName strips path components and characters that break archives.
func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	return strings.TrimSpace(name)
}

// nameSet hands out collision-free file names per group directory.
type nameSet struct {
	used map[string]bool
}

func newNameSet() *nameSet {
	return &nameSet{used: make(map[string]bool)}
}

// unique returns name unchanged when free, otherwise name_1.ext, name_2.ext
// and so on.
func (s *nameSet) unique(group, name string) string {
	if name == "" {
		name = "descarga"
	}
	key := group + "/" + name
	if !s.used[key] {
		s.used[key] = true
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		key = group + "/" + candidate
		if !s.used[key] {
			s.used[key] = true
			return candidate
		}
	}
}
