package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/rangeserve/applications/server/adapters/headers"
	"github.com/donmikel/rangeserve/applications/server/adapters/inmemory"
	"github.com/donmikel/rangeserve/applications/server/adapters/mimetable"
	"github.com/donmikel/rangeserve/applications/server/adapters/sanitizer"
	"github.com/donmikel/rangeserve/applications/server/adapters/sysmem"
	"github.com/donmikel/rangeserve/applications/server/domain"
	"github.com/donmikel/rangeserve/applications/server/services"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	root := t.TempDir()
	uploads := filepath.Join(root, "uploads")
	require.NoError(t, os.Mkdir(uploads, 0o755))

	logger := log.NewNopLogger()
	svc := services.NewService(services.Options{
		Root: root,
		Upload: services.UploadOptions{
			Enabled: true,
			Dir:     uploads,
			MaxSize: 1 << 20,
		},
	}, services.Collaborators{
		FileMetaStorage: inmemory.NewFileMetaStorage(),
		Validators:      inmemory.NewValidatorCache(logger),
		Headers:         headers.NewEmitter(""),
		Sanitizer:       sanitizer.New(),
		Mimes:           mimetable.New(),
		Throttler:       services.NewThrottler(sysmem.NewProbe(0), 0.9, logger),
	}, logger)

	srv := httptest.NewServer(NewRouter(svc, 0, logger))
	t.Cleanup(srv.Close)

	return srv, root
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, body
}

func TestGetFileRange(t *testing.T) {
	srv, root := newTestServer(t)
	data := bytes.Repeat([]byte("0123456789"), 150)
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.bin"), data, 0o644))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/files/data.bin", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=500-999")

	resp, body := do(t, req)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 500-999/1500", resp.Header.Get("Content-Range"))
	assert.Equal(t, data[500:1000], body)

	req.Header.Set("Range", "bytes=100-50")
	resp, _ = do(t, req)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */1500", resp.Header.Get("Content-Range"))

	req.Header.Del("Range")
	req.Header.Set("If-None-Match", `"nope"`)
	resp, body = do(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, body)

	req.Header.Set("If-None-Match", resp.Header.Get("ETag"))
	resp, body = do(t, req)
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
	assert.Empty(t, body)
}

func TestGetFileStatuses(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.bin"), []byte("abc"), 0o644))

	resp, _ := do(t, mustRequest(t, http.MethodGet, srv.URL+"/files/missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req := mustRequest(t, http.MethodGet, srv.URL+"/files/missing", nil)
	req.Header.Set("Range", "bytes=0-1")
	resp, _ = do(t, req)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	resp, _ = do(t, mustRequest(t, http.MethodDelete, srv.URL+"/files/data.bin", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodGet, resp.Header.Get("Allow"))

	resp, _ = do(t, mustRequest(t, http.MethodGet, srv.URL+"/files/data.bin?speed=fast", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, mustRequest(t, http.MethodGet, srv.URL+"/files/data.bin?speed=1KB&download&name=x.bin", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("abc"), body)
	assert.Equal(t, "attachment; filename=x.bin", resp.Header.Get("Content-Disposition"))

	resp, _ = do(t, mustRequest(t, http.MethodGet, srv.URL+"/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func mustRequest(t *testing.T, method, url string, body io.Reader) *http.Request {
	t.Helper()

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)

	return req
}

func TestPutThenGet(t *testing.T) {
	srv, _ := newTestServer(t)
	data := []byte("uploaded through PUT\n")

	req := mustRequest(t, http.MethodPut, srv.URL+"/files", bytes.NewReader(data))
	req.Header.Set("Content-Disposition", `attachment; filename="notes.txt"`)
	resp, body := do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var desc domain.UploadedFileDescriptor
	require.NoError(t, json.Unmarshal(body, &desc))
	assert.Equal(t, "notes.txt", desc.UserName)
	assert.Equal(t, "text/plain", desc.MIME)

	resp, body = do(t, mustRequest(t, http.MethodGet, srv.URL+"/files/uploads/"+desc.ServerName, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, body)
	assert.Equal(t, "inline; filename=notes.txt", resp.Header.Get("Content-Disposition"))
	assert.Equal(t, `"`+desc.Hash+`"`, resp.Header.Get("ETag"))
}

// unsizedReader hides its length so the client falls back to chunked encoding.
type unsizedReader struct {
	io.Reader
}

func TestPutWithoutContentLength(t *testing.T) {
	srv, _ := newTestServer(t)

	req := mustRequest(t, http.MethodPut, srv.URL+"/files", unsizedReader{bytes.NewReader([]byte("abc"))})
	resp, _ := do(t, req)
	assert.Equal(t, http.StatusLengthRequired, resp.StatusCode)
}

func TestPostFiles(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	w, err := mw.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("posted\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := mustRequest(t, http.MethodPost, srv.URL+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, body := do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var files []domain.UploadedFileDescriptor
	require.NoError(t, json.Unmarshal(body, &files))
	require.Len(t, files, 1)
	assert.Equal(t, "file", files[0].Field)

	req = mustRequest(t, http.MethodPost, srv.URL+"/files", bytes.NewReader([]byte("x")))
	req.Header.Set("Content-Type", "text/plain")
	resp, _ = do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
