package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-kit/log/level"

	"github.com/donmikel/rangeserve/applications/server/domain"
)

const defaultMIME = "application/octet-stream"

func (s *service) Download(ctx context.Context, w http.ResponseWriter, req domain.DownloadRequest) (int64, error) {
	if req.Method != http.MethodGet {
		return 0, fmt.Errorf("%w: %s", domain.ErrMethodNotAllowed, req.Method)
	}

	path := s.resolvePath(req.Path)
	if s.inStaging(path) {
		return 0, fmt.Errorf("%w: %s", domain.ErrNotFound, req.Path)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// A Range header means the client already knew this resource.
			if req.Range != "" {
				return 0, fmt.Errorf("%w: %s", domain.ErrGone, req.Path)
			}
			return 0, fmt.Errorf("%w: %s", domain.ErrNotFound, req.Path)
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrUnreadable, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: can't open %s: %v", domain.ErrUnreadable, req.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("can't stat %s: %w", req.Path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s is not a regular file", domain.ErrUnreadable, req.Path)
	}

	etag, err := s.contentHash(f, path, info)
	if err != nil {
		return 0, err
	}

	switch s.headers.Conditional(req.Header, etag, info.ModTime()) {
	case http.StatusNotModified:
		s.headers.NotModified(w, etag, info.ModTime())
		return 0, nil
	case http.StatusPreconditionFailed:
		return 0, fmt.Errorf("%w: %s", domain.ErrPreconditionFailed, req.Path)
	}

	meta, _ := s.fileMetaStorage.GetFileMeta(ctx, filepath.Base(path))

	plan := domain.TransferPlan{
		Resource: f,
		Size:     uint64(info.Size()),
		MIME:     s.resolveMIME(req.MIME, meta.MIME, path),
		Boundary: etag,
	}

	rangeSpec := req.Range
	if ir := req.Header.Get("If-Range"); ir != "" && !ifRangeMatches(ir, etag, info.ModTime().UTC().Format(http.TimeFormat)) {
		rangeSpec = ""
	}

	plan.Ranges, err = ParseRange(rangeSpec, plan.Size, s.opts.MaxRanges)
	if err != nil {
		if errors.Is(err, domain.ErrRangeUnsatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", plan.Size))
		}
		return 0, err
	}

	filename := req.Filename
	if filename == "" {
		filename = meta.UserName
	}
	if filename == "" {
		filename = filepath.Base(path)
	}

	w.Header().Set("Accept-Ranges", "bytes")
	s.headers.Validators(w, etag, info.ModTime())
	s.headers.Disposition(w, req.Attachment, filename)

	var sent int64
	switch len(plan.Ranges) {
	case 0:
		sent, err = s.sendWhole(ctx, w, plan, req.Speed)
	case 1:
		sent, err = s.sendRange(ctx, w, plan, req.Speed)
	default:
		sent, err = s.sendMultipart(ctx, w, plan, req.Speed)
	}
	if err != nil {
		level.Warn(s.logger).Log("msg", "transfer interrupted",
			"path", req.Path,
			"sent", sent,
			"err", err,
		)
		return sent, err
	}

	return sent, nil
}

func (s *service) sendWhole(ctx context.Context, w http.ResponseWriter, plan domain.TransferPlan, speed int64) (int64, error) {
	size := int64(plan.Size)

	w.Header().Set("Content-Type", plan.MIME)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	return s.throttler.Copy(ctx, w, plan.Resource, 0, size, s.throttler.EffectiveSpeed(speed, size))
}

func (s *service) sendRange(ctx context.Context, w http.ResponseWriter, plan domain.TransferPlan, speed int64) (int64, error) {
	r := plan.Ranges[0]
	length := int64(r.Length())

	w.Header().Set("Content-Type", plan.MIME)
	w.Header().Set("Content-Range", contentRange(r, plan.Size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)

	return s.throttler.Copy(ctx, w, plan.Resource, int64(r.Start), length, s.throttler.EffectiveSpeed(speed, length))
}

func (s *service) sendMultipart(ctx context.Context, w http.ResponseWriter, plan domain.TransferPlan, speed int64) (int64, error) {
	length, err := multipartSize(plan)
	if err != nil {
		return 0, err
	}

	w.Header().Set("Content-Type", "multipart/byteranges; boundary="+plan.Boundary)
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)

	mw := multipart.NewWriter(w)
	if err = mw.SetBoundary(plan.Boundary); err != nil {
		return 0, fmt.Errorf("can't set boundary: %w", err)
	}

	flusher, _ := w.(http.Flusher)

	var sent int64
	for _, r := range plan.Ranges {
		part, err := mw.CreatePart(partHeader(r, plan))
		if err != nil {
			return sent, fmt.Errorf("can't write part header: %w", err)
		}

		partLen := int64(r.Length())
		n, err := s.throttler.Copy(ctx, flushWriter{Writer: part, flusher: flusher}, plan.Resource,
			int64(r.Start), partLen, s.throttler.EffectiveSpeed(speed, partLen))
		sent += n
		if err != nil {
			return sent, err
		}
	}

	if err = mw.Close(); err != nil {
		return sent, fmt.Errorf("can't close multipart body: %w", err)
	}

	return sent, nil
}

// multipartSize replays the envelope into a counting writer so the exact
// body length is known before the first byte is sent.
func multipartSize(plan domain.TransferPlan) (int64, error) {
	var cw countingWriter
	mw := multipart.NewWriter(&cw)
	if err := mw.SetBoundary(plan.Boundary); err != nil {
		return 0, fmt.Errorf("can't set boundary: %w", err)
	}

	for _, r := range plan.Ranges {
		if _, err := mw.CreatePart(partHeader(r, plan)); err != nil {
			return 0, err
		}
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	return int64(cw) + int64(plan.Ranges.Total()), nil
}

type countingWriter int64

func (w *countingWriter) Write(p []byte) (int, error) {
	*w += countingWriter(len(p))
	return len(p), nil
}

type flushWriter struct {
	io.Writer
	flusher http.Flusher
}

func (f flushWriter) Flush() {
	if f.flusher != nil {
		f.flusher.Flush()
	}
}

func partHeader(r domain.ByteRange, plan domain.TransferPlan) textproto.MIMEHeader {
	return textproto.MIMEHeader{
		"Content-Type":  {plan.MIME},
		"Content-Range": {contentRange(r, plan.Size)},
	}
}

func contentRange(r domain.ByteRange, size uint64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

func (s *service) resolvePath(name string) string {
	// Cleaning a rooted path drops every leading "..".
	return filepath.Join(s.opts.Root, filepath.Clean("/"+filepath.FromSlash(name)))
}

// inStaging reports whether path is the staging directory or lies below it.
// Staging files belong to their upload session until finalized.
func (s *service) inStaging(path string) bool {
	staging, err := filepath.Abs(s.stagingRoot())
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(staging, abs)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveMIME prefers a syntactically valid caller MIME, then the type
// recorded at upload time, then the extension table.
func (s *service) resolveMIME(requested, stored, path string) string {
	for _, m := range []string{requested, stored} {
		if m == "" {
			continue
		}
		if _, _, err := mime.ParseMediaType(m); err == nil {
			return m
		}
	}

	if m, ok := s.mimes.ByExtension(filepath.Ext(path)); ok {
		return m
	}

	return defaultMIME
}

func (s *service) contentHash(f *os.File, path string, info os.FileInfo) (string, error) {
	if h, ok := s.validators.Get(path, info.Size(), info.ModTime()); ok {
		return h, nil
	}

	h, _, err := hashReader(io.NewSectionReader(f, 0, info.Size()))
	if err != nil {
		return "", fmt.Errorf("can't hash %s: %w", path, err)
	}

	s.validators.Put(path, info.Size(), info.ModTime(), h)

	return h, nil
}

func hashReader(r io.Reader) (string, int64, error) {
	hasher := sha256.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return "", n, err
	}

	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

func ifRangeMatches(value, etag, lastModified string) bool {
	return value == `"`+etag+`"` || value == lastModified
}
