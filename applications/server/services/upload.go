package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/donmikel/rangeserve/applications/server/domain"
)

const stagingDirName = ".staging"

func (s *service) Upload(ctx context.Context, req domain.UploadRequest) (domain.UploadedFileDescriptor, error) {
	if req.Method != http.MethodPut {
		return domain.UploadedFileDescriptor{}, fmt.Errorf("%w: %s", domain.ErrMethodNotAllowed, req.Method)
	}

	if err := s.checkCapacity(); err != nil {
		return domain.UploadedFileDescriptor{}, err
	}

	if req.ContentLength <= 0 {
		return domain.UploadedFileDescriptor{}, domain.ErrLengthRequired
	}

	expected := uint64(req.ContentLength)
	if expected > s.opts.Upload.MaxSize {
		return domain.UploadedFileDescriptor{}, fmt.Errorf("%w: %s exceeds %s", domain.ErrPayloadTooLarge,
			humanize.Bytes(expected), humanize.Bytes(s.opts.Upload.MaxSize))
	}

	dest := s.opts.Upload.Dir
	if err := checkDestination(dest); err != nil {
		return domain.UploadedFileDescriptor{}, err
	}

	userName := s.filenameFromDisposition(req.ContentDisposition)

	session, err := s.openSession(userName, expected)
	if err != nil {
		return domain.UploadedFileDescriptor{}, err
	}

	level.Debug(s.logger).Log("msg", "upload session opened",
		"staging", session.StagingPath,
		"resumable", session.Resumable,
		"offset", session.CurrentOffset,
		"size", humanize.Bytes(session.ExpectedSize),
	)

	if err = s.receive(ctx, &session, req.Body); err != nil {
		return domain.UploadedFileDescriptor{}, err
	}

	return s.finalize(ctx, session, req.ContentType, userName, "", dest)
}

func (s *service) checkCapacity() error {
	if !s.opts.Upload.Enabled {
		return domain.ErrUploadsDisabled
	}
	if s.opts.Upload.MaxSize == 0 {
		return domain.ErrNoCapacity
	}

	return nil
}

func (s *service) stagingRoot() string {
	if s.opts.Upload.StagingDir != "" {
		return s.opts.Upload.StagingDir
	}

	return filepath.Join(s.opts.Upload.Dir, stagingDirName)
}

func (s *service) stagingDir() (string, error) {
	dir := s.stagingRoot()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("can't create staging dir: %w", err)
	}

	return dir, nil
}

// filenameFromDisposition prefers filename* (RFC 5987) over filename; the
// mime package decodes the extended form into the "filename" parameter.
func (s *service) filenameFromDisposition(cd string) string {
	if cd == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}

	return s.sanitizer.Sanitize(params["filename"])
}

// openSession keys resumable uploads by the client file name so a later
// request can find the bytes an interrupted one left behind.
func (s *service) openSession(userName string, expected uint64) (domain.UploadSession, error) {
	dir, err := s.stagingDir()
	if err != nil {
		return domain.UploadSession{}, err
	}

	session := domain.UploadSession{ExpectedSize: expected}
	if userName == "" {
		session.StagingPath = filepath.Join(dir, uuid.NewString())
		return session, nil
	}

	session.Resumable = true
	session.StagingPath = filepath.Join(dir, userName)

	info, err := os.Stat(session.StagingPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return domain.UploadSession{}, fmt.Errorf("can't stat staging file: %w", err)
	case !info.Mode().IsRegular():
		return domain.UploadSession{}, fmt.Errorf("%w: staging path %s is not a file", domain.ErrBadDestination, userName)
	case uint64(info.Size()) <= expected:
		session.CurrentOffset = uint64(info.Size())
	default:
		// Leftover of a different, larger file under the same name.
		level.Info(s.logger).Log("msg", "stale staging file restarted",
			"staging", session.StagingPath,
			"size", humanize.Bytes(uint64(info.Size())),
		)
	}

	return session, nil
}

// receive appends the missing tail of the body to the staging file. The
// client always resends from byte zero, so the part already on disk is read
// and discarded first.
func (s *service) receive(ctx context.Context, session *domain.UploadSession, body io.Reader) error {
	if session.Remaining() == 0 {
		return nil
	}

	if session.CurrentOffset > 0 {
		skipped, err := s.throttler.Pipe(ctx, io.Discard, body, int64(session.CurrentOffset))
		if err != nil {
			return fmt.Errorf("%w: body ended after %d of %d stored bytes: %v", domain.ErrIncomplete,
				skipped, session.CurrentOffset, err)
		}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if session.CurrentOffset == 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	f, err := os.OpenFile(session.StagingPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("can't open staging file: %w", err)
	}

	written, copyErr := s.throttler.Pipe(ctx, f, body, int64(session.Remaining()))
	closeErr := f.Close()
	session.CurrentOffset += uint64(written)

	if copyErr == nil && closeErr == nil && session.Remaining() == 0 {
		return nil
	}

	if !session.Resumable {
		if err = os.Remove(session.StagingPath); err != nil {
			level.Error(s.logger).Log("msg", "can't remove staging file", "err", err)
		}
	}

	if copyErr == nil {
		copyErr = closeErr
	}

	return fmt.Errorf("%w: %d of %d bytes stored: %v", domain.ErrIncomplete,
		session.CurrentOffset, session.ExpectedSize, copyErr)
}

// finalize moves a complete staging file to its content-addressed name.
func (s *service) finalize(ctx context.Context, session domain.UploadSession, declaredType, userName, field, dest string) (domain.UploadedFileDescriptor, error) {
	discard := func() {
		if err := os.Remove(session.StagingPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			level.Error(s.logger).Log("msg", "can't remove staging file", "err", err)
		}
	}

	mimeType := detectMIME(session.StagingPath, declaredType)
	if !s.mimeAllowed(mimeType) {
		discard()
		return domain.UploadedFileDescriptor{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedMediaType, mimeType)
	}

	f, err := os.Open(session.StagingPath)
	if err != nil {
		if !session.Resumable {
			discard()
		}
		return domain.UploadedFileDescriptor{}, fmt.Errorf("can't open staging file: %w", err)
	}
	hash, size, err := hashReader(f)
	f.Close()
	if err != nil {
		if !session.Resumable {
			discard()
		}
		return domain.UploadedFileDescriptor{}, fmt.Errorf("can't hash staging file: %w", err)
	}

	name := hash
	if ext := s.extensionFor(mimeType, userName); ext != "" {
		name += "." + ext
	}
	if s.opts.Upload.PreserveNames && userName != "" {
		name = userName
		if !s.opts.Upload.Overwrite {
			name = uniqueName(dest, name)
		}
	}

	final := filepath.Join(dest, name)
	if err = os.Rename(session.StagingPath, final); err != nil {
		if !session.Resumable {
			discard()
		}
		return domain.UploadedFileDescriptor{}, fmt.Errorf("can't move upload into place: %w", err)
	}

	desc := domain.UploadedFileDescriptor{
		ServerName: name,
		ServerPath: final,
		UserName:   userName,
		Size:       uint64(size),
		MIME:       mimeType,
		Hash:       hash,
		Field:      field,
	}

	if err = s.fileMetaStorage.SaveFileMeta(ctx, desc); err != nil {
		level.Error(s.logger).Log("msg", "can't save file meta", "err", err)
	}

	level.Info(s.logger).Log("msg", "file stored",
		"name", desc.ServerName,
		"user_name", desc.UserName,
		"mime", desc.MIME,
		"size", humanize.Bytes(desc.Size),
	)

	return desc, nil
}

// detectMIME sniffs the content and falls back to the declared type when the
// sniffer only recognises generic binary data.
func detectMIME(path, declared string) string {
	detected := defaultMIME
	if mt, err := mimetype.DetectFile(path); err == nil {
		detected = mt.String()
	}

	if mediaType, _, err := mime.ParseMediaType(detected); err == nil {
		detected = mediaType
	}

	if detected == defaultMIME && declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			return mediaType
		}
	}

	return detected
}

// mimeAllowed accepts exact types and "type/*" wildcards. An empty list
// allows everything.
func (s *service) mimeAllowed(mimeType string) bool {
	if len(s.opts.Upload.AllowedMIME) == 0 {
		return true
	}

	for _, allowed := range s.opts.Upload.AllowedMIME {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == mimeType {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(mimeType, prefix+"/") {
			return true
		}
	}

	return false
}

func (s *service) extensionFor(mimeType, userName string) string {
	if ext, ok := s.mimes.Extension(mimeType); ok {
		return ext
	}

	return strings.ToLower(strings.TrimPrefix(filepath.Ext(userName), "."))
}

func checkDestination(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: no directory configured", domain.ErrBadDestination)
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", domain.ErrBadDestination, dir)
	}

	if err = unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrBadDestination, dir, err)
	}

	return nil
}

// uniqueName appends _1, _2, ... before the extension until the name is free.
func uniqueName(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); errors.Is(err, fs.ErrNotExist) {
		return name
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for num := 1; ; num++ {
		candidate := fmt.Sprintf("%s_%d%s", base, num, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}
