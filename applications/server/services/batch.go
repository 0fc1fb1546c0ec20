package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/donmikel/rangeserve/applications/server/domain"
)

// UploadBatch stores every file part of a multipart/form-data body. Whole
// files arrive in one body, so there is no offset recovery here.
func (s *service) UploadBatch(ctx context.Context, req domain.BatchRequest) ([]domain.UploadedFileDescriptor, error) {
	if err := s.checkCapacity(); err != nil {
		return nil, err
	}

	mediaType, params, err := mime.ParseMediaType(req.ContentType)
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		return nil, fmt.Errorf("%w: content type %q", domain.ErrBadRequest, req.ContentType)
	}

	mr := multipart.NewReader(req.Body, params["boundary"])

	var (
		stored    []domain.UploadedFileDescriptor
		attempted int
		lastErr   error
	)
	for {
		part, err := mr.NextPart()
		// A truncated body is reported as a wrapped io.EOF.
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
		}

		if part.FileName() == "" {
			part.Close()
			continue
		}

		attempted++
		desc, err := s.storePart(ctx, part)
		part.Close()
		if err != nil {
			err = classify(err)
			if s.opts.Upload.Intolerant {
				return nil, err
			}

			level.Warn(s.logger).Log("msg", "file skipped",
				"field", part.FormName(),
				"file", part.FileName(),
				"err", err,
			)
			lastErr = err
			continue
		}

		stored = append(stored, desc)
	}

	if attempted == 0 {
		return nil, domain.ErrNoFiles
	}
	if len(stored) == 0 {
		return nil, lastErr
	}

	return stored, nil
}

func (s *service) storePart(ctx context.Context, part *multipart.Part) (domain.UploadedFileDescriptor, error) {
	field := part.FormName()

	dest, err := s.destinationFor(field)
	if err != nil {
		return domain.UploadedFileDescriptor{}, err
	}
	if err = checkDestination(dest); err != nil {
		return domain.UploadedFileDescriptor{}, err
	}

	dir, err := s.stagingDir()
	if err != nil {
		return domain.UploadedFileDescriptor{}, err
	}

	session := domain.UploadSession{StagingPath: filepath.Join(dir, uuid.NewString())}

	f, err := os.OpenFile(session.StagingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return domain.UploadedFileDescriptor{}, fmt.Errorf("can't create staging file: %w", err)
	}

	limit := min(s.opts.Upload.MaxSize, math.MaxInt64-1)
	n, copyErr := io.Copy(f, io.LimitReader(part, int64(limit)+1))
	closeErr := f.Close()

	var failure error
	switch {
	case copyErr != nil:
		failure = fmt.Errorf("%w: %v", domain.ErrIncomplete, copyErr)
	case closeErr != nil:
		failure = fmt.Errorf("can't close staging file: %w", closeErr)
	case uint64(n) > limit:
		failure = fmt.Errorf("%w: file exceeds %s", domain.ErrPayloadTooLarge, humanize.Bytes(limit))
	case n == 0:
		failure = fmt.Errorf("%w: empty file part %q", domain.ErrNoFiles, field)
	}
	if failure != nil {
		os.Remove(session.StagingPath)
		return domain.UploadedFileDescriptor{}, failure
	}

	session.ExpectedSize = uint64(n)
	session.CurrentOffset = uint64(n)

	return s.finalize(ctx, session, part.Header.Get("Content-Type"), s.sanitizer.Sanitize(part.FileName()), field, dest)
}

// destinationFor maps a form field to its directory. Without a mapping every
// field goes to the default upload directory.
func (s *service) destinationFor(field string) (string, error) {
	if len(s.opts.Upload.Destinations) == 0 {
		return s.opts.Upload.Dir, nil
	}

	dir, ok := s.opts.Upload.Destinations[field]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrNoDestination, field)
	}

	return dir, nil
}

// classify turns errors without a dedicated status into ErrUnclassified.
func classify(err error) error {
	if domain.StatusCode(err) != http.StatusInternalServerError ||
		errors.Is(err, domain.ErrIncomplete) ||
		errors.Is(err, domain.ErrBadDestination) {
		return err
	}

	return fmt.Errorf("%w: %v", domain.ErrUnclassified, err)
}
