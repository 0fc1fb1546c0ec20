package interfaces

import (
	"net/http"
	"time"
)

// HeaderEmitter owns status-independent response headers and conditional
// request evaluation.
type HeaderEmitter interface {
	// Conditional returns 0 when the request must be served, or
	// http.StatusNotModified / http.StatusPreconditionFailed.
	Conditional(h http.Header, etag string, modTime time.Time) int
	Validators(w http.ResponseWriter, etag string, modTime time.Time)
	Disposition(w http.ResponseWriter, attachment bool, filename string)
	NotModified(w http.ResponseWriter, etag string, modTime time.Time)
}

type FilenameSanitizer interface {
	// Sanitize returns a safe on-disk name or "" when nothing usable remains.
	Sanitize(name string) string
}

type MimeResolver interface {
	ByExtension(ext string) (string, bool)
	Extension(mimeType string) (string, bool)
}

// MemoryProbe reports the numbers the default transfer rate is derived from.
type MemoryProbe interface {
	Limit() uint64
	PeakUsage() uint64
}
