package headers

import (
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/donmikel/rangeserve/applications/server/interfaces"
)

type emitter struct {
	cacheControl string
}

func NewEmitter(cacheControl string) interfaces.HeaderEmitter {
	return &emitter{cacheControl: cacheControl}
}

func quote(etag string) string {
	return `"` + etag + `"`
}

// Conditional follows the evaluation order of RFC 7232 section 6.
func (e *emitter) Conditional(h http.Header, etag string, modTime time.Time) int {
	if im := h.Get("If-Match"); im != "" {
		if !matchETag(im, etag, false) {
			return http.StatusPreconditionFailed
		}
	} else if ius := h.Get("If-Unmodified-Since"); ius != "" {
		if t, err := http.ParseTime(ius); err == nil && modTime.Truncate(time.Second).After(t) {
			return http.StatusPreconditionFailed
		}
	}

	if inm := h.Get("If-None-Match"); inm != "" {
		if matchETag(inm, etag, true) {
			return http.StatusNotModified
		}
		return 0
	}

	if ims := h.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !modTime.Truncate(time.Second).After(t) {
			return http.StatusNotModified
		}
	}

	return 0
}

func (e *emitter) Validators(w http.ResponseWriter, etag string, modTime time.Time) {
	w.Header().Set("ETag", quote(etag))
	if !modTime.IsZero() {
		w.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	}
	if e.cacheControl != "" {
		w.Header().Set("Cache-Control", e.cacheControl)
	}
}

func (e *emitter) Disposition(w http.ResponseWriter, attachment bool, filename string) {
	kind := "inline"
	if attachment {
		kind = "attachment"
	}

	if filename == "" {
		w.Header().Set("Content-Disposition", kind)
		return
	}

	v := mime.FormatMediaType(kind, map[string]string{"filename": filename})
	if v == "" {
		v = kind
	}
	w.Header().Set("Content-Disposition", v)
}

func (e *emitter) NotModified(w http.ResponseWriter, etag string, modTime time.Time) {
	h := w.Header()
	h.Del("Content-Type")
	h.Del("Content-Length")
	e.Validators(w, etag, modTime)
	w.WriteHeader(http.StatusNotModified)
}

// matchETag checks a comma separated If-Match / If-None-Match list. Weak
// comparison strips the W/ prefix.
func matchETag(list, etag string, weak bool) bool {
	for _, candidate := range strings.Split(list, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.HasPrefix(candidate, "W/") {
			if !weak {
				continue
			}
			candidate = candidate[2:]
		}
		if candidate == quote(etag) || candidate == etag {
			return true
		}
	}

	return false
}
