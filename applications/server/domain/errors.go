package domain

import (
	"errors"
	"net/http"
)

var (
	ErrMethodNotAllowed     = errors.New("method not allowed")
	ErrNotFound             = errors.New("resource not found")
	ErrGone                 = errors.New("resource gone")
	ErrUnreadable           = errors.New("resource is not readable")
	ErrPreconditionFailed   = errors.New("precondition failed")
	ErrRangeUnsatisfiable   = errors.New("range not satisfiable")
	ErrRangeTooLarge        = errors.New("too many ranges")
	ErrLengthRequired       = errors.New("content length required")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrUnsupportedMediaType = errors.New("media type not allowed")
	ErrBadRequest           = errors.New("malformed request body")
	ErrNoFiles              = errors.New("no files in request")
	ErrUploadsDisabled      = errors.New("uploads are disabled")
	ErrNoDestination        = errors.New("no destination for field")
	ErrNoCapacity           = errors.New("no upload capacity configured")
	ErrBadDestination       = errors.New("destination is not a writable directory")
	ErrIncomplete           = errors.New("upload incomplete")
	ErrUnclassified         = errors.New("unclassified upload error")
)

// StatusCode maps an error returned by the services onto the HTTP status the
// handler layer must terminate the response with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrGone):
		return http.StatusGone
	case errors.Is(err, ErrUnreadable):
		return http.StatusConflict
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrRangeUnsatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, ErrRangeTooLarge), errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrLengthRequired):
		return http.StatusLengthRequired
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrNoFiles):
		return http.StatusBadRequest
	case errors.Is(err, ErrUploadsDisabled), errors.Is(err, ErrNoDestination):
		return http.StatusNotImplemented
	case errors.Is(err, ErrNoCapacity):
		return http.StatusInsufficientStorage
	case errors.Is(err, ErrUnclassified):
		return http.StatusTeapot
	default:
		return http.StatusInternalServerError
	}
}
