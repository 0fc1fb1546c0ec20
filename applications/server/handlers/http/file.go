package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/donmikel/rangeserve/applications/server"
	"github.com/donmikel/rangeserve/applications/server/domain"
)

func NewRouter(svc server.FileService, defaultSpeed int64, logger log.Logger) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/files", PutFileHandler(svc, logger)).Methods(http.MethodPut)
	r.HandleFunc("/files", PostFilesHandler(svc, logger)).Methods(http.MethodPost)
	// Every method reaches the download handler so the service decides on 405.
	r.HandleFunc("/files/{path:.+}", GetFileHandler(svc, defaultSpeed, logger))
	return r
}

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func GetFileHandler(svc server.FileService, defaultSpeed int64, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		speed := defaultSpeed
		if v := q.Get("speed"); v != "" {
			n, err := humanize.ParseBytes(v)
			if err != nil {
				writeErr(w, fmt.Errorf("invalid speed: %w", err), http.StatusBadRequest)
				return
			}
			speed = int64(n)
		}

		req := domain.DownloadRequest{
			Method:     r.Method,
			Path:       mux.Vars(r)["path"],
			Range:      r.Header.Get("Range"),
			Header:     r.Header,
			MIME:       q.Get("mime"),
			Speed:      speed,
			Filename:   q.Get("name"),
			Attachment: q.Has("download"),
		}

		sw := &statusWriter{ResponseWriter: w}
		sent, err := svc.Download(r.Context(), sw, req)
		if err != nil {
			if sw.wroteHeader {
				// Headers are gone, the client sees a short body.
				level.Warn(logger).Log("msg", "download aborted",
					"path", req.Path,
					"sent", humanize.Bytes(uint64(sent)),
					"err", err,
				)
				return
			}

			if errors.Is(err, domain.ErrMethodNotAllowed) {
				w.Header().Set("Allow", http.MethodGet)
			}
			level.Info(logger).Log("msg", "download rejected",
				"path", req.Path,
				"err", err,
			)
			writeErr(w, err, domain.StatusCode(err))
			return
		}

		level.Debug(logger).Log("msg", "download finished",
			"path", req.Path,
			"status", sw.status,
			"sent", humanize.Bytes(uint64(sent)),
		)
	}
}

func PutFileHandler(svc server.FileService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := domain.UploadRequest{
			Method:             r.Method,
			ContentLength:      r.ContentLength,
			ContentType:        r.Header.Get("Content-Type"),
			ContentDisposition: r.Header.Get("Content-Disposition"),
			Body:               r.Body,
		}

		desc, err := svc.Upload(r.Context(), req)
		if err != nil {
			level.Error(logger).Log("msg", "Upload error",
				"err", err,
			)
			writeErr(w, err, domain.StatusCode(err))
			return
		}

		writeJSON(w, desc, logger)
	}
}

func PostFilesHandler(svc server.FileService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := domain.BatchRequest{
			ContentType: r.Header.Get("Content-Type"),
			Body:        r.Body,
		}

		files, err := svc.UploadBatch(r.Context(), req)
		if err != nil {
			level.Error(logger).Log("msg", "UploadBatch error",
				"err", err,
			)
			writeErr(w, err, domain.StatusCode(err))
			return
		}

		writeJSON(w, files, logger)
	}
}

// statusWriter remembers whether the status line was already sent.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, v interface{}, logger log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Error(logger).Log("msg", "can't write response", "err", err)
	}
}

func writeErr(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	_, err = w.Write([]byte(err.Error()))
	if err != nil {
		fmt.Println("can't write response ", err)
	}
}
