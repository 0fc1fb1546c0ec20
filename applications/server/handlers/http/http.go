package http

import (
	"net/http"
	"time"

	"github.com/go-kit/log"

	"github.com/donmikel/rangeserve/applications/server"
	"github.com/donmikel/rangeserve/applications/server/config"
)

const readHeaderTimeout = 10 * time.Second

func NewHTTPServer(conf config.Api, fileService server.FileService, defaultSpeed int64, logger log.Logger) *http.Server {
	mux := NewRouter(fileService, defaultSpeed, logger)
	return &http.Server{
		Addr:              conf.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
