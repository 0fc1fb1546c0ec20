package server

import (
	"context"
	"net/http"

	"github.com/donmikel/rangeserve/applications/server/domain"
)

type FileService interface {
	Download(ctx context.Context, w http.ResponseWriter, req domain.DownloadRequest) (int64, error)
	Upload(ctx context.Context, req domain.UploadRequest) (domain.UploadedFileDescriptor, error)
	UploadBatch(ctx context.Context, req domain.BatchRequest) ([]domain.UploadedFileDescriptor, error)
}
