package interfaces

import (
	"context"
	"time"

	"github.com/donmikel/rangeserve/applications/server/domain"
)

// FileMetaStorage remembers what was stored for every finalized upload,
// keyed by the server-side file name.
type FileMetaStorage interface {
	SaveFileMeta(ctx context.Context, meta domain.UploadedFileDescriptor) error
	GetFileMeta(ctx context.Context, serverName string) (domain.UploadedFileDescriptor, error)
}

// ValidatorCache memoises content hashes so a resource is hashed once per
// (path, size, mtime) triple.
type ValidatorCache interface {
	Get(path string, size int64, modTime time.Time) (string, bool)
	Put(path string, size int64, modTime time.Time, hash string)
}
