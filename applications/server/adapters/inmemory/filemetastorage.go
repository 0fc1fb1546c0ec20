package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/donmikel/rangeserve/applications/server/domain"
	"github.com/donmikel/rangeserve/applications/server/interfaces"
)

type inMemoryFileMetaStorage struct {
	metaData map[string]domain.UploadedFileDescriptor
	mutex    sync.RWMutex
}

func NewFileMetaStorage() interfaces.FileMetaStorage {
	return &inMemoryFileMetaStorage{
		metaData: map[string]domain.UploadedFileDescriptor{},
	}
}

func (i *inMemoryFileMetaStorage) SaveFileMeta(ctx context.Context, meta domain.UploadedFileDescriptor) error {
	if meta.ServerName == "" {
		return fmt.Errorf("file meta without server name")
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	i.metaData[meta.ServerName] = meta

	return nil
}

func (i *inMemoryFileMetaStorage) GetFileMeta(ctx context.Context, serverName string) (domain.UploadedFileDescriptor, error) {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	m, ok := i.metaData[serverName]
	if !ok {
		return domain.UploadedFileDescriptor{}, fmt.Errorf("file with name = %s not found", serverName)
	}

	return m, nil
}
