package inmemory

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/rangeserve/applications/server/interfaces"
)

const defaultMaxEntries = 4096

type validatorKey struct {
	path    string
	size    int64
	modTime int64
}

type validatorCache struct {
	hashes     map[validatorKey]string
	maxEntries int
	log        log.Logger
	mutex      sync.RWMutex
}

func NewValidatorCache(logger log.Logger) interfaces.ValidatorCache {
	return &validatorCache{
		hashes:     map[validatorKey]string{},
		maxEntries: defaultMaxEntries,
		log:        logger,
	}
}

func (c *validatorCache) Get(path string, size int64, modTime time.Time) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	h, ok := c.hashes[validatorKey{path: path, size: size, modTime: modTime.UnixNano()}]

	return h, ok
}

func (c *validatorCache) Put(path string, size int64, modTime time.Time, hash string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// Stale entries of a rewritten file are never looked up again, so a full
	// reset is enough to bound memory.
	if len(c.hashes) >= c.maxEntries {
		c.hashes = map[validatorKey]string{}
	}

	c.hashes[validatorKey{path: path, size: size, modTime: modTime.UnixNano()}] = hash

	level.Debug(c.log).Log("msg", "validator cached",
		"path", path,
		"size", humanize.Bytes(uint64(size)),
		"etag", hash,
	)
}
