package services

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/rangeserve/applications/server/adapters/headers"
	"github.com/donmikel/rangeserve/applications/server/adapters/inmemory"
	"github.com/donmikel/rangeserve/applications/server/adapters/mimetable"
	"github.com/donmikel/rangeserve/applications/server/adapters/sanitizer"
)

type fakeProbe struct {
	limit uint64
	peak  uint64
}

func (p fakeProbe) Limit() uint64     { return p.limit }
func (p fakeProbe) PeakUsage() uint64 { return p.peak }

// sleepRecorder replaces the pacing sleep so tests never wait.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sleeps = append(r.sleeps, d)

	return ctx.Err()
}

func (r *sleepRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sleeps)
}

func newTestThrottler() (*Throttler, *sleepRecorder) {
	rec := &sleepRecorder{}
	t := NewThrottler(fakeProbe{limit: math.MaxUint64}, 0, log.NewNopLogger())
	t.sleep = rec.sleep

	return t, rec
}

// recordSleeps swaps the pacing sleep of svc for a recorder.
func recordSleeps(svc *service) *sleepRecorder {
	rec := &sleepRecorder{}
	svc.throttler.sleep = rec.sleep

	return rec
}

func newTestService(t *testing.T, mutate func(*Options)) *service {
	t.Helper()

	root := t.TempDir()
	uploads := filepath.Join(root, "uploads")
	require.NoError(t, os.Mkdir(uploads, 0o755))

	opts := Options{
		Root: root,
		Upload: UploadOptions{
			Enabled: true,
			Dir:     uploads,
			MaxSize: 1 << 20,
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	logger := log.NewNopLogger()
	throttler, _ := newTestThrottler()

	svc := NewService(opts, Collaborators{
		FileMetaStorage: inmemory.NewFileMetaStorage(),
		Validators:      inmemory.NewValidatorCache(logger),
		Headers:         headers.NewEmitter(""),
		Sanitizer:       sanitizer.New(),
		Mimes:           mimetable.New(),
		Throttler:       throttler,
	}, logger)

	return svc.(*service)
}

// pattern returns n deterministic, non-repeating-looking bytes.
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*31 + i/251) % 256)
	}

	return b
}
