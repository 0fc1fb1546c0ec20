package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/rangeserve/applications/server/interfaces"
)

const (
	defaultTick           = time.Second
	defaultSafetyFraction = 0.9
	minChunkSizeInBytes   = 64 * 1024 // 64 kB
	pipeBufferSize        = 32 * 1024
)

// Throttler copies bytes at a bounded rate: it writes at most speed bytes per
// tick and then sleeps until the next tick. Peer liveness is probed through
// the context once per iteration.
type Throttler struct {
	probe  interfaces.MemoryProbe
	safety float64
	tick   time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
	logger log.Logger
}

func NewThrottler(probe interfaces.MemoryProbe, safetyFraction float64, logger log.Logger) *Throttler {
	if safetyFraction <= 0 || safetyFraction > 1 {
		safetyFraction = defaultSafetyFraction
	}

	return &Throttler{
		probe:  probe,
		safety: safetyFraction,
		tick:   defaultTick,
		sleep:  sleepContext,
		logger: logger,
	}
}

// DefaultSpeed is the byte ceiling of one iteration when the caller did not
// ask for a rate: a safety fraction of the memory still available below the
// process limit.
func (t *Throttler) DefaultSpeed() int64 {
	limit, peak := t.probe.Limit(), t.probe.PeakUsage()
	if limit <= peak {
		return minChunkSizeInBytes
	}

	available := float64(limit-peak) * t.safety
	if available >= math.MaxInt64 {
		return math.MaxInt64
	}
	if available < minChunkSizeInBytes {
		return minChunkSizeInBytes
	}

	return int64(available)
}

// EffectiveSpeed caps a requested rate at the length being sent. A result of
// zero means unthrottled.
func (t *Throttler) EffectiveSpeed(requested, length int64) int64 {
	if requested <= 0 {
		return 0
	}
	if length > 0 && requested > length {
		return length
	}

	return requested
}

// Copy sends n bytes of src starting at offset to dst. With speed <= 0 the
// chunk size is DefaultSpeed and no pacing happens. Otherwise every chunk of
// exactly speed bytes is followed by one tick, so n bytes take at least
// floor(n/speed) ticks. That includes the tick after a final full chunk: a
// transfer of exactly speed bytes takes one tick. The returned count covers
// everything written before a failure.
func (t *Throttler) Copy(ctx context.Context, dst io.Writer, src io.ReaderAt, offset, n, speed int64) (int64, error) {
	paced := speed > 0
	if speed <= 0 {
		speed = t.DefaultSpeed()
	}

	var copied int64
	for copied < n {
		if err := ctx.Err(); err != nil {
			level.Debug(t.logger).Log("msg", "peer gone, transfer aborted",
				"sent", humanize.Bytes(uint64(copied)),
				"err", err,
			)
			return copied, fmt.Errorf("peer gone after %d bytes: %w", copied, err)
		}

		chunk := min(speed, n-copied)
		written, err := io.CopyN(dst, io.NewSectionReader(src, offset+copied, chunk), chunk)
		copied += written
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return copied, fmt.Errorf("can't copy chunk at offset %d: %w", offset+copied, err)
		}

		if f, ok := dst.(http.Flusher); ok {
			f.Flush()
		}

		if paced && chunk == speed {
			if err = t.sleep(ctx, t.tick); err != nil {
				return copied, fmt.Errorf("peer gone after %d bytes: %w", copied, err)
			}
		}
	}

	return copied, nil
}

// Pipe is the unthrottled copy primitive: exactly n bytes from src to dst,
// checking the context between buffers. A source that ends early yields
// io.ErrUnexpectedEOF together with the bytes already written.
func (t *Throttler) Pipe(ctx context.Context, dst io.Writer, src io.Reader, n int64) (int64, error) {
	var copied int64
	for copied < n {
		if err := ctx.Err(); err != nil {
			return copied, fmt.Errorf("peer gone after %d bytes: %w", copied, err)
		}

		written, err := io.CopyN(dst, src, min(pipeBufferSize, n-copied))
		copied += written
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return copied, fmt.Errorf("can't copy stream after %d bytes: %w", copied, err)
		}
	}

	return copied, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
