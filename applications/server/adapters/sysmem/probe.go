package sysmem

import (
	"math"
	"runtime"
	"runtime/debug"

	"github.com/donmikel/rangeserve/applications/server/interfaces"
)

type probe struct {
	limit uint64
}

// NewProbe returns a probe reporting limit as the process memory ceiling.
// A zero limit falls back to the runtime soft memory limit (GOMEMLIMIT).
func NewProbe(limit uint64) interfaces.MemoryProbe {
	return &probe{limit: limit}
}

func (p *probe) Limit() uint64 {
	if p.limit > 0 {
		return p.limit
	}

	// A negative input only reads the current setting.
	l := debug.SetMemoryLimit(-1)
	if l <= 0 || l == math.MaxInt64 {
		return math.MaxUint64
	}

	return uint64(l)
}

// PeakUsage reports the memory obtained from the OS, which never shrinks and
// so tracks the high-water mark of the heap, stacks and runtime structures.
func (p *probe) PeakUsage() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return ms.Sys
}
