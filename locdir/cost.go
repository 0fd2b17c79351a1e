package locdir

import (
	"math"
	"time"
)

const (
	// DefaultReadLatency is the emulated cost of one persistent-memory read.
	DefaultReadLatency = 300 * time.Nanosecond
	// DefaultWriteLatency is the emulated cost of one persistent-memory write.
	DefaultWriteLatency = 100 * time.Nanosecond
)

// CostModel turns simulated media accesses into caller-visible cost. The
// directory counts accesses itself; a CostModel only decides how long the
// calling goroutine pays for them.
type CostModel interface {
	Wait(reads, writes uint64)
}

// LatencyModel blocks the caller for a fixed duration per access.
type LatencyModel struct {
	ReadLatency  time.Duration
	WriteLatency time.Duration
}

// Cost returns the delay charged for the given accesses.
func (m LatencyModel) Cost(reads, writes uint64) time.Duration {
	return time.Duration(reads)*m.ReadLatency + time.Duration(writes)*m.WriteLatency
}

func (m LatencyModel) Wait(reads, writes uint64) {
	if d := m.Cost(reads, writes); d > 0 {
		time.Sleep(d)
	}
}

// NoCost charges nothing. Tests use it to run without real delays.
type NoCost struct{}

func (NoCost) Wait(uint64, uint64) {}

// traversalReads estimates the memory reads of one root-to-leaf walk over a
// comparison tree holding size entries: floor(ln(size)).
func traversalReads(size uint64) uint64 {
	if size <= 1 {
		return 0
	}
	return uint64(math.Log(float64(size)))
}
