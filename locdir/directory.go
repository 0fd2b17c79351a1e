// Package locdir maps key ranges of on-disk data blocks to the location of
// those blocks so reads can go straight to the candidate blocks.
//
// Ranges are kept in an interval tree keyed on the first KeyPrefixLen bytes
// of each bound. Every index operation is also counted as a number of
// simulated persistent-memory accesses and charged to a CostModel, which by
// default blocks the caller for the emulated media latency.
//
// A Directory performs no locking of its own. Callers that share one
// between goroutines, or that need several calls to appear atomic, hold the
// directory's guard with Lock and Unlock.
package locdir

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AmrMurad1/nvmstore/intervaltree"
	"github.com/AmrMurad1/nvmstore/shared"
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// KeyPrefixLen is the number of leading key bytes the directory compares.
const KeyPrefixLen = 16

// ErrUnlockWithoutLock is the panic value raised by Unlock when the guard is
// not held.
var ErrUnlockWithoutLock = errors.New("locdir: unlock of unlocked directory")

// Location identifies a data block: the file that owns it and the byte
// span inside that file.
type Location struct {
	FileID uint64
	Offset uint64
	Size   uint64
}

func (l Location) String() string {
	return fmt.Sprintf("%d,%d,%d", l.FileID, l.Offset, l.Size)
}

// Range is one indexed key range with its block location.
type Range struct {
	Low  shared.Key
	High shared.Key
	Location
}

// FilterSource answers whether a file's existence filter may contain key.
// A file without a registered filter must report false.
type FilterSource interface {
	Contains(fileID uint64, key shared.Key) bool
}

// Stats is a snapshot of the directory's bookkeeping.
type Stats struct {
	Size           uint64
	Files          uint64
	MemReads       uint64
	MemWrites      uint64
	OverlapQueries uint64
}

type Directory struct {
	mu   sync.Mutex
	held atomic.Bool

	intervals  *intervaltree.Tree[Location]
	knownFiles *roaring64.Bitmap

	size           uint64
	memReads       uint64
	memWrites      uint64
	overlapQueries uint64

	cost              CostModel
	filters           FilterSource
	overlapAccounting bool
	logger            *slog.Logger
}

// New returns an empty directory.
func New(optFns ...Option) *Directory {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Directory{
		intervals:         intervaltree.New[Location](),
		knownFiles:        roaring64.New(),
		cost:              opts.cost,
		filters:           opts.filters,
		overlapAccounting: opts.overlapAccounting,
		logger:            opts.logger,
	}
}

// TruncateKey cuts k to the directory's comparison prefix. Shorter keys are
// returned unchanged.
func TruncateKey(k shared.Key) shared.Key {
	if len(k) > KeyPrefixLen {
		return k[:KeyPrefixLen]
	}
	return k
}

// AddInterval indexes the block at loc as holding keys in [start, end].
// The caller is charged one tree descent of reads plus one write.
func (d *Directory) AddInterval(start, end shared.Key, loc Location) {
	d.size++
	reads := traversalReads(d.size)
	d.cost.Wait(reads, 1)
	d.memReads += reads
	d.memWrites++

	d.intervals.Insert(intervaltree.Interval[Location]{
		Low:   TruncateKey(start),
		High:  TruncateKey(end),
		Value: loc,
	})
	d.knownFiles.Add(loc.FileID)
}

// FindOverlap returns the location of every block whose range intersects
// [start, end]. Order is unspecified.
func (d *Directory) FindOverlap(start, end shared.Key) []Location {
	d.overlapQueries++
	var reads uint64
	if d.overlapAccounting {
		reads = traversalReads(d.size)
		d.memReads += reads
	}

	matches := d.intervals.FindOverlapping(TruncateKey(start), TruncateKey(end))
	locs := make([]Location, 0, len(matches))
	for _, m := range matches {
		locs = append(locs, m.Value)
	}

	if reads > 0 {
		d.cost.Wait(reads, 0)
	}
	return locs
}

// FindPoint returns the location of every block whose range contains key
// and whose file's existence filter may contain key. Candidates from files
// without a filter are dropped.
func (d *Directory) FindPoint(key shared.Key) []Location {
	reads := traversalReads(d.size)
	d.memReads += reads

	candidates := d.intervals.FindContaining(TruncateKey(key))
	locs := make([]Location, 0, len(candidates))
	for _, c := range candidates {
		d.memReads++
		if d.filters == nil || !d.filters.Contains(c.Value.FileID, key) {
			continue
		}
		locs = append(locs, c.Value)
	}

	// Filter probes are counted but not delayed.
	d.cost.Wait(reads, 0)
	return locs
}

// DeleteByFile removes every range owned by one of fileIDs and forgets the
// ids. It returns the number of ranges removed.
func (d *Directory) DeleteByFile(fileIDs ...uint64) int {
	if len(fileIDs) == 0 {
		return 0
	}
	doomed := roaring64.BitmapOf(fileIDs...)

	removed := 0
	for _, iv := range d.intervals.Intervals() {
		if !doomed.Contains(iv.Value.FileID) {
			continue
		}
		if d.intervals.Remove(iv) {
			d.size--
			removed++
		}
	}
	d.knownFiles.AndNot(doomed)

	d.logger.Debug("directory ranges deleted",
		"files", len(fileIDs),
		"ranges", removed,
		"size", d.size,
	)
	return removed
}

// Clear drops every range and file and zeroes all counters.
func (d *Directory) Clear() {
	d.intervals.Clear()
	d.knownFiles.Clear()
	d.size = 0
	d.ResetMemReads()
	d.ResetMemWrites()
	d.ResetOverlapQueries()
	d.logger.Debug("directory cleared")
}

// Lock acquires the directory guard.
func (d *Directory) Lock() {
	d.mu.Lock()
	d.held.Store(true)
}

// Unlock releases the directory guard. It panics with ErrUnlockWithoutLock
// if the guard is not held.
func (d *Directory) Unlock() {
	if !d.held.Swap(false) {
		panic(ErrUnlockWithoutLock)
	}
	d.mu.Unlock()
}

// Ranges returns every indexed range ordered by low bound.
func (d *Directory) Ranges() []Range {
	ivs := d.intervals.Intervals()
	out := make([]Range, len(ivs))
	for i, iv := range ivs {
		out[i] = Range{Low: iv.Low, High: iv.High, Location: iv.Value}
	}
	return out
}

// DisplayIntervals writes every indexed range to w, one per line.
func (d *Directory) DisplayIntervals(w io.Writer) error {
	var b strings.Builder
	b.WriteString("######Start to display intervals:######\n")
	d.intervals.Ascend(func(iv intervaltree.Interval[Location]) bool {
		fmt.Fprintf(&b, "<%s,%s>:%s\n", iv.Low, iv.High, iv.Value)
		return true
	})
	b.WriteString("######Finish to display intervals:######\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// GetFiles returns the ids of all indexed files in ascending order. The
// slice is a copy.
func (d *Directory) GetFiles() []uint64 {
	return d.knownFiles.ToArray()
}

// HasFile reports whether any range of fileID is indexed.
func (d *Directory) HasFile(fileID uint64) bool {
	return d.knownFiles.Contains(fileID)
}

func (d *Directory) Size() uint64 { return d.size }

func (d *Directory) MemReads() uint64 { return d.memReads }

func (d *Directory) MemWrites() uint64 { return d.memWrites }

func (d *Directory) OverlapQueries() uint64 { return d.overlapQueries }

func (d *Directory) ResetMemReads() { d.memReads = 0 }

func (d *Directory) ResetMemWrites() { d.memWrites = 0 }

func (d *Directory) ResetOverlapQueries() { d.overlapQueries = 0 }

func (d *Directory) Stats() Stats {
	return Stats{
		Size:           d.size,
		Files:          d.knownFiles.GetCardinality(),
		MemReads:       d.memReads,
		MemWrites:      d.memWrites,
		OverlapQueries: d.overlapQueries,
	}
}
