package locdir

import (
	"bytes"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/AmrMurad1/nvmstore/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeFilters map[uint64]map[shared.Key]bool

func (f fakeFilters) Contains(fileID uint64, key shared.Key) bool {
	keys, ok := f[fileID]
	if !ok {
		return false
	}
	return keys[key]
}

type charge struct {
	reads, writes uint64
}

type recordingCost struct {
	charges []charge
}

func (r *recordingCost) Wait(reads, writes uint64) {
	r.charges = append(r.charges, charge{reads, writes})
}

func newTestDirectory(opts ...Option) *Directory {
	return New(append([]Option{WithCostModel(NoCost{})}, opts...)...)
}

func fileIDsOf(ranges []Range) []uint64 {
	seen := map[uint64]struct{}{}
	for _, r := range ranges {
		seen[r.FileID] = struct{}{}
	}
	ids := make([]uint64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestTruncateKey(t *testing.T) {
	assert.Equal(t, shared.Key("short"), TruncateKey("short"))
	assert.Equal(t, shared.Key("0123456789abcdef"), TruncateKey("0123456789abcdefXYZ"))
	assert.Equal(t, shared.Key(""), TruncateKey(""))
}

func TestDirectory_InsertOverlapRoundTrip(t *testing.T) {
	d := newTestDirectory()
	loc := Location{FileID: 3, Offset: 4096, Size: 512}
	d.AddInterval("apple", "banana", loc)

	assert.Contains(t, d.FindOverlap("a", "apricot"), loc)
	assert.Contains(t, d.FindOverlap("b", "c"), loc)
	assert.Contains(t, d.FindOverlap("avocado", "avocado"), loc)
	assert.Empty(t, d.FindOverlap("c", "d"))
	assert.Empty(t, d.FindOverlap("0", "a"))
}

func TestDirectory_FindOverlapNoPadding(t *testing.T) {
	d := newTestDirectory()
	d.AddInterval("a", "c", Location{FileID: 1})
	d.AddInterval("b", "d", Location{FileID: 2})
	d.AddInterval("x", "z", Location{FileID: 3})

	got := d.FindOverlap("b", "c")
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []Location{{FileID: 1}, {FileID: 2}}, got)
	assert.Equal(t, uint64(1), d.OverlapQueries())
}

func TestDirectory_KeysComparedOnPrefix(t *testing.T) {
	d := newTestDirectory()
	loc := Location{FileID: 1}
	// Both bounds share the same 16-byte prefix, so the stored range only
	// covers that prefix.
	d.AddInterval("0123456789abcdef-aaa", "0123456789abcdef-zzz", loc)

	r := d.Ranges()
	require.Len(t, r, 1)
	assert.Equal(t, shared.Key("0123456789abcdef"), r[0].Low)
	assert.Equal(t, shared.Key("0123456789abcdef"), r[0].High)

	assert.Contains(t, d.FindOverlap("0123456789abcdef-mmm", "0123456789abcdef-mmm"), loc)
}

func TestDirectory_PointContainment(t *testing.T) {
	loc := Location{FileID: 1, Offset: 10, Size: 20}

	t.Run("filter contains key", func(t *testing.T) {
		d := newTestDirectory(WithFilterSource(fakeFilters{1: {"mmm": true}}))
		d.AddInterval("aaa", "zzz", loc)
		assert.Equal(t, []Location{loc}, d.FindPoint("mmm"))
	})

	t.Run("filter rejects key", func(t *testing.T) {
		d := newTestDirectory(WithFilterSource(fakeFilters{1: {"nnn": true}}))
		d.AddInterval("aaa", "zzz", loc)
		assert.Empty(t, d.FindPoint("mmm"))
	})

	t.Run("missing filter defaults to absent", func(t *testing.T) {
		d := newTestDirectory(WithFilterSource(fakeFilters{2: {"mmm": true}}))
		d.AddInterval("aaa", "zzz", loc)
		assert.Empty(t, d.FindPoint("mmm"))
	})

	t.Run("no filter source", func(t *testing.T) {
		d := newTestDirectory()
		d.AddInterval("aaa", "zzz", loc)
		assert.Empty(t, d.FindPoint("mmm"))
	})

	t.Run("outside the range", func(t *testing.T) {
		d := newTestDirectory(WithFilterSource(fakeFilters{1: {"zzzz": true}}))
		d.AddInterval("aaa", "zzz", loc)
		assert.Empty(t, d.FindPoint("zzzz"))
	})
}

func TestDirectory_FindPointLongKeyUsesFullKeyForFilter(t *testing.T) {
	long := shared.Key("0123456789abcdef-tail")
	loc := Location{FileID: 9}
	d := newTestDirectory(WithFilterSource(fakeFilters{9: {long: true}}))
	d.AddInterval(long, long, loc)

	assert.Equal(t, []Location{loc}, d.FindPoint(long))
	assert.Empty(t, d.FindPoint("0123456789abcdef-other"))
}

func TestDirectory_FindPointKeepsOnlyConfirmedFiles(t *testing.T) {
	filters := fakeFilters{
		1: {"k": true},
		2: {},
		3: {"k": true},
	}
	d := newTestDirectory(WithFilterSource(filters))
	d.AddInterval("a", "z", Location{FileID: 1})
	d.AddInterval("b", "y", Location{FileID: 2})
	d.AddInterval("c", "x", Location{FileID: 3})
	d.AddInterval("l", "m", Location{FileID: 4})

	assert.ElementsMatch(t, []Location{{FileID: 1}, {FileID: 3}}, d.FindPoint("k"))
}

func TestDirectory_Accounting(t *testing.T) {
	cost := &recordingCost{}
	d := New(WithCostModel(cost), WithFilterSource(fakeFilters{1: {"m": true}}))

	for i := 0; i < 10; i++ {
		d.AddInterval("a", "z", Location{FileID: 1, Offset: uint64(i)})
	}

	var wantReads uint64
	for size := 1; size <= 10; size++ {
		wantReads += uint64(math.Log(float64(size)))
	}
	assert.Equal(t, uint64(10), d.Size())
	assert.Equal(t, wantReads, d.MemReads())
	assert.Equal(t, uint64(10), d.MemWrites())
	require.Len(t, cost.charges, 10)
	assert.Equal(t, charge{0, 1}, cost.charges[0])
	assert.Equal(t, charge{2, 1}, cost.charges[9])

	d.ResetMemReads()
	cost.charges = nil
	got := d.FindPoint("m")
	assert.Len(t, got, 10)
	// ln(10) traversal plus one filter probe per candidate.
	assert.Equal(t, uint64(2+10), d.MemReads())
	assert.Equal(t, []charge{{2, 0}}, cost.charges)
}

func TestDirectory_OverlapAccounting(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cost := &recordingCost{}
		d := New(WithCostModel(cost))
		for i := 0; i < 8; i++ {
			d.AddInterval("a", "b", Location{FileID: 1})
		}
		d.ResetMemReads()
		cost.charges = nil

		d.FindOverlap("a", "b")
		assert.Zero(t, d.MemReads())
		assert.Empty(t, cost.charges)
	})

	t.Run("enabled", func(t *testing.T) {
		cost := &recordingCost{}
		d := New(WithCostModel(cost), WithOverlapAccounting(true))
		for i := 0; i < 8; i++ {
			d.AddInterval("a", "b", Location{FileID: 1})
		}
		d.ResetMemReads()
		cost.charges = nil

		d.FindOverlap("a", "b")
		assert.Equal(t, uint64(2), d.MemReads())
		assert.Equal(t, []charge{{2, 0}}, cost.charges)
	})
}

func TestDirectory_DeleteByFile(t *testing.T) {
	filters := fakeFilters{1: {"k": true}, 2: {"k": true}}
	d := newTestDirectory(WithFilterSource(filters))
	d.AddInterval("a", "m", Location{FileID: 1, Offset: 0})
	d.AddInterval("n", "z", Location{FileID: 1, Offset: 100})
	d.AddInterval("a", "z", Location{FileID: 2})
	d.AddInterval("a", "z", Location{FileID: 3})

	before := d.Size()
	removed := d.DeleteByFile(1, 42)

	assert.Equal(t, 2, removed)
	assert.Equal(t, before-2, d.Size())
	assert.Equal(t, []uint64{2, 3}, d.GetFiles())
	for _, loc := range d.FindOverlap("a", "z") {
		assert.NotEqual(t, uint64(1), loc.FileID)
	}
	assert.Equal(t, []Location{{FileID: 2}}, d.FindPoint("k"))

	assert.Zero(t, d.DeleteByFile(1))
	assert.Zero(t, d.DeleteByFile())
}

func TestDirectory_DeleteForgetsFileWithoutRanges(t *testing.T) {
	d := newTestDirectory()
	d.AddInterval("a", "b", Location{FileID: 5})
	d.DeleteByFile(5, 6)
	assert.Empty(t, d.GetFiles())
	assert.False(t, d.HasFile(5))
}

func TestDirectory_Clear(t *testing.T) {
	d := newTestDirectory(WithFilterSource(fakeFilters{1: {"m": true}}))
	for i := 0; i < 5; i++ {
		d.AddInterval("a", "z", Location{FileID: uint64(i)})
	}
	d.FindPoint("m")
	d.FindOverlap("a", "z")

	d.Clear()
	assert.Empty(t, d.GetFiles())
	assert.Zero(t, d.Size())
	assert.Equal(t, Stats{}, d.Stats())
	assert.Empty(t, d.FindOverlap("a", "z"))
	assert.Empty(t, d.FindPoint("m"))
	assert.Empty(t, d.Ranges())

	d.Clear()
	fresh := newTestDirectory()
	assert.Equal(t, fresh.Stats(), d.Stats())
}

func TestDirectory_KnownFilesInvariant(t *testing.T) {
	d := newTestDirectory()
	check := func() {
		t.Helper()
		ranges := d.Ranges()
		assert.ElementsMatch(t, fileIDsOf(ranges), d.GetFiles())
		assert.Equal(t, uint64(len(ranges)), d.Size())
	}

	check()
	for i := 0; i < 30; i++ {
		d.AddInterval(shared.Key(rune('a'+i%26)), "zz", Location{FileID: uint64(i % 7), Offset: uint64(i)})
		check()
	}
	d.DeleteByFile(0, 3)
	check()
	d.DeleteByFile(6, 100)
	check()
	d.Clear()
	check()
	d.AddInterval("q", "r", Location{FileID: 11})
	check()
}

func TestDirectory_GetFilesIsCopy(t *testing.T) {
	d := newTestDirectory()
	d.AddInterval("a", "b", Location{FileID: 1})
	files := d.GetFiles()
	files[0] = 99

	assert.Equal(t, []uint64{1}, d.GetFiles())
}

func TestDirectory_DisplayIntervals(t *testing.T) {
	d := newTestDirectory()
	d.AddInterval("b", "c", Location{FileID: 2, Offset: 64, Size: 32})
	d.AddInterval("a", "d", Location{FileID: 1, Offset: 0, Size: 64})
	statsBefore := d.Stats()

	var buf bytes.Buffer
	require.NoError(t, d.DisplayIntervals(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "<a,d>:1,0,64", lines[1])
	assert.Equal(t, "<b,c>:2,64,32", lines[2])
	assert.Equal(t, statsBefore, d.Stats())
}

func TestDirectory_UnlockWithoutLockPanics(t *testing.T) {
	d := newTestDirectory()
	assert.PanicsWithValue(t, ErrUnlockWithoutLock, d.Unlock)

	d.Lock()
	d.Unlock()
	assert.PanicsWithValue(t, ErrUnlockWithoutLock, d.Unlock)
}

func TestDirectory_GuardSerializesCallers(t *testing.T) {
	d := newTestDirectory()

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				d.Lock()
				if len(d.FindOverlap("a", "a")) == 0 {
					d.AddInterval("a", "a", Location{FileID: 1})
				}
				d.AddInterval("b", "c", Location{FileID: uint64(w + 2), Offset: uint64(i)})
				d.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, d.FindOverlap("a", "a"), 1)
	assert.Equal(t, uint64(1+8*100), d.Size())
}

func TestLatencyModel(t *testing.T) {
	m := LatencyModel{ReadLatency: 3 * time.Microsecond, WriteLatency: time.Microsecond}
	assert.Equal(t, 7*time.Microsecond, m.Cost(2, 1))
	assert.Zero(t, LatencyModel{}.Cost(10, 10))

	start := time.Now()
	LatencyModel{ReadLatency: time.Millisecond}.Wait(2, 0)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
}

func TestTraversalReads(t *testing.T) {
	assert.Zero(t, traversalReads(0))
	assert.Zero(t, traversalReads(1))
	assert.Zero(t, traversalReads(2))
	assert.Equal(t, uint64(1), traversalReads(3))
	assert.Equal(t, uint64(2), traversalReads(10))
	assert.Equal(t, uint64(6), traversalReads(1000))
}

func TestDirectory_DefaultLatencyDelays(t *testing.T) {
	d := New(WithLatency(0, 2*time.Millisecond))
	start := time.Now()
	d.AddInterval("a", "b", Location{FileID: 1})
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
}
