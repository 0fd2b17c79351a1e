package intervaltree

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/AmrMurad1/nvmstore/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(i int) shared.Key {
	return shared.Key(fmt.Sprintf("k%04d", i))
}

func sortIntervals(ivs []Interval[int]) {
	sort.Slice(ivs, func(i, j int) bool {
		if ivs[i].Low != ivs[j].Low {
			return ivs[i].Low < ivs[j].Low
		}
		if ivs[i].High != ivs[j].High {
			return ivs[i].High < ivs[j].High
		}
		return ivs[i].Value < ivs[j].Value
	})
}

func bruteOverlap(all []Interval[int], low, high shared.Key) []Interval[int] {
	var out []Interval[int]
	for _, iv := range all {
		if iv.Overlaps(low, high) {
			out = append(out, iv)
		}
	}
	return out
}

func TestTree_Empty(t *testing.T) {
	tr := New[int]()

	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 0, tr.Height())
	assert.Empty(t, tr.Intervals())
	assert.Empty(t, tr.FindOverlapping("a", "z"))
	assert.Empty(t, tr.FindContaining("m"))
	assert.False(t, tr.Remove(Interval[int]{Low: "a", High: "b", Value: 1}))
}

func TestTree_OverlapInclusiveBounds(t *testing.T) {
	tr := New[int]()
	tr.Insert(Interval[int]{Low: "c", High: "f", Value: 1})

	assert.Len(t, tr.FindOverlapping("a", "c"), 1)
	assert.Len(t, tr.FindOverlapping("f", "z"), 1)
	assert.Len(t, tr.FindOverlapping("d", "e"), 1)
	assert.Empty(t, tr.FindOverlapping("a", "b"))
	assert.Empty(t, tr.FindOverlapping("g", "z"))

	assert.Len(t, tr.FindContaining("c"), 1)
	assert.Len(t, tr.FindContaining("f"), 1)
	assert.Empty(t, tr.FindContaining("fa"))
}

func TestTree_DuplicatesCoexist(t *testing.T) {
	tr := New[int]()
	iv := Interval[int]{Low: "a", High: "m", Value: 7}
	tr.Insert(iv)
	tr.Insert(iv)
	tr.Insert(Interval[int]{Low: "a", High: "m", Value: 8})

	require.Equal(t, 3, tr.Len())
	assert.Len(t, tr.FindContaining("b"), 3)

	require.True(t, tr.Remove(iv))
	assert.Equal(t, 2, tr.Len())
	got := tr.FindContaining("b")
	sortIntervals(got)
	assert.Equal(t, []Interval[int]{iv, {Low: "a", High: "m", Value: 8}}, got)

	require.True(t, tr.Remove(iv))
	assert.False(t, tr.Remove(iv))
	assert.Equal(t, 1, tr.Len())
}

func TestTree_IntervalsSortedByLow(t *testing.T) {
	tr := New[int]()
	for _, i := range rand.New(rand.NewSource(1)).Perm(200) {
		tr.Insert(Interval[int]{Low: key(i), High: key(i + 3), Value: i})
	}

	all := tr.Intervals()
	require.Len(t, all, 200)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].Low, all[i].Low)
	}
}

func TestTree_StaysBalanced(t *testing.T) {
	tr := New[int]()
	const n = 4096
	// Sorted insertion is the worst case for an unbalanced tree.
	for i := 0; i < n; i++ {
		tr.Insert(Interval[int]{Low: key(i), High: key(i), Value: i})
	}
	limit := int(1.45*math.Log2(float64(n+2))) + 1
	assert.LessOrEqual(t, tr.Height(), limit)

	for i := 0; i < n; i += 2 {
		require.True(t, tr.Remove(Interval[int]{Low: key(i), High: key(i), Value: i}))
	}
	assert.Equal(t, n/2, tr.Len())
	assert.LessOrEqual(t, tr.Height(), limit)
}

func TestTree_RandomAgainstBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tr := New[int]()
	var all []Interval[int]

	for step := 0; step < 3000; step++ {
		switch op := rng.Intn(10); {
		case op < 6 || len(all) == 0:
			lo := rng.Intn(500)
			iv := Interval[int]{Low: key(lo), High: key(lo + rng.Intn(40)), Value: rng.Intn(20)}
			tr.Insert(iv)
			all = append(all, iv)
		case op < 8:
			i := rng.Intn(len(all))
			require.True(t, tr.Remove(all[i]))
			all = append(all[:i], all[i+1:]...)
		default:
			lo := rng.Intn(520)
			low, high := key(lo), key(lo+rng.Intn(30))
			got := tr.FindOverlapping(low, high)
			want := bruteOverlap(all, low, high)
			sortIntervals(got)
			sortIntervals(want)
			require.Equal(t, len(want), len(got))
			if len(want) > 0 {
				require.Equal(t, want, got)
			}
		}
		require.Equal(t, len(all), tr.Len())
	}

	point := key(250)
	got := tr.FindContaining(point)
	want := bruteOverlap(all, point, point)
	sortIntervals(got)
	sortIntervals(want)
	assert.Equal(t, len(want), len(got))
}

func TestTree_AscendStops(t *testing.T) {
	tr := New[int]()
	for i := 0; i < 10; i++ {
		tr.Insert(Interval[int]{Low: key(i), High: key(i), Value: i})
	}

	var seen int
	tr.Ascend(func(Interval[int]) bool {
		seen++
		return seen < 3
	})
	assert.Equal(t, 3, seen)
}

func TestTree_Clear(t *testing.T) {
	tr := New[int]()
	tr.Insert(Interval[int]{Low: "a", High: "z", Value: 1})
	tr.Clear()

	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.FindContaining("m"))

	tr.Insert(Interval[int]{Low: "b", High: "c", Value: 2})
	assert.Len(t, tr.Intervals(), 1)
}

func BenchmarkTree_FindContaining(b *testing.B) {
	tr := New[int]()
	for i := 0; i < 10000; i++ {
		tr.Insert(Interval[int]{Low: key(i), High: key(i + 5), Value: i})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.FindContaining(key(i % 10000))
	}
}
