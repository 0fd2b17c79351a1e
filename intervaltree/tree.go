// Package intervaltree implements an AVL tree of closed key intervals.
//
// Nodes are ordered on the interval's low bound and annotated with the
// largest high bound found in their subtree, which lets overlap queries skip
// whole subtrees that end before the query starts. Identical intervals may
// be inserted any number of times; each insertion is a distinct entry.
//
// A Tree is not safe for concurrent use.
package intervaltree

import (
	"github.com/AmrMurad1/nvmstore/shared"
)

// Interval is a closed range [Low, High] carrying a value.
type Interval[V comparable] struct {
	Low   shared.Key
	High  shared.Key
	Value V
}

// Overlaps reports whether iv intersects [low, high].
func (iv Interval[V]) Overlaps(low, high shared.Key) bool {
	return iv.Low <= high && low <= iv.High
}

// Contains reports whether key lies inside iv.
func (iv Interval[V]) Contains(key shared.Key) bool {
	return iv.Low <= key && key <= iv.High
}

type node[V comparable] struct {
	iv     Interval[V]
	seq    uint64
	max    shared.Key
	height int
	left   *node[V]
	right  *node[V]
}

// Tree is an augmented AVL tree of intervals. The zero value is empty and
// ready to use.
type Tree[V comparable] struct {
	root *node[V]
	len  int
	seq  uint64
}

// New returns an empty tree.
func New[V comparable]() *Tree[V] {
	return &Tree[V]{}
}

// Len returns the number of stored intervals.
func (t *Tree[V]) Len() int {
	return t.len
}

// Height returns the height of the tree; an empty tree has height 0.
func (t *Tree[V]) Height() int {
	return height(t.root)
}

// Insert adds iv to the tree.
func (t *Tree[V]) Insert(iv Interval[V]) {
	t.seq++
	t.root = insert(t.root, &node[V]{iv: iv, seq: t.seq, max: iv.High, height: 1})
	t.len++
}

// Remove deletes one interval equal to iv (same bounds and value). It
// reports whether such an interval was found.
func (t *Tree[V]) Remove(iv Interval[V]) bool {
	n := find(t.root, iv)
	if n == nil {
		return false
	}
	t.root = remove(t.root, n.iv.Low, n.iv.High, n.seq)
	t.len--
	return true
}

// Clear drops every interval.
func (t *Tree[V]) Clear() {
	t.root = nil
	t.len = 0
	t.seq = 0
}

// Intervals returns all intervals ordered by low bound.
func (t *Tree[V]) Intervals() []Interval[V] {
	out := make([]Interval[V], 0, t.len)
	t.Ascend(func(iv Interval[V]) bool {
		out = append(out, iv)
		return true
	})
	return out
}

// Ascend calls fn for each interval in low-bound order until fn returns
// false.
func (t *Tree[V]) Ascend(fn func(Interval[V]) bool) {
	ascend(t.root, fn)
}

// FindOverlapping returns every interval intersecting [low, high].
func (t *Tree[V]) FindOverlapping(low, high shared.Key) []Interval[V] {
	var out []Interval[V]
	overlapping(t.root, low, high, &out)
	return out
}

// FindContaining returns every interval that contains key.
func (t *Tree[V]) FindContaining(key shared.Key) []Interval[V] {
	return t.FindOverlapping(key, key)
}

func ascend[V comparable](n *node[V], fn func(Interval[V]) bool) bool {
	if n == nil {
		return true
	}
	if !ascend(n.left, fn) {
		return false
	}
	if !fn(n.iv) {
		return false
	}
	return ascend(n.right, fn)
}

func overlapping[V comparable](n *node[V], low, high shared.Key, out *[]Interval[V]) {
	if n == nil || n.max < low {
		return
	}
	overlapping(n.left, low, high, out)
	// Everything to the right starts at or after n.iv.Low.
	if n.iv.Low > high {
		return
	}
	if n.iv.High >= low {
		*out = append(*out, n.iv)
	}
	overlapping(n.right, low, high, out)
}

func compareBounds(lowA, highA, lowB, highB shared.Key) int {
	if c := shared.CompareKeys(lowA, lowB); c != 0 {
		return c
	}
	return shared.CompareKeys(highA, highB)
}

func compareNode[V comparable](low, high shared.Key, seq uint64, n *node[V]) int {
	if c := compareBounds(low, high, n.iv.Low, n.iv.High); c != 0 {
		return c
	}
	switch {
	case seq < n.seq:
		return -1
	case seq > n.seq:
		return 1
	}
	return 0
}

// find locates a node holding iv. Equal bounds can sit on either side of a
// node after rotations, so both subtrees are searched on a bounds tie.
func find[V comparable](n *node[V], iv Interval[V]) *node[V] {
	if n == nil {
		return nil
	}
	switch c := compareBounds(iv.Low, iv.High, n.iv.Low, n.iv.High); {
	case c < 0:
		return find(n.left, iv)
	case c > 0:
		return find(n.right, iv)
	}
	if n.iv.Value == iv.Value {
		return n
	}
	if m := find(n.left, iv); m != nil {
		return m
	}
	return find(n.right, iv)
}

func insert[V comparable](n, nn *node[V]) *node[V] {
	if n == nil {
		return nn
	}
	if compareNode(nn.iv.Low, nn.iv.High, nn.seq, n) < 0 {
		n.left = insert(n.left, nn)
	} else {
		n.right = insert(n.right, nn)
	}
	return rebalance(n)
}

func remove[V comparable](n *node[V], low, high shared.Key, seq uint64) *node[V] {
	if n == nil {
		return nil
	}
	switch c := compareNode(low, high, seq, n); {
	case c < 0:
		n.left = remove(n.left, low, high, seq)
	case c > 0:
		n.right = remove(n.right, low, high, seq)
	default:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		succ := n.right
		for succ.left != nil {
			succ = succ.left
		}
		succ.right = removeMin(n.right)
		succ.left = n.left
		n = succ
	}
	return rebalance(n)
}

func removeMin[V comparable](n *node[V]) *node[V] {
	if n.left == nil {
		return n.right
	}
	n.left = removeMin(n.left)
	return rebalance(n)
}

func height[V comparable](n *node[V]) int {
	if n == nil {
		return 0
	}
	return n.height
}

func update[V comparable](n *node[V]) {
	n.height = 1 + max(height(n.left), height(n.right))
	n.max = n.iv.High
	if n.left != nil {
		n.max = shared.MaxKey(n.max, n.left.max)
	}
	if n.right != nil {
		n.max = shared.MaxKey(n.max, n.right.max)
	}
}

func rotateRight[V comparable](n *node[V]) *node[V] {
	l := n.left
	n.left = l.right
	update(n)
	l.right = n
	update(l)
	return l
}

func rotateLeft[V comparable](n *node[V]) *node[V] {
	r := n.right
	n.right = r.left
	update(n)
	r.left = n
	update(r)
	return r
}

func rebalance[V comparable](n *node[V]) *node[V] {
	update(n)
	switch balance := height(n.left) - height(n.right); {
	case balance > 1:
		if height(n.left.left) < height(n.left.right) {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	case balance < -1:
		if height(n.right.right) < height(n.right.left) {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}
