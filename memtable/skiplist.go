package memtable

import (
	"math/rand"
	"time"
	"unsafe"

	"github.com/AmrMurad1/nvmstore/shared"
)

type SkipList struct {
	maxLevel int
	p        float64
	level    int
	rand     *rand.Rand
	size     int
	length   int
	head     *Element
}

type Element struct {
	shared.Entry
	next []*Element
}

func New(maxLevel int, p float64) *SkipList {
	return &SkipList{
		maxLevel: maxLevel,
		p:        p,
		level:    1,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		head: &Element{
			next: make([]*Element, maxLevel),
		},
	}
}

// Size returns the approximate memory footprint of the stored entries.
func (s *SkipList) Size() int {
	return s.size
}

// Len returns the number of distinct keys, including deleted ones.
func (s *SkipList) Len() int {
	return s.length
}

// seek returns the last element before key on every level.
func (s *SkipList) seek(key shared.Key) (*Element, []*Element) {
	curr := s.head
	update := make([]*Element, s.maxLevel)
	for i := s.level - 1; i >= 0; i-- {
		for curr.next[i] != nil && shared.CompareKeys(curr.next[i].Key, key) < 0 {
			curr = curr.next[i]
		}
		update[i] = curr
	}
	return curr, update
}

// Set inserts or overwrites entry and returns the change in Size.
func (s *SkipList) Set(entry shared.Entry) int {
	curr, update := s.seek(entry.Key)

	// update entry
	if next := curr.next[0]; next != nil && next.Key == entry.Key {
		sizeChange := len(entry.Value) - len(next.Value)
		s.size += sizeChange
		next.Value = entry.Value
		next.Tombstone = entry.Tombstone
		return sizeChange
	}

	// add entry
	level := s.randomLevel()
	if level > s.level {
		for i := s.level; i < level; i++ {
			update[i] = s.head
		}
		s.level = level
	}

	e := &Element{
		Entry: entry,
		next:  make([]*Element, level),
	}
	for i := 0; i < level; i++ {
		e.next[i] = update[i].next[i]
		update[i].next[i] = e
	}

	sizeChange := len(entry.Key) + len(entry.Value) +
		int(unsafe.Sizeof(entry.Tombstone)) +
		len(e.next)*int(unsafe.Sizeof((*Element)(nil)))
	s.size += sizeChange
	s.length++
	return sizeChange
}

func (s *SkipList) Get(key shared.Key) (shared.Entry, bool) {
	curr, _ := s.seek(key)
	curr = curr.next[0]

	if curr != nil && curr.Key == key {
		return curr.Entry, true
	}
	return shared.Entry{}, false
}

// Scan returns the entries with start <= key <= end in key order.
func (s *SkipList) Scan(start, end shared.Key) []shared.Entry {
	var res []shared.Entry
	curr, _ := s.seek(start)

	for curr = curr.next[0]; curr != nil && curr.Key <= end; curr = curr.next[0] {
		res = append(res, curr.Entry)
	}
	return res
}

func (s *SkipList) All() []shared.Entry {
	all := make([]shared.Entry, 0, s.length)
	for curr := s.head.next[0]; curr != nil; curr = curr.next[0] {
		all = append(all, curr.Entry)
	}
	return all
}

func (s *SkipList) randomLevel() int {
	level := 1
	for s.rand.Float64() < s.p && level < s.maxLevel {
		level++
	}
	return level
}
