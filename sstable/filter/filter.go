// Package filter provides the per-file existence filters consulted before a
// data block is read.
package filter

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/spaolacci/murmur3"
)

// ErrCorruptedFilter is returned when encoded filter bytes are malformed.
var ErrCorruptedFilter = errors.New("filter: corrupted filter data")

const headerSize = 12

// Filter is a bloom filter over string keys. It never reports a false
// negative.
type Filter struct {
	bits    []uint64
	numBits uint64
	k       uint32
}

// New sizes a filter for n keys at false positive rate p. It returns nil
// for a non-positive n or a rate outside (0, 1).
func New(n int, p float64) *Filter {
	if n <= 0 || p <= 0 || p >= 1 {
		return nil
	}

	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	k := uint32(math.Round((float64(m) / float64(n)) * math.Ln2))
	if m == 0 || k == 0 {
		return nil
	}

	m = (m + 63) / 64 * 64
	return &Filter{
		bits:    make([]uint64, m/64),
		numBits: m,
		k:       k,
	}
}

// Add adds a key to the bloom filter
func (f *Filter) Add(key string) {
	h1, h2 := murmur3.Sum128([]byte(key))
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.numBits
		f.bits[bit/64] |= 1 << (bit % 64)
	}
}

func (f *Filter) Contains(key string) bool {
	h1, h2 := murmur3.Sum128([]byte(key))
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.numBits
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// HashCount returns the number of probes per key.
func (f *Filter) HashCount() uint32 {
	return f.k
}

// SizeBits returns the length of the bit array.
func (f *Filter) SizeBits() uint64 {
	return f.numBits
}

// Encode serializes the filter as [numBits u64][k u32][words...].
func (f *Filter) Encode() []byte {
	buf := make([]byte, headerSize, headerSize+len(f.bits)*8)
	binary.LittleEndian.PutUint64(buf[0:8], f.numBits)
	binary.LittleEndian.PutUint32(buf[8:12], f.k)
	for _, w := range f.bits {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return buf
}

// Decode deserializes bytes produced by Encode.
func Decode(data []byte) (*Filter, error) {
	if len(data) < headerSize {
		return nil, ErrCorruptedFilter
	}
	numBits := binary.LittleEndian.Uint64(data[0:8])
	k := binary.LittleEndian.Uint32(data[8:12])
	if numBits == 0 || numBits%64 != 0 || k == 0 {
		return nil, ErrCorruptedFilter
	}
	words := data[headerSize:]
	if uint64(len(words)) != numBits/8 {
		return nil, ErrCorruptedFilter
	}

	f := &Filter{
		bits:    make([]uint64, numBits/64),
		numBits: numBits,
		k:       k,
	}
	for i := range f.bits {
		f.bits[i] = binary.LittleEndian.Uint64(words[i*8:])
	}
	return f, nil
}
