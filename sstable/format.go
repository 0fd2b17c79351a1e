package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	// ErrCorruptedSSTable is returned when a table's bytes do not decode.
	ErrCorruptedSSTable = errors.New("sstable: corrupted sstable")
	// ErrUnknownCompression is returned for a block codec id this build
	// does not know.
	ErrUnknownCompression = errors.New("sstable: unknown compression")
	// ErrUnsortedKeys is returned when a writer is fed keys out of order.
	ErrUnsortedKeys = errors.New("sstable: keys must be strictly increasing")
	// ErrKeyTooLarge is returned for keys longer than shared.MaxKeySize.
	ErrKeyTooLarge = errors.New("sstable: key too large")
)

// Compression selects the codec applied to each data block.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionS2
	CompressionSnappy
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionS2:
		return "s2"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// ParseCompression maps a codec name to its Compression.
func ParseCompression(name string) (Compression, error) {
	for c := CompressionNone; c <= CompressionZstd; c++ {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
}

// A stored block is [codec u8][raw length u32][payload].
const blockHeaderSize = 5

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func encodeBlock(raw []byte, c Compression) ([]byte, error) {
	var payload []byte
	switch c {
	case CompressionNone:
		payload = raw
	case CompressionS2:
		payload = s2.Encode(nil, raw)
	case CompressionSnappy:
		payload = snappy.Encode(nil, raw)
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Incompressible input.
			c, payload = CompressionNone, raw
		} else {
			payload = buf[:n]
		}
	case CompressionZstd:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(raw, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}

	out := make([]byte, blockHeaderSize, blockHeaderSize+len(payload))
	out[0] = byte(c)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(raw)))
	return append(out, payload...), nil
}

func decodeBlock(data []byte) ([]byte, error) {
	if len(data) < blockHeaderSize {
		return nil, fmt.Errorf("%w: block shorter than header", ErrCorruptedSSTable)
	}
	c := Compression(data[0])
	rawLen := int(binary.LittleEndian.Uint32(data[1:]))
	payload := data[blockHeaderSize:]

	var (
		raw []byte
		err error
	)
	switch c {
	case CompressionNone:
		raw = payload
	case CompressionS2:
		raw, err = s2.Decode(nil, payload)
	case CompressionSnappy:
		raw, err = snappy.Decode(nil, payload)
	case CompressionLZ4:
		raw = make([]byte, rawLen)
		var n int
		n, err = lz4.UncompressBlock(payload, raw)
		raw = raw[:max(n, 0)]
	case CompressionZstd:
		dec := getZstdDecoder()
		raw, err = dec.DecodeAll(payload, make([]byte, 0, rawLen))
		zstdDecoderPool.Put(dec)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s block: %v", ErrCorruptedSSTable, c, err)
	}
	if len(raw) != rawLen {
		return nil, fmt.Errorf("%w: block length %d, want %d", ErrCorruptedSSTable, len(raw), rawLen)
	}
	return raw, nil
}
