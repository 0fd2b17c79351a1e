package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/AmrMurad1/nvmstore/shared"
	"github.com/AmrMurad1/nvmstore/sstable/filter"
)

type SSTableConfig struct {
	DataBlockSize           int
	FilterFalsePositiveRate float64
	Compression             Compression
}

func DefaultConfig() *SSTableConfig {
	return &SSTableConfig{
		DataBlockSize:           4096,
		FilterFalsePositiveRate: 0.01,
		Compression:             CompressionS2,
	}
}

// BlockWriter streams sorted entries into a new sstable file. Data blocks
// are cut once they reach DataBlockSize; keys inside a block are prefix
// compressed against the previous key of the same block.
type BlockWriter struct {
	file          *os.File
	writer        *bufio.Writer
	config        *SSTableConfig
	dataBlockBuf  bytes.Buffer
	indexRecords  []shared.IndexRecord
	meta          shared.MetaBlock
	keys          []string
	currentOffset int64
	entryCounter  uint64
	blockFirstKey shared.Key
	prevKey       shared.Key
}

func NewBlockWriter(filename string, config *SSTableConfig) (*BlockWriter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	return &BlockWriter{
		file:   file,
		writer: bufio.NewWriter(file),
		config: config,
		meta: shared.MetaBlock{
			Timestamp: time.Now().UnixNano(),
		},
	}, nil
}

func (bw *BlockWriter) Add(entry shared.Entry) error {
	if len(entry.Key) > shared.MaxKeySize {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(entry.Key))
	}
	if bw.entryCounter > 0 && entry.Key <= bw.prevKey {
		return fmt.Errorf("%w: %q after %q", ErrUnsortedKeys, entry.Key, bw.prevKey)
	}
	if bw.entryCounter == 0 {
		bw.meta.MinKey = entry.Key
	}
	bw.meta.MaxKey = entry.Key
	bw.entryCounter++
	bw.keys = append(bw.keys, string(entry.Key))

	prefix := 0
	if bw.dataBlockBuf.Len() == 0 {
		bw.blockFirstKey = entry.Key
	} else {
		prefix = lcp(bw.prevKey, entry.Key)
	}
	suffix := entry.Key[prefix:]

	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:], uint16(prefix))
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(suffix)))
	bw.dataBlockBuf.Write(hdr[:])
	bw.dataBlockBuf.WriteString(string(suffix))
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(entry.Value)))
	bw.dataBlockBuf.Write(hdr[:])
	bw.dataBlockBuf.Write(entry.Value)
	if entry.Tombstone {
		bw.dataBlockBuf.WriteByte(1)
	} else {
		bw.dataBlockBuf.WriteByte(0)
	}

	bw.prevKey = entry.Key

	if bw.dataBlockBuf.Len() >= bw.config.DataBlockSize {
		if err := bw.flushDataBlock(); err != nil {
			return err
		}
	}
	return nil
}

func (bw *BlockWriter) flushDataBlock() error {
	if bw.dataBlockBuf.Len() == 0 {
		return nil
	}

	block, err := encodeBlock(bw.dataBlockBuf.Bytes(), bw.config.Compression)
	if err != nil {
		return err
	}
	n, err := bw.writer.Write(block)
	if err != nil {
		return err
	}

	bw.indexRecords = append(bw.indexRecords, shared.IndexRecord{
		FirstKey: bw.blockFirstKey,
		LastKey:  bw.prevKey,
		Offset:   bw.currentOffset,
		Size:     int32(n),
	})

	bw.currentOffset += int64(n)
	bw.dataBlockBuf.Reset()
	return nil
}

// Finish writes the filter, meta, index and footer, then closes the file.
func (bw *BlockWriter) Finish() error {
	if err := bw.flushDataBlock(); err != nil {
		bw.file.Close()
		return err
	}
	if err := bw.writeTrailer(); err != nil {
		bw.file.Close()
		return err
	}
	if err := bw.file.Sync(); err != nil {
		bw.file.Close()
		return err
	}
	return bw.file.Close()
}

// Abort closes and removes a partially written file.
func (bw *BlockWriter) Abort() error {
	bw.file.Close()
	return os.Remove(bw.file.Name())
}

// Index returns the block records written so far.
func (bw *BlockWriter) Index() []shared.IndexRecord {
	return bw.indexRecords
}

func (bw *BlockWriter) writeTrailer() error {
	bw.meta.EntryCount = bw.entryCounter

	filterOffset := bw.currentOffset
	var filterBytes []byte
	if f := filter.New(max(len(bw.keys), 1), bw.config.FilterFalsePositiveRate); f != nil {
		for _, k := range bw.keys {
			f.Add(k)
		}
		filterBytes = f.Encode()
	}
	if _, err := bw.writer.Write(filterBytes); err != nil {
		return err
	}
	bw.currentOffset += int64(len(filterBytes))

	metaBlockOffset := bw.currentOffset
	metaBuf := new(bytes.Buffer)
	binary.Write(metaBuf, binary.LittleEndian, bw.meta.EntryCount)
	writeKey(metaBuf, bw.meta.MinKey)
	writeKey(metaBuf, bw.meta.MaxKey)
	binary.Write(metaBuf, binary.LittleEndian, bw.meta.Timestamp)
	metaBlockBytes := metaBuf.Bytes()
	if _, err := bw.writer.Write(metaBlockBytes); err != nil {
		return err
	}
	bw.currentOffset += int64(len(metaBlockBytes))

	// write index block
	indexBlockOffset := bw.currentOffset
	indexBuf := new(bytes.Buffer)
	for _, record := range bw.indexRecords {
		writeKey(indexBuf, record.FirstKey)
		writeKey(indexBuf, record.LastKey)
		binary.Write(indexBuf, binary.LittleEndian, record.Offset)
		binary.Write(indexBuf, binary.LittleEndian, record.Size)
	}
	indexBlockBytes := indexBuf.Bytes()
	if _, err := bw.writer.Write(indexBlockBytes); err != nil {
		return err
	}
	bw.currentOffset += int64(len(indexBlockBytes))

	footer := shared.Footer{
		FilterOffset:     filterOffset,
		FilterSize:       uint32(len(filterBytes)),
		MetaBlockOffset:  metaBlockOffset,
		MetaBlockSize:    uint32(len(metaBlockBytes)),
		IndexBlockOffset: indexBlockOffset,
		IndexBlockSize:   uint32(len(indexBlockBytes)),
		Magic:            shared.MagicNumber,
	}
	if err := binary.Write(bw.writer, binary.LittleEndian, &footer); err != nil {
		return err
	}

	return bw.writer.Flush()
}

func writeKey(buf *bytes.Buffer, k shared.Key) {
	binary.Write(buf, binary.LittleEndian, uint32(len(k)))
	buf.WriteString(string(k))
}

func lcp(a, b shared.Key) int {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] && i < 0xFFFF {
		i++
	}
	return i
}
