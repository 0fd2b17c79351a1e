package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/AmrMurad1/nvmstore/shared"
	"github.com/AmrMurad1/nvmstore/sstable/filter"
)

type SSTable struct {
	file         *os.File
	path         string
	fileID       uint64
	indexRecords []shared.IndexRecord
	meta         shared.MetaBlock
	footer       shared.Footer
	filter       *filter.Filter
}

// Open reads the trailer of the sstable at filename. Data blocks stay on
// disk and are read on demand.
func Open(filename string, fileID uint64) (*SSTable, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	sstable := &SSTable{
		file:   file,
		path:   filename,
		fileID: fileID,
	}
	if err := sstable.load(); err != nil {
		file.Close()
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	return sstable, nil
}

func (s *SSTable) load() error {
	stat, err := s.file.Stat()
	if err != nil {
		return err
	}
	if stat.Size() < int64(shared.FooterSize) {
		return fmt.Errorf("%w: file shorter than footer", ErrCorruptedSSTable)
	}

	footerBytes := make([]byte, shared.FooterSize)
	if _, err := s.file.ReadAt(footerBytes, stat.Size()-int64(shared.FooterSize)); err != nil {
		return err
	}
	if err := binary.Read(bytes.NewReader(footerBytes), binary.LittleEndian, &s.footer); err != nil {
		return err
	}
	if s.footer.Magic != shared.MagicNumber {
		return fmt.Errorf("%w: magic number mismatch", ErrCorruptedSSTable)
	}

	indexBytes := make([]byte, s.footer.IndexBlockSize)
	if _, err := s.file.ReadAt(indexBytes, s.footer.IndexBlockOffset); err != nil {
		return err
	}
	indexReader := bytes.NewReader(indexBytes)
	for indexReader.Len() > 0 {
		var record shared.IndexRecord
		if record.FirstKey, err = readKey(indexReader); err != nil {
			return err
		}
		if record.LastKey, err = readKey(indexReader); err != nil {
			return err
		}
		if err := binary.Read(indexReader, binary.LittleEndian, &record.Offset); err != nil {
			return err
		}
		if err := binary.Read(indexReader, binary.LittleEndian, &record.Size); err != nil {
			return err
		}
		s.indexRecords = append(s.indexRecords, record)
	}

	metaBytes := make([]byte, s.footer.MetaBlockSize)
	if _, err := s.file.ReadAt(metaBytes, s.footer.MetaBlockOffset); err != nil {
		return err
	}
	metaReader := bytes.NewReader(metaBytes)
	if err := binary.Read(metaReader, binary.LittleEndian, &s.meta.EntryCount); err != nil {
		return err
	}
	if s.meta.MinKey, err = readKey(metaReader); err != nil {
		return err
	}
	if s.meta.MaxKey, err = readKey(metaReader); err != nil {
		return err
	}
	if err := binary.Read(metaReader, binary.LittleEndian, &s.meta.Timestamp); err != nil {
		return err
	}

	if s.footer.FilterSize > 0 {
		filterBytes := make([]byte, s.footer.FilterSize)
		if _, err := s.file.ReadAt(filterBytes, s.footer.FilterOffset); err != nil {
			return err
		}
		if s.filter, err = filter.Decode(filterBytes); err != nil {
			return err
		}
	}
	return nil
}

func readKey(r *bytes.Reader) (shared.Key, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("%w: key length %d overruns block", ErrCorruptedSSTable, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return shared.Key(b), nil
}

func (s *SSTable) FileID() uint64 { return s.fileID }

func (s *SSTable) Path() string { return s.path }

// Blocks returns the index record of every data block in key order.
func (s *SSTable) Blocks() []shared.IndexRecord { return s.indexRecords }

// Filter returns the table's existence filter, or nil if it has none.
func (s *SSTable) Filter() *filter.Filter { return s.filter }

func (s *SSTable) MinKey() shared.Key { return s.meta.MinKey }

func (s *SSTable) MaxKey() shared.Key { return s.meta.MaxKey }

func (s *SSTable) EntryCount() uint64 { return s.meta.EntryCount }

// ReadBlock reads and decodes the data block stored at [offset,
// offset+size).
func (s *SSTable) ReadBlock(offset int64, size int32) ([]shared.Entry, error) {
	if size < blockHeaderSize || offset < 0 || offset+int64(size) > s.footer.FilterOffset {
		return nil, fmt.Errorf("%w: block %d+%d out of range", ErrCorruptedSSTable, offset, size)
	}
	data := make([]byte, size)
	if _, err := s.file.ReadAt(data, offset); err != nil {
		return nil, err
	}
	raw, err := decodeBlock(data)
	if err != nil {
		return nil, err
	}
	return parseBlock(raw)
}

// GetFromBlock looks key up inside the block at [offset, offset+size).
func (s *SSTable) GetFromBlock(offset int64, size int32, key shared.Key) (*shared.Entry, error) {
	entries, err := s.ReadBlock(offset, size)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Key >= key
	})
	if i < len(entries) && entries[i].Key == key {
		return &entries[i], nil
	}
	return nil, nil
}

func (s *SSTable) Get(key shared.Key) (*shared.Entry, error) {
	if key < s.meta.MinKey || key > s.meta.MaxKey {
		return nil, nil
	}
	if s.filter != nil && !s.filter.Contains(string(key)) {
		return nil, nil
	}

	indexRecordIndex := sort.Search(len(s.indexRecords), func(i int) bool {
		return s.indexRecords[i].LastKey >= key
	})
	if indexRecordIndex == len(s.indexRecords) {
		return nil, nil
	}

	record := s.indexRecords[indexRecordIndex]
	if key < record.FirstKey {
		return nil, nil
	}
	return s.GetFromBlock(record.Offset, record.Size, key)
}

func parseBlock(raw []byte) ([]shared.Entry, error) {
	var entries []shared.Entry
	var prevKey shared.Key

	for off := 0; off < len(raw); {
		if len(raw)-off < 4 {
			return nil, fmt.Errorf("%w: truncated entry header", ErrCorruptedSSTable)
		}
		prefix := int(binary.LittleEndian.Uint16(raw[off:]))
		suffixLen := int(binary.LittleEndian.Uint16(raw[off+2:]))
		off += 4
		if prefix > len(prevKey) || len(raw)-off < suffixLen+4 {
			return nil, fmt.Errorf("%w: truncated entry key", ErrCorruptedSSTable)
		}
		key := string(prevKey[:prefix]) + string(raw[off:off+suffixLen])
		off += suffixLen

		valLen := int(binary.LittleEndian.Uint32(raw[off:]))
		off += 4
		if len(raw)-off < valLen+1 {
			return nil, fmt.Errorf("%w: truncated entry value", ErrCorruptedSSTable)
		}
		value := make([]byte, valLen)
		copy(value, raw[off:off+valLen])
		off += valLen
		tombstone := raw[off] == 1
		off++

		entries = append(entries, shared.Entry{
			Key:       shared.Key(key),
			Value:     value,
			Tombstone: tombstone,
		})
		prevKey = shared.Key(key)
	}
	return entries, nil
}

func (s *SSTable) Close() error {
	return s.file.Close()
}

// Remove closes the table and deletes its file.
func (s *SSTable) Remove() error {
	s.file.Close()
	return os.Remove(s.path)
}
