package sstable

import (
	"github.com/AmrMurad1/nvmstore/shared"
)

type SSTableIterator struct {
	sstable      *SSTable
	blockIdx     int
	entryIdx     int
	currentBlock []shared.Entry
	finished     bool
}

func (st *SSTable) newIterator() *SSTableIterator {
	return &SSTableIterator{
		sstable: st,
	}
}

func (it *SSTableIterator) seekStart() error {
	it.blockIdx = 0
	it.entryIdx = 0
	it.finished = false
	return it.loadCurrentBlock()
}

func (it *SSTableIterator) loadCurrentBlock() error {
	if it.blockIdx >= len(it.sstable.indexRecords) {
		it.finished = true
		it.currentBlock = nil
		return nil
	}

	record := it.sstable.indexRecords[it.blockIdx]
	entries, err := it.sstable.ReadBlock(record.Offset, record.Size)
	if err != nil {
		return err
	}
	it.currentBlock = entries
	it.entryIdx = 0
	return nil
}

// next returns the following entry, or nil once the table is exhausted.
func (it *SSTableIterator) next() (*shared.Entry, error) {
	for !it.finished {
		if it.entryIdx < len(it.currentBlock) {
			entry := &it.currentBlock[it.entryIdx]
			it.entryIdx++
			return entry, nil
		}
		it.blockIdx++
		if err := it.loadCurrentBlock(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// compact merges tables into a new sstable at outputPath. tables are ordered
// oldest first; on equal keys the entry from the newest table wins. With
// dropTombstones set, deletions are not carried into the output.
func compact(outputPath string, fileID uint64, tables []*SSTable, dropTombstones bool, config *SSTableConfig) (*SSTable, error) {
	heads := make([]*shared.Entry, len(tables))
	iters := make([]*SSTableIterator, len(tables))
	for i, t := range tables {
		iters[i] = t.newIterator()
		if err := iters[i].seekStart(); err != nil {
			return nil, err
		}
		entry, err := iters[i].next()
		if err != nil {
			return nil, err
		}
		heads[i] = entry
	}

	writer, err := NewBlockWriter(outputPath, config)
	if err != nil {
		return nil, err
	}

	for {
		// Scan from newest to oldest so the first minimum found is the
		// winning version.
		winner := -1
		for i := len(heads) - 1; i >= 0; i-- {
			if heads[i] == nil {
				continue
			}
			if winner < 0 || heads[i].Key < heads[winner].Key {
				winner = i
			}
		}
		if winner < 0 {
			break
		}

		entry := *heads[winner]
		if !(entry.Tombstone && dropTombstones) {
			if err := writer.Add(entry); err != nil {
				writer.Abort()
				return nil, err
			}
		}

		for i := range heads {
			if heads[i] == nil || heads[i].Key != entry.Key {
				continue
			}
			if heads[i], err = iters[i].next(); err != nil {
				writer.Abort()
				return nil, err
			}
		}
	}

	if err := writer.Finish(); err != nil {
		return nil, err
	}
	return Open(outputPath, fileID)
}
