package memtable

import (
	"fmt"
	"sync"

	"github.com/AmrMurad1/nvmstore/shared"
)

const walFileName = "wal.log"

// Memtable buffers recent writes in a skiplist, logging each one to a WAL
// before it is applied.
type Memtable struct {
	mu       sync.RWMutex
	skiplist *SkipList
	wal      *Wal
	size     int
}

func NewMemtable(walDir string) (*Memtable, error) {
	wal, err := NewWal(walDir, walFileName)
	if err != nil {
		return nil, err
	}

	m := &Memtable{
		skiplist: New(18, 0.5),
		wal:      wal,
	}

	if err := m.recover(); err != nil {
		wal.Close()
		return nil, err
	}

	return m, nil
}

func (m *Memtable) recover() error {
	entries, err := m.wal.Retrieve()
	if err != nil {
		return fmt.Errorf("could not retrieve entries from %s: %w", m.wal.path, err)
	}

	for _, entry := range entries {
		m.size += m.skiplist.Set(shared.Entry{
			Key:       shared.Key(entry.Key),
			Value:     entry.Value,
			Tombstone: entry.Tombstone,
		})
	}
	return nil
}

func (m *Memtable) apply(entry shared.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	walEntry := WALEntry{
		Key:       string(entry.Key),
		Value:     entry.Value,
		Tombstone: entry.Tombstone,
	}
	if err := m.wal.Append(walEntry); err != nil {
		return err
	}

	m.size += m.skiplist.Set(entry)
	return nil
}

func (m *Memtable) Set(key shared.Key, value []byte) error {
	return m.apply(shared.Entry{Key: key, Value: value})
}

// Delete records a tombstone for key.
func (m *Memtable) Delete(key shared.Key) error {
	return m.apply(shared.Entry{Key: key, Tombstone: true})
}

// Get returns the buffered entry for key. A found entry may be a tombstone.
func (m *Memtable) Get(key shared.Key) (shared.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.skiplist.Get(key)
}

func (m *Memtable) Scan(start, end shared.Key) []shared.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.skiplist.Scan(start, end)
}

// All returns every buffered entry in key order, tombstones included.
func (m *Memtable) All() []shared.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.skiplist.All()
}

func (m *Memtable) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.size
}

func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.skiplist.Len()
}

// Reset empties the memtable and truncates its WAL, once its contents are
// safely on disk elsewhere.
func (m *Memtable) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.wal.Clear(); err != nil {
		return err
	}
	m.skiplist = New(18, 0.5)
	m.size = 0
	return nil
}

func (m *Memtable) Close() error {
	if err := m.wal.Sync(); err != nil {
		m.wal.Close()
		return err
	}
	return m.wal.Close()
}
