// Package nvmstore is a small LSM key-value store whose sstable blocks are
// located through an in-memory interval directory with emulated
// persistent-memory access cost.
//
// Writes go to a WAL-backed memtable. Full memtables are flushed to
// sstables; every data block of every live sstable is indexed by key range
// in a locdir.Directory, and point reads consult each candidate file's
// bloom filter before touching disk.
package nvmstore

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/AmrMurad1/nvmstore/locdir"
	"github.com/AmrMurad1/nvmstore/memtable"
	"github.com/AmrMurad1/nvmstore/shared"
	"github.com/AmrMurad1/nvmstore/sstable"
)

type Engine struct {
	memtable        *memtable.Memtable
	sstableManager  *sstable.SSManager
	dir             string
	lock            sync.Mutex
	maxMemtableSize int
	logger          *slog.Logger
	closed          bool
}

// KeyValue is one live pair returned by Scan.
type KeyValue struct {
	Key   string
	Value string
}

// Stats summarizes the engine's state.
type Stats struct {
	MemtableEntries int
	MemtableBytes   int
	Tables          []uint64
	Directory       locdir.Stats
}

// Open opens or creates a store in dir.
func Open(dir string, optFns ...Option) (*Engine, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	db := &Engine{
		dir:             dir,
		maxMemtableSize: opts.maxMemtableSize,
		logger:          opts.logger,
	}

	db.logger.Info("setup data path", "dir", dir)

	var err error
	db.sstableManager, err = sstable.NewSSManager(dir, opts.sstableConfig,
		sstable.WithLogger(opts.logger),
		sstable.WithCompactionTrigger(opts.compactionTrigger),
		sstable.WithDirectoryOptions(opts.directoryOpts...),
	)
	if err != nil {
		db.logger.Error("setup failed", "error", err)
		return nil, err
	}

	db.memtable, err = memtable.NewMemtable(dir)
	if err != nil {
		db.sstableManager.Close()
		db.logger.Error("setup failed", "error", err)
		return nil, err
	}

	db.logger.Info("setup done", "store_id", db.sstableManager.StoreID())
	return db, nil
}

func (db *Engine) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	memErr := db.memtable.Close()
	if err := db.sstableManager.Close(); err != nil {
		return err
	}
	return memErr
}

func (db *Engine) Get(key string) (string, error) {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return "", ErrClosed
	}

	sharedKey := shared.Key(key)
	entry, found := db.memtable.Get(sharedKey)
	if found {
		if entry.Tombstone {
			return "", ErrKeyNotFound
		}
		return string(entry.Value), nil
	}

	ssEntry, err := db.sstableManager.Get(sharedKey)
	if err != nil {
		return "", err
	}
	if ssEntry == nil {
		return "", ErrKeyNotFound
	}
	return string(ssEntry.Value), nil
}

func (db *Engine) Set(key string, val string) error {
	return db.write(key, func(k shared.Key) error {
		return db.memtable.Set(k, []byte(val))
	})
}

func (db *Engine) Delete(key string) error {
	return db.write(key, db.memtable.Delete)
}

func (db *Engine) write(key string, apply func(shared.Key) error) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > shared.MaxKeySize {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}

	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return ErrClosed
	}
	if err := apply(shared.Key(key)); err != nil {
		return err
	}

	if db.memtable.Size() >= db.maxMemtableSize {
		db.logger.Debug("memtable full, flushing", "bytes", db.memtable.Size())
		return db.flushToDisk()
	}
	return nil
}

// Scan returns every live pair with start <= key <= end in key order.
func (db *Engine) Scan(start, end string) ([]KeyValue, error) {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return nil, ErrClosed
	}

	merged := make(map[shared.Key]shared.Entry)
	onDisk, err := db.sstableManager.Scan(shared.Key(start), shared.Key(end))
	if err != nil {
		return nil, err
	}
	for _, e := range onDisk {
		merged[e.Key] = e
	}
	for _, e := range db.memtable.Scan(shared.Key(start), shared.Key(end)) {
		merged[e.Key] = e
	}

	out := make([]KeyValue, 0, len(merged))
	for _, e := range merged {
		if e.Tombstone {
			continue
		}
		out = append(out, KeyValue{Key: string(e.Key), Value: string(e.Value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Flush writes the memtable to a new sstable.
func (db *Engine) Flush() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return ErrClosed
	}
	return db.flushToDisk()
}

func (db *Engine) flushToDisk() error {
	entries := db.memtable.All()
	if len(entries) == 0 {
		return nil
	}

	if _, err := db.sstableManager.WriteTable(entries); err != nil {
		return fmt.Errorf("flush memtable: %w", err)
	}
	return db.memtable.Reset()
}

// Compact merges all sstables into one.
func (db *Engine) Compact() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return ErrClosed
	}
	return db.sstableManager.Compact()
}

func (db *Engine) Stats() Stats {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return Stats{}
	}

	// The manager lock is always taken before the directory guard.
	tables := db.sstableManager.TableIDs()

	d := db.sstableManager.Directory()
	d.Lock()
	defer d.Unlock()

	return Stats{
		MemtableEntries: db.memtable.Len(),
		MemtableBytes:   db.memtable.Size(),
		Tables:          tables,
		Directory:       d.Stats(),
	}
}

// DisplayIntervals writes the location directory's ranges to w.
func (db *Engine) DisplayIntervals(w io.Writer) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return ErrClosed
	}

	d := db.sstableManager.Directory()
	d.Lock()
	defer d.Unlock()

	return d.DisplayIntervals(w)
}

// Files returns the ids of the files indexed by the location directory,
// or nil once the engine is closed.
func (db *Engine) Files() []uint64 {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.closed {
		return nil
	}

	d := db.sstableManager.Directory()
	d.Lock()
	defer d.Unlock()

	return d.GetFiles()
}
