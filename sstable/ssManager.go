package sstable

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AmrMurad1/nvmstore/locdir"
	"github.com/AmrMurad1/nvmstore/shared"
	"github.com/AmrMurad1/nvmstore/sstable/filter"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultCompactionTrigger is the table count at which all tables are
// merged into one.
const DefaultCompactionTrigger = 4

// SSManager owns the live sstables of a directory. Every data block of
// every live table is indexed in a locdir.Directory, and every table's
// filter is registered so point reads touch only blocks that may hold the
// key.
type SSManager struct {
	mu                sync.RWMutex
	tables            map[uint64]*SSTable
	manifest          *Manifest
	dir               string
	config            *SSTableConfig
	filters           *filter.Registry
	directory         *locdir.Directory
	compactionTrigger int
	logger            *slog.Logger
}

type managerOptions struct {
	directoryOpts     []locdir.Option
	compactionTrigger int
	logger            *slog.Logger
}

// Option configures an SSManager.
type Option func(*managerOptions)

// WithDirectoryOptions passes options through to the location directory.
func WithDirectoryOptions(opts ...locdir.Option) Option {
	return func(o *managerOptions) {
		o.directoryOpts = append(o.directoryOpts, opts...)
	}
}

// WithCompactionTrigger sets the table count that triggers a compaction
// after a write. Values below 2 disable automatic compaction.
func WithCompactionTrigger(n int) Option {
	return func(o *managerOptions) {
		o.compactionTrigger = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *managerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func createPath(dataPath string) error {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

func NewSSManager(dir string, config *SSTableConfig, optFns ...Option) (*SSManager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	opts := managerOptions{
		compactionTrigger: DefaultCompactionTrigger,
		logger:            slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	filters := filter.NewRegistry()
	dirOpts := append([]locdir.Option{locdir.WithLogger(opts.logger)}, opts.directoryOpts...)
	dirOpts = append(dirOpts, locdir.WithFilterSource(filters))

	manager := &SSManager{
		tables:            make(map[uint64]*SSTable),
		dir:               dir,
		config:            config,
		filters:           filters,
		directory:         locdir.New(dirOpts...),
		compactionTrigger: opts.compactionTrigger,
		logger:            opts.logger,
	}

	if err := createPath(dir); err != nil {
		return nil, err
	}
	if err := manager.recover(); err != nil {
		return nil, err
	}

	manager.logger.Info("sstables recovered",
		"dir", dir,
		"store_id", manager.manifest.ID,
		"tables", len(manager.tables),
		"ranges", manager.directory.Size(),
	)
	return manager, nil
}

func (m *SSManager) recover() error {
	manifest, err := readManifest(m.dir)
	if err != nil {
		return err
	}
	if manifest == nil {
		if manifest, err = m.manifestFromFiles(); err != nil {
			return err
		}
	}
	m.manifest = manifest

	opened := make([]*SSTable, len(manifest.FileIDs))
	var g errgroup.Group
	g.SetLimit(4)
	for i, id := range manifest.FileIDs {
		i, id := i, id
		g.Go(func() error {
			path := filepath.Join(m.dir, tableFileName(id))
			if _, err := os.Stat(path); os.IsNotExist(err) {
				m.logger.Warn("sstable listed in manifest not found, skipping", "file", path)
				return nil
			}
			t, err := Open(path, id)
			if err != nil {
				return err
			}
			opened[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, t := range opened {
			if t != nil {
				t.Close()
			}
		}
		return err
	}

	live := manifest.FileIDs[:0]
	for _, t := range opened {
		if t == nil {
			continue
		}
		m.tables[t.FileID()] = t
		live = append(live, t.FileID())
	}
	manifest.FileIDs = live

	m.RebuildDirectory()
	return writeManifest(m.dir, m.manifest)
}

// manifestFromFiles builds a manifest from the table files present in the
// directory when no manifest has been written yet.
func (m *SSManager) manifestFromFiles() (*Manifest, error) {
	manifest := newManifest()

	files, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("could not read data directory: %w", err)
	}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".sst") {
			continue
		}
		var id uint64
		n, err := fmt.Sscanf(file.Name(), "%d.sst", &id)
		if n != 1 || err != nil || file.Name() != tableFileName(id) {
			m.logger.Warn("ignoring file with invalid name", "file", file.Name())
			continue
		}
		manifest.FileIDs = append(manifest.FileIDs, id)
		manifest.NextFileID = max(manifest.NextFileID, id+1)
	}
	return manifest, nil
}

// RebuildDirectory clears the location directory and the filter registry
// and re-indexes every block of every live table.
func (m *SSManager) RebuildDirectory() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.tableIDs()

	m.directory.Lock()
	defer m.directory.Unlock()

	m.directory.Clear()
	m.filters.Clear()
	for _, id := range ids {
		m.indexTable(m.tables[id])
	}
}

// indexTable registers t's filter and adds one range per data block. The
// caller holds the directory guard.
func (m *SSManager) indexTable(t *SSTable) {
	m.filters.Register(t.FileID(), t.Filter())
	for _, block := range t.Blocks() {
		m.directory.AddInterval(block.FirstKey, block.LastKey, locdir.Location{
			FileID: t.FileID(),
			Offset: uint64(block.Offset),
			Size:   uint64(block.Size),
		})
	}
}

func (m *SSManager) tableIDs() []uint64 {
	ids := make([]uint64, 0, len(m.tables))
	for id := range m.tables {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WriteTable persists sorted entries as a new table and indexes it. It may
// run a compaction afterwards.
func (m *SSManager) WriteTable(entries []shared.Entry) (*SSTable, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.manifest.NextFileID
	m.manifest.NextFileID++
	path := filepath.Join(m.dir, tableFileName(id))

	writer, err := NewBlockWriter(path, m.config)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := writer.Add(entry); err != nil {
			writer.Abort()
			return nil, err
		}
	}
	if err := writer.Finish(); err != nil {
		os.Remove(path)
		return nil, err
	}

	t, err := Open(path, id)
	if err != nil {
		return nil, err
	}
	m.addTableLocked(t)
	if err := writeManifest(m.dir, m.manifest); err != nil {
		return nil, err
	}

	m.logger.Info("sstable written",
		"file_id", id,
		"entries", t.EntryCount(),
		"blocks", len(t.Blocks()),
	)

	if m.compactionTrigger >= 2 && len(m.tables) >= m.compactionTrigger {
		if err := m.compactLocked(); err != nil {
			return nil, fmt.Errorf("compaction failed: %w", err)
		}
	}
	return t, nil
}

func (m *SSManager) addTableLocked(t *SSTable) {
	m.tables[t.FileID()] = t
	m.manifest.FileIDs = append(m.manifest.FileIDs, t.FileID())

	m.directory.Lock()
	m.indexTable(t)
	m.directory.Unlock()
}

// Get returns the newest version of key across all tables, or nil if the
// key is absent or deleted.
func (m *SSManager) Get(key shared.Key) (*shared.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.directory.Lock()
	locs := m.directory.FindPoint(key)
	m.directory.Unlock()

	sort.Slice(locs, func(i, j int) bool { return locs[i].FileID > locs[j].FileID })
	for _, loc := range locs {
		t, ok := m.tables[loc.FileID]
		if !ok {
			continue
		}
		entry, err := t.GetFromBlock(int64(loc.Offset), int32(loc.Size), key)
		if err != nil {
			return nil, fmt.Errorf("read block %d+%d of table %d: %w", loc.Offset, loc.Size, loc.FileID, err)
		}
		if entry == nil {
			continue
		}
		if entry.Tombstone {
			return nil, nil
		}
		return entry, nil
	}
	return nil, nil
}

// Scan returns the newest version of every key in [start, end], ordered by
// key. Tombstones are included so callers can layer newer data on top.
func (m *SSManager) Scan(start, end shared.Key) ([]shared.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.directory.Lock()
	locs := m.directory.FindOverlap(start, end)
	m.directory.Unlock()

	sort.Slice(locs, func(i, j int) bool {
		if locs[i].FileID != locs[j].FileID {
			return locs[i].FileID > locs[j].FileID
		}
		return locs[i].Offset < locs[j].Offset
	})

	newest := make(map[shared.Key]shared.Entry)
	for _, loc := range locs {
		t, ok := m.tables[loc.FileID]
		if !ok {
			continue
		}
		entries, err := t.ReadBlock(int64(loc.Offset), int32(loc.Size))
		if err != nil {
			return nil, fmt.Errorf("read block %d+%d of table %d: %w", loc.Offset, loc.Size, loc.FileID, err)
		}
		for _, e := range entries {
			if e.Key < start || e.Key > end {
				continue
			}
			if _, seen := newest[e.Key]; !seen {
				newest[e.Key] = e
			}
		}
	}

	out := make([]shared.Entry, 0, len(newest))
	for _, e := range newest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Compact merges every live table into one and drops the obsolete files
// from the directory, the filter registry and the disk.
func (m *SSManager) Compact() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.compactLocked()
}

func (m *SSManager) compactLocked() error {
	if len(m.tables) < 2 {
		return nil
	}

	oldIDs := m.tableIDs()
	inputs := make([]*SSTable, len(oldIDs))
	for i, id := range oldIDs {
		inputs[i] = m.tables[id]
	}

	id := m.manifest.NextFileID
	m.manifest.NextFileID++
	path := filepath.Join(m.dir, tableFileName(id))

	m.logger.Info("starting compaction", "inputs", len(inputs), "output", id)
	merged, err := compact(path, id, inputs, true, m.config)
	if err != nil {
		os.Remove(path)
		return err
	}
	if merged.EntryCount() == 0 {
		merged.Remove()
		merged = nil
	}

	m.directory.Lock()
	if merged != nil {
		m.indexTable(merged)
	}
	removed := m.directory.DeleteByFile(oldIDs...)
	m.directory.Unlock()
	m.filters.Unregister(oldIDs...)

	for _, old := range oldIDs {
		delete(m.tables, old)
	}
	m.manifest.FileIDs = m.manifest.FileIDs[:0]
	if merged != nil {
		m.tables[id] = merged
		m.manifest.FileIDs = append(m.manifest.FileIDs, id)
	}
	if err := writeManifest(m.dir, m.manifest); err != nil {
		return err
	}

	for _, old := range inputs {
		if err := old.Remove(); err != nil {
			m.logger.Warn("failed to remove compacted sstable", "file", old.Path(), "error", err)
		}
	}

	m.logger.Info("compaction finished",
		"output", id,
		"removed_tables", len(oldIDs),
		"removed_ranges", removed,
		"ranges", m.directory.Size(),
	)
	return nil
}

// Directory returns the location directory. Callers must hold its guard.
func (m *SSManager) Directory() *locdir.Directory { return m.directory }

func (m *SSManager) Filters() *filter.Registry { return m.filters }

// StoreID returns the identity recorded in the manifest.
func (m *SSManager) StoreID() uuid.UUID { return m.manifest.ID }

// TableIDs returns the file ids of the live tables in ascending order.
func (m *SSManager) TableIDs() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.tableIDs()
}

func (m *SSManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstError error

	for _, sstable := range m.tables {
		if err := sstable.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}

	if err := writeManifest(m.dir, m.manifest); err != nil && firstError == nil {
		firstError = err
	}

	m.tables = map[uint64]*SSTable{}
	return firstError
}
