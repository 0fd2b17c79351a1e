package nvmstore

import (
	"log/slog"
	"time"

	"github.com/AmrMurad1/nvmstore/locdir"
	"github.com/AmrMurad1/nvmstore/sstable"
)

const DefaultMaxMemtableSize = 1024 * 1024 // 1MB

type options struct {
	maxMemtableSize   int
	sstableConfig     *sstable.SSTableConfig
	compactionTrigger int
	directoryOpts     []locdir.Option
	logger            *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

// WithMaxMemtableSize sets the buffered byte count that triggers a flush.
func WithMaxMemtableSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMemtableSize = n
		}
	}
}

// WithSSTableConfig sets block size, filter rate and compression of new
// tables.
func WithSSTableConfig(c *sstable.SSTableConfig) Option {
	return func(o *options) {
		if c != nil {
			o.sstableConfig = c
		}
	}
}

// WithCompactionTrigger sets the table count that triggers a full merge.
func WithCompactionTrigger(n int) Option {
	return func(o *options) {
		o.compactionTrigger = n
	}
}

// WithIndexLatency sets the emulated persistent-memory read and write
// latency charged by the location directory.
func WithIndexLatency(read, write time.Duration) Option {
	return func(o *options) {
		o.directoryOpts = append(o.directoryOpts, locdir.WithLatency(read, write))
	}
}

// WithoutIndexLatency turns off emulated index latency. Access counters are
// still maintained.
func WithoutIndexLatency() Option {
	return func(o *options) {
		o.directoryOpts = append(o.directoryOpts, locdir.WithCostModel(locdir.NoCost{}))
	}
}

// WithDirectoryOptions passes options through to the location directory.
func WithDirectoryOptions(opts ...locdir.Option) Option {
	return func(o *options) {
		o.directoryOpts = append(o.directoryOpts, opts...)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func defaultOptions() options {
	return options{
		maxMemtableSize:   DefaultMaxMemtableSize,
		sstableConfig:     sstable.DefaultConfig(),
		compactionTrigger: sstable.DefaultCompactionTrigger,
		logger:            slog.Default(),
	}
}
