package locdir

import (
	"log/slog"
	"time"
)

type options struct {
	cost              CostModel
	filters           FilterSource
	overlapAccounting bool
	logger            *slog.Logger
}

// Option configures a Directory.
type Option func(*options)

// WithCostModel sets the model used to charge emulated access latency.
// A nil model disables delays.
func WithCostModel(m CostModel) Option {
	return func(o *options) {
		if m == nil {
			m = NoCost{}
		}
		o.cost = m
	}
}

// WithLatency charges the given per-read and per-write latencies by
// sleeping the caller.
func WithLatency(read, write time.Duration) Option {
	return func(o *options) {
		o.cost = LatencyModel{ReadLatency: read, WriteLatency: write}
	}
}

// WithFilterSource sets the per-file existence filters consulted by
// FindPoint. Without one, every point candidate is discarded.
func WithFilterSource(fs FilterSource) Option {
	return func(o *options) {
		o.filters = fs
	}
}

// WithOverlapAccounting makes FindOverlap count and charge one tree
// traversal, the same way FindPoint does. Off by default.
func WithOverlapAccounting(enabled bool) Option {
	return func(o *options) {
		o.overlapAccounting = enabled
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
		cost: LatencyModel{
			ReadLatency:  DefaultReadLatency,
			WriteLatency: DefaultWriteLatency,
		},
		logger: slog.Default(),
	}
}
