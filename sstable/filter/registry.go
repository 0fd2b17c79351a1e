package filter

import (
	"sync"

	"github.com/AmrMurad1/nvmstore/shared"
)

// Registry holds the existence filter of every live file, keyed by file id.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	filters map[uint64]*Filter
}

func NewRegistry() *Registry {
	return &Registry{filters: make(map[uint64]*Filter)}
}

// Register sets the filter for fileID, replacing any previous one. A nil
// filter unregisters the file.
func (r *Registry) Register(fileID uint64, f *Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f == nil {
		delete(r.filters, fileID)
		return
	}
	r.filters[fileID] = f
}

func (r *Registry) Unregister(fileIDs ...uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range fileIDs {
		delete(r.filters, id)
	}
}

func (r *Registry) Get(fileID uint64) (*Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.filters[fileID]
	return f, ok
}

// Contains reports whether fileID's filter may hold key. Files without a
// filter report false.
func (r *Registry) Contains(fileID uint64, key shared.Key) bool {
	f, ok := r.Get(fileID)
	if !ok {
		return false
	}
	return f.Contains(string(key))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.filters)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.filters)
}
