package assetlock

import (
	"sync"

	"github.com/n8lab/assetlock/internal/datafile"
)

// SharedConfig is the process-wide store the allocator merges a claimed
// asset's data-file settings into, so workflow code can read values such as
// device addresses without holding the Asset handle. It stands in for the
// external configuration collaborator; only the merge trigger lives in the
// allocator.
type SharedConfig struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSharedConfig returns an empty store.
func NewSharedConfig() *SharedConfig {
	return &SharedConfig{values: make(map[string]string)}
}

// Get returns the stored value for key.
func (c *SharedConfig) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a single value.
func (c *SharedConfig) Set(key, value string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// MergeFile folds every dataset row of a data file into the store, keyed by
// dataset identifier with the row's first value. Later merges overwrite
// earlier ones.
func (c *SharedConfig) MergeFile(f *datafile.File) {
	if c == nil || f == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range f.Records {
		if v := rec.Value(0); v != "" {
			c.values[rec.ID] = v
		}
	}
}

// Len returns the number of stored keys.
func (c *SharedConfig) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
