// Package memory stores snapshots in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Archive keeps snapshot bodies in a map keyed by the archive key.
type Archive struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an in-memory snapshot archive.
func New() *Archive {
	return &Archive{data: make(map[string][]byte)}
}

// Save keeps the body and returns a memory:// URI.
func (a *Archive) Save(_ context.Context, key, _ string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[key] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", key), nil
}

// Get returns a stored body.
func (a *Archive) Get(key string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	body, ok := a.data[key]
	return body, ok
}
