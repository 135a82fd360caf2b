// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jmcleod/agentgate/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]*collection
}

type collection struct {
	order   []string
	records map[string]json.RawMessage
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]*collection)}
}

func (r *Repository) List(name string) ([]json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.data[name]
	if !ok {
		return []json.RawMessage{}, nil
	}
	out := make([]json.RawMessage, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, storage.CloneRecord(c.records[id]))
	}
	return out, nil
}

func (r *Repository) Get(name, id string) (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(name, id)
}

func (r *Repository) getLocked(name, id string) (json.RawMessage, error) {
	c, ok := r.data[name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", name, id, storage.ErrNotFound)
	}
	rec, ok := c.records[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", name, id, storage.ErrNotFound)
	}
	return storage.CloneRecord(rec), nil
}

func (r *Repository) Append(name, id string, record json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[name]
	if !ok {
		c = &collection{records: make(map[string]json.RawMessage)}
		r.data[name] = c
	}
	if _, exists := c.records[id]; exists {
		return fmt.Errorf("%s/%s: %w", name, id, storage.ErrConflict)
	}
	c.order = append(c.order, id)
	c.records[id] = storage.CloneRecord(record)
	return nil
}

func (r *Repository) Update(name, id string, fn storage.UpdateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.getLocked(name, id)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	r.data[name].records[id] = storage.CloneRecord(next)
	return nil
}
