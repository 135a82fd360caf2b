// Package jsonfile stores each collection as a pretty-printed JSON array in
// <dir>/<collection>-db.json, the layout used by the original deployment's
// datasource directory.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmcleod/agentgate/storage"
)

// Store implements storage.Repository on flat JSON files. Writes replace the
// file atomically via a temporary file and rename.
type Store struct {
	mu  sync.RWMutex
	dir string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository creates dir if needed and returns a Store rooted there.
func NewRepository(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(collection string) string {
	return filepath.Join(s.dir, collection+"-db.json")
}

func (s *Store) read(collection string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(s.path(collection))
	if errors.Is(err, fs.ErrNotExist) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", collection, err)
	}
	var recs []json.RawMessage
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", collection, err)
	}
	if recs == nil {
		recs = []json.RawMessage{}
	}
	return recs, nil
}

func (s *Store) write(collection string, recs []json.RawMessage) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", collection, err)
	}
	tmp, err := os.CreateTemp(s.dir, collection+"-*.tmp")
	if err != nil {
		return fmt.Errorf("writing %s: %w", collection, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", collection, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", collection, err)
	}
	if err := os.Rename(tmp.Name(), s.path(collection)); err != nil {
		return fmt.Errorf("replacing %s: %w", collection, err)
	}
	return nil
}

func indexOf(recs []json.RawMessage, id string) int {
	for i, rec := range recs {
		if recID, err := storage.RecordID(rec); err == nil && recID == id {
			return i
		}
	}
	return -1
}

func (s *Store) List(collection string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(collection)
}

func (s *Store) Get(collection, id string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs, err := s.read(collection)
	if err != nil {
		return nil, err
	}
	i := indexOf(recs, id)
	if i < 0 {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	return recs[i], nil
}

func (s *Store) Append(collection, id string, record json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.read(collection)
	if err != nil {
		return err
	}
	if indexOf(recs, id) >= 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrConflict)
	}
	return s.write(collection, append(recs, storage.CloneRecord(record)))
}

func (s *Store) Update(collection, id string, fn storage.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.read(collection)
	if err != nil {
		return err
	}
	i := indexOf(recs, id)
	if i < 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	next, err := fn(storage.CloneRecord(recs[i]))
	if err != nil {
		return err
	}
	recs[i] = next
	return s.write(collection, recs)
}
