// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/jmcleod/agentgate/storage"
	"go.etcd.io/bbolt"
)

var (
	recordsBucket = []byte("records")
	indexBucket   = []byte("index")
)

// Store implements storage.Repository backed by a BBolt database. Each
// collection is a top-level bucket holding a "records" bucket keyed by
// insertion sequence and an "index" bucket mapping record ids to sequences.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func (s *Store) List(collection string) ([]json.RawMessage, error) {
	out := []json.RawMessage{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		recs := b.Bucket(recordsBucket)
		if recs == nil {
			return nil
		}
		return recs.ForEach(func(_, v []byte) error {
			out = append(out, storage.CloneRecord(v))
			return nil
		})
	})
	return out, err
}

func lookup(b *bbolt.Bucket, collection, id string) ([]byte, []byte, error) {
	if b == nil {
		return nil, nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	seq := b.Bucket(indexBucket).Get([]byte(id))
	if seq == nil {
		return nil, nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	data := b.Bucket(recordsBucket).Get(seq)
	if data == nil {
		return nil, nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	return seq, data, nil
}

func (s *Store) Get(collection, id string) (json.RawMessage, error) {
	var rec json.RawMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, data, err := lookup(tx.Bucket([]byte(collection)), collection, id)
		if err != nil {
			return err
		}
		rec = storage.CloneRecord(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) getBuckets(tx *bbolt.Tx, collection string) (*bbolt.Bucket, *bbolt.Bucket, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return nil, nil, err
	}
	recs, err := b.CreateBucketIfNotExists(recordsBucket)
	if err != nil {
		return nil, nil, err
	}
	idx, err := b.CreateBucketIfNotExists(indexBucket)
	if err != nil {
		return nil, nil, err
	}
	return recs, idx, nil
}

func (s *Store) Append(collection, id string, record json.RawMessage) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		recs, idx, err := s.getBuckets(tx, collection)
		if err != nil {
			return err
		}
		if idx.Get([]byte(id)) != nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrConflict)
		}
		seq, err := recs.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := idx.Put([]byte(id), key); err != nil {
			return err
		}
		return recs.Put(key, record)
	})
}

func (s *Store) Update(collection, id string, fn storage.UpdateFunc) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		seq, data, err := lookup(b, collection, id)
		if err != nil {
			return err
		}
		next, err := fn(storage.CloneRecord(data))
		if err != nil {
			return err
		}
		return b.Bucket(recordsBucket).Put(seq, next)
	})
}
