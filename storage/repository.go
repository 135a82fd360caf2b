// Package storage provides the record store behind the project and
// team-member endpoints.
//
// Records are JSON objects grouped into named collections and addressed by
// their "id" field. Every backend keeps records in insertion order.
package storage

import (
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when appending a record whose id is taken.
	ErrConflict = errors.New("record already exists")
)

// UpdateFunc receives the current record and returns its replacement.
// Returning an error aborts the update without writing.
type UpdateFunc func(current json.RawMessage) (json.RawMessage, error)

// Repository defines the interface for collection record storage.
type Repository interface {
	List(collection string) ([]json.RawMessage, error)
	Get(collection string, id string) (json.RawMessage, error)
	Append(collection string, id string, record json.RawMessage) error
	// Update applies fn atomically with respect to other writers.
	Update(collection string, id string, fn UpdateFunc) error
}

// CloneRecord returns an independent copy of a record.
func CloneRecord(rec json.RawMessage) json.RawMessage {
	if rec == nil {
		return nil
	}
	return append(json.RawMessage(nil), rec...)
}
