// Package storagetest provides a conformance suite that every
// storage.Repository backend runs from its own tests.
package storagetest

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/agentgate/storage"
)

// Run exercises repo against the storage.Repository contract. repo must be
// empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()

	t.Run("ListEmpty", func(t *testing.T) {
		recs, err := repo.List("empty")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("AppendGetList", func(t *testing.T) {
		require.NoError(t, repo.Append("things", "b", json.RawMessage(`{"id":"b","n":1}`)))
		require.NoError(t, repo.Append("things", "a", json.RawMessage(`{"id":"a","n":2}`)))
		require.NoError(t, repo.Append("things", "7", json.RawMessage(`{"id":7,"n":3}`)))

		got, err := repo.Get("things", "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"a","n":2}`, string(got))

		recs, err := repo.List("things")
		require.NoError(t, err)
		require.Len(t, recs, 3)
		ids := make([]string, 0, len(recs))
		for _, rec := range recs {
			id, err := storage.RecordID(rec)
			require.NoError(t, err)
			ids = append(ids, id)
		}
		assert.Equal(t, []string{"b", "a", "7"}, ids, "insertion order is preserved")
	})

	t.Run("AppendConflict", func(t *testing.T) {
		err := repo.Append("things", "a", json.RawMessage(`{"id":"a"}`))
		assert.ErrorIs(t, err, storage.ErrConflict)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get("things", "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = repo.Get("nonexistent", "a")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		err := repo.Update("things", "a", func(cur json.RawMessage) (json.RawMessage, error) {
			assert.JSONEq(t, `{"id":"a","n":2}`, string(cur))
			return json.RawMessage(`{"id":"a","n":20}`), nil
		})
		require.NoError(t, err)
		got, err := repo.Get("things", "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"a","n":20}`, string(got))

		recs, err := repo.List("things")
		require.NoError(t, err)
		id, _ := storage.RecordID(recs[1])
		assert.Equal(t, "a", id, "update keeps position")
	})

	t.Run("UpdateAbort", func(t *testing.T) {
		boom := errors.New("boom")
		err := repo.Update("things", "b", func(json.RawMessage) (json.RawMessage, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
		got, err := repo.Get("things", "b")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"b","n":1}`, string(got))
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		err := repo.Update("things", "missing", func(cur json.RawMessage) (json.RawMessage, error) {
			t.Fatal("fn must not run for a missing record")
			return cur, nil
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Isolation", func(t *testing.T) {
		got, err := repo.Get("things", "b")
		require.NoError(t, err)
		got[0] = 'X'
		again, err := repo.Get("things", "b")
		require.NoError(t, err)
		assert.Equal(t, byte('{'), again[0], "records must be returned as copies")
	})
}
