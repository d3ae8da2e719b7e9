package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends under test. Redis is exercised in integration environments only;
// Memory and SQLite must behave identically through the Store interface.
func testBackends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, "AAAAAA", []byte(`{"id":"AAAAAA"}`)))

			got, err := s.Load(ctx, "AAAAAA")
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":"AAAAAA"}`, string(got))

			// Save is an upsert.
			require.NoError(t, s.Save(ctx, "AAAAAA", []byte(`{"id":"AAAAAA","v":2}`)))
			got, err = s.Load(ctx, "AAAAAA")
			require.NoError(t, err)
			assert.Contains(t, string(got), `"v":2`)

			require.NoError(t, s.Delete(ctx, "AAAAAA"))
			_, err = s.Load(ctx, "AAAAAA")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(ctx, "NOSUCH")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSaveBatchAndListIDs(t *testing.T) {
	ctx := context.Background()
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SaveBatch(ctx, map[string][]byte{
				"GAME01": []byte(`{}`),
				"GAME02": []byte(`{}`),
				"GAME03": []byte(`{}`),
			}))
			ids, err := s.ListIDs(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"GAME01", "GAME02", "GAME03"}, ids)
		})
	}
}

func TestSaveBatchEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, s.SaveBatch(ctx, nil))
		})
	}
}

func TestReserveID(t *testing.T) {
	ctx := context.Background()
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.ReserveID(ctx, "FRESH1")
			require.NoError(t, err)
			assert.True(t, ok)

			// Double reservation fails.
			ok, err = s.ReserveID(ctx, "FRESH1")
			require.NoError(t, err)
			assert.False(t, ok)

			// An id with a live session is never reservable.
			require.NoError(t, s.Save(ctx, "INUSE1", []byte(`{}`)))
			ok, err = s.ReserveID(ctx, "INUSE1")
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting the session frees the reservation too.
			require.NoError(t, s.Delete(ctx, "FRESH1"))
			ok, err = s.ReserveID(ctx, "FRESH1")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestMemoryCopiesOnSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte(`{"id":"X"}`)
	require.NoError(t, m.Save(ctx, "COPY01", buf))
	buf[2] = 'z' // caller mutation must not leak into the store

	got, err := m.Load(ctx, "COPY01")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"X"}`, string(got))

	got[2] = 'z' // nor must reader mutation
	again, err := m.Load(ctx, "COPY01")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"X"}`, string(again))
}
