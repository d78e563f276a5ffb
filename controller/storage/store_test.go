package storage

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.CreateBucket("docs"))
	return s
}

func TestCreateList(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"a", "b", "c"} {
		d := doc{Name: name}
		require.NoError(t, s.Create("docs", func(id string) interface{} {
			d.ID = id
			return &d
		}))
	}

	var names []string
	require.NoError(t, s.List("docs", func(_ string, v []byte) error {
		var d doc
		require.NoError(t, json.Unmarshal(v, &d))
		names = append(names, d.Name)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestTail(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create("docs", func(id string) interface{} { return &doc{ID: id} }))
	}

	var ids []string
	require.NoError(t, s.Tail("docs", 2, func(id string, _ []byte) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Equal(t, []string{"000000000004", "000000000005"}, ids)

	ids = nil
	require.NoError(t, s.Tail("docs", 10, func(id string, _ []byte) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Len(t, ids, 5)
}

func TestMissingBucket(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Create("nope", func(string) interface{} { return nil }))
	assert.Error(t, s.List("nope", func(string, []byte) error { return nil }))
}
