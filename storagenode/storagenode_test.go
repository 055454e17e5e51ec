package storagenode

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storagenode.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(1)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(1, []byte("hello")))
	data, ok, err := s.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)

	require.NoError(t, s.Delete(1))
	_, ok, err = s.Get(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storagenode.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(7, []byte("persisted")))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	data, ok, err := s2.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("persisted"), data)
}
