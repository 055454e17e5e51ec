package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterFindRemove(t *testing.T) {
	s := New()

	h, buf, err := s.Register(5)
	require.NoError(t, err)
	require.NotZero(t, h)
	require.Equal(t, 1, s.Size())

	found, ok := s.Find(h)
	require.True(t, ok)
	require.Same(t, buf, found)

	s.Remove(h)
	require.Equal(t, 0, s.Size())

	_, ok = s.Find(h)
	require.False(t, ok)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := New()
	h, _, err := s.Register(0)
	require.NoError(t, err)
	s.Remove(h)
	require.NotPanics(t, func() { s.Remove(h) })
}

func TestHandlesAreDistinct(t *testing.T) {
	s := New()
	h1, _, err := s.Register(1)
	require.NoError(t, err)
	h2, _, err := s.Register(1)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestFindMissingHandle(t *testing.T) {
	s := New()
	_, ok := s.Find(Handle(99))
	require.False(t, ok)
}
