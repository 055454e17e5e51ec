package svc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	dialCount int
	openConns map[int32]bool
	nextConn  int32
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{openConns: make(map[int32]bool), nextConn: 1}
}

func (f *fakeResolver) IsOpen(connID int32) bool { return f.openConns[connID] }

func (f *fakeResolver) Dial(ip string, port uint16) (int32, error) {
	f.dialCount++
	id := f.nextConn
	f.nextConn++
	f.openConns[id] = true
	return id, nil
}

func TestRegisterIsIdempotentPerAddress(t *testing.T) {
	m := New(newFakeResolver())
	a := m.Register("10.0.0.2", 7000)
	b := m.Register("10.0.0.2", 7000)
	require.Equal(t, a, b)
}

func TestGetOrCreateConnectionCaches(t *testing.T) {
	resolver := newFakeResolver()
	m := New(resolver)
	id := m.Register("10.0.0.2", 7000)

	conn1, err := m.GetOrCreateConnection(id)
	require.NoError(t, err)
	require.Equal(t, 1, resolver.dialCount)

	conn2, err := m.GetOrCreateConnection(id)
	require.NoError(t, err)
	require.Equal(t, conn1, conn2)
	require.Equal(t, 1, resolver.dialCount, "cached connection should not re-dial")
}

func TestGetOrCreateConnectionRedialsWhenClosed(t *testing.T) {
	resolver := newFakeResolver()
	m := New(resolver)
	id := m.Register("10.0.0.2", 7000)

	conn1, err := m.GetOrCreateConnection(id)
	require.NoError(t, err)

	resolver.openConns[conn1] = false
	conn2, err := m.GetOrCreateConnection(id)
	require.NoError(t, err)
	require.NotEqual(t, conn1, conn2)
	require.Equal(t, 2, resolver.dialCount)
}

func TestGetOrCreateConnectionUnknownService(t *testing.T) {
	m := New(newFakeResolver())
	_, err := m.GetOrCreateConnection(ID(99))
	require.Error(t, err)
}
