package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wherewindblow/spacelessd/store"
)

func TestBoundedPushPopFIFO(t *testing.T) {
	q := NewBounded("test", 4)
	require.True(t, q.IsEmpty())

	require.NoError(t, q.Push(Entry{PackageID: store.Handle(1)}))
	require.NoError(t, q.Push(Entry{PackageID: store.Handle(2)}))
	require.Equal(t, 2, q.Size())

	first, ok := q.PopNonBlocking()
	require.True(t, ok)
	require.Equal(t, store.Handle(1), first.PackageID)

	second, ok := q.PopNonBlocking()
	require.True(t, ok)
	require.Equal(t, store.Handle(2), second.PackageID)

	_, ok = q.PopNonBlocking()
	require.False(t, ok)
}

func TestBoundedPushFailsWhenFull(t *testing.T) {
	q := NewBounded("test", 1)
	require.NoError(t, q.Push(Entry{PackageID: store.Handle(1)}))
	err := q.Push(Entry{PackageID: store.Handle(2)})
	require.Error(t, err)
}

func TestUnboundedNeverFails(t *testing.T) {
	overflowed := 0
	q := NewUnbounded("in", 2, func(size int) { overflowed++ })
	defer q.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Push(Entry{PackageID: store.Handle(i + 1)}))
	}
	require.Equal(t, 10, q.Size())
	require.Greater(t, overflowed, 0)

	count := 0
	for {
		_, ok := q.PopNonBlocking()
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 10, count)
}

func TestTaskEntry(t *testing.T) {
	ran := false
	e := Entry{Caller: "test", Task: func() { ran = true }}
	require.True(t, e.IsTask())
	e.Task()
	require.True(t, ran)
}
