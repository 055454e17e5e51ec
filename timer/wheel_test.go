package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOnceTimerFiresOnceThenGone(t *testing.T) {
	w := New(nil)
	fixedNow := time.Unix(1000, 0)
	w.now = func() time.Time { return fixedNow }

	fired := 0
	w.Register("test", time.Second, func() { fired++ }, Once, time.Millisecond)

	require.Equal(t, 0, w.ProcessExpired())
	fixedNow = fixedNow.Add(2 * time.Millisecond)
	require.Equal(t, 1, w.ProcessExpired())
	require.Equal(t, 1, fired)
	require.Equal(t, 0, w.Size())

	require.Equal(t, 0, w.ProcessExpired())
	require.Equal(t, 1, fired)
}

func TestFrequentTimerReArms(t *testing.T) {
	w := New(nil)
	fixedNow := time.Unix(2000, 0)
	w.now = func() time.Time { return fixedNow }

	fired := 0
	w.Register("tick", 10*time.Millisecond, func() { fired++ }, Frequent, time.Millisecond)

	fixedNow = fixedNow.Add(2 * time.Millisecond)
	require.Equal(t, 1, w.ProcessExpired())
	require.Equal(t, 1, w.Size())

	fixedNow = fixedNow.Add(20 * time.Millisecond)
	require.Equal(t, 1, w.ProcessExpired())
	require.Equal(t, 2, fired)
}

func TestRemoveCancelsPendingTimer(t *testing.T) {
	w := New(nil)
	fixedNow := time.Unix(3000, 0)
	w.now = func() time.Time { return fixedNow }

	fired := false
	id := w.Register("test", time.Millisecond, func() { fired = true }, Once, time.Millisecond)
	w.Remove(id)

	fixedNow = fixedNow.Add(time.Second)
	require.Equal(t, 0, w.ProcessExpired())
	require.False(t, fired)
}

func TestPanicInActionIsCaughtAndReported(t *testing.T) {
	var reportedCaller string
	var reportedErr error
	w := New(func(caller string, err error) {
		reportedCaller = caller
		reportedErr = err
	})
	fixedNow := time.Unix(4000, 0)
	w.now = func() time.Time { return fixedNow }

	w.Register("boom", time.Millisecond, func() { panic("kaboom") }, Once, time.Millisecond)
	fixedNow = fixedNow.Add(time.Second)

	require.Equal(t, 1, w.ProcessExpired())
	require.Equal(t, "boom", reportedCaller)
	require.Error(t, reportedErr)
}

func TestOrderingAcrossTimers(t *testing.T) {
	w := New(nil)
	fixedNow := time.Unix(5000, 0)
	w.now = func() time.Time { return fixedNow }

	var order []string
	w.Register("b", time.Millisecond, func() { order = append(order, "b") }, Once, 20*time.Millisecond)
	w.Register("a", time.Millisecond, func() { order = append(order, "a") }, Once, 10*time.Millisecond)

	fixedNow = fixedNow.Add(time.Second)
	require.Equal(t, 2, w.ProcessExpired())
	require.Equal(t, []string{"a", "b"}, order)
}
