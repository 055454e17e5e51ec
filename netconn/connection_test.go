package netconn

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	logging "gopkg.in/op/go-logging.v1"

	"github.com/wherewindblow/spacelessd/queue"
	"github.com/wherewindblow/spacelessd/store"
	"github.com/wherewindblow/spacelessd/wire"
)

func testLogger() *logging.Logger {
	return logging.MustGetLogger("netconn_test")
}

type recordingOwner struct {
	closed chan int32
}

func newRecordingOwner() *recordingOwner {
	return &recordingOwner{closed: make(chan int32, 8)}
}

func (o *recordingOwner) OnClosed(id int32) {
	o.closed <- id
}

func newHarness() (client, server *Connection, clientInbound, serverInbound *queue.Queue) {
	a, b := net.Pipe()
	reg := wire.NewRegistry()
	clientStore := store.New()
	serverStore := store.New()
	clientInbound = queue.NewBounded("client-in", 16)
	serverInbound = queue.NewBounded("server-in", 16)

	server = New(1, b, PassiveOpen, false, serverStore, serverInbound, reg, newRecordingOwner(), testLogger())
	client = New(2, a, ActiveOpen, false, clientStore, clientInbound, reg, newRecordingOwner(), testLogger())
	return
}

func TestPlainHandshakeAndRoundTrip(t *testing.T) {
	client, server, _, serverInbound := newHarness()
	defer client.Close()
	defer server.Close()

	require.Eventually(t, func() bool { return client.Status() == StatusOpen }, time.Second, time.Millisecond)

	buf, err := wire.Allocate(5)
	require.NoError(t, err)
	buf.SetHeaderFields(wire.UserCommandBase, 7, 0)
	copy(buf.PlainBody(), []byte("hello"))

	require.NoError(t, client.Send(buf))

	require.Eventually(t, func() bool { return !serverInbound.IsEmpty() }, time.Second, time.Millisecond)
	entry, ok := serverInbound.PopNonBlocking()
	require.True(t, ok)
	require.Equal(t, server.ID(), entry.ConnID)
}

func TestVersionMismatchClosesConnection(t *testing.T) {
	a, b := net.Pipe()
	reg := wire.NewRegistry()
	st := store.New()
	inbound := queue.NewBounded("in", 4)
	owner := newRecordingOwner()
	server := New(1, b, PassiveOpen, false, st, inbound, reg, owner, testLogger())
	defer server.Close()

	go func() {
		bad := make([]byte, wire.HeaderLen)
		binary.LittleEndian.PutUint16(bad[0:2], wire.Version+1)
		a.Write(bad)
	}()

	select {
	case id := <-owner.closed:
		require.Equal(t, int32(1), id)
	case <-time.After(time.Second):
		t.Fatal("connection did not close on version mismatch")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	client, server, _, _ := newHarness()
	defer server.Close()

	require.Eventually(t, func() bool { return client.Status() == StatusOpen }, time.Second, time.Millisecond)
	client.Close()
	require.Eventually(t, func() bool { return client.Status() == StatusClosed }, time.Second, time.Millisecond)

	buf, err := wire.Allocate(1)
	require.NoError(t, err)
	err = client.Send(buf)
	require.Error(t, err)
}
