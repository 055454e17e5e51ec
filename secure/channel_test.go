package secure

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wherewindblow/spacelessd/wire"
)

func TestHandshakeAndRoundTrip(t *testing.T) {
	server := New()
	client := New()

	pub, err := server.BeginServer()
	require.NoError(t, err)
	require.False(t, server.IsStarted())

	cipherKey, err := client.BeginClient(pub)
	require.NoError(t, err)
	require.True(t, client.IsStarted())

	err = server.CompleteServer(cipherKey)
	require.NoError(t, err)
	require.True(t, server.IsStarted())

	buf, err := wire.Allocate(5)
	require.NoError(t, err)
	buf.SetHeaderFields(200, 17, 0)
	copy(buf.PlainBody(), []byte("hello"))

	ready, err := client.Send(buf)
	require.NoError(t, err)
	require.True(t, ready)

	h := buf.Header()
	decoded, err := server.Decrypt(h, buf.CipherCapacity())
	require.NoError(t, err)
	require.Equal(t, "hello", string(decoded.PlainBody()))
	require.Equal(t, int32(200), decoded.Header().Command)
	require.Equal(t, int32(17), decoded.Header().SelfID)
}

func TestSendBeforeStartedQueuesPending(t *testing.T) {
	c := New()
	buf, err := wire.Allocate(3)
	require.NoError(t, err)

	ready, err := c.Send(buf)
	require.NoError(t, err)
	require.False(t, ready)

	drained, err := c.Drain()
	require.NoError(t, err)
	require.Len(t, drained, 1)

	drained, err = c.Drain()
	require.NoError(t, err)
	require.Empty(t, drained)
}

func TestCompleteServerWithoutBeginIsRejected(t *testing.T) {
	server := New()
	err := server.CompleteServer(make([]byte, 128))
	require.ErrorIs(t, err, wire.ErrUnexpectedSecurityNotification)
}

func TestDecryptBeforeHandshakeFails(t *testing.T) {
	c := New()
	_, err := c.Decrypt(wire.Header{}, make([]byte, 16))
	require.ErrorIs(t, err, wire.ErrDecrypt)
}
