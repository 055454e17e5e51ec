package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testMsg struct {
	Text string `cbor:"text"`
	N    int    `cbor:"n"`
}

func (m *testMsg) Marshal() ([]byte, error)       { return marshalCBOR(m) }
func (m *testMsg) Unmarshal(data []byte) error     { return unmarshalCBOR(data, m) }

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: Version, Command: 101, SelfID: 17, TriggerID: 42, ContentLength: 5}
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	require.Equal(t, h, ParseHeader(buf))
}

func TestCipherLen(t *testing.T) {
	require.Equal(t, 0, CipherLen(0))
	require.Equal(t, 16, CipherLen(1))
	require.Equal(t, 16, CipherLen(16))
	require.Equal(t, 32, CipherLen(17))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Register(200, "TestMsg", &testMsg{})

	m := &testMsg{Text: "hello", N: 7}
	buf, err := Encode(m, 200, 17, 0)
	require.NoError(t, err)
	require.Equal(t, int32(200), buf.Header().Command)
	require.Equal(t, int32(17), buf.Header().SelfID)

	got, err := Decode(buf, reg)
	require.NoError(t, err)
	gotMsg, ok := got.(*testMsg)
	require.True(t, ok)
	require.Equal(t, m, gotMsg)
}

func TestDecodeUnknownCommand(t *testing.T) {
	reg := NewRegistry()
	buf, err := Allocate(0)
	require.NoError(t, err)
	buf.SetHeaderFields(999, 0, 0)
	_, err = Decode(buf, reg)
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestAllocateReservesCipherCapacity(t *testing.T) {
	buf, err := Allocate(5)
	require.NoError(t, err)
	require.Len(t, buf.Data(), HeaderLen+16)
	require.Len(t, buf.PlainBody(), 5)
	require.Len(t, buf.CipherCapacity(), 16)
}

func TestValidateContentLength(t *testing.T) {
	require.ErrorIs(t, ValidateContentLength(-1), ErrParse)
	require.ErrorIs(t, ValidateContentLength(MaxBody+1), ErrBufferTooLarge)
	require.NoError(t, ValidateContentLength(MaxBody))
}

func TestTriggerSource(t *testing.T) {
	buf, err := Allocate(0)
	require.NoError(t, err)
	buf.SetHeaderFields(55, 17, 0)
	require.Equal(t, TriggerSource{Command: 55, SelfID: 17}, buf.TriggerSource())
}
