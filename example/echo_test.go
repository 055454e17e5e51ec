package example

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wherewindblow/spacelessd/txn"
	"github.com/wherewindblow/spacelessd/wire"
)

type fakeSender struct {
	sent []struct {
		connID, serviceID int32
		buf               *wire.Buffer
	}
}

func (f *fakeSender) Enqueue(connID, serviceID int32, buf *wire.Buffer) error {
	f.sent = append(f.sent, struct {
		connID, serviceID int32
		buf               *wire.Buffer
	}{connID, serviceID, buf})
	return nil
}

// TestEchoEchoesSelfIDAsTriggerID covers scenario S1's literal
// requirement: a request carrying self_id=17 must be answered with a
// reply whose trigger_id is 17, regardless of whatever trigger_id (if
// any) the request itself carried.
func TestEchoEchoesSelfIDAsTriggerID(t *testing.T) {
	schema := wire.NewRegistry()
	registry := txn.NewRegistry()
	RegisterEcho(schema, registry)

	sender := &fakeSender{}
	reqBuf, err := wire.Encode(&EchoRequest{Text: "hi"}, CmdEchoRequest, 17, 0)
	require.NoError(t, err)

	registry.Dispatch(&txn.Context{
		Header: reqBuf.Header(),
		Body:   reqBuf.PlainBody(),
		ConnID: 3,
		Sender: sender,
	})

	require.Len(t, sender.sent, 1)
	require.Equal(t, int32(3), sender.sent[0].connID)
	require.Equal(t, int32(17), sender.sent[0].buf.Header().TriggerID)

	resp := &EchoResponse{}
	require.NoError(t, resp.Unmarshal(sender.sent[0].buf.PlainBody()))
	require.Equal(t, "hi", resp.Text)
}
