package example

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wherewindblow/spacelessd/timer"
	"github.com/wherewindblow/spacelessd/txn"
	"github.com/wherewindblow/spacelessd/wire"
)

const peerServiceID = 500

// TestRelayRoundTripPreservesOriginTriggerID exercises the two-hop
// relay end to end against a bare txn.Registry: a RelayRequest from
// connection 3 (self_id=17) is forwarded to the peer service as a
// FetchRequest, and the peer's FetchResponse (addressed by the
// service's own connection, conn 9) resumes the transaction and
// replies to connection 3 with the origin's self_id echoed back as
// trigger_id — never the hop's own internal trigger.
func TestRelayRoundTripPreservesOriginTriggerID(t *testing.T) {
	schema := wire.NewRegistry()
	registry := txn.NewRegistry()
	registry.SetPeerResolver(fakeRelayResolver{peerServiceID: 9})
	wheel := timer.New(func(caller string, err error) {})
	RegisterRelay(schema, registry, wheel, peerServiceID)

	sender := &fakeSender{}
	reqBuf, err := wire.Encode(&RelayRequest{Key: "k"}, CmdRelayRequest, 17, 0)
	require.NoError(t, err)

	registry.Dispatch(&txn.Context{
		Header: reqBuf.Header(),
		Body:   reqBuf.PlainBody(),
		ConnID: 3,
		Sender: sender,
	})

	require.Len(t, sender.sent, 1, "the relay request should have gone out to the peer service")
	hop := sender.sent[0]
	require.Equal(t, int32(0), hop.connID)
	require.Equal(t, int32(peerServiceID), hop.serviceID)

	fetchReq := &FetchRequest{}
	require.NoError(t, fetchReq.Unmarshal(hop.buf.PlainBody()))
	require.Equal(t, "k", fetchReq.Key)

	// The peer replies: FetchResponse carrying the hop's own self_id
	// back as its trigger_id, arriving on the connection backing the
	// peer service (conn 9, per fakeRelayResolver).
	respBuf, err := wire.Encode(&FetchResponse{Key: "k", Value: "value-for-k"}, CmdFetchResponse, 0, hop.buf.Header().SelfID)
	require.NoError(t, err)

	registry.Dispatch(&txn.Context{
		Header: respBuf.Header(),
		Body:   respBuf.PlainBody(),
		ConnID: 9,
		Sender: sender,
	})

	require.Len(t, sender.sent, 2, "the resumed phase should reply to the origin connection")
	final := sender.sent[1]
	require.Equal(t, int32(3), final.connID)
	require.Equal(t, int32(17), final.buf.Header().TriggerID, "origin's self_id=17 must be echoed back, not the hop's internal trigger")

	relayResp := &RelayResponse{}
	require.NoError(t, relayResp.Unmarshal(final.buf.PlainBody()))
	require.Equal(t, "value-for-k", relayResp.Value)
}

type fakeRelayResolver map[int32]int32

func (f fakeRelayResolver) ConnIDFor(serviceID int32) (int32, bool) {
	id, ok := f[serviceID]
	return id, ok
}
