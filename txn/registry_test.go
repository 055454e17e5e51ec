package txn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wherewindblow/spacelessd/wire"
)

type sentPackage struct {
	connID, serviceID int32
	buf               *wire.Buffer
}

type fakeSender struct {
	sent []sentPackage
}

func (f *fakeSender) Enqueue(connID, serviceID int32, buf *wire.Buffer) error {
	f.sent = append(f.sent, sentPackage{connID, serviceID, buf})
	return nil
}

func TestOneShotDispatch(t *testing.T) {
	reg := NewRegistry()
	var gotBody []byte
	require.NoError(t, reg.RegisterOneShot(200, func(ctx *Context) error {
		gotBody = ctx.Body
		return nil
	}))

	sender := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 200}, Body: []byte("hi"), ConnID: 5, Sender: sender})

	require.Equal(t, []byte("hi"), gotBody)
	require.Empty(t, sender.sent)
}

func TestUnknownCommandSendsDefaultError(t *testing.T) {
	reg := NewRegistry()
	sender := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 999, TriggerID: 42}, ConnID: 5, Sender: sender})

	require.Len(t, sender.sent, 1)
	require.Equal(t, int32(5), sender.sent[0].connID)
	msg, err := wire.Decode(sender.sent[0].buf, registryForErrorDecode())
	require.NoError(t, err)
	require.Equal(t, wire.CodeCommandNotExist, msg.(*wire.RspErrorBody).Result)
}

func TestHandlerErrorSendsDefaultError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, reg.RegisterOneShot(201, func(ctx *Context) error { return boom }))

	sender := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 201}, ConnID: 9, Sender: sender})
	require.Len(t, sender.sent, 1)
}

func TestHandlerPanicIsCaughtAndReported(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterOneShot(202, func(ctx *Context) error { panic("kaboom") }))

	sender := &fakeSender{}
	require.NotPanics(t, func() {
		reg.Dispatch(&Context{Header: wire.Header{Command: 202}, ConnID: 9, Sender: sender})
	})
	require.Len(t, sender.sent, 1)
}

func TestMultiPhaseWaitMatchesAndConsumesBinding(t *testing.T) {
	reg := NewRegistry()
	trigger := reg.NextTriggerID()
	var resumed bool
	require.NoError(t, reg.WaitNextPhase(trigger, 300, WaitTarget{ConnID: 7}, WaitTarget{ConnID: 5}, 77, func(ctx *Context) error {
		resumed = true
		return nil
	}))

	sender := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 300, TriggerID: trigger}, ConnID: 7, Sender: sender})
	require.True(t, resumed)

	// A second package reusing the same trigger_id finds no binding:
	// it falls through to the (unregistered) one-shot table.
	sender2 := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 300, TriggerID: trigger}, ConnID: 7, Sender: sender2})
	require.Len(t, sender2.sent, 1)
}

// TestMultiPhaseCommandMismatchLeavesBindingArmed covers testable
// property 6: a reply on the right connection but the wrong command is
// dropped with no side effects, and the binding survives to match a
// later, correctly-commanded reply.
func TestMultiPhaseCommandMismatchLeavesBindingArmed(t *testing.T) {
	reg := NewRegistry()
	trigger := reg.NextTriggerID()
	var resumed bool
	require.NoError(t, reg.WaitNextPhase(trigger, 300, WaitTarget{ConnID: 7}, WaitTarget{ConnID: 5}, 77, func(ctx *Context) error {
		resumed = true
		return nil
	}))

	sender := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 999, TriggerID: trigger}, ConnID: 7, Sender: sender})
	require.False(t, resumed)
	require.Empty(t, sender.sent, "a mismatch is dropped silently, not reported as an error")

	// The binding is still armed: the correctly-commanded reply now
	// matches.
	sender2 := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 300, TriggerID: trigger}, ConnID: 7, Sender: sender2})
	require.True(t, resumed)
	require.Empty(t, sender2.sent)
}

// TestMultiPhaseForeignConnectionRejected covers spec scenario S5: a
// reply with the right trigger_id and command but from a connection
// other than the one the wait is bound to is dropped, and the binding
// remains armed for the legitimate peer.
func TestMultiPhaseForeignConnectionRejected(t *testing.T) {
	reg := NewRegistry()
	trigger := reg.NextTriggerID()
	var resumed bool
	require.NoError(t, reg.WaitNextPhase(trigger, 200, WaitTarget{ConnID: 42}, WaitTarget{ConnID: 5}, 77, func(ctx *Context) error {
		resumed = true
		return nil
	}))

	foreign := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 200, TriggerID: trigger}, ConnID: 999, Sender: foreign})
	require.False(t, resumed, "a reply from a foreign connection must not resume the transaction")
	require.Empty(t, foreign.sent)

	legit := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 200, TriggerID: trigger}, ConnID: 42, Sender: legit})
	require.True(t, resumed)
}

// TestMultiPhaseServiceBoundPeerResolvedViaResolver covers the
// service-addressed variant of the same check: the wait is bound to a
// service id, and Dispatch consults the PeerResolver to confirm the
// inbound connection is the one currently backing that service.
func TestMultiPhaseServiceBoundPeerResolvedViaResolver(t *testing.T) {
	reg := NewRegistry()
	reg.SetPeerResolver(fakePeerResolver{100: 7})
	trigger := reg.NextTriggerID()
	var resumed bool
	require.NoError(t, reg.WaitNextPhase(trigger, 200, WaitTarget{ServiceID: 100}, WaitTarget{ConnID: 5}, 77, func(ctx *Context) error {
		resumed = true
		return nil
	}))

	wrong := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 200, TriggerID: trigger}, ConnID: 8, Sender: wrong})
	require.False(t, resumed)

	right := &fakeSender{}
	reg.Dispatch(&Context{Header: wire.Header{Command: 200, TriggerID: trigger}, ConnID: 7, Sender: right})
	require.True(t, resumed)
}

type fakePeerResolver map[int32]int32

func (f fakePeerResolver) ConnIDFor(serviceID int32) (int32, bool) {
	id, ok := f[serviceID]
	return id, ok
}

func TestTimeoutReportsToOriginConnection(t *testing.T) {
	reg := NewRegistry()
	trigger := reg.NextTriggerID()
	require.NoError(t, reg.WaitNextPhase(trigger, 300, WaitTarget{ConnID: 11}, WaitTarget{ConnID: 11}, 88, func(ctx *Context) error { return nil }))

	sender := &fakeSender{}
	reg.Timeout(trigger, sender)
	require.Len(t, sender.sent, 1)
	require.Equal(t, int32(11), sender.sent[0].connID)
	require.Equal(t, int32(88), sender.sent[0].buf.Header().TriggerID)

	// Timing out twice (e.g. a stray duplicate timer fire) is a no-op.
	reg.Timeout(trigger, sender)
	require.Len(t, sender.sent, 1)
}

func registryForErrorDecode() *wire.Registry {
	reg := wire.NewRegistry()
	reg.Register(wire.CmdRspError, "rsp_error", &wire.RspErrorBody{})
	return reg
}
