// registry.go - Transaction Registry and the multi-phase trigger-bind
// map (spec §4.I, §4.J), grounded on
// original_source/foundation/worker.cpp's Worker::trigger_transaction.
//
// trigger_transaction there keys a pending multi-phase wait off a
// single trigger_id and re-checks the command; Dispatch here
// additionally requires the inbound package's connection (or service)
// to match what the wait was armed with. A mismatch on either axis is
// dropped with no side effects on
// the binding, which stays armed for a later, correctly-addressed
// reply (spec testable property 6, scenario S5). A resumed binding is
// consumed exactly once, by the single inbound package that matches it.
// Copyright (C) 2024  spacelessd authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package txn implements command dispatch: one-shot handlers keyed by
// command, and the multi-phase trigger_id bind map that lets a handler
// send a request and resume when (or if) a specific reply arrives
// (spec §4.I, §4.J).
package txn

import (
	"fmt"
	"sync"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/wherewindblow/spacelessd/internal/safecall"
	"github.com/wherewindblow/spacelessd/wire"
)

// Sender is the capability handlers use to transmit a package, either
// to a specific connection or to a registered service (implemented by
// *reactor.Reactor).
type Sender interface {
	Enqueue(connID, serviceID int32, buf *wire.Buffer) error
}

// Context carries everything a handler needs about the package
// currently being dispatched.
type Context struct {
	Header wire.Header
	Body   []byte
	ConnID int32
	Sender Sender
}

// Handler processes an inbound package matched by command (one-shot)
// or by a pending trigger binding (a phase of a multi-phase
// transaction). Returning an error causes the framework's default
// error handler to send RspError to the package's origin connection
// (spec §7).
type Handler func(ctx *Context) error

// WaitTarget addresses where a pending multi-phase wait's eventual
// default error (or a resumed phase handler's own reply) should go:
// either a specific connection, or a registered service when the wait
// was armed without one (e.g. a periodic task initiating a request with
// no inbound connection of its own). Set exactly one of the two fields;
// Enqueue's own connID==0-means-resolve-by-service convention decides
// which applies, mirroring the original's conn_id/service_id
// wait_next_phase overloads collapsed into a single method.
type WaitTarget struct {
	ConnID    int32
	ServiceID int32
}

type waitEntry struct {
	expectedCommand int32
	expectFrom      WaitTarget
	origin          WaitTarget
	originTriggerID int32
	handler         Handler
}

// PeerResolver lets the Registry verify that an inbound reply addressed
// to a service-bound wait actually arrived on the connection currently
// backing that service (spec §4.J's conn_id/service_id match check),
// implemented by *svc.Manager.
type PeerResolver interface {
	ConnIDFor(serviceID int32) (int32, bool)
}

// Registry holds the one-shot command table and the trigger_id ->
// pending-phase bind map. A single Registry is shared by every
// connection; dispatch always happens from the worker goroutine.
type Registry struct {
	mu          sync.Mutex
	oneShot     map[int32]Handler
	waiting     map[int32]*waitEntry
	nextTrigger int32
	peers       PeerResolver
	log         *logging.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		oneShot:     make(map[int32]Handler),
		waiting:     make(map[int32]*waitEntry),
		nextTrigger: 1,
	}
}

// SetPeerResolver wires the service->connection lookup Dispatch needs to
// verify service-bound waits. Must be called before Dispatch observes
// any service-bound wait; safe to leave unset for processes with no
// service-addressed multi-phase transactions.
func (r *Registry) SetPeerResolver(p PeerResolver) { r.peers = p }

// SetLogger wires a logger Dispatch uses to report dropped foreign or
// mismatched replies (spec §4.J "not fit with waiting info").
func (r *Registry) SetLogger(log *logging.Logger) { r.log = log }

// RegisterOneShot binds command to h. Registering the same command
// twice is rejected (spec §4.I duplicate detection).
func (r *Registry) RegisterOneShot(command int32, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.oneShot[command]; exists {
		return fmt.Errorf("%w: command %d", wire.ErrDuplicateTransaction, command)
	}
	r.oneShot[command] = h
	return nil
}

// NextTriggerID returns a fresh, process-unique trigger id for a
// handler that is about to send a request and wait for its reply.
func (r *Registry) NextTriggerID() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextTrigger
	r.nextTrigger++
	if id == 0 {
		id = r.nextTrigger
		r.nextTrigger++
	}
	return id
}

// WaitNextPhase registers triggerID -> handler: when a package whose
// header trigger_id equals triggerID and whose command equals
// expectedCommand arrives on the connection (or via the service)
// identified by expectFrom, handler runs in its place. A package that
// matches triggerID but not expectFrom or expectedCommand is dropped
// without consuming the binding (spec §4.J: "on mismatch, drop with
// error log... prevents foreign interruption"; testable property 6:
// "no partial side-effects on the MPT").
//
// triggerID is a process-local correlation id (from NextTriggerID),
// distinct from originTriggerID, which is the trigger_id the waiting
// origin connection itself expects echoed back in any reply or default
// error this wait eventually produces — a handler relaying a multi-hop
// request passes the inbound request's own self_id for that purpose.
// origin is who is itself waiting on this multi-phase transaction to
// finish, used by Timeout to address the default RspError if no reply
// ever arrives (spec §4.J). expectFrom and origin are frequently the
// same peer (a direct two-party exchange) but differ for a relay: the
// node sends a hop request to expectFrom (the peer it is now waiting
// on) while origin remains the client that is waiting on the relay as a
// whole.
func (r *Registry) WaitNextPhase(triggerID, expectedCommand int32, expectFrom WaitTarget, origin WaitTarget, originTriggerID int32, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.waiting[triggerID]; exists {
		return fmt.Errorf("%w: trigger %d", wire.ErrDuplicateMPT, triggerID)
	}
	r.waiting[triggerID] = &waitEntry{
		expectedCommand: expectedCommand,
		expectFrom:      expectFrom,
		origin:          origin,
		originTriggerID: originTriggerID,
		handler:         handler,
	}
	return nil
}

// CancelWait removes a pending binding without invoking it, used when
// a multi-phase transaction is abandoned for a reason other than its
// timer firing (e.g. the owning connection closed).
func (r *Registry) CancelWait(triggerID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiting, triggerID)
}

// Timeout is invoked by the worker's timer wheel when a multi-phase
// wait's deadline passes with no reply. It removes the binding (if
// still pending; a race with a just-arrived reply is resolved in the
// reply's favor) and reports the timeout to the waiting origin
// connection.
func (r *Registry) Timeout(triggerID int32, sender Sender) {
	r.mu.Lock()
	entry, ok := r.waiting[triggerID]
	if ok {
		delete(r.waiting, triggerID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	sendDefaultError(sender, entry.origin, entry.originTriggerID, wire.ErrTransactionTimeout)
}

// Dispatch routes one inbound package: first against the trigger bind
// map, falling back to the one-shot command table, falling back to the
// default error handler.
func (r *Registry) Dispatch(ctx *Context) {
	r.mu.Lock()
	entry, bound := r.waiting[ctx.Header.TriggerID]
	r.mu.Unlock()

	if bound {
		if ctx.Header.Command == entry.expectedCommand && r.peerMatches(entry.expectFrom, ctx.ConnID) {
			r.mu.Lock()
			// Re-check under lock: a concurrent Timeout may have
			// removed the binding between the peek above and here.
			_, stillBound := r.waiting[ctx.Header.TriggerID]
			if stillBound {
				delete(r.waiting, ctx.Header.TriggerID)
			}
			r.mu.Unlock()
			if !stillBound {
				return
			}
			runPhaseHandler(entry, ctx)
			return
		}
		if r.log != nil {
			r.log.Warningf("txn: trigger %d: inbound conn=%d cmd=%d not fit with waiting info (want conn/service=%+v cmd=%d)",
				ctx.Header.TriggerID, ctx.ConnID, ctx.Header.Command, entry.expectFrom, entry.expectedCommand)
		}
		return
	}

	r.mu.Lock()
	h, ok := r.oneShot[ctx.Header.Command]
	r.mu.Unlock()
	if !ok {
		sendDefaultError(ctx.Sender, WaitTarget{ConnID: ctx.ConnID}, ctx.Header.SelfID, wire.ErrUnknownCommand)
		return
	}
	runHandler(h, ctx)
}

// peerMatches reports whether connID, the connection an inbound package
// actually arrived on, is the one expect identifies: directly, if
// expect names a connection id, or via the service manager's current
// connection cache, if expect names a service id (spec §4.J).
func (r *Registry) peerMatches(expect WaitTarget, connID int32) bool {
	if expect.ConnID != 0 {
		return connID == expect.ConnID
	}
	if expect.ServiceID != 0 {
		if r.peers == nil {
			return false
		}
		resolved, ok := r.peers.ConnIDFor(expect.ServiceID)
		return ok && resolved == connID
	}
	return false
}

// runHandler invokes a one-shot command handler. A thrown or returned
// error is reported to the package's own origin connection, echoing
// that package's own self_id as the trigger source (spec §7, §4.A
// get_trigger_source): a one-shot command is always an original,
// unsolicited request as far as this dispatch is concerned.
func runHandler(h Handler, ctx *Context) {
	var handlerErr error
	if panicErr := safecall.Call(func() {
		handlerErr = h(ctx)
	}); panicErr != nil {
		sendDefaultError(ctx.Sender, WaitTarget{ConnID: ctx.ConnID}, ctx.Header.SelfID, panicErr)
		return
	}
	if handlerErr != nil {
		sendDefaultError(ctx.Sender, WaitTarget{ConnID: ctx.ConnID}, ctx.Header.SelfID, handlerErr)
	}
}

// runPhaseHandler invokes a resumed multi-phase handler. Unlike
// runHandler, an error here is reported to entry.origin using
// entry.originTriggerID — the connection (or service) that is waiting
// on the multi-phase transaction as a whole and the trigger_id it
// expects echoed back, not the peer connection ctx just arrived on
// (spec §4.J on_error default path, supplemented feature: error handler
// invocation on the trigger source of the *originating* package).
func runPhaseHandler(entry *waitEntry, ctx *Context) {
	var handlerErr error
	if panicErr := safecall.Call(func() {
		handlerErr = entry.handler(ctx)
	}); panicErr != nil {
		sendDefaultError(ctx.Sender, entry.origin, entry.originTriggerID, panicErr)
		return
	}
	if handlerErr != nil {
		sendDefaultError(ctx.Sender, entry.origin, entry.originTriggerID, handlerErr)
	}
}

// WaitingCount returns the number of pending multi-phase bindings,
// used by the worker's periodic size-probe timer (spec §4.K).
func (r *Registry) WaitingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

func sendDefaultError(sender Sender, origin WaitTarget, triggerID int32, err error) {
	body := &wire.RspErrorBody{Result: wire.CodeFor(err)}
	buf, encErr := wire.Encode(body, wire.CmdRspError, 0, triggerID)
	if encErr != nil {
		return
	}
	_ = sender.Enqueue(origin.ConnID, origin.ServiceID, buf)
}
