// reactor.go - the network-facing half of the framework: listeners,
// the connection table, and the outbound-queue drain loop (spec §4.E),
// grounded on original_source/foundation/network.h's
// NetworkReactor/NetworkManagerImpl.
//
// The original reactor is the single thread that owns every socket and
// drives the OS's non-blocking poll. This port keeps the "one thread
// decides what to do with outbound traffic and who owns the connection
// table" invariant by running exactly one drain-outbound goroutine and
// serializing the connection table behind a mutex; the blocking socket
// I/O itself happens in each netconn.Connection's own goroutines (see
// netconn's package doc).
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

// Package reactor owns listeners and active-open connections, and
// drains the outbound queue the worker writes to, resolving each entry
// to a live Connection and handing it off for transmission (spec §4.E).
package reactor

import (
	"fmt"
	"net"
	"sync"
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/wherewindblow/spacelessd/internal/safecall"
	"github.com/wherewindblow/spacelessd/internal/task"
	"github.com/wherewindblow/spacelessd/netconn"
	"github.com/wherewindblow/spacelessd/queue"
	"github.com/wherewindblow/spacelessd/store"
	"github.com/wherewindblow/spacelessd/svc"
	"github.com/wherewindblow/spacelessd/wire"
)

// idleBackoff is how long the drain loop sleeps after finding the
// outbound queue empty, matching the worker's own idle-backoff policy
// (spec §4.K).
const idleBackoff = time.Millisecond

// Reactor owns every connection this process holds open, whether
// accepted (passive) or dialed (active), and the listeners that accept
// new ones.
type Reactor struct {
	task.Worker

	store    *store.Store
	inbound  *queue.Queue
	outbound *queue.Queue
	reg      *wire.Registry
	svcMgr   *svc.Manager
	log      *logging.Logger

	mu         sync.Mutex
	nextConnID int32
	conns      map[int32]*netconn.Connection
	listeners  []net.Listener
}

// New creates a Reactor. inbound is the queue Connections push decoded
// packages onto; outbound is the queue the worker pushes replies and
// service requests onto for this Reactor to transmit.
func New(st *store.Store, inbound, outbound *queue.Queue, reg *wire.Registry, log *logging.Logger) *Reactor {
	r := &Reactor{
		store:      st,
		inbound:    inbound,
		outbound:   outbound,
		reg:        reg,
		log:        log,
		nextConnID: 1,
		conns:      make(map[int32]*netconn.Connection),
	}
	r.svcMgr = svc.New(r)
	return r
}

// Services returns the service manager wired to this reactor's dial
// capability, for callers that register symbolic (ip, port) peers.
func (r *Reactor) Services() *svc.Manager { return r.svcMgr }

// Addrs returns the addresses of every listener currently open, in the
// order Listen was called. Used by callers (and tests) that passed
// port 0 and need the OS-assigned port back.
func (r *Reactor) Addrs() []net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs := make([]net.Addr, len(r.listeners))
	for i, ln := range r.listeners {
		addrs[i] = ln.Addr()
	}
	return addrs
}

// Start begins draining the outbound queue. Listen must be called
// separately for each configured listen address.
func (r *Reactor) Start() {
	r.Go(r.drainOutboundLoop)
}

// Listen opens a TCP listener and accepts connections on it, each
// handshaking with the given security policy. Port 0 lets the OS pick
// a free port; the listener's actual address is returned so callers
// (and tests) can discover it.
func (r *Reactor) Listen(ip string, port uint16, security bool) (net.Addr, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, fmt.Errorf("reactor: listen %s:%d: %w", ip, port, err)
	}

	r.mu.Lock()
	r.listeners = append(r.listeners, ln)
	r.mu.Unlock()

	r.Go(func() { r.acceptLoop(ln, security) })
	return ln.Addr(), nil
}

func (r *Reactor) acceptLoop(ln net.Listener, security bool) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-r.HaltCh():
				return
			default:
			}
			r.log.Warningf("reactor: accept on %s: %v", ln.Addr(), err)
			return
		}
		r.addConnection(conn, netconn.PassiveOpen, security)
	}
}

func (r *Reactor) addConnection(raw net.Conn, openType netconn.OpenType, security bool) *netconn.Connection {
	r.mu.Lock()
	id := r.nextConnID
	r.nextConnID++
	if id == 0 {
		id = r.nextConnID
		r.nextConnID++
	}
	r.mu.Unlock()

	conn := netconn.New(id, raw, openType, security, r.store, r.inbound, r.reg, r, r.log)

	r.mu.Lock()
	r.conns[id] = conn
	r.mu.Unlock()
	return conn
}

// Dial implements svc.ConnResolver: it opens a fresh active-open
// connection to (ip, port). The remote side's NTF_SECURITY_SETTING
// decides whether it ends up secured.
func (r *Reactor) Dial(ip string, port uint16) (int32, error) {
	raw, err := net.Dial("tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return 0, fmt.Errorf("reactor: dial %s:%d: %w", ip, port, err)
	}
	conn := r.addConnection(raw, netconn.ActiveOpen, false)
	return conn.ID(), nil
}

// IsOpen implements svc.ConnResolver.
func (r *Reactor) IsOpen(connID int32) bool {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	r.mu.Unlock()
	return ok && conn.IsOpen()
}

// OnClosed implements netconn.Owner: it drops the connection from the
// table once its goroutines have fully wound down.
func (r *Reactor) OnClosed(id int32) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Enqueue stores buf and pushes it onto the outbound queue addressed
// either to a specific connection id or a registered service id,
// exactly one of which should be nonzero. It is the entry point
// handlers use to send a reply or originate a request (spec §4.E/§4.K).
func (r *Reactor) Enqueue(connID, serviceID int32, buf *wire.Buffer) error {
	handle, err := r.store.Put(buf)
	if err != nil {
		return err
	}
	if err := r.outbound.Push(queue.Entry{ConnID: connID, ServiceID: serviceID, PackageID: handle}); err != nil {
		r.store.Remove(handle)
		return err
	}
	return nil
}

func (r *Reactor) drainOutboundLoop() {
	for {
		select {
		case <-r.HaltCh():
			return
		default:
		}

		entry, ok := r.outbound.PopNonBlocking()
		if !ok {
			time.Sleep(idleBackoff)
			continue
		}

		if entry.IsTask() {
			if err := safecall.Call(entry.Task); err != nil {
				r.log.Errorf("reactor: outbound task %s panicked: %v", entry.Caller, err)
			}
			continue
		}

		r.dispatchOutbound(entry)
	}
}

func (r *Reactor) dispatchOutbound(entry queue.Entry) {
	buf, ok := r.store.Find(entry.PackageID)
	if !ok {
		r.log.Warningf("reactor: outbound package %d not found", entry.PackageID)
		return
	}
	// Ownership of the buffer passes to the connection's own write
	// queue once handed to Send; the store only tracks packages
	// pending dispatch, not pending wire transmission.
	defer r.store.Remove(entry.PackageID)

	connID := entry.ConnID
	if connID == 0 && entry.ServiceID != 0 {
		resolved, err := r.svcMgr.GetOrCreateConnection(svc.ID(entry.ServiceID))
		if err != nil {
			r.log.Warningf("reactor: resolve service %d: %v", entry.ServiceID, err)
			return
		}
		connID = resolved
	}

	r.mu.Lock()
	conn, ok := r.conns[connID]
	r.mu.Unlock()
	if !ok {
		r.log.Warningf("reactor: connection %d not found for outbound package", connID)
		return
	}
	if err := conn.Send(buf); err != nil {
		r.log.Warningf("reactor: send on connection %d: %v", connID, err)
	}
}

// Stop closes every listener and connection, then waits for the drain
// loop and the accept loops to exit. Each connection finishes its own
// teardown asynchronously; Stop does not wait for connection goroutines.
func (r *Reactor) Stop() {
	r.mu.Lock()
	listeners := r.listeners
	conns := make([]*netconn.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	r.Halt()
}
