// daemon.go - Server: the top-level process that wires the package
// store, queues, reactor, worker engine, and service manager together
// from a loaded Config, and tears them down in dependency order (spec
// §4 overview), grounded on mixmasala-server/server.go's Server /
// haltOnce / New-then-Shutdown lifecycle.
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

// Package daemon assembles every framework component into a running
// process from an already loaded config: bring up logging, construct the
// package store, the inbound/outbound queues, the reactor, and the worker
// engine, then listen. Application transactions are registered by the
// caller against Registry() and Schema() before Start.
package daemon

import (
	"net"
	"sync"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/wherewindblow/spacelessd/config"
	"github.com/wherewindblow/spacelessd/internal/corelog"
	"github.com/wherewindblow/spacelessd/queue"
	"github.com/wherewindblow/spacelessd/reactor"
	"github.com/wherewindblow/spacelessd/store"
	"github.com/wherewindblow/spacelessd/txn"
	"github.com/wherewindblow/spacelessd/wire"

	"github.com/wherewindblow/spacelessd/engine"
)

const (
	inboundQueueSoftCap   = 4096
	outboundQueueCapacity = 4096
)

// Server is a fully wired spacelessd process.
type Server struct {
	cfg *config.Config

	logBackend *corelog.Backend
	log        *logging.Logger

	store    *store.Store
	schema   *wire.Registry
	inbound  *queue.Queue
	outbound *queue.Queue

	reactor  *reactor.Reactor
	engine   *engine.Engine
	registry *txn.Registry

	haltOnce sync.Once
}

// New constructs a Server from cfg but does not yet listen or start any
// goroutine; callers register application transactions against
// Registry() and Schema() before calling Start.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	s.logBackend = corelog.New(cfg.Log.Level)
	s.log = s.logBackend.GetLogger("daemon")

	s.store = store.New()
	s.schema = wire.NewRegistry()
	// The inbound path absorbs whatever the reactor's read goroutines
	// hand it without ever blocking them on a full channel; the worker
	// is the only drain and a burst of peers sending at once must not
	// stall a read loop mid-package (spec §4.F, §5). softCap is purely
	// advisory: Size() exceeding it just triggers a log, matching
	// mixmasala-server/server.go's InfiniteChannel-backed inboundPackets.
	s.inbound = queue.NewUnbounded("inbound", inboundQueueSoftCap, func(n int) {
		s.log.Warningf("inbound queue backlog at %d entries (soft cap %d)", n, inboundQueueSoftCap)
	})
	s.outbound = queue.NewBounded("outbound", outboundQueueCapacity)

	s.reactor = reactor.New(s.store, s.inbound, s.outbound, s.schema, s.logBackend.GetLogger("reactor"))
	s.registry = txn.NewRegistry()
	s.registry.SetPeerResolver(s.reactor.Services())
	s.registry.SetLogger(s.logBackend.GetLogger("txn"))
	s.engine = engine.New(s.inbound, s.store, s.registry, s.reactor, s.logBackend.GetLogger("engine"))

	for _, p := range cfg.Peers {
		s.reactor.Services().Register(p.IP, p.Port)
	}

	return s, nil
}

// Logger returns a named logger sharing the daemon's backend, for
// application code wired in by the caller of New.
func (s *Server) Logger(module string) *logging.Logger { return s.logBackend.GetLogger(module) }

// Schema returns the message schema registry application code should
// register its Req*/Rsp* types against before Start.
func (s *Server) Schema() *wire.Registry { return s.schema }

// Registry returns the transaction registry application code should
// register one-shot command handlers and multi-phase waits against
// before Start.
func (s *Server) Registry() *txn.Registry { return s.registry }

// Engine returns the worker engine, whose Wheel() application code
// uses to arm multi-phase transaction timeouts.
func (s *Server) Engine() *engine.Engine { return s.engine }

// Reactor returns the reactor, whose Services() application code uses
// to address peers declared in configuration.
func (s *Server) Reactor() *reactor.Reactor { return s.reactor }

// Addr returns the address of this server's listener, valid only after
// Start has returned successfully. Mainly useful in tests that
// configure listen.port=0 and need the OS-assigned port back.
func (s *Server) Addr() net.Addr {
	addrs := s.reactor.Addrs()
	if len(addrs) == 0 {
		return nil
	}
	return addrs[0]
}

// Start brings the process online: the worker engine begins draining
// the inbound queue and the timer wheel, the reactor begins draining
// the outbound queue, and a listener is opened for the configured
// address.
func (s *Server) Start() error {
	s.engine.Start(s.outbound)
	s.reactor.Start()

	security := s.cfg.Listen.Security == config.SecurityOpen
	addr, err := s.reactor.Listen(s.cfg.Listen.IP, s.cfg.Listen.Port, security)
	if err != nil {
		return err
	}
	s.log.Noticef("listening on %s (security=%v)", addr, security)
	return nil
}

// Shutdown tears the process down in dependency order: stop accepting
// and close connections first, then stop the worker, matching the
// original's "listeners before workers" ordering.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() {
		s.log.Notice("starting graceful shutdown")
		s.reactor.Stop()
		s.engine.Stop()
		s.inbound.Close()
		s.outbound.Close()
		s.log.Notice("shutdown complete")
	})
}
