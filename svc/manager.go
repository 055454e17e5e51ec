// manager.go - Service Manager: symbolic (ip, port) peers with lazily
// (re)created connections (spec §4.G), grounded on
// original_source/foundation/network.h's NetworkServiceManager.
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

// Package svc implements symbolic (ip, port) service endpoints whose
// backing connection is created, and recreated, on demand by the
// reactor (spec §4.G). GetOrCreateConnection dials and is called from
// the reactor's outbound drain goroutine; every method takes the
// Manager's mutex, so Register, Find and ConnIDFor are also called from
// other goroutines.
package svc

import (
	"fmt"
	"sync"

	"github.com/wherewindblow/spacelessd/wire"
)

// ID identifies a registered Service.
type ID int32

// Service is a symbolic peer endpoint. ConnID may be stale; callers
// must re-resolve via Manager.GetOrCreateConnection rather than caching
// it themselves.
type Service struct {
	ID     ID
	IP     string
	Port   uint16
	connID int32
}

func (s Service) addrKey() string {
	return fmt.Sprintf("%s:%d", s.IP, s.Port)
}

// ConnResolver is the reactor-side capability the Manager needs:
// checking whether a cached connection id still refers to an open
// connection, and dialing a fresh active-open connection on demand.
type ConnResolver interface {
	IsOpen(connID int32) bool
	Dial(ip string, port uint16) (connID int32, err error)
}

// Manager tracks registered services and their connection cache.
type Manager struct {
	mu       sync.Mutex
	nextID   ID
	byID     map[ID]*Service
	byAddr   map[string]ID
	resolver ConnResolver
}

// New creates a Manager that resolves connections through resolver.
func New(resolver ConnResolver) *Manager {
	return &Manager{nextID: 1, byID: make(map[ID]*Service), byAddr: make(map[string]ID), resolver: resolver}
}

// Register creates or returns the existing Service for (ip, port).
func (m *Manager) Register(ip string, port uint16) ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Service{IP: ip, Port: port}.addrKey()
	if id, ok := m.byAddr[key]; ok {
		return id
	}

	id := m.nextID
	m.nextID++
	m.byID[id] = &Service{ID: id, IP: ip, Port: port}
	m.byAddr[key] = id
	return id
}

// Remove tears down the service record and its cached connection
// reference (the underlying connection, if any, is closed by the
// caller through the reactor's normal connection teardown path).
func (m *Manager) Remove(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byAddr, svc.addrKey())
	delete(m.byID, id)
}

// Find returns the Service registered under id.
func (m *Manager) Find(id ID) (Service, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.byID[id]
	if !ok {
		return Service{}, false
	}
	return *svc, true
}

// ConnIDFor returns the connection id currently cached for id, without
// creating or re-resolving anything. Used by txn.Registry to implement
// PeerResolver: verifying that an inbound reply for a service-bound
// multi-phase wait arrived on the connection presently backing that
// service (spec §4.J foreign-interruption check).
func (m *Manager) ConnIDFor(id int32) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.byID[ID(id)]
	if !ok || svc.connID == 0 {
		return 0, false
	}
	return svc.connID, true
}

// GetOrCreateConnection returns a live, open connection id for the
// service, creating one if none is cached or the cached one is no
// longer open (spec §4.G, S6).
func (m *Manager) GetOrCreateConnection(id ID) (int32, error) {
	m.mu.Lock()
	svc, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: service %d", wire.ErrServiceNotExist, id)
	}
	cached := svc.connID
	ip, port := svc.IP, svc.Port
	m.mu.Unlock()

	if cached != 0 && m.resolver.IsOpen(cached) {
		return cached, nil
	}

	connID, err := m.resolver.Dial(ip, port)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	if svc, ok := m.byID[id]; ok {
		svc.connID = connID
	}
	m.mu.Unlock()

	return connID, nil
}
