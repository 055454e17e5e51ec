// store.go - Package Store: shared, thread-safe registry of in-flight
// package buffers (spec §4.B), grounded on
// original_source/foundation/package.cpp's PackageManager.
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

// Package store implements the handle-indexed package buffer registry
// that makes zero-copy handoff between the reactor and the worker
// possible (spec §4.B).
package store

import (
	"sync"

	"github.com/wherewindblow/spacelessd/wire"
)

// Handle identifies a registered Buffer. Zero is reserved/invalid.
type Handle int32

// Store is a thread-safe, handle-indexed registry of live package
// buffers. It exclusively owns buffer memory; Find returns a shared
// reference whose validity is scoped to the call site under the
// assumption that no other party removes the handle concurrently
// (spec §4.B, §5).
type Store struct {
	mu      sync.Mutex
	nextID  Handle
	entries map[Handle]*wire.Buffer
}

// New creates an empty Store.
func New() *Store {
	return &Store{nextID: 1, entries: make(map[Handle]*wire.Buffer)}
}

// Register allocates a new Buffer for contentLen bytes of plaintext and
// assigns it a fresh Handle.
func (s *Store) Register(contentLen int) (Handle, *wire.Buffer, error) {
	buf, err := wire.Allocate(contentLen)
	if err != nil {
		return 0, nil, err
	}
	return s.insert(buf)
}

// Put registers an already-built Buffer (used when a connection hands
// the reactor a freshly decrypted/parsed inbound package).
func (s *Store) Put(buf *wire.Buffer) (Handle, error) {
	h, _, err := s.insert(buf)
	return h, err
}

func (s *Store) insert(buf *wire.Buffer) (Handle, *wire.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	if id == 0 {
		id = s.nextID
		s.nextID++
	}
	if _, exists := s.entries[id]; exists {
		return 0, nil, wire.ErrPackageAlreadyExists
	}
	s.entries[id] = buf
	return id, buf, nil
}

// Remove drops handle from the store. Idempotent: removing a handle
// that is not present (or already removed) is a no-op.
func (s *Store) Remove(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, h)
}

// Find returns the Buffer registered under h, or false if it is not
// present.
func (s *Store) Find(h Handle) (*wire.Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.entries[h]
	return buf, ok
}

// Size returns the number of live handles, used by the worker's
// periodic size-probe timer (spec §4.K).
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
