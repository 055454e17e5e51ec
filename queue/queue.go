// queue.go - the two FIFOs between reactor and worker (spec
// §4.F), grounded on original_source/foundation/network.h's
// NetworkMessageQueue and (for the inbound queue's burst-absorbing
// path) mixmasala-server/server.go's channels.InfiniteChannel usage.
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

// Package queue implements the inbound/outbound message queues that are
// the only channel of communication between the reactor and the worker
// (spec §4.F, §5).
package queue

import (
	"fmt"
	"time"

	"github.com/wherewindblow/spacelessd/store"

	channels "gopkg.in/eapache/channels.v1"
)

// Entry is a tagged union: either a NetworkMsg carrying a package
// reference, or a Task carrying a deferred closure (spec §3
// MessageQueueEntry).
type Entry struct {
	// ConnID/ServiceID/PackageID are set for a NetworkMsg entry.
	// Exactly one of ConnID/ServiceID should be nonzero when PackageID
	// is nonzero; the reactor resolves a nonzero ServiceID only when
	// ConnID is zero, and an outbound entry with both zero names no
	// connection and is dropped.
	ConnID    int32
	ServiceID int32
	PackageID store.Handle

	// Caller/Task are set for a Task entry. Task must not capture any
	// structure by reference to the submitting thread's stack (spec §5);
	// closures close over copies only.
	Caller string
	Task   func()
}

// IsTask reports whether this entry is a deferred task rather than a
// network message.
func (e Entry) IsTask() bool {
	return e.Task != nil
}

// Queue is a thread-safe FIFO of Entry values used for one direction of
// traffic between the reactor and the worker.
type Queue struct {
	name        string
	bounded     chan Entry
	unbounded   *channels.InfiniteChannel
	pushTimeout time.Duration
	softCap     int
	onOverflow  func(size int)
}

// NewBounded creates a Queue backed by a fixed-capacity channel. Push
// blocks briefly once full, then fails (spec §4.F).
func NewBounded(name string, capacity int) *Queue {
	return &Queue{name: name, bounded: make(chan Entry, capacity), pushTimeout: 50 * time.Millisecond}
}

// NewUnbounded creates a Queue backed by an InfiniteChannel, absorbing
// bursts without ever blocking or failing a Push. softCap is advisory:
// once Size exceeds it, onOverflow (if non-nil) is invoked so the caller
// can log a warning, matching the monitoring spec §4.K expects even when
// the queue itself never rejects work.
func NewUnbounded(name string, softCap int, onOverflow func(size int)) *Queue {
	return &Queue{
		name:       name,
		unbounded:  channels.NewInfiniteChannel(),
		softCap:    softCap,
		onOverflow: onOverflow,
	}
}

// Push enqueues e. For a bounded Queue, it fails if the queue is still
// full after a brief wait.
func (q *Queue) Push(e Entry) error {
	if q.unbounded != nil {
		q.unbounded.In() <- e
		if q.onOverflow != nil && q.softCap > 0 {
			if n := q.unbounded.Len(); n > q.softCap {
				q.onOverflow(n)
			}
		}
		return nil
	}

	select {
	case q.bounded <- e:
		return nil
	default:
	}

	timer := time.NewTimer(q.pushTimeout)
	defer timer.Stop()
	select {
	case q.bounded <- e:
		return nil
	case <-timer.C:
		return fmt.Errorf("queue: %s is full", q.name)
	}
}

// PopNonBlocking removes and returns the head entry, or (Entry{}, false)
// if the queue is currently empty.
func (q *Queue) PopNonBlocking() (Entry, bool) {
	if q.unbounded != nil {
		// A non-blocking receive on Out() can miss a buffered entry while
		// the InfiniteChannel's goroutine is between sends; Len() is
		// answered by that goroutine, so a nonzero Len means the receive
		// below completes (the queue has a single consumer).
		if q.unbounded.Len() == 0 {
			return Entry{}, false
		}
		e := <-q.unbounded.Out()
		return e.(Entry), true
	}

	select {
	case e := <-q.bounded:
		return e, true
	default:
		return Entry{}, false
	}
}

// IsEmpty reports whether the queue currently holds no entries.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Size returns the current entry count.
func (q *Queue) Size() int {
	if q.unbounded != nil {
		return q.unbounded.Len()
	}
	return len(q.bounded)
}

// Close releases the queue's underlying resources. Only meaningful for
// unbounded queues; a no-op otherwise.
func (q *Queue) Close() {
	if q.unbounded != nil {
		q.unbounded.Close()
	}
}
