// worker.go - goroutine lifecycle helper shared by every long-running component.
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

// Package task provides the Go/Halt/HaltCh embedding used by every
// component that owns a background goroutine (reactor, worker, timer
// wheel, service manager reconnects). Embed a Worker, spawn goroutines
// with Go, and Halt blocks until all of them return.
package task

import "sync"

// Worker is embedded by components that run one or more background
// goroutines and need a single, idempotent shutdown point.
type Worker struct {
	sync.WaitGroup

	initOnce sync.Once
	haltOnce sync.Once
	haltedCh chan struct{}
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltedCh = make(chan struct{})
	})
}

// Go spawns fn as a goroutine tracked by this Worker's WaitGroup.
func (w *Worker) Go(fn func()) {
	w.init()
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// HaltCh returns the channel that is closed when Halt is first called.
// Goroutines spawned with Go should select on this to know when to return.
func (w *Worker) HaltCh() chan struct{} {
	w.init()
	return w.haltedCh
}

// Halt closes HaltCh (idempotently) and blocks until every goroutine
// spawned via Go has returned.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltedCh)
	})
	w.Wait()
}
