// engine.go - the worker half of the framework: drains the inbound
// queue, dispatches to the transaction registry, and drives the timer
// wheel (spec §4.K), grounded on original_source/foundation/worker.cpp's
// Worker::run main loop.
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

// Package engine implements the single worker goroutine: pop an
// inbound entry, dispatch it, process expired timers, and idle-back
// off when there was nothing to do (spec §4.K).
package engine

import (
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/wherewindblow/spacelessd/internal/metrics"
	"github.com/wherewindblow/spacelessd/internal/safecall"
	"github.com/wherewindblow/spacelessd/internal/task"
	"github.com/wherewindblow/spacelessd/queue"
	"github.com/wherewindblow/spacelessd/store"
	"github.com/wherewindblow/spacelessd/timer"
	"github.com/wherewindblow/spacelessd/txn"
)

// idleBackoff is slept between poll attempts once a pass finds the
// inbound queue empty and no timer expired, so the worker doesn't spin
// a CPU core while idle (spec §4.K).
const idleBackoff = time.Millisecond

// metricsInterval is how often the size-probe timers refresh the
// prometheus gauges in internal/metrics.
const metricsInterval = 5 * time.Second

// Engine is the worker: it owns the timer wheel and drives dispatch of
// whatever the reactor places on the inbound queue.
type Engine struct {
	task.Worker

	inbound  *queue.Queue
	store    *store.Store
	registry *txn.Registry
	wheel    *timer.Wheel
	sender   txn.Sender
	log      *logging.Logger
}

// New creates an Engine. sender is used both by handlers (via the
// txn.Context it builds) and, indirectly, by the transaction registry's
// default error path.
func New(inbound *queue.Queue, st *store.Store, registry *txn.Registry, sender txn.Sender, log *logging.Logger) *Engine {
	e := &Engine{
		inbound:  inbound,
		store:    st,
		registry: registry,
		sender:   sender,
		log:      log,
	}
	e.wheel = timer.New(func(caller string, err error) {
		log.Errorf("engine: timer %q panicked: %v", caller, err)
	})
	return e
}

// Wheel returns the engine's timer wheel, so callers building
// multi-phase transactions can register the wait-expiry timer that
// eventually calls registry.Timeout.
func (e *Engine) Wheel() *timer.Wheel { return e.wheel }

// Start registers the size-probe monitoring timers and begins the
// worker's main loop. outbound is only used for its Size(), to expose
// the outbound queue depth alongside the inbound one.
func (e *Engine) Start(outbound *queue.Queue) {
	e.wheel.Register("metrics.package_store_size", metricsInterval, func() {
		metrics.PackageStoreSize.Set(float64(e.store.Size()))
	}, timer.Frequent, metricsInterval)

	e.wheel.Register("metrics.timer_wheel_size", metricsInterval, func() {
		metrics.TimerWheelSize.Set(float64(e.wheel.Size()))
	}, timer.Frequent, metricsInterval)

	e.wheel.Register("metrics.multi_phase_waiting_size", metricsInterval, func() {
		metrics.MultiPhaseWaitingSize.Set(float64(e.registry.WaitingCount()))
	}, timer.Frequent, metricsInterval)

	e.wheel.Register("metrics.inbound_queue_size", metricsInterval, func() {
		metrics.InboundQueueSize.Set(float64(e.inbound.Size()))
	}, timer.Frequent, metricsInterval)

	e.wheel.Register("metrics.outbound_queue_size", metricsInterval, func() {
		metrics.OutboundQueueSize.Set(float64(outbound.Size()))
	}, timer.Frequent, metricsInterval)

	e.Go(e.runLoop)
}

func (e *Engine) runLoop() {
	for {
		select {
		case <-e.HaltCh():
			return
		default:
		}

		processed := e.processOne()
		fired := e.wheel.ProcessExpired()

		if processed == 0 && fired == 0 {
			time.Sleep(idleBackoff)
		}
	}
}

func (e *Engine) processOne() int {
	entry, ok := e.inbound.PopNonBlocking()
	if !ok {
		return 0
	}

	if entry.IsTask() {
		if err := safecall.Call(entry.Task); err != nil {
			e.log.Errorf("engine: inbound task %s panicked: %v", entry.Caller, err)
		}
		return 1
	}

	buf, ok := e.store.Find(entry.PackageID)
	if !ok {
		e.log.Warningf("engine: inbound package %d not found", entry.PackageID)
		return 1
	}
	defer e.store.Remove(entry.PackageID)

	h := buf.Header()
	e.log.Debugf("connection %d: receive package. cmd=%d, trigger_id=%d", entry.ConnID, h.Command, h.TriggerID)

	e.registry.Dispatch(&txn.Context{
		Header: buf.Header(),
		Body:   buf.PlainBody(),
		ConnID: entry.ConnID,
		Sender: e.sender,
	})
	return 1
}

// Stop halts the worker's main loop.
func (e *Engine) Stop() {
	e.Halt()
}
