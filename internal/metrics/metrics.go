// metrics.go - size-probe gauges the worker's periodic monitoring
// timers report through (spec §4.K monitoring timers), exposed over
// github.com/prometheus/client_golang the way a production Go service
// in this stack instruments background pool depths.
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

// Package metrics holds the prometheus gauges the worker's
// monitoring timers update every tick: package store occupancy, timer
// wheel depth, pending multi-phase bindings, and queue depths.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PackageStoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spacelessd",
		Name:      "package_store_size",
		Help:      "Number of package buffers currently registered in the package store.",
	})

	TimerWheelSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spacelessd",
		Name:      "timer_wheel_size",
		Help:      "Number of timers currently pending in the worker's timer wheel.",
	})

	MultiPhaseWaitingSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spacelessd",
		Name:      "multi_phase_waiting_size",
		Help:      "Number of multi-phase transaction bindings currently awaiting a reply.",
	})

	InboundQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spacelessd",
		Name:      "inbound_queue_size",
		Help:      "Number of packages currently queued from the reactor to the worker.",
	})

	OutboundQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spacelessd",
		Name:      "outbound_queue_size",
		Help:      "Number of packages currently queued from the worker to the reactor.",
	})
)

func init() {
	prometheus.MustRegister(
		PackageStoreSize,
		TimerWheelSize,
		MultiPhaseWaitingSize,
		InboundQueueSize,
		OutboundQueueSize,
	)
}
