// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package localmanager

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openstack-archive/terracotta/internal/monitoring"
)

// Monitor tracks local manager classification ticks.
type Monitor struct {
	tickRunTimer   prometheus.Histogram
	underloadTotal prometheus.Counter
	overloadTotal  prometheus.Counter
	skippedLookup  prometheus.Counter
}

func NewMonitor(registry *monitoring.Registry) Monitor {
	tickRunTimer := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "terracotta_localmanager_tick_duration_seconds",
		Help:    "Duration of a single local manager classification tick",
		Buckets: prometheus.DefBuckets,
	})
	underloadTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terracotta_localmanager_underload_signals_total",
		Help: "Total number of underload RPC signals emitted",
	})
	overloadTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terracotta_localmanager_overload_signals_total",
		Help: "Total number of overload RPC signals emitted",
	})
	skippedLookup := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terracotta_localmanager_skipped_vm_lookups_total",
		Help: "Total number of VMs dropped this tick due to a failed max-memory lookup",
	})
	registry.MustRegister(tickRunTimer, underloadTotal, overloadTotal, skippedLookup)
	return Monitor{
		tickRunTimer:   tickRunTimer,
		underloadTotal: underloadTotal,
		overloadTotal:  overloadTotal,
		skippedLookup:  skippedLookup,
	}
}
