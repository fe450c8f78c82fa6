// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openstack-archive/terracotta/internal/monitoring"
)

// Monitor tracks collector tick health (grounded on the descheduler
// pipeline's run-timer + per-label counter pattern).
type Monitor struct {
	tickRunTimer  prometheus.Histogram
	vmsTracked    prometheus.Gauge
	skippedLookup *prometheus.CounterVec
}

func NewMonitor(registry *monitoring.Registry) Monitor {
	tickRunTimer := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "terracotta_collector_tick_duration_seconds",
		Help:    "Duration of a single collector tick",
		Buckets: prometheus.DefBuckets,
	})
	vmsTracked := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terracotta_collector_vms_tracked",
		Help: "Number of VMs currently tracked in local history",
	})
	skippedLookup := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terracotta_collector_skipped_lookups_total",
		Help: "Number of per-VM hypervisor lookups skipped this tick due to a lookup failure",
	}, []string{"reason"})
	registry.MustRegister(tickRunTimer, vmsTracked, skippedLookup)
	return Monitor{
		tickRunTimer:  tickRunTimer,
		vmsTracked:    vmsTracked,
		skippedLookup: skippedLookup,
	}
}
