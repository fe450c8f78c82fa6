// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package dbcleaner

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openstack-archive/terracotta/internal/monitoring"
)

// Monitor tracks db cleaner sweeps.
type Monitor struct {
	runRunTimer prometheus.Histogram
	runsTotal   prometheus.Counter
}

func NewMonitor(registry *monitoring.Registry) Monitor {
	runRunTimer := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "terracotta_dbcleaner_run_duration_seconds",
		Help:    "Duration of a single db cleaner sweep",
		Buckets: prometheus.DefBuckets,
	})
	runsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terracotta_dbcleaner_runs_total",
		Help: "Total number of db cleaner sweeps completed",
	})
	registry.MustRegister(runRunTimer, runsTotal)
	return Monitor{
		runRunTimer: runRunTimer,
		runsTotal:   runsTotal,
	}
}
