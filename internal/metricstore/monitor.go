// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package metricstore

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openstack-archive/terracotta/internal/monitoring"
)

// Monitor tracks metric store connection health and query latency.
type Monitor struct {
	connectionAttempts prometheus.Counter
	selectTimer        *prometheus.HistogramVec
}

func NewDBMonitor(registry *monitoring.Registry) Monitor {
	connectionAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terracotta_metricstore_connection_attempts_total",
		Help: "Total number of attempts to connect to the metric store",
	})
	selectTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terracotta_metricstore_select_duration_seconds",
		Help:    "Duration of SELECT queries against the metric store in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	registry.MustRegister(connectionAttempts, selectTimer)
	return Monitor{
		connectionAttempts: connectionAttempts,
		selectTimer:        selectTimer,
	}
}

func (m *Monitor) Describe(ch chan<- *prometheus.Desc) {
	m.selectTimer.Describe(ch)
}

func (m *Monitor) Collect(ch chan<- prometheus.Metric) {
	m.selectTimer.Collect(ch)
}

func (m Monitor) observeSelect(operation string, seconds float64) {
	if m.selectTimer == nil {
		return
	}
	m.selectTimer.WithLabelValues(operation).Observe(seconds)
}
