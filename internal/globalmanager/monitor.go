// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package globalmanager

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openstack-archive/terracotta/internal/monitoring"
)

// Monitor tracks global manager request handling and migration outcomes.
type Monitor struct {
	requestRunTimer *prometheus.HistogramVec
	migrationsTotal *prometheus.CounterVec
	powerTotal      *prometheus.CounterVec
}

func NewMonitor(registry *monitoring.Registry) Monitor {
	requestRunTimer := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terracotta_globalmanager_request_duration_seconds",
		Help:    "Duration of an underload/overload request",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	migrationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terracotta_globalmanager_migrations_total",
		Help: "Total number of live migrations resolved, by outcome",
	}, []string{"outcome"})
	powerTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terracotta_globalmanager_power_transitions_total",
		Help: "Total number of host power transitions, by direction",
	}, []string{"direction"})
	registry.MustRegister(requestRunTimer, migrationsTotal, powerTotal)
	return Monitor{
		requestRunTimer: requestRunTimer,
		migrationsTotal: migrationsTotal,
		powerTotal:      powerTotal,
	}
}
