// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package dbcleaner implements the retention sweep that keeps the metric
// store's VM and host sample tables from growing without bound (spec §3
// "Retention: deletion by timestamp threshold").
package dbcleaner

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"

	"github.com/openstack-archive/terracotta/internal/conf"
	"github.com/openstack-archive/terracotta/internal/metricstore"
)

// DBCleaner periodically deletes resource-usage samples older than the
// configured retention window.
type DBCleaner struct {
	Store   *metricstore.Store
	Config  conf.AgentConfig
	Monitor Monitor
}

// NewDBCleaner constructs a DBCleaner bound to store; call Run to start
// its sweep loop.
func NewDBCleaner(store *metricstore.Store, cfg conf.AgentConfig, monitor Monitor) *DBCleaner {
	return &DBCleaner{Store: store, Config: cfg, Monitor: monitor}
}

// Run sweeps once immediately, then every DBCleanerIntervalSeconds, until
// ctx is cancelled. The retention window equals the sweep interval, the
// same choice the original db-cleaner made between its loop period and
// its deletion threshold.
func (c *DBCleaner) Run(ctx context.Context) error {
	interval := time.Duration(c.Config.DBCleanerIntervalSeconds) * time.Second
	for {
		select {
		case <-ctx.Done():
			slog.Info("db cleaner: shutting down")
			return nil
		default:
			c.sweep(interval)
			time.Sleep(jobloop.DefaultJitter(interval))
		}
	}
}

func (c *DBCleaner) sweep(retention time.Duration) {
	timer := prometheus.NewTimer(c.Monitor.runRunTimer)
	defer timer.ObserveDuration()

	threshold := time.Now().Add(-retention).Unix()
	if err := c.Store.CleanupVmResourceUsage(threshold); err != nil {
		slog.Error("db cleaner: failed to clean up vm resource usage", "error", err)
		return
	}
	if err := c.Store.CleanupHostResourceUsage(threshold); err != nil {
		slog.Error("db cleaner: failed to clean up host resource usage", "error", err)
		return
	}
	c.Monitor.runsTotal.Inc()
	slog.Info("db cleaner: cleaned up data older than threshold", "threshold_unix", threshold)
}
