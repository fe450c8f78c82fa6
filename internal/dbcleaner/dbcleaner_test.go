// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package dbcleaner

import (
	"testing"
	"time"

	"github.com/openstack-archive/terracotta/internal/conf"
	"github.com/openstack-archive/terracotta/internal/metricstore"
	msTesting "github.com/openstack-archive/terracotta/internal/metricstore/testing"
	"github.com/openstack-archive/terracotta/internal/monitoring"
)

func newHarness(t *testing.T) (*DBCleaner, *metricstore.Store, msTesting.SqliteTestDB) {
	t.Helper()
	db := msTesting.NewSqliteTestDB(t)
	store := metricstore.NewStore(db.DB, metricstore.Monitor{})
	monitor := NewMonitor(monitoring.NewRegistry(conf.MonitoringConfig{}))
	cleaner := NewDBCleaner(store, conf.AgentConfig{DBCleanerIntervalSeconds: 7200}, monitor)
	return cleaner, store, db
}

func TestSweepDeletesOnlySamplesOlderThanRetention(t *testing.T) {
	cleaner, store, db := newHarness(t)
	defer db.Close()

	if err := store.UpdateHost("host-a", 4000, 4, 8192, ""); err != nil {
		t.Fatalf("seed host: %v", err)
	}

	now := time.Now()
	old := now.Add(-2 * time.Hour).Unix()
	recent := now.Add(-time.Minute).Unix()

	if err := store.InsertVmCPUMhz(map[string]int{"vm-1": 100}, old); err != nil {
		t.Fatalf("insert old vm sample: %v", err)
	}
	if err := store.InsertVmCPUMhz(map[string]int{"vm-1": 200}, recent); err != nil {
		t.Fatalf("insert recent vm sample: %v", err)
	}
	if err := store.InsertHostCPUMhz("host-a", 1000, old); err != nil {
		t.Fatalf("insert old host sample: %v", err)
	}
	if err := store.InsertHostCPUMhz("host-a", 2000, recent); err != nil {
		t.Fatalf("insert recent host sample: %v", err)
	}

	cleaner.sweep(time.Hour)

	vmSamples, err := store.SelectCPUMhzForVM("vm-1", 10)
	if err != nil {
		t.Fatalf("select vm samples: %v", err)
	}
	if len(vmSamples) != 1 || vmSamples[0] != 200 {
		t.Fatalf("expected only the recent vm sample to survive, got %v", vmSamples)
	}

	hostMhz, err := store.SelectLastCPUMhzForHosts([]string{"host-a"})
	if err != nil {
		t.Fatalf("select host samples: %v", err)
	}
	if hostMhz["host-a"] != 2000 {
		t.Fatalf("expected the recent host sample to survive, got %v", hostMhz)
	}
}
