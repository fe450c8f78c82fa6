// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package metricstore_test

import (
	"testing"

	"github.com/openstack-archive/terracotta/internal/metricstore"
	msTesting "github.com/openstack-archive/terracotta/internal/metricstore/testing"
)

func newStore(t *testing.T) (*metricstore.Store, msTesting.SqliteTestDB) {
	t.Helper()
	db := msTesting.NewSqliteTestDB(t)
	return metricstore.NewStore(db.DB, metricstore.Monitor{}), db
}

func TestSelectVmIDRegistersNewUUID(t *testing.T) {
	store, db := newStore(t)
	defer db.Close()

	id1, err := store.SelectVmID("vm-a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	id2, err := store.SelectVmID("vm-a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable id across calls, got %d then %d", id1, id2)
	}
}

func TestUpdateHostThenSelectCharacteristics(t *testing.T) {
	store, db := newStore(t)
	defer db.Close()

	if err := store.UpdateHost("host1", 4000, 4, 8192, "aa:bb:cc:dd:ee:ff"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	mhz, cores, ram, err := store.SelectHostCharacteristics()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mhz["host1"] != 4000 || cores["host1"] != 4 || ram["host1"] != 8192 {
		t.Fatalf("unexpected characteristics: %v %v %v", mhz, cores, ram)
	}
}

func TestInsertAndSelectVmCPUMhz(t *testing.T) {
	store, db := newStore(t)
	defer db.Close()

	if err := store.InsertVmCPUMhz(map[string]int{"vm-a": 100}, 1); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.InsertVmCPUMhz(map[string]int{"vm-a": 200}, 2); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	samples, err := store.SelectCPUMhzForVM("vm-a", 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(samples) != 2 || samples[0] != 100 || samples[1] != 200 {
		t.Fatalf("expected [100 200] chronological, got %v", samples)
	}

	last, err := store.SelectLastCPUMhzForVMs([]string{"vm-a", "vm-unknown"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if last["vm-a"] != 200 {
		t.Fatalf("expected latest sample 200, got %d", last["vm-a"])
	}
	if last["vm-unknown"] != 0 {
		t.Fatalf("expected unknown vm to map to 0, got %d", last["vm-unknown"])
	}
}

func TestInsertHostCPUMhzRejectsNegative(t *testing.T) {
	store, db := newStore(t)
	defer db.Close()

	if err := store.UpdateHost("host1", 4000, 4, 8192, ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.InsertHostCPUMhz("host1", -1, 1); err == nil {
		t.Fatal("expected error for negative host cpu mhz")
	}
}

func TestHostStatesDefaultActive(t *testing.T) {
	store, db := newStore(t)
	defer db.Close()

	if err := store.UpdateHost("host1", 4000, 4, 8192, ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	states, err := store.SelectHostStates()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if states["host1"] != metricstore.HostStateActive {
		t.Fatalf("expected default active state, got %d", states["host1"])
	}

	active, err := store.SelectActiveHosts()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(active) != 1 || active[0] != "host1" {
		t.Fatalf("expected [host1] active, got %v", active)
	}
}

func TestInsertHostStatesOverridesDefault(t *testing.T) {
	store, db := newStore(t)
	defer db.Close()

	if err := store.UpdateHost("host1", 4000, 4, 8192, ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.InsertHostStates(map[string]int{"host1": metricstore.HostStateAsleep}, 1); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	inactive, err := store.SelectInactiveHosts()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(inactive) != 1 || inactive[0] != "host1" {
		t.Fatalf("expected [host1] inactive, got %v", inactive)
	}
}

func TestInsertHostOverloadAndVmMigration(t *testing.T) {
	store, db := newStore(t)
	defer db.Close()

	if err := store.UpdateHost("host1", 4000, 4, 8192, ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.InsertHostOverload("host1", true, 1); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.InsertVmMigration("vm-a", "host1", 2); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCleanupRemovesOldSamples(t *testing.T) {
	store, db := newStore(t)
	defer db.Close()

	if err := store.InsertVmCPUMhz(map[string]int{"vm-a": 100}, 1); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.InsertVmCPUMhz(map[string]int{"vm-a": 200}, 100); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.CleanupVmResourceUsage(50); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	samples, err := store.SelectCPUMhzForVM("vm-a", 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(samples) != 1 || samples[0] != 200 {
		t.Fatalf("expected only the recent sample to survive, got %v", samples)
	}
}
