// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package globalmanager

import (
	"context"
	"testing"
	"time"

	"github.com/openstack-archive/terracotta/internal/algorithms"
	"github.com/openstack-archive/terracotta/internal/conf"
	"github.com/openstack-archive/terracotta/internal/hypervisor"
	"github.com/openstack-archive/terracotta/internal/metricstore"
	msTesting "github.com/openstack-archive/terracotta/internal/metricstore/testing"
	"github.com/openstack-archive/terracotta/internal/monitoring"
	"github.com/openstack-archive/terracotta/internal/power"
)

type testHarness struct {
	gm      *GlobalManager
	hv      *hypervisor.FakeCluster
	pc      *power.FakeController
	chowner *fakeChowner
	store   *metricstore.Store
	db      msTesting.SqliteTestDB
}

func newHarness(t *testing.T, computeHosts []string) *testHarness {
	t.Helper()
	db := msTesting.NewSqliteTestDB(t)
	store := metricstore.NewStore(db.DB, metricstore.Monitor{})
	hv := hypervisor.NewFakeCluster()
	pc := power.NewFakeController()
	chowner := newFakeChowner()

	cfg := conf.AgentConfig{
		ComputeHosts:                   computeHosts,
		DataCollectorDataLength:        10,
		DataCollectorIntervalSeconds:   300,
		NetworkMigrationBandwidthMBps:  10,
		VMInstanceDirectory:            "/var/lib/nova/instances",
	}
	alg := conf.AlgorithmConfig{
		VMPlacementFactory:    "bfd",
		VMPlacementParameters: conf.NewRawOpts(`{"cpuThreshold": 1.0, "ramThreshold": 1.0, "lastNVmCpu": 1}`),
	}
	monitor := NewMonitor(monitoring.NewRegistry(conf.MonitoringConfig{}))

	gm := NewGlobalManager(hv, store, pc, chowner, nil, "terracotta", cfg, alg, monitor)
	for _, host := range computeHosts {
		pc.MACs[host] = "aa:bb:cc:dd:ee:ff"
	}
	return &testHarness{gm: gm, hv: hv, pc: pc, chowner: chowner, store: store, db: db}
}

func (h *testHarness) seedHost(t *testing.T, host string, cpuMhz, ramMB int) {
	t.Helper()
	if err := h.store.UpdateHost(host, cpuMhz, 4, ramMB, "aa:bb:cc:dd:ee:ff"); err != nil {
		t.Fatalf("seedHost %s: %v", host, err)
	}
}

func (h *testHarness) seedVM(t *testing.T, host, uuid string, cpuSamples []int, ramMB int) {
	t.Helper()
	h.hv.ServersByHost[host] = append(h.hv.ServersByHost[host], uuid)
	h.hv.FlavorByServer[uuid] = uuid + "-flavor"
	h.hv.FlavorRAMMB[uuid+"-flavor"] = ramMB
	for i, sample := range cpuSamples {
		if err := h.store.InsertVmCPUMhz(map[string]int{uuid: sample}, int64(i+1)); err != nil {
			t.Fatalf("seedVM %s: %v", uuid, err)
		}
	}
}

// completeOnceMigrating watches uuid until the fake cluster reports it
// mid-migration, then completes it. Used so tests never wait out the
// real (production-sized) migration poll timeout.
func completeOnceMigrating(hv *hypervisor.FakeCluster, uuid string) {
	ctx := context.Background()
	for {
		_, active, _ := hv.GetServerLocation(ctx, uuid)
		if !active {
			hv.CompleteMigration(uuid)
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProcessUnderloadEvacuatesAndPowersOffHost(t *testing.T) {
	migrationInitialDelay = time.Millisecond
	migrationPollInterval = time.Millisecond
	defer func() {
		migrationInitialDelay = 10 * time.Second
		migrationPollInterval = 3 * time.Second
	}()

	h := newHarness(t, []string{"host-a", "host-b"})
	defer h.db.Close()

	h.seedHost(t, "host-a", 1000, 2048)
	h.seedHost(t, "host-b", 1000, 2048)
	h.hv.UsedRAM["host-a"] = 100
	h.hv.UsedRAM["host-b"] = 50

	h.seedVM(t, "host-a", "vm-1", []int{100}, 1000)
	h.seedVM(t, "host-b", "vm-2", []int{50}, 500)

	go completeOnceMigrating(h.hv, "vm-1")

	if err := h.gm.processUnderload(t.Context(), "host-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(h.hv.Migrations) != 1 || h.hv.Migrations[0].UUID != "vm-1" || h.hv.Migrations[0].DestinationHost != "host-b" {
		t.Fatalf("expected vm-1 migrated to host-b, got %v", h.hv.Migrations)
	}
	if len(h.chowner.Calls) != 1 {
		t.Fatalf("expected instance directory chown before migration, got %v", h.chowner.Calls)
	}
	if h.pc.PoweredOn["host-a"] {
		t.Fatalf("expected host-a to be powered off")
	}
	if len(h.pc.PowerOffCalls) != 1 || h.pc.PowerOffCalls[0] != "host-a" {
		t.Fatalf("expected exactly one power-off call for host-a, got %v", h.pc.PowerOffCalls)
	}

	migrations, err := h.store.SelectInactiveHosts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, host := range migrations {
		if host == "host-a" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected host-a recorded as inactive, got %v", migrations)
	}
}

func TestProcessUnderloadEmptyPlacementKeepsHostOnline(t *testing.T) {
	h := newHarness(t, []string{"host-a"})
	defer h.db.Close()

	h.seedHost(t, "host-a", 1000, 2048)
	h.hv.UsedRAM["host-a"] = 100
	h.seedVM(t, "host-a", "vm-1", []int{100}, 1000)

	if err := h.gm.processUnderload(t.Context(), "host-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(h.hv.Migrations) != 0 {
		t.Fatalf("expected no migrations when no destination fits, got %v", h.hv.Migrations)
	}
	if len(h.pc.PowerOffCalls) != 0 {
		t.Fatalf("expected host-a to stay online when placement is empty, got power-off calls %v", h.pc.PowerOffCalls)
	}
}

func TestProcessUnderloadPrunesVMsWithNoCPUHistory(t *testing.T) {
	h := newHarness(t, []string{"host-a", "host-b"})
	defer h.db.Close()

	h.seedHost(t, "host-a", 1000, 2048)
	h.seedHost(t, "host-b", 1000, 2048)
	h.hv.UsedRAM["host-a"] = 0
	h.hv.UsedRAM["host-b"] = 0

	// vm-1 has no recorded CPU samples at all: host-a is kept active rather
	// than being treated as a safe evacuation candidate.
	h.hv.ServersByHost["host-a"] = []string{"vm-1"}
	h.hv.FlavorByServer["vm-1"] = "flavor"
	h.hv.FlavorRAMMB["flavor"] = 1000

	if err := h.gm.processUnderload(t.Context(), "host-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(h.hv.Migrations) != 0 {
		t.Fatalf("expected no migrations for a vm with no cpu history, got %v", h.hv.Migrations)
	}
	if len(h.pc.PowerOffCalls) != 0 {
		t.Fatalf("expected no power-off when the only vm has no history, got %v", h.pc.PowerOffCalls)
	}
}

func TestProcessOverloadWakesInactiveDestination(t *testing.T) {
	migrationInitialDelay = time.Millisecond
	migrationPollInterval = time.Millisecond
	defer func() {
		migrationInitialDelay = 10 * time.Second
		migrationPollInterval = 3 * time.Second
	}()

	h := newHarness(t, []string{"host-a", "host-b"})
	defer h.db.Close()

	h.seedHost(t, "host-a", 1000, 2048)
	h.seedHost(t, "host-b", 1000, 2048)
	h.hv.UsedRAM["host-a"] = 900
	h.hv.UsedRAM["host-b"] = 0

	h.seedVM(t, "host-a", "vm-1", []int{900}, 1000)
	// host-b carries no servers, so it is only reachable as an inactive
	// destination that processOverload must wake before migrating.

	go completeOnceMigrating(h.hv, "vm-1")

	if err := h.gm.processOverload(t.Context(), "host-a", []string{"vm-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(h.hv.Migrations) != 1 || h.hv.Migrations[0].DestinationHost != "host-b" {
		t.Fatalf("expected vm-1 migrated to host-b, got %v", h.hv.Migrations)
	}
	if !h.pc.PoweredOn["host-b"] {
		t.Fatalf("expected host-b to be powered on before receiving the migration")
	}
}

func TestProcessOverloadPrunesVMsWithNoCPUHistory(t *testing.T) {
	h := newHarness(t, []string{"host-a", "host-b"})
	defer h.db.Close()

	h.seedHost(t, "host-a", 1000, 2048)
	h.seedHost(t, "host-b", 1000, 2048)
	h.hv.UsedRAM["host-a"] = 0
	h.hv.UsedRAM["host-b"] = 0
	h.hv.ServersByHost["host-a"] = []string{"vm-1"}
	h.hv.FlavorByServer["vm-1"] = "flavor"
	h.hv.FlavorRAMMB["flavor"] = 1000
	if err := h.store.InsertVmCPUMhz(map[string]int{"vm-1": 100}, 1); err != nil {
		t.Fatalf("seed cpu: %v", err)
	}
	// vm-2 is named in the request but has never reported a cpu sample.

	migrateUUIDs, vmsCPU, vmsRAM, err := h.gm.resolveVMsForMigration(t.Context(), []string{"vm-1", "vm-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrateUUIDs) != 1 || migrateUUIDs[0] != "vm-1" {
		t.Fatalf("expected only vm-1 to be resolved (vm-2 has no cpu history), got %v", migrateUUIDs)
	}
	if _, ok := vmsCPU["vm-1"]; !ok {
		t.Fatalf("expected vm-1 cpu history present")
	}
	if _, ok := vmsRAM["vm-1"]; !ok {
		t.Fatalf("expected vm-1 ram present")
	}
}

func TestExecuteMigrationRoundConfirmsCompletedMigration(t *testing.T) {
	migrationInitialDelay = time.Millisecond
	migrationPollInterval = time.Millisecond
	defer func() {
		migrationInitialDelay = 10 * time.Second
		migrationPollInterval = 3 * time.Second
	}()

	h := newHarness(t, []string{"host-a", "host-b"})
	defer h.db.Close()
	h.hv.ServersByHost["host-a"] = []string{"vm-1"}

	go completeOnceMigrating(h.hv, "vm-1")

	retry := h.gm.executeMigrationRound(t.Context(), map[string]string{"vm-1": "host-b"})
	if len(retry) != 0 {
		t.Fatalf("expected no retries for a confirmed migration, got %v", retry)
	}
	if len(h.chowner.Calls) != 1 {
		t.Fatalf("expected instance directory chown before the migration, got %v", h.chowner.Calls)
	}
}

func TestExecuteMigrationRoundRetriesOnTimeout(t *testing.T) {
	migrationInitialDelay = time.Millisecond
	migrationPollInterval = time.Millisecond
	migrationPollTimeout = 5 * time.Millisecond
	defer func() {
		migrationInitialDelay = 10 * time.Second
		migrationPollInterval = 3 * time.Second
		migrationPollTimeout = 300 * time.Second
	}()

	h := newHarness(t, []string{"host-a", "host-b"})
	defer h.db.Close()
	h.hv.ServersByHost["host-a"] = []string{"vm-1"}

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.hv.RevertMigration("vm-1")
	}()

	retry := h.gm.executeMigrationRound(t.Context(), map[string]string{"vm-1": "host-b"})
	if len(retry) != 1 || retry["vm-1"] != "host-b" {
		t.Fatalf("expected vm-1 queued for retry against host-b, got %v", retry)
	}
}

func TestComputeHostsToDeactivate(t *testing.T) {
	computeHosts := []string{"host-a", "host-b", "host-c", "host-d"}
	activeHostsTotal := map[string]int{"host-b": 1000}
	previouslyInactive := []string{"host-c"}
	keepActive := map[string]bool{"host-d": true}

	got := computeHostsToDeactivate(computeHosts, activeHostsTotal, previouslyInactive, keepActive)
	if len(got) != 1 || got[0] != "host-a" {
		t.Fatalf("expected only host-a to be deactivated, got %v", got)
	}
}

func TestDropSelfMigrations(t *testing.T) {
	placement := map[string]string{"vm-1": "host-a", "vm-2": "host-b"}
	got := dropSelfMigrations(placement, "host-a")
	if _, ok := got["vm-1"]; ok {
		t.Fatalf("expected vm-1 assigned back to its source host to be dropped")
	}
	if dest, ok := got["vm-2"]; !ok || dest != "host-b" {
		t.Fatalf("expected vm-2 to stay assigned to host-b, got %v", got)
	}
}

// ensure the algorithms package's bfd factory is linked in by this test
// binary (its init() registers into algorithms.PlacementIndex).
var _ = algorithms.PlacementIndex
