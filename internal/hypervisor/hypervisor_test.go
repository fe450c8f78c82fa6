// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package hypervisor_test

import (
	"testing"

	"github.com/openstack-archive/terracotta/internal/hypervisor"
)

var (
	_ hypervisor.HypervisorLocal   = (*hypervisor.LibvirtHypervisor)(nil)
	_ hypervisor.HypervisorLocal   = (*hypervisor.FakeLocal)(nil)
	_ hypervisor.HypervisorCluster = (*hypervisor.NovaHypervisorCluster)(nil)
	_ hypervisor.HypervisorCluster = (*hypervisor.FakeCluster)(nil)
)

func TestFakeLocalListDomains(t *testing.T) {
	fake := hypervisor.NewFakeLocal()
	fake.Domains = []hypervisor.Domain{
		{UUID: "vm-1", Name: "instance-1", State: hypervisor.DomainRunning},
	}
	domains, err := fake.ListDomains(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(domains) != 1 || domains[0].UUID != "vm-1" {
		t.Fatalf("unexpected domains: %+v", domains)
	}
}

func TestFakeLocalCPUTimeLookupFailureIsPerUUID(t *testing.T) {
	fake := hypervisor.NewFakeLocal()
	fake.CPUTimeNanoseconds["vm-1"] = 1000
	fake.FailCPUTimeFor["vm-2"] = true

	got, err := fake.GetCPUTimeNanoseconds(t.Context(), "vm-1")
	if err != nil || got != 1000 {
		t.Fatalf("expected 1000, nil; got %d, %v", got, err)
	}
	if _, err := fake.GetCPUTimeNanoseconds(t.Context(), "vm-2"); err == nil {
		t.Fatalf("expected error for vm-2")
	}
}

func TestFakeClusterLiveMigrateMovesServer(t *testing.T) {
	fake := hypervisor.NewFakeCluster()
	fake.ServersByHost["h1"] = []string{"vm-1", "vm-2"}

	if err := fake.LiveMigrate(t.Context(), "vm-1", "h2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.Migrations) != 1 {
		t.Fatalf("expected one recorded migration")
	}

	host, active, err := fake.GetServerLocation(t.Context(), "vm-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "h1" || active {
		t.Fatalf("expected vm-1 still migrating on h1, got host=%q active=%v", host, active)
	}

	fake.CompleteMigration("vm-1")
	if len(fake.ServersByHost["h1"]) != 1 || fake.ServersByHost["h1"][0] != "vm-2" {
		t.Fatalf("expected vm-1 removed from h1, got %v", fake.ServersByHost["h1"])
	}
	if len(fake.ServersByHost["h2"]) != 1 || fake.ServersByHost["h2"][0] != "vm-1" {
		t.Fatalf("expected vm-1 added to h2, got %v", fake.ServersByHost["h2"])
	}
	host, active, err = fake.GetServerLocation(t.Context(), "vm-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "h2" || !active {
		t.Fatalf("expected vm-1 active on h2, got host=%q active=%v", host, active)
	}
}

func TestFakeClusterLiveMigrateFailure(t *testing.T) {
	fake := hypervisor.NewFakeCluster()
	fake.FailMigrateFor["vm-1"] = true
	if err := fake.LiveMigrate(t.Context(), "vm-1", "h2"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFakeClusterFlavorRAMMB(t *testing.T) {
	fake := hypervisor.NewFakeCluster()
	fake.FlavorByServer["vm-1"] = "m1.small"
	fake.FlavorRAMMB["m1.small"] = 2048

	ram, err := fake.GetFlavorRAMMB(t.Context(), "vm-1")
	if err != nil || ram != 2048 {
		t.Fatalf("expected 2048, nil; got %d, %v", ram, err)
	}
}
