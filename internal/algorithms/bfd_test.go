// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package algorithms_test

import (
	"testing"

	"github.com/openstack-archive/terracotta/internal/algorithms"
	"github.com/openstack-archive/terracotta/internal/conf"
)

func buildBFD(t *testing.T) algorithms.PlacementFunc {
	t.Helper()
	f, err := algorithms.BuildPlacement(conf.AlgorithmConfig{
		VMPlacementFactory: "bfd",
		VMPlacementParameters: conf.NewRawOpts(
			`{"cpuThreshold": 1.0, "ramThreshold": 1.0, "lastNVmCpu": 1}`),
	}, 300, 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return f
}

// BFD trivial (spec §8 scenario 1): 3 VMs of 500 MHz each across 2 hosts
// of 1000 MHz each must pack 2+1.
func TestBFDTrivial(t *testing.T) {
	f := buildBFD(t)
	in := algorithms.PlacementInputs{
		HostsCPUUsage: map[string]int{"h1": 0, "h2": 0},
		HostsCPUTotal: map[string]int{"h1": 1000, "h2": 1000},
		HostsRAMUsage: map[string]int{"h1": 0, "h2": 0},
		HostsRAMTotal: map[string]int{"h1": 2048, "h2": 2048},
		VmsCPU: map[string][]int{
			"v1": {500}, "v2": {500}, "v3": {500},
		},
		VmsRAM: map[string]int{"v1": 1000, "v2": 1000, "v3": 1000},
	}
	placement, _ := f(in, nil)
	if len(placement) != 3 {
		t.Fatalf("expected all 3 vms placed, got %v", placement)
	}
	perHostCPU := map[string]int{}
	for vm, host := range placement {
		perHostCPU[host] += 500
		_ = vm
	}
	for h, cpu := range perHostCPU {
		if cpu > 1000 {
			t.Fatalf("host %s over capacity: %d", h, cpu)
		}
	}
}

// BFD infeasible (spec §8 scenario 2): RAM demand exceeds any packing.
func TestBFDInfeasible(t *testing.T) {
	f := buildBFD(t)
	in := algorithms.PlacementInputs{
		HostsCPUUsage: map[string]int{"h1": 0, "h2": 0},
		HostsCPUTotal: map[string]int{"h1": 1000, "h2": 1000},
		HostsRAMUsage: map[string]int{"h1": 0, "h2": 0},
		HostsRAMTotal: map[string]int{"h1": 2048, "h2": 2048},
		VmsCPU: map[string][]int{
			"v1": {600}, "v2": {600}, "v3": {600},
		},
		VmsRAM: map[string]int{"v1": 2000, "v2": 2000, "v3": 2000},
	}
	placement, _ := f(in, nil)
	if len(placement) != 0 {
		t.Fatalf("expected infeasible empty placement, got %v", placement)
	}
}

func TestBFDPromotesInactiveHost(t *testing.T) {
	f := buildBFD(t)
	in := algorithms.PlacementInputs{
		HostsCPUUsage:    map[string]int{"h1": 900},
		HostsCPUTotal:    map[string]int{"h1": 1000},
		HostsRAMUsage:    map[string]int{"h1": 0},
		HostsRAMTotal:    map[string]int{"h1": 2048},
		InactiveHostsCPU: map[string]int{"h2": 1000},
		InactiveHostsRAM: map[string]int{"h2": 2048},
		VmsCPU:           map[string][]int{"v1": {500}},
		VmsRAM:           map[string]int{"v1": 500},
	}
	placement, _ := f(in, nil)
	if placement["v1"] != "h2" {
		t.Fatalf("expected promotion of inactive host h2, got %v", placement)
	}
}

func TestGetAvailableResources(t *testing.T) {
	available := algorithms.GetAvailableResources(0.8, map[string]int{"h1": 100}, map[string]int{"h1": 1000})
	if available["h1"] != 700 {
		t.Fatalf("expected 700, got %d", available["h1"])
	}
}
