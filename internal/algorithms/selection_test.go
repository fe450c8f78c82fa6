// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package algorithms_test

import (
	"testing"

	"github.com/openstack-archive/terracotta/internal/algorithms"
	"github.com/openstack-archive/terracotta/internal/conf"
)

func TestMinimumUtilizationSelection(t *testing.T) {
	f, err := algorithms.BuildSelection(conf.AlgorithmConfig{
		VMSelectionFactory: "minimum_utilization",
	}, 300, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	uuid, _ := f(algorithms.SelectionInputs{
		VmUUIDs: []string{"a", "b"},
		VmsCPU:  map[string][]int{"a": {500}, "b": {100}},
	}, nil)
	if uuid != "b" {
		t.Fatalf("expected b (lowest last cpu), got %q", uuid)
	}
}

func TestMinimumMigrationTimeSelection(t *testing.T) {
	f, err := algorithms.BuildSelection(conf.AlgorithmConfig{
		VMSelectionFactory: "minimum_migration_time",
	}, 300, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	uuid, _ := f(algorithms.SelectionInputs{
		VmUUIDs: []string{"a", "b"},
		VmsRAM:  map[string]int{"a": 2048, "b": 512},
	}, nil)
	if uuid != "b" {
		t.Fatalf("expected b (lowest ram), got %q", uuid)
	}
}

// minimum_migration_time_max_cpu(last_n=2): vms_ram={a:1024,b:1024,c:2048},
// vms_cpu={a:[100,200],b:[200,300],c:[1000]} must return b: a and b tie on
// minimum RAM, and b has the larger mean over its last 2 cpu samples.
func TestMinimumMigrationTimeMaxCPUSelection(t *testing.T) {
	f, err := algorithms.BuildSelection(conf.AlgorithmConfig{
		VMSelectionFactory:    "minimum_migration_time_max_cpu",
		VMSelectionParameters: conf.NewRawOpts(`{"lastN": 2}`),
	}, 300, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	uuid, _ := f(algorithms.SelectionInputs{
		VmUUIDs: []string{"a", "b", "c"},
		VmsRAM:  map[string]int{"a": 1024, "b": 1024, "c": 2048},
		VmsCPU: map[string][]int{
			"a": {100, 200},
			"b": {200, 300},
			"c": {1000},
		},
	}, nil)
	if uuid != "b" {
		t.Fatalf("expected b, got %q", uuid)
	}
}

func TestRandomSelectionEmpty(t *testing.T) {
	f, err := algorithms.BuildSelection(conf.AlgorithmConfig{
		VMSelectionFactory: "random",
	}, 300, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	uuid, _ := f(algorithms.SelectionInputs{}, nil)
	if uuid != "" {
		t.Fatalf("expected empty string with no candidates, got %q", uuid)
	}
}
