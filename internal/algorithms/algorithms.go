// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package algorithms implements the pluggable decision logic shared by
// every agent: underload/overload detection, VM selection, and VM
// placement. Every algorithm is built by a factory taking
// (time_step_seconds, migration_time_seconds, params) and returning a
// function of (inputs, state) -> (result, new state); state is opaque to
// callers and threaded across ticks to support stateful estimators such
// as OTF and MHOD.
//
// Algorithms are looked up by a stable string identifier through the
// Index maps below, replacing dynamic dispatch by fully-qualified type
// name with a plain registry: configuration names the identifier, and
// each implementation file registers itself via init().
package algorithms

import (
	"fmt"

	"github.com/openstack-archive/terracotta/internal/conf"
)

// UnderloadInputs is the per-tick input to an underload detector: the
// host's utilization history in [0, 1], oldest first.
type UnderloadInputs struct {
	Utilization []float64
}

// UnderloadFunc classifies a host as underloaded given its history and
// the detector's own state from the previous tick.
type UnderloadFunc func(in UnderloadInputs, state any) (underloaded bool, newState any)

// UnderloadFactory builds an UnderloadFunc bound to the tick cadence and
// migration time estimate for one host.
type UnderloadFactory func(timeStepSeconds, migrationTimeSeconds float64, params conf.RawOpts) (UnderloadFunc, error)

// UnderloadIndex maps a configured algorithm identifier to its factory.
var UnderloadIndex = map[string]UnderloadFactory{}

// OverloadInputs is the per-tick input to an overload detector.
type OverloadInputs struct {
	Utilization []float64
}

// OverloadFunc classifies a host as overloaded.
type OverloadFunc func(in OverloadInputs, state any) (overloaded bool, newState any)

type OverloadFactory func(timeStepSeconds, migrationTimeSeconds float64, params conf.RawOpts) (OverloadFunc, error)

var OverloadIndex = map[string]OverloadFactory{}

// SelectionInputs carries the per-VM data a selection heuristic needs.
type SelectionInputs struct {
	// VmUUIDs fixes iteration order for tie-breaking by first observed.
	VmUUIDs []string
	VmsCPU  map[string][]int
	VmsRAM  map[string]int
}

// SelectionFunc picks a single VM UUID to evict.
type SelectionFunc func(in SelectionInputs, state any) (uuid string, newState any)

type SelectionFactory func(timeStepSeconds, migrationTimeSeconds float64, params conf.RawOpts) (SelectionFunc, error)

var SelectionIndex = map[string]SelectionFactory{}

// PlacementInputs is the Best-Fit-Decreasing input set (spec §4.2.4).
type PlacementInputs struct {
	HostsCPUUsage    map[string]int
	HostsCPUTotal    map[string]int
	HostsRAMUsage    map[string]int
	HostsRAMTotal    map[string]int
	InactiveHostsCPU map[string]int
	InactiveHostsRAM map[string]int
	VmsCPU           map[string][]int
	VmsRAM           map[string]int
}

// PlacementFunc computes a migration plan, mapping VM UUID to destination
// host. An empty, non-nil result means no feasible assignment exists.
type PlacementFunc func(in PlacementInputs, state any) (placement map[string]string, newState any)

type PlacementFactory func(timeStepSeconds, migrationTimeSeconds float64, params conf.RawOpts) (PlacementFunc, error)

var PlacementIndex = map[string]PlacementFactory{}

func lookupUnderload(name string) (UnderloadFactory, error) {
	f, ok := UnderloadIndex[name]
	if !ok {
		return nil, fmt.Errorf("algorithms: unknown underload detection factory %q", name)
	}
	return f, nil
}

func lookupOverload(name string) (OverloadFactory, error) {
	f, ok := OverloadIndex[name]
	if !ok {
		return nil, fmt.Errorf("algorithms: unknown overload detection factory %q", name)
	}
	return f, nil
}

func lookupSelection(name string) (SelectionFactory, error) {
	f, ok := SelectionIndex[name]
	if !ok {
		return nil, fmt.Errorf("algorithms: unknown vm selection factory %q", name)
	}
	return f, nil
}

func lookupPlacement(name string) (PlacementFactory, error) {
	f, ok := PlacementIndex[name]
	if !ok {
		return nil, fmt.Errorf("algorithms: unknown vm placement factory %q", name)
	}
	return f, nil
}

// BuildUnderload resolves and invokes the configured underload factory.
func BuildUnderload(c conf.AlgorithmConfig, timeStepSeconds, migrationTimeSeconds float64) (UnderloadFunc, error) {
	f, err := lookupUnderload(c.UnderloadDetectionFactory)
	if err != nil {
		return nil, err
	}
	return f(timeStepSeconds, migrationTimeSeconds, c.UnderloadDetectionParameters)
}

// BuildOverload resolves and invokes the configured overload factory.
func BuildOverload(c conf.AlgorithmConfig, timeStepSeconds, migrationTimeSeconds float64) (OverloadFunc, error) {
	f, err := lookupOverload(c.OverloadDetectionFactory)
	if err != nil {
		return nil, err
	}
	return f(timeStepSeconds, migrationTimeSeconds, c.OverloadDetectionParameters)
}

// BuildSelection resolves and invokes the configured VM selection factory.
func BuildSelection(c conf.AlgorithmConfig, timeStepSeconds, migrationTimeSeconds float64) (SelectionFunc, error) {
	f, err := lookupSelection(c.VMSelectionFactory)
	if err != nil {
		return nil, err
	}
	return f(timeStepSeconds, migrationTimeSeconds, c.VMSelectionParameters)
}

// BuildPlacement resolves and invokes the configured placement factory.
func BuildPlacement(c conf.AlgorithmConfig, timeStepSeconds, migrationTimeSeconds float64) (PlacementFunc, error) {
	f, err := lookupPlacement(c.VMPlacementFactory)
	if err != nil {
		return nil, err
	}
	return f(timeStepSeconds, migrationTimeSeconds, c.VMPlacementParameters)
}
