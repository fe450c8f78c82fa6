// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package algorithms

import (
	"math/rand"

	"github.com/openstack-archive/terracotta/internal/conf"
)

func init() {
	SelectionIndex["random"] = newRandomSelection
	SelectionIndex["minimum_utilization"] = newMinimumUtilizationSelection
	SelectionIndex["minimum_migration_time"] = newMinimumMigrationTimeSelection
	SelectionIndex["minimum_migration_time_max_cpu"] = newMinimumMigrationTimeMaxCPUSelection
}

// random: uniform choice over VM UUIDs.
func newRandomSelection(_, _ float64, _ conf.RawOpts) (SelectionFunc, error) {
	return func(in SelectionInputs, state any) (string, any) {
		if len(in.VmUUIDs) == 0 {
			return "", state
		}
		//nolint:gosec // selection heuristic, not a cryptographic choice.
		return in.VmUUIDs[rand.Intn(len(in.VmUUIDs))], state
	}, nil
}

// minimum_utilization: arg-min over latest CPU MHz.
func newMinimumUtilizationSelection(_, _ float64, _ conf.RawOpts) (SelectionFunc, error) {
	return func(in SelectionInputs, state any) (string, any) {
		best := ""
		bestVal := 0
		found := false
		for _, uuid := range in.VmUUIDs {
			history := in.VmsCPU[uuid]
			if len(history) == 0 {
				continue
			}
			last := history[len(history)-1]
			if !found || last < bestVal {
				best, bestVal, found = uuid, last, true
			}
		}
		return best, state
	}, nil
}

// minimum_migration_time: arg-min over RAM (less RAM, faster migration).
func newMinimumMigrationTimeSelection(_, _ float64, _ conf.RawOpts) (SelectionFunc, error) {
	return func(in SelectionInputs, state any) (string, any) {
		best := ""
		bestVal := 0
		found := false
		for _, uuid := range in.VmUUIDs {
			ram, ok := in.VmsRAM[uuid]
			if !ok {
				continue
			}
			if !found || ram < bestVal {
				best, bestVal, found = uuid, ram, true
			}
		}
		return best, state
	}, nil
}

type minimumMigrationTimeMaxCPUOpts struct {
	LastN int `json:"lastN"`
}

// minimum_migration_time_max_cpu(last_n): among VMs whose RAM equals the
// minimum RAM, pick the one with the largest mean over cpu[-last_n:].
// Tie-break: first observed.
func newMinimumMigrationTimeMaxCPUSelection(_, _ float64, params conf.RawOpts) (SelectionFunc, error) {
	var opts minimumMigrationTimeMaxCPUOpts
	if err := params.Unmarshal(&opts); err != nil {
		return nil, err
	}
	lastN := opts.LastN
	if lastN <= 0 {
		lastN = 2
	}
	return func(in SelectionInputs, state any) (string, any) {
		minRAM := 0
		foundRAM := false
		for _, uuid := range in.VmUUIDs {
			ram, ok := in.VmsRAM[uuid]
			if !ok {
				continue
			}
			if !foundRAM || ram < minRAM {
				minRAM, foundRAM = ram, true
			}
		}
		if !foundRAM {
			return "", state
		}
		best := ""
		bestMean := 0.0
		found := false
		for _, uuid := range in.VmUUIDs {
			ram, ok := in.VmsRAM[uuid]
			if !ok || ram != minRAM {
				continue
			}
			history := in.VmsCPU[uuid]
			n := lastN
			if n > len(history) {
				n = len(history)
			}
			if n == 0 {
				continue
			}
			window := history[len(history)-n:]
			sum := 0
			for _, v := range window {
				sum += v
			}
			mean := float64(sum) / float64(len(window))
			if !found || mean > bestMean {
				best, bestMean, found = uuid, mean, true
			}
		}
		return best, state
	}, nil
}
