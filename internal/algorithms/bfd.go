// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package algorithms

import (
	"sort"

	"github.com/openstack-archive/terracotta/internal/conf"
)

func init() {
	PlacementIndex["bfd"] = newBFDPlacement
}

type bfdOpts struct {
	CPUThreshold float64 `json:"cpuThreshold"`
	RAMThreshold float64 `json:"ramThreshold"`
	LastNVmCPU   int     `json:"lastNVmCpu"`
}

type bfdHost struct {
	name     string
	availCPU int
	availRAM int
}

type bfdVM struct {
	uuid      string
	cpuDemand int
	ramDemand int
}

// newBFDPlacement implements Best-Fit-Decreasing bin-packing (spec
// §4.2.4). State is unused; BFD is stateless across ticks.
func newBFDPlacement(_, _ float64, params conf.RawOpts) (PlacementFunc, error) {
	var opts bfdOpts
	if err := params.Unmarshal(&opts); err != nil {
		return nil, err
	}
	if opts.LastNVmCPU <= 0 {
		opts.LastNVmCPU = 2
	}
	if opts.CPUThreshold == 0 {
		opts.CPUThreshold = 0.8
	}
	if opts.RAMThreshold == 0 {
		opts.RAMThreshold = 0.95
	}

	return func(in PlacementInputs, state any) (map[string]string, any) {
		availCPU := GetAvailableResources(opts.CPUThreshold, in.HostsCPUUsage, in.HostsCPUTotal)
		availRAM := GetAvailableResources(opts.RAMThreshold, in.HostsRAMUsage, in.HostsRAMTotal)
		active := make([]bfdHost, 0, len(in.HostsCPUTotal))
		for h := range in.HostsCPUTotal {
			active = append(active, bfdHost{name: h, availCPU: availCPU[h], availRAM: availRAM[h]})
		}
		sortHostsAscending(active)

		zero := map[string]int{}
		inactiveAvailCPU := GetAvailableResources(opts.CPUThreshold, zero, in.InactiveHostsCPU)
		inactiveAvailRAM := GetAvailableResources(opts.RAMThreshold, zero, in.InactiveHostsRAM)
		inactive := make([]bfdHost, 0, len(in.InactiveHostsCPU))
		for h := range in.InactiveHostsCPU {
			inactive = append(inactive, bfdHost{name: h, availCPU: inactiveAvailCPU[h], availRAM: inactiveAvailRAM[h]})
		}
		sortHostsAscending(inactive)

		vms := make([]bfdVM, 0, len(in.VmsCPU))
		for uuid, history := range in.VmsCPU {
			if len(history) == 0 {
				continue
			}
			n := opts.LastNVmCPU
			if n > len(history) {
				n = len(history)
			}
			window := history[len(history)-n:]
			sum := 0
			for _, v := range window {
				sum += v
			}
			vms = append(vms, bfdVM{
				uuid:      uuid,
				cpuDemand: sum / len(window),
				ramDemand: in.VmsRAM[uuid],
			})
		}
		sort.Slice(vms, func(i, j int) bool {
			if vms[i].cpuDemand != vms[j].cpuDemand {
				return vms[i].cpuDemand > vms[j].cpuDemand
			}
			if vms[i].ramDemand != vms[j].ramDemand {
				return vms[i].ramDemand > vms[j].ramDemand
			}
			return vms[i].uuid > vms[j].uuid
		})

		placement := map[string]string{}
		for _, vm := range vms {
			idx := firstFit(active, vm)
			for idx == -1 && len(inactive) > 0 {
				promoted := inactive[0]
				inactive = inactive[1:]
				active = insertSorted(active, promoted)
				idx = firstFit(active, vm)
			}
			if idx == -1 {
				return map[string]string{}, state
			}
			active[idx].availCPU -= vm.cpuDemand
			active[idx].availRAM -= vm.ramDemand
			placement[vm.uuid] = active[idx].name
			sortHostsAscending(active)
		}
		return placement, state
	}, nil
}

func sortHostsAscending(hosts []bfdHost) {
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].availCPU != hosts[j].availCPU {
			return hosts[i].availCPU < hosts[j].availCPU
		}
		if hosts[i].availRAM != hosts[j].availRAM {
			return hosts[i].availRAM < hosts[j].availRAM
		}
		return hosts[i].name < hosts[j].name
	})
}

func insertSorted(hosts []bfdHost, h bfdHost) []bfdHost {
	hosts = append(hosts, h)
	sortHostsAscending(hosts)
	return hosts
}

// firstFit returns the index of the first active host (ascending order)
// with enough room for vm, or -1 if none fits.
func firstFit(hosts []bfdHost, vm bfdVM) int {
	for i, h := range hosts {
		if h.availCPU >= vm.cpuDemand && h.availRAM >= vm.ramDemand {
			return i
		}
	}
	return -1
}
