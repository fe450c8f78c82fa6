// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package globalmanager

import (
	"context"
)

// clusterSnapshot is the per-request cluster-wide view assembled from the
// hypervisor and the metric store (spec §4.5.1 step 1 / §4.5.2 step 1).
type clusterSnapshot struct {
	hostsCPUUsage map[string]int
	hostsRAMUsage map[string]int
	hostsCPUTotal map[string]int
	hostsRAMTotal map[string]int

	// inactiveHostsCPU/RAM are populated only when the caller asked to
	// track inactive hosts (the overload path); the underload path
	// excludes empty hosts from the snapshot entirely.
	inactiveHostsCPU map[string]int
	inactiveHostsRAM map[string]int

	// keepActive names hosts carrying at least one VM with no CPU
	// history yet; they are excluded from placement inputs because
	// there isn't enough information to safely evacuate them.
	keepActive map[string]bool
}

func newClusterSnapshot() *clusterSnapshot {
	return &clusterSnapshot{
		hostsCPUUsage:    map[string]int{},
		hostsRAMUsage:    map[string]int{},
		hostsCPUTotal:    map[string]int{},
		hostsRAMTotal:    map[string]int{},
		inactiveHostsCPU: map[string]int{},
		inactiveHostsRAM: map[string]int{},
		keepActive:       map[string]bool{},
	}
}

// exclude drops host from both inputs and candidate destinations (spec
// §4.5.1 step 3 / §4.5.2 step 2).
func (s *clusterSnapshot) exclude(host string) {
	delete(s.hostsCPUUsage, host)
	delete(s.hostsRAMUsage, host)
	delete(s.hostsCPUTotal, host)
	delete(s.hostsRAMTotal, host)
	delete(s.inactiveHostsCPU, host)
	delete(s.inactiveHostsRAM, host)
	delete(s.keepActive, host)
}

// buildSnapshot assembles the cluster-wide view for one request. When
// trackInactive is true, hosts with no VMs contribute their total capacity
// to the inactive maps (the overload path, which may wake them up);
// otherwise they are dropped outright (the underload path, which never
// grows the active set).
func (g *GlobalManager) buildSnapshot(ctx context.Context, trackInactive bool) (*clusterSnapshot, error) {
	cpuTotal, _, ramTotal, err := g.Store.SelectHostCharacteristics()
	if err != nil {
		return nil, err
	}
	hostsLastCPU, err := g.Store.SelectLastCPUMhzForHosts(g.Config.ComputeHosts)
	if err != nil {
		return nil, err
	}
	usedRAM, err := g.Hypervisor.GetUsedRAM(ctx)
	if err != nil {
		return nil, err
	}

	snap := newClusterSnapshot()
	for _, host := range g.Config.ComputeHosts {
		uuids, err := g.Hypervisor.ListServers(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(uuids) == 0 {
			if trackInactive {
				snap.inactiveHostsCPU[host] = cpuTotal[host]
				snap.inactiveHostsRAM[host] = ramTotal[host]
			}
			continue
		}

		hostCPU := hostsLastCPU[host]
		known := true
		for _, uuid := range uuids {
			history, err := g.Store.SelectCPUMhzForVM(uuid, g.Config.DataCollectorDataLength)
			if err != nil {
				return nil, err
			}
			if len(history) == 0 {
				known = false
				break
			}
			hostCPU += history[len(history)-1]
		}
		if !known {
			snap.keepActive[host] = true
			continue
		}

		snap.hostsCPUUsage[host] = hostCPU
		snap.hostsRAMUsage[host] = usedRAM[host]
		snap.hostsCPUTotal[host] = cpuTotal[host]
		snap.hostsRAMTotal[host] = ramTotal[host]
	}
	return snap, nil
}

// resolveVMsForMigration filters uuids to those with known CPU history and
// known RAM, returning their CPU history and RAM for the placement call
// (spec §4.5.1 step 4 / §4.5.2 step 3: "unknown-RAM guests are dropped").
func (g *GlobalManager) resolveVMsForMigration(ctx context.Context, uuids []string) (kept []string, vmsCPU map[string][]int, vmsRAM map[string]int, err error) {
	vmsCPU = make(map[string][]int)
	vmsRAM = make(map[string]int)
	for _, uuid := range uuids {
		history, err := g.Store.SelectCPUMhzForVM(uuid, g.Config.DataCollectorDataLength)
		if err != nil {
			return nil, nil, nil, err
		}
		if len(history) == 0 {
			continue
		}
		ram, err := g.Hypervisor.GetFlavorRAMMB(ctx, uuid)
		if err != nil {
			continue
		}
		vmsCPU[uuid] = history
		vmsRAM[uuid] = ram
		kept = append(kept, uuid)
	}
	return kept, vmsCPU, vmsRAM, nil
}

// computeHostsToDeactivate implements spec §4.5.1 step 7:
// (compute_hosts \ active_hosts) \ previously_inactive \ keep_active.
func computeHostsToDeactivate(computeHosts []string, activeHostsTotal map[string]int, previouslyInactive []string, keepActive map[string]bool) []string {
	prevSet := make(map[string]bool, len(previouslyInactive))
	for _, h := range previouslyInactive {
		prevSet[h] = true
	}
	var out []string
	for _, h := range computeHosts {
		if _, ok := activeHostsTotal[h]; ok {
			continue
		}
		if prevSet[h] || keepActive[h] {
			continue
		}
		out = append(out, h)
	}
	return out
}

func removeHost(hosts []string, target string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}

// dropSelfMigrations filters out placement entries that assign a VM back to
// the host it is already being evacuated from (spec line on "a VM already
// on its chosen host still appears and is filtered by the orchestrator").
func dropSelfMigrations(placement map[string]string, sourceHost string) map[string]string {
	filtered := make(map[string]string, len(placement))
	for uuid, dest := range placement {
		if dest == sourceHost {
			continue
		}
		filtered[uuid] = dest
	}
	return filtered
}

func uniqueDestinations(placement map[string]string) []string {
	seen := make(map[string]bool, len(placement))
	var out []string
	for _, dest := range placement {
		if !seen[dest] {
			seen[dest] = true
			out = append(out, dest)
		}
	}
	return out
}

func meanRAM(vmsRAM map[string]int) float64 {
	if len(vmsRAM) == 0 {
		return 0
	}
	sum := 0
	for _, ram := range vmsRAM {
		sum += ram
	}
	return float64(sum) / float64(len(vmsRAM))
}
