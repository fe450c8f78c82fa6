// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package globalmanager implements the Global Manager agent: it serves the
// underload/overload RPCs published by every Local Manager, assembles a
// cluster-wide snapshot, invokes the pluggable placement algorithm, and
// orchestrates live migrations and host power transitions (spec §4.5).
package globalmanager

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sapcc/go-bits/jobloop"

	"github.com/openstack-archive/terracotta/internal/algorithms"
	"github.com/openstack-archive/terracotta/internal/conf"
	"github.com/openstack-archive/terracotta/internal/hypervisor"
	"github.com/openstack-archive/terracotta/internal/metricstore"
	"github.com/openstack-archive/terracotta/internal/mqtt"
	"github.com/openstack-archive/terracotta/internal/power"
)

// Migration timing (spec §4.5.3). Variables rather than constants so tests
// in this package can shrink them instead of sleeping in real time.
var (
	migrationInitialDelay   = 10 * time.Second
	migrationPollInterval   = 3 * time.Second
	migrationPollTimeout    = 300 * time.Second
	maxMigrationRetryRounds = 5
)

// GlobalManager holds the cluster-wide state a fleet of Local Managers
// reports into: the hypervisor control plane, the shared metric store, the
// power controller, and the cached placement function. Requests are
// serialized with an exclusive lock so overlapping underload/overload RPCs
// are processed one at a time, in arrival order (spec §5).
type GlobalManager struct {
	Hypervisor  hypervisor.HypervisorCluster
	Store       *metricstore.Store
	Power       power.Controller
	Chowner     InstanceDirFixer
	MQTT        mqtt.Client
	TopicPrefix string
	Config      conf.AgentConfig
	Algorithms  conf.AlgorithmConfig
	Monitor     Monitor

	mu       sync.Mutex
	hostMACs map[string]string

	placement      algorithms.PlacementFunc
	placementState any
}

// NewGlobalManager wires the Global Manager's dependencies; call Run to
// power on the cluster and start serving RPCs.
func NewGlobalManager(
	hv hypervisor.HypervisorCluster,
	store *metricstore.Store,
	powerController power.Controller,
	chowner InstanceDirFixer,
	client mqtt.Client,
	topicPrefix string,
	cfg conf.AgentConfig,
	alg conf.AlgorithmConfig,
	monitor Monitor,
) *GlobalManager {
	return &GlobalManager{
		Hypervisor:  hv,
		Store:       store,
		Power:       powerController,
		Chowner:     chowner,
		MQTT:        client,
		TopicPrefix: topicPrefix,
		Config:      cfg,
		Algorithms:  alg,
		Monitor:     monitor,
		hostMACs:    map[string]string{},
	}
}

// Run connects the RPC transport, powers on every configured compute host,
// and serves underload/overload requests until ctx is cancelled.
func (g *GlobalManager) Run(ctx context.Context) error {
	if err := g.MQTT.Connect(); err != nil {
		return err
	}

	if err := g.powerOnHosts(ctx, g.Config.ComputeHosts); err != nil {
		slog.Error("global manager: failed to power on hosts at startup", "error", err)
	}

	if err := mqtt.SubscribeUnderload(g.MQTT, g.TopicPrefix, func(signal mqtt.UnderloadSignal) {
		g.handleUnderload(ctx, signal.Host)
	}); err != nil {
		return err
	}
	if err := mqtt.SubscribeOverload(g.MQTT, g.TopicPrefix, func(signal mqtt.OverloadSignal) {
		g.handleOverload(ctx, signal.Host, signal.VmUUIDs)
	}); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("global manager: shutting down")
	return nil
}

func (g *GlobalManager) handleUnderload(ctx context.Context, host string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := time.Now()
	defer func() { g.Monitor.requestRunTimer.WithLabelValues("underload").Observe(time.Since(start).Seconds()) }()

	if err := g.processUnderload(ctx, host); err != nil {
		slog.Error("global manager: underload request failed", "host", host, "error", err)
	}
}

func (g *GlobalManager) handleOverload(ctx context.Context, host string, vmUUIDs []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := time.Now()
	defer func() { g.Monitor.requestRunTimer.WithLabelValues("overload").Observe(time.Since(start).Seconds()) }()

	if err := g.processOverload(ctx, host, vmUUIDs); err != nil {
		slog.Error("global manager: overload request failed", "host", host, "error", err)
	}
}

// processUnderload implements spec §4.5.1: evacuate host, power it (and any
// other newly-drained host) off.
func (g *GlobalManager) processUnderload(ctx context.Context, host string) error {
	snap, err := g.buildSnapshot(ctx, false)
	if err != nil {
		return err
	}
	snap.exclude(host)

	vmUUIDs, err := g.Hypervisor.ListServers(ctx, host)
	if err != nil {
		return err
	}
	migrateUUIDs, vmsCPU, vmsRAM, err := g.resolveVMsForMigration(ctx, vmUUIDs)
	if err != nil {
		return err
	}
	if len(migrateUUIDs) == 0 {
		slog.Info("global manager: no vms to migrate, completed underload request", "host", host)
		return nil
	}

	if err := g.ensurePlacement(vmsRAM); err != nil {
		return err
	}
	placement, newState := g.placement(algorithms.PlacementInputs{
		HostsCPUUsage:    snap.hostsCPUUsage,
		HostsCPUTotal:    snap.hostsCPUTotal,
		HostsRAMUsage:    snap.hostsRAMUsage,
		HostsRAMTotal:    snap.hostsRAMTotal,
		InactiveHostsCPU: map[string]int{},
		InactiveHostsRAM: map[string]int{},
		VmsCPU:           vmsCPU,
		VmsRAM:           vmsRAM,
	}, g.placementState)
	g.placementState = newState
	placement = dropSelfMigrations(placement, host)

	previouslyInactive, err := g.Store.SelectInactiveHosts()
	if err != nil {
		return err
	}
	hostsToDeactivate := computeHostsToDeactivate(g.Config.ComputeHosts, snap.hostsCPUTotal, previouslyInactive, snap.keepActive)

	if len(placement) == 0 {
		slog.Info("global manager: underload placement empty, keeping host online", "host", host)
		hostsToDeactivate = removeHost(hostsToDeactivate, host)
	} else {
		g.executeMigrations(ctx, placement)
	}

	return g.powerOffHosts(ctx, hostsToDeactivate)
}

// processOverload implements spec §4.5.2: evacuate the named VMs, waking
// any inactive destination before migrating to it.
func (g *GlobalManager) processOverload(ctx context.Context, host string, vmUUIDs []string) error {
	snap, err := g.buildSnapshot(ctx, true)
	if err != nil {
		return err
	}
	snap.exclude(host)

	migrateUUIDs, vmsCPU, vmsRAM, err := g.resolveVMsForMigration(ctx, vmUUIDs)
	if err != nil {
		return err
	}
	if len(migrateUUIDs) == 0 {
		slog.Info("global manager: no vms to migrate, completed overload request", "host", host)
		return nil
	}

	if err := g.ensurePlacement(vmsRAM); err != nil {
		return err
	}
	placement, newState := g.placement(algorithms.PlacementInputs{
		HostsCPUUsage:    snap.hostsCPUUsage,
		HostsCPUTotal:    snap.hostsCPUTotal,
		HostsRAMUsage:    snap.hostsRAMUsage,
		HostsRAMTotal:    snap.hostsRAMTotal,
		InactiveHostsCPU: snap.inactiveHostsCPU,
		InactiveHostsRAM: snap.inactiveHostsRAM,
		VmsCPU:           vmsCPU,
		VmsRAM:           vmsRAM,
	}, g.placementState)
	g.placementState = newState
	placement = dropSelfMigrations(placement, host)

	var toWake []string
	for _, dest := range uniqueDestinations(placement) {
		if _, inactive := snap.inactiveHostsCPU[dest]; inactive {
			toWake = append(toWake, dest)
		}
	}
	if len(toWake) > 0 {
		if err := g.powerOnHosts(ctx, toWake); err != nil {
			slog.Error("global manager: failed to power on destination hosts", "error", err)
		}
	}

	g.executeMigrations(ctx, placement)
	return nil
}

// ensurePlacement lazily builds the placement function on the first call
// and caches it across requests (spec §4.5.1 step 5).
func (g *GlobalManager) ensurePlacement(vmsRAM map[string]int) error {
	if g.placement != nil {
		return nil
	}
	timeStep := float64(g.Config.DataCollectorIntervalSeconds)
	migrationTime := meanRAM(vmsRAM) / g.Config.NetworkMigrationBandwidthMBps
	placement, err := algorithms.BuildPlacement(g.Algorithms, timeStep, migrationTime)
	if err != nil {
		return err
	}
	g.placement = placement
	return nil
}

// executeMigrations drives §4.5.3: batches of one VM, 10s initial delay,
// 3s polling, 300s timeout. Timed-out VMs are retried against the same
// destination for a bounded number of rounds, replacing the original's
// unbounded tail recursion (spec §9 open question).
func (g *GlobalManager) executeMigrations(ctx context.Context, placement map[string]string) {
	pending := placement
	for round := 0; round < maxMigrationRetryRounds && len(pending) > 0; round++ {
		pending = g.executeMigrationRound(ctx, pending)
	}
	if len(pending) > 0 {
		slog.Warn("global manager: giving up on migrations after max retry rounds", "remaining", pending)
	}
}

func (g *GlobalManager) executeMigrationRound(ctx context.Context, placement map[string]string) map[string]string {
	retry := map[string]string{}
	for _, uuid := range sortedKeys(placement) {
		destination := placement[uuid]

		if err := g.Chowner.Chown(ctx, g.Config.VMInstanceDirectory); err != nil {
			slog.Warn("global manager: failed to fix instance directory ownership", "vm_uuid", uuid, "error", err)
		}
		if err := g.Hypervisor.LiveMigrate(ctx, uuid, destination); err != nil {
			slog.Error("global manager: live migration rpc failed", "vm_uuid", uuid, "destination", destination, "error", err)
			continue
		}
		slog.Info("global manager: started live migration", "vm_uuid", uuid, "destination", destination)

		time.Sleep(migrationInitialDelay)
		start := time.Now()
		for {
			currentHost, active, err := g.Hypervisor.GetServerLocation(ctx, uuid)
			if err != nil {
				slog.Error("global manager: failed to poll migration status", "vm_uuid", uuid, "error", err)
				break
			}
			if currentHost == destination && active {
				if err := g.Store.InsertVmMigration(uuid, destination, time.Now().Unix()); err != nil {
					slog.Error("global manager: failed to record migration event", "vm_uuid", uuid, "error", err)
				}
				g.Monitor.migrationsTotal.WithLabelValues("confirmed").Inc()
				slog.Info("global manager: completed live migration", "vm_uuid", uuid, "destination", destination)
				break
			}
			if time.Since(start) > migrationPollTimeout && currentHost != destination && active {
				retry[uuid] = destination
				g.Monitor.migrationsTotal.WithLabelValues("timeout").Inc()
				slog.Warn("global manager: live migration timed out, will retry", "vm_uuid", uuid, "destination", destination)
				break
			}
			time.Sleep(jobloop.DefaultJitter(migrationPollInterval))
		}
	}
	return retry
}

// powerOnHosts resolves each host's MAC the first time it's seen (spec
// §4.5.4 "first tick only"), wakes it, and records HostState=1.
func (g *GlobalManager) powerOnHosts(ctx context.Context, hosts []string) error {
	if len(hosts) == 0 {
		return nil
	}
	var errs []error
	for _, host := range hosts {
		mac, cached := g.hostMACs[host]
		if !cached {
			resolved, err := g.Power.ResolveMAC(ctx, host)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			mac = resolved
			g.hostMACs[host] = mac
		}
		if err := g.Power.PowerOn(ctx, host, mac); err != nil {
			errs = append(errs, err)
			continue
		}
		g.Monitor.powerTotal.WithLabelValues("on").Inc()
	}

	states := make(map[string]int, len(hosts))
	for _, h := range hosts {
		states[h] = metricstore.HostStateActive
	}
	if err := g.Store.InsertHostStates(states, time.Now().Unix()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// powerOffHosts suspends each host over SSH and records HostState=0 (spec
// §4.5.4).
func (g *GlobalManager) powerOffHosts(ctx context.Context, hosts []string) error {
	if len(hosts) == 0 {
		return nil
	}
	var errs []error
	for _, host := range hosts {
		if err := g.Power.PowerOff(ctx, host); err != nil {
			errs = append(errs, err)
			continue
		}
		g.Monitor.powerTotal.WithLabelValues("off").Inc()
	}

	states := make(map[string]int, len(hosts))
	for _, h := range hosts {
		states[h] = metricstore.HostStateAsleep
	}
	if err := g.Store.InsertHostStates(states, time.Now().Unix()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
