// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package localmanager implements the Local Manager agent: each tick it
// classifies its host as underloaded, overloaded, or normal from the
// Collector's local history and, on overload, picks which guests to
// evict (spec §4.4).
package localmanager

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/sapcc/go-bits/jobloop"

	"github.com/openstack-archive/terracotta/internal/algorithms"
	"github.com/openstack-archive/terracotta/internal/conf"
	"github.com/openstack-archive/terracotta/internal/hypervisor"
	"github.com/openstack-archive/terracotta/internal/mqtt"
)

// LocalManager owns one host's classification state. Detector and
// selector state is opaque and persists across ticks once built on the
// first tick that has enough history to size the migration-time estimate.
type LocalManager struct {
	Hypervisor  hypervisor.HypervisorLocal
	MQTT        mqtt.Client
	TopicPrefix string
	Config      conf.AgentConfig
	Algorithms  conf.AlgorithmConfig
	Monitor     Monitor

	history          *localHistory
	host             string
	physicalMhzTotal int

	underload      algorithms.UnderloadFunc
	overload       algorithms.OverloadFunc
	selection      algorithms.SelectionFunc
	underloadState any
	overloadState  any
	selectionState any
}

func NewLocalManager(hv hypervisor.HypervisorLocal, client mqtt.Client, topicPrefix string, cfg conf.AgentConfig, alg conf.AlgorithmConfig, monitor Monitor) *LocalManager {
	return &LocalManager{
		Hypervisor:  hv,
		MQTT:        client,
		TopicPrefix: topicPrefix,
		Config:      cfg,
		Algorithms:  alg,
		Monitor:     monitor,
		history:     newLocalHistory(cfg.LocalDataDirectory),
	}
}

// Run opens the hypervisor connection, caches the usable CPU capacity,
// and ticks until ctx is cancelled.
func (m *LocalManager) Run(ctx context.Context) error {
	if err := m.Hypervisor.Connect(ctx); err != nil {
		return err
	}
	defer m.Hypervisor.Close()

	hostname, err := m.Hypervisor.Hostname(ctx)
	if err != nil {
		return err
	}
	m.host = hostname

	cpuMHz, _, _, err := m.Hypervisor.Capacity(ctx)
	if err != nil {
		return err
	}
	m.physicalMhzTotal = int(math.Round(float64(cpuMHz) * m.Config.HostCPUUsableByVMs))

	interval := time.Duration(m.Config.LocalManagerIntervalSeconds) * time.Second
	for {
		select {
		case <-ctx.Done():
			slog.Info("local manager: shutting down", "host", m.host)
			return nil
		default:
			m.tick(ctx)
			time.Sleep(jobloop.DefaultJitter(interval))
		}
	}
}

func (m *LocalManager) tick(ctx context.Context) {
	start := time.Now()
	defer func() { m.Monitor.tickRunTimer.Observe(time.Since(start).Seconds()) }()

	uuids, err := m.history.listVMs()
	if err != nil {
		slog.Error("local manager: failed to list local vm history", "error", err)
		return
	}
	if len(uuids) == 0 {
		return
	}
	slices.Sort(uuids)

	vmsMhz := make(map[string][]int, len(uuids))
	for _, uuid := range uuids {
		history, err := m.history.readVM(uuid)
		if err != nil {
			slog.Error("local manager: failed to read vm history", "vm_uuid", uuid, "error", err)
			continue
		}
		vmsMhz[uuid] = history
	}

	vmsRAM := make(map[string]int, len(uuids))
	var liveUUIDs []string
	for _, uuid := range uuids {
		ramMB, err := m.Hypervisor.GetMaxMemoryMB(ctx, uuid)
		if err != nil {
			m.Monitor.skippedLookup.Inc()
			slog.Warn("local manager: dropping vm, max memory lookup failed", "vm_uuid", uuid, "error", err)
			continue
		}
		vmsRAM[uuid] = ramMB
		liveUUIDs = append(liveUUIDs, uuid)
	}
	if len(liveUUIDs) == 0 {
		return
	}

	hostHistory, err := m.history.readHost()
	if err != nil {
		slog.Error("local manager: failed to read host history", "error", err)
		return
	}

	maxLen := len(hostHistory)
	for _, uuid := range liveUUIDs {
		if l := len(vmsMhz[uuid]); l > maxLen {
			maxLen = l
		}
	}
	if maxLen == 0 {
		return
	}

	hostPadded := leftPad(hostHistory, maxLen)
	vmsPadded := make(map[string][]int, len(liveUUIDs))
	for _, uuid := range liveUUIDs {
		vmsPadded[uuid] = leftPad(vmsMhz[uuid], maxLen)
	}
	utilization := make([]float64, maxLen)
	if m.physicalMhzTotal <= 0 {
		slog.Error("local manager: physical cpu mhz total is non-positive, cannot classify", "host", m.host)
		return
	}
	for i := range maxLen {
		sum := hostPadded[i]
		for _, uuid := range liveUUIDs {
			sum += vmsPadded[uuid][i]
		}
		utilization[i] = float64(sum) / float64(m.physicalMhzTotal)
	}
	if len(utilization) == 0 {
		return
	}

	if err := m.ensureAlgorithms(vmsRAM); err != nil {
		slog.Error("local manager: failed to build algorithms", "error", err)
		return
	}

	underloaded, newUnderloadState := m.underload(algorithms.UnderloadInputs{Utilization: utilization}, m.underloadState)
	m.underloadState = newUnderloadState
	if underloaded {
		m.Monitor.underloadTotal.Inc()
		mqtt.PublishUnderload(m.MQTT, m.TopicPrefix, m.host)
		return
	}

	overloaded, newOverloadState := m.overload(algorithms.OverloadInputs{Utilization: utilization}, m.overloadState)
	m.overloadState = newOverloadState
	if !overloaded {
		return
	}

	liveVmsMhz := make(map[string][]int, len(liveUUIDs))
	for _, uuid := range liveUUIDs {
		liveVmsMhz[uuid] = vmsMhz[uuid]
	}
	uuid, newSelectionState := m.selection(algorithms.SelectionInputs{
		VmUUIDs: liveUUIDs,
		VmsCPU:  liveVmsMhz,
		VmsRAM:  vmsRAM,
	}, m.selectionState)
	m.selectionState = newSelectionState
	if uuid == "" {
		return
	}
	m.Monitor.overloadTotal.Inc()
	mqtt.PublishOverload(m.MQTT, m.TopicPrefix, m.host, []string{uuid})
}

// ensureAlgorithms lazily builds the detectors and selector on the first
// tick that has enough data to size the migration-time estimate (spec
// §4.4 step 6).
func (m *LocalManager) ensureAlgorithms(vmsRAM map[string]int) error {
	if m.underload != nil {
		return nil
	}

	timeStep := float64(m.Config.DataCollectorIntervalSeconds)
	migrationTime := meanRAM(vmsRAM) / m.Config.NetworkMigrationBandwidthMBps

	underload, err := algorithms.BuildUnderload(m.Algorithms, timeStep, migrationTime)
	if err != nil {
		return err
	}
	overload, err := algorithms.BuildOverload(m.Algorithms, timeStep, migrationTime)
	if err != nil {
		return err
	}
	selection, err := algorithms.BuildSelection(m.Algorithms, timeStep, migrationTime)
	if err != nil {
		return err
	}
	m.underload = underload
	m.overload = overload
	m.selection = selection
	return nil
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
