// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package collector implements the Collector agent: it samples per-VM and
// per-host CPU utilization from the local hypervisor and persists it both
// to a local sliding-window history and to the shared metric store (spec
// §4.3/§4.4).
package collector

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"

	"github.com/openstack-archive/terracotta/internal/conf"
	"github.com/openstack-archive/terracotta/internal/hypervisor"
	"github.com/openstack-archive/terracotta/internal/metricstore"
)

// Collector owns one host's sampling state. No state here is shared with
// any other agent; everything is read and written from one goroutine
// (spec §9 "global mutable agent state -> agent-owned value").
type Collector struct {
	Hypervisor hypervisor.HypervisorLocal
	Store      *metricstore.Store
	Config     conf.AgentConfig
	Monitor    Monitor
	CPUReader  hostCPUReader

	history *localHistory
	host    string
	cpuMHz  int

	firstTick        bool
	previousCPUTime  map[string]uint64
	previousWallTime map[string]time.Time
	previousCPUMhz   map[string]int
	previousHostCPU  hostCPUSample
	previousOverload int
}

// NewCollector constructs a Collector bound to config and hypervisor
// connection; call Run to start its tick loop.
func NewCollector(hv hypervisor.HypervisorLocal, store *metricstore.Store, cfg conf.AgentConfig, monitor Monitor, reader hostCPUReader) *Collector {
	return &Collector{
		Hypervisor:       hv,
		Store:            store,
		Config:           cfg,
		Monitor:          monitor,
		CPUReader:        reader,
		history:          newLocalHistory(cfg.LocalDataDirectory),
		firstTick:        true,
		previousCPUTime:  map[string]uint64{},
		previousWallTime: map[string]time.Time{},
		previousCPUMhz:   map[string]int{},
		previousOverload: -1,
	}
}

// Run opens the hypervisor connection, registers the host, wipes stale
// local history, and ticks until ctx is cancelled (spec §4.3 lifecycle).
func (c *Collector) Run(ctx context.Context) error {
	if err := c.Hypervisor.Connect(ctx); err != nil {
		return err
	}
	defer c.Hypervisor.Close()

	hostname, err := c.Hypervisor.Hostname(ctx)
	if err != nil {
		return err
	}
	c.host = hostname

	cpuMHz, cores, ramMB, err := c.Hypervisor.Capacity(ctx)
	if err != nil {
		return err
	}
	c.cpuMHz = cpuMHz

	usableMHz := int(math.Round(float64(cpuMHz) * c.Config.HostCPUUsableByVMs))
	if err := c.Store.UpdateHost(hostname, usableMHz, cores, ramMB, ""); err != nil {
		return err
	}

	if err := c.history.wipe(); err != nil {
		return err
	}

	interval := time.Duration(c.Config.DataCollectorIntervalSeconds) * time.Second
	for {
		select {
		case <-ctx.Done():
			slog.Info("collector: shutting down", "host", c.host)
			return nil
		default:
			c.tick(ctx)
			time.Sleep(jobloop.DefaultJitter(interval))
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	timer := prometheus.NewTimer(c.Monitor.tickRunTimer)
	defer timer.ObserveDuration()

	previousVMs, err := c.history.listVMs()
	if err != nil {
		slog.Error("collector: failed to list local vm history", "error", err)
		return
	}

	domains, err := c.Hypervisor.ListDomains(ctx)
	if err != nil {
		slog.Error("collector: failed to list domains", "error", err)
		return
	}
	currentVMs := make([]string, 0, len(domains))
	for _, d := range domains {
		if d.State == hypervisor.DomainRunning {
			currentVMs = append(currentVMs, d.UUID)
		}
	}

	added := getAddedVMs(previousVMs, currentVMs)
	removed := getRemovedVMs(previousVMs, currentVMs)

	for _, uuid := range added {
		samples, err := c.Store.SelectCPUMhzForVM(uuid, c.Config.DataCollectorDataLength)
		if err != nil {
			slog.Warn("collector: failed to seed vm history from store", "vm_uuid", uuid, "error", err)
			samples = nil
		}
		if err := c.history.writeVM(uuid, samples, c.Config.DataCollectorDataLength); err != nil {
			slog.Error("collector: failed to write seeded vm history", "vm_uuid", uuid, "error", err)
		}
	}

	for _, uuid := range removed {
		if err := c.history.deleteVM(uuid); err != nil {
			slog.Error("collector: failed to delete vm history", "vm_uuid", uuid, "error", err)
		}
		delete(c.previousCPUTime, uuid)
		delete(c.previousCPUMhz, uuid)
		delete(c.previousWallTime, uuid)
	}

	now := time.Now()
	vmMhz := map[string]int{}

	for _, uuid := range currentVMs {
		cpuTime, err := c.Hypervisor.GetCPUTimeNanoseconds(ctx, uuid)
		if err != nil {
			c.Monitor.skippedLookup.WithLabelValues("cpu_stats").Inc()
			slog.Warn("collector: skipping vm this tick, cpu stats lookup failed", "vm_uuid", uuid, "error", err)
			continue
		}

		prevTime, hadPrev := c.previousCPUTime[uuid]
		prevWall, hadWall := c.previousWallTime[uuid]
		mhz := c.previousCPUMhz[uuid]
		if hadPrev && hadWall && cpuTime >= prevTime {
			deltaCPU := float64(cpuTime - prevTime)
			deltaWall := now.Sub(prevWall).Seconds()
			if deltaWall > 0 {
				mhz = int(math.Round(float64(c.cpuMHz) * deltaCPU / (deltaWall * 1e9)))
			}
		}
		vmMhz[uuid] = mhz
		c.previousCPUTime[uuid] = cpuTime
		c.previousWallTime[uuid] = now
		c.previousCPUMhz[uuid] = mhz
	}

	hostSample, err := c.CPUReader.Read()
	if err != nil {
		slog.Error("collector: failed to read host cpu counters", "error", err)
		return
	}
	hostMhz := 0
	if !c.firstTick {
		deltaBusy := hostSample.busy - c.previousHostCPU.busy
		deltaTotal := hostSample.total - c.previousHostCPU.total
		if deltaTotal > 0 {
			hostMhz = int(math.Round(float64(c.cpuMHz) * deltaBusy / deltaTotal))
		}
		if hostMhz < 0 {
			slog.Error("collector: negative host cpu mhz, counter anomaly", "host", c.host, "mhz", hostMhz)
			c.previousHostCPU = hostSample
			return
		}
	}
	c.previousHostCPU = hostSample

	if !c.firstTick {
		for uuid, mhz := range vmMhz {
			history, err := c.history.readVM(uuid)
			if err != nil {
				slog.Error("collector: failed to read vm history", "vm_uuid", uuid, "error", err)
				continue
			}
			history = appendCapped(history, mhz, c.Config.DataCollectorDataLength)
			if err := c.history.writeVM(uuid, history, c.Config.DataCollectorDataLength); err != nil {
				slog.Error("collector: failed to write vm history", "vm_uuid", uuid, "error", err)
			}
		}
		timestamp := now.Unix()
		if err := c.Store.InsertVmCPUMhz(vmMhz, timestamp); err != nil {
			slog.Error("collector: failed to insert vm cpu samples", "error", err)
		}

		sumVMMhz := 0
		for _, mhz := range vmMhz {
			sumVMMhz += mhz
		}
		hypervisorMhz := maxInt(0, hostMhz-sumVMMhz)

		hostHistory, err := c.history.readHost()
		if err != nil {
			slog.Error("collector: failed to read host history", "error", err)
		} else {
			hostHistory = appendCapped(hostHistory, hypervisorMhz, c.Config.DataCollectorDataLength)
			if err := c.history.writeHost(hostHistory, c.Config.DataCollectorDataLength); err != nil {
				slog.Error("collector: failed to write host history", "error", err)
			}
		}
		if err := c.Store.InsertHostCPUMhz(c.host, hypervisorMhz, timestamp); err != nil {
			slog.Error("collector: failed to insert host cpu sample", "error", err)
		}

		usableMHz := int(math.Round(float64(c.cpuMHz) * c.Config.HostCPUUsableByVMs))
		c.logOverloadEdge(timestamp, usableMHz, hostMhz)
	}

	c.Monitor.vmsTracked.Set(float64(len(currentVMs)))
	c.firstTick = false
}

// logOverloadEdge appends a HostOverloadEvent only on a state transition
// (spec §4.4, invariant "Overload-edge idempotence").
func (c *Collector) logOverloadEdge(timestamp int64, totalHostMhz, currentTotalMhz int) {
	overloaded := float64(c.Config.HostCPUOverloadThreshold)*float64(totalHostMhz) < float64(currentTotalMhz)
	overloadedInt := 0
	if overloaded {
		overloadedInt = 1
	}
	if c.previousOverload == -1 || c.previousOverload != overloadedInt {
		if err := c.Store.InsertHostOverload(c.host, overloaded, timestamp); err != nil {
			slog.Error("collector: failed to insert host overload event", "error", err)
		}
	}
	c.previousOverload = overloadedInt
}

// getAddedVMs/getRemovedVMs are the pure set-difference properties
// pinned by spec §8's property tests.
func getAddedVMs(previous, current []string) []string {
	return setDifference(current, previous)
}

func getRemovedVMs(previous, current []string) []string {
	return setDifference(previous, current)
}

func setDifference(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, v := range b {
		inB[v] = struct{}{}
	}
	var diff []string
	for _, v := range a {
		if _, ok := inB[v]; !ok {
			diff = append(diff, v)
		}
	}
	slices.Sort(diff)
	return diff
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
