// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package hypervisor

import (
	"context"
	"fmt"
)

// FakeLocal is an in-memory HypervisorLocal for Collector/Local Manager
// tests (spec §9 "libvirt/nova clients -> interface abstractions").
type FakeLocal struct {
	HostnameValue            string
	CPUMHz, Cores, RAMMB     int
	Domains                  []Domain
	CPUTimeNanoseconds       map[string]uint64
	MaxMemoryMB              map[string]int
	FailCPUTimeFor           map[string]bool
	FailMaxMemoryFor         map[string]bool
	connected                bool
}

func NewFakeLocal() *FakeLocal {
	return &FakeLocal{
		CPUTimeNanoseconds: map[string]uint64{},
		MaxMemoryMB:        map[string]int{},
		FailCPUTimeFor:     map[string]bool{},
		FailMaxMemoryFor:   map[string]bool{},
	}
}

func (f *FakeLocal) Connect(_ context.Context) error { f.connected = true; return nil }
func (f *FakeLocal) Close() error                    { f.connected = false; return nil }

func (f *FakeLocal) Hostname(_ context.Context) (string, error) {
	return f.HostnameValue, nil
}

func (f *FakeLocal) Capacity(_ context.Context) (int, int, int, error) {
	return f.CPUMHz, f.Cores, f.RAMMB, nil
}

func (f *FakeLocal) ListDomains(_ context.Context) ([]Domain, error) {
	return f.Domains, nil
}

func (f *FakeLocal) GetCPUTimeNanoseconds(_ context.Context, uuid string) (uint64, error) {
	if f.FailCPUTimeFor[uuid] {
		return 0, fmt.Errorf("hypervisor: lookup failed for %s", uuid)
	}
	return f.CPUTimeNanoseconds[uuid], nil
}

func (f *FakeLocal) GetMaxMemoryMB(_ context.Context, uuid string) (int, error) {
	if f.FailMaxMemoryFor[uuid] {
		return 0, fmt.Errorf("hypervisor: lookup failed for %s", uuid)
	}
	return f.MaxMemoryMB[uuid], nil
}

// FakeCluster is an in-memory HypervisorCluster for Global Manager tests.
// LiveMigrate does not move the server immediately: it records a pending
// migration with status "MIGRATING" so tests can drive the poll loop
// explicitly via CompleteMigration.
type FakeCluster struct {
	UsedRAM         map[string]int
	ServersByHost   map[string][]string
	FlavorRAMMB     map[string]int
	FlavorByServer  map[string]string
	Migrations      []FakeMigration
	FailMigrateFor  map[string]bool
	FailLocationFor map[string]bool

	status  map[string]string
	pending map[string]string
}

type FakeMigration struct {
	UUID            string
	DestinationHost string
}

func NewFakeCluster() *FakeCluster {
	return &FakeCluster{
		UsedRAM:         map[string]int{},
		ServersByHost:   map[string][]string{},
		FlavorRAMMB:     map[string]int{},
		FlavorByServer:  map[string]string{},
		FailMigrateFor:  map[string]bool{},
		FailLocationFor: map[string]bool{},
		status:          map[string]string{},
		pending:         map[string]string{},
	}
}

func (c *FakeCluster) GetUsedRAM(_ context.Context) (map[string]int, error) {
	return c.UsedRAM, nil
}

func (c *FakeCluster) ListServers(_ context.Context, host string) ([]string, error) {
	return c.ServersByHost[host], nil
}

func (c *FakeCluster) GetFlavorRAMMB(_ context.Context, uuid string) (int, error) {
	flavor := c.FlavorByServer[uuid]
	return c.FlavorRAMMB[flavor], nil
}

func (c *FakeCluster) LiveMigrate(_ context.Context, uuid, destinationHost string) error {
	if c.FailMigrateFor[uuid] {
		return fmt.Errorf("hypervisor: migration failed for %s", uuid)
	}
	c.Migrations = append(c.Migrations, FakeMigration{UUID: uuid, DestinationHost: destinationHost})
	c.status[uuid] = "MIGRATING"
	c.pending[uuid] = destinationHost
	return nil
}

// CompleteMigration simulates the hypervisor finishing a pending
// migration: the server moves host and its status returns to ACTIVE.
func (c *FakeCluster) CompleteMigration(uuid string) {
	destinationHost, ok := c.pending[uuid]
	if !ok {
		return
	}
	for host, uuids := range c.ServersByHost {
		for i, u := range uuids {
			if u == uuid {
				c.ServersByHost[host] = append(uuids[:i], uuids[i+1:]...)
			}
		}
	}
	c.ServersByHost[destinationHost] = append(c.ServersByHost[destinationHost], uuid)
	c.status[uuid] = "ACTIVE"
	delete(c.pending, uuid)
}

// RevertMigration simulates a migration that failed and left the server
// active on its original host, forcing the orchestrator's timeout path.
func (c *FakeCluster) RevertMigration(uuid string) {
	c.status[uuid] = "ACTIVE"
	delete(c.pending, uuid)
}

func (c *FakeCluster) GetServerLocation(_ context.Context, uuid string) (string, bool, error) {
	if c.FailLocationFor[uuid] {
		return "", false, fmt.Errorf("hypervisor: location lookup failed for %s", uuid)
	}
	host := ""
	for h, uuids := range c.ServersByHost {
		for _, u := range uuids {
			if u == uuid {
				host = h
			}
		}
	}
	status := c.status[uuid]
	if status == "" {
		status = "ACTIVE"
	}
	return host, status == "ACTIVE", nil
}
