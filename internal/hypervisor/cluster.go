// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package hypervisor

import (
	"context"

	"github.com/openstack-archive/terracotta/internal/openstack/nova"
)

// NovaHypervisorCluster adapts internal/openstack/nova's gophercloud-backed
// client to the HypervisorCluster interface the Global Manager depends on.
type NovaHypervisorCluster struct {
	api            nova.NovaAPI
	blockMigration bool
}

func NewNovaHypervisorCluster(api nova.NovaAPI, blockMigration bool) *NovaHypervisorCluster {
	return &NovaHypervisorCluster{api: api, blockMigration: blockMigration}
}

func (c *NovaHypervisorCluster) GetUsedRAM(ctx context.Context) (map[string]int, error) {
	return c.api.GetHypervisorUsedRAM(ctx)
}

func (c *NovaHypervisorCluster) ListServers(ctx context.Context, host string) ([]string, error) {
	servers, err := c.api.GetServersByHost(ctx, host)
	if err != nil {
		return nil, err
	}
	uuids := make([]string, 0, len(servers))
	for _, s := range servers {
		uuids = append(uuids, s.ID)
	}
	return uuids, nil
}

func (c *NovaHypervisorCluster) GetFlavorRAMMB(ctx context.Context, uuid string) (int, error) {
	server, err := c.api.GetServer(ctx, uuid)
	if err != nil {
		return 0, err
	}
	flavorID, _ := server.Flavor["id"].(string)
	return c.api.GetFlavorRAMMB(ctx, flavorID)
}

func (c *NovaHypervisorCluster) LiveMigrate(ctx context.Context, uuid, destinationHost string) error {
	return c.api.LiveMigrate(ctx, uuid, destinationHost, c.blockMigration)
}

func (c *NovaHypervisorCluster) GetServerLocation(ctx context.Context, uuid string) (string, bool, error) {
	host, status, err := c.api.GetServerLocation(ctx, uuid)
	if err != nil {
		return "", false, err
	}
	return host, status == "ACTIVE", nil
}
