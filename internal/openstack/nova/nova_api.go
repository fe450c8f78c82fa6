// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package nova

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"

	"github.com/openstack-archive/terracotta/internal/openstack/keystone"
)

// NovaAPI is the set of cluster-level Nova operations the Global Manager
// needs (spec §6 "Cluster-level" hypervisor control-plane dependencies).
type NovaAPI interface {
	Init(ctx context.Context) error
	// GetServersByHost lists the active servers currently placed on a host.
	GetServersByHost(ctx context.Context, host string) ([]servers.Server, error)
	// GetServer looks up a single server by UUID.
	GetServer(ctx context.Context, uuid string) (*servers.Server, error)
	// GetFlavorRAMMB returns the RAM limit in MB for a flavor id.
	GetFlavorRAMMB(ctx context.Context, flavorID string) (int, error)
	// LiveMigrate migrates a server to the destination host.
	LiveMigrate(ctx context.Context, uuid, destinationHost string, blockMigration bool) error
	// GetHypervisorUsedRAM returns used RAM in MB per hypervisor hostname.
	GetHypervisorUsedRAM(ctx context.Context) (map[string]int, error)
	// GetServerLocation returns a server's current compute host and
	// status, used to poll in-flight migrations.
	GetServerLocation(ctx context.Context, uuid string) (host, status string, err error)
}

type novaAPI struct {
	keystoneAPI keystone.KeystoneAPI
	sc          *gophercloud.ServiceClient
}

func NewNovaAPI(k keystone.KeystoneAPI) NovaAPI {
	return &novaAPI{keystoneAPI: k}
}

func (api *novaAPI) Init(ctx context.Context) error {
	if err := api.keystoneAPI.Authenticate(ctx); err != nil {
		return err
	}
	provider := api.keystoneAPI.Client()
	serviceType := "compute"
	url, err := api.keystoneAPI.FindEndpoint(api.keystoneAPI.Availability(), serviceType)
	if err != nil {
		return err
	}
	slog.Info("using nova endpoint", "url", url)
	api.sc = &gophercloud.ServiceClient{
		ProviderClient: provider,
		Endpoint:       url,
		Type:           serviceType,
		Microversion:   "2.53",
	}
	return nil
}

func (api *novaAPI) GetServersByHost(ctx context.Context, host string) ([]servers.Server, error) {
	lo := servers.ListOpts{AllTenants: true, Host: host, Status: "ACTIVE"}
	pages, err := servers.List(api.sc, lo).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	list, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (api *novaAPI) GetServer(ctx context.Context, uuid string) (*servers.Server, error) {
	server, err := servers.Get(ctx, api.sc, uuid).Extract()
	if err != nil {
		return nil, err
	}
	return server, nil
}

func (api *novaAPI) GetFlavorRAMMB(ctx context.Context, flavorID string) (int, error) {
	flavor, err := flavors.Get(ctx, api.sc, flavorID).Extract()
	if err != nil {
		return 0, err
	}
	return flavor.RAM, nil
}

func (api *novaAPI) LiveMigrate(ctx context.Context, uuid, destinationHost string, blockMigration bool) error {
	opts := servers.LiveMigrateOpts{
		Host:           &destinationHost,
		BlockMigration: &blockMigration,
	}
	return servers.LiveMigrate(ctx, api.sc, uuid, opts).ExtractErr()
}

// hypervisorDetail mirrors os-hypervisors/detail. Fetched manually since
// gophercloud's hypervisors package does not expose used-RAM per host on
// older microversions without an extra round trip per hypervisor.
type hypervisorDetail struct {
	Hostname     string `json:"hypervisor_hostname"`
	MemoryMBUsed int    `json:"memory_mb_used"`
}

// serverLocation mirrors the subset of GET /servers/{id} needed to poll a
// migration: the extended attribute carrying the current compute host,
// and the server's lifecycle status.
type serverLocation struct {
	Server struct {
		Status string `json:"status"`
		Host   string `json:"OS-EXT-SRV-ATTR:host"`
	} `json:"server"`
}

func (api *novaAPI) GetServerLocation(ctx context.Context, uuid string) (string, string, error) {
	url := api.sc.Endpoint + "servers/" + uuid
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("X-Auth-Token", api.sc.Token())
	req.Header.Set("X-OpenStack-Nova-API-Version", api.sc.Microversion)
	resp, err := api.sc.HTTPClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	var body serverLocation
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", err
	}
	return body.Server.Host, body.Server.Status, nil
}

func (api *novaAPI) GetHypervisorUsedRAM(ctx context.Context) (map[string]int, error) {
	url := api.sc.Endpoint + "os-hypervisors/detail"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Auth-Token", api.sc.Token())
	req.Header.Set("X-OpenStack-Nova-API-Version", api.sc.Microversion)
	resp, err := api.sc.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	var body struct {
		Hypervisors []hypervisorDetail `json:"hypervisors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	usedRAM := make(map[string]int, len(body.Hypervisors))
	for _, h := range body.Hypervisors {
		usedRAM[h.Hostname] = h.MemoryMBUsed
	}
	return usedRAM, nil
}
