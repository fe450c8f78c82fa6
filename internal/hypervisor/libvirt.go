// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package hypervisor

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// LibvirtHypervisor is the production HypervisorLocal, backed by a local
// libvirtd connection over its native RPC protocol.
type LibvirtHypervisor struct {
	conn *libvirt.Libvirt
}

// NewLibvirtHypervisor returns an unconnected local hypervisor handle.
func NewLibvirtHypervisor() *LibvirtHypervisor {
	return &LibvirtHypervisor{}
}

func (h *LibvirtHypervisor) Connect(_ context.Context) error {
	h.conn = libvirt.NewWithDialer(dialers.NewLocal())
	return h.conn.Connect()
}

func (h *LibvirtHypervisor) Close() error {
	if h.conn == nil {
		return nil
	}
	return h.conn.Disconnect()
}

func (h *LibvirtHypervisor) Hostname(_ context.Context) (string, error) {
	return h.conn.ConnectGetHostname()
}

// Capacity reads the host's node info: total logical CPUs, their clock
// rate, and total memory. Cores reported here is the logical CPU count
// libvirt schedules vCPUs against, not physical socket count.
func (h *LibvirtHypervisor) Capacity(_ context.Context) (cpuMHz, cores, ramMB int, err error) {
	_, memKB, cpus, mhz, _, _, _, _, err := h.conn.NodeGetInfo()
	if err != nil {
		return 0, 0, 0, err
	}
	return int(mhz), int(cpus), int(memKB / 1024), nil
}

func (h *LibvirtHypervisor) ListDomains(_ context.Context) ([]Domain, error) {
	domains, _, err := h.conn.ConnectListAllDomains(-1, 0)
	if err != nil {
		return nil, err
	}
	result := make([]Domain, 0, len(domains))
	for _, d := range domains {
		state, _, stateErr := h.conn.DomainGetState(d, 0)
		if stateErr != nil {
			continue
		}
		result = append(result, Domain{
			UUID:  formatUUID(d.UUID),
			Name:  d.Name,
			State: domainState(state),
		})
	}
	return result, nil
}

// GetCPUTimeNanoseconds returns the domain's cumulative CPU time, as
// reported by virDomainGetInfo rather than the lower-level per-vCPU
// DomainGetCPUStats call, since the aggregate figure is all a single
// utilization sample needs.
func (h *LibvirtHypervisor) GetCPUTimeNanoseconds(_ context.Context, uuid string) (uint64, error) {
	dom, err := h.conn.DomainLookupByUUID(parseUUID(uuid))
	if err != nil {
		return 0, err
	}
	_, _, _, _, cpuTime, err := h.conn.DomainGetInfo(dom)
	if err != nil {
		return 0, err
	}
	return cpuTime, nil
}

func (h *LibvirtHypervisor) GetMaxMemoryMB(_ context.Context, uuid string) (int, error) {
	dom, err := h.conn.DomainLookupByUUID(parseUUID(uuid))
	if err != nil {
		return 0, err
	}
	_, maxMemKB, _, _, _, err := h.conn.DomainGetInfo(dom)
	if err != nil {
		return 0, err
	}
	return int(maxMemKB / 1024), nil
}

func domainState(state int32) DomainState {
	switch state {
	case 1: // VIR_DOMAIN_RUNNING
		return DomainRunning
	case 3: // VIR_DOMAIN_PAUSED
		return DomainPaused
	default:
		return DomainOther
	}
}

func formatUUID(u libvirt.UUID) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

func parseUUID(s string) libvirt.UUID {
	var u libvirt.UUID
	var b [16]byte
	_, _ = fmt.Sscanf(s, "%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		&b[0], &b[1], &b[2], &b[3], &b[4], &b[5], &b[6], &b[7],
		&b[8], &b[9], &b[10], &b[11], &b[12], &b[13], &b[14], &b[15])
	copy(u[:], b[:])
	return u
}
