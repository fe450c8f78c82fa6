// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package metricstore

// Host is a registered hypervisor host (spec §3 "Host"). CPU MHz and RAM
// are fixed after first registration unless explicitly updated.
type Host struct {
	ID       int    `db:"id,primarykey,autoincrement"`
	Name     string `db:"name"`
	CPUMhz   int    `db:"cpu_mhz"`
	Cores    int    `db:"cores"`
	RAMMB    int    `db:"ram_mb"`
	MACAddr  string `db:"mac_addr"`
}

func (Host) TableName() string { return "hosts" }

func (Host) Indexes() map[string][]string {
	return map[string][]string{
		"idx_hosts_name": {"name"},
	}
}

// VM is a guest discovered through metric collection, not declared (spec
// §3 "VM"). A new UUID auto-registers on first metric insert.
type VM struct {
	ID           int    `db:"id,primarykey,autoincrement"`
	UUID         string `db:"uuid"`
	FlavorRAMMB  int    `db:"flavor_ram_mb"`
}

func (VM) TableName() string { return "vms" }

func (VM) Indexes() map[string][]string {
	return map[string][]string{
		"idx_vms_uuid": {"uuid"},
	}
}

// HostCPUSample is one entry of the host CPU MHz series (spec §3 "Sample").
type HostCPUSample struct {
	ID        int   `db:"id,primarykey,autoincrement"`
	HostID    int   `db:"host_id"`
	Timestamp int64 `db:"timestamp_unix"`
	CPUMhz    int   `db:"cpu_mhz"`
}

func (HostCPUSample) TableName() string { return "host_cpu_samples" }

func (HostCPUSample) Indexes() map[string][]string {
	return map[string][]string{
		"idx_host_cpu_samples_host_ts": {"host_id", "timestamp_unix"},
	}
}

// VmCPUSample is one entry of a guest's CPU MHz series.
type VmCPUSample struct {
	ID        int   `db:"id,primarykey,autoincrement"`
	VmID      int   `db:"vm_id"`
	Timestamp int64 `db:"timestamp_unix"`
	CPUMhz    int   `db:"cpu_mhz"`
}

func (VmCPUSample) TableName() string { return "vm_cpu_samples" }

func (VmCPUSample) Indexes() map[string][]string {
	return map[string][]string{
		"idx_vm_cpu_samples_vm_ts": {"vm_id", "timestamp_unix"},
	}
}

// HostState is the sleep/active flag of a host at a point in time (spec §3
// "HostState"). Latest row wins; absence defaults to active.
type HostState struct {
	ID        int   `db:"id,primarykey,autoincrement"`
	HostID    int   `db:"host_id"`
	Timestamp int64 `db:"timestamp_unix"`
	State     int   `db:"state"`
}

func (HostState) TableName() string { return "host_states" }

func (HostState) Indexes() map[string][]string {
	return map[string][]string{
		"idx_host_states_host_ts": {"host_id", "timestamp_unix"},
	}
}

const (
	HostStateAsleep = 0
	HostStateActive = 1
)

// HostOverloadEvent is written only on overload/underload transitions, plus
// the first observation (spec §3 "HostOverloadEvent").
type HostOverloadEvent struct {
	ID          int   `db:"id,primarykey,autoincrement"`
	HostID      int   `db:"host_id"`
	Timestamp   int64 `db:"timestamp_unix"`
	Overloaded  bool  `db:"overloaded"`
}

func (HostOverloadEvent) TableName() string { return "host_overload_events" }

func (HostOverloadEvent) Indexes() map[string][]string {
	return map[string][]string{
		"idx_host_overload_events_host_ts": {"host_id", "timestamp_unix"},
	}
}

// VmMigrationEvent is written when a migration is confirmed completed (spec
// §3 "VmMigrationEvent").
type VmMigrationEvent struct {
	ID              int    `db:"id,primarykey,autoincrement"`
	VmID            int    `db:"vm_id"`
	DestinationHost string `db:"destination_host"`
	Timestamp       int64  `db:"timestamp_unix"`
}

func (VmMigrationEvent) TableName() string { return "vm_migration_events" }

func (VmMigrationEvent) Indexes() map[string][]string {
	return map[string][]string{
		"idx_vm_migration_events_vm_ts": {"vm_id", "timestamp_unix"},
	}
}

// AllTables returns every model the metric store manages, for registration
// at startup.
func AllTables() []Table {
	return []Table{
		Host{},
		VM{},
		HostCPUSample{},
		VmCPUSample{},
		HostState{},
		HostOverloadEvent{},
		VmMigrationEvent{},
	}
}
