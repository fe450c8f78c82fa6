// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package metricstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// StoreError wraps a metric store failure, classified per the error
// taxonomy (spec §7 TransientIO/CounterAnomaly). DB unreachability and
// query failures are transient: callers log, skip this tick's write or
// read, and retry next tick.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("metricstore: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Store implements the metric store adapter operations (spec §4.1) on top
// of the gorp DB wrapper.
type Store struct {
	db      *DB
	monitor Monitor
}

func NewStore(db *DB, monitor Monitor) *Store {
	return &Store{db: db, monitor: monitor}
}

// timeSelect starts a latency observation for a named SELECT operation;
// call the returned func when the operation completes.
func (s *Store) timeSelect(operation string) func() {
	start := time.Now()
	return func() { s.monitor.observeSelect(operation, time.Since(start).Seconds()) }
}

// selectVmIDByUUID returns the stable integer id for an existing VM, or
// sql.ErrNoRows if not yet registered.
func (s *Store) selectVmIDByUUID(uuid string) (int, error) {
	var id int
	err := s.db.DbMap.SelectOne(&id, `SELECT id FROM vms WHERE uuid = $1`, uuid)
	return id, err
}

// SelectVmID upserts the VM by UUID, returning its stable integer id
// (spec "select_vm_id").
func (s *Store) SelectVmID(uuid string) (int, error) {
	id, err := s.selectVmIDByUUID(uuid)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, wrap("select_vm_id", err)
	}
	vm := &VM{UUID: uuid}
	if err := s.db.DbMap.Insert(vm); err != nil {
		return 0, wrap("select_vm_id", err)
	}
	return vm.ID, nil
}

func (s *Store) selectHostIDByName(name string) (int, error) {
	var id int
	err := s.db.DbMap.SelectOne(&id, `SELECT id FROM hosts WHERE name = $1`, name)
	return id, err
}

// UpdateHost registers or updates a host's fixed attributes (spec
// "update_host"). CPU MHz/cores/RAM are fixed after first registration
// unless this is called again explicitly.
func (s *Store) UpdateHost(name string, cpuMhz, cores, ramMB int, mac string) error {
	id, err := s.selectHostIDByName(name)
	if errors.Is(err, sql.ErrNoRows) {
		h := &Host{Name: name, CPUMhz: cpuMhz, Cores: cores, RAMMB: ramMB, MACAddr: mac}
		return wrap("update_host", s.db.DbMap.Insert(h))
	} else if err != nil {
		return wrap("update_host", err)
	}
	h := &Host{ID: id, Name: name, CPUMhz: cpuMhz, Cores: cores, RAMMB: ramMB, MACAddr: mac}
	_, err = s.db.DbMap.Update(h)
	return wrap("update_host", err)
}

// SelectCPUMhzForVM returns the last `limit` samples for a VM, chronological
// (spec "select_cpu_mhz_for_vm").
func (s *Store) SelectCPUMhzForVM(uuid string, limit int) ([]int, error) {
	defer s.timeSelect("select_cpu_mhz_for_vm")()
	vmID, err := s.selectVmIDByUUID(uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, wrap("select_cpu_mhz_for_vm", err)
	}
	var rows []int
	_, err = s.db.DbMap.Select(&rows,
		`SELECT cpu_mhz FROM (
			SELECT cpu_mhz, timestamp_unix FROM vm_cpu_samples
			WHERE vm_id = $1 ORDER BY timestamp_unix DESC LIMIT $2
		) t ORDER BY timestamp_unix ASC`, vmID, limit)
	if err != nil {
		return nil, wrap("select_cpu_mhz_for_vm", err)
	}
	return rows, nil
}

// SelectLastCPUMhzForVMs returns the latest sample per VM; unknown VMs
// resolve to 0 (spec "select_last_cpu_mhz_for_vms").
func (s *Store) SelectLastCPUMhzForVMs(uuids []string) (map[string]int, error) {
	defer s.timeSelect("select_last_cpu_mhz_for_vms")()
	result := make(map[string]int, len(uuids))
	for _, uuid := range uuids {
		result[uuid] = 0
		vmID, err := s.selectVmIDByUUID(uuid)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		} else if err != nil {
			return nil, wrap("select_last_cpu_mhz_for_vms", err)
		}
		var mhz int
		err = s.db.DbMap.SelectOne(&mhz,
			`SELECT cpu_mhz FROM vm_cpu_samples WHERE vm_id = $1 ORDER BY timestamp_unix DESC LIMIT 1`, vmID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, wrap("select_last_cpu_mhz_for_vms", err)
		}
		if err == nil {
			result[uuid] = mhz
		}
	}
	return result, nil
}

// SelectLastCPUMhzForHosts is the host analogue of SelectLastCPUMhzForVMs.
func (s *Store) SelectLastCPUMhzForHosts(hosts []string) (map[string]int, error) {
	defer s.timeSelect("select_last_cpu_mhz_for_hosts")()
	result := make(map[string]int, len(hosts))
	for _, name := range hosts {
		result[name] = 0
		hostID, err := s.selectHostIDByName(name)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		} else if err != nil {
			return nil, wrap("select_last_cpu_mhz_for_hosts", err)
		}
		var mhz int
		err = s.db.DbMap.SelectOne(&mhz,
			`SELECT cpu_mhz FROM host_cpu_samples WHERE host_id = $1 ORDER BY timestamp_unix DESC LIMIT 1`, hostID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, wrap("select_last_cpu_mhz_for_hosts", err)
		}
		if err == nil {
			result[name] = mhz
		}
	}
	return result, nil
}

// InsertVmCPUMhz bulk-appends VM CPU samples, auto-registering new UUIDs
// (spec "insert_vm_cpu_mhz").
func (s *Store) InsertVmCPUMhz(samples map[string]int, timestamp int64) error {
	records := make([]VmCPUSample, 0, len(samples))
	for uuid, mhz := range samples {
		vmID, err := s.SelectVmID(uuid)
		if err != nil {
			slog.Warn("metricstore: dropping vm sample, could not resolve vm id", "vm_uuid", uuid, "error", err)
			continue
		}
		records = append(records, VmCPUSample{VmID: vmID, Timestamp: timestamp, CPUMhz: mhz})
	}
	return wrap("insert_vm_cpu_mhz", BulkInsert(s.db, records...))
}

// InsertHostCPUMhz appends one host CPU sample (spec "insert_host_cpu_mhz").
// Negative values are a CounterAnomaly and are rejected as a configuration
// bug (spec §7); callers must not call this with a negative reading.
func (s *Store) InsertHostCPUMhz(hostname string, mhz int, timestamp int64) error {
	if mhz < 0 {
		return wrap("insert_host_cpu_mhz", fmt.Errorf("negative host cpu mhz %d for host %q", mhz, hostname))
	}
	hostID, err := s.selectHostIDByName(hostname)
	if err != nil {
		return wrap("insert_host_cpu_mhz", err)
	}
	return wrap("insert_host_cpu_mhz", s.db.DbMap.Insert(&HostCPUSample{HostID: hostID, Timestamp: timestamp, CPUMhz: mhz}))
}

// SelectHostCharacteristics returns per-host mhz, core count, and RAM (spec
// "select_host_characteristics").
func (s *Store) SelectHostCharacteristics() (mhz map[string]int, cores map[string]int, ram map[string]int, err error) {
	defer s.timeSelect("select_host_characteristics")()
	var hosts []Host
	_, selErr := s.db.DbMap.Select(&hosts, `SELECT * FROM hosts`)
	if selErr != nil {
		return nil, nil, nil, wrap("select_host_characteristics", selErr)
	}
	mhz = make(map[string]int, len(hosts))
	cores = make(map[string]int, len(hosts))
	ram = make(map[string]int, len(hosts))
	for _, h := range hosts {
		mhz[h.Name] = h.CPUMhz
		cores[h.Name] = h.Cores
		ram[h.Name] = h.RAMMB
	}
	return mhz, cores, ram, nil
}

// SelectHostStates returns the latest state per host; hosts without a row
// default to active (spec "select_host_states").
func (s *Store) SelectHostStates() (map[string]int, error) {
	defer s.timeSelect("select_host_states")()
	var hosts []Host
	_, err := s.db.DbMap.Select(&hosts, `SELECT * FROM hosts`)
	if err != nil {
		return nil, wrap("select_host_states", err)
	}
	result := make(map[string]int, len(hosts))
	for _, h := range hosts {
		result[h.Name] = HostStateActive
		var state int
		err := s.db.DbMap.SelectOne(&state,
			`SELECT state FROM host_states WHERE host_id = $1 ORDER BY timestamp_unix DESC LIMIT 1`, h.ID)
		if err == nil {
			result[h.Name] = state
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, wrap("select_host_states", err)
		}
	}
	return result, nil
}

// SelectActiveHosts and SelectInactiveHosts partition the registered hosts
// by latest state (spec "select_active_hosts"/"select_inactive_hosts").
func (s *Store) SelectActiveHosts() ([]string, error) {
	return s.selectHostsByState(HostStateActive)
}

func (s *Store) SelectInactiveHosts() ([]string, error) {
	return s.selectHostsByState(HostStateAsleep)
}

func (s *Store) selectHostsByState(want int) ([]string, error) {
	states, err := s.SelectHostStates()
	if err != nil {
		return nil, err
	}
	var names []string
	for name, state := range states {
		if state == want {
			names = append(names, name)
		}
	}
	return names, nil
}

// InsertHostStates bulk-sets host states (spec "insert_host_states").
func (s *Store) InsertHostStates(states map[string]int, timestamp int64) error {
	records := make([]HostState, 0, len(states))
	for name, state := range states {
		hostID, err := s.selectHostIDByName(name)
		if err != nil {
			slog.Warn("metricstore: dropping host state, unknown host", "host", name, "error", err)
			continue
		}
		records = append(records, HostState{HostID: hostID, Timestamp: timestamp, State: state})
	}
	return wrap("insert_host_states", BulkInsert(s.db, records...))
}

// InsertHostOverload records an overload transition (spec
// "insert_host_overload"). Callers are responsible for the edge-only
// idempotence property (spec §8); this simply appends a row.
func (s *Store) InsertHostOverload(hostname string, overloaded bool, timestamp int64) error {
	hostID, err := s.selectHostIDByName(hostname)
	if err != nil {
		return wrap("insert_host_overload", err)
	}
	return wrap("insert_host_overload", s.db.DbMap.Insert(&HostOverloadEvent{
		HostID: hostID, Timestamp: timestamp, Overloaded: overloaded,
	}))
}

// InsertVmMigration records a confirmed-completed migration (spec
// "insert_vm_migration").
func (s *Store) InsertVmMigration(uuid, destination string, timestamp int64) error {
	vmID, err := s.SelectVmID(uuid)
	if err != nil {
		return wrap("insert_vm_migration", err)
	}
	return wrap("insert_vm_migration", s.db.DbMap.Insert(&VmMigrationEvent{
		VmID: vmID, DestinationHost: destination, Timestamp: timestamp,
	}))
}

// CleanupVmResourceUsage deletes VM samples older than the given threshold
// (spec "cleanup_vm_resource_usage").
func (s *Store) CleanupVmResourceUsage(before int64) error {
	_, err := s.db.DbMap.Exec(`DELETE FROM vm_cpu_samples WHERE timestamp_unix < $1`, before)
	return wrap("cleanup_vm_resource_usage", err)
}

// CleanupHostResourceUsage is the host analogue of CleanupVmResourceUsage.
func (s *Store) CleanupHostResourceUsage(before int64) error {
	_, err := s.db.DbMap.Exec(`DELETE FROM host_cpu_samples WHERE timestamp_unix < $1`, before)
	return wrap("cleanup_host_resource_usage", err)
}
