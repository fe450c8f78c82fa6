// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// localHistory is the on-disk sliding window of per-VM/per-host samples
// under <local_data_directory>/{vms/<uuid>,host} (spec §4.3). One integer
// per line, oldest first.
type localHistory struct {
	dir string
}

func newLocalHistory(dir string) *localHistory {
	return &localHistory{dir: dir}
}

func (h *localHistory) vmsDir() string  { return filepath.Join(h.dir, "vms") }
func (h *localHistory) vmFile(uuid string) string { return filepath.Join(h.vmsDir(), uuid) }
func (h *localHistory) hostFile() string { return filepath.Join(h.dir, "host") }

// ensureDirs creates <dir>/vms if it doesn't already exist.
func (h *localHistory) ensureDirs() error {
	return os.MkdirAll(h.vmsDir(), 0o755)
}

// listVMs returns the UUIDs currently tracked on disk.
func (h *localHistory) listVMs() ([]string, error) {
	entries, err := os.ReadDir(h.vmsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	uuids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			uuids = append(uuids, e.Name())
		}
	}
	return uuids, nil
}

// wipe removes all tracked history (spec §4.3 "wipe all local history on
// startup").
func (h *localHistory) wipe() error {
	if err := os.RemoveAll(h.vmsDir()); err != nil {
		return err
	}
	if err := os.Remove(h.hostFile()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return h.ensureDirs()
}

func readIntFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var values []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		v, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("collector: corrupt history line in %s: %w", path, err)
		}
		values = append(values, v)
	}
	return values, scanner.Err()
}

func writeIntFile(path string, values []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, v := range values {
		if _, err := fmt.Fprintln(w, v); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readVM returns the VM's stored history, oldest first.
func (h *localHistory) readVM(uuid string) ([]int, error) {
	return readIntFile(h.vmFile(uuid))
}

// writeVM overwrites the VM's history, truncated to the last maxLen
// samples (spec "History cap" invariant).
func (h *localHistory) writeVM(uuid string, values []int, maxLen int) error {
	if maxLen > 0 && len(values) > maxLen {
		values = values[len(values)-maxLen:]
	}
	return writeIntFile(h.vmFile(uuid), values)
}

func (h *localHistory) deleteVM(uuid string) error {
	err := os.Remove(h.vmFile(uuid))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (h *localHistory) readHost() ([]int, error) {
	return readIntFile(h.hostFile())
}

func (h *localHistory) writeHost(values []int, maxLen int) error {
	if maxLen > 0 && len(values) > maxLen {
		values = values[len(values)-maxLen:]
	}
	return writeIntFile(h.hostFile(), values)
}

// appendCapped appends a value to an existing history and truncates to
// the last maxLen entries.
func appendCapped(history []int, value, maxLen int) []int {
	history = append(history, value)
	if maxLen > 0 && len(history) > maxLen {
		history = history[len(history)-maxLen:]
	}
	return history
}
