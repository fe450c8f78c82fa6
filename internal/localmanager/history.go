// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package localmanager

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// localHistory reads the on-disk sliding window the collector agent
// maintains under <local_data_directory>/{vms/<uuid>,host}. The local
// manager only ever reads this history; the collector owns writing it.
type localHistory struct {
	dir string
}

func newLocalHistory(dir string) *localHistory {
	return &localHistory{dir: dir}
}

func (h *localHistory) vmsDir() string            { return filepath.Join(h.dir, "vms") }
func (h *localHistory) vmFile(uuid string) string { return filepath.Join(h.vmsDir(), uuid) }
func (h *localHistory) hostFile() string          { return filepath.Join(h.dir, "host") }

// listVMs returns the UUIDs the collector is currently tracking on disk.
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
			return nil, fmt.Errorf("localmanager: corrupt history line in %s: %w", path, err)
		}
		values = append(values, v)
	}
	return values, scanner.Err()
}

func (h *localHistory) readVM(uuid string) ([]int, error) {
	return readIntFile(h.vmFile(uuid))
}

func (h *localHistory) readHost() ([]int, error) {
	return readIntFile(h.hostFile())
}

// leftPad pads history with leading zeros up to length n, matching a
// newly-added VM whose tracked history is shorter than the host's (spec
// §4.4 "pad with zero utilization before the VM was first observed").
func leftPad(history []int, n int) []int {
	if len(history) >= n {
		return history
	}
	padded := make([]int, n)
	copy(padded[n-len(history):], history)
	return padded
}

// truncateTail keeps only the last n entries.
func truncateTail(history []int, n int) []int {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
