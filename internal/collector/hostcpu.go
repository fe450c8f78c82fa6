// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"github.com/prometheus/procfs"
)

// hostCPUSample is a raw reading of this host's aggregate CPU counters
// (spec §4.3 step 7: "/proc/stat first line, fields 1..7").
type hostCPUSample struct {
	total float64
	busy  float64
}

// hostCPUReader abstracts /proc/stat so tests can supply synthetic
// counter sequences without a real procfs mount.
type hostCPUReader interface {
	Read() (hostCPUSample, error)
}

type procfsHostCPUReader struct {
	fs procfs.FS
}

func newProcfsHostCPUReader() (*procfsHostCPUReader, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &procfsHostCPUReader{fs: fs}, nil
}

// NewHostCPUReader opens the real /proc/stat reader NewCollector needs in
// production; tests construct their own fake instead.
func NewHostCPUReader() (*procfsHostCPUReader, error) {
	return newProcfsHostCPUReader()
}

func (r *procfsHostCPUReader) Read() (hostCPUSample, error) {
	stat, err := r.fs.Stat()
	if err != nil {
		return hostCPUSample{}, err
	}
	c := stat.CPUTotal
	total := c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ
	busy := c.User + c.Nice + c.System
	return hostCPUSample{total: total, busy: busy}, nil
}
