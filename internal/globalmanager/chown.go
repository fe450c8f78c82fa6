// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package globalmanager

import (
	"context"
	"fmt"
	"os/exec"
)

// InstanceDirFixer repairs ownership of the shared VM instance directory
// before a live migration starts, mirroring the original implementation's
// pre-migration permission fix (spec §4.5.3 step 1). The directory lives on
// shared storage visible to the Global Manager host itself, so this runs
// locally rather than over SSH to a compute host.
type InstanceDirFixer interface {
	Chown(ctx context.Context, directory string) error
}

type execChowner struct{}

// NewExecChowner is the production InstanceDirFixer, invoked via an argv
// array rather than a shell string (spec §9 redesign flag on
// `execute_on_hosts`).
func NewExecChowner() InstanceDirFixer { return execChowner{} }

func (execChowner) Chown(ctx context.Context, directory string) error {
	if out, err := exec.CommandContext(ctx, "chown", "-R", "nova:nova", directory).CombinedOutput(); err != nil {
		return fmt.Errorf("globalmanager: chown %s: %w (%s)", directory, err, out)
	}
	return nil
}

// fakeChowner is the in-memory InstanceDirFixer for tests.
type fakeChowner struct {
	Calls []string
	Fail  bool
}

func newFakeChowner() *fakeChowner { return &fakeChowner{} }

func (f *fakeChowner) Chown(_ context.Context, directory string) error {
	f.Calls = append(f.Calls, directory)
	if f.Fail {
		return fmt.Errorf("globalmanager: fake chown failure for %s", directory)
	}
	return nil
}
