// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package power

import "testing"

func TestFakeControllerTracksPowerTransitions(t *testing.T) {
	c := NewFakeController()
	ctx := t.Context()

	if err := c.PowerOff(ctx, "compute-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.PoweredOn["compute-1"] {
		t.Fatalf("expected compute-1 to be powered off")
	}

	c.MACs["compute-1"] = "aa:bb:cc:dd:ee:ff"
	mac, err := c.ResolveMAC(ctx, "compute-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.PowerOn(ctx, "compute-1", mac); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.PoweredOn["compute-1"] {
		t.Fatalf("expected compute-1 to be powered on")
	}
	if len(c.PowerOnCalls) != 1 || c.PowerOnCalls[0] != "compute-1" {
		t.Fatalf("expected one power-on call for compute-1, got %v", c.PowerOnCalls)
	}
}

func TestFakeControllerInjectsFailures(t *testing.T) {
	c := NewFakeController()
	ctx := t.Context()
	c.FailPowerOnFor["compute-2"] = true

	if err := c.PowerOn(ctx, "compute-2", "aa:bb:cc:dd:ee:ff"); err == nil {
		t.Fatalf("expected injected failure")
	}
	if _, err := c.ResolveMAC(ctx, "compute-3"); err == nil {
		t.Fatalf("expected error for unresolved mac")
	}
}
