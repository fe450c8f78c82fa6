// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package algorithms

import (
	"testing"

	"github.com/openstack-archive/terracotta/internal/conf"
)

// utilization_to_state: state_config=[0.4, 0.8], inputs 0.0, 0.4, 0.7, 0.8,
// 1.0 must map to states 0, 1, 1, 2, 2 (half-open bins, overflow to N).
func TestUtilizationToState(t *testing.T) {
	stateConfig := []float64{0.4, 0.8}
	inputs := []float64{0.0, 0.4, 0.7, 0.8, 1.0}
	want := []int{0, 1, 1, 2, 2}
	for i, u := range inputs {
		got := utilizationToState(u, stateConfig)
		if got != want[i] {
			t.Fatalf("utilizationToState(%v) = %d, want %d", u, got, want[i])
		}
	}
}

func TestProbabilityEstimate(t *testing.T) {
	observations := []int{1, 1, 0, 1}
	p, variance, acceptable := probabilityEstimate(observations, 1, 4)
	if p != 0.75 {
		t.Fatalf("expected p=0.75, got %v", p)
	}
	if variance <= 0 {
		t.Fatalf("expected positive variance for a mixed sample, got %v", variance)
	}
	_ = acceptable
}

// The MHOD tick is deterministic: replaying the same utilization history
// twice from a fresh state must produce identical decisions each time.
func TestMHODDeterministicReplay(t *testing.T) {
	factory, err := newMHODOverload(300, 10, conf.NewRawOpts(
		`{"stateConfig": [0.4, 0.8], "otf": 0.5, "windowSizes": [2, 4], "bruteforceStep": 0.25, "learningSteps": 2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	history := []float64{0.2, 0.5, 0.9, 0.95, 0.9, 0.95}

	run := func() []bool {
		var state any
		var decisions []bool
		var seen []float64
		for _, u := range history {
			seen = append(seen, u)
			var d bool
			d, state = factory(OverloadInputs{Utilization: append([]float64(nil), seen...)}, state)
			decisions = append(decisions, d)
		}
		return decisions
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("length mismatch")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("tick %d: non-deterministic decision %v vs %v", i, first[i], second[i])
		}
	}
}

func TestMHODReturnsFalseOnEmptyHistory(t *testing.T) {
	factory, err := newMHODOverload(300, 10, conf.NewRawOpts(
		`{"stateConfig": [0.4, 0.8], "otf": 0.5, "windowSizes": [2]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decision, _ := factory(OverloadInputs{}, nil)
	if decision {
		t.Fatalf("expected false on empty history")
	}
}
