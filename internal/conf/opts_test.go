// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import "testing"

type testOpts struct {
	Threshold float64 `json:"threshold"`
}

func TestJsonOptsLoad(t *testing.T) {
	raw := NewRawOpts(`{"threshold": 0.8}`)
	var s JsonOpts[testOpts]
	if err := s.Load(raw); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.Options.Threshold != 0.8 {
		t.Fatalf("expected 0.8, got %v", s.Options.Threshold)
	}
}

func TestJsonOptsLoadEmpty(t *testing.T) {
	var raw RawOpts
	var s JsonOpts[testOpts]
	if err := s.Load(raw); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.Options.Threshold != 0 {
		t.Fatalf("expected zero value, got %v", s.Options.Threshold)
	}
}
