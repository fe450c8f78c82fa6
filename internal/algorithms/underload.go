// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package algorithms

import (
	"github.com/openstack-archive/terracotta/internal/conf"
)

func init() {
	UnderloadIndex["threshold"] = newThresholdUnderload
	UnderloadIndex["last_n_average_threshold"] = newLastNAverageThresholdUnderload
	UnderloadIndex["always_underloaded"] = newAlwaysUnderloaded
}

type thresholdOpts struct {
	Threshold float64 `json:"threshold"`
}

// threshold(t): returns utilization[-1] <= t; false on empty history.
func newThresholdUnderload(_, _ float64, params conf.RawOpts) (UnderloadFunc, error) {
	var opts thresholdOpts
	if err := params.Unmarshal(&opts); err != nil {
		return nil, err
	}
	return func(in UnderloadInputs, state any) (bool, any) {
		if len(in.Utilization) == 0 {
			return false, state
		}
		last := in.Utilization[len(in.Utilization)-1]
		return last <= opts.Threshold, state
	}, nil
}

type lastNAverageThresholdOpts struct {
	Threshold float64 `json:"threshold"`
	N         int     `json:"n"`
}

// last_n_average_threshold(t, n): returns mean(utilization[-n:]) <= t;
// false on empty.
func newLastNAverageThresholdUnderload(_, _ float64, params conf.RawOpts) (UnderloadFunc, error) {
	var opts lastNAverageThresholdOpts
	if err := params.Unmarshal(&opts); err != nil {
		return nil, err
	}
	return func(in UnderloadInputs, state any) (bool, any) {
		if len(in.Utilization) == 0 {
			return false, state
		}
		n := opts.N
		if n <= 0 || n > len(in.Utilization) {
			n = len(in.Utilization)
		}
		window := in.Utilization[len(in.Utilization)-n:]
		sum := 0.0
		for _, v := range window {
			sum += v
		}
		return sum/float64(len(window)) <= opts.Threshold, state
	}, nil
}

// always_underloaded: returns true unconditionally.
func newAlwaysUnderloaded(_, _ float64, _ conf.RawOpts) (UnderloadFunc, error) {
	return func(_ UnderloadInputs, state any) (bool, any) {
		return true, state
	}, nil
}
