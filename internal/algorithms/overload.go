// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package algorithms

import (
	"math"
	"sort"

	"github.com/openstack-archive/terracotta/internal/conf"
)

func init() {
	OverloadIndex["otf"] = newOTFOverload
	OverloadIndex["loess"] = newLoessOverload(false)
	OverloadIndex["robust_loess"] = newLoessOverload(true)
	OverloadIndex["mad_threshold"] = newMADThresholdOverload
	OverloadIndex["iqr_threshold"] = newIQRThresholdOverload
	OverloadIndex["mhod"] = newMHODOverload
}

// otfState is threaded across ticks (spec §4.2.2 OTF).
type otfState struct {
	Overload int
	Total    int
}

type otfOpts struct {
	OTF       float64 `json:"otf"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
}

// OTF(otf, threshold, limit, migration_time): maintains state
// {overload, total} across calls.
func newOTFOverload(_, migrationTimeSeconds float64, params conf.RawOpts) (OverloadFunc, error) {
	var opts otfOpts
	if err := params.Unmarshal(&opts); err != nil {
		return nil, err
	}
	return func(in OverloadInputs, state any) (bool, any) {
		s, _ := state.(otfState)
		s.Total++
		if len(in.Utilization) > 0 && in.Utilization[len(in.Utilization)-1] >= opts.Threshold {
			s.Overload++
		}
		if len(in.Utilization) == 0 || in.Utilization[len(in.Utilization)-1] < opts.Threshold || len(in.Utilization) < opts.Limit {
			return false, s
		}
		decision := (migrationTimeSeconds+float64(s.Overload))/(migrationTimeSeconds+float64(s.Total)) >= opts.OTF
		return decision, s
	}, nil
}

type loessOpts struct {
	Length       int     `json:"length"`
	SafetyParam  float64 `json:"safetyParam"`
	Threshold    float64 `json:"threshold"`
}

// Loess / Robust Loess: fit y = a + b*x over the last `length` samples
// with tricube-weighted least squares (robust variant reweights with
// tricube*bisquare on residuals), predict at x = length + migration_time,
// decide safety_param * prediction >= threshold.
func newLoessOverload(robust bool) OverloadFactory {
	return func(_, migrationTimeSeconds float64, params conf.RawOpts) (OverloadFunc, error) {
		var opts loessOpts
		if err := params.Unmarshal(&opts); err != nil {
			return nil, err
		}
		return func(in OverloadInputs, state any) (bool, any) {
			if len(in.Utilization) < opts.Length {
				return false, state
			}
			y := in.Utilization[len(in.Utilization)-opts.Length:]
			x := make([]float64, opts.Length)
			for i := range x {
				x[i] = float64(i)
			}
			weights := tricubeWeights(opts.Length)
			a, b := weightedLinearFit(x, y, weights)
			if robust {
				residuals := make([]float64, opts.Length)
				for i := range x {
					residuals[i] = y[i] - (a + b*x[i])
				}
				bisquare := bisquareWeights(residuals)
				for i := range weights {
					weights[i] *= bisquare[i]
				}
				a, b = weightedLinearFit(x, y, weights)
			}
			prediction := a + b*(float64(opts.Length)+migrationTimeSeconds)
			return opts.SafetyParam*prediction >= opts.Threshold, state
		}, nil
	}
}

// tricubeWeights gives the last sample full weight and earlier samples
// progressively less, per the tricube kernel (1-|u|^3)^3.
func tricubeWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		u := float64(n-1-i) / float64(n)
		if u > 1 {
			u = 1
		}
		t := 1 - u*u*u
		if t < 0 {
			t = 0
		}
		w[i] = t * t * t
	}
	return w
}

// bisquareWeights reweights residuals by Tukey's bisquare function,
// scaled by the median absolute residual.
func bisquareWeights(residuals []float64) []float64 {
	abs := make([]float64, len(residuals))
	for i, r := range residuals {
		abs[i] = math.Abs(r)
	}
	m := median(abs)
	s := 6 * m
	w := make([]float64, len(residuals))
	for i, r := range residuals {
		if s == 0 {
			w[i] = 1
			continue
		}
		u := r / s
		if math.Abs(u) >= 1 {
			w[i] = 0
			continue
		}
		t := 1 - u*u
		w[i] = t * t
	}
	return w
}

// weightedLinearFit solves the weighted least-squares line y = a + b*x.
func weightedLinearFit(x, y, w []float64) (a, b float64) {
	var sw, swx, swy, swxx, swxy float64
	for i := range x {
		sw += w[i]
		swx += w[i] * x[i]
		swy += w[i] * y[i]
		swxx += w[i] * x[i] * x[i]
		swxy += w[i] * x[i] * y[i]
	}
	denom := sw*swxx - swx*swx
	if denom == 0 {
		return swy / sw, 0
	}
	b = (sw*swxy - swx*swy) / denom
	a = (swy - b*swx) / sw
	return a, b
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mad returns the median absolute deviation of a sample.
func mad(v []float64) float64 {
	m := median(v)
	dev := make([]float64, len(v))
	for i, x := range v {
		dev[i] = math.Abs(x - m)
	}
	return median(dev)
}

// iqr returns the interquartile range using the order-statistic indices
// round(0.25*(n+1))-1 and round(0.75*(n+1))-1 on sorted data (spec §4.2.2).
func iqr(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	n := len(sorted)
	q1idx := clampIndex(int(math.Round(0.25*float64(n+1)))-1, n)
	q3idx := clampIndex(int(math.Round(0.75*float64(n+1)))-1, n)
	return sorted[q3idx] - sorted[q1idx]
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

type adaptiveThresholdOpts struct {
	Param float64 `json:"param"`
}

// MAD threshold: adaptive = 1 - param*mad(hist); classify
// utilization[-1] >= adaptive.
func newMADThresholdOverload(_, _ float64, params conf.RawOpts) (OverloadFunc, error) {
	var opts adaptiveThresholdOpts
	if err := params.Unmarshal(&opts); err != nil {
		return nil, err
	}
	return func(in OverloadInputs, state any) (bool, any) {
		if len(in.Utilization) == 0 {
			return false, state
		}
		adaptive := 1 - opts.Param*mad(in.Utilization)
		return in.Utilization[len(in.Utilization)-1] >= adaptive, state
	}, nil
}

// IQR threshold: adaptive = 1 - param*iqr(hist); classify
// utilization[-1] >= adaptive.
func newIQRThresholdOverload(_, _ float64, params conf.RawOpts) (OverloadFunc, error) {
	var opts adaptiveThresholdOpts
	if err := params.Unmarshal(&opts); err != nil {
		return nil, err
	}
	return func(in OverloadInputs, state any) (bool, any) {
		if len(in.Utilization) == 0 {
			return false, state
		}
		adaptive := 1 - opts.Param*iqr(in.Utilization)
		return in.Utilization[len(in.Utilization)-1] >= adaptive, state
	}, nil
}
