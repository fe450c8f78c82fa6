// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package algorithms

import "math"

// GetAvailableResources computes, per host, floor(threshold*total[h] -
// usage[h]). Result may be negative; callers treat negatives as "no room"
// (spec §4.2.5).
func GetAvailableResources(threshold float64, usage, total map[string]int) map[string]int {
	available := make(map[string]int, len(total))
	for h, t := range total {
		available[h] = int(math.Floor(threshold*float64(t) - float64(usage[h])))
	}
	return available
}
