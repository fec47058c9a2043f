// Copyright 2024 The DIRBS Core Authors
// This file is part of DIRBS Core.
//
// DIRBS Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// DIRBS Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with DIRBS Core. If not, see <http://www.gnu.org/licenses/>.

// Package bitmask implements the 31-bit day-of-month encoding used by the
// triplet store and network_imeis tables: bit d-1 set iff an
// observation happened on day d of the month. Keeping this as a plain
// uint32 (rather than a []bool or time.Time set) matches the wire/storage
// format so SQL-side bit_or/bitcount stay usable against the same column.
package bitmask

import "math/bits"

// DayOfMonth sets bit (day-1) in an existing bitmask and returns the result.
// day must be in [1,31].
func DayOfMonth(existing uint32, day int) uint32 {
	if day < 1 || day > 31 {
		return existing
	}
	return existing | (1 << uint(day-1))
}

// BitCount returns the number of days-of-month set in m.
func BitCount(m uint32) int {
	return bits.OnesCount32(m)
}

// Or combines two bitmasks from independent sources (e.g. two operators'
// rows for the same triplet_hash) into the merged bitmask. The merge is
// commutative and idempotent, which is what makes shard-level write
// ordering irrelevant.
func Or(a, b uint32) uint32 { return a | b }

// OrAll reduces a slice of bitmasks with Or, returning 0 for an empty slice.
func OrAll(masks []uint32) uint32 {
	var m uint32
	for _, x := range masks {
		m = Or(m, x)
	}
	return m
}

// Changed reports whether applying incoming to existing would change the
// stored value — the append-merge protocol's commit condition:
// a merge that doesn't change the bitmask is a no-op.
func Changed(existing, incoming uint32) bool {
	return Or(existing, incoming) != existing
}

// DailyBuckets accumulates per-day counts (e.g. distinct MSISDNs seen per
// IMEI per day) keyed by a date bitmask, the way duplicate_daily_avg and
// daily_avg_uid both do: each triplet-month bucket contributes a bitmask of
// days on which the metric of interest was seen, and the dimension sums
// bitcounts across buckets to get "days seen" and an accompanying weighted
// sum to get the per-day average.
type DailyBuckets struct {
	daysSeenMask uint32
	weightedSum  float64
}

// Add folds in one bucket: dayMask is the OR of days the metric was
// observed in that bucket, weight is the per-bucket contribution (e.g. a
// distinct-MSISDN count) to the daily average's numerator.
func (d *DailyBuckets) Add(dayMask uint32, weight float64) {
	d.daysSeenMask = Or(d.daysSeenMask, dayMask)
	d.weightedSum += weight
}

// DaysSeen returns the number of distinct days across all buckets added so far.
func (d *DailyBuckets) DaysSeen() int { return BitCount(d.daysSeenMask) }

// Average returns weightedSum / daysSeen, or 0 if no days have been seen.
func (d *DailyBuckets) Average() float64 {
	n := d.DaysSeen()
	if n == 0 {
		return 0
	}
	return d.weightedSum / float64(n)
}
