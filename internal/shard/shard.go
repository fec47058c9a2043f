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

// Package shard implements deterministic IMEI sharding: the mapping from a
// normalized IMEI to a virtual shard in [0,99], and the mapping from virtual
// shards to physical shard ranges.
package shard

import (
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"
)

// NumVirtualShards is the fixed virtual shard space. Every table in the
// triplet store is logically partitioned into this many virtual shards
// regardless of how many physical partitions back it.
const NumVirtualShards = 100

// MaxNameLength is the maximum length Postgres allows for an identifier
// (table, index, sequence names are all subject to this).
const MaxNameLength = 63

// Normalize returns imei_norm: the first 14 characters of raw, uppercased.
// If raw is shorter than 14 characters, the entire value is uppercased.
// Normalize is idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if len(raw) <= 14 {
		return raw
	}
	return raw[:14]
}

// Virt returns the virtual shard in [0, NumVirtualShards) for a normalized
// IMEI. The mapping is a stable 64-bit hash of the canonical form reduced
// modulo NumVirtualShards; it must never change across versions since it is
// baked into every triplet row via virt_imei_shard.
func Virt(imeiNorm string) int {
	h := murmur3.Sum64([]byte(imeiNorm))
	return int(h % NumVirtualShards)
}

// Range is a half-open virtual shard interval [Lo, Hi) backed by one
// physical partition.
type Range struct {
	Lo, Hi int
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v int) bool { return v >= r.Lo && v < r.Hi }

// PhysicalRanges partitions [0, NumVirtualShards) into n half-open,
// contiguous intervals whose lengths differ by at most 1. n must be in
// [1, NumVirtualShards].
//
// The k-th interval is:
//
//	[k*100/n + min(k, 100 mod n), (k+1)*100/n + min(k+1, 100 mod n))
func PhysicalRanges(n int) ([]Range, error) {
	if n < 1 || n > NumVirtualShards {
		return nil, fmt.Errorf("shard: physical shard count %d out of range [1,%d]", n, NumVirtualShards)
	}
	base := NumVirtualShards / n
	rem := NumVirtualShards % n
	ranges := make([]Range, n)
	for k := 0; k < n; k++ {
		lo := k*base + min(k, rem)
		hi := (k+1)*base + min(k+1, rem)
		ranges[k] = Range{Lo: lo, Hi: hi}
	}
	return ranges, nil
}

// PhysicalOf returns the index into the ranges slice (as produced by
// PhysicalRanges) that contains the given virtual shard, or -1 if none does.
func PhysicalOf(ranges []Range, virt int) int {
	for i, r := range ranges {
		if r.Contains(virt) {
			return i
		}
	}
	return -1
}

// Name builds the deterministic, length-bounded name for a shard-range leaf
// table: "{base}_{lo}_{hi-1}". Callers that descend further (per-operator,
// per-month) compose additional suffixes before calling Name so that the
// shard suffix is always the innermost, leaf-level qualifier.
func Name(base string, r Range) string {
	name := fmt.Sprintf("%s_%d_%d", base, r.Lo, r.Hi-1)
	if len(name) > MaxNameLength {
		// Truncate the base rather than the numeric suffix: the suffix is
		// what makes sibling leaves distinguishable.
		overflow := len(name) - MaxNameLength
		name = fmt.Sprintf("%s_%d_%d", base[:len(base)-overflow], r.Lo, r.Hi-1)
	}
	return name
}
