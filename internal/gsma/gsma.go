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

// Package gsma provides a read-through, LRU-cached view of the GSMA TAC
// reference table, hot in the ingest leading-zero gate and the
// gsma_not_found/inconsistent_rat dimensions. The table is small enough
// to fit in memory entirely, but a bounded cache avoids re-querying it inside per-shard
// worker-pool tasks that each hold an independent connection.
package gsma

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dirbs-project/dirbs-core/internal/storage"
)

// DefaultCacheSize bounds the number of distinct TACs cached at once.
const DefaultCacheSize = 100_000

// DefaultPerRBIDelays is the default per-RBI allocation delay in days
// (gsma_not_found dimension): days to wait after a TAC first appears in
// traffic before its absence from gsma_data is treated as suspicious,
// keyed by the first two digits of the TAC (the Reporting Body
// Identifier).
var DefaultPerRBIDelays = map[string]int{
	"00": 32,
	"01": 40,
	"35": 20,
	"86": 19,
	"91": 20,
	"99": 69,
}

// Cache wraps a *storage.GSMARepo with an in-process LRU of recent
// lookups.
type Cache struct {
	repo  *storage.GSMARepo
	cache *lru.Cache[string, *storage.GSMARow]
}

// New builds a Cache of the given size backed by repo.
func New(repo *storage.GSMARepo, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *storage.GSMARow](size)
	if err != nil {
		return nil, fmt.Errorf("gsma: build lru cache: %w", err)
	}
	return &Cache{repo: repo, cache: c}, nil
}

// Lookup returns the GSMA record for tac, consulting the cache before
// falling through to the database.
func (c *Cache) Lookup(ctx context.Context, tac string) (*storage.GSMARow, error) {
	if row, ok := c.cache.Get(tac); ok {
		return row, nil
	}
	row, err := c.repo.Lookup(ctx, tac)
	if err != nil {
		return nil, err
	}
	c.cache.Add(tac, row)
	return row, nil
}

// TAC extracts the 8-digit Type Allocation Code from a normalized IMEI
// (the first 8 digits of the IMEI).
func TAC(imeiNorm string) string {
	if len(imeiNorm) < 8 {
		return imeiNorm
	}
	return imeiNorm[:8]
}

// RBI extracts the 2-digit Reporting Body Identifier, the first two
// digits of the TAC.
func RBI(imeiNorm string) string {
	if len(imeiNorm) < 2 {
		return imeiNorm
	}
	return imeiNorm[:2]
}

// ResolveDelays merges a dimension's configured per_rbi_delays over
// DefaultPerRBIDelays, or returns an empty map if ignoreDelays is set
// (ignore_rbi_delays is mutually exclusive with
// per_rbi_delays)").
func ResolveDelays(overrides map[string]int, ignoreDelays bool) map[string]int {
	if ignoreDelays {
		return map[string]int{}
	}
	merged := make(map[string]int, len(DefaultPerRBIDelays))
	for k, v := range DefaultPerRBIDelays {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// IsTestTAC implements the is_test_tac dimension's pure predicate:
// first 2 digits "00"; digits 3-8 numeric; digits 3-4 in
// {"44","86","91"} OR digits 3-4 "10" and digits 5-6 in [01,17].
func IsTestTAC(imeiNorm string) bool {
	tac := TAC(imeiNorm)
	if len(tac) != 8 {
		return false
	}
	if tac[:2] != "00" {
		return false
	}
	for _, c := range tac[2:8] {
		if c < '0' || c > '9' {
			return false
		}
	}
	d34 := tac[2:4]
	switch d34 {
	case "44", "86", "91":
		return true
	case "10":
		d56 := tac[4:6]
		return d56 >= "01" && d56 <= "17"
	default:
		return false
	}
}

// RATGenerationMasks names the three generation families inconsistent_rat
// compares device-observed bits against GSMA-declared capability bits for:
// 2G, 3G, and 4G each contribute one device-bits mask drawn from
// seen_rat_bitmask and one capability bit drawn from gsma_data's
// rat_bitmask.
type RATGenerationMasks struct {
	DeviceBits     uint32
	CapabilityBits uint32
}

// ratGenerations partitions every bit seen_rat_bitmask can carry into the
// three generation families. The bit layout is the import encoding: RAT
// codes 001-007 occupy bits 0-6, codes 101-105 occupy bits 7-11. Code
// semantics follow the 3GPP RAT-type numbering: 001 UTRAN, 002 GERAN,
// 003 WLAN, 004 GAN, 005 HSPA Evolution, 006 E-UTRAN, 007 Virtual,
// 101 IEEE 802.16e, 102 3GPP2 eHRPD, 103 3GPP2 HRPD, 104 3GPP2 1xRTT,
// 105 3GPP2 UMB. The non-cellular access codes (WLAN, Virtual) ride with
// the packet-only 4G family so every code a device can be observed on
// belongs to exactly one family.
var ratGenerations = []RATGenerationMasks{
	// 2G: 002 GERAN, 004 GAN, 104 1xRTT.
	{DeviceBits: 0b0100_0000_1010, CapabilityBits: 0b001},
	// 3G: 001 UTRAN, 005 HSPA Evolution, 102 eHRPD, 103 HRPD.
	{DeviceBits: 0b0011_0001_0001, CapabilityBits: 0b010},
	// 4G and other packet-only access: 006 E-UTRAN, 101 802.16e, 105 UMB,
	// 003 WLAN, 007 Virtual.
	{DeviceBits: 0b1000_1110_0100, CapabilityBits: 0b100},
}

// RATGenerations returns the generation families in 2G, 3G, 4G order, as
// a copy so callers cannot disturb the partition.
func RATGenerations() []RATGenerationMasks {
	out := make([]RATGenerationMasks, len(ratGenerations))
	copy(out, ratGenerations)
	return out
}

// InconsistentRAT reports whether seenRAT includes a generation's device
// bits while gsmaRAT lacks that generation's capability bit, for any of
// the three families.
func InconsistentRAT(seenRAT, gsmaRAT uint32) bool {
	for _, gen := range ratGenerations {
		deviceSaw := seenRAT&gen.DeviceBits != 0
		gsmaCapable := gsmaRAT&gen.CapabilityBits != 0
		if deviceSaw && !gsmaCapable {
			return true
		}
	}
	return false
}

// NormalizeManufacturerModel lower-cases and trims a (manufacturer,
// model) pair for case-insensitive joins against gsma_data, matching the
// original's manufacturer/model matching behavior.
func NormalizeManufacturerModel(manufacturer, model string) (string, string) {
	return strings.ToLower(strings.TrimSpace(manufacturer)), strings.ToLower(strings.TrimSpace(model))
}
