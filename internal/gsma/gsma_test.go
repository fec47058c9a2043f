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

package gsma_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/gsma"
)

func TestTACAndRBI(t *testing.T) {
	require.Equal(t, "01234567", gsma.TAC("01234567890123"))
	require.Equal(t, "01", gsma.RBI("01234567890123"))
}

func TestResolveDelays_MergeAndIgnore(t *testing.T) {
	merged := gsma.ResolveDelays(map[string]int{"00": 99, "12": 5}, false)
	require.Equal(t, 99, merged["00"])
	require.Equal(t, 5, merged["12"])
	require.Equal(t, 20, merged["35"])

	require.Empty(t, gsma.ResolveDelays(map[string]int{"00": 99}, true))
}

func TestIsTestTAC(t *testing.T) {
	require.True(t, gsma.IsTestTAC("00449900000000"))
	require.True(t, gsma.IsTestTAC("00861100000000"))
	require.True(t, gsma.IsTestTAC("00100500000000"))
	require.False(t, gsma.IsTestTAC("00102000000000")) // digits 5-6 = 20, out of [01,17]
	require.False(t, gsma.IsTestTAC("01449900000000")) // wrong RBI
}

func TestInconsistentRAT(t *testing.T) {
	// Device saw GERAN (code 002, bit 1, 2G family) but GSMA declares no
	// generation capability at all.
	require.True(t, gsma.InconsistentRAT(1<<1, 0b000))
	// Device and GSMA agree on 2G capability.
	require.False(t, gsma.InconsistentRAT(1<<1, 0b001))
	// Device saw UTRAN (code 001, bit 0, 3G family); 2G-only capability
	// does not cover it.
	require.True(t, gsma.InconsistentRAT(1<<0, 0b001))
	require.False(t, gsma.InconsistentRAT(1<<0, 0b010))
	// E-UTRAN (code 006, bit 5) needs the 4G capability bit.
	require.True(t, gsma.InconsistentRAT(1<<5, 0b011))
	require.False(t, gsma.InconsistentRAT(1<<5, 0b100))
}

func TestInconsistentRATExtendedCodes(t *testing.T) {
	// Codes 101-105 land on bits 7-11 of seen_rat_bitmask; a device seen
	// only on them must still participate in the check.
	// 103 HRPD (bit 9) is 3G.
	require.True(t, gsma.InconsistentRAT(1<<9, 0b001))
	require.False(t, gsma.InconsistentRAT(1<<9, 0b010))
	// 104 1xRTT (bit 10) is 2G.
	require.True(t, gsma.InconsistentRAT(1<<10, 0b110))
	require.False(t, gsma.InconsistentRAT(1<<10, 0b001))
	// 105 UMB (bit 11) rides with the 4G family.
	require.True(t, gsma.InconsistentRAT(1<<11, 0b011))
	require.False(t, gsma.InconsistentRAT(1<<11, 0b100))
}

func TestRATGenerationMasksPartitionSeenBits(t *testing.T) {
	// Every bit the importer can set (codes 001-007 on bits 0-6, codes
	// 101-105 on bits 7-11) must belong to exactly one generation family.
	var union uint32
	for _, gen := range gsma.RATGenerations() {
		require.Zero(t, union&gen.DeviceBits, "generation device masks overlap")
		union |= gen.DeviceBits
	}
	require.Equal(t, uint32(1<<12-1), union)
}

func TestNormalizeManufacturerModel(t *testing.T) {
	m, model := gsma.NormalizeManufacturerModel("  ACME Corp ", "Flip 9000")
	require.Equal(t, "acme corp", m)
	require.Equal(t, "flip 9000", model)
}
