package shard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dirbs-project/dirbs-core/internal/shard"
)

func TestNormalizeTruncatesAndUppercases(t *testing.T) {
	assert.Equal(t, "01234567890123", shard.Normalize("01234567890123451"))
	assert.Equal(t, "ABCDEF", shard.Normalize("abcdef"))
	assert.Equal(t, "0112345*", shard.Normalize("0112345*"))
}

func TestNormalizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.StringMatching(`[0-9A-Fa-f*#]{0,20}`).Draw(t, "raw")
		once := shard.Normalize(raw)
		twice := shard.Normalize(once)
		assert.Equal(t, once, twice)
	})
}

func TestVirtIsDeterministicAndInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		imei := rapid.StringMatching(`[0-9A-F]{14}`).Draw(t, "imei")
		v1 := shard.Virt(imei)
		v2 := shard.Virt(imei)
		assert.Equal(t, v1, v2)
		assert.GreaterOrEqual(t, v1, 0)
		assert.Less(t, v1, shard.NumVirtualShards)
	})
}

func TestPhysicalRangesCoverAndPartition(t *testing.T) {
	for n := 1; n <= 100; n++ {
		ranges, err := shard.PhysicalRanges(n)
		require.NoError(t, err)
		require.Len(t, ranges, n)

		require.Equal(t, 0, ranges[0].Lo)
		require.Equal(t, shard.NumVirtualShards, ranges[n-1].Hi)

		maxLen, minLen := 0, shard.NumVirtualShards
		for i, r := range ranges {
			require.Less(t, r.Lo, r.Hi)
			if i > 0 {
				require.Equal(t, ranges[i-1].Hi, r.Lo, "ranges must be contiguous")
			}
			l := r.Hi - r.Lo
			if l > maxLen {
				maxLen = l
			}
			if l < minLen {
				minLen = l
			}
		}
		require.LessOrEqual(t, maxLen-minLen, 1, "n=%d: range lengths must differ by at most 1", n)
	}
}

func TestPhysicalRangesRejectsOutOfBounds(t *testing.T) {
	_, err := shard.PhysicalRanges(0)
	assert.Error(t, err)
	_, err = shard.PhysicalRanges(101)
	assert.Error(t, err)
}

func TestPhysicalOfEveryVirtShardMapsToExactlyOneRange(t *testing.T) {
	for _, n := range []int{1, 3, 7, 16, 100} {
		ranges, err := shard.PhysicalRanges(n)
		require.NoError(t, err)
		for v := 0; v < shard.NumVirtualShards; v++ {
			idx := shard.PhysicalOf(ranges, v)
			require.GreaterOrEqual(t, idx, 0, "virt shard %d unmapped for n=%d", v, n)
			require.True(t, ranges[idx].Contains(v))
		}
	}
}

func TestNameFormat(t *testing.T) {
	r := shard.Range{Lo: 0, Hi: 25}
	assert.Equal(t, "monthly_network_triplets_per_mno_0_24", shard.Name("monthly_network_triplets_per_mno", r))
}

func TestNameRespectsMaxLength(t *testing.T) {
	base := "a_very_long_table_base_name_that_pushes_us_right_up_against_the_limit"
	name := shard.Name(base, shard.Range{Lo: 0, Hi: 99})
	assert.LessOrEqual(t, len(name), shard.MaxNameLength)
}
