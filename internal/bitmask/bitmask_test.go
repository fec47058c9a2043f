package bitmask_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/dirbs-project/dirbs-core/internal/bitmask"
)

func TestDayOfMonth(t *testing.T) {
	var m uint32
	m = bitmask.DayOfMonth(m, 15)
	assert.Equal(t, uint32(1<<14), m)
}

func TestOrIsCommutativeAndIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := uint32(rapid.IntRange(0, 1<<31-1).Draw(t, "a"))
		b := uint32(rapid.IntRange(0, 1<<31-1).Draw(t, "b"))
		assert.Equal(t, bitmask.Or(a, b), bitmask.Or(b, a))
		assert.Equal(t, bitmask.Or(a, a), a)
	})
}

func TestChangedDetectsNoOpMerge(t *testing.T) {
	existing := bitmask.DayOfMonth(0, 1)
	assert.True(t, bitmask.Changed(existing, bitmask.DayOfMonth(0, 2)))
	assert.False(t, bitmask.Changed(existing, bitmask.DayOfMonth(0, 1)))
}

func TestDailyBucketsAverage(t *testing.T) {
	var b bitmask.DailyBuckets
	b.Add(bitmask.DayOfMonth(0, 1), 3)
	b.Add(bitmask.DayOfMonth(0, 2), 5)
	assert.Equal(t, 2, b.DaysSeen())
	assert.InDelta(t, 4.0, b.Average(), 1e-9)
}

func TestDailyBucketsSameDayDoesNotDoubleCountDays(t *testing.T) {
	var b bitmask.DailyBuckets
	b.Add(bitmask.DayOfMonth(0, 1), 2)
	b.Add(bitmask.DayOfMonth(0, 1), 2)
	assert.Equal(t, 1, b.DaysSeen())
	assert.InDelta(t, 4.0, b.Average(), 1e-9)
}

func TestDailyBucketsEmptyAverageIsZero(t *testing.T) {
	var b bitmask.DailyBuckets
	assert.Equal(t, 0.0, b.Average())
}
