package hll_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/hll"
)

func TestEstimateWithinErrorBound(t *testing.T) {
	const n = 50000
	s := hll.New()
	for i := 0; i < n; i++ {
		s.Add([]byte(fmt.Sprintf("imei-%d", i)))
	}
	est := s.Estimate()
	relErr := math.Abs(est-float64(n)) / float64(n)
	assert.LessOrEqual(t, relErr, hll.ErrorBound*3, "estimate %v too far from true %d", est, n)
}

func TestUnionIsCommutativeAndCardinalityMonotone(t *testing.T) {
	a, b := hll.New(), hll.New()
	for i := 0; i < 1000; i++ {
		a.Add([]byte(fmt.Sprintf("a-%d", i)))
	}
	for i := 0; i < 1000; i++ {
		b.Add([]byte(fmt.Sprintf("b-%d", i)))
	}
	union := hll.UnionAll([]*hll.Sketch{a, b})
	assert.GreaterOrEqual(t, union.Estimate(), a.Estimate())
	assert.GreaterOrEqual(t, union.Estimate(), b.Estimate())
}

func TestMarshalRoundTrip(t *testing.T) {
	s := hll.New()
	for i := 0; i < 500; i++ {
		s.Add([]byte(fmt.Sprintf("x-%d", i)))
	}
	data, err := s.MarshalBinary()
	require.NoError(t, err)

	s2 := hll.New()
	require.NoError(t, s2.UnmarshalBinary(data))
	assert.Equal(t, s.Estimate(), s2.Estimate())
}

func TestUnmarshalRejectsWrongLength(t *testing.T) {
	s := hll.New()
	err := s.UnmarshalBinary([]byte{1, 2, 3})
	require.Error(t, err)
}
