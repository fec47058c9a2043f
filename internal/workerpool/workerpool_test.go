package workerpool_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/workerpool"
)

func TestRunIndexedRunsEveryTask(t *testing.T) {
	var count int64
	err := workerpool.RunIndexed(context.Background(), 4, 100, func(ctx context.Context, i int) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 100, count)
}

func TestRunPropagatesFirstError(t *testing.T) {
	sentinel := errors.New("boom")
	err := workerpool.RunIndexed(context.Background(), 2, 20, func(ctx context.Context, i int) error {
		if i == 5 {
			return sentinel
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestClampConnections(t *testing.T) {
	assert.Equal(t, workerpool.DefaultMaxConnections, workerpool.ClampConnections(0))
	assert.Equal(t, workerpool.MaxConnectionsCap, workerpool.ClampConnections(1000))
	assert.Equal(t, 8, workerpool.ClampConnections(8))
}
