package retry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/dirbserr"
	"github.com/dirbs-project/dirbs-core/internal/retry"
)

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	attempts := 0
	err := retry.Do(context.Background(), retry.Policy{MaxAttempts: 5}, func() error {
		attempts++
		if attempts < 3 {
			return &dirbserr.TransientError{Op: "dial", Err: errors.New("connection reset")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoDoesNotRetryNonTransient(t *testing.T) {
	attempts := 0
	sentinel := &dirbserr.ValidationError{Check: "null_imei"}
	err := retry.Do(context.Background(), retry.Policy{MaxAttempts: 5}, func() error {
		attempts++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := retry.Do(context.Background(), retry.Policy{MaxAttempts: 2}, func() error {
		attempts++
		return &dirbserr.TransientError{Op: "dial", Err: errors.New("timeout")}
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
}
