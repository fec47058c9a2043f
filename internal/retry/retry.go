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

// Package retry implements the TransientError backoff policy: workers
// retry only TransientError, with exponential backoff, up to a bounded
// number of attempts per job.
package retry

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/dirbs-project/dirbs-core/internal/dirbserr"
)

// Policy bounds how many times a TransientError is retried and the backoff
// shape between attempts.
type Policy struct {
	MaxAttempts uint64
}

// DefaultPolicy is a handful of attempts with capped total wait, so a
// dead connection fails the job instead of hanging it.
var DefaultPolicy = Policy{MaxAttempts: 5}

// Do runs fn, retrying it while it returns a *dirbserr.TransientError,
// according to p. An error that wraps a TransientError (found via
// errors.As) is retried as well; any other error aborts immediately
// without retry.
func Do(ctx context.Context, p Policy, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.MaxAttempts), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var transient *dirbserr.TransientError
		if errors.As(err, &transient) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
