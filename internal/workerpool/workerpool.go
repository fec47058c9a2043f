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

// Package workerpool implements the job engine's bounded worker pool: a fixed
// number of concurrent workers, each holding one independent DB session,
// draining all outstanding work before reporting the first failure.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConnections is the default for max_db_connections.
const DefaultMaxConnections = 4

// MaxConnectionsCap is the hard cap for max_db_connections.
const MaxConnectionsCap = 32

// ClampConnections enforces the configured bound on concurrency, defaulting
// unset/zero values and capping anything above the hard limit.
func ClampConnections(n int) int {
	if n <= 0 {
		return DefaultMaxConnections
	}
	if n > MaxConnectionsCap {
		return MaxConnectionsCap
	}
	return n
}

// Pool runs a bounded set of tasks concurrently, limited to n workers. It
// propagates the first error: once one task fails, the pool's context is
// cancelled, but Run still waits ("drains") for in-flight tasks before
// returning.
type Pool struct {
	n int
}

// New returns a Pool bounded to n concurrent workers (clamped via
// ClampConnections).
func New(n int) *Pool {
	return &Pool{n: ClampConnections(n)}
}

// Task is one unit of work submitted to the pool.
type Task func(ctx context.Context) error

// Run executes tasks with at most p.n running concurrently. It returns the
// first error encountered (if any); all tasks are still given a chance to
// start unless the group's context is cancelled, and Run does not return
// until every task has finished running or the pool has observed a failure
// on a prior task and the ctx was cancelled.
func Run(ctx context.Context, n int, tasks []Task) error {
	p := New(n)
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.n)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()
			return task(gctx)
		})
	}
	return g.Wait()
}

// RunIndexed is Run's sibling for work parameterized by an integer range,
// the common case of "one task per shard" or "one task per (shard, month)"
// fan-out in the ingest, classify, and stats aggregator pipelines.
func RunIndexed(ctx context.Context, n int, count int, fn func(ctx context.Context, i int) error) error {
	tasks := make([]Task, count)
	for i := 0; i < count; i++ {
		i := i
		tasks[i] = func(ctx context.Context) error { return fn(ctx, i) }
	}
	return Run(ctx, n, tasks)
}
