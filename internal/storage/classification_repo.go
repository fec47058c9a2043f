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

package storage

import (
	"context"
	"fmt"
	"time"
)

// ClassificationRepo persists classification_state: the per-(imei_norm,
// cond_name) match history that drives list generation.
type ClassificationRepo struct {
	db *DB
}

// NewClassificationRepo binds a ClassificationRepo to a capability-scoped DB.
func NewClassificationRepo(db *DB) *ClassificationRepo { return &ClassificationRepo{db: db} }

// Current returns the active (end_date IS NULL) classification rows for
// imeiNorm, one per condition currently matched.
func (c *ClassificationRepo) Current(ctx context.Context, imeiNorm string) ([]ClassificationRow, error) {
	q := c.db.Rebind(fmt.Sprintf(
		`SELECT imei_norm, cond_name, start_date, end_date, block_date FROM %s
		 WHERE imei_norm = ? AND end_date IS NULL`, ClassificationState))
	var rows []ClassificationRow
	if err := c.db.SelectContext(ctx, &rows, q, imeiNorm); err != nil {
		return nil, fmt.Errorf("storage: query current classification state: %w", err)
	}
	return rows, nil
}

// History returns every classification_state row ever recorded for
// imeiNorm, across all conditions, oldest first.
func (c *ClassificationRepo) History(ctx context.Context, imeiNorm string) ([]ClassificationRow, error) {
	q := c.db.Rebind(fmt.Sprintf(
		`SELECT imei_norm, cond_name, start_date, end_date, block_date FROM %s
		 WHERE imei_norm = ? ORDER BY start_date ASC`, ClassificationState))
	var rows []ClassificationRow
	if err := c.db.SelectContext(ctx, &rows, q, imeiNorm); err != nil {
		return nil, fmt.Errorf("storage: query classification history: %w", err)
	}
	return rows, nil
}

// Open starts a new match for (imeiNorm, condName) as of startDate, with
// blockDate set if the condition is currently configured as blocking.
// Open must only be called when
// Current has no active row for this (imeiNorm, condName) pair; the
// classification engine enforces that invariant.
func (c *ClassificationRepo) Open(ctx context.Context, imeiNorm, condName string, startDate time.Time, blockDate *time.Time) error {
	insertSQL := c.db.Rebind(fmt.Sprintf(
		`INSERT INTO %s (imei_norm, cond_name, start_date, end_date, block_date) VALUES (?, ?, ?, NULL, ?)`,
		ClassificationState))
	if _, err := c.db.ExecContext(ctx, insertSQL, imeiNorm, condName, startDate, blockDate); err != nil {
		return fmt.Errorf("storage: open classification match: %w", err)
	}
	return nil
}

// Close ends the active match for (imeiNorm, condName) as of endDate — used
// when a run no longer matches the condition and it isn't sticky.
func (c *ClassificationRepo) Close(ctx context.Context, imeiNorm, condName string, endDate time.Time) error {
	updateSQL := c.db.Rebind(fmt.Sprintf(
		`UPDATE %s SET end_date = ? WHERE imei_norm = ? AND cond_name = ? AND end_date IS NULL`,
		ClassificationState))
	if _, err := c.db.ExecContext(ctx, updateSQL, endDate, imeiNorm, condName); err != nil {
		return fmt.Errorf("storage: close classification match: %w", err)
	}
	return nil
}

// ActiveIMEIsForCondition returns every imei_norm with an active
// (end_date IS NULL) row for condName, used by the classification engine
// to diff a run's matched set against the previous state.
func (c *ClassificationRepo) ActiveIMEIsForCondition(ctx context.Context, condName string) ([]string, error) {
	q := c.db.Rebind(fmt.Sprintf(
		`SELECT imei_norm FROM %s WHERE cond_name = ? AND end_date IS NULL`, ClassificationState))
	var imeis []string
	if err := c.db.SelectContext(ctx, &imeis, q, condName); err != nil {
		return nil, fmt.Errorf("storage: query active imeis for %s: %w", condName, err)
	}
	return imeis, nil
}

// ReconcileBlockDate aligns active rows' block_date with the condition's
// current blocking flag after a config flip between runs. A block date is
// fixed when the match opens (start_date + grace) and must not drift on
// later runs, so only rows that disagree with the flag are touched: a
// condition flipped to non-blocking gets its stale block dates cleared,
// and one flipped to blocking gets rows missing a block_date filled from
// each row's own start_date (or from the amnesty override when one is in
// effect). A run with no flip touches nothing.
func (c *ClassificationRepo) ReconcileBlockDate(ctx context.Context, condName string, blocking bool, gracePeriodDays int, override *time.Time) (int64, error) {
	if !blocking {
		clearSQL := c.db.Rebind(fmt.Sprintf(
			`UPDATE %s SET block_date = NULL WHERE cond_name = ? AND end_date IS NULL AND block_date IS NOT NULL`, ClassificationState))
		res, err := c.db.ExecContext(ctx, clearSQL, condName)
		if err != nil {
			return 0, fmt.Errorf("storage: clear block_date for %s: %w", condName, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("storage: rows affected clearing %s: %w", condName, err)
		}
		return n, nil
	}

	selSQL := c.db.Rebind(fmt.Sprintf(
		`SELECT imei_norm, start_date FROM %s WHERE cond_name = ? AND end_date IS NULL AND block_date IS NULL`, ClassificationState))
	var rows []struct {
		IMEINorm  string    `db:"imei_norm"`
		StartDate time.Time `db:"start_date"`
	}
	if err := c.db.SelectContext(ctx, &rows, selSQL, condName); err != nil {
		return 0, fmt.Errorf("storage: query unreconciled rows for %s: %w", condName, err)
	}

	updSQL := c.db.Rebind(fmt.Sprintf(
		`UPDATE %s SET block_date = ? WHERE imei_norm = ? AND cond_name = ? AND end_date IS NULL`, ClassificationState))
	var n int64
	for _, row := range rows {
		blockDate := row.StartDate.AddDate(0, 0, gracePeriodDays)
		if override != nil {
			blockDate = *override
		}
		if _, err := c.db.ExecContext(ctx, updSQL, blockDate, row.IMEINorm, condName); err != nil {
			return n, fmt.Errorf("storage: set block_date for (%s, %s): %w", row.IMEINorm, condName, err)
		}
		n++
	}
	return n, nil
}

// CountActiveByCondition returns the number of currently-active matches per
// condition, used by the classification engine's safety check (
// "abort if a run would newly block more than max_allowed_matched_ratio of
// previously-unblocked IMEIs").
func (c *ClassificationRepo) CountActiveByCondition(ctx context.Context) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT cond_name, COUNT(*) AS n FROM %s WHERE end_date IS NULL GROUP BY cond_name`, ClassificationState)
	rows, err := c.db.QueryxContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: count active classification matches: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("storage: scan classification count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// Prune deletes retired (end_date IS NOT NULL) classification_state rows
// whose end_date is older than cutoff, the `prune classification_state`
// CLI surface. Active rows (end_date IS NULL) are never pruned
// regardless of age: the "at most one active row per (imei, cond)"
// invariant depends on retaining them.
func (c *ClassificationRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	delSQL := c.db.Rebind(fmt.Sprintf(
		`DELETE FROM %s WHERE end_date IS NOT NULL AND end_date < ?`, ClassificationState))
	res, err := c.db.ExecContext(ctx, delSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: prune classification_state before %s: %w", cutoff.Format("2006-01-02"), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: rows affected pruning classification_state: %w", err)
	}
	return n, nil
}
