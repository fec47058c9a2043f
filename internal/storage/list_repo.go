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
)

// ListRepo is the shared shape of blacklist, exceptions_list and
// notifications_list: every row is versioned by the
// run_id of the listgen job that added or removed it, rather than by a
// timestamp, so that "diff since last run" (the delta reports) is a
// plain range query on run_id.
type ListRepo struct {
	db    *DB
	table string
}

// NewListRepo binds a ListRepo to one of the Blacklist, Exceptions or
// Notifications table constants.
func NewListRepo(db *DB, table string) *ListRepo { return &ListRepo{db: db, table: table} }

// Active returns every currently-effective entry (end_run_id IS NULL).
func (l *ListRepo) Active(ctx context.Context) ([]ListRow, error) {
	q := fmt.Sprintf(`SELECT imei_norm, start_run_id, end_run_id FROM %s WHERE end_run_id IS NULL`, l.table)
	var rows []ListRow
	if err := l.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("storage: query active %s: %w", l.table, err)
	}
	return rows, nil
}

// Contains reports whether imeiNorm is currently on the list.
func (l *ListRepo) Contains(ctx context.Context, imeiNorm string) (bool, error) {
	q := l.db.Rebind(fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE imei_norm = ? AND end_run_id IS NULL`, l.table))
	var n int64
	if err := l.db.GetContext(ctx, &n, q, imeiNorm); err != nil {
		return false, fmt.Errorf("storage: check %s membership: %w", l.table, err)
	}
	return n > 0, nil
}

// Reconcile brings the list in line with wantActive (the full set of
// imei_norms that should be active after this listgen run): IMEIs in
// wantActive but not currently active are opened with start_run_id; IMEIs
// currently active but not in wantActive are closed with end_run_id. This
// is the generation algorithm behind every list.
func (l *ListRepo) Reconcile(ctx context.Context, runID int64, wantActive map[string]struct{}) error {
	current, err := l.Active(ctx)
	if err != nil {
		return err
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, row := range current {
		currentSet[row.IMEINorm] = struct{}{}
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin %s reconcile tx: %w", l.table, err)
	}
	defer tx.Rollback() //nolint:errcheck

	closeSQL := tx.Rebind(fmt.Sprintf(
		`UPDATE %s SET end_run_id = ? WHERE imei_norm = ? AND end_run_id IS NULL`, l.table))
	for imeiNorm := range currentSet {
		if _, stillWanted := wantActive[imeiNorm]; stillWanted {
			continue
		}
		if _, err := tx.ExecContext(ctx, closeSQL, runID, imeiNorm); err != nil {
			return fmt.Errorf("storage: close %s entry %s: %w", l.table, imeiNorm, err)
		}
	}

	openSQL := tx.Rebind(fmt.Sprintf(
		`INSERT INTO %s (imei_norm, start_run_id, end_run_id) VALUES (?, ?, NULL)`, l.table))
	for imeiNorm := range wantActive {
		if _, alreadyActive := currentSet[imeiNorm]; alreadyActive {
			continue
		}
		if _, err := tx.ExecContext(ctx, openSQL, imeiNorm, runID); err != nil {
			return fmt.Errorf("storage: open %s entry %s: %w", l.table, imeiNorm, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit %s reconcile tx: %w", l.table, err)
	}
	return nil
}

// Delta returns the IMEIs added and removed by the listgen run identified
// by runID, for the delta-report CSVs.
func (l *ListRepo) Delta(ctx context.Context, runID int64) (added, removed []string, err error) {
	addedSQL := l.db.Rebind(fmt.Sprintf(`SELECT imei_norm FROM %s WHERE start_run_id = ?`, l.table))
	if err = l.db.SelectContext(ctx, &added, addedSQL, runID); err != nil {
		return nil, nil, fmt.Errorf("storage: query %s additions for run %d: %w", l.table, runID, err)
	}
	removedSQL := l.db.Rebind(fmt.Sprintf(`SELECT imei_norm FROM %s WHERE end_run_id = ?`, l.table))
	if err = l.db.SelectContext(ctx, &removed, removedSQL, runID); err != nil {
		return nil, nil, fmt.Errorf("storage: query %s removals for run %d: %w", l.table, runID, err)
	}
	return added, removed, nil
}
