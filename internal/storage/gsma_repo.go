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

// GSMARepo persists the GSMA TAC reference table used by the
// gsma_not_found and is_test_tac dimensions.
type GSMARepo struct {
	db *DB
}

// NewGSMARepo binds a GSMARepo to a capability-scoped DB.
func NewGSMARepo(db *DB) *GSMARepo { return &GSMARepo{db: db} }

// Lookup returns the GSMA record for tac, or nil if the TAC is not in the
// reference table.
func (g *GSMARepo) Lookup(ctx context.Context, tac string) (*GSMARow, error) {
	q := g.db.Rebind(fmt.Sprintf(
		`SELECT tac, manufacturer, model_name, device_type, rat_bitmask FROM %s WHERE tac = ?`, GSMAData))
	var row GSMARow
	err := g.db.GetContext(ctx, &row, q, tac)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: lookup gsma tac %s: %w", tac, err)
	}
	return &row, nil
}

// ReplaceAll truncates and reloads the GSMA reference table — it is
// refreshed wholesale from a vendor export rather than incrementally
// merged ("gsma_data is replaced in full on each import, never
// merged row-by-row").
func (g *GSMARepo) ReplaceAll(ctx context.Context, rows []GSMARow) error {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin gsma replace tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", GSMAData)); err != nil {
		return fmt.Errorf("storage: clear gsma_data: %w", err)
	}

	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (tac, manufacturer, model_name, device_type, rat_bitmask)
		 VALUES (:tac, :manufacturer, :model_name, :device_type, :rat_bitmask)`, GSMAData)
	for i := range rows {
		if _, err := tx.NamedExecContext(ctx, insertSQL, rows[i]); err != nil {
			return fmt.Errorf("storage: insert gsma row %s: %w", rows[i].TAC, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit gsma replace tx: %w", err)
	}
	return nil
}

// Count returns the number of rows currently in gsma_data, used to decide
// whether the reference table has ever been loaded.
func (g *GSMARepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := g.db.GetContext(ctx, &n, fmt.Sprintf("SELECT COUNT(*) FROM %s", GSMAData)); err != nil {
		return 0, fmt.Errorf("storage: count gsma_data: %w", err)
	}
	return n, nil
}
