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

	"github.com/jmoiron/sqlx"
)

// TripletRepo persists the append-merge protocol against a
// physical partition leaf (one (operator, year, month, shard-range) table
// for the MNO variant; one (year, month, shard-range) table for the
// country variant). physicalTable is the already-resolved leaf table name,
// as produced by internal/partition.
type TripletRepo struct {
	db *DB
}

// NewTripletRepo binds a TripletRepo to a capability-scoped DB. Only the
// ingest capability may call Merge.
func NewTripletRepo(db *DB) *TripletRepo { return &TripletRepo{db: db} }

// MergeResult reports how many rows were touched by a Merge call, used for
// the import idempotence property ("rows_inserted + rows_updated ==
// rows_in_source on first [import]; zero on second").
type MergeResult struct {
	RowsInserted int64
	RowsUpdated  int64
}

// MergeMNO upserts aggregated staging rows into an operator-scoped triplet
// leaf table: on conflict on triplet_hash, first_seen := LEAST, last_seen
// := GREATEST, date_bitmask := bitwise OR, and the write only counts as an
// update if the bitmask actually changed, so re-importing the same file
// is a no-op on unchanged rows.
func (t *TripletRepo) MergeMNO(ctx context.Context, physicalTable string, rows []TripletRow) (MergeResult, error) {
	return t.merge(ctx, physicalTable, rows)
}

// MergeCountry is MergeMNO's sibling against the country-level rollup
// table; the caller is responsible for having already OR'ed the relevant
// operators' bitmasks together (the per-country row's bitmask
// is the OR across operators' bitmaps for the same triplet_hash").
func (t *TripletRepo) MergeCountry(ctx context.Context, physicalTable string, rows []TripletRow) (MergeResult, error) {
	return t.merge(ctx, physicalTable, rows)
}

func (t *TripletRepo) merge(ctx context.Context, physicalTable string, rows []TripletRow) (MergeResult, error) {
	var result MergeResult
	if len(rows) == 0 {
		return result, nil
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("storage: begin merge tx on %s: %w", physicalTable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %s (operator_id, year, month, triplet_hash, imei_norm, imsi, msisdn,
		                 first_seen, last_seen, date_bitmask, virt_imei_shard)
		VALUES (:operator_id, :year, :month, :triplet_hash, :imei_norm, :imsi, :msisdn,
		        :first_seen, :last_seen, :date_bitmask, :virt_imei_shard)
		ON CONFLICT (triplet_hash) DO UPDATE SET
			first_seen = LEAST(%[1]s.first_seen, EXCLUDED.first_seen),
			last_seen = GREATEST(%[1]s.last_seen, EXCLUDED.last_seen),
			date_bitmask = %[1]s.date_bitmask | EXCLUDED.date_bitmask
		WHERE %[1]s.date_bitmask | EXCLUDED.date_bitmask != %[1]s.date_bitmask
		   OR %[1]s.first_seen > EXCLUDED.first_seen
		   OR %[1]s.last_seen < EXCLUDED.last_seen
		RETURNING (xmax = 0) AS inserted`, physicalTable)

	for i := range rows {
		res, err := sqlx.NamedQueryContext(ctx, tx, upsertSQL, rows[i])
		if err != nil {
			return result, fmt.Errorf("storage: merge row into %s: %w", physicalTable, err)
		}
		var inserted bool
		if res.Next() {
			_ = res.Scan(&inserted)
			if inserted {
				result.RowsInserted++
			} else {
				result.RowsUpdated++
			}
		}
		res.Close() //nolint:errcheck
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("storage: commit merge tx on %s: %w", physicalTable, err)
	}
	return result, nil
}

// Analyze refreshes planner statistics on the given physical tables after
// a bulk merge, so the first post-import classification queries don't run
// against stale estimates.
func (t *TripletRepo) Analyze(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if _, err := t.db.ExecContext(ctx, "ANALYZE "+table); err != nil {
			return fmt.Errorf("storage: analyze %s: %w", table, err)
		}
	}
	return nil
}

// NetworkIMEIRepo persists network_imeis updates, analogous to
// TripletRepo.merge but keyed on imei_norm alone.
type NetworkIMEIRepo struct {
	db *DB
}

// NewNetworkIMEIRepo binds a NetworkIMEIRepo to a capability-scoped DB.
func NewNetworkIMEIRepo(db *DB) *NetworkIMEIRepo { return &NetworkIMEIRepo{db: db} }

// Merge upserts network_imeis rows: first_seen := min, last_seen := max,
// seen_rat_bitmask := OR.
func (r *NetworkIMEIRepo) Merge(ctx context.Context, rows []NetworkIMEIRow) (MergeResult, error) {
	var result MergeResult
	if len(rows) == 0 {
		return result, nil
	}

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %[1]s (imei_norm, first_seen, last_seen, seen_rat_bitmask, virt_imei_shard)
		VALUES (:imei_norm, :first_seen, :last_seen, :seen_rat_bitmask, :virt_imei_shard)
		ON CONFLICT (imei_norm) DO UPDATE SET
			first_seen = LEAST(%[1]s.first_seen, EXCLUDED.first_seen),
			last_seen = GREATEST(%[1]s.last_seen, EXCLUDED.last_seen),
			seen_rat_bitmask = %[1]s.seen_rat_bitmask | EXCLUDED.seen_rat_bitmask
		RETURNING (xmax = 0) AS inserted`, NetworkIMEIs)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("storage: begin network_imeis merge tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range rows {
		res, err := sqlx.NamedQueryContext(ctx, tx, upsertSQL, rows[i])
		if err != nil {
			return result, fmt.Errorf("storage: merge network_imeis row: %w", err)
		}
		var inserted bool
		if res.Next() {
			_ = res.Scan(&inserted)
			if inserted {
				result.RowsInserted++
			} else {
				result.RowsUpdated++
			}
		}
		res.Close() //nolint:errcheck
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("storage: commit network_imeis merge tx: %w", err)
	}
	return result, nil
}
