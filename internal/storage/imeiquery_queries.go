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

// IMEIQueryRepo backs the consolidated IMEI lookup: network
// presence, pairings, subscriber history — all read-only, scoped to the
// report capability the way the CSV report writers are.
type IMEIQueryRepo struct {
	db *DB
}

// NewIMEIQueryRepo binds an IMEIQueryRepo to a capability-scoped DB.
func NewIMEIQueryRepo(db *DB) *IMEIQueryRepo { return &IMEIQueryRepo{db: db} }

// NetworkPresence is network_imeis' first_seen/last_seen for one IMEI, or
// Observed=false if the IMEI has never been seen.
type NetworkPresence struct {
	Observed  bool
	FirstSeen time.Time
	LastSeen  time.Time
}

// Presence reports whether imeiNorm has ever been observed on the network
// and its first/last seen dates (the ever_observed_on_network check).
func (r *IMEIQueryRepo) Presence(ctx context.Context, imeiNorm string) (NetworkPresence, error) {
	q := r.db.Rebind(fmt.Sprintf(`SELECT first_seen, last_seen FROM %s WHERE imei_norm = ?`, NetworkIMEIs))
	var row NetworkIMEIRow
	err := r.db.GetContext(ctx, &row, q, imeiNorm)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return NetworkPresence{}, nil
		}
		return NetworkPresence{}, fmt.Errorf("storage: query network presence for %s: %w", imeiNorm, err)
	}
	return NetworkPresence{Observed: true, FirstSeen: row.FirstSeen, LastSeen: row.LastSeen}, nil
}

// PairRow is one (imsi, msisdn) pairing_list entry for an IMEI.
type PairRow struct {
	IMSI   string `db:"imsi"`
	MSISDN string `db:"msisdn"`
}

// PairingsPage returns one keyset-paginated page of the IMEI's active
// pairing_list entries, ordered by (imsi, msisdn). afterKey is the
// "imsi|msisdn" key of the last row seen (empty for the first page);
// nextKey is nil when this page reached the end.
func (r *IMEIQueryRepo) PairingsPage(ctx context.Context, imeiNorm, afterKey string, limit int) ([]PairRow, *string, error) {
	return pairKeysetPage(ctx, r.db, PairingList, imeiNorm, afterKey, limit)
}

// SubscribersPage returns one keyset-paginated page of distinct (imsi,
// msisdn) pairs the triplet store has ever observed for the IMEI, the
// "subscribers" view of the IMEI query response.
func (r *IMEIQueryRepo) SubscribersPage(ctx context.Context, imeiNorm, afterKey string, limit int) ([]PairRow, *string, error) {
	q := r.db.Rebind(fmt.Sprintf(`
		SELECT DISTINCT imsi, msisdn FROM %s
		WHERE imei_norm = ? AND imsi IS NOT NULL AND msisdn IS NOT NULL
		  AND (imsi || '|' || msisdn) > ?
		ORDER BY imsi, msisdn LIMIT ?`, TripletsPerMNO))
	var rows []PairRow
	if err := r.db.SelectContext(ctx, &rows, q, imeiNorm, afterKey, limit+1); err != nil {
		return nil, nil, fmt.Errorf("storage: query subscribers for %s: %w", imeiNorm, err)
	}
	return trimPage(rows, limit, func(p PairRow) string { return p.IMSI + "|" + p.MSISDN })
}

func pairKeysetPage(ctx context.Context, db *DB, table, imeiNorm, afterKey string, limit int) ([]PairRow, *string, error) {
	q := db.Rebind(fmt.Sprintf(`
		SELECT (extra->>'imsi') AS imsi, (extra->>'msisdn') AS msisdn FROM %s
		WHERE imei_norm = ? AND end_date IS NULL
		  AND ((extra->>'imsi') || '|' || (extra->>'msisdn')) > ?
		ORDER BY (extra->>'imsi'), (extra->>'msisdn') LIMIT ?`, table))
	var rows []PairRow
	if err := db.SelectContext(ctx, &rows, q, imeiNorm, afterKey, limit+1); err != nil {
		return nil, nil, fmt.Errorf("storage: query %s page for %s: %w", table, imeiNorm, err)
	}
	return trimPage(rows, limit, func(p PairRow) string { return p.IMSI + "|" + p.MSISDN })
}

func trimPage(rows []PairRow, limit int, key func(PairRow) string) ([]PairRow, *string, error) {
	if len(rows) <= limit {
		return rows, nil, nil
	}
	next := key(rows[limit])
	return rows[:limit], &next, nil
}

// SeenWithRow is one triplet-store observation row contributing to the
// seen_with IMSI/MSISDN history.
type SeenWithRow struct {
	OperatorID string    `db:"operator_id"`
	IMSI       *string   `db:"imsi"`
	MSISDN     *string   `db:"msisdn"`
	FirstSeen  time.Time `db:"first_seen"`
	LastSeen   time.Time `db:"last_seen"`
}

// SeenWith returns every triplet-store observation row for imeiNorm,
// oldest first.
func (r *IMEIQueryRepo) SeenWith(ctx context.Context, imeiNorm string) ([]SeenWithRow, error) {
	q := r.db.Rebind(fmt.Sprintf(`
		SELECT operator_id, imsi, msisdn, first_seen, last_seen FROM %s
		WHERE imei_norm = ? ORDER BY first_seen ASC`, TripletsPerMNO))
	var rows []SeenWithRow
	if err := r.db.SelectContext(ctx, &rows, q, imeiNorm); err != nil {
		return nil, fmt.Errorf("storage: query seen_with for %s: %w", imeiNorm, err)
	}
	return rows, nil
}

// TACForIMEI resolves imeiNorm's first 8 characters for GSMA lookups,
// mirroring gsma.TAC without importing internal/gsma here (storage stays
// free of the cache layer it's queried through).
func TACForIMEI(imeiNorm string) string {
	if len(imeiNorm) < 8 {
		return imeiNorm
	}
	return imeiNorm[:8]
}
