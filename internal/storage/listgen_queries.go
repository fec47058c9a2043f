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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// ListgenRepo holds the read queries list generation needs: the active
// blocking classification rows that feed the blacklist and notifications
// lists, the operator triplet pairings attached to notification rows, and
// the current pairing-list pairs that feed the exceptions list.
type ListgenRepo struct {
	db *DB
}

// NewListgenRepo binds a ListgenRepo to a listgen-capability pool.
func NewListgenRepo(db *DB) *ListgenRepo { return &ListgenRepo{db: db} }

// ActiveBlockingRows returns every active classification row for the given
// blocking condition labels that carries a block_date. Rows with
// block_date <= asOf belong on the blacklist; later block dates are still
// inside their grace period and belong on the notifications list.
func (r *ListgenRepo) ActiveBlockingRows(ctx context.Context, condNames []string) ([]ClassificationRow, error) {
	if len(condNames) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(condNames)), ",")
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT imei_norm, cond_name, start_date, end_date, block_date
		   FROM %s
		  WHERE end_date IS NULL AND block_date IS NOT NULL AND cond_name IN (%s)`,
		ClassificationState, placeholders))
	args := make([]any, len(condNames))
	for i, name := range condNames {
		args[i] = name
	}
	var rows []ClassificationRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("storage: query active blocking rows: %w", err)
	}
	return rows, nil
}

// TripletPairing is one distinct (imei_norm, imsi, msisdn) an operator has
// seen within the notification lookup month, attached to notification rows
// so operators can contact the affected subscriber.
type TripletPairing struct {
	IMEINorm string  `db:"imei_norm"`
	IMSI     *string `db:"imsi"`
	MSISDN   *string `db:"msisdn"`
}

// PendingBlockPairings returns, for one operator's (year, month) triplet
// partition, the distinct pairings whose IMEI has an active blocking row
// with a block_date strictly after asOf. The join runs in SQL so the
// triplet partition is never pulled client-side.
func (r *ListgenRepo) PendingBlockPairings(ctx context.Context, operatorID string, year, month int, asOf time.Time) ([]TripletPairing, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT DISTINCT t.imei_norm, t.imsi, t.msisdn
		   FROM %s t
		   JOIN %s cs ON cs.imei_norm = t.imei_norm
		  WHERE t.operator_id = ? AND t.year = ? AND t.month = ?
		    AND t.imei_norm IS NOT NULL
		    AND cs.end_date IS NULL AND cs.block_date > ?`,
		TripletsPerMNO, ClassificationState))
	var rows []TripletPairing
	if err := r.db.SelectContext(ctx, &rows, q, operatorID, year, month, asOf); err != nil {
		return nil, fmt.Errorf("storage: query pending-block pairings for %s: %w", operatorID, err)
	}
	return rows, nil
}

// CurrentPairings returns the pairing list's current (imei_norm, imsi)
// pairs. The imsi lives in the historic row's extra JSON alongside any
// msisdn the pairing import carried.
func (r *ListgenRepo) CurrentPairings(ctx context.Context) ([]TripletPairing, error) {
	q := fmt.Sprintf(
		`SELECT imei_norm, start_date, end_date, extra FROM %s WHERE end_date IS NULL`, PairingList)
	var rows []HistoricRow
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("storage: query current pairings: %w", err)
	}
	out := make([]TripletPairing, 0, len(rows))
	for _, row := range rows {
		var extra struct {
			IMSI   *string `json:"imsi"`
			MSISDN *string `json:"msisdn"`
		}
		if len(row.Extra) > 0 {
			if err := json.Unmarshal(row.Extra, &extra); err != nil {
				return nil, fmt.Errorf("storage: decode pairing extra for %s: %w", row.IMEINorm, err)
			}
		}
		out = append(out, TripletPairing{IMEINorm: row.IMEINorm, IMSI: extra.IMSI, MSISDN: extra.MSISDN})
	}
	return out, nil
}

// LatestTripletMonth returns the (year, month) of the most recent
// per-country triplet partition with data, used by list generation to pick
// the month whose pairings back notification rows. ok is false when the
// store is empty.
func (r *ListgenRepo) LatestTripletMonth(ctx context.Context) (year, month int, ok bool, err error) {
	q := fmt.Sprintf(
		`SELECT year, month FROM %s ORDER BY year DESC, month DESC LIMIT 1`, TripletsPerCountry)
	var row struct {
		Year  int `db:"year"`
		Month int `db:"month"`
	}
	if err := r.db.GetContext(ctx, &row, q); err != nil {
		if isNoRows(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("storage: query latest triplet month: %w", err)
	}
	return row.Year, row.Month, true, nil
}
