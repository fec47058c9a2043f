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
	"encoding/json"
	"fmt"
	"time"
)

// HistoricList is a generic repository over any of the reference lists:
// registration, stolen, pairing, barred, monitoring and association all
// share the same historic "(..., end_date)" shape, differing only in
// their extra columns. T is the type-specific extra payload (e.g.
// registration status, stolen reporting date) marshaled to/from
// HistoricRow.Extra as JSON.
type HistoricList[T any] struct {
	db    *DB
	table string
}

// NewHistoricList binds a HistoricList repository to one of the table name
// constants in tables.go (RegistrationList, StolenList, PairingList,
// BarredList, AssociationList).
func NewHistoricList[T any](db *DB, table string) *HistoricList[T] {
	return &HistoricList[T]{db: db, table: table}
}

// Upsert inserts a new historic row, or — if imeiNorm already has a current
// (end_date IS NULL) row whose Extra differs — closes the old row and opens
// a new one, the same "close old, open new" pattern the classification
// engine uses for condition matches.
func (h *HistoricList[T]) Upsert(ctx context.Context, imeiNorm string, startDate time.Time, extra T) error {
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("storage: marshal extra for %s: %w", h.table, err)
	}

	current, err := h.Current(ctx, imeiNorm)
	if err != nil {
		return err
	}
	if current != nil {
		var currentExtra T
		if err := json.Unmarshal(current.Extra, &currentExtra); err == nil {
			if same, _ := json.Marshal(currentExtra); string(same) == string(extraJSON) {
				return nil // unchanged current record: no-op
			}
		}
		closeSQL := h.db.Rebind(fmt.Sprintf(`UPDATE %s SET end_date = ? WHERE imei_norm = ? AND end_date IS NULL`, h.table))
		if _, err := h.db.ExecContext(ctx, closeSQL, startDate, imeiNorm); err != nil {
			return fmt.Errorf("storage: close current %s row: %w", h.table, err)
		}
	}

	insertSQL := h.db.Rebind(fmt.Sprintf(
		`INSERT INTO %s (imei_norm, start_date, end_date, extra) VALUES (?, ?, NULL, ?)`, h.table))
	if _, err := h.db.ExecContext(ctx, insertSQL, imeiNorm, startDate, extraJSON); err != nil {
		return fmt.Errorf("storage: insert %s row: %w", h.table, err)
	}
	return nil
}

// Current returns the active (end_date IS NULL) row for imeiNorm, or nil if
// there is none.
func (h *HistoricList[T]) Current(ctx context.Context, imeiNorm string) (*HistoricRow, error) {
	q := h.db.Rebind(fmt.Sprintf(
		`SELECT imei_norm, start_date, end_date, extra FROM %s WHERE imei_norm = ? AND end_date IS NULL`, h.table))
	var row HistoricRow
	err := h.db.GetContext(ctx, &row, q, imeiNorm)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: query current %s row: %w", h.table, err)
	}
	return &row, nil
}

// History returns every historic row for imeiNorm, ordered oldest-first.
func (h *HistoricList[T]) History(ctx context.Context, imeiNorm string) ([]HistoricRow, error) {
	q := h.db.Rebind(fmt.Sprintf(
		`SELECT imei_norm, start_date, end_date, extra FROM %s WHERE imei_norm = ? ORDER BY start_date ASC`, h.table))
	var rows []HistoricRow
	if err := h.db.SelectContext(ctx, &rows, q, imeiNorm); err != nil {
		return nil, fmt.Errorf("storage: query %s history: %w", h.table, err)
	}
	return rows, nil
}
