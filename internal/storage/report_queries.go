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

// ReportRepo holds the read queries behind the per-list report CSVs:
// duplicates, gsma_not_found, condition overlaps, and the violation
// reports that join a reference list against the month's triplets.
type ReportRepo struct {
	db *DB
}

// NewReportRepo binds a ReportRepo to a report-capability pool.
func NewReportRepo(db *DB) *ReportRepo { return &ReportRepo{db: db} }

// DuplicateCountRow is one IMEI with its distinct-IMSI count for the
// top-duplicates report.
type DuplicateCountRow struct {
	IMEINorm  string `db:"imei_norm"`
	IMSICount int64  `db:"imsi_count"`
}

// TopDuplicates returns the IMEIs seen with the most distinct IMSIs in
// the month's country triplets, highest first.
func (r *ReportRepo) TopDuplicates(ctx context.Context, year, month int, limit int) ([]DuplicateCountRow, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT imei_norm, COUNT(DISTINCT imsi) AS imsi_count
		   FROM %s
		  WHERE year = ? AND month = ? AND imei_norm IS NOT NULL AND imsi IS NOT NULL
		  GROUP BY imei_norm
		 HAVING COUNT(DISTINCT imsi) > 1
		  ORDER BY imsi_count DESC, imei_norm ASC
		  LIMIT ?`, TripletsPerCountry))
	var rows []DuplicateCountRow
	if err := r.db.SelectContext(ctx, &rows, q, year, month, limit); err != nil {
		return nil, fmt.Errorf("storage: query top duplicates: %w", err)
	}
	return rows, nil
}

// GSMANotFoundIMEIs returns the month's distinct IMEIs whose TAC has no
// gsma_data row.
func (r *ReportRepo) GSMANotFoundIMEIs(ctx context.Context, year, month int) ([]string, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT DISTINCT t.imei_norm
		   FROM %s t
		  WHERE t.year = ? AND t.month = ? AND t.imei_norm IS NOT NULL
		    AND NOT EXISTS (SELECT 1 FROM %s g WHERE g.tac = SUBSTR(t.imei_norm, 1, 8))
		  ORDER BY t.imei_norm`, TripletsPerCountry, GSMAData))
	var imeis []string
	if err := r.db.SelectContext(ctx, &imeis, q, year, month); err != nil {
		return nil, fmt.Errorf("storage: query gsma-not-found imeis: %w", err)
	}
	return imeis, nil
}

// ConditionIMEIOperatorRow is one (imei, operator) observation of a
// condition-matched IMEI, grouped client-side into the overlap report.
type ConditionIMEIOperatorRow struct {
	IMEINorm   string `db:"imei_norm"`
	OperatorID string `db:"operator_id"`
}

// ConditionIMEIOperators returns, for every IMEI actively matched by
// condName, the operators whose month partitions observed it.
func (r *ReportRepo) ConditionIMEIOperators(ctx context.Context, condName string, year, month int) ([]ConditionIMEIOperatorRow, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT DISTINCT t.imei_norm, t.operator_id
		   FROM %s t
		   JOIN %s cs ON cs.imei_norm = t.imei_norm
		  WHERE t.year = ? AND t.month = ? AND t.imei_norm IS NOT NULL
		    AND cs.cond_name = ? AND cs.end_date IS NULL
		  ORDER BY t.imei_norm, t.operator_id`, TripletsPerMNO, ClassificationState))
	var rows []ConditionIMEIOperatorRow
	if err := r.db.SelectContext(ctx, &rows, q, year, month, condName); err != nil {
		return nil, fmt.Errorf("storage: query condition imei operators for %s: %w", condName, err)
	}
	return rows, nil
}

// ViolationTripletRow is one (imei, imsi, msisdn) triplet implicated by a
// violation report.
type ViolationTripletRow struct {
	IMEINorm string  `db:"imei_norm"`
	IMSI     *string `db:"imsi"`
	MSISDN   *string `db:"msisdn"`
}

// StolenViolations returns the operator's month triplets whose IMEI has a
// current stolen_list entry and was seen on or after the reporting date.
func (r *ReportRepo) StolenViolations(ctx context.Context, operatorID string, year, month int) ([]ViolationTripletRow, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT DISTINCT t.imei_norm, t.imsi, t.msisdn
		   FROM %s t
		   JOIN %s s ON s.imei_norm = t.imei_norm AND s.end_date IS NULL
		  WHERE t.operator_id = ? AND t.year = ? AND t.month = ?
		    AND t.imei_norm IS NOT NULL AND t.last_seen >= s.start_date
		  ORDER BY t.imei_norm`, TripletsPerMNO, StolenList))
	var rows []ViolationTripletRow
	if err := r.db.SelectContext(ctx, &rows, q, operatorID, year, month); err != nil {
		return nil, fmt.Errorf("storage: query stolen violations for %s: %w", operatorID, err)
	}
	return rows, nil
}

// BlacklistViolations returns the operator's month triplets whose IMEI is
// on the active blacklist.
func (r *ReportRepo) BlacklistViolations(ctx context.Context, operatorID string, year, month int) ([]ViolationTripletRow, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT DISTINCT t.imei_norm, t.imsi, t.msisdn
		   FROM %s t
		   JOIN %s b ON b.imei_norm = t.imei_norm AND b.end_run_id IS NULL
		  WHERE t.operator_id = ? AND t.year = ? AND t.month = ?
		    AND t.imei_norm IS NOT NULL
		  ORDER BY t.imei_norm`, TripletsPerMNO, Blacklist))
	var rows []ViolationTripletRow
	if err := r.db.SelectContext(ctx, &rows, q, operatorID, year, month); err != nil {
		return nil, fmt.Errorf("storage: query blacklist violations for %s: %w", operatorID, err)
	}
	return rows, nil
}

// AssociationViolations returns the operator's month triplets whose IMEI
// has no current device-association entry.
func (r *ReportRepo) AssociationViolations(ctx context.Context, operatorID string, year, month int) ([]ViolationTripletRow, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT DISTINCT t.imei_norm, t.imsi, t.msisdn
		   FROM %s t
		  WHERE t.operator_id = ? AND t.year = ? AND t.month = ?
		    AND t.imei_norm IS NOT NULL
		    AND NOT EXISTS (SELECT 1 FROM %s a WHERE a.imei_norm = t.imei_norm AND a.end_date IS NULL)
		  ORDER BY t.imei_norm`, TripletsPerMNO, AssociationList))
	var rows []ViolationTripletRow
	if err := r.db.SelectContext(ctx, &rows, q, operatorID, year, month); err != nil {
		return nil, fmt.Errorf("storage: query association violations for %s: %w", operatorID, err)
	}
	return rows, nil
}

// UnregisteredSubscribers returns the operator's month triplets whose IMEI
// has no current registration_list entry.
func (r *ReportRepo) UnregisteredSubscribers(ctx context.Context, operatorID string, year, month int) ([]ViolationTripletRow, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT DISTINCT t.imei_norm, t.imsi, t.msisdn
		   FROM %s t
		  WHERE t.operator_id = ? AND t.year = ? AND t.month = ?
		    AND t.imei_norm IS NOT NULL
		    AND NOT EXISTS (SELECT 1 FROM %s reg WHERE reg.imei_norm = t.imei_norm AND reg.end_date IS NULL)
		  ORDER BY t.imei_norm`, TripletsPerMNO, RegistrationList))
	var rows []ViolationTripletRow
	if err := r.db.SelectContext(ctx, &rows, q, operatorID, year, month); err != nil {
		return nil, fmt.Errorf("storage: query unregistered subscribers for %s: %w", operatorID, err)
	}
	return rows, nil
}

// NonActivePairs returns the current pairing-list pairs whose IMEI was not
// observed in the given month's country triplets.
func (r *ReportRepo) NonActivePairs(ctx context.Context, year, month int) ([]ViolationTripletRow, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT imei_norm, start_date, end_date, extra
		   FROM %s p
		  WHERE p.end_date IS NULL
		    AND NOT EXISTS (SELECT 1 FROM %s t WHERE t.imei_norm = p.imei_norm AND t.year = ? AND t.month = ?)
		  ORDER BY p.imei_norm`, PairingList, TripletsPerCountry))
	var rows []HistoricRow
	if err := r.db.SelectContext(ctx, &rows, q, year, month); err != nil {
		return nil, fmt.Errorf("storage: query non-active pairs: %w", err)
	}
	out := make([]ViolationTripletRow, 0, len(rows))
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
		out = append(out, ViolationTripletRow{IMEINorm: row.IMEINorm, IMSI: extra.IMSI, MSISDN: extra.MSISDN})
	}
	return out, nil
}

// ClassifiedTripletRow is one triplet of an actively-matched IMEI for the
// classified_triplets audit report.
type ClassifiedTripletRow struct {
	IMEINorm   string    `db:"imei_norm"`
	IMSI       *string   `db:"imsi"`
	MSISDN     *string   `db:"msisdn"`
	OperatorID string    `db:"operator_id"`
	FirstSeen  time.Time `db:"first_seen"`
	LastSeen   time.Time `db:"last_seen"`
}

// ClassifiedTriplets returns the month triplets, across operators, of
// every IMEI actively matched by condName.
func (r *ReportRepo) ClassifiedTriplets(ctx context.Context, condName string, year, month int) ([]ClassifiedTripletRow, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT t.imei_norm, t.imsi, t.msisdn, t.operator_id, t.first_seen, t.last_seen
		   FROM %s t
		   JOIN %s cs ON cs.imei_norm = t.imei_norm
		  WHERE t.year = ? AND t.month = ? AND t.imei_norm IS NOT NULL
		    AND cs.cond_name = ? AND cs.end_date IS NULL
		  ORDER BY t.imei_norm, t.operator_id`, TripletsPerMNO, ClassificationState))
	var rows []ClassifiedTripletRow
	if err := r.db.SelectContext(ctx, &rows, q, year, month, condName); err != nil {
		return nil, fmt.Errorf("storage: query classified triplets for %s: %w", condName, err)
	}
	return rows, nil
}

// MSISDNIMEIRow is one (msisdn, imei) pairing for the transient-MSISDN
// report's neighbor analysis.
type MSISDNIMEIRow struct {
	MSISDN   string `db:"msisdn"`
	IMEINorm string `db:"imei_norm"`
}

// MultiIMEIMSISDNs returns the distinct (msisdn, imei) pairs for MSISDNs
// seen with at least minIMEIs distinct IMEIs on the operator's month
// partition, ordered so callers can group by MSISDN in one pass.
func (r *ReportRepo) MultiIMEIMSISDNs(ctx context.Context, operatorID string, year, month, minIMEIs int) ([]MSISDNIMEIRow, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT DISTINCT t.msisdn, t.imei_norm
		   FROM %s t
		  WHERE t.operator_id = ? AND t.year = ? AND t.month = ?
		    AND t.imei_norm IS NOT NULL AND t.msisdn IS NOT NULL
		    AND t.msisdn IN (
		        SELECT msisdn FROM %s
		         WHERE operator_id = ? AND year = ? AND month = ?
		           AND imei_norm IS NOT NULL AND msisdn IS NOT NULL
		         GROUP BY msisdn
		        HAVING COUNT(DISTINCT imei_norm) >= ?)
		  ORDER BY t.msisdn, t.imei_norm`, TripletsPerMNO, TripletsPerMNO))
	var rows []MSISDNIMEIRow
	if err := r.db.SelectContext(ctx, &rows, q, operatorID, year, month, operatorID, year, month, minIMEIs); err != nil {
		return nil, fmt.Errorf("storage: query multi-imei msisdns for %s: %w", operatorID, err)
	}
	return rows, nil
}
