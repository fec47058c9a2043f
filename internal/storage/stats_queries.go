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

// StatsRepo backs the monthly report stats generator.
type StatsRepo struct {
	db *DB
}

// NewStatsRepo binds a StatsRepo to a capability-scoped DB.
func NewStatsRepo(db *DB) *StatsRepo { return &StatsRepo{db: db} }

// DailySketchRow is one daily_per_mno_hll_sketches row, serialized sketch
// bytes per metric.
type DailySketchRow struct {
	DataDate     time.Time `db:"data_date"`
	OperatorID   string    `db:"operator_id"`
	TripletHLL   []byte    `db:"triplet_hll"`
	IMEIHLL      []byte    `db:"imei_hll"`
	IMSIHLL      []byte    `db:"imsi_hll"`
	MSISDNHLL    []byte    `db:"msisdn_hll"`
	IMEIIMSIHLL  []byte    `db:"imei_imsi_hll"`
	IMEIMSISDNHLL []byte   `db:"imei_msisdn_hll"`
	IMSIMSISDNHLL []byte   `db:"imsi_msisdn_hll"`
}

// DailySketchesForMonth returns every operator's daily sketch row within
// [monthStart, monthEnd), used to compute both per-operator daily counts
// and the country-level union rollup.
func (s *StatsRepo) DailySketchesForMonth(ctx context.Context, monthStart, monthEnd time.Time) ([]DailySketchRow, error) {
	q := s.db.Rebind(fmt.Sprintf(`
		SELECT data_date, operator_id, triplet_hll, imei_hll, imsi_hll, msisdn_hll,
		       imei_imsi_hll, imei_msisdn_hll, imsi_msisdn_hll
		FROM %s WHERE data_date >= ? AND data_date < ? ORDER BY data_date, operator_id`, DailyPerMNOHLLSketches))
	var rows []DailySketchRow
	if err := s.db.SelectContext(ctx, &rows, q, monthStart, monthEnd); err != nil {
		return nil, fmt.Errorf("storage: query daily sketches: %w", err)
	}
	return rows, nil
}

// NullCounts is the monthly per-operator exact count of null-imei,
// null-imsi and null-msisdn rows.
type NullCounts struct {
	NullIMEI   int64
	NullIMSI   int64
	NullMSISDN int64
}

// MonthlyNullCounts returns exact null-column counts for operatorID's
// triplet partition in (year, month).
func (s *StatsRepo) MonthlyNullCounts(ctx context.Context, operatorID string, year, month int) (NullCounts, error) {
	q := s.db.Rebind(fmt.Sprintf(`
		SELECT
			count(*) FILTER (WHERE imei_norm IS NULL) AS null_imei,
			count(*) FILTER (WHERE imsi IS NULL) AS null_imsi,
			count(*) FILTER (WHERE msisdn IS NULL) AS null_msisdn
		FROM %s WHERE operator_id = ? AND year = ? AND month = ?`, TripletsPerMNO))
	var nc NullCounts
	row := s.db.QueryRowxContext(ctx, q, operatorID, year, month)
	if err := row.Scan(&nc.NullIMEI, &nc.NullIMSI, &nc.NullMSISDN); err != nil {
		return NullCounts{}, fmt.Errorf("storage: query null counts for %s %d-%02d: %w", operatorID, year, month, err)
	}
	return nc, nil
}

// GrossAdds returns the count of distinct imei_norms whose network_imeis
// first_seen lies in [monthStart, monthEnd) and that also appear in the
// country triplet partition for (year, month) — the
// num_gross_adds.
func (s *StatsRepo) GrossAdds(ctx context.Context, year, month int, monthStart, monthEnd time.Time) (int64, error) {
	q := s.db.Rebind(fmt.Sprintf(`
		SELECT count(DISTINCT t.imei_norm) FROM %s t
		JOIN %s n ON n.imei_norm = t.imei_norm
		WHERE t.year = ? AND t.month = ? AND n.first_seen >= ? AND n.first_seen < ?`,
		TripletsPerCountry, NetworkIMEIs))
	var n int64
	if err := s.db.GetContext(ctx, &n, q, year, month, monthStart, monthEnd); err != nil {
		return 0, fmt.Errorf("storage: query gross adds %d-%02d: %w", year, month, err)
	}
	return n, nil
}

// ModelCount is one (manufacturer, model) group's IMEI and gross-add
// counts, for the "top 10 models by IMEI count and top 10 by
// gross-add count".
type ModelCount struct {
	Manufacturer string `db:"manufacturer"`
	ModelName    string `db:"model_name"`
	NumIMEIs     int64  `db:"num_imeis"`
	NumGrossAdds int64  `db:"num_gross_adds"`
}

// TopModels returns every (manufacturer, model) group's counts for (year,
// month), ordered by num_imeis descending; the caller takes the top 10 by
// each of the two counts.
func (s *StatsRepo) TopModels(ctx context.Context, year, month int, monthStart, monthEnd time.Time) ([]ModelCount, error) {
	q := s.db.Rebind(fmt.Sprintf(`
		SELECT g.manufacturer AS manufacturer, g.model_name AS model_name,
		       count(DISTINCT t.imei_norm) AS num_imeis,
		       count(DISTINCT t.imei_norm) FILTER (WHERE n.first_seen >= ? AND n.first_seen < ?) AS num_gross_adds
		FROM %s t
		JOIN %s n ON n.imei_norm = t.imei_norm
		JOIN %s g ON g.tac = substr(t.imei_norm, 1, 8)
		WHERE t.year = ? AND t.month = ?
		GROUP BY g.manufacturer, g.model_name
		ORDER BY num_imeis DESC`, TripletsPerCountry, NetworkIMEIs, GSMAData))
	var rows []ModelCount
	if err := s.db.SelectContext(ctx, &rows, q, monthStart, monthEnd, year, month); err != nil {
		return nil, fmt.Errorf("storage: query top models %d-%02d: %w", year, month, err)
	}
	return rows, nil
}

// TACComplianceRow is one active classification match: a (tac,
// imei_norm, cond_name) triple, from which the stats aggregator builds
// the per-TAC compliance roll-up using the condition registry's
// blocking/informative split.
type TACComplianceRow struct {
	TAC           string `db:"tac"`
	IMEINorm      string `db:"imei_norm"`
	CondName      string `db:"cond_name"`
}

// ClassificationMatchesForMonth returns every (imei_norm, cond_name) active
// classification row for IMEIs present in the country triplet partition
// for (year, month), the raw material for the per-IMEI condition roll-up.
func (s *StatsRepo) ClassificationMatchesForMonth(ctx context.Context, year, month int) ([]TACComplianceRow, error) {
	q := s.db.Rebind(fmt.Sprintf(`
		SELECT DISTINCT substr(t.imei_norm, 1, 8) AS tac, t.imei_norm AS imei_norm, c.cond_name AS cond_name
		FROM %s t
		JOIN %s c ON c.imei_norm = t.imei_norm AND c.end_date IS NULL
		WHERE t.year = ? AND t.month = ?`, TripletsPerCountry, ClassificationState))
	var rows []TACComplianceRow
	if err := s.db.SelectContext(ctx, &rows, q, year, month); err != nil {
		return nil, fmt.Errorf("storage: query classification matches %d-%02d: %w", year, month, err)
	}
	return rows, nil
}

// MonthIMEIs returns every distinct imei_norm in the country triplet
// partition for (year, month), the population the compliance roll-up and
// overloading histograms iterate over.
func (s *StatsRepo) MonthIMEIs(ctx context.Context, year, month int) ([]string, error) {
	q := s.db.Rebind(fmt.Sprintf(`SELECT DISTINCT imei_norm FROM %s WHERE year = ? AND month = ? AND imei_norm IS NOT NULL`, TripletsPerCountry))
	var imeis []string
	if err := s.db.SelectContext(ctx, &imeis, q, year, month); err != nil {
		return nil, fmt.Errorf("storage: query month imeis %d-%02d: %w", year, month, err)
	}
	return imeis, nil
}

// TACStatsRow carries the per-TAC counts that feed the standard compliance
// report's non-condition columns (
// "num_imeis, num_imei_gross_adds, num_imei_imsis, num_imei_msisdns,
// num_subscriber_triplets").
type TACStatsRow struct {
	TAC                 string `db:"tac"`
	NumIMEIs            int64  `db:"num_imeis"`
	NumGrossAdds        int64  `db:"num_gross_adds"`
	NumIMEIIMSIs        int64  `db:"num_imei_imsis"`
	NumIMEIMSISDNs      int64  `db:"num_imei_msisdns"`
	NumSubscriberTriplets int64 `db:"num_subscriber_triplets"`
}

// TACStatsForMonth computes the report's per-TAC count columns for (year,
// month). num_imei_imsis/num_imei_msisdns count distinct (imei,imsi) and
// (imei,msisdn) pairs observed in the country partition; num_subscriber_
// triplets counts triplets that also appear in the pairing list (the
// "pairing (IMEI↔IMSI)" reference list stands in for "subscriber").
func (s *StatsRepo) TACStatsForMonth(ctx context.Context, year, month int, monthStart, monthEnd time.Time) ([]TACStatsRow, error) {
	q := s.db.Rebind(fmt.Sprintf(`
		SELECT substr(t.imei_norm, 1, 8) AS tac,
		       count(DISTINCT t.imei_norm) AS num_imeis,
		       count(DISTINCT t.imei_norm) FILTER (WHERE n.first_seen >= ? AND n.first_seen < ?) AS num_gross_adds,
		       count(DISTINCT (t.imei_norm || '|' || t.imsi)) FILTER (WHERE t.imsi IS NOT NULL) AS num_imei_imsis,
		       count(DISTINCT (t.imei_norm || '|' || t.msisdn)) FILTER (WHERE t.msisdn IS NOT NULL) AS num_imei_msisdns,
		       count(DISTINCT t.triplet_hash) FILTER (WHERE p.imei_norm IS NOT NULL) AS num_subscriber_triplets
		FROM %s t
		JOIN %s n ON n.imei_norm = t.imei_norm
		LEFT JOIN %s p ON p.imei_norm = t.imei_norm AND p.end_date IS NULL
		WHERE t.year = ? AND t.month = ? AND t.imei_norm IS NOT NULL
		GROUP BY substr(t.imei_norm, 1, 8)`,
		TripletsPerCountry, NetworkIMEIs, PairingList))
	var rows []TACStatsRow
	if err := s.db.SelectContext(ctx, &rows, q, monthStart, monthEnd, year, month); err != nil {
		return nil, fmt.Errorf("storage: query tac stats %d-%02d: %w", year, month, err)
	}
	return rows, nil
}

// OverloadingRow carries one imei_norm's per-operator bitmask rows within
// a month, the raw material for the IMEI-IMSI/IMSI-IMEI overloading
// histograms (the averaged daily-overloading histogram is bucketed
// by 0.1-wide bins over Σ bitcount / bitcount(OR)").
type OverloadingRow struct {
	IMEINorm    string `db:"imei_norm"`
	DateBitmask uint32 `db:"date_bitmask"`
}

// IMEIBitmasksForMonth returns one row per (operator, triplet_hash) for
// the country's triplet population in (year, month) — callers bucket by
// imei_norm and reduce with bit_or / Σ bitcount to build the overloading
// histogram.
func (s *StatsRepo) IMEIBitmasksForMonth(ctx context.Context, year, month int) ([]OverloadingRow, error) {
	q := s.db.Rebind(fmt.Sprintf(`
		SELECT imei_norm, date_bitmask FROM %s WHERE year = ? AND month = ? AND imei_norm IS NOT NULL`, TripletsPerMNO))
	var rows []OverloadingRow
	if err := s.db.SelectContext(ctx, &rows, q, year, month); err != nil {
		return nil, fmt.Errorf("storage: query imei bitmasks %d-%02d: %w", year, month, err)
	}
	return rows, nil
}
