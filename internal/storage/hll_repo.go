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

	"github.com/dirbs-project/dirbs-core/internal/hll"
)

// SevenSketches bundles the seven per-day cardinality sketches kept for
// every (data_date, operator_id): the triplet set, the three single-field
// sets, and the three pair sets.
type SevenSketches struct {
	Triplets   *hll.Sketch
	IMEIs      *hll.Sketch
	IMSIs      *hll.Sketch
	MSISDNs    *hll.Sketch
	IMEIIMSI   *hll.Sketch
	IMEIMSISDN *hll.Sketch
	IMSIMSISDN *hll.Sketch
}

// NewSevenSketches returns a bundle of seven empty sketches.
func NewSevenSketches() SevenSketches {
	return SevenSketches{
		Triplets: hll.New(), IMEIs: hll.New(), IMSIs: hll.New(), MSISDNs: hll.New(),
		IMEIIMSI: hll.New(), IMEIMSISDN: hll.New(), IMSIMSISDN: hll.New(),
	}
}

// HLLRepo writes daily_per_mno_hll_sketches. Merges into the same
// (data_date, operator_id) key must be serialized by the caller: the
// read-union-write below is not safe under concurrent writers for one key,
// which is why the ingest pipeline folds sketches on a single goroutine.
type HLLRepo struct {
	db *DB
}

// NewHLLRepo binds an HLLRepo to an ingest-capability pool.
func NewHLLRepo(db *DB) *HLLRepo { return &HLLRepo{db: db} }

// MergeDaily unions s into the stored sketches for (dataDate, operatorID),
// inserting a fresh row when none exists.
func (r *HLLRepo) MergeDaily(ctx context.Context, dataDate time.Time, operatorID string, s SevenSketches) error {
	existing, err := r.get(ctx, dataDate, operatorID)
	if err != nil {
		return err
	}
	if existing != nil {
		merged, err := unionRow(*existing, s)
		if err != nil {
			return fmt.Errorf("storage: union sketches for (%s, %s): %w", dataDate.Format("2006-01-02"), operatorID, err)
		}
		s = merged
	}

	blobs, err := marshalSeven(s)
	if err != nil {
		return fmt.Errorf("storage: marshal sketches for (%s, %s): %w", dataDate.Format("2006-01-02"), operatorID, err)
	}

	var q string
	if existing != nil {
		q = r.db.Rebind(fmt.Sprintf(
			`UPDATE %s SET triplet_hll = ?, imei_hll = ?, imsi_hll = ?, msisdn_hll = ?,
			        imei_imsi_hll = ?, imei_msisdn_hll = ?, imsi_msisdn_hll = ?
			  WHERE data_date = ? AND operator_id = ?`, DailyPerMNOHLLSketches))
	} else {
		q = r.db.Rebind(fmt.Sprintf(
			`INSERT INTO %s (triplet_hll, imei_hll, imsi_hll, msisdn_hll,
			        imei_imsi_hll, imei_msisdn_hll, imsi_msisdn_hll, data_date, operator_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, DailyPerMNOHLLSketches))
	}
	args := make([]any, 0, 9)
	for _, b := range blobs {
		args = append(args, b)
	}
	args = append(args, dataDate, operatorID)
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("storage: merge sketches for (%s, %s): %w", dataDate.Format("2006-01-02"), operatorID, err)
	}
	return nil
}

func (r *HLLRepo) get(ctx context.Context, dataDate time.Time, operatorID string) (*DailySketchRow, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT data_date, operator_id, triplet_hll, imei_hll, imsi_hll, msisdn_hll,
		        imei_imsi_hll, imei_msisdn_hll, imsi_msisdn_hll
		   FROM %s WHERE data_date = ? AND operator_id = ?`, DailyPerMNOHLLSketches))
	var row DailySketchRow
	if err := r.db.GetContext(ctx, &row, q, dataDate, operatorID); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: query sketches for (%s, %s): %w", dataDate.Format("2006-01-02"), operatorID, err)
	}
	return &row, nil
}

// DailyUniqueAverages estimates, from the stored sketches, the average
// per-day distinct IMEI/IMSI/MSISDN counts for operatorID over days in
// [from, to). days is how many daily rows contributed; callers use it to
// decide whether there is enough history for the historic check to be
// meaningful.
func (r *HLLRepo) DailyUniqueAverages(ctx context.Context, operatorID string, from, to time.Time) (imei, imsi, msisdn float64, days int, err error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT data_date, operator_id, triplet_hll, imei_hll, imsi_hll, msisdn_hll,
		        imei_imsi_hll, imei_msisdn_hll, imsi_msisdn_hll
		   FROM %s WHERE operator_id = ? AND data_date >= ? AND data_date < ?`, DailyPerMNOHLLSketches))
	var rows []DailySketchRow
	if err := r.db.SelectContext(ctx, &rows, q, operatorID, from, to); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("storage: query sketch history for %s: %w", operatorID, err)
	}
	if len(rows) == 0 {
		return 0, 0, 0, 0, nil
	}
	var sumIMEI, sumIMSI, sumMSISDN float64
	for _, row := range rows {
		sumIMEI += estimateBlob(row.IMEIHLL)
		sumIMSI += estimateBlob(row.IMSIHLL)
		sumMSISDN += estimateBlob(row.MSISDNHLL)
	}
	n := float64(len(rows))
	return sumIMEI / n, sumIMSI / n, sumMSISDN / n, len(rows), nil
}

func estimateBlob(blob []byte) float64 {
	s := hll.New()
	if err := s.UnmarshalBinary(blob); err != nil {
		return 0
	}
	return s.Estimate()
}

func unionRow(row DailySketchRow, s SevenSketches) (SevenSketches, error) {
	pairs := []struct {
		blob   []byte
		sketch *hll.Sketch
	}{
		{row.TripletHLL, s.Triplets},
		{row.IMEIHLL, s.IMEIs},
		{row.IMSIHLL, s.IMSIs},
		{row.MSISDNHLL, s.MSISDNs},
		{row.IMEIIMSIHLL, s.IMEIIMSI},
		{row.IMEIMSISDNHLL, s.IMEIMSISDN},
		{row.IMSIMSISDNHLL, s.IMSIMSISDN},
	}
	for _, p := range pairs {
		stored := hll.New()
		if err := stored.UnmarshalBinary(p.blob); err != nil {
			return SevenSketches{}, err
		}
		p.sketch.Union(stored)
	}
	return s, nil
}

func marshalSeven(s SevenSketches) ([7][]byte, error) {
	var out [7][]byte
	sketches := []*hll.Sketch{s.Triplets, s.IMEIs, s.IMSIs, s.MSISDNs, s.IMEIIMSI, s.IMEIMSISDN, s.IMSIMSISDN}
	for i, sk := range sketches {
		b, err := sk.MarshalBinary()
		if err != nil {
			return out, err
		}
		out[i] = b
	}
	return out, nil
}
