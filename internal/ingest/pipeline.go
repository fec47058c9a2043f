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

package ingest

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/dirbs-project/dirbs-core/internal/bitmask"
	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/shard"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

// StagingLock serializes concurrent CLI invocations against the same
// on-disk staging directory. It wraps gofrs/flock rather than anything
// Postgres-specific: the advisory lock below covers the database side,
// this covers the local filesystem side where the zip is unpacked.
type StagingLock struct {
	fl *flock.Flock
}

// NewStagingLock opens (without yet acquiring) a lock file under path.
func NewStagingLock(path string) *StagingLock {
	return &StagingLock{fl: flock.New(path)}
}

// Acquire blocks until the staging lock is held or ctx is done.
func (s *StagingLock) Acquire(ctx context.Context) error {
	locked, err := s.fl.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("ingest: acquire staging lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("ingest: staging lock busy")
	}
	return nil
}

// Release drops the staging lock.
func (s *StagingLock) Release() error { return s.fl.Unlock() }

// AdvisoryLockKey derives the Postgres advisory lock key for an operator,
// so that two ingest jobs for the same operator serialize at the database
// level even if they run from different hosts/staging directories.
func AdvisoryLockKey(operator string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("dirbs-ingest:" + operator))
	return int64(h.Sum64()) //nolint:gosec // only used as an opaque advisory-lock key
}

// TripletAccumulator aggregates CSV rows by (imei_norm, imsi, msisdn) into
// the triplet_hash-keyed rows the copy stage merges.
type TripletAccumulator struct {
	byKey map[tripletKey]*accumulated
}

type tripletKey struct {
	imei, imsi, msisdn string
}

type accumulated struct {
	firstSeen, lastSeen time.Time
	bitmask             uint32
}

// NewTripletAccumulator returns an empty accumulator.
func NewTripletAccumulator() *TripletAccumulator {
	return &TripletAccumulator{byKey: make(map[tripletKey]*accumulated)}
}

// Add folds one validated, non-null row into the accumulator.
func (a *TripletAccumulator) Add(imeiNorm, imsi, msisdn string, date time.Time) {
	key := tripletKey{imeiNorm, imsi, msisdn}
	if existing, ok := a.byKey[key]; ok {
		if date.Before(existing.firstSeen) {
			existing.firstSeen = date
		}
		if date.After(existing.lastSeen) {
			existing.lastSeen = date
		}
		existing.bitmask = bitmask.DayOfMonth(existing.bitmask, date.Day())
		return
	}
	a.byKey[key] = &accumulated{firstSeen: date, lastSeen: date, bitmask: bitmask.DayOfMonth(0, date.Day())}
}

// TripletHash computes the stable hash keying monthly_network_triplets_*
//: an fnv-1a 64-bit hash of the triplet's three natural-key
// fields truncated to a signed int64 to fit the Postgres bigint column.
func TripletHash(imeiNorm, imsi, msisdn string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(imeiNorm))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(imsi))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(msisdn))
	return int64(h.Sum64()) //nolint:gosec
}

// Rows materializes the accumulator into storage.TripletRow values, sorted
// by triplet_hash for deterministic merge ordering within one shard.
func (a *TripletAccumulator) Rows(operatorID string) []storage.TripletRow {
	rows := make([]storage.TripletRow, 0, len(a.byKey))
	for key, acc := range a.byKey {
		imei, imsi, msisdn := key.imei, key.imsi, key.msisdn
		rows = append(rows, storage.TripletRow{
			OperatorID:    &operatorID,
			Year:          acc.lastSeen.Year(),
			Month:         int(acc.lastSeen.Month()),
			TripletHash:   TripletHash(imei, imsi, msisdn),
			IMEINorm:      &imei,
			IMSI:          &imsi,
			MSISDN:        &msisdn,
			FirstSeen:     acc.firstSeen,
			LastSeen:      acc.lastSeen,
			DateBitmask:   acc.bitmask,
			VirtIMEIShard: shard.Virt(imei),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TripletHash < rows[j].TripletHash })
	return rows
}

// Result summarizes one completed import for job_metadata extra_metadata.
type Result struct {
	Operator      string
	RowsProcessed int
	Merge         storage.MergeResult
	Checks        []CheckResult
}

// thresholds projects the subset of config.ImportThresholds this package
// consumes, keeping the dependency on internal/config narrow and explicit.
func thresholds(t config.ImportThresholds) (NullThresholds, float64, float64, float64, float64, float64, float64) {
	null := NullThresholds{IMEI: t.NullIMEI, IMSI: t.NullIMSI, MSISDN: t.NullMSISDN, RAT: t.NullRAT, Combined: t.Null}
	return null, t.UncleanIMEI, t.UncleanIMSI, t.Unclean, t.OutOfRegionIMSI, t.OutOfRegionMSISDN, t.OutOfRegion
}

// RunChecks executes the batch-level gates enabled by switches, honoring
// the "perform_*_check" disables, and returns the first failure (if any)
// alongside every result that did run, so passed checks get logged too.
func RunChecks(b Batch, t config.ImportThresholds, switches config.ImportSwitches, historicObserved, historicAvg HistoricAverages, historicRatio float64) ([]CheckResult, error) {
	null, uncleanIMEI, uncleanIMSI, unclean, oorIMSI, oorMSISDN, oorCombined := thresholds(t)

	var all []CheckResult
	if switches.PerformLeadingZeroCheck {
		all = append(all, b.LeadingZeroCheck(t.LeadingZeroSuspect))
	}
	if switches.PerformNullCheck {
		all = append(all, b.NullChecks(null)...)
	}
	if switches.PerformUncleanCheck {
		all = append(all, b.UncleanChecks(uncleanIMEI, uncleanIMSI, unclean)...)
	}
	if switches.PerformRegionCheck {
		all = append(all, b.RegionChecks(oorIMSI, oorMSISDN, oorCombined)...)
	}
	if switches.PerformHomeNetworkCheck {
		all = append(all, b.HomeNetworkCheck(t.NonHomeNetwork))
	}
	if switches.PerformHistoricCheck {
		all = append(all, HistoricCheck(historicObserved, historicAvg, historicRatio)...)
	}

	return all, FirstFailure(all)
}
