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

// Package stats computes the monthly report statistics:
// daily per-operator and country HLL-derived counts, exact monthly null
// counts, gross-adds, top-10 device models, a per-TAC compliance roll-up
// with the HLL/exact cross-check, and IMEI-IMSI/IMSI-IMEI overloading
// histograms. Each stat runs as an independent task over
// internal/workerpool and records its own duration via
// internal/metrics.Registry.ObserveStat.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dirbs-project/dirbs-core/internal/bitmask"
	"github.com/dirbs-project/dirbs-core/internal/hll"
	"github.com/dirbs-project/dirbs-core/internal/metrics"
	"github.com/dirbs-project/dirbs-core/internal/storage"
	"github.com/dirbs-project/dirbs-core/internal/workerpool"
)

// ComplianceLevel is the three-way per-TAC/IMEI compliance
// bucket. The numeric values match the compliance_level column written by
// internal/reports verbatim ("0 = any blocking condition
// matched, 1 = only informative conditions matched, 2 = fully compliant").
type ComplianceLevel int

const (
	// NonCompliant means the IMEI matched at least one blocking condition.
	NonCompliant ComplianceLevel = iota
	// Informational means the IMEI matched only informative (non-blocking)
	// conditions.
	Informational
	// Compliant means the IMEI matched no condition.
	Compliant
)

// DailyOperatorCounts is one operator's HLL-derived daily estimates,
// decoded from the daily sketch store.
type DailyOperatorCounts struct {
	Date        time.Time
	OperatorID  string
	NumTriplets float64
	NumIMEIs    float64
	NumIMSIs    float64
	NumMSISDNs  float64
}

// ModelStat is one (manufacturer, model) group's counts, ranked for the
// top-10-by-IMEI-count and top-10-by-gross-add-count lists.
type ModelStat struct {
	Manufacturer string
	ModelName    string
	NumIMEIs     int64
	NumGrossAdds int64
}

// ComplianceStat is the per-TAC compliance roll-up row,
// carrying both the HLL-derived estimate and the exact classification
// count so the cross-check in ReconcileCompliance can compare them.
type ComplianceStat struct {
	TAC           string
	Compliant     int64
	NonCompliant  int64
	Informational int64
	// NumIMEIsHLL is the country-level daily sketch's estimate for this
	// month, retained only for the cross-check; it is not itself part of
	// the report row.
	NumIMEIsHLL float64
	// Conditions maps every cond_name that matched at least one IMEI of
	// this TAC to true, the source for the standard report's per-condition
	// columns.
	Conditions map[string]bool
	// NumIMEIs, NumGrossAdds, NumIMEIIMSIs, NumIMEIMSISDNs and
	// NumSubscriberTriplets are the remaining standard-report columns
	//, populated from storage.TACStatsForMonth.
	NumIMEIs              int64
	NumGrossAdds          int64
	NumIMEIIMSIs          int64
	NumIMEIMSISDNs        int64
	NumSubscriberTriplets int64
}

// OverloadingBucket is one 0.1-wide histogram bin of the daily
// IMEI-IMSI/IMSI-IMEI overloading metric: the average, over the days an
// IMEI was seen, of (distinct-entities-seen-that-day / distinct-entities-
// seen-all-month).
type OverloadingBucket struct {
	LowerBound float64
	Count      int64
}

// Report is the full set of monthly statistics computed for (year, month).
type Report struct {
	Year               int
	Month              int
	DailyCounts        []DailyOperatorCounts
	DailyCountryCounts []DailyOperatorCounts
	NullCounts         map[string]storage.NullCounts
	GrossAdds          int64
	TopModelsByIMEIs   []ModelStat
	TopModelsByAdds    []ModelStat
	Compliance         []ComplianceStat
	Overloading        []OverloadingBucket
}

// Aggregator computes Report values from a StatsRepo.
type Aggregator struct {
	Repo       *storage.StatsRepo
	Metrics    *metrics.Registry
	MaxWorkers int
}

// blockingConditions is supplied by the caller (cmd/dirbs, which already
// has config.Config loaded) so the compliance roll-up can classify each
// matched cond_name as blocking or informative without this package
// depending on internal/config.
type blockingConditions = map[string]bool

// Generate computes every stat for (year, month) and assembles a Report.
// The storage queries run concurrently; the compliance roll-up is built
// from the classification match rows and the per-TAC stats once all of
// them have finished.
func (a *Aggregator) Generate(ctx context.Context, year, month int, blocking blockingConditions) (*Report, error) {
	monthStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	rep := &Report{Year: year, Month: month, NullCounts: map[string]storage.NullCounts{}}

	var sketchRows []storage.DailySketchRow
	var topModels []storage.ModelCount
	var matches []storage.TACComplianceRow
	var overloadRows []storage.OverloadingRow
	var tacStats []storage.TACStatsRow

	tasks := []workerpool.Task{
		a.timed("daily_counts", func(taskCtx context.Context) error {
			rows, err := a.Repo.DailySketchesForMonth(taskCtx, monthStart, monthEnd)
			if err != nil {
				return err
			}
			sketchRows = rows
			return nil
		}),
		a.timed("gross_adds", func(taskCtx context.Context) error {
			n, err := a.Repo.GrossAdds(taskCtx, year, month, monthStart, monthEnd)
			if err != nil {
				return err
			}
			rep.GrossAdds = n
			return nil
		}),
		a.timed("top_models", func(taskCtx context.Context) error {
			rows, err := a.Repo.TopModels(taskCtx, year, month, monthStart, monthEnd)
			if err != nil {
				return err
			}
			topModels = rows
			return nil
		}),
		a.timed("classification_matches", func(taskCtx context.Context) error {
			rows, err := a.Repo.ClassificationMatchesForMonth(taskCtx, year, month)
			if err != nil {
				return err
			}
			matches = rows
			return nil
		}),
		a.timed("overloading_histogram", func(taskCtx context.Context) error {
			rows, err := a.Repo.IMEIBitmasksForMonth(taskCtx, year, month)
			if err != nil {
				return err
			}
			overloadRows = rows
			return nil
		}),
		a.timed("tac_stats", func(taskCtx context.Context) error {
			rows, err := a.Repo.TACStatsForMonth(taskCtx, year, month, monthStart, monthEnd)
			if err != nil {
				return err
			}
			tacStats = rows
			return nil
		}),
	}
	if err := workerpool.Run(ctx, a.workers(), tasks); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	rep.DailyCounts, rep.DailyCountryCounts = daysFromSketches(sketchRows)
	rep.TopModelsByIMEIs, rep.TopModelsByAdds = rankModels(topModels)
	rep.Compliance = rollupCompliance(matches, blocking)
	rep.Overloading = overloadingHistogram(overloadRows)
	mergeTACStats(&rep.Compliance, tacStats)

	return rep, nil
}

// mergeTACStats folds the per-TAC count columns of the standard
// report into the compliance roll-up computed from classification matches.
// A TAC with counts but no classification matches (fully compliant, no
// conditions ever matched) still needs a row, so this adds one if absent.
func mergeTACStats(compliance *[]ComplianceStat, tacStats []storage.TACStatsRow) {
	idxByTAC := make(map[string]int, len(*compliance))
	for i := range *compliance {
		idxByTAC[(*compliance)[i].TAC] = i
	}
	for _, ts := range tacStats {
		i, ok := idxByTAC[ts.TAC]
		if !ok {
			*compliance = append(*compliance, ComplianceStat{TAC: ts.TAC, Conditions: map[string]bool{}, Compliant: ts.NumIMEIs})
			i = len(*compliance) - 1
			idxByTAC[ts.TAC] = i
		}
		cs := &(*compliance)[i]
		cs.NumIMEIs = ts.NumIMEIs
		cs.NumGrossAdds = ts.NumGrossAdds
		cs.NumIMEIIMSIs = ts.NumIMEIIMSIs
		cs.NumIMEIMSISDNs = ts.NumIMEIMSISDNs
		cs.NumSubscriberTriplets = ts.NumSubscriberTriplets
	}
	sort.Slice(*compliance, func(i, j int) bool { return (*compliance)[i].TAC < (*compliance)[j].TAC })
}

func (a *Aggregator) workers() int {
	if a.MaxWorkers > 0 {
		return a.MaxWorkers
	}
	return 1
}

// timed wraps fn so its duration is recorded under statName via
// ObserveStat, one observation per stat per run.
func (a *Aggregator) timed(statName string, fn func(ctx context.Context) error) workerpool.Task {
	return func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		if a.Metrics != nil {
			a.Metrics.ObserveStat(statName, time.Since(start))
		}
		return err
	}
}

// daysFromSketches reconstructs sketches from their serialized bytes and
// estimates daily per-operator counts, plus a country-level rollup that
// unions every operator's sketch for the same day.
func daysFromSketches(rows []storage.DailySketchRow) (perOperator, country []DailyOperatorCounts) {
	byDay := map[time.Time][]storage.DailySketchRow{}
	for _, r := range rows {
		byDay[r.DataDate] = append(byDay[r.DataDate], r)
		tripletSk, imeiSk, imsiSk, msisdnSk := decodeSketches(r)
		perOperator = append(perOperator, DailyOperatorCounts{
			Date:        r.DataDate,
			OperatorID:  r.OperatorID,
			NumTriplets: tripletSk.Estimate(),
			NumIMEIs:    imeiSk.Estimate(),
			NumIMSIs:    imsiSk.Estimate(),
			NumMSISDNs:  msisdnSk.Estimate(),
		})
	}

	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	for _, d := range days {
		var triplet, imei, imsi, msisdn []*hll.Sketch
		for _, r := range byDay[d] {
			t, i, s, m := decodeSketches(r)
			triplet = append(triplet, t)
			imei = append(imei, i)
			imsi = append(imsi, s)
			msisdn = append(msisdn, m)
		}
		country = append(country, DailyOperatorCounts{
			Date:        d,
			OperatorID:  "__all__",
			NumTriplets: hll.UnionAll(triplet).Estimate(),
			NumIMEIs:    hll.UnionAll(imei).Estimate(),
			NumIMSIs:    hll.UnionAll(imsi).Estimate(),
			NumMSISDNs:  hll.UnionAll(msisdn).Estimate(),
		})
	}
	return perOperator, country
}

func decodeSketches(r storage.DailySketchRow) (triplet, imei, imsi, msisdn *hll.Sketch) {
	triplet, imei, imsi, msisdn = hll.New(), hll.New(), hll.New(), hll.New()
	_ = triplet.UnmarshalBinary(r.TripletHLL)
	_ = imei.UnmarshalBinary(r.IMEIHLL)
	_ = imsi.UnmarshalBinary(r.IMSIHLL)
	_ = msisdn.UnmarshalBinary(r.MSISDNHLL)
	return
}

// rankModels takes the top 10 by IMEI count and, independently, the top 10
// by gross-add count (two separate top-10 lists).
func rankModels(rows []storage.ModelCount) (byIMEIs, byAdds []ModelStat) {
	stats := make([]ModelStat, len(rows))
	for i, r := range rows {
		stats[i] = ModelStat{Manufacturer: r.Manufacturer, ModelName: r.ModelName, NumIMEIs: r.NumIMEIs, NumGrossAdds: r.NumGrossAdds}
	}

	byIMEIs = append([]ModelStat(nil), stats...)
	sort.SliceStable(byIMEIs, func(i, j int) bool { return byIMEIs[i].NumIMEIs > byIMEIs[j].NumIMEIs })
	if len(byIMEIs) > 10 {
		byIMEIs = byIMEIs[:10]
	}

	byAdds = append([]ModelStat(nil), stats...)
	sort.SliceStable(byAdds, func(i, j int) bool { return byAdds[i].NumGrossAdds > byAdds[j].NumGrossAdds })
	if len(byAdds) > 10 {
		byAdds = byAdds[:10]
	}
	return byIMEIs, byAdds
}

// rollupCompliance buckets every (tac, imei_norm) pair by compliance_level
// rule: NonCompliant if any matched cond_name is blocking,
// Informational if only non-blocking conditions matched, Compliant
// otherwise (rows never appear in matches if they matched nothing, so
// those IMEIs aren't represented here — callers add MonthIMEIs minus this
// set as additional Compliant rows if an exact per-IMEI listing is needed).
func rollupCompliance(rows []storage.TACComplianceRow, blocking blockingConditions) []ComplianceStat {
	type key struct{ tac, imei string }
	level := map[key]ComplianceLevel{}
	for _, r := range rows {
		k := key{r.TAC, r.IMEINorm}
		lvl := Informational
		if blocking[r.CondName] {
			lvl = NonCompliant
		}
		if existing, ok := level[k]; !ok || lvl < existing {
			level[k] = lvl
		}
	}

	byTAC := map[string]*ComplianceStat{}
	for k, lvl := range level {
		cs, ok := byTAC[k.tac]
		if !ok {
			cs = &ComplianceStat{TAC: k.tac, Conditions: map[string]bool{}}
			byTAC[k.tac] = cs
		}
		switch lvl {
		case NonCompliant:
			cs.NonCompliant++
		case Informational:
			cs.Informational++
		default:
			cs.Compliant++
		}
	}
	for _, r := range rows {
		cs, ok := byTAC[r.TAC]
		if !ok {
			cs = &ComplianceStat{TAC: r.TAC, Conditions: map[string]bool{}}
			byTAC[r.TAC] = cs
		}
		cs.Conditions[r.CondName] = true
	}

	out := make([]ComplianceStat, 0, len(byTAC))
	for _, cs := range byTAC {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TAC < out[j].TAC })
	return out
}

// ReconcileCompliance applies the HLL/exact cross-check: when a
// TAC's HLL-estimated IMEI count diverges from the exact
// compliant+non_compliant+informational sum by more than the sketch's
// documented error bound, num_imeis is rewritten to the exact sum (the
// exact count always wins once the two disagree beyond what HLL error
// alone explains).
func ReconcileCompliance(cs ComplianceStat) (numIMEIs int64, reconciled bool) {
	exact := cs.Compliant + cs.NonCompliant + cs.Informational
	if cs.NumIMEIsHLL == 0 {
		return exact, false
	}
	tolerance := cs.NumIMEIsHLL * hll.ErrorBound
	if diff := cs.NumIMEIsHLL - float64(exact); diff > tolerance || diff < -tolerance {
		return exact, true
	}
	return exact, false
}

// overloadingHistogram buckets IMEIs into 0.1-wide bins of mean daily
// overloading: for each imei_norm, average over its per-(operator,
// triplet_hash) rows of bitcount(row)/bitcount(OR of all that imei's rows).
func overloadingHistogram(rows []storage.OverloadingRow) []OverloadingBucket {
	type acc struct {
		buckets *bitmask.DailyBuckets
		orMask  uint32
	}
	byIMEI := map[string]*acc{}
	for _, r := range rows {
		a, ok := byIMEI[r.IMEINorm]
		if !ok {
			a = &acc{buckets: &bitmask.DailyBuckets{}}
			byIMEI[r.IMEINorm] = a
		}
		a.buckets.Add(r.DateBitmask, float64(bitmask.BitCount(r.DateBitmask)))
		a.orMask = bitmask.Or(a.orMask, r.DateBitmask)
	}

	counts := make([]int64, 10)
	for _, a := range byIMEI {
		total := bitmask.BitCount(a.orMask)
		if total == 0 {
			continue
		}
		ratio := a.buckets.Average() / float64(total)
		bin := int(ratio * 10)
		if bin < 0 {
			bin = 0
		}
		if bin > 9 {
			bin = 9
		}
		counts[bin]++
	}

	out := make([]OverloadingBucket, 10)
	for i := range out {
		out[i] = OverloadingBucket{LowerBound: float64(i) / 10, Count: counts[i]}
	}
	return out
}
