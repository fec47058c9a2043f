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
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/gsma"
	"github.com/dirbs-project/dirbs-core/internal/shard"
	"github.com/dirbs-project/dirbs-core/internal/storage"
	"github.com/dirbs-project/dirbs-core/internal/workerpool"
)

// historicWindowDays is the trailing window the historic check averages
// over. Files arriving with fewer than this many days of prior sketch
// history skip the check with a warning instead of extrapolating from
// partial history.
const historicWindowDays = 30

// MNOLeafName builds the physical leaf table name for one operator's
// (year, month, shard-range) triplet partition.
func MNOLeafName(operatorID string, year, month int, r shard.Range) string {
	return shard.Name(fmt.Sprintf("%s_%s_%d_%d", storage.TripletsPerMNO, operatorID, year, month), r)
}

// CountryLeafName builds the physical leaf table name for a (year, month,
// shard-range) country triplet partition.
func CountryLeafName(year, month int, r shard.Range) string {
	return shard.Name(fmt.Sprintf("%s_%d_%d", storage.TripletsPerCountry, year, month), r)
}

// RATBitmask folds a validated pipe-delimited RAT combo into the
// seen_rat_bitmask encoding: codes 001..007 occupy bits 0..6, codes
// 101..105 occupy bits 7..11.
func RATBitmask(ratNorm string) uint32 {
	if ratNorm == "" {
		return 0
	}
	var mask uint32
	for _, code := range strings.Split(ratNorm, "|") {
		n, err := ParseRATInt(code)
		if err != nil {
			continue
		}
		switch {
		case n >= 1 && n <= 7:
			mask |= 1 << uint(n-1)
		case n >= 101 && n <= 105:
			mask |= 1 << uint(7+n-101)
		}
	}
	return mask
}

// Importer runs one operator file end-to-end: filename gate, per-row
// validation, batch threshold gates, then the append-merge copy stage into
// the triplet store, network_imeis, and the daily sketches.
type Importer struct {
	Config   *config.Config
	Operator config.Operator
	Triplets *storage.TripletRepo
	IMEIs    *storage.NetworkIMEIRepo
	Sketches *storage.HLLRepo
	GSMA     *gsma.Cache
	Log      *zap.Logger
}

// netAccum folds per-IMEI observations for the network_imeis merge.
type netAccum struct {
	firstSeen, lastSeen time.Time
	ratMask             uint32
}

// ResolveFile applies the filename gate and resolves the descriptor the
// rest of the import keys off. When the date-range gate is disabled, its
// constraints downgrade to a warning, but the name must still resolve to a
// configured operator for the rows to land anywhere.
func ResolveFile(fileName string, operators []string, today time.Time, performDaterangeCheck bool, log *zap.Logger) (FileDescriptor, error) {
	desc, err := ParseFilename(fileName, operators, today)
	if err == nil {
		if desc.Warning != "" {
			log.Warn("filename check", zap.String("warning", desc.Warning))
		}
		return desc, nil
	}
	if performDaterangeCheck {
		return FileDescriptor{}, err
	}
	m := filenamePattern.FindStringSubmatch(fileName)
	if m == nil {
		return FileDescriptor{}, err
	}
	start, serr := time.Parse("20060102", m[2])
	end, eerr := time.Parse("20060102", m[3])
	if serr != nil || eerr != nil {
		return FileDescriptor{}, err
	}
	for _, id := range operators {
		if strings.EqualFold(id, m[1]) {
			log.Warn("file daterange check disabled", zap.String("file", fileName), zap.Error(err))
			return FileDescriptor{Operator: id, Start: start, End: end}, nil
		}
	}
	return FileDescriptor{}, err
}

// Run imports one already-resolved file. csvData is the extracted CSV
// stream; the unpacking of the .zip container happens upstream, outside
// this package.
func (imp *Importer) Run(ctx context.Context, desc FileDescriptor, csvData io.Reader) (*Result, error) {
	switches := imp.Config.ImportSwitches

	reader, err := NewReader(csvData)
	if err != nil {
		return nil, err
	}

	var (
		batch    Batch
		acc      = NewTripletAccumulator()
		net      = map[string]*netAccum{}
		daily    = map[time.Time]storage.SevenSketches{}
		mccs     = map[string]bool{}
		ccodes   []string
		pairPfx  []string
	)
	for _, op := range imp.Config.Operators {
		for _, p := range op.Pairs {
			mccs[p.MCC] = true
			pairPfx = append(pairPfx, p.MCC+p.MNC)
		}
		ccodes = append(ccodes, op.CountryCodes...)
	}

	for {
		raw, ok, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if !switches.PerformMSISDNImport {
			raw.MSISDN = ""
		}
		if !switches.PerformRATImport {
			raw.RAT = ""
		}

		row := ValidateRow(raw, desc.Start, desc.End)

		oorIMSI := row.IMSINorm != "" && len(row.IMSINorm) >= 3 && !mccs[row.IMSINorm[:3]]
		oorMSISDN := row.MSISDNNorm != "" && !hasAnyPrefix(row.MSISDNNorm, ccodes)
		nonHome := row.IMSINorm != "" && !hasAnyPrefix(row.IMSINorm, pairPfx)
		batch.Observe(row, raw, oorIMSI, oorMSISDN, nonHome, imp.leadingOneTACMatch(ctx, row.IMEINorm))

		if !row.DateOK {
			continue
		}

		imeiNorm := shard.Normalize(row.IMEINorm)
		acc.Add(imeiNorm, row.IMSINorm, row.MSISDNNorm, row.Date)

		if imeiNorm != "" {
			a, ok := net[imeiNorm]
			if !ok {
				a = &netAccum{firstSeen: row.Date, lastSeen: row.Date}
				net[imeiNorm] = a
			}
			if row.Date.Before(a.firstSeen) {
				a.firstSeen = row.Date
			}
			if row.Date.After(a.lastSeen) {
				a.lastSeen = row.Date
			}
			a.ratMask |= RATBitmask(row.RATNorm)
		}

		s, ok := daily[row.Date]
		if !ok {
			s = storage.NewSevenSketches()
			daily[row.Date] = s
		}
		observeSketches(s, imeiNorm, row.IMSINorm, row.MSISDNNorm)
	}

	historicObserved, historicAvg, performHistoric, err := imp.historicInputs(ctx, daily, desc, switches.PerformHistoricCheck)
	if err != nil {
		return nil, err
	}
	switches.PerformHistoricCheck = performHistoric

	checks, err := RunChecks(batch, imp.Config.ImportThresholds, switches, historicObserved, historicAvg, imp.Config.HistoricRatio)
	for _, c := range checks {
		if c.Passed {
			imp.Log.Info("check passed", zap.String("check", c.Name),
				zap.Float64("observed", c.Observed), zap.Float64("limit", c.Limit))
		}
	}
	if err != nil {
		return nil, err
	}

	merge, err := imp.copyStage(ctx, acc, net, daily)
	if err != nil {
		return nil, err
	}

	return &Result{
		Operator:      imp.Operator.ID,
		RowsProcessed: batch.TotalRows,
		Merge:         merge,
		Checks:        checks,
	}, nil
}

// leadingOneTACMatch reports whether a leading-1 IMEI's 7-digit prefix,
// prepended with "0", resolves to a known GSMA TAC.
func (imp *Importer) leadingOneTACMatch(ctx context.Context, imeiNorm string) bool {
	if imp.GSMA == nil || !strings.HasPrefix(imeiNorm, "1") || len(imeiNorm) < 7 {
		return false
	}
	row, err := imp.GSMA.Lookup(ctx, "0"+imeiNorm[:7])
	return err == nil && row != nil
}

// historicInputs derives this file's observed per-day unique averages and
// the trailing-window historic averages. When fewer than
// historicWindowDays daily sketch rows exist, the historic check is
// skipped with a warning rather than run against partial history.
func (imp *Importer) historicInputs(ctx context.Context, daily map[time.Time]storage.SevenSketches, desc FileDescriptor, enabled bool) (observed, historic HistoricAverages, perform bool, err error) {
	if !enabled {
		return observed, historic, false, nil
	}
	if len(daily) > 0 {
		var sumIMEI, sumIMSI, sumMSISDN float64
		for _, s := range daily {
			sumIMEI += s.IMEIs.Estimate()
			sumIMSI += s.IMSIs.Estimate()
			sumMSISDN += s.MSISDNs.Estimate()
		}
		n := float64(len(daily))
		observed = HistoricAverages{IMEI: sumIMEI / n, IMSI: sumIMSI / n, MSISDN: sumMSISDN / n}
	}

	from := desc.Start.AddDate(0, 0, -historicWindowDays)
	avgIMEI, avgIMSI, avgMSISDN, days, err := imp.Sketches.DailyUniqueAverages(ctx, imp.Operator.ID, from, desc.Start)
	if err != nil {
		return observed, historic, false, err
	}
	if days < historicWindowDays {
		imp.Log.Warn("historic check skipped",
			zap.Int("days_of_history", days), zap.Int("required", historicWindowDays))
		return observed, historic, false, nil
	}
	historic = HistoricAverages{IMEI: avgIMEI, IMSI: avgIMSI, MSISDN: avgMSISDN}
	return observed, historic, true, nil
}

// copyStage is the append-merge of validated, aggregated rows into the
// per-MNO and per-country triplet leaves (parallel across (month, shard)
// targets), the network_imeis roll-up, and the daily sketch store (single
// goroutine: writers to the same (data_date, operator_id) must not race).
func (imp *Importer) copyStage(ctx context.Context, acc *TripletAccumulator, net map[string]*netAccum, daily map[time.Time]storage.SevenSketches) (storage.MergeResult, error) {
	var total storage.MergeResult

	ranges, err := shard.PhysicalRanges(imp.Config.NumPhysicalShards)
	if err != nil {
		return total, err
	}

	rows := acc.Rows(imp.Operator.ID)
	for i := range rows {
		nilIfEmpty(&rows[i].IMEINorm)
		nilIfEmpty(&rows[i].IMSI)
		nilIfEmpty(&rows[i].MSISDN)
	}

	type target struct {
		year, month int
		rng         shard.Range
	}
	groups := map[target][]storage.TripletRow{}
	for _, row := range rows {
		idx := shard.PhysicalOf(ranges, row.VirtIMEIShard)
		if idx < 0 {
			return total, fmt.Errorf("ingest: virtual shard %d outside physical ranges", row.VirtIMEIShard)
		}
		t := target{year: row.Year, month: row.Month, rng: ranges[idx]}
		groups[t] = append(groups[t], row)
	}

	targets := make([]target, 0, len(groups))
	for t := range groups {
		targets = append(targets, t)
	}

	var mu sync.Mutex
	maxConns := workerpool.ClampConnections(imp.Config.DB.MaxConns)
	err = workerpool.RunIndexed(ctx, maxConns, len(targets), func(taskCtx context.Context, i int) error {
		t := targets[i]
		group := groups[t]

		mnoRes, err := imp.Triplets.MergeMNO(taskCtx, MNOLeafName(imp.Operator.ID, t.year, t.month, t.rng), group)
		if err != nil {
			return err
		}

		countryRows := make([]storage.TripletRow, len(group))
		copy(countryRows, group)
		for j := range countryRows {
			countryRows[j].OperatorID = nil
		}
		if _, err := imp.Triplets.MergeCountry(taskCtx, CountryLeafName(t.year, t.month, t.rng), countryRows); err != nil {
			return err
		}

		mu.Lock()
		total.RowsInserted += mnoRes.RowsInserted
		total.RowsUpdated += mnoRes.RowsUpdated
		mu.Unlock()
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("ingest: copy stage: %w", err)
	}

	netRows := make([]storage.NetworkIMEIRow, 0, len(net))
	for imei, a := range net {
		netRows = append(netRows, storage.NetworkIMEIRow{
			IMEINorm:       imei,
			FirstSeen:      a.firstSeen,
			LastSeen:       a.lastSeen,
			SeenRATBitmask: a.ratMask,
			VirtIMEIShard:  shard.Virt(imei),
		})
	}
	if _, err := imp.IMEIs.Merge(ctx, netRows); err != nil {
		return total, fmt.Errorf("ingest: network_imeis merge: %w", err)
	}

	for day, s := range daily {
		if err := imp.Sketches.MergeDaily(ctx, day, imp.Operator.ID, s); err != nil {
			return total, fmt.Errorf("ingest: sketch merge: %w", err)
		}
	}

	if imp.Config.ImportSwitches.PerformAutoAnalyzeCheck {
		touched := make([]string, 0, len(targets)*2)
		for _, t := range targets {
			touched = append(touched,
				MNOLeafName(imp.Operator.ID, t.year, t.month, t.rng),
				CountryLeafName(t.year, t.month, t.rng))
		}
		if err := imp.Triplets.Analyze(ctx, touched); err != nil {
			return total, fmt.Errorf("ingest: %w", err)
		}
	}

	return total, nil
}

func observeSketches(s storage.SevenSketches, imei, imsi, msisdn string) {
	sep := []byte{0}
	triplet := append(append(append(append([]byte(imei), sep...), imsi...), sep...), msisdn...)
	s.Triplets.Add(triplet)
	if imei != "" {
		s.IMEIs.Add([]byte(imei))
	}
	if imsi != "" {
		s.IMSIs.Add([]byte(imsi))
	}
	if msisdn != "" {
		s.MSISDNs.Add([]byte(msisdn))
	}
	if imei != "" && imsi != "" {
		s.IMEIIMSI.Add(append(append([]byte(imei), sep...), imsi...))
	}
	if imei != "" && msisdn != "" {
		s.IMEIMSISDN.Add(append(append([]byte(imei), sep...), msisdn...))
	}
	if imsi != "" && msisdn != "" {
		s.IMSIMSISDN.Add(append(append([]byte(imsi), sep...), msisdn...))
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func nilIfEmpty(p **string) {
	if *p != nil && **p == "" {
		*p = nil
	}
}
