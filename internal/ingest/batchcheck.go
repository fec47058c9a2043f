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
	"strings"

	"github.com/dirbs-project/dirbs-core/internal/dirbserr"
)

// CheckResult is one named gate's outcome: the observed ratio and the
// limit it was held to.
type CheckResult struct {
	Name     string
	Passed   bool
	Observed float64
	Limit    float64
}

// Batch accumulates the counters the ratio checks need across every row of
// one input file, before any rows are committed to staging.
type Batch struct {
	TotalRows int

	NullIMEI, NullIMSI, NullMSISDN, NullRAT, NullAny int
	UncleanIMEI, UncleanIMSI                         int
	OutOfRegionIMSI, OutOfRegionMSISDN, OutOfRegionAny int
	NonHomeNetwork                                     int
	LeadingZero, LeadingOne                            int
	LeadingOneGSMAPrefixed                             int
}

// Observe folds one normalized row (plus its pre-normalization unclean
// checks and region/home-network results) into the batch counters.
func (b *Batch) Observe(row NormalizedRow, raw Row, outOfRegionIMSI, outOfRegionMSISDN, nonHomeNetwork bool, gsmaTACPrefixMatch bool) {
	b.TotalRows++

	nullIMEI := row.IMEINorm == ""
	nullIMSI := row.IMSINorm == ""
	nullMSISDN := raw.MSISDN != "" && row.MSISDNNorm == "" // only non-blank values that fail normalization count
	nullRAT := raw.RAT != "" && row.RATNorm == ""

	if nullIMEI {
		b.NullIMEI++
	}
	if nullIMSI {
		b.NullIMSI++
	}
	if nullMSISDN {
		b.NullMSISDN++
	}
	if nullRAT {
		b.NullRAT++
	}
	if nullIMEI || nullIMSI || nullMSISDN || nullRAT {
		b.NullAny++
	}

	if IsUncleanIMEI(row.IMEINorm, raw.IMEI) {
		b.UncleanIMEI++
	}
	if IsUncleanIMSI(row.IMSINorm) {
		b.UncleanIMSI++
	}

	if outOfRegionIMSI {
		b.OutOfRegionIMSI++
	}
	if outOfRegionMSISDN {
		b.OutOfRegionMSISDN++
	}
	if outOfRegionIMSI || outOfRegionMSISDN {
		b.OutOfRegionAny++
	}
	if nonHomeNetwork {
		b.NonHomeNetwork++
	}

	if strings.HasPrefix(row.IMEINorm, "0") {
		b.LeadingZero++
	} else if strings.HasPrefix(row.IMEINorm, "1") {
		b.LeadingOne++
		if gsmaTACPrefixMatch {
			b.LeadingOneGSMAPrefixed++
		}
	}
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// LeadingZeroCheck is the leading-zero gate: abort outright if more
// leading-1 IMEIs were seen than leading-0 ones; otherwise the fraction of
// leading-1 IMEIs whose 7-digit prefix matches a GSMA TAC(2..8) prefixed
// with "0" must not exceed limit.
func (b Batch) LeadingZeroCheck(limit float64) CheckResult {
	if b.LeadingOne > b.LeadingZero {
		return CheckResult{Name: "leading_zero_check", Passed: false, Observed: float64(b.LeadingOne), Limit: float64(b.LeadingZero)}
	}
	observed := ratio(b.LeadingOneGSMAPrefixed, b.LeadingOne)
	return CheckResult{Name: "leading_zero_check", Passed: observed <= limit, Observed: observed, Limit: limit}
}

// NullChecks are the per-column and combined null-ratio gates.
func (b Batch) NullChecks(t NullThresholds) []CheckResult {
	return []CheckResult{
		{Name: "null_imei_check", Passed: ratio(b.NullIMEI, b.TotalRows) <= t.IMEI, Observed: ratio(b.NullIMEI, b.TotalRows), Limit: t.IMEI},
		{Name: "null_imsi_check", Passed: ratio(b.NullIMSI, b.TotalRows) <= t.IMSI, Observed: ratio(b.NullIMSI, b.TotalRows), Limit: t.IMSI},
		{Name: "null_msisdn_check", Passed: ratio(b.NullMSISDN, b.TotalRows) <= t.MSISDN, Observed: ratio(b.NullMSISDN, b.TotalRows), Limit: t.MSISDN},
		{Name: "null_rat_check", Passed: ratio(b.NullRAT, b.TotalRows) <= t.RAT, Observed: ratio(b.NullRAT, b.TotalRows), Limit: t.RAT},
		{Name: "null_check", Passed: ratio(b.NullAny, b.TotalRows) <= t.Combined, Observed: ratio(b.NullAny, b.TotalRows), Limit: t.Combined},
	}
}

// NullThresholds bundles the per-column and combined null-ratio limits.
type NullThresholds struct {
	IMEI, IMSI, MSISDN, RAT, Combined float64
}

// UncleanChecks are the unclean-IMEI/IMSI ratio gates.
func (b Batch) UncleanChecks(imeiLimit, imsiLimit, combinedLimit float64) []CheckResult {
	uncleanAny := ratio(b.UncleanIMEI+b.UncleanIMSI, b.TotalRows*2)
	return []CheckResult{
		{Name: "unclean_imei_check", Passed: ratio(b.UncleanIMEI, b.TotalRows) <= imeiLimit, Observed: ratio(b.UncleanIMEI, b.TotalRows), Limit: imeiLimit},
		{Name: "unclean_imsi_check", Passed: ratio(b.UncleanIMSI, b.TotalRows) <= imsiLimit, Observed: ratio(b.UncleanIMSI, b.TotalRows), Limit: imsiLimit},
		{Name: "unclean_check", Passed: uncleanAny <= combinedLimit, Observed: uncleanAny, Limit: combinedLimit},
	}
}

// RegionChecks are the out-of-region IMSI/MSISDN ratio gates.
func (b Batch) RegionChecks(imsiLimit, msisdnLimit, combinedLimit float64) []CheckResult {
	return []CheckResult{
		{Name: "out_of_region_imsi_check", Passed: ratio(b.OutOfRegionIMSI, b.TotalRows) <= imsiLimit, Observed: ratio(b.OutOfRegionIMSI, b.TotalRows), Limit: imsiLimit},
		{Name: "out_of_region_msisdn_check", Passed: ratio(b.OutOfRegionMSISDN, b.TotalRows) <= msisdnLimit, Observed: ratio(b.OutOfRegionMSISDN, b.TotalRows), Limit: msisdnLimit},
		{Name: "out_of_region_check", Passed: ratio(b.OutOfRegionAny, b.TotalRows) <= combinedLimit, Observed: ratio(b.OutOfRegionAny, b.TotalRows), Limit: combinedLimit},
	}
}

// HomeNetworkCheck is the non-home-network ratio gate.
func (b Batch) HomeNetworkCheck(limit float64) CheckResult {
	observed := ratio(b.NonHomeNetwork, b.TotalRows)
	return CheckResult{Name: "home_network_check", Passed: observed <= limit, Observed: observed, Limit: limit}
}

// HistoricAverages are the per-metric average-daily-unique counts an
// input file must meet or exceed relative to the trailing 30-day HLL
// average.
type HistoricAverages struct {
	IMEI, IMSI, MSISDN float64
}

// HistoricCheck is the trailing-history gate: each of the file's observed
// daily averages must be at least ratio * the corresponding 30-day
// historic average.
func HistoricCheck(observed, historic HistoricAverages, ratio float64) []CheckResult {
	check := func(name string, obs, hist float64) CheckResult {
		required := hist * ratio
		return CheckResult{Name: name, Passed: obs >= required, Observed: obs, Limit: required}
	}
	return []CheckResult{
		check("historic_imei_check", observed.IMEI, historic.IMEI),
		check("historic_imsi_check", observed.IMSI, historic.IMSI),
		check("historic_msisdn_check", observed.MSISDN, historic.MSISDN),
	}
}

// FirstFailure returns a *dirbserr.ValidationError for the first failing
// result in results, or nil if every check passed.
func FirstFailure(results []CheckResult) error {
	for _, r := range results {
		if !r.Passed {
			return &dirbserr.ValidationError{Check: r.Name, Limit: r.Limit, Observed: r.Observed}
		}
	}
	return nil
}
