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

// Package reports writes the bit-exact CSV report formats. Every
// writer takes plain Go data already assembled by internal/stats,
// internal/classify or internal/storage — this package owns only the wire
// format (RFC-4180, UTF-8, fixed column order), never a query.
//
// FileName* helpers build the literal filename patterns
// so callers (cmd/dirbs) never hand-format a report path.
package reports

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dirbs-project/dirbs-core/internal/stats"
)

// writer wraps encoding/csv with its package defaults: comma-separated,
// LF line endings (UseCRLF is left false), UTF-8 — Go strings are
// already UTF-8.
func newWriter(w io.Writer) *csv.Writer {
	return csv.NewWriter(w)
}

// FileNameStandard builds "<country>_<month>_<year>.csv".
func FileNameStandard(country string, month, year int) string {
	return fmt.Sprintf("%s_%02d_%d.csv", country, month, year)
}

// FileNameConditionCounts builds "<country>_<month>_<year>_condition_counts.csv".
func FileNameConditionCounts(country string, month, year int) string {
	return fmt.Sprintf("%s_%02d_%d_condition_counts.csv", country, month, year)
}

// FileNameGSMANotFound builds "<country>_<month>_<year>_gsma_not_found.csv".
func FileNameGSMANotFound(country string, month, year int) string {
	return fmt.Sprintf("%s_%02d_%d_gsma_not_found.csv", country, month, year)
}

// FileNameDuplicates builds "<country>_<month>_<year>_duplicates.csv".
func FileNameDuplicates(country string, month, year int) string {
	return fmt.Sprintf("%s_%02d_%d_duplicates.csv", country, month, year)
}

// FileNameConditionIMEIOverlap builds
// "<country>_<month>_<year>_condition_imei_overlap_<cond>.csv".
func FileNameConditionIMEIOverlap(country string, month, year int, cond string) string {
	return fmt.Sprintf("%s_%02d_%d_condition_imei_overlap_%s.csv", country, month, year, cond)
}

// WriteStandard writes the per-TAC compliance table:
// TAC, <cond_labels>..., num_imeis, num_imei_gross_adds, num_imei_imsis,
// num_imei_msisdns, num_subscriber_triplets, compliance_level.
// conditionLabels must be given in a fixed order ((blocking DESC,
// label ASC) is the natural choice) so the header and every row align
// across report runs.
func WriteStandard(w io.Writer, conditionLabels []string, rows []stats.ComplianceStat) error {
	cw := newWriter(w)
	header := append([]string{"TAC"}, conditionLabels...)
	header = append(header, "num_imeis", "num_imei_gross_adds", "num_imei_imsis",
		"num_imei_msisdns", "num_subscriber_triplets", "compliance_level")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("reports: write standard header: %w", err)
	}

	for _, r := range rows {
		row := make([]string, 0, len(header))
		row = append(row, r.TAC)
		for _, label := range conditionLabels {
			row = append(row, strconv.FormatBool(r.Conditions[label]))
		}
		row = append(row,
			strconv.FormatInt(r.NumIMEIs, 10),
			strconv.FormatInt(r.NumGrossAdds, 10),
			strconv.FormatInt(r.NumIMEIIMSIs, 10),
			strconv.FormatInt(r.NumIMEIMSISDNs, 10),
			strconv.FormatInt(r.NumSubscriberTriplets, 10),
			strconv.Itoa(int(complianceLevel(r))),
		)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("reports: write standard row %s: %w", r.TAC, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// complianceLevel derives the three-way bucket from a
// ComplianceStat's exact counts: 0 if any IMEI matched a blocking
// condition, 1 if only informative conditions matched, 2 if fully
// compliant. A TAC mixes IMEIs at different per-IMEI levels; the report
// row takes the TAC's worst (most-blocked) level present, matching the
// "any blocking condition matched" rule.
func complianceLevel(r stats.ComplianceStat) stats.ComplianceLevel {
	if r.NonCompliant > 0 {
		return stats.NonCompliant
	}
	if r.Informational > 0 {
		return stats.Informational
	}
	return stats.Compliant
}

// WriteConditionCounts writes the condition-combination table: the same
// columns as WriteStandard minus TAC, one row per distinct combination of
// matched condition labels, keyed implicitly by the per-label boolean
// columns themselves. blocking reports, for each condition
// label, whether it is a blocking condition, used to derive
// compliance_level for the combination.
func WriteConditionCounts(w io.Writer, conditionLabels []string, blocking map[string]bool, rows []stats.ComplianceStat) error {
	type bucket struct {
		conditions            map[string]bool
		numIMEIs              int64
		numGrossAdds          int64
		numIMEIIMSIs          int64
		numIMEIMSISDNs        int64
		numSubscriberTriplets int64
	}
	byCombo := map[string]*bucket{}
	var order []string
	for _, r := range rows {
		combo := comboKey(conditionLabels, r.Conditions)
		b, ok := byCombo[combo]
		if !ok {
			b = &bucket{conditions: r.Conditions}
			byCombo[combo] = b
			order = append(order, combo)
		}
		b.numIMEIs += r.NumIMEIs
		b.numGrossAdds += r.NumGrossAdds
		b.numIMEIIMSIs += r.NumIMEIIMSIs
		b.numIMEIMSISDNs += r.NumIMEIMSISDNs
		b.numSubscriberTriplets += r.NumSubscriberTriplets
	}
	sort.Strings(order)

	cw := newWriter(w)
	header := append([]string{}, conditionLabels...)
	header = append(header, "num_imeis", "num_imei_gross_adds", "num_imei_imsis",
		"num_imei_msisdns", "num_subscriber_triplets", "compliance_level")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("reports: write condition_counts header: %w", err)
	}

	for _, combo := range order {
		b := byCombo[combo]
		row := make([]string, 0, len(header))
		for _, label := range conditionLabels {
			row = append(row, strconv.FormatBool(b.conditions[label]))
		}
		row = append(row,
			strconv.FormatInt(b.numIMEIs, 10),
			strconv.FormatInt(b.numGrossAdds, 10),
			strconv.FormatInt(b.numIMEIIMSIs, 10),
			strconv.FormatInt(b.numIMEIMSISDNs, 10),
			strconv.FormatInt(b.numSubscriberTriplets, 10),
			strconv.Itoa(int(comboComplianceLevel(b.conditions, blocking))),
		)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("reports: write condition_counts row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// comboComplianceLevel derives the compliance_level for a condition
// combination: NonCompliant if any matched label is a blocking condition,
// Informational if something matched but nothing blocking, Compliant if
// nothing matched (the same three-way bucket, per combination rather
// than per TAC).
func comboComplianceLevel(matched, blocking map[string]bool) stats.ComplianceLevel {
	anyMatched := false
	for label, isMatched := range matched {
		if !isMatched {
			continue
		}
		anyMatched = true
		if blocking[label] {
			return stats.NonCompliant
		}
	}
	if anyMatched {
		return stats.Informational
	}
	return stats.Compliant
}

// comboKey renders the set of matched condition labels, in conditionLabels
// order, as a stable string such as "gsma_not_found+duplicate_threshold"
// (or "none" if nothing matched), used to bucket rows and to order the
// output rows; the key itself is not written as a column.
func comboKey(conditionLabels []string, matched map[string]bool) string {
	var parts []string
	for _, label := range conditionLabels {
		if matched[label] {
			parts = append(parts, label)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// WriteIMEIList writes a single-column IMEI report: gsma_not_found.csv and
// any other "IMEI" header, one-column report.
func WriteIMEIList(w io.Writer, imeis []string) error {
	cw := newWriter(w)
	if err := cw.Write([]string{"IMEI"}); err != nil {
		return fmt.Errorf("reports: write imei list header: %w", err)
	}
	for _, imei := range imeis {
		if err := cw.Write([]string{imei}); err != nil {
			return fmt.Errorf("reports: write imei list row %s: %w", imei, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// DuplicateRow is one row of <...>_duplicates.csv: an IMEI and the number
// of distinct IMSIs it was seen with.
type DuplicateRow struct {
	IMEI      string
	IMSICount int
}

// WriteDuplicates writes "IMEI, IMSI count".
func WriteDuplicates(w io.Writer, rows []DuplicateRow) error {
	cw := newWriter(w)
	if err := cw.Write([]string{"IMEI", "IMSI count"}); err != nil {
		return fmt.Errorf("reports: write duplicates header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.IMEI, strconv.Itoa(r.IMSICount)}); err != nil {
			return fmt.Errorf("reports: write duplicates row %s: %w", r.IMEI, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// OverlapRow is one row of condition_imei_overlap_<cond>.csv: an IMEI and
// the operators that observed it, pipe-delimited.
type OverlapRow struct {
	IMEI      string
	Operators []string
}

// WriteConditionIMEIOverlap writes "IMEI, Operators" with Operators
// pipe-delimited.
func WriteConditionIMEIOverlap(w io.Writer, rows []OverlapRow) error {
	cw := newWriter(w)
	if err := cw.Write([]string{"IMEI", "Operators"}); err != nil {
		return fmt.Errorf("reports: write overlap header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.IMEI, strings.Join(r.Operators, "|")}); err != nil {
			return fmt.Errorf("reports: write overlap row %s: %w", r.IMEI, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
