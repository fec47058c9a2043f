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

package reports

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// FileNameStolenViolations builds "stolen_violations_<op>.csv".
func FileNameStolenViolations(operator string) string { return fmt.Sprintf("stolen_violations_%s.csv", operator) }

// FileNameBlacklistViolations builds "blacklist_violations_<op>.csv".
func FileNameBlacklistViolations(operator string) string {
	return fmt.Sprintf("blacklist_violations_%s.csv", operator)
}

// FileNameAssociationViolations builds "association_violations_<op>.csv".
func FileNameAssociationViolations(operator string) string {
	return fmt.Sprintf("association_violations_%s.csv", operator)
}

// FileNameNonActivePairs builds "non_active_pairs_<YYYY-MM-DD>.csv".
func FileNameNonActivePairs(date time.Time) string {
	return fmt.Sprintf("non_active_pairs_%s.csv", date.Format("2006-01-02"))
}

// FileNameUnregisteredSubscribers builds "unregistered_subscribers_<op>.csv".
func FileNameUnregisteredSubscribers(operator string) string {
	return fmt.Sprintf("unregistered_subscribers_%s.csv", operator)
}

// FileNameClassifiedTriplets builds "classified_triplets_<cond>.csv".
func FileNameClassifiedTriplets(cond string) string { return fmt.Sprintf("classified_triplets_%s.csv", cond) }

// FileNameTransientMSISDNs builds "transient_msisdns_<op>.csv".
func FileNameTransientMSISDNs(operator string) string { return fmt.Sprintf("transient_msisdns_%s.csv", operator) }

// ViolationRow is one IMEI seen on the network violating a reference list
// (stolen, blacklist, or association), carrying the triplet it was last
// observed with so an investigator can trace it back to an operator event.
type ViolationRow struct {
	IMEI   string
	IMSI   string
	MSISDN string
}

// writeIMEITripletRows is the shared "IMEI, IMSI, MSISDN" shape of the
// stolen/blacklist/association violation reports and
// unregistered_subscribers.
func writeIMEITripletRows(w io.Writer, header []string, rows []ViolationRow) error {
	cw := newWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("reports: write %v header: %w", header, err)
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.IMEI, r.IMSI, r.MSISDN}); err != nil {
			return fmt.Errorf("reports: write row %s: %w", r.IMEI, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteStolenViolations writes stolen_violations_<op>.csv: every IMEI seen
// on operator's network with an active stolen_list entry.
func WriteStolenViolations(w io.Writer, rows []ViolationRow) error {
	return writeIMEITripletRows(w, []string{"IMEI", "IMSI", "MSISDN"}, rows)
}

// WriteBlacklistViolations writes blacklist_violations_<op>.csv: every IMEI
// seen on operator's network despite being on the active blacklist.
func WriteBlacklistViolations(w io.Writer, rows []ViolationRow) error {
	return writeIMEITripletRows(w, []string{"IMEI", "IMSI", "MSISDN"}, rows)
}

// WriteAssociationViolations writes association_violations_<op>.csv: every
// IMEI seen on operator's network not on the device association list
// (the not_on_association_list rule).
func WriteAssociationViolations(w io.Writer, rows []ViolationRow) error {
	return writeIMEITripletRows(w, []string{"IMEI", "IMSI", "MSISDN"}, rows)
}

// NonActivePairRow is one pairing-list (IMEI, IMSI, MSISDN) entry that was
// not observed on the network triplet store on the report date.
type NonActivePairRow struct {
	IMEI   string
	IMSI   string
	MSISDN string
}

// WriteNonActivePairs writes non_active_pairs_<date>.csv.
func WriteNonActivePairs(w io.Writer, rows []NonActivePairRow) error {
	cw := newWriter(w)
	if err := cw.Write([]string{"IMEI", "IMSI", "MSISDN"}); err != nil {
		return fmt.Errorf("reports: write non_active_pairs header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.IMEI, r.IMSI, r.MSISDN}); err != nil {
			return fmt.Errorf("reports: write non_active_pairs row %s: %w", r.IMEI, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteUnregisteredSubscribers writes unregistered_subscribers_<op>.csv:
// every (IMEI, IMSI, MSISDN) triplet observed on operator's network whose
// IMEI has no current registration_list row.
func WriteUnregisteredSubscribers(w io.Writer, rows []ViolationRow) error {
	return writeIMEITripletRows(w, []string{"IMEI", "IMSI", "MSISDN"}, rows)
}

// ClassifiedTripletRow is one triplet matched by a condition during
// classification, for classified_triplets_<cond>.csv's audit trail.
type ClassifiedTripletRow struct {
	IMEI       string
	IMSI       string
	MSISDN     string
	OperatorID string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// WriteClassifiedTriplets writes classified_triplets_<cond>.csv.
func WriteClassifiedTriplets(w io.Writer, rows []ClassifiedTripletRow) error {
	cw := newWriter(w)
	if err := cw.Write([]string{"IMEI", "IMSI", "MSISDN", "Operator", "FirstSeen", "LastSeen"}); err != nil {
		return fmt.Errorf("reports: write classified_triplets header: %w", err)
	}
	for _, r := range rows {
		row := []string{r.IMEI, r.IMSI, r.MSISDN, r.OperatorID,
			r.FirstSeen.Format("2006-01-02"), r.LastSeen.Format("2006-01-02")}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("reports: write classified_triplets row %s: %w", r.IMEI, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// TransientMSISDNRow is one MSISDN implicated in the transient_imei
// dimension's arithmetic-progression match:
// the MSISDN and the ordered IMEIs it was paired with during the window.
type TransientMSISDNRow struct {
	MSISDN string
	IMEIs  []string
}

// WriteTransientMSISDNs writes transient_msisdns_<op>.csv: "MSISDN, IMEI
// count, IMEIs" with IMEIs pipe-delimited in the order observed.
func WriteTransientMSISDNs(w io.Writer, rows []TransientMSISDNRow) error {
	cw := newWriter(w)
	if err := cw.Write([]string{"MSISDN", "IMEI count", "IMEIs"}); err != nil {
		return fmt.Errorf("reports: write transient_msisdns header: %w", err)
	}
	for _, r := range rows {
		row := []string{r.MSISDN, strconv.Itoa(len(r.IMEIs)), strings.Join(r.IMEIs, "|")}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("reports: write transient_msisdns row %s: %w", r.MSISDN, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
