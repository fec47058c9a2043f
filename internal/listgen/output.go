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

package listgen

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

const snapshotDateLayout = "2006-01-02"

// FileNameBlacklist builds "blacklist_<YYYY-MM-DD>.csv".
func FileNameBlacklist(date time.Time) string {
	return fmt.Sprintf("blacklist_%s.csv", date.Format(snapshotDateLayout))
}

// FileNameNotifications builds "notifications_<operator>_<YYYY-MM-DD>.csv".
func FileNameNotifications(operator string, date time.Time) string {
	return fmt.Sprintf("notifications_%s_%s.csv", operator, date.Format(snapshotDateLayout))
}

// FileNameExceptions builds "exceptions_<operator>_<YYYY-MM-DD>.csv".
func FileNameExceptions(operator string, date time.Time) string {
	return fmt.Sprintf("exceptions_%s_%s.csv", operator, date.Format(snapshotDateLayout))
}

// WriteBlacklist writes "imei,block_date,reasons" rows, reasons
// pipe-delimited, block_date in YYYYMMDD form.
func WriteBlacklist(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"imei", "block_date", "reasons"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.IMEINorm, e.BlockDate.Format("20060102"), strings.Join(e.Reasons, "|")}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteNotifications writes "imei,imsi,msisdn,block_date,reasons" rows for
// one operator: the operator's pairings joined against the pending-block
// entries.
func WriteNotifications(w io.Writer, entries map[string]Entry, pairings []storage.TripletPairing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"imei", "imsi", "msisdn", "block_date", "reasons"}); err != nil {
		return err
	}
	for _, p := range pairings {
		e, ok := entries[p.IMEINorm]
		if !ok {
			continue
		}
		rec := []string{p.IMEINorm, deref(p.IMSI), deref(p.MSISDN), e.BlockDate.Format("20060102"), strings.Join(e.Reasons, "|")}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteExceptions writes "imei,imsi" rows.
func WriteExceptions(w io.Writer, pairings []storage.TripletPairing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"imei", "imsi"}); err != nil {
		return err
	}
	for _, p := range pairings {
		if err := cw.Write([]string{p.IMEINorm, deref(p.IMSI)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// writeSnapshots produces the country blacklist CSV plus per-operator
// notifications and exceptions CSVs under outputDir, returning the paths
// written.
func (g *Generator) writeSnapshots(ctx context.Context, blocked, pending []Entry, pairs []storage.TripletPairing, currDate time.Time, outputDir string) ([]string, error) {
	var files []string

	blPath := filepath.Join(outputDir, FileNameBlacklist(currDate))
	if err := writeFile(blPath, func(w io.Writer) error { return WriteBlacklist(w, blocked) }); err != nil {
		return nil, fmt.Errorf("listgen: write blacklist: %w", err)
	}
	files = append(files, blPath)

	pendingByIMEI := make(map[string]Entry, len(pending))
	for _, e := range pending {
		pendingByIMEI[e.IMEINorm] = e
	}

	year, month, ok, err := g.Repo.LatestTripletMonth(ctx)
	if err != nil {
		return nil, fmt.Errorf("listgen: %w", err)
	}

	for _, op := range g.Operators {
		var pairings []storage.TripletPairing
		if ok {
			pairings, err = g.Repo.PendingBlockPairings(ctx, op.ID, year, month, currDate)
			if err != nil {
				return nil, fmt.Errorf("listgen: %w", err)
			}
		}
		nPath := filepath.Join(outputDir, FileNameNotifications(op.ID, currDate))
		if err := writeFile(nPath, func(w io.Writer) error { return WriteNotifications(w, pendingByIMEI, pairings) }); err != nil {
			return nil, fmt.Errorf("listgen: write notifications for %s: %w", op.ID, err)
		}
		files = append(files, nPath)

		opPairs := pairsForOperator(pairs, op, g.Operators)
		ePath := filepath.Join(outputDir, FileNameExceptions(op.ID, currDate))
		if err := writeFile(ePath, func(w io.Writer) error { return WriteExceptions(w, opPairs) }); err != nil {
			return nil, fmt.Errorf("listgen: write exceptions for %s: %w", op.ID, err)
		}
		files = append(files, ePath)
	}

	return files, nil
}

// pairsForOperator filters pairing-list pairs to those whose IMSI belongs
// to op. Pairs with no IMSI (or an IMSI no operator claims) go to every
// operator's file so an exempted device is never blocked for lack of a
// routable prefix.
func pairsForOperator(pairs []storage.TripletPairing, op config.Operator, all []config.Operator) []storage.TripletPairing {
	var out []storage.TripletPairing
	for _, p := range pairs {
		if p.IMSI == nil {
			out = append(out, p)
			continue
		}
		owner := operatorForIMSI(*p.IMSI, all)
		if owner == "" || owner == op.ID {
			out = append(out, p)
		}
	}
	return out
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
