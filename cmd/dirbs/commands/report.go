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

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dirbs-project/dirbs-core/internal/dimension"
	"github.com/dirbs-project/dirbs-core/internal/jobs"
	"github.com/dirbs-project/dirbs-core/internal/metrics"
	"github.com/dirbs-project/dirbs-core/internal/reports"
	"github.com/dirbs-project/dirbs-core/internal/stats"
	"github.com/dirbs-project/dirbs-core/internal/storage"
	"github.com/dirbs-project/dirbs-core/internal/workerpool"
)

// transientMinIMEIs is the neighbor-count floor for the transient-MSISDN
// report: an arithmetic progression needs at least three members.
const transientMinIMEIs = 3

var flagTopDuplicatesLimit int

var reportCmd = &cobra.Command{
	Use:   "report <type> <month> <year> <output_dir>",
	Short: "Generate a monthly CSV report",
	Long: `Report type is one of: standard, gsma_not_found, top_duplicates,
condition_imei_overlaps, stolen_violations, blacklist_violations,
association_violations, non_active_pairs, unregistered_subscribers,
classified_triplets, transient_msisdns.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		reportType := args[0]
		month, err := strconv.Atoi(args[1])
		if err != nil || month < 1 || month > 12 {
			return fmt.Errorf("month %q must be 1..12", args[1])
		}
		year, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("year %q: %v", args[2], err)
		}
		outputDir := args[3]
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		return runReport(cmd.Context(), reportType, month, year, outputDir)
	},
}

func init() {
	reportCmd.Flags().IntVar(&flagTopDuplicatesLimit, "limit", 50, "row cap for the top_duplicates report")
}

func runReport(ctx context.Context, reportType string, month, year int, outputDir string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	db, err := a.openDB(ctx, storage.CapabilityReport)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	repo := storage.NewReportRepo(db)
	country := a.cfg.Country
	labels, blocking := conditionOrder(a)

	return runJob(ctx, db, a.log, "report", reportType, a.cfg.DB.User, func(handle *jobs.Handle) (any, error) {
		switch reportType {
		case "standard":
			agg := &stats.Aggregator{
				Repo:       storage.NewStatsRepo(db),
				Metrics:    metrics.NewRegistry(),
				MaxWorkers: workerpool.ClampConnections(a.cfg.DB.MaxConns),
			}
			rep, err := agg.Generate(ctx, year, month, blocking)
			if err != nil {
				return nil, err
			}
			if err := writeReportFile(outputDir, reports.FileNameStandard(country, month, year), func(w io.Writer) error {
				return reports.WriteStandard(w, labels, rep.Compliance)
			}); err != nil {
				return nil, err
			}
			if err := writeReportFile(outputDir, reports.FileNameConditionCounts(country, month, year), func(w io.Writer) error {
				return reports.WriteConditionCounts(w, labels, blocking, rep.Compliance)
			}); err != nil {
				return nil, err
			}
			return map[string]any{"tacs": len(rep.Compliance), "gross_adds": rep.GrossAdds}, nil

		case "gsma_not_found":
			imeis, err := repo.GSMANotFoundIMEIs(ctx, year, month)
			if err != nil {
				return nil, err
			}
			err = writeReportFile(outputDir, reports.FileNameGSMANotFound(country, month, year), func(w io.Writer) error {
				return reports.WriteIMEIList(w, imeis)
			})
			return map[string]any{"imeis": len(imeis)}, err

		case "top_duplicates":
			rows, err := repo.TopDuplicates(ctx, year, month, flagTopDuplicatesLimit)
			if err != nil {
				return nil, err
			}
			dup := make([]reports.DuplicateRow, len(rows))
			for i, r := range rows {
				dup[i] = reports.DuplicateRow{IMEI: r.IMEINorm, IMSICount: int(r.IMSICount)}
			}
			err = writeReportFile(outputDir, reports.FileNameDuplicates(country, month, year), func(w io.Writer) error {
				return reports.WriteDuplicates(w, dup)
			})
			return map[string]any{"imeis": len(dup)}, err

		case "condition_imei_overlaps":
			written := map[string]int{}
			for _, label := range labels {
				rows, err := repo.ConditionIMEIOperators(ctx, label, year, month)
				if err != nil {
					return nil, err
				}
				overlaps := groupOverlaps(rows)
				if err := writeReportFile(outputDir, reports.FileNameConditionIMEIOverlap(country, month, year, label), func(w io.Writer) error {
					return reports.WriteConditionIMEIOverlap(w, overlaps)
				}); err != nil {
					return nil, err
				}
				written[label] = len(overlaps)
			}
			return written, nil

		case "stolen_violations":
			return perOperatorViolations(ctx, a, repo.StolenViolations, year, month, outputDir,
				reports.FileNameStolenViolations, reports.WriteStolenViolations)

		case "blacklist_violations":
			return perOperatorViolations(ctx, a, repo.BlacklistViolations, year, month, outputDir,
				reports.FileNameBlacklistViolations, reports.WriteBlacklistViolations)

		case "association_violations":
			return perOperatorViolations(ctx, a, repo.AssociationViolations, year, month, outputDir,
				reports.FileNameAssociationViolations, reports.WriteAssociationViolations)

		case "unregistered_subscribers":
			return perOperatorViolations(ctx, a, repo.UnregisteredSubscribers, year, month, outputDir,
				reports.FileNameUnregisteredSubscribers, reports.WriteUnregisteredSubscribers)

		case "non_active_pairs":
			rows, err := repo.NonActivePairs(ctx, year, month)
			if err != nil {
				return nil, err
			}
			pairs := make([]reports.NonActivePairRow, len(rows))
			for i, r := range rows {
				pairs[i] = reports.NonActivePairRow{IMEI: r.IMEINorm, IMSI: derefStr(r.IMSI), MSISDN: derefStr(r.MSISDN)}
			}
			err = writeReportFile(outputDir, reports.FileNameNonActivePairs(today()), func(w io.Writer) error {
				return reports.WriteNonActivePairs(w, pairs)
			})
			return map[string]any{"pairs": len(pairs)}, err

		case "classified_triplets":
			written := map[string]int{}
			for _, label := range labels {
				rows, err := repo.ClassifiedTriplets(ctx, label, year, month)
				if err != nil {
					return nil, err
				}
				out := make([]reports.ClassifiedTripletRow, 0, len(rows))
				for _, r := range rows {
					out = append(out, reports.ClassifiedTripletRow{
						IMEI: r.IMEINorm, IMSI: derefStr(r.IMSI), MSISDN: derefStr(r.MSISDN),
						OperatorID: r.OperatorID, FirstSeen: r.FirstSeen, LastSeen: r.LastSeen,
					})
				}
				if err := writeReportFile(outputDir, reports.FileNameClassifiedTriplets(label), func(w io.Writer) error {
					return reports.WriteClassifiedTriplets(w, out)
				}); err != nil {
					return nil, err
				}
				written[label] = len(out)
			}
			return written, nil

		case "transient_msisdns":
			written := map[string]int{}
			for _, op := range a.cfg.Operators {
				rows, err := repo.MultiIMEIMSISDNs(ctx, op.ID, year, month, transientMinIMEIs)
				if err != nil {
					return nil, err
				}
				transient := transientRows(rows)
				if err := writeReportFile(outputDir, reports.FileNameTransientMSISDNs(op.ID), func(w io.Writer) error {
					return reports.WriteTransientMSISDNs(w, transient)
				}); err != nil {
					return nil, err
				}
				written[op.ID] = len(transient)
			}
			return written, nil

		default:
			return nil, fmt.Errorf("unknown report type %q", reportType)
		}
	})
}

// conditionOrder returns the configured condition labels ordered blocking
// first, then alphabetically, plus the label → blocking map the compliance
// roll-up needs.
func conditionOrder(a *app) ([]string, map[string]bool) {
	blocking := make(map[string]bool, len(a.cfg.Conditions))
	labels := make([]string, 0, len(a.cfg.Conditions))
	for _, c := range a.cfg.Conditions {
		blocking[c.Label] = c.Blocking
		labels = append(labels, c.Label)
	}
	sort.SliceStable(labels, func(i, j int) bool {
		if blocking[labels[i]] != blocking[labels[j]] {
			return blocking[labels[i]]
		}
		return labels[i] < labels[j]
	})
	return labels, blocking
}

func groupOverlaps(rows []storage.ConditionIMEIOperatorRow) []reports.OverlapRow {
	byIMEI := map[string][]string{}
	var order []string
	for _, r := range rows {
		if _, seen := byIMEI[r.IMEINorm]; !seen {
			order = append(order, r.IMEINorm)
		}
		byIMEI[r.IMEINorm] = append(byIMEI[r.IMEINorm], r.OperatorID)
	}
	out := make([]reports.OverlapRow, len(order))
	for i, imei := range order {
		out[i] = reports.OverlapRow{IMEI: imei, Operators: byIMEI[imei]}
	}
	return out
}

// transientRows groups (msisdn, imei) pairs by MSISDN and keeps the groups
// whose IMEIs form an arithmetic progression.
func transientRows(rows []storage.MSISDNIMEIRow) []reports.TransientMSISDNRow {
	byMSISDN := map[string][]string{}
	var order []string
	for _, r := range rows {
		if _, seen := byMSISDN[r.MSISDN]; !seen {
			order = append(order, r.MSISDN)
		}
		byMSISDN[r.MSISDN] = append(byMSISDN[r.MSISDN], r.IMEINorm)
	}
	var out []reports.TransientMSISDNRow
	for _, msisdn := range order {
		imeis := byMSISDN[msisdn]
		if dimension.IsArithmeticProgression(imeis) {
			out = append(out, reports.TransientMSISDNRow{MSISDN: msisdn, IMEIs: imeis})
		}
	}
	return out
}

func perOperatorViolations(
	ctx context.Context,
	a *app,
	query func(context.Context, string, int, int) ([]storage.ViolationTripletRow, error),
	year, month int,
	outputDir string,
	fileName func(string) string,
	write func(io.Writer, []reports.ViolationRow) error,
) (any, error) {
	written := map[string]int{}
	for _, op := range a.cfg.Operators {
		rows, err := query(ctx, op.ID, year, month)
		if err != nil {
			return nil, err
		}
		out := make([]reports.ViolationRow, len(rows))
		for i, r := range rows {
			out[i] = reports.ViolationRow{IMEI: r.IMEINorm, IMSI: derefStr(r.IMSI), MSISDN: derefStr(r.MSISDN)}
		}
		if err := writeReportFile(outputDir, fileName(op.ID), func(w io.Writer) error {
			return write(w, out)
		}); err != nil {
			return nil, err
		}
		written[op.ID] = len(out)
	}
	return written, nil
}

func writeReportFile(dir, name string, write func(io.Writer) error) error {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
