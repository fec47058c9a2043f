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
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dirbs-project/dirbs-core/internal/collab"
	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/gsma"
	"github.com/dirbs-project/dirbs-core/internal/imeiquery"
	"github.com/dirbs-project/dirbs-core/internal/ingest"
	"github.com/dirbs-project/dirbs-core/internal/jobs"
	"github.com/dirbs-project/dirbs-core/internal/partition"
	"github.com/dirbs-project/dirbs-core/internal/shard"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

var flagStagingDir string

var importCmd = &cobra.Command{
	Use:   "import <type> <path>",
	Short: "Import an operator data file or a reference list",
	Long: `Import type is one of: operator, gsma, registration_list, stolen_list,
pairing_list, barred_list, monitoring_list, association_list.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), args[0], args[1])
	},
}

func init() {
	importCmd.Flags().StringVar(&flagStagingDir, "staging-dir", os.TempDir(), "directory for the ingest staging lock")
}

// zipArchiver implements collab.Archiver over archive/zip for .zip inputs
// and passes bare .csv files straight through.
type zipArchiver struct{}

func (zipArchiver) Extract(_ context.Context, path string) (io.ReadCloser, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return os.Open(path)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	for _, f := range zr.File {
		if strings.EqualFold(filepath.Ext(f.Name), ".csv") {
			rc, err := f.Open()
			if err != nil {
				zr.Close() //nolint:errcheck
				return nil, fmt.Errorf("open archive member %s: %w", f.Name, err)
			}
			return &archiveMember{ReadCloser: rc, zr: zr}, nil
		}
	}
	zr.Close() //nolint:errcheck
	return nil, fmt.Errorf("archive %s contains no CSV member", path)
}

type archiveMember struct {
	io.ReadCloser
	zr *zip.ReadCloser
}

func (m *archiveMember) Close() error {
	err := m.ReadCloser.Close()
	if cerr := m.zr.Close(); err == nil {
		err = cerr
	}
	return err
}

func runImport(ctx context.Context, importType, path string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	capability := storage.CapabilityIngest
	db, err := a.openDB(ctx, capability)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	var archiver collab.Archiver = zipArchiver{}
	data, err := archiver.Extract(ctx, path)
	if err != nil {
		return err
	}
	defer data.Close() //nolint:errcheck

	return runJob(ctx, db, a.log, "import", importType, a.cfg.DB.User, func(handle *jobs.Handle) (any, error) {
		switch importType {
		case "operator":
			return importOperator(ctx, a, db, path, data)
		case "gsma":
			n, err := ingest.ImportGSMA(ctx, data, storage.NewGSMARepo(db))
			return map[string]any{"rows": n}, err
		case "registration_list":
			n, err := ingest.ImportRegistrationList(ctx, data,
				storage.NewHistoricList[imeiquery.RegistrationExtra](db, storage.RegistrationList), today())
			return map[string]any{"rows": n}, err
		case "stolen_list":
			n, err := ingest.ImportStolenList(ctx, data,
				storage.NewHistoricList[imeiquery.StolenExtra](db, storage.StolenList), today())
			return map[string]any{"rows": n}, err
		case "pairing_list":
			n, err := ingest.ImportPairingList(ctx, data,
				storage.NewHistoricList[imeiquery.PairingExtra](db, storage.PairingList), today())
			return map[string]any{"rows": n}, err
		case "barred_list":
			n, err := ingest.ImportBarredList(ctx, data,
				storage.NewHistoricList[ingest.BarredExtra](db, storage.BarredList), today())
			return map[string]any{"rows": n}, err
		case "monitoring_list":
			n, err := ingest.ImportMonitoringList(ctx, data,
				storage.NewHistoricList[ingest.BarredExtra](db, storage.MonitoringList), today())
			return map[string]any{"rows": n}, err
		case "association_list":
			n, err := ingest.ImportAssociationList(ctx, data,
				storage.NewHistoricList[ingest.AssociationExtra](db, storage.AssociationList), today())
			return map[string]any{"rows": n}, err
		default:
			return nil, fmt.Errorf("unknown import type %q", importType)
		}
	})
}

func importOperator(ctx context.Context, a *app, db *storage.DB, path string, data io.Reader) (any, error) {
	fileName := filepath.Base(path)

	ids := make([]string, len(a.cfg.Operators))
	for i, op := range a.cfg.Operators {
		ids[i] = op.ID
	}
	desc, err := ingest.ResolveFile(fileName, ids, today(), a.cfg.ImportSwitches.PerformFileDaterangeCheck, a.log)
	if err != nil {
		return nil, err
	}
	var operator config.Operator
	for _, op := range a.cfg.Operators {
		if op.ID == desc.Operator {
			operator = op
		}
	}

	lock := ingest.NewStagingLock(filepath.Join(flagStagingDir, "dirbs-import-"+operator.ID+".lock"))
	if err := lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer lock.Release() //nolint:errcheck

	advisoryKey := ingest.AdvisoryLockKey("operator:" + operator.ID)
	if err := db.AdvisoryLock(ctx, advisoryKey); err != nil {
		return nil, err
	}
	defer db.AdvisoryUnlock(ctx, advisoryKey) //nolint:errcheck

	if err := ensureTripletPartitions(ctx, a, db, operator.ID, desc.Start, desc.End); err != nil {
		return nil, err
	}

	gsmaCache, err := gsma.New(storage.NewGSMARepo(db), gsma.DefaultCacheSize)
	if err != nil {
		return nil, err
	}

	importer := &ingest.Importer{
		Config:   a.cfg,
		Operator: operator,
		Triplets: storage.NewTripletRepo(db),
		IMEIs:    storage.NewNetworkIMEIRepo(db),
		Sketches: storage.NewHLLRepo(db),
		GSMA:     gsmaCache,
		Log:      a.log,
	}
	result, err := importer.Run(ctx, desc, data)
	if err != nil {
		return nil, err
	}

	a.log.Info("import complete",
		zap.String("operator", result.Operator),
		zap.Int("rows", result.RowsProcessed),
		zap.Int64("inserted", result.Merge.RowsInserted),
		zap.Int64("updated", result.Merge.RowsUpdated))

	return map[string]any{
		"operator":      result.Operator,
		"rows":          result.RowsProcessed,
		"rows_inserted": result.Merge.RowsInserted,
		"rows_updated":  result.Merge.RowsUpdated,
	}, nil
}

// ensureTripletPartitions creates the per-MNO and per-country partition
// chains for every month the file's date range touches. The newest touched
// month gets the writable fillfactor, earlier months the packed one.
func ensureTripletPartitions(ctx context.Context, a *app, db *storage.DB, operatorID string, start, end time.Time) error {
	ranges, err := shard.PhysicalRanges(a.cfg.NumPhysicalShards)
	if err != nil {
		return err
	}
	m := partition.New(db.DB)
	return forEachMonth(start, end, func(year, month int, latest bool) error {
		ff := partition.FillfactorPacked
		if latest {
			ff = partition.FillfactorLatest
		}
		if err := m.EnsureOperatorNode(ctx, storage.TripletsPerMNO, operatorID); err != nil {
			return err
		}
		if err := m.EnsureMonthLeaves(ctx, storage.TripletsPerMNO, operatorID, year, month, ranges, ff, func(r shard.Range) string {
			return ingest.MNOLeafName(operatorID, year, month, r)
		}); err != nil {
			return err
		}
		return m.EnsureMonthLeaves(ctx, storage.TripletsPerCountry, "", year, month, ranges, ff, func(r shard.Range) string {
			return ingest.CountryLeafName(year, month, r)
		})
	})
}

// forEachMonth invokes fn for every (year, month) in [start, end],
// flagging the final month as the latest.
func forEachMonth(start, end time.Time, fn func(year, month int, latest bool) error) error {
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		latest := cur.Equal(last)
		if err := fn(cur.Year(), int(cur.Month()), latest); err != nil {
			return err
		}
		cur = cur.AddDate(0, 1, 0)
	}
	return nil
}

// today is a seam for tests.
var today = func() time.Time { return time.Now().UTC().Truncate(24 * time.Hour) }
