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
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dirbs-project/dirbs-core/internal/jobs"
	"github.com/dirbs-project/dirbs-core/internal/partition"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

var flagRetentionMonths int

// pruneScanMonths bounds how far back the triplet prune looks for month
// partitions to drop. Anything older than this was pruned by an earlier
// run.
const pruneScanMonths = 36

var pruneCmd = &cobra.Command{
	Use:   "prune {triplets|classification_state}",
	Short: "Drop data older than the retention window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := loadApp()
		if err != nil {
			return err
		}
		db, err := a.openDB(ctx, storage.CapabilityAdmin)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		cutoff := today().AddDate(0, -flagRetentionMonths, 0)

		return runJob(ctx, db, a.log, "prune", args[0], a.cfg.DB.User, func(handle *jobs.Handle) (any, error) {
			switch args[0] {
			case "triplets":
				m := partition.New(db.DB)
				dropped := 0
				cur := time.Date(cutoff.Year(), cutoff.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
				for i := 0; i < pruneScanMonths; i++ {
					year, month := cur.Year(), int(cur.Month())
					if err := m.DropPartition(ctx, partition.MonthNodeName(storage.TripletsPerCountry, "", year, month)); err != nil {
						return nil, err
					}
					for _, op := range a.cfg.Operators {
						if err := m.DropPartition(ctx, partition.MonthNodeName(storage.TripletsPerMNO, op.ID, year, month)); err != nil {
							return nil, err
						}
					}
					dropped++
					cur = cur.AddDate(0, -1, 0)
				}
				a.log.Info("triplet partitions pruned",
					zap.String("cutoff", cutoff.Format("2006-01")), zap.Int("months_scanned", dropped))
				return map[string]any{"cutoff": cutoff.Format("2006-01"), "months_scanned": dropped}, nil

			case "classification_state":
				n, err := storage.NewClassificationRepo(db).Prune(ctx, cutoff)
				if err != nil {
					return nil, err
				}
				a.log.Info("classification_state pruned", zap.Int64("rows", n))
				return map[string]any{"rows_deleted": n}, nil

			default:
				return nil, fmt.Errorf("unknown prune target %q", args[0])
			}
		})
	},
}

func init() {
	pruneCmd.Flags().IntVar(&flagRetentionMonths, "retention-months", 6, "months of data to keep")
}
