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

	"github.com/dirbs-project/dirbs-core/internal/classify"
	"github.com/dirbs-project/dirbs-core/internal/gsma"
	"github.com/dirbs-project/dirbs-core/internal/jobs"
	"github.com/dirbs-project/dirbs-core/internal/storage"
	"github.com/dirbs-project/dirbs-core/internal/workerpool"
)

var (
	flagCurrDate      string
	flagNoSafetyCheck bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Evaluate every configured condition and update classification state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := loadApp()
		if err != nil {
			return err
		}

		currDate := today()
		if flagCurrDate != "" {
			currDate, err = time.Parse("20060102", flagCurrDate)
			if err != nil {
				return fmt.Errorf("--curr-date: %w", err)
			}
		}

		db, err := a.openDB(ctx, storage.CapabilityClassify)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		gsmaCache, err := gsma.New(storage.NewGSMARepo(db), gsma.DefaultCacheSize)
		if err != nil {
			return err
		}

		return runJob(ctx, db, a.log, "classify", "", a.cfg.DB.User, func(handle *jobs.Handle) (any, error) {
			engine := &classify.Engine{
				Config:        a.cfg,
				ClassRepo:     storage.NewClassificationRepo(db),
				DimRepo:       storage.NewDimensionRepo(db),
				GSMACache:     gsmaCache,
				MaxDBConns:    workerpool.ClampConnections(a.cfg.DB.MaxConns),
				NoSafetyCheck: flagNoSafetyCheck,
			}
			result, err := engine.Classify(ctx, currDate)
			if err != nil {
				return nil, err
			}

			matchedCounts := map[string]int{}
			var failures []string
			for _, cr := range result.Conditions {
				if cr.Err != nil {
					failures = append(failures, cr.Err.Error())
					a.log.Warn("condition failed", zap.String("condition", cr.Label), zap.Error(cr.Err))
					continue
				}
				matchedCounts[cr.Label] = cr.MatchedCount
				a.log.Info("condition classified",
					zap.String("condition", cr.Label),
					zap.Int("matched", cr.MatchedCount),
					zap.Int("opened", cr.Opened),
					zap.Int("closed", cr.Closed))
			}

			metadata := map[string]any{
				"curr_date":           currDate.Format("20060102"),
				"matched_imei_counts": matchedCounts,
			}
			if len(failures) > 0 {
				metadata["condition_errors"] = failures
			}
			return metadata, nil
		})
	},
}

func init() {
	classifyCmd.Flags().StringVar(&flagCurrDate, "curr-date", "", "classification date as YYYYMMDD (default today)")
	classifyCmd.Flags().BoolVar(&flagNoSafetyCheck, "no-safety-check", false, "skip the newly-matched-IMEIs safety threshold")
}
