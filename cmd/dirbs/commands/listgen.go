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
	"os"

	"github.com/spf13/cobra"

	"github.com/dirbs-project/dirbs-core/internal/jobs"
	"github.com/dirbs-project/dirbs-core/internal/listgen"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

var listgenCmd = &cobra.Command{
	Use:   "listgen <output_dir>",
	Short: "Regenerate the blacklist, notifications and exceptions lists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		outputDir := args[0]
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		db, err := a.openDB(ctx, storage.CapabilityListgen)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		return runJob(ctx, db, a.log, "listgen", "", a.cfg.DB.User, func(handle *jobs.Handle) (any, error) {
			gen := &listgen.Generator{
				Repo:          storage.NewListgenRepo(db),
				Blacklist:     storage.NewListRepo(db, storage.Blacklist),
				Notifications: storage.NewListRepo(db, storage.Notifications),
				Exceptions:    storage.NewListRepo(db, storage.Exceptions),
				Operators:     a.cfg.Operators,
				Conditions:    a.cfg.Conditions,
				Log:           a.log,
			}
			result, err := gen.Run(ctx, handle.RunID(), today(), outputDir)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"blacklist_size":     result.BlacklistSize,
				"notifications_size": result.NotificationsSize,
				"exceptions_size":    result.ExceptionsSize,
				"blacklist_added":    len(result.BlacklistAdded),
				"blacklist_removed":  len(result.BlacklistRemoved),
				"files":              result.FilesWritten,
			}, nil
		})
	},
}
