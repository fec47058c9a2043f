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
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dirbs-project/dirbs-core/internal/dirbserr"
	"github.com/dirbs-project/dirbs-core/internal/jobs"
	"github.com/dirbs-project/dirbs-core/internal/partition"
	"github.com/dirbs-project/dirbs-core/internal/shard"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

var (
	flagNumPhysicalShards int
	flagJobsCommand       string
	flagJobsStatus        string
	flagJobsLimit         int
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database administration",
}

var dbInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Create the base schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, db, err := adminDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck
		if err := storage.Install(cmd.Context(), db); err != nil {
			return err
		}
		a.log.Info("schema installed", zap.String("version", storage.SchemaVersion))
		return nil
	},
}

var dbUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Apply schema changes for the current version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, db, err := adminDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck
		// Every DDL statement is IF NOT EXISTS, so upgrade is install run
		// against an existing schema: new relations appear, existing ones
		// are left untouched.
		if err := storage.Install(cmd.Context(), db); err != nil {
			return err
		}
		a.log.Info("schema upgraded", zap.String("version", storage.SchemaVersion))
		return nil
	},
}

var dbCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the schema is complete",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, db, err := adminDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck
		missing, err := storage.Check(cmd.Context(), db)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return &dirbserr.SchemaError{Detail: fmt.Sprintf(
				"missing tables: %s (run \"dirbs db install\")", strings.Join(missing, ", "))}
		}
		fmt.Println("schema ok")
		return nil
	},
}

var dbInstallRolesCmd = &cobra.Command{
	Use:   "install_roles",
	Short: "Create the role-scoped identities and their grants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, db, err := adminDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck
		if err := storage.InstallRoles(cmd.Context(), db); err != nil {
			return err
		}
		a.log.Info("roles installed", zap.Strings("roles", storage.Roles))
		return nil
	},
}

var dbRepartitionCmd = &cobra.Command{
	Use:   "repartition",
	Short: "Rebuild the triplet tables with a new physical shard count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, db, err := adminDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		newRanges, err := shard.PhysicalRanges(flagNumPhysicalShards)
		if err != nil {
			return err
		}

		return runJob(ctx, db, a.log, "db", "repartition", a.cfg.DB.User, func(handle *jobs.Handle) (any, error) {
			m := partition.New(db.DB)
			specs := []partition.IndexSpec{{Columns: []string{"triplet_hash"}, Unique: true}}
			for _, table := range []string{storage.TripletsPerMNO, storage.TripletsPerCountry} {
				if err := m.Repartition(ctx, table, newRanges, "", specs, 8); err != nil {
					return nil, err
				}
				a.log.Info("repartitioned", zap.String("table", table), zap.Int("shards", flagNumPhysicalShards))
			}
			return map[string]any{"num_physical_shards": flagNumPhysicalShards}, nil
		})
	},
}

var dbJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List job metadata records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, db, err := adminDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		q := storage.JobQuery{
			Command: flagJobsCommand,
			Status:  storage.JobStatus(flagJobsStatus),
			Limit:   flagJobsLimit,
		}
		rows, err := jobs.List(cmd.Context(), storage.NewJobRepo(db), q)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN_ID\tCOMMAND\tSUBCOMMAND\tSTATUS\tSTART\tEND")
		for _, row := range rows {
			end := ""
			if row.EndTime != nil {
				end = row.EndTime.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				row.RunID, row.Command, row.Subcommand, row.Status,
				row.StartTime.Format("2006-01-02 15:04:05"), end)
		}
		return tw.Flush()
	},
}

func init() {
	dbRepartitionCmd.Flags().IntVar(&flagNumPhysicalShards, "num-physical-shards", 4, "new physical shard count (1..100)")
	dbJobsCmd.Flags().StringVar(&flagJobsCommand, "command", "", "filter by command")
	dbJobsCmd.Flags().StringVar(&flagJobsStatus, "status", "", "filter by status (running|success|error)")
	dbJobsCmd.Flags().IntVar(&flagJobsLimit, "limit", 50, "max rows")
	dbCmd.AddCommand(dbInstallCmd, dbUpgradeCmd, dbCheckCmd, dbInstallRolesCmd, dbRepartitionCmd, dbJobsCmd)
}

func adminDB(cmd *cobra.Command) (*app, *storage.DB, error) {
	a, err := loadApp()
	if err != nil {
		return nil, nil, err
	}
	db, err := a.openDB(cmd.Context(), storage.CapabilityAdmin)
	if err != nil {
		return nil, nil, err
	}
	return a, db, nil
}
