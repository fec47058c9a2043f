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

// Package commands wires the dirbs CLI: one cobra subcommand per job type,
// sharing config loading, logging, and the job-metadata lifecycle.
package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/jobs"
	"github.com/dirbs-project/dirbs-core/internal/logging"
	"github.com/dirbs-project/dirbs-core/internal/storage"
	"github.com/dirbs-project/dirbs-core/internal/workerpool"
)

var (
	flagConfig     string
	flagDBHost     string
	flagDBPort     int
	flagDBDatabase string
	flagDBUser     string
	flagDBPassword string
	flagVerbose    bool
	flagJSONLogs   bool
)

var rootCmd = &cobra.Command{
	Use:           "dirbs",
	Short:         "Device Identifier Registration and Blocking System",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	// Accept underscore spellings (--db_host) for flags documented with
	// dashes, mirroring the underscore style of the config file keys.
	pf.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	pf.StringVar(&flagConfig, "config", "config.toml", "path to the job configuration file")
	pf.StringVar(&flagDBHost, "db-host", "", "database host (overrides config and DIRBS_DB_HOST)")
	pf.IntVar(&flagDBPort, "db-port", 0, "database port (overrides config and DIRBS_DB_PORT)")
	pf.StringVar(&flagDBDatabase, "db-database", "", "database name (overrides config and DIRBS_DB_DATABASE)")
	pf.StringVar(&flagDBUser, "db-user", "", "database user (overrides config and DIRBS_DB_USER)")
	pf.StringVar(&flagDBPassword, "db-password", "", "database password (overrides config and DIRBS_DB_PASSWORD)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&flagJSONLogs, "json-logs", false, "emit JSON log records")

	rootCmd.AddCommand(importCmd, classifyCmd, listgenCmd, reportCmd, dbCmd, pruneCmd)
}

// Execute runs the CLI. Any returned error maps to exit code 1 in main.
func Execute() error {
	return rootCmd.Execute()
}

// app bundles the state every subcommand shares.
type app struct {
	cfg *config.Config
	log *zap.Logger
}

// loadApp reads and validates the configuration, then layers environment
// and flag overrides onto the DB connection parameters. Precedence, lowest
// to highest: config file, environment, flag.
func loadApp() (*app, error) {
	data, err := os.ReadFile(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", flagConfig, err)
	}
	cfg, err := config.Load(data)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg.DB)
	if flagDBHost != "" {
		cfg.DB.Host = flagDBHost
	}
	if flagDBPort != 0 {
		cfg.DB.Port = flagDBPort
	}
	if flagDBDatabase != "" {
		cfg.DB.Database = flagDBDatabase
	}
	if flagDBUser != "" {
		cfg.DB.User = flagDBUser
	}
	if flagDBPassword != "" {
		cfg.DB.Password = flagDBPassword
	}

	log, err := logging.New(logging.Options{Debug: flagVerbose, JSON: flagJSONLogs})
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return &app{cfg: cfg, log: log}, nil
}

// applyEnvOverrides layers the DIRBS_DB_* environment variables onto db,
// mirroring the CLI flags.
func applyEnvOverrides(db *config.DB) {
	if v := os.Getenv("DIRBS_DB_HOST"); v != "" {
		db.Host = v
	}
	if v := os.Getenv("DIRBS_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			db.Port = port
		}
	}
	if v := os.Getenv("DIRBS_DB_DATABASE"); v != "" {
		db.Database = v
	}
	if v := os.Getenv("DIRBS_DB_USER"); v != "" {
		db.User = v
	}
	if v := os.Getenv("DIRBS_DB_PASSWORD"); v != "" {
		db.Password = v
	}
}

// openDB opens a capability-scoped connection pool from the app's resolved
// DB parameters.
func (a *app) openDB(ctx context.Context, cap storage.Capability) (*storage.DB, error) {
	params := storage.ConnParams{
		Host:     a.cfg.DB.Host,
		Port:     a.cfg.DB.Port,
		Database: a.cfg.DB.Database,
		User:     a.cfg.DB.User,
		Password: a.cfg.DB.Password,
	}
	return storage.Open(ctx, cap, params, workerpool.ClampConnections(a.cfg.DB.MaxConns))
}

// runJob wraps fn in a job_metadata record: the job is opened before fn
// runs and closed with success (and fn's metadata) or error afterwards.
func runJob(ctx context.Context, db *storage.DB, log *zap.Logger, command, subcommand string, dbUser string, fn func(handle *jobs.Handle) (any, error)) error {
	repo := storage.NewJobRepo(db)
	handle, err := jobs.Start(ctx, repo, command, subcommand, dbUser)
	if err != nil {
		return err
	}
	log.Info("job started", zap.String("command", command), zap.String("subcommand", subcommand), zap.Int64("run_id", handle.RunID()))

	metadata, err := fn(handle)
	if err != nil {
		if ferr := handle.Fail(ctx, nil, err); ferr != nil {
			log.Warn("record job failure", zap.Error(ferr))
		}
		return err
	}
	if err := handle.Succeed(ctx, metadata); err != nil {
		return err
	}
	log.Info("job finished", zap.Int64("run_id", handle.RunID()))
	return nil
}
