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

package storage

import (
	"context"
	"fmt"
)

// tripletColumns is the shared column set of both triplet parents.
const tripletColumns = `
	operator_id     TEXT,
	year            INT NOT NULL,
	month           INT NOT NULL,
	triplet_hash    BIGINT NOT NULL,
	imei_norm       TEXT,
	imsi            TEXT,
	msisdn          TEXT,
	first_seen      DATE NOT NULL,
	last_seen       DATE NOT NULL,
	date_bitmask    INT NOT NULL,
	virt_imei_shard SMALLINT NOT NULL`

// schemaDDL is every base relation, parents first. Partition leaves are
// created separately (at install time for the current month, at import
// time for any month a file touches) via internal/partition.
var schemaDDL = []string{
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s) PARTITION BY LIST (operator_id)`,
		TripletsPerMNO, tripletColumns),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s) PARTITION BY RANGE (year, month)`,
		TripletsPerCountry, tripletColumns),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	imei_norm        TEXT PRIMARY KEY,
	first_seen       DATE NOT NULL,
	last_seen        DATE NOT NULL,
	seen_rat_bitmask INT NOT NULL DEFAULT 0,
	virt_imei_shard  SMALLINT NOT NULL)`, NetworkIMEIs),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	data_date        DATE NOT NULL,
	operator_id      TEXT NOT NULL,
	triplet_hll      BYTEA NOT NULL,
	imei_hll         BYTEA NOT NULL,
	imsi_hll         BYTEA NOT NULL,
	msisdn_hll       BYTEA NOT NULL,
	imei_imsi_hll    BYTEA NOT NULL,
	imei_msisdn_hll  BYTEA NOT NULL,
	imsi_msisdn_hll  BYTEA NOT NULL,
	PRIMARY KEY (data_date, operator_id))`, DailyPerMNOHLLSketches),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	imei_norm  TEXT NOT NULL,
	cond_name  TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date   DATE,
	block_date DATE)`, ClassificationState),

	fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS classification_state_active_idx
	ON %s (imei_norm, cond_name) WHERE end_date IS NULL`, ClassificationState),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	tac          TEXT PRIMARY KEY,
	manufacturer TEXT NOT NULL,
	model_name   TEXT NOT NULL,
	device_type  TEXT,
	rat_bitmask  INT NOT NULL DEFAULT 0)`, GSMAData),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	command        TEXT NOT NULL,
	subcommand     TEXT NOT NULL DEFAULT '',
	db_user        TEXT NOT NULL,
	start_time     TIMESTAMPTZ NOT NULL,
	end_time       TIMESTAMPTZ,
	status         TEXT NOT NULL,
	extra_metadata BYTEA,
	metadata_gzip  BOOLEAN NOT NULL DEFAULT FALSE)`, JobMetadata),
}

// historicListDDL is the shared shape of every reference list.
func historicListDDL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	imei_norm  TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date   DATE,
	extra      JSONB)`, table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_current_idx
	ON %s (imei_norm) WHERE end_date IS NULL`, table, table),
	}
}

// versionedListDDL is the shared shape of the three generated lists.
func versionedListDDL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	imei_norm    TEXT NOT NULL,
	start_run_id BIGINT NOT NULL,
	end_run_id   BIGINT)`, table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_active_idx
	ON %s (imei_norm) WHERE end_run_id IS NULL`, table, table),
	}
}

// Install creates every base relation. Partition leaves for triplet months
// are created separately, keyed to the months actually ingested.
func Install(ctx context.Context, db *DB) error {
	ddl := append([]string{}, schemaDDL...)
	for _, table := range []string{RegistrationList, StolenList, PairingList, BarredList, MonitoringList, AssociationList} {
		ddl = append(ddl, historicListDDL(table)...)
	}
	for _, table := range []string{Blacklist, Exceptions, Notifications} {
		ddl = append(ddl, versionedListDDL(table)...)
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: install schema: %w", err)
		}
	}
	return nil
}

// Check verifies that every base relation exists, returning the missing
// table names so the caller can point the user at the install subcommand.
func Check(ctx context.Context, db *DB) (missing []string, err error) {
	tables := []string{
		TripletsPerMNO, TripletsPerCountry, NetworkIMEIs, DailyPerMNOHLLSketches,
		ClassificationState, GSMAData, JobMetadata,
		RegistrationList, StolenList, PairingList, BarredList, MonitoringList, AssociationList,
		Blacklist, Exceptions, Notifications,
	}
	for _, table := range tables {
		var n int
		q := db.Rebind(`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?`)
		if err := db.GetContext(ctx, &n, q, table); err != nil {
			return nil, fmt.Errorf("storage: check table %s: %w", table, err)
		}
		if n == 0 {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

// Roles are the role-scoped identities writes run under. InstallRoles
// creates them as NOLOGIN group roles; deployments grant membership to
// real login users out of band.
var Roles = []string{
	"dirbs_core_import_operator",
	"dirbs_core_import_lists",
	"dirbs_core_classify",
	"dirbs_core_listgen",
	"dirbs_core_report",
	"dirbs_core_query",
}

// InstallRoles creates the group roles and their table grants, enforcing
// the boundary that classification cannot mutate the triplet store and
// ingest cannot mutate classification state.
func InstallRoles(ctx context.Context, db *DB) error {
	stmts := []string{}
	for _, role := range Roles {
		stmts = append(stmts, fmt.Sprintf(
			`DO $$ BEGIN CREATE ROLE %s NOLOGIN; EXCEPTION WHEN duplicate_object THEN NULL; END $$`, role))
	}
	stmts = append(stmts,
		fmt.Sprintf(`GRANT SELECT, INSERT, UPDATE ON %s, %s, %s, %s TO dirbs_core_import_operator`,
			TripletsPerMNO, TripletsPerCountry, NetworkIMEIs, DailyPerMNOHLLSketches),
		fmt.Sprintf(`GRANT SELECT, INSERT, UPDATE, DELETE ON %s, %s, %s, %s, %s, %s, %s TO dirbs_core_import_lists`,
			GSMAData, RegistrationList, StolenList, PairingList, BarredList, MonitoringList, AssociationList),
		fmt.Sprintf(`GRANT SELECT ON %s, %s, %s, %s TO dirbs_core_classify`,
			TripletsPerMNO, TripletsPerCountry, NetworkIMEIs, GSMAData),
		fmt.Sprintf(`GRANT SELECT, INSERT, UPDATE ON %s TO dirbs_core_classify`, ClassificationState),
		fmt.Sprintf(`GRANT SELECT ON %s, %s, %s TO dirbs_core_listgen`,
			ClassificationState, TripletsPerMNO, PairingList),
		fmt.Sprintf(`GRANT SELECT, INSERT, UPDATE ON %s, %s, %s TO dirbs_core_listgen`,
			Blacklist, Exceptions, Notifications),
	)
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: install roles: %w", err)
		}
	}
	return nil
}
