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

// Package storage is the Postgres-backed repository layer: the triplet
// store, classification state, reference lists, and job metadata. It uses
// lib/pq as the database/sql driver and sqlx for struct-scanning reads.
package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
)

// ConnParams are the connection parameters mirrored by CLI flags and
// environment variables.
type ConnParams struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// DSN renders libpq connection-string form.
func (c ConnParams) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=prefer",
		c.Host, c.Port, c.Database, c.User, c.Password)
}

// DB wraps an *sqlx.DB bound to a specific role-scoped connection pool.
// Each capability (ingest, classify, listgen, ...) gets its own *DB built
// from a role-scoped ConnParams, rather than one shared connection
// switching roles mid-process.
type DB struct {
	*sqlx.DB
	Capability Capability
}

// Capability names which table-group a connection pool is allowed to
// mutate. This is enforced at the Go layer (by which repository methods a
// capability's DB is handed to) and, in a deployed system, by the
// underlying Postgres role's GRANTs — the two must agree.
type Capability string

const (
	CapabilityIngest   Capability = "ingest"
	CapabilityClassify Capability = "classify"
	CapabilityListgen  Capability = "listgen"
	CapabilityReport   Capability = "report"
	CapabilityAdmin    Capability = "admin"
)

// Open connects using the postgres driver and verifies connectivity with a
// Ping, wrapping any failure as a *dirbserr.SchemaError-adjacent transient
// condition is the caller's job: Open itself returns the raw error so
// retry.Do can classify it.
func Open(ctx context.Context, cap Capability, params ConnParams, maxConns int) (*DB, error) {
	sqlxdb, err := sqlx.ConnectContext(ctx, "postgres", params.DSN())
	if err != nil {
		return nil, fmt.Errorf("storage: open %s pool: %w", cap, err)
	}
	sqlxdb.SetMaxOpenConns(maxConns)
	sqlxdb.SetMaxIdleConns(maxConns)
	return &DB{DB: sqlxdb, Capability: cap}, nil
}

// AdvisoryLock takes the session-scoped Postgres advisory lock for key,
// blocking until it is granted. Importers derive key from the import type
// and operator id so that two imports for the same operator serialize
// while different operators proceed concurrently.
func (d *DB) AdvisoryLock(ctx context.Context, key int64) error {
	if _, err := d.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		return fmt.Errorf("storage: advisory lock %d: %w", key, err)
	}
	return nil
}

// AdvisoryUnlock releases a lock taken with AdvisoryLock.
func (d *DB) AdvisoryUnlock(ctx context.Context, key int64) error {
	if _, err := d.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
		return fmt.Errorf("storage: advisory unlock %d: %w", key, err)
	}
	return nil
}

// OpenWithDriver is Open's test-friendly sibling: it binds to an arbitrary
// database/sql driver (e.g. "sqlite", via modernc.org/sqlite) and DSN, used
// by repository tests that don't exercise Postgres-specific partition DDL.
func OpenWithDriver(ctx context.Context, cap Capability, driverName, dsn string, maxConns int) (*DB, error) {
	sqlxdb, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s pool (%s): %w", cap, driverName, err)
	}
	sqlxdb.SetMaxOpenConns(maxConns)
	return &DB{DB: sqlxdb, Capability: cap}, nil
}
