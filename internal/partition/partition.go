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

// Package partition generates and applies the DDL for the time-and-shard
// partitioned tables: creating leaf partitions, attaching
// deterministically-named indices, and repartitioning a table to a new
// physical shard count via the shadow-table-and-rename dance.
package partition

import (
	"context"
	"crypto/md5" //nolint:gosec // used only for deterministic short name generation, not security
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/dirbs-project/dirbs-core/internal/shard"
	"github.com/dirbs-project/dirbs-core/internal/workerpool"
)

// Fillfactor policy: the latest month is
// kept writable at a low fillfactor to leave room for HOT updates during
// the append-merge protocol; earlier, immutable months are packed tight.
const (
	FillfactorLatest = 45
	FillfactorPacked = 100
)

// Keys names the partitioning key column(s) a parent table is split on.
type Keys struct {
	Columns []string
}

// Manager applies partition DDL against a single database connection. It
// does not itself decide fillfactor or shard counts — callers (ingest,
// admin CLI) supply those.
type Manager struct {
	db *sqlx.DB
}

// New returns a Manager bound to db.
func New(db *sqlx.DB) *Manager { return &Manager{db: db} }

// CreatePartition creates a single partition of parent named child, keyed
// by the range [loBound, hiBound) over keys.Columns, at the given
// fillfactor. It is idempotent: creating an already-existing partition of
// identical bounds is a no-op, but colliding bounds against a
// differently-named sibling is rejected by Postgres's own overlap check
// and surfaces as an error.
func (m *Manager) CreatePartition(ctx context.Context, parent, child string, keys Keys, loBound, hiBound string, fillfactor int) error {
	if len(child) > shard.MaxNameLength {
		return fmt.Errorf("partition: child name %q exceeds %d characters", child, shard.MaxNameLength)
	}
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM (%s) TO (%s) WITH (fillfactor = %d)`,
		child, parent, loBound, hiBound, fillfactor)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("partition: create %s of %s: %w", child, parent, err)
	}
	return nil
}

// IndexSpec describes one index to attach via AddIndices.
type IndexSpec struct {
	Columns []string
	Unique  bool
	// Where is an optional partial-index predicate.
	Where string
}

// IndexName derives the deterministic index name:
// md5(table_name)[:n] + "_" + cols + "_idx".
func IndexName(table string, spec IndexSpec, prefixLen int) string {
	sum := md5.Sum([]byte(table)) //nolint:gosec
	prefix := hex.EncodeToString(sum[:])[:prefixLen]
	return fmt.Sprintf("%s_%s_idx", prefix, strings.Join(spec.Columns, "_"))
}

// AddIndices attaches every spec to table, recursing into leaf partitions
// when table is itself a partitioned parent (leaves is the caller-resolved
// list of physical leaf tables; the manager does not introspect the
// catalog itself). Index creation for distinct leaves runs concurrently
// on a workerpool.Pool bounded by maxConns.
func (m *Manager) AddIndices(ctx context.Context, leaves []string, specs []IndexSpec, prefixLen, maxConns int) error {
	tasks := make([]workerpool.Task, 0, len(leaves)*len(specs))
	for _, leaf := range leaves {
		leaf := leaf
		for _, spec := range specs {
			spec := spec
			tasks = append(tasks, func(ctx context.Context) error {
				return m.createIndex(ctx, leaf, spec, prefixLen)
			})
		}
	}
	return workerpool.Run(ctx, maxConns, tasks)
}

func (m *Manager) createIndex(ctx context.Context, table string, spec IndexSpec, prefixLen int) error {
	name := IndexName(table, spec, prefixLen)
	var b strings.Builder
	b.WriteString("CREATE ")
	if spec.Unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, `INDEX IF NOT EXISTS "%s" ON %s (%s)`, name, table, strings.Join(spec.Columns, ", "))
	if spec.Where != "" {
		fmt.Fprintf(&b, " WHERE %s", spec.Where)
	}
	if _, err := m.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("partition: create index %s on %s: %w", name, table, err)
	}
	return nil
}

// Repartition rebuilds table with a new physical shard count: it creates a
// shadow table with the new shard layout, copies data (optionally
// filtered by copyWhere), rebuilds indices on the shadow, then drops the
// original and renames the shadow into place, all inside one transaction
// so a failure at any step (a rename collision included) leaves the
// original table untouched.
func (m *Manager) Repartition(ctx context.Context, table string, newRanges []shard.Range, copyWhere string, specs []IndexSpec, prefixLen int) error {
	shadow := table + "_new"

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("partition: begin repartition tx for %s: %w", table, err)
	}
	defer tx.Rollback() //nolint:errcheck

	createShadow := fmt.Sprintf(`CREATE TABLE %s (LIKE %s INCLUDING ALL)`, shadow, table)
	if _, err := tx.ExecContext(ctx, createShadow); err != nil {
		return fmt.Errorf("partition: create shadow %s: %w", shadow, err)
	}

	for _, r := range newRanges {
		leaf := shard.Name(shadow, r)
		ddl := fmt.Sprintf(
			`CREATE TABLE %s PARTITION OF %s FOR VALUES FROM (%d) TO (%d) WITH (fillfactor = %d)`,
			leaf, shadow, r.Lo, r.Hi, FillfactorPacked)
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("partition: create repartition leaf %s: %w", leaf, err)
		}
	}

	copySQL := fmt.Sprintf(`INSERT INTO %s SELECT * FROM %s`, shadow, table)
	if copyWhere != "" {
		copySQL += " WHERE " + copyWhere
	}
	if _, err := tx.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("partition: copy into shadow %s: %w", shadow, err)
	}

	for _, spec := range specs {
		name := IndexName(shadow, spec, prefixLen)
		var b strings.Builder
		b.WriteString("CREATE ")
		if spec.Unique {
			b.WriteString("UNIQUE ")
		}
		fmt.Fprintf(&b, `INDEX "%s" ON %s (%s)`, name, shadow, strings.Join(spec.Columns, ", "))
		if spec.Where != "" {
			fmt.Fprintf(&b, " WHERE %s", spec.Where)
		}
		if _, err := tx.ExecContext(ctx, b.String()); err != nil {
			return fmt.Errorf("partition: index shadow %s: %w", shadow, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %s`, table)); err != nil {
		return fmt.Errorf("partition: drop original %s: %w", table, err)
	}
	if err := renameWithIndicesTx(ctx, tx, shadow, table, specs, prefixLen); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("partition: commit repartition of %s: %w", table, err)
	}
	return nil
}

// RenameWithIndices atomically renames a table and every index AddIndices
// built on it, so the deterministic index names keep tracking the table
// name. A collision with an existing relation aborts the whole rename.
func (m *Manager) RenameWithIndices(ctx context.Context, oldName, newName string, specs []IndexSpec, prefixLen int) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("partition: begin rename tx for %s: %w", oldName, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := renameWithIndicesTx(ctx, tx, oldName, newName, specs, prefixLen); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("partition: commit rename of %s: %w", oldName, err)
	}
	return nil
}

func renameWithIndicesTx(ctx context.Context, tx *sqlx.Tx, oldName, newName string, specs []IndexSpec, prefixLen int) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, oldName, newName)); err != nil {
		return fmt.Errorf("partition: rename %s to %s: %w", oldName, newName, err)
	}
	for _, spec := range specs {
		oldIdx := IndexName(oldName, spec, prefixLen)
		newIdx := IndexName(newName, spec, prefixLen)
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`ALTER INDEX IF EXISTS "%s" RENAME TO "%s"`, oldIdx, newIdx)); err != nil {
			return fmt.Errorf("partition: rename index %s to %s: %w", oldIdx, newIdx, err)
		}
	}
	return nil
}

// DropPartition detaches and drops a single named child partition, the
// mechanism behind the `prune triplets` CLI surface: once a
// month's per-operator and per-country triplet partitions are older than
// the retention window, the whole leaf is dropped rather than filtered row
// by row, which is both faster and avoids vacuum churn on a table nobody
// queries anymore.
func (m *Manager) DropPartition(ctx context.Context, tableName string) error {
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName)); err != nil {
		return fmt.Errorf("partition: drop %s: %w", tableName, err)
	}
	return nil
}
