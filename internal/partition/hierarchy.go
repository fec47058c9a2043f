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

package partition

import (
	"context"
	"fmt"

	"github.com/dirbs-project/dirbs-core/internal/shard"
)

// MonthNodeName builds the intermediate (year, month) node name under an
// operator node (or directly under the country parent when operatorID is
// empty).
func MonthNodeName(parent, operatorID string, year, month int) string {
	if operatorID == "" {
		return fmt.Sprintf("%s_%d_%d", parent, year, month)
	}
	return fmt.Sprintf("%s_%s_%d_%d", parent, operatorID, year, month)
}

// OperatorNodeName builds the per-operator intermediate node name.
func OperatorNodeName(parent, operatorID string) string {
	return fmt.Sprintf("%s_%s", parent, operatorID)
}

// EnsureOperatorNode creates the per-operator LIST partition node under a
// per-MNO parent, itself ranged on (year, month) so month nodes can hang
// off it.
func (m *Manager) EnsureOperatorNode(ctx context.Context, parent, operatorID string) error {
	child := OperatorNodeName(parent, operatorID)
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES IN ('%s') PARTITION BY RANGE (year, month)`,
		child, parent, operatorID)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("partition: create operator node %s: %w", child, err)
	}
	return nil
}

// EnsureMonthLeaves creates the (year, month) range node under node (an
// operator node, or the country parent when operatorID is empty) and one
// shard-range leaf per physical range beneath it. leafName resolves the
// final leaf table name so ingest and DDL agree on it.
func (m *Manager) EnsureMonthLeaves(ctx context.Context, node, operatorID string, year, month int, ranges []shard.Range, fillfactor int, leafName func(r shard.Range) string) error {
	monthNode := MonthNodeName(node, "", year, month)
	if operatorID != "" {
		monthNode = MonthNodeName(node, operatorID, year, month)
	}
	parent := node
	if operatorID != "" {
		parent = OperatorNodeName(node, operatorID)
	}

	nextYear, nextMonth := year, month+1
	if nextMonth > 12 {
		nextYear, nextMonth = year+1, 1
	}
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM (%d, %d) TO (%d, %d) PARTITION BY RANGE (virt_imei_shard)`,
		monthNode, parent, year, month, nextYear, nextMonth)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("partition: create month node %s: %w", monthNode, err)
	}

	for _, r := range ranges {
		if err := m.CreatePartition(ctx, monthNode, leafName(r),
			Keys{Columns: []string{"virt_imei_shard"}},
			fmt.Sprintf("%d", r.Lo), fmt.Sprintf("%d", r.Hi), fillfactor); err != nil {
			return err
		}
	}
	return nil
}
