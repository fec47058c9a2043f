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

package partition_test

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dirbs-project/dirbs-core/internal/partition"
)

func TestIndexName_DeterministicAndStable(t *testing.T) {
	spec := partition.IndexSpec{Columns: []string{"imei_norm"}, Unique: true}
	name1 := partition.IndexName("monthly_network_triplets_per_mno_2024_03_0_49", spec, 8)
	name2 := partition.IndexName("monthly_network_triplets_per_mno_2024_03_0_49", spec, 8)
	require.Equal(t, name1, name2)
	require.Contains(t, name1, "imei_norm_idx")
	require.Less(t, len(name1), 64)
}

func TestIndexName_DiffersByTableAndColumns(t *testing.T) {
	specA := partition.IndexSpec{Columns: []string{"imei_norm"}}
	specB := partition.IndexSpec{Columns: []string{"imsi"}}
	nameA := partition.IndexName("table_one", specA, 8)
	nameB := partition.IndexName("table_two", specA, 8)
	nameC := partition.IndexName("table_one", specB, 8)
	require.NotEqual(t, nameA, nameB)
	require.NotEqual(t, nameA, nameC)
}

func TestManager_CreatePartition_RejectsOverlongName(t *testing.T) {
	db := sqlx.MustConnect("sqlite", "file::memory:?cache=shared")
	defer db.Close()
	m := partition.New(db)

	overlong := make([]byte, 80)
	for i := range overlong {
		overlong[i] = 'a'
	}
	err := m.CreatePartition(context.Background(), "parent", string(overlong), partition.Keys{Columns: []string{"imei_norm"}}, "0", "50", partition.FillfactorLatest)
	require.Error(t, err)
}

func TestManager_AddIndices_RunsAcrossLeaves(t *testing.T) {
	db := sqlx.MustConnect("sqlite", "file::memory:?cache=shared")
	defer db.Close()
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE leaf_0_49 (imei_norm TEXT, imsi TEXT)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE leaf_50_99 (imei_norm TEXT, imsi TEXT)`)
	require.NoError(t, err)

	m := partition.New(db)
	err = m.AddIndices(ctx, []string{"leaf_0_49", "leaf_50_99"},
		[]partition.IndexSpec{{Columns: []string{"imei_norm"}}}, 8, 2)
	require.NoError(t, err)
}
