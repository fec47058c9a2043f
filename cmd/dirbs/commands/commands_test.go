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
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

func TestForEachMonthSpansRangeAndFlagsLatest(t *testing.T) {
	start := time.Date(2016, time.May, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2016, time.July, 3, 0, 0, 0, 0, time.UTC)

	type visit struct {
		year, month int
		latest      bool
	}
	var visits []visit
	require.NoError(t, forEachMonth(start, end, func(year, month int, latest bool) error {
		visits = append(visits, visit{year, month, latest})
		return nil
	}))

	assert.Equal(t, []visit{
		{2016, 5, false},
		{2016, 6, false},
		{2016, 7, true},
	}, visits)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DIRBS_DB_HOST", "envhost")
	t.Setenv("DIRBS_DB_PORT", "6543")
	t.Setenv("DIRBS_DB_DATABASE", "")

	db := config.DB{Host: "cfghost", Port: 5432, Database: "dirbs"}
	applyEnvOverrides(&db)

	assert.Equal(t, "envhost", db.Host)
	assert.Equal(t, 6543, db.Port)
	assert.Equal(t, "dirbs", db.Database) // empty env var does not clobber
}

func TestConditionOrderBlockingFirstThenAlpha(t *testing.T) {
	a := &app{cfg: &config.Config{Conditions: []config.ConditionConfig{
		{Label: "z_info", Blocking: false},
		{Label: "b_block", Blocking: true},
		{Label: "a_info", Blocking: false},
		{Label: "a_block", Blocking: true},
	}}}

	labels, blocking := conditionOrder(a)
	assert.Equal(t, []string{"a_block", "b_block", "a_info", "z_info"}, labels)
	assert.True(t, blocking["a_block"])
	assert.False(t, blocking["a_info"])
}

func TestGroupOverlapsPreservesFirstSeenOrder(t *testing.T) {
	rows := []storage.ConditionIMEIOperatorRow{
		{IMEINorm: "A", OperatorID: "op1"},
		{IMEINorm: "A", OperatorID: "op2"},
		{IMEINorm: "B", OperatorID: "op1"},
	}
	overlaps := groupOverlaps(rows)
	require.Len(t, overlaps, 2)
	assert.Equal(t, "A", overlaps[0].IMEI)
	assert.Equal(t, []string{"op1", "op2"}, overlaps[0].Operators)
}

func TestTransientRowsKeepsArithmeticProgressions(t *testing.T) {
	rows := []storage.MSISDNIMEIRow{
		// Constant difference of 1: kept.
		{MSISDN: "222000000000001", IMEINorm: "10000000000001"},
		{MSISDN: "222000000000001", IMEINorm: "10000000000002"},
		{MSISDN: "222000000000001", IMEINorm: "10000000000003"},
		// Irregular gaps: dropped.
		{MSISDN: "222000000000002", IMEINorm: "10000000000001"},
		{MSISDN: "222000000000002", IMEINorm: "10000000000005"},
		{MSISDN: "222000000000002", IMEINorm: "10000000000006"},
	}
	out := transientRows(rows)
	require.Len(t, out, 1)
	assert.Equal(t, "222000000000001", out[0].MSISDN)
}

func TestZipArchiverExtractsCSVMember(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "op1_20160701_20160731.zip")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	member, err := zw.Create("op1_20160701_20160731.csv")
	require.NoError(t, err)
	_, err = member.Write([]byte("date,imei\n20160715,01234567890123\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	rc, err := zipArchiver{}.Extract(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "01234567890123")
}
