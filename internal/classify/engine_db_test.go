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

package classify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/shard"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

// openEngineTestDB lays down the driver-portable subset of schema Classify
// touches: the classification state and the network_imeis universe.
func openEngineTestDB(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenWithDriver(ctx, storage.CapabilityClassify, "sqlite", "file:classify_engine?mode=memory&cache=shared", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	schema := `
	CREATE TABLE IF NOT EXISTS ` + storage.ClassificationState + ` (
		imei_norm TEXT NOT NULL, cond_name TEXT NOT NULL,
		start_date DATETIME NOT NULL, end_date DATETIME, block_date DATETIME
	);
	CREATE TABLE IF NOT EXISTS ` + storage.NetworkIMEIs + ` (
		imei_norm TEXT PRIMARY KEY, first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL, seen_rat_bitmask INTEGER NOT NULL,
		virt_imei_shard INTEGER NOT NULL
	);
	DELETE FROM ` + storage.ClassificationState + `;
	DELETE FROM ` + storage.NetworkIMEIs + `;`
	_, err = db.ExecContext(ctx, schema)
	require.NoError(t, err)
	return db
}

// Two consecutive runs with an unchanged config must not move an active
// row's block date: it is fixed at start_date + grace when the match
// opens, and a later run re-deriving it from its own curr date would push
// the grace period out forever.
func TestClassifyTwiceKeepsBlockDateFixed(t *testing.T) {
	ctx := context.Background()
	db := openEngineTestDB(t)

	imei := "00449900000000" // test TAC, matched by is_test_tac
	seen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := db.ExecContext(ctx,
		db.Rebind(`INSERT INTO `+storage.NetworkIMEIs+` (imei_norm, first_seen, last_seen, seen_rat_bitmask, virt_imei_shard) VALUES (?, ?, ?, ?, ?)`),
		imei, seen, seen, 0, shard.Virt(imei))
	require.NoError(t, err)

	cfg := &config.Config{
		NumPhysicalShards: 1,
		DB:                config.DB{MaxConns: 1},
		Conditions: []config.ConditionConfig{{
			Label:           "is_test_tac",
			Blocking:        true,
			GracePeriodDays: 30,
			Dimensions:      []config.DimensionConfig{{Label: "is_test_tac"}},
		}},
	}
	engine := &Engine{
		Config:        cfg,
		ClassRepo:     storage.NewClassificationRepo(db),
		DimRepo:       storage.NewDimensionRepo(db),
		MaxDBConns:    1,
		NoSafetyCheck: true,
	}

	day1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	result, err := engine.Classify(ctx, day1)
	require.NoError(t, err)
	require.Len(t, result.Conditions, 1)
	require.NoError(t, result.Conditions[0].Err)
	require.Equal(t, 1, result.Conditions[0].Opened)

	current, err := engine.ClassRepo.Current(ctx, imei)
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.NotNil(t, current[0].BlockDate)
	wantBlock := day1.AddDate(0, 0, 30)
	require.Equal(t, wantBlock, current[0].BlockDate.UTC())

	// Next day, same config: sticky no-op on the match, block date stays.
	day2 := day1.AddDate(0, 0, 1)
	result, err = engine.Classify(ctx, day2)
	require.NoError(t, err)
	require.NoError(t, result.Conditions[0].Err)
	require.Equal(t, 0, result.Conditions[0].Opened)
	require.Equal(t, 0, result.Conditions[0].Closed)

	current, err = engine.ClassRepo.Current(ctx, imei)
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.NotNil(t, current[0].BlockDate)
	require.Equal(t, wantBlock, current[0].BlockDate.UTC())
}

// A condition flipped from blocking to non-blocking must clear the stale
// block date on the next run; flipped back, the block date re-derives
// from the row's original start_date.
func TestClassifyBlockingFlipReconciles(t *testing.T) {
	ctx := context.Background()
	db := openEngineTestDB(t)

	imei := "00449900000001"
	seen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := db.ExecContext(ctx,
		db.Rebind(`INSERT INTO `+storage.NetworkIMEIs+` (imei_norm, first_seen, last_seen, seen_rat_bitmask, virt_imei_shard) VALUES (?, ?, ?, ?, ?)`),
		imei, seen, seen, 0, shard.Virt(imei))
	require.NoError(t, err)

	cond := config.ConditionConfig{
		Label:           "is_test_tac",
		Blocking:        true,
		GracePeriodDays: 30,
		Dimensions:      []config.DimensionConfig{{Label: "is_test_tac"}},
	}
	cfg := &config.Config{NumPhysicalShards: 1, DB: config.DB{MaxConns: 1}, Conditions: []config.ConditionConfig{cond}}
	engine := &Engine{
		Config:        cfg,
		ClassRepo:     storage.NewClassificationRepo(db),
		DimRepo:       storage.NewDimensionRepo(db),
		MaxDBConns:    1,
		NoSafetyCheck: true,
	}

	day1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = engine.Classify(ctx, day1)
	require.NoError(t, err)

	cfg.Conditions[0].Blocking = false
	day2 := day1.AddDate(0, 0, 1)
	_, err = engine.Classify(ctx, day2)
	require.NoError(t, err)

	current, err := engine.ClassRepo.Current(ctx, imei)
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Nil(t, current[0].BlockDate)

	cfg.Conditions[0].Blocking = true
	day3 := day2.AddDate(0, 0, 1)
	_, err = engine.Classify(ctx, day3)
	require.NoError(t, err)

	current, err = engine.ClassRepo.Current(ctx, imei)
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.NotNil(t, current[0].BlockDate)
	// Re-derived from the row's start_date (day1), not the flip date.
	require.Equal(t, day1.AddDate(0, 0, 30), current[0].BlockDate.UTC())
}
