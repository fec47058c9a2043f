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

package storage_test

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/storage"
)

// openTestDB opens an in-memory sqlite-backed DB and lays down the subset
// of schema that is driver-portable (everything except the Postgres-
// specific triplet merge DDL, which requires LEAST/GREATEST/EXCLUDED/xmax
// and is covered separately against a real Postgres instance).
func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenWithDriver(ctx, storage.CapabilityAdmin, "sqlite", "file::memory:?cache=shared", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	schema := `
	CREATE TABLE ` + storage.ClassificationState + ` (
		imei_norm TEXT NOT NULL, cond_name TEXT NOT NULL,
		start_date DATETIME NOT NULL, end_date DATETIME, block_date DATETIME
	);
	CREATE TABLE ` + storage.JobMetadata + ` (
		run_id INTEGER PRIMARY KEY AUTOINCREMENT, command TEXT NOT NULL,
		subcommand TEXT NOT NULL, db_user TEXT NOT NULL,
		start_time DATETIME NOT NULL, end_time DATETIME,
		status TEXT NOT NULL, extra_metadata BLOB, metadata_gzip INTEGER
	);
	CREATE TABLE ` + storage.GSMAData + ` (
		tac TEXT PRIMARY KEY, manufacturer TEXT, model_name TEXT,
		device_type TEXT, rat_bitmask INTEGER
	);
	CREATE TABLE ` + storage.Blacklist + ` (
		imei_norm TEXT NOT NULL, start_run_id INTEGER NOT NULL, end_run_id INTEGER
	);
	CREATE TABLE ` + storage.RegistrationList + ` (
		imei_norm TEXT NOT NULL, start_date DATETIME NOT NULL,
		end_date DATETIME, extra BLOB
	);`
	_, err = db.ExecContext(ctx, schema)
	require.NoError(t, err)
	return db
}

func TestClassificationRepo_OpenCloseCurrent(t *testing.T) {
	db := openTestDB(t)
	repo := storage.NewClassificationRepo(db)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	block := start.AddDate(0, 0, 90)
	require.NoError(t, repo.Open(ctx, "123456789012345", "gsma_not_found", start, &block))

	current, err := repo.Current(ctx, "123456789012345")
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, "gsma_not_found", current[0].CondName)
	require.True(t, current[0].Active())

	end := start.AddDate(0, 1, 0)
	require.NoError(t, repo.Close(ctx, "123456789012345", "gsma_not_found", end))

	current, err = repo.Current(ctx, "123456789012345")
	require.NoError(t, err)
	require.Empty(t, current)

	history, err := repo.History(ctx, "123456789012345")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.False(t, history[0].Active())
}

func TestClassificationRepo_ReconcileBlockDate_FlipToBlocking(t *testing.T) {
	db := openTestDB(t)
	repo := storage.NewClassificationRepo(db)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	laterStart := start.AddDate(0, 0, 10)

	// Opened while the condition was non-blocking: no block date yet.
	require.NoError(t, repo.Open(ctx, "111111111111111", "duplicate_threshold", start, nil))
	require.NoError(t, repo.Open(ctx, "222222222222222", "duplicate_threshold", laterStart, nil))

	n, err := repo.ReconcileBlockDate(ctx, "duplicate_threshold", true, 30, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	// Each row's block date derives from its own start_date, not a shared
	// run date.
	current, err := repo.Current(ctx, "111111111111111")
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.NotNil(t, current[0].BlockDate)
	require.Equal(t, start.AddDate(0, 0, 30), current[0].BlockDate.UTC())

	current, err = repo.Current(ctx, "222222222222222")
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, laterStart.AddDate(0, 0, 30), current[0].BlockDate.UTC())
}

func TestClassificationRepo_ReconcileBlockDate_SettledRowsUntouched(t *testing.T) {
	db := openTestDB(t)
	repo := storage.NewClassificationRepo(db)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	block := start.AddDate(0, 0, 30)

	require.NoError(t, repo.Open(ctx, "111111111111111", "duplicate_threshold", start, &block))

	// Same blocking config on a later run: the settled block date must not
	// drift.
	n, err := repo.ReconcileBlockDate(ctx, "duplicate_threshold", true, 30, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	current, err := repo.Current(ctx, "111111111111111")
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, block, current[0].BlockDate.UTC())
}

func TestClassificationRepo_ReconcileBlockDate_FlipToNonBlocking(t *testing.T) {
	db := openTestDB(t)
	repo := storage.NewClassificationRepo(db)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	block := start.AddDate(0, 0, 30)

	require.NoError(t, repo.Open(ctx, "111111111111111", "duplicate_threshold", start, &block))

	n, err := repo.ReconcileBlockDate(ctx, "duplicate_threshold", false, 30, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	current, err := repo.Current(ctx, "111111111111111")
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Nil(t, current[0].BlockDate)
}

func TestClassificationRepo_CountActiveByCondition(t *testing.T) {
	db := openTestDB(t)
	repo := storage.NewClassificationRepo(db)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Open(ctx, "111111111111111", "is_test_tac", start, nil))
	require.NoError(t, repo.Open(ctx, "222222222222222", "is_test_tac", start, nil))
	require.NoError(t, repo.Open(ctx, "333333333333333", "gsma_not_found", start, nil))

	counts, err := repo.CountActiveByCondition(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, counts["is_test_tac"])
	require.EqualValues(t, 1, counts["gsma_not_found"])
}

func TestJobRepo_StartFinishQuery(t *testing.T) {
	db := openTestDB(t)
	repo := storage.NewJobRepo(db)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	runID, err := repo.Start(ctx, "dirbs-classify", "", "dirbs_core_power_user", start)
	require.NoError(t, err)
	require.NotZero(t, runID)

	job, err := repo.Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, storage.JobRunning, job.Status)

	end := start.Add(45 * time.Minute)
	require.NoError(t, repo.Finish(ctx, runID, storage.JobSuccess, end, []byte(`{"num_conditions":10}`), false))

	job, err = repo.Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, storage.JobSuccess, job.Status)
	require.NotNil(t, job.EndTime)

	results, err := repo.Query(ctx, storage.JobQuery{Command: "dirbs-classify", Status: storage.JobSuccess})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = repo.Query(ctx, storage.JobQuery{Command: "dirbs-import"})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestGSMARepo_ReplaceAllAndLookup(t *testing.T) {
	db := openTestDB(t)
	repo := storage.NewGSMARepo(db)
	ctx := context.Background()

	rows := []storage.GSMARow{
		{TAC: "35209900", Manufacturer: "Acme", ModelName: "Flip9000", DeviceType: "Handset", RATBitmask: 0x3},
		{TAC: "35302900", Manufacturer: "Acme", ModelName: "Slab2", DeviceType: "Handset", RATBitmask: 0x7},
	}
	require.NoError(t, repo.ReplaceAll(ctx, rows))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	found, err := repo.Lookup(ctx, "35209900")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "Acme", found.Manufacturer)

	missing, err := repo.Lookup(ctx, "00000000")
	require.NoError(t, err)
	require.Nil(t, missing)

	// A second ReplaceAll wholly supersedes the first (GSMA
	// data is replaced in full, never merged).
	require.NoError(t, repo.ReplaceAll(ctx, rows[:1]))
	count, err = repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestListRepo_ReconcileAndDelta(t *testing.T) {
	db := openTestDB(t)
	repo := storage.NewListRepo(db, storage.Blacklist)
	ctx := context.Background()

	require.NoError(t, repo.Reconcile(ctx, 1, map[string]struct{}{
		"111111111111111": {},
		"222222222222222": {},
	}))
	active, err := repo.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	// Run 2 drops 222... and adds 333...: 111 stays untouched.
	require.NoError(t, repo.Reconcile(ctx, 2, map[string]struct{}{
		"111111111111111": {},
		"333333333333333": {},
	}))
	active, err = repo.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	contains, err := repo.Contains(ctx, "222222222222222")
	require.NoError(t, err)
	require.False(t, contains)

	added, removed, err := repo.Delta(ctx, 2)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"333333333333333"}, added)
	require.ElementsMatch(t, []string{"222222222222222"}, removed)
}

type registrationExtra struct {
	Status string `json:"status"`
}

func TestHistoricList_UpsertCurrentHistory(t *testing.T) {
	db := openTestDB(t)
	repo := storage.NewHistoricList[registrationExtra](db, storage.RegistrationList)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, "444444444444444", start, registrationExtra{Status: "whitelist"}))
	current, err := repo.Current(ctx, "444444444444444")
	require.NoError(t, err)
	require.NotNil(t, current)
	require.True(t, current.Current())

	// Re-upserting the identical extra payload is a no-op: still exactly
	// one historic row.
	require.NoError(t, repo.Upsert(ctx, "444444444444444", start, registrationExtra{Status: "whitelist"}))
	history, err := repo.History(ctx, "444444444444444")
	require.NoError(t, err)
	require.Len(t, history, 1)

	// A changed payload closes the old row and opens a new one.
	laterStart := start.AddDate(0, 2, 0)
	require.NoError(t, repo.Upsert(ctx, "444444444444444", laterStart, registrationExtra{Status: "blacklist"}))
	history, err = repo.History(ctx, "444444444444444")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.False(t, history[0].Current())
	require.True(t, history[1].Current())
}
