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
	"strings"
	"time"
)

// JobRepo persists job_metadata, the durable audit trail of every
// import/classify/listgen/report run.
type JobRepo struct {
	db *DB
}

// NewJobRepo binds a JobRepo to a capability-scoped DB.
func NewJobRepo(db *DB) *JobRepo { return &JobRepo{db: db} }

// Start records a new running job and returns its run_id.
func (j *JobRepo) Start(ctx context.Context, command, subcommand, dbUser string, startTime time.Time) (int64, error) {
	insertSQL := j.db.Rebind(fmt.Sprintf(
		`INSERT INTO %s (command, subcommand, db_user, start_time, status, extra_metadata, metadata_gzip)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`, JobMetadata))
	res, err := j.db.ExecContext(ctx, insertSQL, command, subcommand, dbUser, startTime, JobRunning, []byte("{}"), false)
	if err != nil {
		return 0, fmt.Errorf("storage: start job: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: job run_id: %w", err)
	}
	return runID, nil
}

// Finish marks a job complete with the given status, end time and final
// extra_metadata payload, already gzip-compressed by the caller if
// metadataGzip is set.
func (j *JobRepo) Finish(ctx context.Context, runID int64, status JobStatus, endTime time.Time, extraMetadata []byte, metadataGzip bool) error {
	updateSQL := j.db.Rebind(fmt.Sprintf(
		`UPDATE %s SET status = ?, end_time = ?, extra_metadata = ?, metadata_gzip = ? WHERE run_id = ?`, JobMetadata))
	if _, err := j.db.ExecContext(ctx, updateSQL, status, endTime, extraMetadata, metadataGzip, runID); err != nil {
		return fmt.Errorf("storage: finish job %d: %w", runID, err)
	}
	return nil
}

// Get fetches a single job by run_id.
func (j *JobRepo) Get(ctx context.Context, runID int64) (*JobRow, error) {
	q := j.db.Rebind(fmt.Sprintf(
		`SELECT run_id, command, subcommand, db_user, start_time, end_time, status, extra_metadata, metadata_gzip
		 FROM %s WHERE run_id = ?`, JobMetadata))
	var row JobRow
	if err := j.db.GetContext(ctx, &row, q, runID); err != nil {
		return nil, fmt.Errorf("storage: get job %d: %w", runID, err)
	}
	return &row, nil
}

// JobQuery narrows the Query below to the CLI's "db jobs" listing
// filters: by command, subcommand, status, and time range.
type JobQuery struct {
	Command    string // empty matches any
	Subcommand string // empty matches any
	Status     JobStatus
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// Query lists jobs matching q, most recent first.
func (j *JobRepo) Query(ctx context.Context, q JobQuery) ([]JobRow, error) {
	var clauses []string
	var args []any

	if q.Command != "" {
		clauses = append(clauses, "command = ?")
		args = append(args, q.Command)
	}
	if q.Subcommand != "" {
		clauses = append(clauses, "subcommand = ?")
		args = append(args, q.Subcommand)
	}
	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, q.Status)
	}
	if q.Since != nil {
		clauses = append(clauses, "start_time >= ?")
		args = append(args, *q.Since)
	}
	if q.Until != nil {
		clauses = append(clauses, "start_time <= ?")
		args = append(args, *q.Until)
	}

	sqlStr := fmt.Sprintf(`SELECT run_id, command, subcommand, db_user, start_time, end_time, status, extra_metadata, metadata_gzip
		FROM %s`, JobMetadata)
	if len(clauses) > 0 {
		sqlStr += " WHERE " + strings.Join(clauses, " AND ")
	}
	sqlStr += " ORDER BY start_time DESC"
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	sqlStr += fmt.Sprintf(" LIMIT %d", limit)

	var rows []JobRow
	if err := j.db.SelectContext(ctx, &rows, j.db.Rebind(sqlStr), args...); err != nil {
		return nil, fmt.Errorf("storage: query jobs: %w", err)
	}
	return rows, nil
}
