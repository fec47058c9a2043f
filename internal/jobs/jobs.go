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

// Package jobs wraps internal/storage.JobRepo with the lifecycle and
// metadata-encoding behavior every CLI subcommand shares: a job is opened
// before any work begins and closed exactly once with success metadata or
// the failure message under extra_metadata.error.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/dirbs-project/dirbs-core/internal/storage"
)

// GzipThreshold is the extra_metadata size, in bytes, above which Finish
// gzip-compresses the payload so large per-condition/per-stat metadata
// blobs don't bloat job_metadata rows.
const GzipThreshold = 8 * 1024

// Handle tracks one running job end-to-end: Start opens it, Finish (or
// Fail) closes it exactly once.
type Handle struct {
	repo  *storage.JobRepo
	runID int64
}

// Start records a new running job and returns a Handle for it.
func Start(ctx context.Context, repo *storage.JobRepo, command, subcommand, dbUser string) (*Handle, error) {
	runID, err := repo.Start(ctx, command, subcommand, dbUser, now())
	if err != nil {
		return nil, fmt.Errorf("jobs: start %s %s: %w", command, subcommand, err)
	}
	return &Handle{repo: repo, runID: runID}, nil
}

// RunID returns the job's run_id, recorded into report/listgen filenames
// and log lines for cross-referencing.
func (h *Handle) RunID() int64 { return h.runID }

// Succeed marks the job successful, encoding metadata as JSON and
// gzip-compressing it if it exceeds GzipThreshold.
func (h *Handle) Succeed(ctx context.Context, metadata any) error {
	return h.finish(ctx, storage.JobSuccess, metadata)
}

// Fail marks the job failed, recording err's message under
// extra_metadata.error. metadata may be nil; the error is merged in
// regardless.
func (h *Handle) Fail(ctx context.Context, metadata map[string]any, err error) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["error"] = err.Error()
	return h.finish(ctx, storage.JobError, metadata)
}

func (h *Handle) finish(ctx context.Context, status storage.JobStatus, metadata any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("jobs: marshal metadata for run %d: %w", h.runID, err)
	}

	payload, gzipped, err := maybeCompress(raw)
	if err != nil {
		return fmt.Errorf("jobs: compress metadata for run %d: %w", h.runID, err)
	}

	if err := h.repo.Finish(ctx, h.runID, status, now(), payload, gzipped); err != nil {
		return fmt.Errorf("jobs: finish run %d: %w", h.runID, err)
	}
	return nil
}

func maybeCompress(raw []byte) ([]byte, bool, error) {
	if len(raw) <= GzipThreshold {
		return raw, false, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, false, err
	}
	if err := w.Close(); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

// DecodeMetadata reverses Succeed/Fail's encoding: it gunzips row.ExtraMetadata
// if row.MetadataGzip is set, then JSON-decodes it into out.
func DecodeMetadata(row *storage.JobRow, out any) error {
	raw := row.ExtraMetadata
	if row.MetadataGzip {
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("jobs: gunzip metadata for run %d: %w", row.RunID, err)
		}
		defer r.Close() //nolint:errcheck
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return fmt.Errorf("jobs: read gunzipped metadata for run %d: %w", row.RunID, err)
		}
		raw = buf.Bytes()
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("jobs: decode metadata for run %d: %w", row.RunID, err)
	}
	return nil
}

// List queries job records, delegating straight to storage.JobRepo.Query.
func List(ctx context.Context, repo *storage.JobRepo, q storage.JobQuery) ([]storage.JobRow, error) {
	rows, err := repo.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("jobs: list: %w", err)
	}
	return rows, nil
}

// now is a seam so tests can avoid a dependency on wall-clock time; at
// runtime it's simply time.Now.
var now = time.Now
