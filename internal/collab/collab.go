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

// Package collab states the Go-interface boundary of the system's
// external collaborators: the front end's own flag/shell layer, the HTTP
// query API, configuration file discovery and watching, archive
// extraction, log shipping, and HTML report rendering. The core never
// depends on a concrete choice for any of them. Nothing in this package
// is wired to a production implementation; cmd/dirbs's own cobra commands
// cover the one thin slice (command parsing) the binary itself needs.
package collab

import (
	"context"
	"io"
	"time"
)

// Archiver extracts a single CSV payload from an operator input archive.
// The ingest pipeline in internal/ingest accepts an already-extracted
// io.Reader; something implementing Archiver sits in front of it.
type Archiver interface {
	// Extract opens path (a "<operator>_<YYYYMMDD>_<YYYYMMDD>.zip" file)
	// and returns the single CSV member's contents.
	Extract(ctx context.Context, path string) (io.ReadCloser, error)
}

// LogTransport ships already-formatted log records to a collector;
// internal/logging only configures the in-process zap core.
type LogTransport interface {
	Ship(ctx context.Context, records []byte) error
}

// HTMLRenderer turns a computed stats.Report into the human-facing HTML
// report; this repo itself only guarantees the CSV output formats.
type HTMLRenderer interface {
	Render(ctx context.Context, w io.Writer, reportJSON []byte) error
}

// QueryAPI fronts internal/imeiquery.Resolver with HTTP routing, request
// auth, and role checks.
type QueryAPI interface {
	ServeIMEIQuery(ctx context.Context, imei string) ([]byte, error)
}

// ConfigSource supplies the raw bytes internal/config.Load decodes: the
// file-watching and discovery layer around the config file, as opposed to
// the TOML grammar itself, which internal/config does implement.
type ConfigSource interface {
	Read(ctx context.Context) ([]byte, error)
}

// JobWatch is the job-metadata query surface a front end polls to report
// progress to a user; internal/jobs.List implements the query side, a
// front end implements JobWatch to surface it.
type JobWatch interface {
	Poll(ctx context.Context, runID int64) (status string, lastUpdated time.Time, err error)
}
