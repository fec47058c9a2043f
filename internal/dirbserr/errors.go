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

// Package dirbserr implements the job error taxonomy: five disjoint
// error kinds with distinct propagation policy. Workers retry only
// TransientError; everything else aborts the job.
package dirbserr

import "fmt"

// ValidationError reports an input format or threshold violation. Never
// recovered; the message names the failing check, the limit, and the
// observed value.
type ValidationError struct {
	Check    string
	Column   string
	Limit    float64
	Observed float64
	Msg      string
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("validation check %q failed: limit is: %.2f and imported data has: %.2f", e.Check, e.Limit, e.Observed)
}

// SchemaError reports a DB schema mismatch, missing partition, or role
// deficiency. Fatal; the user must run the corresponding admin subcommand.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string { return "schema error: " + e.Detail }

// ConfigError reports invalid or conflicting configuration, detected at
// parse time, before any work begins.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string { return "config error: " + e.Detail }

// ConflictError reports a unique-constraint violation during a merge.
// Retried once by the caller after re-reading the conflicting row; surfaced
// if the retry also conflicts.
type ConflictError struct {
	Table string
	Key   string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s (key=%s): %v", e.Table, e.Key, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// TransientError reports a connection loss or timeout. Retried with
// exponential backoff up to a bounded number of attempts (internal/retry).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
