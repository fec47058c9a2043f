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

// Package ingest implements the operator-data validator pipeline: the
// filename/daterange check, the per-row CSV gates, and the batch-level
// ratio checks that must all pass before the copy stage runs.
package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dirbs-project/dirbs-core/internal/dirbserr"
)

var filenamePattern = regexp.MustCompile(`^([A-Za-z0-9_]+)_(\d{8})_(\d{8})\.zip$`)

// FileDescriptor is the parsed shape of an input filename
// "<operator>_<YYYYMMDD>_<YYYYMMDD>.zip".
type FileDescriptor struct {
	Operator string
	Start    time.Time
	End      time.Time
	// Warning is set when the operator token required case-normalization
	// to match the configured identifier.
	Warning string
}

// ParseFilename applies the filename check: the name
// must match the operator_YYYYMMDD_YYYYMMDD.zip shape, both dates must
// parse, start must not be after end, and end must not be in the future
// relative to today.
func ParseFilename(name string, configuredOperators []string, today time.Time) (FileDescriptor, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return FileDescriptor{}, &dirbserr.ValidationError{
			Check: "file_daterange_check", Msg: fmt.Sprintf("filename %q does not match <operator>_<YYYYMMDD>_<YYYYMMDD>.zip", name),
		}
	}
	operatorToken, startRaw, endRaw := m[1], m[2], m[3]

	start, err := time.Parse("20060102", startRaw)
	if err != nil {
		return FileDescriptor{}, &dirbserr.ValidationError{Check: "file_daterange_check", Msg: fmt.Sprintf("start date %q does not parse: %v", startRaw, err)}
	}
	end, err := time.Parse("20060102", endRaw)
	if err != nil {
		return FileDescriptor{}, &dirbserr.ValidationError{Check: "file_daterange_check", Msg: fmt.Sprintf("end date %q does not parse: %v", endRaw, err)}
	}
	if start.After(end) {
		return FileDescriptor{}, &dirbserr.ValidationError{Check: "file_daterange_check", Msg: fmt.Sprintf("start date %s is after end date %s", startRaw, endRaw)}
	}
	if end.After(today) {
		return FileDescriptor{}, &dirbserr.ValidationError{Check: "file_daterange_check", Msg: fmt.Sprintf("end date %s is after today (%s)", endRaw, today.Format("20060102"))}
	}

	desc := FileDescriptor{Operator: operatorToken, Start: start, End: end}
	for _, configured := range configuredOperators {
		if strings.EqualFold(configured, operatorToken) {
			if configured != operatorToken {
				desc.Warning = fmt.Sprintf("operator token %q normalized to configured id %q", operatorToken, configured)
			}
			desc.Operator = configured
			return desc, nil
		}
	}
	return FileDescriptor{}, &dirbserr.ValidationError{Check: "file_daterange_check", Msg: fmt.Sprintf("operator token %q does not match any configured operator", operatorToken)}
}
