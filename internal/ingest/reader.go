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

package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dirbs-project/dirbs-core/internal/dirbserr"
)

// Header maps the recognized operator-data CSV columns to their positions
// in each record. A value of -1 means the column is absent from the file.
type Header struct {
	Date, IMEI, IMSI, MSISDN, RAT int
}

// ParseHeader resolves a header record case-insensitively. Column names
// must be a subset of {date, imei, imsi, msisdn, rat}; date and imei are
// mandatory, anything unrecognized is a validation failure.
func ParseHeader(record []string) (Header, error) {
	h := Header{Date: -1, IMEI: -1, IMSI: -1, MSISDN: -1, RAT: -1}
	for i, name := range record {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			h.Date = i
		case "imei":
			h.IMEI = i
		case "imsi":
			h.IMSI = i
		case "msisdn":
			h.MSISDN = i
		case "rat":
			h.RAT = i
		default:
			return h, &dirbserr.ValidationError{
				Check: "csv_header_check",
				Msg:   fmt.Sprintf("unrecognized CSV column %q (expected a subset of date,imei,imsi,msisdn,rat)", name),
			}
		}
	}
	if h.Date == -1 || h.IMEI == -1 {
		return h, &dirbserr.ValidationError{
			Check: "csv_header_check",
			Msg:   "CSV must carry at least the date and imei columns",
		}
	}
	return h, nil
}

// row projects one CSV record through the header mapping.
func (h Header) row(record []string) Row {
	get := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	return Row{
		Date:   get(h.Date),
		IMEI:   get(h.IMEI),
		IMSI:   get(h.IMSI),
		MSISDN: get(h.MSISDN),
		RAT:    get(h.RAT),
	}
}

// Reader iterates the data rows of one operator CSV.
type Reader struct {
	cr     *csv.Reader
	header Header
	line   int
}

// NewReader parses the header record and returns a row iterator. The
// underlying csv.Reader tolerates ragged records; the header mapping blanks
// any missing trailing fields instead.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	first, err := cr.Read()
	if err != nil {
		return nil, &dirbserr.ValidationError{Check: "csv_header_check", Msg: fmt.Sprintf("read CSV header: %v", err)}
	}
	header, err := ParseHeader(first)
	if err != nil {
		return nil, err
	}
	return &Reader{cr: cr, header: header, line: 1}, nil
}

// Header exposes the resolved column mapping, so callers can tell whether
// optional columns were present at all.
func (r *Reader) Header() Header { return r.header }

// Next returns the next data row. ok is false at clean EOF.
func (r *Reader) Next() (row Row, ok bool, err error) {
	record, err := r.cr.Read()
	if err == io.EOF {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, &dirbserr.ValidationError{
			Check: "csv_format_check",
			Msg:   fmt.Sprintf("line %d: %v", r.line+1, err),
		}
	}
	r.line++
	return r.header.row(record), true, nil
}
