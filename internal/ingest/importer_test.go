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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/dirbserr"
	"github.com/dirbs-project/dirbs-core/internal/shard"
)

func TestParseHeaderCaseInsensitiveSubset(t *testing.T) {
	h, err := ParseHeader([]string{"Date", "IMEI", "imsi"})
	require.NoError(t, err)
	assert.Equal(t, 0, h.Date)
	assert.Equal(t, 1, h.IMEI)
	assert.Equal(t, 2, h.IMSI)
	assert.Equal(t, -1, h.MSISDN)
	assert.Equal(t, -1, h.RAT)
}

func TestParseHeaderRejectsUnknownColumn(t *testing.T) {
	_, err := ParseHeader([]string{"date", "imei", "subscriber"})
	var verr *dirbserr.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestParseHeaderRequiresDateAndIMEI(t *testing.T) {
	_, err := ParseHeader([]string{"imsi", "msisdn"})
	var verr *dirbserr.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestReaderIteratesRows(t *testing.T) {
	csvData := "date,imei,imsi,msisdn\n" +
		"20160715,01234567890123,111015113222222,222000049781840\n" +
		"20160716,01234567890124,111015113222223\n"
	r, err := NewReader(strings.NewReader(csvData))
	require.NoError(t, err)

	row, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20160715", row.Date)
	assert.Equal(t, "01234567890123", row.IMEI)

	// Ragged record: missing trailing msisdn reads as blank, not an error.
	row, ok, err = r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "", row.MSISDN)

	_, ok, err = r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRATBitmask(t *testing.T) {
	assert.Equal(t, uint32(0), RATBitmask(""))
	assert.Equal(t, uint32(1), RATBitmask("001"))
	assert.Equal(t, uint32(1<<6), RATBitmask("007"))
	assert.Equal(t, uint32(1<<7), RATBitmask("101"))
	assert.Equal(t, uint32(1<<11), RATBitmask("105"))
	assert.Equal(t, uint32(1|1<<7), RATBitmask("001|101"))
}

func TestLeafNamesStayWithinIdentifierLimit(t *testing.T) {
	r := shard.Range{Lo: 0, Hi: 34}
	mno := MNOLeafName("operator_with_a_quite_long_name", 2016, 7, r)
	assert.LessOrEqual(t, len(mno), shard.MaxNameLength)
	assert.True(t, strings.HasSuffix(mno, "_0_33"))

	country := CountryLeafName(2016, 7, r)
	assert.Equal(t, "monthly_network_triplets_per_country_2016_7_0_33", country)
}

func TestHasAnyPrefix(t *testing.T) {
	assert.True(t, hasAnyPrefix("11101", []string{"222", "111"}))
	assert.False(t, hasAnyPrefix("999", []string{"222", "111"}))
	assert.False(t, hasAnyPrefix("999", nil))
}
