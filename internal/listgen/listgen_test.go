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

package listgen

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func TestFoldEntriesSplitsOnBlockDate(t *testing.T) {
	curr := date(2016, time.July, 15)
	rows := []storage.ClassificationRow{
		{IMEINorm: "35000000000000", CondName: "duplicate_threshold", BlockDate: datePtr(2016, time.July, 10)},
		{IMEINorm: "35000000000000", CondName: "gsma_not_found", BlockDate: datePtr(2016, time.July, 20)},
		{IMEINorm: "86000000000000", CondName: "gsma_not_found", BlockDate: datePtr(2016, time.August, 1)},
	}

	blocked, pending := FoldEntries(rows, curr)

	require.Len(t, blocked, 1)
	assert.Equal(t, "35000000000000", blocked[0].IMEINorm)
	// Earliest block date across conditions wins; both reasons are carried.
	assert.Equal(t, date(2016, time.July, 10), blocked[0].BlockDate)
	assert.Equal(t, []string{"duplicate_threshold", "gsma_not_found"}, blocked[0].Reasons)

	require.Len(t, pending, 1)
	assert.Equal(t, "86000000000000", pending[0].IMEINorm)
}

func TestFoldEntriesBlockDateTodayIsBlocked(t *testing.T) {
	curr := date(2016, time.July, 15)
	rows := []storage.ClassificationRow{
		{IMEINorm: "35000000000000", CondName: "c", BlockDate: datePtr(2016, time.July, 15)},
	}
	blocked, pending := FoldEntries(rows, curr)
	assert.Len(t, blocked, 1)
	assert.Empty(t, pending)
}

func TestWriteBlacklistFormat(t *testing.T) {
	entries := []Entry{
		{IMEINorm: "35000000000000", BlockDate: date(2016, time.July, 10), Reasons: []string{"duplicate_threshold", "gsma_not_found"}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteBlacklist(&buf, entries))
	assert.Equal(t, "imei,block_date,reasons\n35000000000000,20160710,duplicate_threshold|gsma_not_found\n", buf.String())
}

func TestWriteNotificationsJoinsPairings(t *testing.T) {
	imsi := "111015113222222"
	msisdn := "222000049781840"
	entries := map[string]Entry{
		"35000000000000": {IMEINorm: "35000000000000", BlockDate: date(2016, time.August, 1), Reasons: []string{"gsma_not_found"}},
	}
	pairings := []storage.TripletPairing{
		{IMEINorm: "35000000000000", IMSI: &imsi, MSISDN: &msisdn},
		{IMEINorm: "99999999999999", IMSI: &imsi}, // not pending: dropped
	}
	var buf bytes.Buffer
	require.NoError(t, WriteNotifications(&buf, entries, pairings))
	assert.Equal(t,
		"imei,imsi,msisdn,block_date,reasons\n35000000000000,111015113222222,222000049781840,20160801,gsma_not_found\n",
		buf.String())
}

func TestWriteExceptionsFormat(t *testing.T) {
	imsi := "111015113222222"
	pairings := []storage.TripletPairing{
		{IMEINorm: "38847733370026", IMSI: &imsi},
		{IMEINorm: "38847733370027"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteExceptions(&buf, pairings))
	assert.Equal(t, "imei,imsi\n38847733370026,111015113222222\n38847733370027,\n", buf.String())
}

func twoOperators() []config.Operator {
	return []config.Operator{
		{ID: "op1", Pairs: []config.MCCMNC{{MCC: "111", MNC: "01"}}},
		{ID: "op2", Pairs: []config.MCCMNC{{MCC: "111", MNC: "02"}}},
	}
}

func TestOperatorForIMSILongestPrefix(t *testing.T) {
	ops := twoOperators()
	assert.Equal(t, "op1", operatorForIMSI("111015113222222", ops))
	assert.Equal(t, "op2", operatorForIMSI("111025113222222", ops))
	assert.Equal(t, "", operatorForIMSI("999995113222222", ops))
}

func TestPairsForOperatorRouting(t *testing.T) {
	ops := twoOperators()
	op1IMSI := "111015113222222"
	foreignIMSI := "999990000000000"
	pairs := []storage.TripletPairing{
		{IMEINorm: "A", IMSI: &op1IMSI},
		{IMEINorm: "B", IMSI: &foreignIMSI},
		{IMEINorm: "C"},
	}

	op1Pairs := pairsForOperator(pairs, ops[0], ops)
	op2Pairs := pairsForOperator(pairs, ops[1], ops)

	// op1 owns A; unroutable and IMSI-less pairs go to every operator.
	assert.Len(t, op1Pairs, 3)
	assert.Len(t, op2Pairs, 2)
}

func TestBlockingLabels(t *testing.T) {
	conds := []config.ConditionConfig{
		{Label: "a", Blocking: true},
		{Label: "b", Blocking: false},
		{Label: "c", Blocking: true},
	}
	assert.Equal(t, []string{"a", "c"}, blockingLabels(conds))
}
