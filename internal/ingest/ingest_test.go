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

package ingest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/ingest"
)

func TestParseFilename_HappyPath(t *testing.T) {
	today := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	desc, err := ingest.ParseFilename("op1_20160701_20160731.zip", []string{"op1", "op2"}, today)
	require.NoError(t, err)
	require.Equal(t, "op1", desc.Operator)
	require.Equal(t, time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC), desc.Start)
	require.Equal(t, time.Date(2016, 7, 31, 0, 0, 0, 0, time.UTC), desc.End)
	require.Empty(t, desc.Warning)
}

func TestParseFilename_NormalizesCaseWithWarning(t *testing.T) {
	today := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	desc, err := ingest.ParseFilename("OP1_20160701_20160731.zip", []string{"op1"}, today)
	require.NoError(t, err)
	require.Equal(t, "op1", desc.Operator)
	require.NotEmpty(t, desc.Warning)
}

func TestParseFilename_RejectsFutureEnd(t *testing.T) {
	today := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := ingest.ParseFilename("op1_20160701_20160731.zip", []string{"op1"}, today)
	require.Error(t, err)
}

func TestParseFilename_RejectsStartAfterEnd(t *testing.T) {
	today := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := ingest.ParseFilename("op1_20160731_20160701.zip", []string{"op1"}, today)
	require.Error(t, err)
}

func TestValidateRow_NullsInvalidFields(t *testing.T) {
	start := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2016, 7, 31, 0, 0, 0, 0, time.UTC)

	row := ingest.ValidateRow(ingest.Row{
		Date: "20160715", IMEI: "01234567890123", IMSI: "bad-imsi", MSISDN: "222000049781840", RAT: "101",
	}, start, end)

	require.True(t, row.DateOK)
	require.Equal(t, "01234567890123", row.IMEINorm)
	require.Empty(t, row.IMSINorm)
	require.Equal(t, "222000049781840", row.MSISDNNorm)
	require.Equal(t, "101", row.RATNorm)
}

func TestValidateRow_DateOutOfWindow(t *testing.T) {
	start := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2016, 7, 31, 0, 0, 0, 0, time.UTC)
	row := ingest.ValidateRow(ingest.Row{Date: "20160801", IMEI: "01234567890123"}, start, end)
	require.False(t, row.DateOK)
}

func TestIsUncleanIMEI(t *testing.T) {
	require.False(t, ingest.IsUncleanIMEI("", "anything"))
	require.True(t, ingest.IsUncleanIMEI("11111111111111", "11111111111111"))
	require.True(t, ingest.IsUncleanIMEI("short", "short"))
	require.False(t, ingest.IsUncleanIMEI("01234567890123", "01234567890123"))
}

func TestBatch_LeadingZeroCheck_AbortsOnMoreOnesThanZeros(t *testing.T) {
	b := ingest.Batch{LeadingZero: 2, LeadingOne: 5}
	result := b.LeadingZeroCheck(0.1)
	require.False(t, result.Passed)
}

func TestBatch_LeadingZeroCheck_PassesWithinSuspectLimit(t *testing.T) {
	b := ingest.Batch{LeadingZero: 10, LeadingOne: 4, LeadingOneGSMAPrefixed: 0}
	result := b.LeadingZeroCheck(0.1)
	require.True(t, result.Passed)
}

func TestBatch_NullChecks(t *testing.T) {
	b := ingest.Batch{TotalRows: 100, NullIMEI: 1, NullIMSI: 0, NullMSISDN: 0, NullRAT: 0, NullAny: 1}
	thresholds := ingest.NullThresholds{IMEI: 0.05, IMSI: 0.05, MSISDN: 0.05, RAT: 0.05, Combined: 0.05}
	results := b.NullChecks(thresholds)
	for _, r := range results {
		require.True(t, r.Passed, r.Name)
	}
}

func TestRunChecks_RespectsDisabledSwitches(t *testing.T) {
	b := ingest.Batch{TotalRows: 10, LeadingOne: 9, LeadingZero: 1}
	switches := config.ImportSwitches{} // all perform_* checks off
	results, err := ingest.RunChecks(b, config.ImportThresholds{}, switches, ingest.HistoricAverages{}, ingest.HistoricAverages{}, 0.5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestRunChecks_FirstFailureAborts(t *testing.T) {
	b := ingest.Batch{TotalRows: 10, LeadingOne: 9, LeadingZero: 1}
	switches := config.ImportSwitches{PerformLeadingZeroCheck: true}
	thresholds := config.ImportThresholds{LeadingZeroSuspect: 0.1}
	_, err := ingest.RunChecks(b, thresholds, switches, ingest.HistoricAverages{}, ingest.HistoricAverages{}, 0.5)
	require.Error(t, err)
}

func TestTripletAccumulator_AggregatesByKeyAndOrsBitmask(t *testing.T) {
	acc := ingest.NewTripletAccumulator()
	acc.Add("01234567890123", "111015113222222", "222000049781840", time.Date(2016, 7, 15, 0, 0, 0, 0, time.UTC))
	acc.Add("01234567890123", "111015113222222", "222000049781840", time.Date(2016, 7, 20, 0, 0, 0, 0, time.UTC))

	rows := acc.Rows("op1")
	require.Len(t, rows, 1)
	require.Equal(t, time.Date(2016, 7, 15, 0, 0, 0, 0, time.UTC), rows[0].FirstSeen)
	require.Equal(t, time.Date(2016, 7, 20, 0, 0, 0, 0, time.UTC), rows[0].LastSeen)
	require.NotZero(t, rows[0].DateBitmask)
}

func TestTripletHash_Deterministic(t *testing.T) {
	h1 := ingest.TripletHash("01234567890123", "111015113222222", "222000049781840")
	h2 := ingest.TripletHash("01234567890123", "111015113222222", "222000049781840")
	require.Equal(t, h1, h2)
}

func TestAdvisoryLockKey_DistinctPerOperator(t *testing.T) {
	require.NotEqual(t, ingest.AdvisoryLockKey("op1"), ingest.AdvisoryLockKey("op2"))
}
