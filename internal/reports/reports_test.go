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

package reports

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/stats"
)

func TestWriteStandardColumnsAndOrder(t *testing.T) {
	rows := []stats.ComplianceStat{
		{
			TAC:            "35000000",
			NonCompliant:   2,
			Conditions:     map[string]bool{"duplicate_threshold": true},
			NumIMEIs:       5,
			NumGrossAdds:   1,
			NumIMEIIMSIs:   3,
			NumIMEIMSISDNs: 2,
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteStandard(&buf, []string{"duplicate_threshold", "gsma_not_found"}, rows))

	out := buf.String()
	assert.Contains(t, out, "TAC,duplicate_threshold,gsma_not_found,num_imeis,num_imei_gross_adds,num_imei_imsis,num_imei_msisdns,num_subscriber_triplets,compliance_level")
	assert.Contains(t, out, "35000000,true,false,5,1,3,2,0,0")
}

func TestWriteConditionCountsKeysByCombination(t *testing.T) {
	rows := []stats.ComplianceStat{
		{TAC: "1", Conditions: map[string]bool{"a": true}, NumIMEIs: 3},
		{TAC: "2", Conditions: map[string]bool{"a": true}, NumIMEIs: 4},
		{TAC: "3", Conditions: map[string]bool{}, NumIMEIs: 10},
	}
	blocking := map[string]bool{"a": true}
	var buf bytes.Buffer
	require.NoError(t, WriteConditionCounts(&buf, []string{"a"}, blocking, rows))

	out := buf.String()
	assert.Contains(t, out, "true,7,0,0,0,0,0\n")
	assert.Contains(t, out, "false,10,0,0,0,0,2\n")
}

func TestWriteIMEIListSingleColumn(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteIMEIList(&buf, []string{"35000000000000", "35000000000001"}))
	assert.Equal(t, "IMEI\n35000000000000\n35000000000001\n", buf.String())
}

func TestWriteConditionIMEIOverlapPipeDelimited(t *testing.T) {
	var buf bytes.Buffer
	rows := []OverlapRow{{IMEI: "35000000000000", Operators: []string{"op1", "op2"}}}
	require.NoError(t, WriteConditionIMEIOverlap(&buf, rows))
	assert.Equal(t, "IMEI,Operators\n35000000000000,op1|op2\n", buf.String())
}

func TestFileNamePatterns(t *testing.T) {
	assert.Equal(t, "pk_07_2016.csv", FileNameStandard("pk", 7, 2016))
	assert.Equal(t, "pk_07_2016_condition_counts.csv", FileNameConditionCounts("pk", 7, 2016))
	assert.Equal(t, "pk_07_2016_gsma_not_found.csv", FileNameGSMANotFound("pk", 7, 2016))
	assert.Equal(t, "pk_07_2016_duplicates.csv", FileNameDuplicates("pk", 7, 2016))
	assert.Equal(t, "pk_07_2016_condition_imei_overlap_gsma_not_found.csv",
		FileNameConditionIMEIOverlap("pk", 7, 2016, "gsma_not_found"))
}
