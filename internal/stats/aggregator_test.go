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

package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dirbs-project/dirbs-core/internal/storage"
)

func TestRankModelsTakesTop10BySeparateMetrics(t *testing.T) {
	rows := make([]storage.ModelCount, 0, 15)
	for i := 0; i < 15; i++ {
		rows = append(rows, storage.ModelCount{
			Manufacturer: "acme",
			ModelName:    string(rune('a' + i)),
			NumIMEIs:     int64(i),
			NumGrossAdds: int64(15 - i),
		})
	}
	byIMEIs, byAdds := rankModels(rows)
	assert.Len(t, byIMEIs, 10)
	assert.Len(t, byAdds, 10)
	assert.Equal(t, int64(14), byIMEIs[0].NumIMEIs)
	assert.Equal(t, int64(15), byAdds[0].NumGrossAdds)
}

func TestRollupComplianceClassifiesByBlockingCondition(t *testing.T) {
	rows := []storage.TACComplianceRow{
		{TAC: "tac1", IMEINorm: "imei1", CondName: "blocklist"},
		{TAC: "tac1", IMEINorm: "imei2", CondName: "informative"},
		{TAC: "tac2", IMEINorm: "imei3", CondName: "informative"},
	}
	blocking := map[string]bool{"blocklist": true, "informative": false}
	got := rollupCompliance(rows, blocking)
	byTAC := map[string]ComplianceStat{}
	for _, cs := range got {
		byTAC[cs.TAC] = cs
	}
	assert.Equal(t, int64(1), byTAC["tac1"].NonCompliant)
	assert.Equal(t, int64(1), byTAC["tac1"].Informational)
	assert.Equal(t, int64(1), byTAC["tac2"].Informational)
}

func TestRollupComplianceNonCompliantDominatesInformational(t *testing.T) {
	rows := []storage.TACComplianceRow{
		{TAC: "tac1", IMEINorm: "imei1", CondName: "informative"},
		{TAC: "tac1", IMEINorm: "imei1", CondName: "blocklist"},
	}
	blocking := map[string]bool{"blocklist": true, "informative": false}
	got := rollupCompliance(rows, blocking)
	assert.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].NonCompliant)
	assert.Equal(t, int64(0), got[0].Informational)
}

func TestReconcileComplianceWithinToleranceKeepsExact(t *testing.T) {
	cs := ComplianceStat{Compliant: 100, NonCompliant: 0, Informational: 0, NumIMEIsHLL: 100.5}
	n, reconciled := ReconcileCompliance(cs)
	assert.Equal(t, int64(100), n)
	assert.False(t, reconciled)
}

func TestReconcileComplianceBeyondToleranceFlags(t *testing.T) {
	cs := ComplianceStat{Compliant: 100, NonCompliant: 0, Informational: 0, NumIMEIsHLL: 500}
	n, reconciled := ReconcileCompliance(cs)
	assert.Equal(t, int64(100), n)
	assert.True(t, reconciled)
}

func TestOverloadingHistogramSingleRowBucketsByRatio(t *testing.T) {
	rows := []storage.OverloadingRow{
		{IMEINorm: "imei1", DateBitmask: 0b0000111}, // days 1-3
	}
	buckets := overloadingHistogram(rows)
	var total int64
	for _, b := range buckets {
		total += b.Count
	}
	assert.Equal(t, int64(1), total)
	// weightedSum=3, daysSeen=3 -> average=1; orMask also 3 bits -> ratio 1/3 -> bin 3.
	assert.Equal(t, int64(1), buckets[3].Count)
}

func TestOverloadingHistogramBucketsSumToInputCount(t *testing.T) {
	rows := []storage.OverloadingRow{
		{IMEINorm: "imei1", DateBitmask: 0b0000001},
		{IMEINorm: "imei1", DateBitmask: 0b0000010},
		{IMEINorm: "imei2", DateBitmask: 0b0001111},
	}
	buckets := overloadingHistogram(rows)
	var total int64
	for _, b := range buckets {
		total += b.Count
	}
	assert.Equal(t, int64(2), total)
}
