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

package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/config"
)

func TestOrderedConditionsBlockingFirstThenLabel(t *testing.T) {
	in := []config.ConditionConfig{
		{Label: "zeta", Blocking: false},
		{Label: "alpha", Blocking: true},
		{Label: "beta", Blocking: true},
		{Label: "gamma", Blocking: false},
	}
	out := orderedConditions(in)
	labels := make([]string, len(out))
	for i, c := range out {
		labels[i] = c.Label
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma", "zeta"}, labels)
}

func TestBlockDateForNonBlockingIsNil(t *testing.T) {
	cond := config.ConditionConfig{Label: "c", Blocking: false}
	got := blockDateFor(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), cond, amnestyWindow{})
	assert.Nil(t, got)
}

func TestBlockDateForBlockingAddsGracePeriod(t *testing.T) {
	cond := config.ConditionConfig{Label: "c", Blocking: true, GracePeriodDays: 30}
	curr := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := blockDateFor(curr, cond, amnestyWindow{})
	require.NotNil(t, got)
	assert.Equal(t, curr.AddDate(0, 0, 30), *got)
}

func TestBlockDateForAmnestyDefersToAmnestyEnd(t *testing.T) {
	cond := config.ConditionConfig{Label: "c", Blocking: true, GracePeriodDays: 30}
	curr := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	amnestyEnd := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	win := amnestyWindow{
		enabled:             true,
		evaluationPeriodEnd: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		amnestyPeriodEnd:    amnestyEnd,
	}
	got := blockDateFor(curr, cond, win)
	require.NotNil(t, got)
	assert.Equal(t, amnestyEnd, *got)
}

func TestParseAmnestyDisabledIsZeroValue(t *testing.T) {
	win, err := parseAmnesty(config.Amnesty{Enabled: false})
	require.NoError(t, err)
	assert.False(t, win.enabled)
}

func TestParseAmnestyRejectsBadDates(t *testing.T) {
	_, err := parseAmnesty(config.Amnesty{Enabled: true, EvaluationPeriodEnd: "not-a-date", AmnestyPeriodEnd: "20260601"})
	assert.Error(t, err)
}

func TestWithOperatorPrefixesMergesMCCMNC(t *testing.T) {
	ops := []config.Operator{
		{ID: "op1", Pairs: []config.MCCMNC{{MCC: "001", MNC: "01"}}},
		{ID: "op2", Pairs: []config.MCCMNC{{MCC: "002", MNC: "02"}}},
	}
	merged := withOperatorPrefixes(map[string]any{"lookback_days": int64(30)}, ops)
	prefixes, ok := merged["mcc_mnc_prefixes"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"00101", "00202"}, prefixes)
	assert.Equal(t, int64(30), merged["lookback_days"])
}
