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
	"fmt"
	"time"

	"github.com/dirbs-project/dirbs-core/internal/config"
)

// amnestyWindow is the parsed form of config.Amnesty.
type amnestyWindow struct {
	enabled           bool
	evaluationPeriodEnd time.Time
	amnestyPeriodEnd  time.Time
}

// dateLayout is the YYYYMMDD form shared by filenames, CSV date columns,
// and the amnesty config dates.
const dateLayout = "20060102"

func parseAmnesty(a config.Amnesty) (amnestyWindow, error) {
	if !a.Enabled {
		return amnestyWindow{}, nil
	}
	evalEnd, err := time.Parse(dateLayout, a.EvaluationPeriodEnd)
	if err != nil {
		return amnestyWindow{}, fmt.Errorf("amnesty.evaluation_period_end_date: %w", err)
	}
	amnestyEnd, err := time.Parse(dateLayout, a.AmnestyPeriodEnd)
	if err != nil {
		return amnestyWindow{}, fmt.Errorf("amnesty.amnesty_period_end_date: %w", err)
	}
	return amnestyWindow{enabled: true, evaluationPeriodEnd: evalEnd, amnestyPeriodEnd: amnestyEnd}, nil
}

// blockDateFor derives block_date for a match opened/reconciled on
// currDate: grace-period offset from start_date for blocking
// conditions, deferred to the amnesty window's end date when amnesty is
// active and currDate falls within either the evaluation or amnesty
// period (block_date defers to amnesty_period_end_date in both cases).
func blockDateFor(currDate time.Time, cond config.ConditionConfig, amnesty amnestyWindow) *time.Time {
	if !cond.Blocking {
		return nil
	}
	if deferred := amnestyOverride(currDate, amnesty); deferred != nil {
		return deferred
	}
	grace := currDate.AddDate(0, 0, cond.GracePeriodDays)
	return &grace
}

// amnestyOverride returns the deferred block date when currDate falls
// inside the evaluation or amnesty period, nil otherwise.
func amnestyOverride(currDate time.Time, amnesty amnestyWindow) *time.Time {
	if amnesty.enabled && (currDate.Before(amnesty.evaluationPeriodEnd) || currDate.Before(amnesty.amnestyPeriodEnd)) {
		return &amnesty.amnestyPeriodEnd
	}
	return nil
}
