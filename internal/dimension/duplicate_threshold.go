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

package dimension

import (
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

func init() {
	Register("duplicate_threshold", newDuplicateThreshold)
}

type duplicateThreshold struct {
	threshold   int
	periodDays  int
	useMSISDN   bool
}

func newDuplicateThreshold(params map[string]any) (Dimension, error) {
	threshold := paramInt(params, "threshold", 0)
	if threshold <= 0 {
		return nil, fmt.Errorf("duplicate_threshold: threshold must be > 0")
	}
	period, err := resolvePeriodDays(params)
	if err != nil {
		return nil, fmt.Errorf("duplicate_threshold: %w", err)
	}
	return &duplicateThreshold{
		threshold:  threshold,
		periodDays: period,
		useMSISDN:  paramBool(params, "use_msisdn", false),
	}, nil
}

// resolvePeriodDays reads either period_days or period_months (30-day
// months) from params.
func resolvePeriodDays(params map[string]any) (int, error) {
	if d := paramInt(params, "period_days", 0); d > 0 {
		return d, nil
	}
	if m := paramInt(params, "period_months", 0); m > 0 {
		return m * 30, nil
	}
	return 0, fmt.Errorf("period_days or period_months is required")
}

func (d *duplicateThreshold) Label() string { return "duplicate_threshold" }

func (d *duplicateThreshold) Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, currDate time.Time) (*roaring.Bitmap, error) {
	win := ComputeWindow(nil, currDate, time.Duration(d.periodDays)*24*time.Hour)

	imeis, err := store.NetworkIMEIsInShard(loShard, hiShard)
	if err != nil {
		return nil, fmt.Errorf("duplicate_threshold: %w", err)
	}

	matching := roaring.New()
	for _, imei := range imeis {
		buckets, err := store.TripletBuckets(imei, win)
		if err != nil {
			return nil, fmt.Errorf("duplicate_threshold: buckets for %s: %w", imei, err)
		}
		distinct := 0
		for _, b := range buckets {
			if d.useMSISDN {
				distinct += b.DistinctMSISDNs
			} else {
				distinct += b.DistinctIMSIs
			}
		}
		if distinct >= d.threshold {
			if id, ok := universe.ID(imei); ok {
				matching.Add(id)
			}
		}
	}
	return matching, nil
}
