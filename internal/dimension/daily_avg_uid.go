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

	"github.com/dirbs-project/dirbs-core/internal/bitmask"
)

func init() {
	Register("daily_avg_uid", newDailyAvgUID)
}

type dailyAvgUID struct {
	threshold   float64
	periodDays  int
	minSeenDays int
}

func newDailyAvgUID(params map[string]any) (Dimension, error) {
	threshold := paramFloat(params, "threshold", 0)
	if threshold <= 0 {
		return nil, fmt.Errorf("daily_avg_uid: threshold must be > 0")
	}
	period, err := resolvePeriodDays(params)
	if err != nil {
		return nil, fmt.Errorf("daily_avg_uid: %w", err)
	}
	return &dailyAvgUID{threshold: threshold, periodDays: period, minSeenDays: paramInt(params, "min_seen_days", 1)}, nil
}

func (d *dailyAvgUID) Label() string { return "daily_avg_uid" }

// Evaluate is duplicate_daily_avg's sibling: "counts distinct
// UIDs from the registered-subscribers join ... evaluates UIDs seen per
// day via bit_or of bitmasks, then unique_bitcount".
func (d *dailyAvgUID) Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, currDate time.Time) (*roaring.Bitmap, error) {
	win := ComputeWindow(nil, currDate, time.Duration(d.periodDays)*24*time.Hour)

	imeis, err := store.NetworkIMEIsInShard(loShard, hiShard)
	if err != nil {
		return nil, fmt.Errorf("daily_avg_uid: %w", err)
	}

	matching := roaring.New()
	for _, imei := range imeis {
		buckets, err := store.RegisteredUIDsByDay(imei, win)
		if err != nil {
			return nil, fmt.Errorf("daily_avg_uid: uid buckets for %s: %w", imei, err)
		}
		var daily bitmask.DailyBuckets
		for _, b := range buckets {
			daily.Add(b.DayBitmask, float64(uniqueCount(b.UIDs)))
		}
		if daily.DaysSeen() >= d.minSeenDays && daily.Average() >= d.threshold {
			if id, ok := universe.ID(imei); ok {
				matching.Add(id)
			}
		}
	}
	return matching, nil
}

func uniqueCount(items []string) int {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		seen[item] = struct{}{}
	}
	return len(seen)
}
