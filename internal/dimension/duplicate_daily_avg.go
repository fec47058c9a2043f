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
	Register("duplicate_daily_avg", newDuplicateDailyAvg)
}

type duplicateDailyAvg struct {
	threshold   float64
	periodDays  int
	minSeenDays int
	useMSISDN   bool
}

func newDuplicateDailyAvg(params map[string]any) (Dimension, error) {
	threshold := paramFloat(params, "threshold", 0)
	if threshold <= 0 {
		return nil, fmt.Errorf("duplicate_daily_avg: threshold must be > 0")
	}
	period, err := resolvePeriodDays(params)
	if err != nil {
		return nil, fmt.Errorf("duplicate_daily_avg: %w", err)
	}
	return &duplicateDailyAvg{
		threshold:   threshold,
		periodDays:  period,
		minSeenDays: paramInt(params, "min_seen_days", 1),
		useMSISDN:   paramBool(params, "use_msisdn", false),
	}, nil
}

func (d *duplicateDailyAvg) Label() string { return "duplicate_daily_avg" }

// Evaluate matches when "Σ msisdns_per_imei / Σ days_seen ≥
// threshold AND Σ days_seen ≥ min_seen_days, computed per triplet-month
// bucket using the date_bitmask" — internal/bitmask.DailyBuckets is the
// shared accumulator for exactly this shape.
func (d *duplicateDailyAvg) Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, currDate time.Time) (*roaring.Bitmap, error) {
	win := ComputeWindow(nil, currDate, time.Duration(d.periodDays)*24*time.Hour)

	imeis, err := store.NetworkIMEIsInShard(loShard, hiShard)
	if err != nil {
		return nil, fmt.Errorf("duplicate_daily_avg: %w", err)
	}

	matching := roaring.New()
	for _, imei := range imeis {
		buckets, err := store.TripletBuckets(imei, win)
		if err != nil {
			return nil, fmt.Errorf("duplicate_daily_avg: buckets for %s: %w", imei, err)
		}
		var daily bitmask.DailyBuckets
		for _, b := range buckets {
			count := b.DistinctIMSIs
			if d.useMSISDN {
				count = b.DistinctMSISDNs
			}
			daily.Add(b.DateBitmask, float64(count))
		}
		if daily.DaysSeen() >= d.minSeenDays && daily.Average() >= d.threshold {
			if id, ok := universe.ID(imei); ok {
				matching.Add(id)
			}
		}
	}
	return matching, nil
}
