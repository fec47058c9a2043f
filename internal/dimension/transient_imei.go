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
	"sort"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dirbs-project/dirbs-core/internal/bitmask"
)

func init() {
	Register("transient_imei", newTransientIMEI)
}

// transientIMEI matches IMEIs churning through MSISDNs whose
// multi-IMEI-per-MSISDN neighbors form an arithmetic progression: all
// pairwise differences in the sorted neighbor-IMEI list equal the first
// difference, and the neighbor set has length >= 3.
type transientIMEI struct {
	periodDays int
	numMSISDNs float64
}

func newTransientIMEI(params map[string]any) (Dimension, error) {
	period, err := resolvePeriodDays(params)
	if err != nil {
		return nil, fmt.Errorf("transient_imei: %w", err)
	}
	num := paramFloat(params, "num_msisdns", 0)
	if num <= 0 {
		return nil, fmt.Errorf("transient_imei: num_msisdns must be > 0")
	}
	return &transientIMEI{periodDays: period, numMSISDNs: num}, nil
}

func (d *transientIMEI) Label() string { return "transient_imei" }

func (d *transientIMEI) Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, currDate time.Time) (*roaring.Bitmap, error) {
	win := ComputeWindow(nil, currDate, time.Duration(d.periodDays)*24*time.Hour)

	imeis, err := store.NetworkIMEIsInShard(loShard, hiShard)
	if err != nil {
		return nil, fmt.Errorf("transient_imei: %w", err)
	}

	matching := roaring.New()
	for _, imei := range imeis {
		buckets, err := store.TripletBuckets(imei, win)
		if err != nil {
			return nil, fmt.Errorf("transient_imei: buckets for %s: %w", imei, err)
		}

		var daily bitmask.DailyBuckets
		operator := ""
		for _, b := range buckets {
			daily.Add(b.DateBitmask, float64(b.DistinctMSISDNs))
			operator = b.Operator
		}
		if daily.DaysSeen() == 0 || daily.Average() < d.numMSISDNs {
			continue
		}

		msisdns, err := store.MSISDNsForIMEI(imei, win)
		if err != nil {
			return nil, fmt.Errorf("transient_imei: msisdns for %s: %w", imei, err)
		}

		neighbors := map[string]bool{imei: true}
		for _, msisdn := range msisdns {
			others, err := store.IMEIsForMSISDN(msisdn, operator, win)
			if err != nil {
				return nil, fmt.Errorf("transient_imei: neighbors for %s: %w", msisdn, err)
			}
			for _, o := range others {
				neighbors[o] = true
			}
		}
		if len(neighbors) < 3 {
			continue
		}
		if !isArithmeticProgression(neighbors) {
			continue
		}
		if id, ok := universe.ID(imei); ok {
			matching.Add(id)
		}
	}
	return matching, nil
}

// IsArithmeticProgression reports whether the IMEIs, sorted numerically,
// form a sequence of length >= 3 with a constant common difference. The
// transient-MSISDN report reuses it to flag the same neighbor pattern this
// dimension matches on.
func IsArithmeticProgression(imeis []string) bool {
	set := make(map[string]bool, len(imeis))
	for _, imei := range imeis {
		set[imei] = true
	}
	return isArithmeticProgression(set)
}

// isArithmeticProgression reports whether the sorted numeric values of
// imeis form a sequence with a constant common difference.
func isArithmeticProgression(imeis map[string]bool) bool {
	values := make([]int64, 0, len(imeis))
	for imei := range imeis {
		n, err := strconv.ParseInt(imei, 10, 64)
		if err != nil {
			return false
		}
		values = append(values, n)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	if len(values) < 3 {
		return false
	}
	diff := values[1] - values[0]
	for i := 2; i < len(values); i++ {
		if values[i]-values[i-1] != diff {
			return false
		}
	}
	return true
}
