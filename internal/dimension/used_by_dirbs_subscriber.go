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
	Register("used_by_dirbs_subscriber", newUsedByDIRBSSubscriber)
}

// usedByDIRBSSubscriber matches
// lookback_days plus the set of MCC+MNC prefixes belonging to configured
// operators. The classification engine populates mcc_mnc_prefixes from
// config.Operators when building this dimension (the Dimension algebra
// stays pure and parameter-driven rather than taking a config argument
// directly, per the framework's Constructor contract).
type usedByDIRBSSubscriber struct {
	lookbackDays int
	prefixes     map[string]bool
}

func newUsedByDIRBSSubscriber(params map[string]any) (Dimension, error) {
	lookback := paramInt(params, "lookback_days", 0)
	if lookback <= 0 {
		return nil, fmt.Errorf("used_by_dirbs_subscriber: lookback_days must be > 0")
	}
	prefixes := map[string]bool{}
	if raw, ok := params["mcc_mnc_prefixes"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				prefixes[s] = true
			}
		}
	}
	return &usedByDIRBSSubscriber{lookbackDays: lookback, prefixes: prefixes}, nil
}

func (d *usedByDIRBSSubscriber) Label() string { return "used_by_dirbs_subscriber" }

func (d *usedByDIRBSSubscriber) Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, currDate time.Time) (*roaring.Bitmap, error) {
	win := ComputeWindow(nil, currDate, time.Duration(d.lookbackDays)*24*time.Hour)

	imeis, err := store.NetworkIMEIsInShard(loShard, hiShard)
	if err != nil {
		return nil, fmt.Errorf("used_by_dirbs_subscriber: %w", err)
	}

	matching := roaring.New()
	for _, imei := range imeis {
		imsiPrefixes, err := store.IMSIPrefixes(imei, win)
		if err != nil {
			return nil, fmt.Errorf("used_by_dirbs_subscriber: imsi prefixes for %s: %w", imei, err)
		}
		for _, prefix := range imsiPrefixes {
			// prefix is an IMSI's first six digits: a 6-digit MCC+MNC
			// matches it whole, a 5-digit one its first five.
			if d.prefixes[prefix] || (len(prefix) >= 5 && d.prefixes[prefix[:5]]) {
				if id, ok := universe.ID(imei); ok {
					matching.Add(id)
				}
				break
			}
		}
	}
	return matching, nil
}
