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

	"github.com/dirbs-project/dirbs-core/internal/gsma"
)

func init() {
	Register("gsma_not_found", newGSMANotFound)
}

type gsmaNotFound struct {
	delays map[string]int
}

func newGSMANotFound(params map[string]any) (Dimension, error) {
	ignore := paramBool(params, "ignore_rbi_delays", false)
	overrides, err := parseRBIDelays(params["per_rbi_delays"])
	if err != nil {
		return nil, fmt.Errorf("gsma_not_found: %w", err)
	}
	if ignore && len(overrides) > 0 {
		return nil, fmt.Errorf("gsma_not_found: ignore_rbi_delays and per_rbi_delays are mutually exclusive")
	}
	return &gsmaNotFound{delays: gsma.ResolveDelays(overrides, ignore)}, nil
}

func parseRBIDelays(raw any) (map[string]int, error) {
	out := map[string]int{}
	if raw == nil {
		return out, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("per_rbi_delays must be a table of rbi -> days")
	}
	for k, v := range m {
		switch n := v.(type) {
		case int64:
			out[k] = int(n)
		case float64:
			out[k] = int(n)
		default:
			return nil, fmt.Errorf("per_rbi_delays[%q] must be an integer", k)
		}
	}
	return out, nil
}

func (d *gsmaNotFound) Label() string { return "gsma_not_found" }

func (d *gsmaNotFound) Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, currDate time.Time) (*roaring.Bitmap, error) {
	imeis, err := store.NetworkIMEIsInShard(loShard, hiShard)
	if err != nil {
		return nil, fmt.Errorf("gsma_not_found: %w", err)
	}

	matching := roaring.New()
	for _, imei := range imeis {
		tac := gsma.TAC(imei)
		_, _, _, found, err := store.GSMALookup(tac)
		if err != nil {
			return nil, fmt.Errorf("gsma_not_found: lookup %s: %w", tac, err)
		}
		if found {
			continue
		}

		firstSeen, err := store.FirstSeen(imei)
		if err != nil {
			return nil, fmt.Errorf("gsma_not_found: first_seen %s: %w", imei, err)
		}
		delay := d.delays[gsma.RBI(imei)]
		if currDate.Before(firstSeen.AddDate(0, 0, delay)) {
			continue // still within the RBI's allocation-delay grace window
		}

		if id, ok := universe.ID(imei); ok {
			matching.Add(id)
		}
	}
	return matching, nil
}
