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
	Register("inconsistent_rat", func(map[string]any) (Dimension, error) { return inconsistentRAT{}, nil })
}

type inconsistentRAT struct{}

func (inconsistentRAT) Label() string { return "inconsistent_rat" }

func (inconsistentRAT) Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, _ time.Time) (*roaring.Bitmap, error) {
	imeis, err := store.NetworkIMEIsInShard(loShard, hiShard)
	if err != nil {
		return nil, fmt.Errorf("inconsistent_rat: %w", err)
	}

	matching := roaring.New()
	for _, imei := range imeis {
		seenRAT, err := store.SeenRATBitmask(imei)
		if err != nil {
			return nil, fmt.Errorf("inconsistent_rat: seen_rat_bitmask %s: %w", imei, err)
		}
		_, _, gsmaRAT, found, err := store.GSMALookup(gsma.TAC(imei))
		if err != nil {
			return nil, fmt.Errorf("inconsistent_rat: lookup %s: %w", imei, err)
		}
		if !found {
			continue // gsma_not_found already flags this; no capability data to compare against
		}
		if gsma.InconsistentRAT(seenRAT, gsmaRAT) {
			if id, ok := universe.ID(imei); ok {
				matching.Add(id)
			}
		}
	}
	return matching, nil
}
