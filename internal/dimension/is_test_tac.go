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
	Register("is_test_tac", func(map[string]any) (Dimension, error) { return isTestTAC{}, nil })
}

type isTestTAC struct{}

func (isTestTAC) Label() string { return "is_test_tac" }

func (isTestTAC) Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, _ time.Time) (*roaring.Bitmap, error) {
	imeis, err := store.NetworkIMEIsInShard(loShard, hiShard)
	if err != nil {
		return nil, fmt.Errorf("is_test_tac: %w", err)
	}
	matching := roaring.New()
	for _, imei := range imeis {
		if gsma.IsTestTAC(imei) {
			if id, ok := universe.ID(imei); ok {
				matching.Add(id)
			}
		}
	}
	return matching, nil
}
