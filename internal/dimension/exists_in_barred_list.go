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
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

func init() {
	Register("exists_in_barred_list", func(map[string]any) (Dimension, error) { return existsInBarredList{}, nil })
}

// existsInBarredList matches
// imei_norms that are active rows of the barred reference list.
type existsInBarredList struct{}

func (existsInBarredList) Label() string { return "exists_in_barred_list" }

func (existsInBarredList) Evaluate(store Store, universe *IMEIUniverse, _, _ int, _ time.Time) (*roaring.Bitmap, error) {
	members, err := store.ListMembers("barred")
	if err != nil {
		return nil, err
	}
	return universe.Set(members), nil
}
