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

	"github.com/dirbs-project/dirbs-core/internal/gsma"
)

func init() {
	Register("not_on_association_list", newNotOnAssociationList)
}

// notOnAssociationList matches
// matches imei_norms absent from the active association list, except
// IMEIs whose GSMA device_type is in exemptedDeviceTypes (the "exempted
// device types filter" applied to the exclusion, not the membership
// test — an exempted device never counts as a violation even when truly
// unassociated).
type notOnAssociationList struct {
	exemptedDeviceTypes map[string]bool
}

func newNotOnAssociationList(params map[string]any) (Dimension, error) {
	exempted := map[string]bool{}
	if raw, ok := params["exempted_device_types"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				exempted[s] = true
			}
		}
	}
	return &notOnAssociationList{exemptedDeviceTypes: exempted}, nil
}

func (d *notOnAssociationList) Label() string { return "not_on_association_list" }

func (d *notOnAssociationList) Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, _ time.Time) (*roaring.Bitmap, error) {
	members, err := store.ListMembers("association")
	if err != nil {
		return nil, err
	}
	notAssociated := Invert(universe, universe.Set(members))

	if len(d.exemptedDeviceTypes) == 0 {
		return notAssociated, nil
	}

	exemptBitmap := roaring.New()
	it := notAssociated.Iterator()
	for it.HasNext() {
		id := it.Next()
		imei := universe.IMEI(id)
		deviceType, ok, err := store.DeviceType(gsma.TAC(imei))
		if err != nil {
			return nil, err
		}
		if ok && d.exemptedDeviceTypes[deviceType] {
			exemptBitmap.Add(id)
		}
	}
	return roaring.AndNot(notAssociated, exemptBitmap), nil
}
