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

// Package dimension implements the classification dimension framework:
// named, parameterized predicates over the triplet store and reference
// data that each resolve to a set of matching imei_norm values within a
// shard range. Matching sets are represented as RoaringBitmap bitmaps
// over a per-run IMEIUniverse rather than as Go string sets, so that
// union, intersection and invert are cheap set operations instead of map
// rebuilding.
package dimension

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// IMEIUniverse interns the imei_norm values visible to one classification
// run's shard range into dense uint32 IDs, the representation
// RoaringBitmap operates on. It is built once per run from
// network_imeis[shard_range] and handed to every dimension evaluation so
// that bitmaps produced by independent dimensions are comparable.
type IMEIUniverse struct {
	idOf   map[string]uint32
	imeiOf []string
}

// NewUniverse interns every IMEI in imeis (typically the full
// network_imeis population of one shard range) in the order given: the
// i-th IMEI gets ID i, so identical IDs need identically ordered input.
func NewUniverse(imeis []string) *IMEIUniverse {
	u := &IMEIUniverse{idOf: make(map[string]uint32, len(imeis)), imeiOf: make([]string, len(imeis))}
	for i, imei := range imeis {
		id := uint32(i)
		u.idOf[imei] = id
		u.imeiOf[i] = imei
	}
	return u
}

// ID returns the dense ID for imei, and whether imei is known to the
// universe. Dimensions that reference IMEIs outside network_imeis (which
// should not happen given the invariant that every triplet's
// imei_norm exists in network_imeis) skip unknown values.
func (u *IMEIUniverse) ID(imei string) (uint32, bool) {
	id, ok := u.idOf[imei]
	return id, ok
}

// IMEI reverses ID, returning the imei_norm for a dense ID.
func (u *IMEIUniverse) IMEI(id uint32) string { return u.imeiOf[id] }

// All returns a bitmap containing every ID in the universe, used as the
// base set for the invert operator.
func (u *IMEIUniverse) All() *roaring.Bitmap {
	bm := roaring.New()
	for i := range u.imeiOf {
		bm.Add(uint32(i))
	}
	return bm
}

// Set builds a bitmap from a slice of imei_norm values, skipping any not
// present in the universe.
func (u *IMEIUniverse) Set(imeis []string) *roaring.Bitmap {
	bm := roaring.New()
	for _, imei := range imeis {
		if id, ok := u.idOf[imei]; ok {
			bm.Add(id)
		}
	}
	return bm
}

// Strings converts a bitmap back to the imei_norm values it contains.
func (u *IMEIUniverse) Strings(bm *roaring.Bitmap) []string {
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, u.imeiOf[it.Next()])
	}
	return out
}

// Invert complements a matching set: {imei ∈
// network_imeis[shard]} \ matching_set.
func Invert(u *IMEIUniverse, matching *roaring.Bitmap) *roaring.Bitmap {
	return roaring.AndNot(u.All(), matching)
}

// Union combines bitmaps with OR, used by the classification engine to
// merge one condition's per-shard matching sets into the full matched
// population.
func Union(bitmaps ...*roaring.Bitmap) *roaring.Bitmap {
	return roaring.FastOr(bitmaps...)
}

// Intersection combines bitmaps with AND, used to combine a condition's
// configured dimensions ("combine by intersection (AND
// across dimensions within a condition)").
func Intersection(bitmaps ...*roaring.Bitmap) *roaring.Bitmap {
	if len(bitmaps) == 0 {
		return roaring.New()
	}
	result := bitmaps[0].Clone()
	for _, bm := range bitmaps[1:] {
		result.And(bm)
	}
	return result
}
