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

// Window is the half-open [Start, End) analysis window:
// "analysis_end_date = max(last_seen) + 1 ... else today;
// analysis_start_date = analysis_end_date - period".
type Window struct {
	Start, End time.Time
}

// ComputeWindow derives a Window from the latest observed date in the
// relevant per-country partition (maxLastSeen), falling back to today
// when the partition is empty, and subtracting period.
func ComputeWindow(maxLastSeen *time.Time, today time.Time, period time.Duration) Window {
	end := today
	if maxLastSeen != nil {
		end = maxLastSeen.AddDate(0, 0, 1)
	}
	return Window{Start: end.Add(-period), End: end}
}

// Store is the narrow read surface a dimension needs to evaluate, kept
// separate from internal/storage's concrete repositories so dimensions
// stay pure and independently testable ("dimensions are pure
// relative to the triplet store state and supplied reference data").
// Concrete adapters in internal/classify implement this against the real
// repositories.
type Store interface {
	// NetworkIMEIsInShard returns every imei_norm in [loShard, hiShard).
	NetworkIMEIsInShard(loShard, hiShard int) ([]string, error)
	// TripletBuckets returns, for imeiNorm, one bucket per (operator, month)
	// triplet-store row touching it within win, carrying the date bitmask
	// and distinct-IMSI/MSISDN counts needed by the duplicate dimensions.
	TripletBuckets(imeiNorm string, win Window) ([]TripletBucket, error)
	// SeenRATBitmask returns an IMEI's network_imeis.seen_rat_bitmask.
	SeenRATBitmask(imeiNorm string) (uint32, error)
	// GSMALookup resolves an 8-digit TAC to its reference row, or ok=false
	// if absent.
	GSMALookup(tac string) (manufacturer, model string, ratBitmask uint32, ok bool, err error)
	// FirstSeen returns an IMEI's network_imeis.first_seen.
	FirstSeen(imeiNorm string) (time.Time, error)
	// ListMembers returns the active imei_norms of a reference list
	// (barred, association, etc).
	ListMembers(listName string) ([]string, error)
	// RegisteredUIDsByDay returns, for imeiNorm within win, one UIDBucket
	// per day-of-month bitmask bucket carrying the UIDs seen in that
	// bucket (daily_avg_uid).
	RegisteredUIDsByDay(imeiNorm string, win Window) ([]UIDBucket, error)
	// DeviceType resolves a TAC to its GSMA device_type, used by the
	// exempted-device-types filter on not_on_association_list.
	DeviceType(tac string) (deviceType string, ok bool, err error)
	// IMSIPrefixes returns the distinct six-digit prefixes of IMSIs seen
	// for imeiNorm within win (long enough to hold a 5- or 6-digit
	// MCC+MNC), used by
	// used_by_dirbs_subscriber.
	IMSIPrefixes(imeiNorm string, win Window) ([]string, error)
	// IMEIsForMSISDN returns the other imei_norms seen paired with msisdn
	// within win for operator, used by transient_imei's neighbor analysis.
	IMEIsForMSISDN(msisdn, operator string, win Window) ([]string, error)
	// MSISDNsForIMEI returns the distinct MSISDNs seen for imeiNorm within
	// win, used by transient_imei to enumerate the neighbor graph.
	MSISDNsForIMEI(imeiNorm string, win Window) ([]string, error)
}

// TripletBucket is one (operator, month) aggregated bucket's contribution,
// as needed by the duplicate_* dimensions: DistinctIMSIs/DistinctMSISDNs
// are counts of distinct values observed across that bucket's underlying
// triplet rows.
type TripletBucket struct {
	Operator        string
	DateBitmask     uint32
	DistinctIMSIs   int
	DistinctMSISDNs int
}

// UIDBucket is one day's distinct-UID contribution for daily_avg_uid.
type UIDBucket struct {
	DayBitmask uint32
	UIDs       []string
}

// Dimension is a named, parameterized predicate.
type Dimension interface {
	// Label identifies the concrete implementation (matches
	// config.DimensionConfig.Label).
	Label() string
	// Evaluate resolves the matching set for [loShard, hiShard) as of
	// currDate.
	Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, currDate time.Time) (*roaring.Bitmap, error)
}

// Constructor builds a Dimension from decoded TOML params, validating them
// eagerly ("each constructor validating its
// parameters").
type Constructor func(params map[string]any) (Dimension, error)

// registry is the closed set of dimension constructors.
var registry = map[string]Constructor{}

// Register adds a constructor under label. Called from each concrete
// dimension file's init().
func Register(label string, ctor Constructor) {
	if _, exists := registry[label]; exists {
		panic(fmt.Sprintf("dimension: %q already registered", label))
	}
	registry[label] = ctor
}

// Build constructs a Dimension from config, returning an error naming the
// unknown label if none is registered (closed registry: no label outside
// this set is accepted).
func Build(label string, params map[string]any) (Dimension, error) {
	ctor, ok := registry[label]
	if !ok {
		return nil, fmt.Errorf("dimension: unknown label %q", label)
	}
	return ctor(params)
}

// Labels lists every registered dimension label, for CLI introspection and
// config validation error messages.
func Labels() []string {
	out := make([]string, 0, len(registry))
	for label := range registry {
		out = append(out, label)
	}
	return out
}

// Invertible wraps a Dimension so its matching set is complemented within
// the universe (the "invert" flag, applied at condition
// configuration time rather than baked into a concrete dimension).
type Invertible struct {
	Dimension
}

// Evaluate computes the inner dimension's match set, then inverts it.
func (iv Invertible) Evaluate(store Store, universe *IMEIUniverse, loShard, hiShard int, currDate time.Time) (*roaring.Bitmap, error) {
	inner, err := iv.Dimension.Evaluate(store, universe, loShard, hiShard, currDate)
	if err != nil {
		return nil, err
	}
	return Invert(universe, inner), nil
}

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func paramInt(params map[string]any, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int64:
			return int(n)
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		case int:
			return float64(n)
		}
	}
	return def
}

func paramBool(params map[string]any, key string, def bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
