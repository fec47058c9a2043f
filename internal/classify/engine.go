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

package classify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/dimension"
	"github.com/dirbs-project/dirbs-core/internal/gsma"
	"github.com/dirbs-project/dirbs-core/internal/shard"
	"github.com/dirbs-project/dirbs-core/internal/storage"
	"github.com/dirbs-project/dirbs-core/internal/workerpool"
)

// DefaultMaxAllowedMatchedRatio is the safety check's default
// per-condition threshold: a condition may not newly match more than 5%
// of network_imeis in one run without --no-safety-check.
const DefaultMaxAllowedMatchedRatio = 0.05

// Engine evaluates every configured condition and writes classification_state
// transitions.
type Engine struct {
	Config      *config.Config
	ClassRepo   *storage.ClassificationRepo
	DimRepo     *storage.DimensionRepo
	GSMACache   *gsma.Cache
	MaxDBConns  int
	NoSafetyCheck bool
}

// ConditionResult is one condition's outcome within a classification run,
// recorded into job metadata (matched_imei_counts is populated only for
// conditions that completed).
type ConditionResult struct {
	Label          string
	MatchedCount   int
	Opened         int
	Closed         int
	SafetyTripped  bool
	Err            error
}

// Result is the overall outcome of one Classify call.
type Result struct {
	RunDate    time.Time
	Conditions []ConditionResult
}

// Classify evaluates every condition in Config.Conditions, ordered per
// (blocking DESC, label ASC), against currDate. A failure evaluating one
// condition is localized: the run continues to the next condition and the
// failure is recorded in that condition's ConditionResult, so the overall
// job reports partial success.
func (e *Engine) Classify(ctx context.Context, currDate time.Time) (*Result, error) {
	conditions := orderedConditions(e.Config.Conditions)
	amnesty, err := parseAmnesty(e.Config.Amnesty)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	ranges, err := shard.PhysicalRanges(e.Config.NumPhysicalShards)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	totalIMEIs, err := e.DimRepo.TotalNetworkIMEIs(ctx)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	result := &Result{RunDate: currDate}
	for _, cond := range conditions {
		cr := e.classifyCondition(ctx, cond, ranges, currDate, amnesty, totalIMEIs)
		result.Conditions = append(result.Conditions, cr)
	}
	return result, nil
}

func (e *Engine) classifyCondition(ctx context.Context, cond config.ConditionConfig, ranges []shard.Range, currDate time.Time, amnesty amnestyWindow, totalIMEIs int64) ConditionResult {
	cr := ConditionResult{Label: cond.Label}

	dims, err := buildDimensions(cond.Dimensions, e.Config.Operators)
	if err != nil {
		cr.Err = fmt.Errorf("classify: condition %s: %w", cond.Label, err)
		return cr
	}

	var mu sync.Mutex
	matched := map[string]bool{}

	runErr := workerpool.RunIndexed(ctx, e.MaxDBConns, len(ranges), func(taskCtx context.Context, i int) error {
		r := ranges[i]
		store := newStoreAdapter(taskCtx, e.DimRepo, e.GSMACache)
		imeis, err := e.DimRepo.NetworkIMEIsInShard(taskCtx, r.Lo, r.Hi)
		if err != nil {
			return fmt.Errorf("shard [%d,%d): %w", r.Lo, r.Hi, err)
		}
		universe := dimension.NewUniverse(imeis)

		bitmaps := make([]*roaring.Bitmap, 0, len(dims))
		for _, d := range dims {
			bm, err := d.Evaluate(store, universe, r.Lo, r.Hi, currDate)
			if err != nil {
				return fmt.Errorf("shard [%d,%d): dimension %s: %w", r.Lo, r.Hi, d.Label(), err)
			}
			bitmaps = append(bitmaps, bm)
		}
		shardMatched := dimension.Intersection(bitmaps...)

		mu.Lock()
		for _, imei := range universe.Strings(shardMatched) {
			matched[imei] = true
		}
		mu.Unlock()
		return nil
	})
	if runErr != nil {
		cr.Err = fmt.Errorf("classify: condition %s: %w", cond.Label, runErr)
		return cr
	}
	cr.MatchedCount = len(matched)

	active, err := e.ClassRepo.ActiveIMEIsForCondition(ctx, cond.Label)
	if err != nil {
		cr.Err = fmt.Errorf("classify: condition %s: %w", cond.Label, err)
		return cr
	}
	activeSet := make(map[string]bool, len(active))
	for _, imei := range active {
		activeSet[imei] = true
	}

	newlyMatched := 0
	for imei := range matched {
		if !activeSet[imei] {
			newlyMatched++
		}
	}
	maxRatio := cond.MaxAllowedMatchedRatio
	if maxRatio == 0 {
		maxRatio = DefaultMaxAllowedMatchedRatio
	}
	if !e.NoSafetyCheck && totalIMEIs > 0 && float64(newlyMatched)/float64(totalIMEIs) > maxRatio {
		cr.SafetyTripped = true
		cr.Err = fmt.Errorf("classify: condition %s: safety check tripped: %d/%d (%.4f) exceeds max_allowed_matched_ratio %.4f",
			cond.Label, newlyMatched, totalIMEIs, float64(newlyMatched)/float64(totalIMEIs), maxRatio)
		return cr
	}

	blockDate := blockDateFor(currDate, cond, amnesty)

	for imei := range matched {
		if activeSet[imei] {
			continue // existing match: sticky, no-op
		}
		if err := e.ClassRepo.Open(ctx, imei, cond.Label, currDate, blockDate); err != nil {
			cr.Err = fmt.Errorf("classify: condition %s: open %s: %w", cond.Label, imei, err)
			return cr
		}
		cr.Opened++
	}

	if !cond.Sticky {
		for imei := range activeSet {
			if matched[imei] {
				continue
			}
			if err := e.ClassRepo.Close(ctx, imei, cond.Label, currDate); err != nil {
				cr.Err = fmt.Errorf("classify: condition %s: close %s: %w", cond.Label, imei, err)
				return cr
			}
			cr.Closed++
		}
	}

	// Align block_date with the condition's current blocking flag so a
	// flip between runs takes effect immediately rather than waiting for
	// a fresh match cycle. Rows already consistent with the flag keep the
	// block date fixed when they were opened; an unchanged config makes
	// this a no-op.
	if _, err := e.ClassRepo.ReconcileBlockDate(ctx, cond.Label, cond.Blocking, cond.GracePeriodDays, amnestyOverride(currDate, amnesty)); err != nil {
		cr.Err = fmt.Errorf("classify: condition %s: reconcile block_date: %w", cond.Label, err)
		return cr
	}

	return cr
}

// orderedConditions sorts conditions by (blocking DESC, label ASC).
func orderedConditions(conditions []config.ConditionConfig) []config.ConditionConfig {
	out := make([]config.ConditionConfig, len(conditions))
	copy(out, conditions)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Blocking != out[j].Blocking {
			return out[i].Blocking // blocking first
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// buildDimensions constructs every dimension configured for a condition,
// injecting operator MCC/MNC prefixes into used_by_dirbs_subscriber's
// params so that dimension stays a pure function of its own parameters
// of its own parameters.
func buildDimensions(configs []config.DimensionConfig, operators []config.Operator) ([]dimension.Dimension, error) {
	out := make([]dimension.Dimension, 0, len(configs))
	for _, dc := range configs {
		params := dc.Params
		if dc.Label == "used_by_dirbs_subscriber" {
			params = withOperatorPrefixes(params, operators)
		}
		d, err := dimension.Build(dc.Label, params)
		if err != nil {
			return nil, fmt.Errorf("dimension %s: %w", dc.Label, err)
		}
		if dc.Invert {
			d = dimension.Invertible{Dimension: d}
		}
		out = append(out, d)
	}
	return out, nil
}

func withOperatorPrefixes(params map[string]any, operators []config.Operator) map[string]any {
	merged := make(map[string]any, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	var prefixes []any
	for _, op := range operators {
		for _, p := range op.Pairs {
			prefixes = append(prefixes, p.MCC+p.MNC)
		}
	}
	merged["mcc_mnc_prefixes"] = prefixes
	return merged
}
