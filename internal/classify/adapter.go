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

// Package classify implements the classification engine: for
// each configured condition, evaluate its dimensions per shard in
// parallel, diff the result against classification_state, and record
// opens/closes. It also implements the safety check and sticky/
// block_date reconciliation when a condition's blocking flag changes.
package classify

import (
	"context"
	"time"

	"github.com/dirbs-project/dirbs-core/internal/dimension"
	"github.com/dirbs-project/dirbs-core/internal/gsma"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

// storeAdapter binds one context to a *storage.DimensionRepo and GSMA cache
// so it can satisfy dimension.Store's context-free method set — the
// classification engine builds a fresh adapter per worker task rather than
// threading a context parameter through the dimension framework itself,
// keeping dimensions pure functions of (Store, Universe, shard range, date)
// so dimensions stay pure reads.
type storeAdapter struct {
	ctx  context.Context
	repo *storage.DimensionRepo
	gsma *gsma.Cache
}

func newStoreAdapter(ctx context.Context, repo *storage.DimensionRepo, cache *gsma.Cache) dimension.Store {
	return &storeAdapter{ctx: ctx, repo: repo, gsma: cache}
}

func (a *storeAdapter) NetworkIMEIsInShard(loShard, hiShard int) ([]string, error) {
	return a.repo.NetworkIMEIsInShard(a.ctx, loShard, hiShard)
}

func (a *storeAdapter) TripletBuckets(imeiNorm string, win dimension.Window) ([]dimension.TripletBucket, error) {
	rows, err := a.repo.TripletBuckets(a.ctx, imeiNorm, win.Start, win.End)
	if err != nil {
		return nil, err
	}
	out := make([]dimension.TripletBucket, len(rows))
	for i, r := range rows {
		out[i] = dimension.TripletBucket{
			Operator:        r.Operator,
			DateBitmask:     r.DateBitmask,
			DistinctIMSIs:   r.DistinctIMSIs,
			DistinctMSISDNs: r.DistinctMSISDNs,
		}
	}
	return out, nil
}

func (a *storeAdapter) SeenRATBitmask(imeiNorm string) (uint32, error) {
	return a.repo.SeenRATBitmask(a.ctx, imeiNorm)
}

func (a *storeAdapter) GSMALookup(tac string) (string, string, uint32, bool, error) {
	row, err := a.gsma.Lookup(a.ctx, tac)
	if err != nil {
		return "", "", 0, false, err
	}
	if row == nil {
		return "", "", 0, false, nil
	}
	return row.Manufacturer, row.ModelName, row.RATBitmask, true, nil
}

func (a *storeAdapter) FirstSeen(imeiNorm string) (time.Time, error) {
	return a.repo.FirstSeen(a.ctx, imeiNorm)
}

func (a *storeAdapter) ListMembers(listName string) ([]string, error) {
	return a.repo.ListMembers(a.ctx, listName)
}

func (a *storeAdapter) RegisteredUIDsByDay(imeiNorm string, win dimension.Window) ([]dimension.UIDBucket, error) {
	rows, err := a.repo.RegisteredUIDsByDay(a.ctx, imeiNorm, win.Start, win.End)
	if err != nil {
		return nil, err
	}
	out := make([]dimension.UIDBucket, len(rows))
	for i, r := range rows {
		out[i] = dimension.UIDBucket{DayBitmask: r.DayBitmask, UIDs: r.UIDs}
	}
	return out, nil
}

func (a *storeAdapter) DeviceType(tac string) (string, bool, error) {
	return a.repo.DeviceType(a.ctx, tac)
}

func (a *storeAdapter) IMSIPrefixes(imeiNorm string, win dimension.Window) ([]string, error) {
	return a.repo.IMSIPrefixes(a.ctx, imeiNorm, win.Start, win.End)
}

func (a *storeAdapter) IMEIsForMSISDN(msisdn, operator string, win dimension.Window) ([]string, error) {
	return a.repo.IMEIsForMSISDN(a.ctx, msisdn, operator, win.Start, win.End)
}

func (a *storeAdapter) MSISDNsForIMEI(imeiNorm string, win dimension.Window) ([]string, error) {
	return a.repo.MSISDNsForIMEI(a.ctx, imeiNorm, win.Start, win.End)
}
