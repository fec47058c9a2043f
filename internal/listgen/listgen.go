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

// Package listgen derives the three operator-facing lists from
// classification state:
//
//   - blacklist: IMEIs whose block_date has arrived
//   - notifications: IMEIs matched by a blocking condition but still inside
//     their grace period, joined with the operator pairings that can reach
//     the affected subscriber
//   - exceptions: IMEIs exempted from blocking via the pairing list
//
// Each list's table is versioned by (start_run_id, end_run_id) through
// storage.ListRepo.Reconcile; the CSV files written alongside carry the
// per-run snapshot operators actually consume.
package listgen

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dirbs-project/dirbs-core/internal/config"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

// Generator assembles and writes all three lists for one listgen run.
type Generator struct {
	Repo          *storage.ListgenRepo
	Blacklist     *storage.ListRepo
	Notifications *storage.ListRepo
	Exceptions    *storage.ListRepo
	Operators     []config.Operator
	Conditions    []config.ConditionConfig
	Log           *zap.Logger
}

// Entry is one blacklist or notifications row: the earliest block date
// across the IMEI's active blocking conditions, plus the condition labels
// that put it there.
type Entry struct {
	IMEINorm  string
	BlockDate time.Time
	Reasons   []string
}

// Result summarizes one completed run for job metadata and logging.
type Result struct {
	RunID              int64
	BlacklistSize      int
	NotificationsSize  int
	ExceptionsSize     int
	BlacklistAdded     []string
	BlacklistRemoved   []string
	FilesWritten       []string
}

// Run regenerates all three lists as of currDate and writes their CSV
// snapshots under outputDir. runID is the listgen job's run_id; it becomes
// the start_run_id/end_run_id of every entry this run opens or closes.
func (g *Generator) Run(ctx context.Context, runID int64, currDate time.Time, outputDir string) (*Result, error) {
	blocked, pending, err := g.splitByBlockDate(ctx, currDate)
	if err != nil {
		return nil, err
	}

	pairs, err := g.Repo.CurrentPairings(ctx)
	if err != nil {
		return nil, fmt.Errorf("listgen: %w", err)
	}

	res := &Result{RunID: runID}
	res.BlacklistSize = len(blocked)
	res.NotificationsSize = len(pending)
	res.ExceptionsSize = len(pairs)

	if err := g.Blacklist.Reconcile(ctx, runID, imeiSet(entryIMEIs(blocked))); err != nil {
		return nil, fmt.Errorf("listgen: reconcile blacklist: %w", err)
	}
	if err := g.Notifications.Reconcile(ctx, runID, imeiSet(entryIMEIs(pending))); err != nil {
		return nil, fmt.Errorf("listgen: reconcile notifications: %w", err)
	}
	exceptionIMEIs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		exceptionIMEIs = append(exceptionIMEIs, p.IMEINorm)
	}
	if err := g.Exceptions.Reconcile(ctx, runID, imeiSet(exceptionIMEIs)); err != nil {
		return nil, fmt.Errorf("listgen: reconcile exceptions: %w", err)
	}

	res.BlacklistAdded, res.BlacklistRemoved, err = g.Blacklist.Delta(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("listgen: blacklist delta: %w", err)
	}

	files, err := g.writeSnapshots(ctx, blocked, pending, pairs, currDate, outputDir)
	if err != nil {
		return nil, err
	}
	res.FilesWritten = files

	g.Log.Info("listgen complete",
		zap.Int64("run_id", runID),
		zap.Int("blacklist", res.BlacklistSize),
		zap.Int("notifications", res.NotificationsSize),
		zap.Int("exceptions", res.ExceptionsSize),
		zap.Int("blacklist_added", len(res.BlacklistAdded)),
		zap.Int("blacklist_removed", len(res.BlacklistRemoved)))
	return res, nil
}

// splitByBlockDate reads the active blocking classification rows and folds
// them into per-IMEI entries: one set whose block date has arrived
// (block_date <= currDate) and one still inside its grace period.
func (g *Generator) splitByBlockDate(ctx context.Context, currDate time.Time) (blocked, pending []Entry, err error) {
	labels := blockingLabels(g.Conditions)
	rows, err := g.Repo.ActiveBlockingRows(ctx, labels)
	if err != nil {
		return nil, nil, fmt.Errorf("listgen: %w", err)
	}
	blocked, pending = FoldEntries(rows, currDate)
	return blocked, pending, nil
}

// FoldEntries aggregates active blocking classification rows into per-IMEI
// entries, splitting them on whether the earliest block date has arrived
// (block_date <= currDate).
func FoldEntries(rows []storage.ClassificationRow, currDate time.Time) (blocked, pending []Entry) {
	type agg struct {
		blockDate time.Time
		reasons   map[string]bool
	}
	byIMEI := make(map[string]*agg)
	for _, row := range rows {
		a, ok := byIMEI[row.IMEINorm]
		if !ok {
			a = &agg{blockDate: *row.BlockDate, reasons: map[string]bool{}}
			byIMEI[row.IMEINorm] = a
		}
		if row.BlockDate.Before(a.blockDate) {
			a.blockDate = *row.BlockDate
		}
		a.reasons[row.CondName] = true
	}

	for imei, a := range byIMEI {
		e := Entry{IMEINorm: imei, BlockDate: a.blockDate, Reasons: sortedKeys(a.reasons)}
		if !a.blockDate.After(currDate) {
			blocked = append(blocked, e)
		} else {
			pending = append(pending, e)
		}
	}
	sortEntries(blocked)
	sortEntries(pending)
	return blocked, pending
}

// blockingLabels extracts the labels of blocking conditions, the only ones
// whose matches carry a block_date.
func blockingLabels(conditions []config.ConditionConfig) []string {
	var out []string
	for _, c := range conditions {
		if c.Blocking {
			out = append(out, c.Label)
		}
	}
	return out
}

func entryIMEIs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.IMEINorm
	}
	return out
}

func imeiSet(imeis []string) map[string]struct{} {
	set := make(map[string]struct{}, len(imeis))
	for _, imei := range imeis {
		set[imei] = struct{}{}
	}
	return set
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].IMEINorm < entries[j].IMEINorm })
}

// operatorForIMSI resolves which configured operator an IMSI belongs to by
// longest MCC+MNC prefix match, or "" when no operator claims it. Prefix
// collisions across operators are rejected at config load, so first match
// per length is unambiguous.
func operatorForIMSI(imsi string, operators []config.Operator) string {
	best := ""
	bestLen := 0
	for _, op := range operators {
		for _, p := range op.Pairs {
			prefix := p.MCC + p.MNC
			if len(prefix) > bestLen && strings.HasPrefix(imsi, prefix) {
				best = op.ID
				bestLen = len(prefix)
			}
		}
	}
	return best
}
