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

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DimensionRepo answers the read-only queries internal/dimension's Store
// interface needs against the physical schema. It reads
// through the logical (parent) table names rather than enumerating
// physical shard/month leaves: the partition manager builds native
// Postgres declarative partitioning, so a query against
// monthly_network_triplets_per_mno transparently prunes to the relevant
// leaves.
type DimensionRepo struct {
	db *DB
}

// NewDimensionRepo binds a DimensionRepo to a capability-scoped DB. Only
// the classify capability queries through this repo.
func NewDimensionRepo(db *DB) *DimensionRepo { return &DimensionRepo{db: db} }

// NetworkIMEIsInShard returns every imei_norm whose virt_imei_shard lies in
// [loShard, hiShard).
func (r *DimensionRepo) NetworkIMEIsInShard(ctx context.Context, loShard, hiShard int) ([]string, error) {
	q := r.db.Rebind(fmt.Sprintf(
		`SELECT imei_norm FROM %s WHERE virt_imei_shard >= ? AND virt_imei_shard < ?`, NetworkIMEIs))
	var imeis []string
	if err := r.db.SelectContext(ctx, &imeis, q, loShard, hiShard); err != nil {
		return nil, fmt.Errorf("storage: query network_imeis shard range [%d,%d): %w", loShard, hiShard, err)
	}
	return imeis, nil
}

// TotalNetworkIMEIs returns the total row count of network_imeis, the
// denominator for the classification engine's safety check ratio.
func (r *DimensionRepo) TotalNetworkIMEIs(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, fmt.Sprintf("SELECT COUNT(*) FROM %s", NetworkIMEIs)); err != nil {
		return 0, fmt.Errorf("storage: count network_imeis: %w", err)
	}
	return n, nil
}

// dimensionBucketRow mirrors dimension.TripletBucket's wire shape for
// sqlx scanning.
type dimensionBucketRow struct {
	Operator        string `db:"operator_id"`
	DateBitmask     uint32 `db:"date_bitmask"`
	DistinctIMSIs   int    `db:"distinct_imsis"`
	DistinctMSISDNs int    `db:"distinct_msisdns"`
}

// TripletBuckets returns, for imeiNorm within [start,end), one row per
// (operator_id, year, month) with the OR'ed date_bitmask and distinct
// IMSI/MSISDN counts across that bucket's underlying triplet_hash rows
// (duplicate_threshold, duplicate_daily_avg, transient_imei).
func (r *DimensionRepo) TripletBuckets(ctx context.Context, imeiNorm string, start, end time.Time) ([]dimensionBucketRow, error) {
	q := r.db.Rebind(fmt.Sprintf(`
		SELECT operator_id,
		       bit_or(date_bitmask) AS date_bitmask,
		       count(DISTINCT imsi) AS distinct_imsis,
		       count(DISTINCT msisdn) AS distinct_msisdns
		FROM %s
		WHERE imei_norm = ? AND last_seen >= ? AND first_seen < ?
		GROUP BY operator_id, year, month`, TripletsPerMNO))
	var rows []dimensionBucketRow
	if err := r.db.SelectContext(ctx, &rows, q, imeiNorm, start, end); err != nil {
		return nil, fmt.Errorf("storage: query triplet buckets for %s: %w", imeiNorm, err)
	}
	return rows, nil
}

// SeenRATBitmask returns network_imeis.seen_rat_bitmask for imeiNorm.
func (r *DimensionRepo) SeenRATBitmask(ctx context.Context, imeiNorm string) (uint32, error) {
	q := r.db.Rebind(fmt.Sprintf(`SELECT seen_rat_bitmask FROM %s WHERE imei_norm = ?`, NetworkIMEIs))
	var bm uint32
	if err := r.db.GetContext(ctx, &bm, q, imeiNorm); err != nil {
		return 0, fmt.Errorf("storage: query seen_rat_bitmask for %s: %w", imeiNorm, err)
	}
	return bm, nil
}

// FirstSeen returns network_imeis.first_seen for imeiNorm.
func (r *DimensionRepo) FirstSeen(ctx context.Context, imeiNorm string) (time.Time, error) {
	q := r.db.Rebind(fmt.Sprintf(`SELECT first_seen FROM %s WHERE imei_norm = ?`, NetworkIMEIs))
	var t time.Time
	if err := r.db.GetContext(ctx, &t, q, imeiNorm); err != nil {
		return time.Time{}, fmt.Errorf("storage: query first_seen for %s: %w", imeiNorm, err)
	}
	return t, nil
}

// ListMembers returns the active imei_norms of a named reference list
// (e.g. "barred", "association").
func (r *DimensionRepo) ListMembers(ctx context.Context, listName string) ([]string, error) {
	table, err := listTable(listName)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT imei_norm FROM %s WHERE end_date IS NULL`, table)
	var imeis []string
	if err := r.db.SelectContext(ctx, &imeis, q); err != nil {
		return nil, fmt.Errorf("storage: query active %s: %w", table, err)
	}
	return imeis, nil
}

// DeviceType resolves a TAC to its GSMA device_type.
func (r *DimensionRepo) DeviceType(ctx context.Context, tac string) (string, bool, error) {
	q := r.db.Rebind(fmt.Sprintf(`SELECT device_type FROM %s WHERE tac = ?`, GSMAData))
	var deviceType string
	err := r.db.GetContext(ctx, &deviceType, q, tac)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: query device_type for tac %s: %w", tac, err)
	}
	return deviceType, true, nil
}

// IMSIPrefixes returns the distinct six-digit prefixes of IMSIs seen for
// imeiNorm within [start,end), for used_by_dirbs_subscriber.
func (r *DimensionRepo) IMSIPrefixes(ctx context.Context, imeiNorm string, start, end time.Time) ([]string, error) {
	q := r.db.Rebind(fmt.Sprintf(`
		SELECT DISTINCT substr(imsi, 1, 6) FROM %s
		WHERE imei_norm = ? AND imsi IS NOT NULL AND last_seen >= ? AND first_seen < ?`, TripletsPerMNO))
	var prefixes []string
	if err := r.db.SelectContext(ctx, &prefixes, q, imeiNorm, start, end); err != nil {
		return nil, fmt.Errorf("storage: query imsi prefixes for %s: %w", imeiNorm, err)
	}
	return prefixes, nil
}

// MSISDNsForIMEI returns the distinct MSISDNs seen for imeiNorm within
// [start,end).
func (r *DimensionRepo) MSISDNsForIMEI(ctx context.Context, imeiNorm string, start, end time.Time) ([]string, error) {
	q := r.db.Rebind(fmt.Sprintf(`
		SELECT DISTINCT msisdn FROM %s
		WHERE imei_norm = ? AND msisdn IS NOT NULL AND last_seen >= ? AND first_seen < ?`, TripletsPerMNO))
	var msisdns []string
	if err := r.db.SelectContext(ctx, &msisdns, q, imeiNorm, start, end); err != nil {
		return nil, fmt.Errorf("storage: query msisdns for %s: %w", imeiNorm, err)
	}
	return msisdns, nil
}

// IMEIsForMSISDN returns the other imei_norms seen paired with msisdn for
// operator within [start,end), used by transient_imei's neighbor analysis.
func (r *DimensionRepo) IMEIsForMSISDN(ctx context.Context, msisdn, operator string, start, end time.Time) ([]string, error) {
	q := r.db.Rebind(fmt.Sprintf(`
		SELECT DISTINCT imei_norm FROM %s
		WHERE msisdn = ? AND operator_id = ? AND last_seen >= ? AND first_seen < ?`, TripletsPerMNO))
	var imeis []string
	if err := r.db.SelectContext(ctx, &imeis, q, msisdn, operator, start, end); err != nil {
		return nil, fmt.Errorf("storage: query imeis for msisdn %s: %w", msisdn, err)
	}
	return imeis, nil
}

// registeredUIDRow carries one device_association_list extra payload,
// decoded to pull out the uid field for RegisteredUIDsByDay.
type registeredUIDRow struct {
	UID string `json:"uid"`
}

// RegisteredUIDsByDay approximates daily_avg_uid's "UIDs seen per day"
// join: it pairs the IMEI's currently-associated UID (device_association_list)
// with the day-of-month bitmask the IMEI was actually observed on the
// network that month, since device association itself carries no daily
// granularity.
func (r *DimensionRepo) RegisteredUIDsByDay(ctx context.Context, imeiNorm string, start, end time.Time) ([]dimensionUIDBucket, error) {
	assocQ := r.db.Rebind(fmt.Sprintf(`SELECT extra FROM %s WHERE imei_norm = ? AND end_date IS NULL`, AssociationList))
	var extraJSON []byte
	err := r.db.GetContext(ctx, &extraJSON, assocQ, imeiNorm)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: query association extra for %s: %w", imeiNorm, err)
	}
	var extra registeredUIDRow
	if err := json.Unmarshal(extraJSON, &extra); err != nil || extra.UID == "" {
		return nil, nil
	}

	bucketQ := r.db.Rebind(fmt.Sprintf(`
		SELECT bit_or(date_bitmask) AS date_bitmask FROM %s
		WHERE imei_norm = ? AND last_seen >= ? AND first_seen < ?`, TripletsPerMNO))
	var dayMask uint32
	if err := r.db.GetContext(ctx, &dayMask, bucketQ, imeiNorm, start, end); err != nil {
		return nil, fmt.Errorf("storage: query day bitmask for %s: %w", imeiNorm, err)
	}
	if dayMask == 0 {
		return nil, nil
	}
	return []dimensionUIDBucket{{DayBitmask: dayMask, UIDs: []string{extra.UID}}}, nil
}

type dimensionUIDBucket struct {
	DayBitmask uint32
	UIDs       []string
}

func listTable(listName string) (string, error) {
	switch listName {
	case "barred":
		return BarredList, nil
	case "association":
		return AssociationList, nil
	case "registration":
		return RegistrationList, nil
	case "stolen":
		return StolenList, nil
	case "pairing":
		return PairingList, nil
	default:
		return "", fmt.Errorf("storage: unknown reference list %q", listName)
	}
}
