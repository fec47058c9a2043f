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

import "time"

// TripletRow is one row of monthly_network_triplets_per_mno / _per_country.
type TripletRow struct {
	OperatorID    *string   `db:"operator_id"` // nil for the country rollup
	Year          int       `db:"year"`
	Month         int       `db:"month"`
	TripletHash   int64     `db:"triplet_hash"`
	IMEINorm      *string   `db:"imei_norm"`
	IMSI          *string   `db:"imsi"`
	MSISDN        *string   `db:"msisdn"`
	FirstSeen     time.Time `db:"first_seen"`
	LastSeen      time.Time `db:"last_seen"`
	DateBitmask   uint32    `db:"date_bitmask"`
	VirtIMEIShard int       `db:"virt_imei_shard"`
}

// NetworkIMEIRow is one row of network_imeis.
type NetworkIMEIRow struct {
	IMEINorm       string    `db:"imei_norm"`
	FirstSeen      time.Time `db:"first_seen"`
	LastSeen       time.Time `db:"last_seen"`
	SeenRATBitmask uint32    `db:"seen_rat_bitmask"`
	VirtIMEIShard  int       `db:"virt_imei_shard"`
}

// ClassificationRow is one row of classification_state.
type ClassificationRow struct {
	IMEINorm  string     `db:"imei_norm"`
	CondName  string     `db:"cond_name"`
	StartDate time.Time  `db:"start_date"`
	EndDate   *time.Time `db:"end_date"`
	BlockDate *time.Time `db:"block_date"`
}

// Active reports whether this row is the live match (no end_date).
func (c ClassificationRow) Active() bool { return c.EndDate == nil }

// JobStatus is the job_metadata status enum.
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobError   JobStatus = "error"
)

// JobRow is one row of job_metadata.
type JobRow struct {
	RunID          int64      `db:"run_id"`
	Command        string     `db:"command"`
	Subcommand     string     `db:"subcommand"`
	DBUser         string     `db:"db_user"`
	StartTime      time.Time  `db:"start_time"`
	EndTime        *time.Time `db:"end_time"`
	Status         JobStatus  `db:"status"`
	ExtraMetadata  []byte     `db:"extra_metadata"` // JSON, optionally gzip-compressed
	MetadataGzip   bool       `db:"metadata_gzip"`
}

// HistoricRow is the shared shape of every reference list
// (registration, stolen, pairing, barred, association): a historic record
// with an end_date that is NULL exactly when the record is part of the
// "current" view.
type HistoricRow struct {
	IMEINorm string     `db:"imei_norm"`
	StartDate time.Time `db:"start_date"`
	EndDate   *time.Time `db:"end_date"`
	Extra     []byte     `db:"extra"` // JSON blob of type-specific extra columns
}

// Current reports whether this is the live (non-historic) record.
func (h HistoricRow) Current() bool { return h.EndDate == nil }

// GSMARow is one row of the GSMA TAC reference table.
type GSMARow struct {
	TAC          string `db:"tac"`
	Manufacturer string `db:"manufacturer"`
	ModelName    string `db:"model_name"`
	DeviceType   string `db:"device_type"`
	RATBitmask   uint32 `db:"rat_bitmask"`
}

// ListRow is a versioned list entry shared by blacklist/exceptions/notifications.
type ListRow struct {
	IMEINorm    string `db:"imei_norm"`
	StartRunID  int64  `db:"start_run_id"`
	EndRunID    *int64 `db:"end_run_id"`
}

// Active reports whether this is the currently-effective list entry.
func (l ListRow) Active() bool { return l.EndRunID == nil }
