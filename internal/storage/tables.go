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

// SchemaVersion tracks breaking changes to the table layout below.
//
// 1.0 - initial: triplets, network_imeis, hll sketches, classification
//       state, reference lists, job metadata.
const SchemaVersion = "1.0"

// Table name constants. Each constant is a logical table name; the
// partition manager (internal/partition) appends operator/month/shard
// suffixes to derive the actual physical relation name for MNO-scoped and
// time-partitioned tables.
const (
	// TripletsPerMNO - per-operator monthly triplet table, partitioned by
	// operator then by (year, month) then by virtual shard range.
	// key: (operator_id, year, month, triplet_hash)
	// payload: first_seen, last_seen, date_bitmask, virt_imei_shard
	TripletsPerMNO = "monthly_network_triplets_per_mno"

	// TripletsPerCountry - country-level rollup of TripletsPerMNO,
	// partitioned by (year, month) then by virtual shard range.
	// key: (year, month, triplet_hash)
	TripletsPerCountry = "monthly_network_triplets_per_country"

	// NetworkIMEIs - one row per ever-observed imei_norm.
	// key: imei_norm -> first_seen, last_seen, seen_rat_bitmask
	NetworkIMEIs = "network_imeis"

	// DailyPerMNOHLLSketches - one row per (data_date, operator_id),
	// holding seven serialized HLL sketches.
	DailyPerMNOHLLSketches = "daily_per_mno_hll_sketches"

	// ClassificationState - per-(imei_norm, cond_name) match history.
	ClassificationState = "classification_state"

	// Lists - versioned by (start_run_id, end_run_id); active rows have
	// end_run_id IS NULL.
	Blacklist     = "blacklist"
	Exceptions    = "exceptions_list"
	Notifications = "notifications_list"

	// Reference lists - historic, "current" view filters end_date IS NULL.
	RegistrationList = "registration_list"
	StolenList       = "stolen_list"
	PairingList      = "pairing_list"
	BarredList       = "barred_list"
	MonitoringList   = "monitoring_list"
	AssociationList  = "device_association_list"

	// GSMAData - TAC reference table (manufacturer, model, rat_bitmask).
	GSMAData = "gsma_data"

	// JobMetadata - durable record of every job run.
	JobMetadata = "job_metadata"
)

// indexNamePrefixLen bounds the md5-derived prefix used by
// internal/partition when building deterministic index names
// ("md5(table_name)[..] + _ + cols + _idx").
const indexNamePrefixLen = 8
