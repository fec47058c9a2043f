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

// Package imeiquery implements the consolidated IMEI lookup:
// normalize and validate the input, then assemble classification state,
// realtime checks, optional registration/stolen status, and paginated
// pairings/subscribers into one Result.
package imeiquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dirbs-project/dirbs-core/internal/dirbserr"
	"github.com/dirbs-project/dirbs-core/internal/gsma"
	"github.com/dirbs-project/dirbs-core/internal/shard"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

// MaxRawLength is the longest raw IMEI accepted; anything longer is
// rejected before normalization.
const MaxRawLength = 16

// NormalizedLength is the canonical imei_norm length; a normalized value
// shorter than this means the input was too short to be a real IMEI:
// "123456" (6 digits) is invalid, "3884773337002633" (16 digits,
// truncating to a full 14-digit imei_norm) is not.
const NormalizedLength = 14

// DefaultPageLimit is the pagination default for pairings/subscribers.
const DefaultPageLimit = 10

// MaxBatchSize caps how many IMEIs one batch query may carry.
const MaxBatchSize = 1000

// Validate checks raw against the length and character-set rules,
// before any normalization happens.
func Validate(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 0 {
		return &dirbserr.ValidationError{Check: "imei_length", Msg: "imei must not be empty"}
	}
	if len(trimmed) > MaxRawLength {
		return &dirbserr.ValidationError{Check: "imei_length", Msg: fmt.Sprintf("imei %q exceeds max length %d", trimmed, MaxRawLength)}
	}
	for _, c := range trimmed {
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			return &dirbserr.ValidationError{Check: "imei_charset", Msg: fmt.Sprintf("imei %q contains invalid characters", trimmed)}
		}
	}
	return nil
}

// ConditionMatch is one condition's met/unmet status for an IMEI, the
// element type of the response's classification_state arrays.
type ConditionMatch struct {
	ConditionName string
	ConditionMet  bool
}

// RealtimeChecks is the realtime_checks object of the lookup response.
type RealtimeChecks struct {
	EverObservedOnNetwork bool
	InvalidIMEI           bool
	IsPaired              bool
	IsExemptedDevice      bool
	InRegistrationList    bool
	GSMANotFound          bool
}

// StatusInfo is the shared shape of registration_status and stolen_status
//: Known is false when the IMEI has no row on the list, in
// which case Status/ProvisionalOnly carry their zero values (the API
// collaborator renders that as JSON null).
type StatusInfo struct {
	Known            bool
	Status           string
	ProvisionalOnly  bool
}

// Page is one keyset-paginated result set ("responses carry
// {current_key, next_key, result_size}").
type Page struct {
	CurrentKey string
	NextKey    *string
	ResultSize int
	Pairs      []storage.PairRow
}

// SeenWithEntry is one IMSI/MSISDN history row.
type SeenWithEntry struct {
	OperatorID string
	IMSI       *string
	MSISDN     *string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Result is the consolidated IMEI lookup response.
type Result struct {
	IMEINorm             string
	BlockingConditions   []ConditionMatch
	InformativeConditions []ConditionMatch
	Realtime             RealtimeChecks
	RegistrationStatus   *StatusInfo
	StolenStatus         *StatusInfo
	Pairings             *Page
	Subscribers          *Page
	SeenWith             []SeenWithEntry
}

// RegistrationExtra is registration_list's extra JSON payload, matching
// the CSV import headers (approved_imei,...,status,...).
type RegistrationExtra struct {
	Status          string `json:"status"`
	ProvisionalOnly bool   `json:"provisional_only"`
}

// StolenExtra is stolen_list's extra JSON payload (imei,
// reporting_date, status).
type StolenExtra struct {
	Status          string `json:"status"`
	ProvisionalOnly bool   `json:"provisional_only"`
}

// PairingExtra is pairing_list's extra JSON payload (imei, imsi,
// msisdn).
type PairingExtra struct {
	IMSI   string `json:"imsi"`
	MSISDN string `json:"msisdn"`
}

// Options controls which optional parts of Result are populated,
// mirroring the query API's optional-field parameters.
type Options struct {
	IncludeRegistrationStatus bool
	IncludeStolenStatus       bool
	IncludeSeenWith           bool
	PairingsAfterKey          string
	PairingsLimit             int
	SubscribersAfterKey       string
	SubscribersLimit          int
	ExemptedDeviceTypes       map[string]bool
}

// Resolver assembles Result values from the storage layer.
type Resolver struct {
	ClassRepo *storage.ClassificationRepo
	QueryRepo *storage.IMEIQueryRepo
	GSMACache *gsma.Cache
	Registration *storage.HistoricList[RegistrationExtra]
	Stolen       *storage.HistoricList[StolenExtra]
	// Pairing only uses HistoricList.Current (existence + raw Extra bytes)
	// here, so its type parameter is never exercised by Upsert; any type
	// works, and PairingExtra documents the shape pairing_list's extra
	// column actually carries.
	Pairing *storage.HistoricList[PairingExtra]
	// Blocking maps a configured condition's label to whether it is a
	// blocking condition, the same split internal/stats uses for its
	// compliance roll-up.
	Blocking map[string]bool
}

// Resolve normalizes raw, validates it, and assembles the full Result.
// Resolve runs Validate on raw itself and returns its error unchanged.
func (r *Resolver) Resolve(ctx context.Context, raw string, opts Options) (*Result, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	imeiNorm := shard.Normalize(raw)

	res := &Result{IMEINorm: imeiNorm}

	current, err := r.ClassRepo.Current(ctx, imeiNorm)
	if err != nil {
		return nil, fmt.Errorf("imeiquery: %w", err)
	}
	matched := make(map[string]bool, len(current))
	for _, row := range current {
		matched[row.CondName] = true
	}
	for cond, blocking := range r.Blocking {
		m := ConditionMatch{ConditionName: cond, ConditionMet: matched[cond]}
		if blocking {
			res.BlockingConditions = append(res.BlockingConditions, m)
		} else {
			res.InformativeConditions = append(res.InformativeConditions, m)
		}
	}

	presence, err := r.QueryRepo.Presence(ctx, imeiNorm)
	if err != nil {
		return nil, fmt.Errorf("imeiquery: %w", err)
	}
	res.Realtime.EverObservedOnNetwork = presence.Observed
	res.Realtime.InvalidIMEI = len(imeiNorm) < NormalizedLength

	pairingRow, err := r.Pairing.Current(ctx, imeiNorm)
	if err != nil {
		return nil, fmt.Errorf("imeiquery: %w", err)
	}
	res.Realtime.IsPaired = pairingRow != nil

	regRow, err := r.Registration.Current(ctx, imeiNorm)
	if err != nil {
		return nil, fmt.Errorf("imeiquery: %w", err)
	}
	res.Realtime.InRegistrationList = regRow != nil

	tac := storage.TACForIMEI(imeiNorm)
	gsmaRow, err := r.GSMACache.Lookup(ctx, tac)
	if err != nil {
		return nil, fmt.Errorf("imeiquery: %w", err)
	}
	res.Realtime.GSMANotFound = gsmaRow == nil
	if gsmaRow != nil && opts.ExemptedDeviceTypes != nil {
		res.Realtime.IsExemptedDevice = opts.ExemptedDeviceTypes[gsmaRow.DeviceType]
	}

	if opts.IncludeRegistrationStatus {
		res.RegistrationStatus = &StatusInfo{}
		if regRow != nil {
			var extra RegistrationExtra
			if err := json.Unmarshal(regRow.Extra, &extra); err == nil {
				res.RegistrationStatus = &StatusInfo{Known: true, Status: extra.Status, ProvisionalOnly: extra.ProvisionalOnly}
			}
		}
	}
	if opts.IncludeStolenStatus {
		res.StolenStatus = &StatusInfo{}
		stolenRow, err := r.Stolen.Current(ctx, imeiNorm)
		if err != nil {
			return nil, fmt.Errorf("imeiquery: %w", err)
		}
		if stolenRow != nil {
			var extra StolenExtra
			if err := json.Unmarshal(stolenRow.Extra, &extra); err == nil {
				res.StolenStatus = &StatusInfo{Known: true, Status: extra.Status, ProvisionalOnly: extra.ProvisionalOnly}
			}
		}
	}

	pairLimit := opts.PairingsLimit
	if pairLimit <= 0 {
		pairLimit = DefaultPageLimit
	}
	pairs, nextKey, err := r.QueryRepo.PairingsPage(ctx, imeiNorm, opts.PairingsAfterKey, pairLimit)
	if err != nil {
		return nil, fmt.Errorf("imeiquery: %w", err)
	}
	res.Pairings = &Page{CurrentKey: opts.PairingsAfterKey, NextKey: nextKey, ResultSize: len(pairs), Pairs: pairs}

	subLimit := opts.SubscribersLimit
	if subLimit <= 0 {
		subLimit = DefaultPageLimit
	}
	subs, subNextKey, err := r.QueryRepo.SubscribersPage(ctx, imeiNorm, opts.SubscribersAfterKey, subLimit)
	if err != nil {
		return nil, fmt.Errorf("imeiquery: %w", err)
	}
	res.Subscribers = &Page{CurrentKey: opts.SubscribersAfterKey, NextKey: subNextKey, ResultSize: len(subs), Pairs: subs}

	if opts.IncludeSeenWith {
		rows, err := r.QueryRepo.SeenWith(ctx, imeiNorm)
		if err != nil {
			return nil, fmt.Errorf("imeiquery: %w", err)
		}
		res.SeenWith = make([]SeenWithEntry, len(rows))
		for i, row := range rows {
			res.SeenWith[i] = SeenWithEntry{OperatorID: row.OperatorID, IMSI: row.IMSI, MSISDN: row.MSISDN, FirstSeen: row.FirstSeen, LastSeen: row.LastSeen}
		}
	}

	return res, nil
}

// ValidateBatch checks a batch IMEI query against MaxBatchSize.
func ValidateBatch(imeis []string) error {
	if len(imeis) > MaxBatchSize {
		return &dirbserr.ValidationError{Check: "batch_size", Msg: fmt.Sprintf("batch of %d imeis exceeds max %d", len(imeis), MaxBatchSize)}
	}
	return nil
}
