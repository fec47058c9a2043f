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

package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dirbs-project/dirbs-core/internal/dirbserr"
	"github.com/dirbs-project/dirbs-core/internal/imeiquery"
	"github.com/dirbs-project/dirbs-core/internal/shard"
	"github.com/dirbs-project/dirbs-core/internal/storage"
)

// listHeader resolves a reference-list CSV header case-insensitively
// against the expected column names, requiring every required column and
// rejecting anything unrecognized.
func listHeader(record, required, optional []string) (map[string]int, error) {
	allowed := map[string]bool{}
	for _, c := range required {
		allowed[c] = true
	}
	for _, c := range optional {
		allowed[c] = true
	}
	idx := map[string]int{}
	for i, name := range record {
		n := strings.ToLower(strings.TrimSpace(name))
		if !allowed[n] {
			return nil, &dirbserr.ValidationError{
				Check: "csv_header_check", Msg: fmt.Sprintf("unrecognized column %q", name),
			}
		}
		idx[n] = i
	}
	for _, c := range required {
		if _, ok := idx[c]; !ok {
			return nil, &dirbserr.ValidationError{
				Check: "csv_header_check", Msg: fmt.Sprintf("missing required column %q", c),
			}
		}
	}
	return idx, nil
}

func listRows(r io.Reader, required, optional []string, fn func(get func(col string) string) error) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	first, err := cr.Read()
	if err != nil {
		return 0, &dirbserr.ValidationError{Check: "csv_header_check", Msg: fmt.Sprintf("read header: %v", err)}
	}
	idx, err := listHeader(first, required, optional)
	if err != nil {
		return 0, err
	}

	n := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, &dirbserr.ValidationError{Check: "csv_format_check", Msg: fmt.Sprintf("line %d: %v", n+2, err)}
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		if err := fn(get); err != nil {
			return n, err
		}
		n++
	}
}

// ImportGSMA replaces the GSMA TAC reference table from a TAC CSV with
// headers tac,manufacturer,model_name,device_type,rat_bitmask.
func ImportGSMA(ctx context.Context, r io.Reader, repo *storage.GSMARepo) (int, error) {
	var rows []storage.GSMARow
	n, err := listRows(r,
		[]string{"tac", "manufacturer", "model_name"},
		[]string{"device_type", "rat_bitmask"},
		func(get func(string) string) error {
			tac := get("tac")
			if len(tac) != 8 {
				return &dirbserr.ValidationError{Check: "gsma_tac_check", Msg: fmt.Sprintf("tac %q is not 8 digits", tac)}
			}
			var ratMask uint64
			if raw := get("rat_bitmask"); raw != "" {
				m, err := strconv.ParseUint(raw, 0, 32)
				if err != nil {
					return &dirbserr.ValidationError{Check: "gsma_rat_bitmask_check", Msg: fmt.Sprintf("rat_bitmask %q: %v", raw, err)}
				}
				ratMask = m
			}
			rows = append(rows, storage.GSMARow{
				TAC:          tac,
				Manufacturer: get("manufacturer"),
				ModelName:    get("model_name"),
				DeviceType:   get("device_type"),
				RATBitmask:   uint32(ratMask),
			})
			return nil
		})
	if err != nil {
		return n, err
	}
	if err := repo.ReplaceAll(ctx, rows); err != nil {
		return n, err
	}
	return n, nil
}

// ImportRegistrationList upserts approved IMEIs
// (approved_imei,make,model,status,model_number,brand_name,device_type,
// radio_interface,device_id).
func ImportRegistrationList(ctx context.Context, r io.Reader, list *storage.HistoricList[imeiquery.RegistrationExtra], importDate time.Time) (int, error) {
	return listRows(r,
		[]string{"approved_imei", "make", "model", "status"},
		[]string{"model_number", "brand_name", "device_type", "radio_interface", "device_id"},
		func(get func(string) string) error {
			imeiNorm := shard.Normalize(get("approved_imei"))
			status := get("status")
			return list.Upsert(ctx, imeiNorm, importDate, imeiquery.RegistrationExtra{
				Status:          status,
				ProvisionalOnly: strings.EqualFold(status, "pending"),
			})
		})
}

// ImportStolenList upserts stolen reports (imei,reporting_date,status).
// The reporting date, not the import date, starts the historic record so
// dimensions that window on it see the theft date.
func ImportStolenList(ctx context.Context, r io.Reader, list *storage.HistoricList[imeiquery.StolenExtra], importDate time.Time) (int, error) {
	return listRows(r,
		[]string{"imei", "reporting_date", "status"},
		nil,
		func(get func(string) string) error {
			startDate := importDate
			if d, err := time.Parse("20060102", get("reporting_date")); err == nil {
				startDate = d
			}
			status := get("status")
			return list.Upsert(ctx, shard.Normalize(get("imei")), startDate, imeiquery.StolenExtra{
				Status:          status,
				ProvisionalOnly: strings.EqualFold(status, "pending"),
			})
		})
}

// ImportPairingList upserts IMEI-IMSI pairings (imei,imsi,msisdn).
func ImportPairingList(ctx context.Context, r io.Reader, list *storage.HistoricList[imeiquery.PairingExtra], importDate time.Time) (int, error) {
	return listRows(r,
		[]string{"imei", "imsi"},
		[]string{"msisdn"},
		func(get func(string) string) error {
			return list.Upsert(ctx, shard.Normalize(get("imei")), importDate, imeiquery.PairingExtra{
				IMSI:   get("imsi"),
				MSISDN: get("msisdn"),
			})
		})
}

// BarredExtra is the (empty) extra payload of barred_list and
// monitoring_list rows; both carry only the IMEI itself.
type BarredExtra struct{}

// AssociationExtra is device_association_list's extra payload: the
// subscriber UID the device is associated with.
type AssociationExtra struct {
	UID string `json:"uid"`
}

// ImportBarredList upserts barred IMEIs (imei_norm).
func ImportBarredList(ctx context.Context, r io.Reader, list *storage.HistoricList[BarredExtra], importDate time.Time) (int, error) {
	return importBareIMEIList(ctx, r, list, importDate)
}

// ImportMonitoringList upserts monitored IMEIs (imei_norm).
func ImportMonitoringList(ctx context.Context, r io.Reader, list *storage.HistoricList[BarredExtra], importDate time.Time) (int, error) {
	return importBareIMEIList(ctx, r, list, importDate)
}

func importBareIMEIList(ctx context.Context, r io.Reader, list *storage.HistoricList[BarredExtra], importDate time.Time) (int, error) {
	return listRows(r,
		[]string{"imei_norm"},
		nil,
		func(get func(string) string) error {
			return list.Upsert(ctx, shard.Normalize(get("imei_norm")), importDate, BarredExtra{})
		})
}

// ImportAssociationList upserts device-UID associations (imei_norm,uid).
func ImportAssociationList(ctx context.Context, r io.Reader, list *storage.HistoricList[AssociationExtra], importDate time.Time) (int, error) {
	return listRows(r,
		[]string{"imei_norm", "uid"},
		nil,
		func(get func(string) string) error {
			return list.Upsert(ctx, shard.Normalize(get("imei_norm")), importDate, AssociationExtra{UID: get("uid")})
		})
}
