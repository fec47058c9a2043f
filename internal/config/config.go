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

// Package config decodes and validates the DIRBS job configuration: DB
// connection parameters, operators, import thresholds, dimensions, and
// conditions. Validation happens entirely at load time so a ConfigError
// surfaces before any work begins.
package config

import (
	"fmt"
	"regexp"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/dirbs-project/dirbs-core/internal/dirbserr"
)

// Reserved is the operator identifier no configuration may claim.
const Reserved = "__all__"

var operatorIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// DB holds Postgres connection parameters; CLI flags and environment
// variables both feed into this struct, with flags taking
// precedence — that merge happens in cmd/dirbs, not here.
type DB struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	MaxConns int    `toml:"max_db_connections"`
}

// MCCMNC is one (MCC, MNC) pair.
type MCCMNC struct {
	MCC string `toml:"mcc"`
	MNC string `toml:"mnc"`
}

// Operator is one configured network operator.
type Operator struct {
	ID            string   `toml:"id"`
	Pairs         []MCCMNC `toml:"mcc_mnc_pairs"`
	CountryCodes  []string `toml:"country_codes"`
}

// ImportThresholds are the named import ratio gates, each in [0,1]
// unless noted.
type ImportThresholds struct {
	NullIMEI            float64 `toml:"null_imei_threshold"`
	NullIMSI             float64 `toml:"null_imsi_threshold"`
	NullMSISDN          float64 `toml:"null_msisdn_threshold"`
	NullRAT              float64 `toml:"null_rat_threshold"`
	Null                 float64 `toml:"null_threshold"`
	UncleanIMEI          float64 `toml:"unclean_imei_threshold"`
	UncleanIMSI          float64 `toml:"unclean_imsi_threshold"`
	Unclean              float64 `toml:"unclean_threshold"`
	OutOfRegionIMSI      float64 `toml:"out_of_region_imsi_threshold"`
	OutOfRegionMSISDN    float64 `toml:"out_of_region_msisdn_threshold"`
	OutOfRegion          float64 `toml:"out_of_region_threshold"`
	NonHomeNetwork       float64 `toml:"non_home_network_threshold"`
	HistoricIMEI         float64 `toml:"historic_imei_threshold"`
	HistoricIMSI         float64 `toml:"historic_imsi_threshold"`
	HistoricMSISDN       float64 `toml:"historic_msisdn_threshold"`
	LeadingZeroSuspect   float64 `toml:"leading_zero_suspect_limit"`
}

// ImportSwitches are the perform_* toggles: each disables one import
// gate (or column) with a warning.
type ImportSwitches struct {
	PerformMSISDNImport      bool `toml:"perform_msisdn_import"`
	PerformRATImport         bool `toml:"perform_rat_import"`
	PerformFileDaterangeCheck bool `toml:"perform_file_daterange_check"`
	PerformLeadingZeroCheck  bool `toml:"perform_leading_zero_check"`
	PerformNullCheck         bool `toml:"perform_null_check"`
	PerformUncleanCheck      bool `toml:"perform_unclean_check"`
	PerformRegionCheck       bool `toml:"perform_region_check"`
	PerformHomeNetworkCheck  bool `toml:"perform_home_network_check"`
	PerformHistoricCheck     bool `toml:"perform_historic_check"`
	PerformAutoAnalyzeCheck  bool `toml:"perform_auto_analyze_check"`
}

// DefaultImportSwitches turns every gate on; configurations opt out
// per check.
func DefaultImportSwitches() ImportSwitches {
	return ImportSwitches{
		PerformMSISDNImport:       true,
		PerformRATImport:          true,
		PerformFileDaterangeCheck: true,
		PerformLeadingZeroCheck:   true,
		PerformNullCheck:          true,
		PerformUncleanCheck:       true,
		PerformRegionCheck:        true,
		PerformHomeNetworkCheck:   true,
		PerformHistoricCheck:      true,
		PerformAutoAnalyzeCheck:   true,
	}
}

// DefaultHistoricRatio governs the historic check: a file's observed
// daily-unique averages must be >= ratio * the 30-day sketch average.
const DefaultHistoricRatio = 0.5

// DimensionConfig is one configured instance of a dimension: Label names
// the concrete dimension implementation, Params carries its constructor
// arguments as a generic map decoded from TOML and re-validated by the
// dimension's own constructor.
type DimensionConfig struct {
	Label  string         `toml:"label"`
	Params map[string]any `toml:"params"`
	// Invert complements the dimension at condition-configuration time:
	// the matching set becomes {imei in network_imeis[shard]} minus the
	// dimension's own matching set.
	Invert bool `toml:"invert"`
}

// ConditionConfig is one configured classification condition.
type ConditionConfig struct {
	Label           string            `toml:"label"`
	Blocking        bool              `toml:"blocking"`
	Sticky          bool              `toml:"sticky"`
	GracePeriodDays int               `toml:"grace_period_days"`
	Dimensions      []DimensionConfig `toml:"dimensions"`
	// MaxAllowedMatchedRatio is the safety-check threshold: a condition
	// may not newly match more than this fraction of network_imeis in one
	// classification run without --no-safety-check.
	MaxAllowedMatchedRatio float64 `toml:"max_allowed_matched_ratio"`
}

// Amnesty is the optional window deferring block dates for devices
// classified during an announced evaluation period.
type Amnesty struct {
	Enabled               bool   `toml:"amnesty_enabled"`
	EvaluationPeriodEnd   string `toml:"evaluation_period_end_date"`
	AmnestyPeriodEnd      string `toml:"amnesty_period_end_date"`
}

// Config is the fully decoded, validated job configuration.
type Config struct {
	// Country names the deployment's country, used in report file names.
	Country           string            `toml:"country_name"`
	DB                DB                `toml:"db"`
	Operators         []Operator        `toml:"operators"`
	ImportThresholds  ImportThresholds  `toml:"import_thresholds"`
	ImportSwitches    ImportSwitches    `toml:"import_switches"`
	HistoricRatio     float64           `toml:"historic_ratio"`
	Conditions        []ConditionConfig `toml:"conditions"`
	Amnesty           Amnesty           `toml:"amnesty"`
	NumPhysicalShards int               `toml:"num_physical_shards"`
}

// Load decodes TOML from data and validates the result. Any structural or
// semantic problem is returned as a *dirbserr.ConfigError.
func Load(data []byte) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, &dirbserr.ConfigError{Detail: fmt.Sprintf("parse: %v", err)}
	}
	if c.HistoricRatio == 0 {
		c.HistoricRatio = DefaultHistoricRatio
	}
	if c.Country == "" {
		c.Country = "country"
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects the reserved operator id, malformed identifiers,
// MCC/MNC pair prefix collisions across operators, and out-of-range
// thresholds.
func Validate(c *Config) error {
	seen := make(map[string]bool, len(c.Operators))
	var allPairs []struct {
		op   string
		pair string
	}
	for _, op := range c.Operators {
		if op.ID == Reserved {
			return &dirbserr.ConfigError{Detail: fmt.Sprintf("operator id %q is reserved", Reserved)}
		}
		if !operatorIDPattern.MatchString(op.ID) {
			return &dirbserr.ConfigError{Detail: fmt.Sprintf("operator id %q must match [a-z0-9_]+", op.ID)}
		}
		if seen[op.ID] {
			return &dirbserr.ConfigError{Detail: fmt.Sprintf("duplicate operator id %q", op.ID)}
		}
		seen[op.ID] = true

		for _, p := range op.Pairs {
			allPairs = append(allPairs, struct {
				op   string
				pair string
			}{op.ID, p.MCC + p.MNC})
		}
	}

	for i := 0; i < len(allPairs); i++ {
		for j := i + 1; j < len(allPairs); j++ {
			if allPairs[i].op == allPairs[j].op {
				continue
			}
			a, b := allPairs[i].pair, allPairs[j].pair
			if a == b || isPrefix(a, b) || isPrefix(b, a) {
				return &dirbserr.ConfigError{Detail: fmt.Sprintf(
					"mcc/mnc pair %q (operator %s) collides with %q (operator %s)",
					a, allPairs[i].op, b, allPairs[j].op)}
			}
		}
	}

	for _, t := range []struct {
		name string
		v    float64
	}{
		{"null_imei_threshold", c.ImportThresholds.NullIMEI},
		{"null_imsi_threshold", c.ImportThresholds.NullIMSI},
		{"null_msisdn_threshold", c.ImportThresholds.NullMSISDN},
		{"null_rat_threshold", c.ImportThresholds.NullRAT},
		{"null_threshold", c.ImportThresholds.Null},
		{"unclean_imei_threshold", c.ImportThresholds.UncleanIMEI},
		{"unclean_imsi_threshold", c.ImportThresholds.UncleanIMSI},
		{"unclean_threshold", c.ImportThresholds.Unclean},
		{"out_of_region_imsi_threshold", c.ImportThresholds.OutOfRegionIMSI},
		{"out_of_region_msisdn_threshold", c.ImportThresholds.OutOfRegionMSISDN},
		{"out_of_region_threshold", c.ImportThresholds.OutOfRegion},
		{"non_home_network_threshold", c.ImportThresholds.NonHomeNetwork},
		{"historic_imei_threshold", c.ImportThresholds.HistoricIMEI},
		{"historic_imsi_threshold", c.ImportThresholds.HistoricIMSI},
		{"historic_msisdn_threshold", c.ImportThresholds.HistoricMSISDN},
	} {
		if t.v < 0 || t.v > 1 {
			return &dirbserr.ConfigError{Detail: fmt.Sprintf("%s must be in [0,1], got %v", t.name, t.v)}
		}
	}

	if c.NumPhysicalShards < 0 || c.NumPhysicalShards > 100 {
		return &dirbserr.ConfigError{Detail: fmt.Sprintf("num_physical_shards must be in [1,100], got %d", c.NumPhysicalShards)}
	}

	for _, cond := range c.Conditions {
		if cond.GracePeriodDays < 0 {
			return &dirbserr.ConfigError{Detail: fmt.Sprintf("condition %q: grace_period_days must be >= 0", cond.Label)}
		}
	}

	return nil
}

func isPrefix(shorter, longer string) bool {
	if len(shorter) >= len(longer) {
		return false
	}
	return longer[:len(shorter)] == shorter
}
