package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirbs-project/dirbs-core/internal/config"
)

const validTOML = `
[db]
host = "localhost"
port = 5432
database = "dirbs"
user = "dirbs_core_import"

[[operators]]
id = "op1"
country_codes = ["1"]
[[operators.mcc_mnc_pairs]]
mcc = "001"
mnc = "01"

[[operators]]
id = "op2"
country_codes = ["1"]
[[operators.mcc_mnc_pairs]]
mcc = "001"
mnc = "02"

[import_thresholds]
null_imei_threshold = 0.2
`

func TestLoadValidConfig(t *testing.T) {
	c, err := config.Load([]byte(validTOML))
	require.NoError(t, err)
	assert.Len(t, c.Operators, 2)
	assert.Equal(t, 0.2, c.ImportThresholds.NullIMEI)
	assert.Equal(t, config.DefaultHistoricRatio, c.HistoricRatio)
}

func TestReservedOperatorIDRejected(t *testing.T) {
	_, err := config.Load([]byte(`
[[operators]]
id = "__all__"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestOperatorIDPatternEnforced(t *testing.T) {
	_, err := config.Load([]byte(`
[[operators]]
id = "Op-1"
`))
	require.Error(t, err)
}

func TestMCCMNCPrefixCollisionRejected(t *testing.T) {
	_, err := config.Load([]byte(`
[[operators]]
id = "op1"
[[operators.mcc_mnc_pairs]]
mcc = "001"
mnc = "01"

[[operators]]
id = "op2"
[[operators.mcc_mnc_pairs]]
mcc = "001"
mnc = "010"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides")
}

func TestThresholdOutOfRangeRejected(t *testing.T) {
	_, err := config.Load([]byte(`
[import_thresholds]
null_imei_threshold = 1.5
`))
	require.Error(t, err)
}

func TestDuplicateOperatorIDRejected(t *testing.T) {
	_, err := config.Load([]byte(`
[[operators]]
id = "op1"

[[operators]]
id = "op1"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
