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

package imeiquery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dirbs-project/dirbs-core/internal/shard"
)

func TestValidateRejectsEmpty(t *testing.T) {
	assert.Error(t, Validate(""))
	assert.Error(t, Validate("   "))
}

func TestValidateRejectsTooLong(t *testing.T) {
	assert.Error(t, Validate("123456789012345678")) // 18 chars
}

func TestValidateRejectsBadCharset(t *testing.T) {
	assert.Error(t, Validate("1234-5678-9012"))
}

func TestValidateAcceptsSixteenDigitIMEI(t *testing.T) {
	assert.NoError(t, Validate("3884773337002633"))
}

func TestNormalizeTruncatesToFourteenDigits(t *testing.T) {
	got := shard.Normalize("3884773337002633")
	assert.Equal(t, "38847733370026", got)
	assert.Len(t, got, NormalizedLength)
}

func TestShortIMEIValidatesButNormalizesBelowFullLength(t *testing.T) {
	assert.NoError(t, Validate("123456"))
	got := shard.Normalize("123456")
	assert.Less(t, len(got), NormalizedLength)
}

func TestValidateBatchEnforcesCap(t *testing.T) {
	imeis := make([]string, MaxBatchSize+1)
	assert.Error(t, ValidateBatch(imeis))
	assert.NoError(t, ValidateBatch(imeis[:MaxBatchSize]))
}
