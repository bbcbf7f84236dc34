// Copyright 2024 The tessdb-import Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package msort

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rgz-obs/tessdb-import/internal/types"
)

func reading(name string, dateID types.DateID, timeID types.TimeID, line int, seq int64) types.Reading {
	return types.Reading{
		Name:           name,
		DateID:         dateID,
		TimeID:         timeID,
		LineNumber:     line,
		SequenceNumber: seq,
	}
}

func TestUniqueByIdentityNoDuplicates(t *testing.T) {
	in := []types.Reading{
		reading("stars1", 20240101, 120000, 1, 10),
		reading("stars1", 20240101, 120001, 2, 11),
		reading("stars2", 20240101, 120000, 3, 1),
	}
	out := UniqueByIdentity(in)
	assert.Len(t, out, 3)
}

func TestUniqueByIdentityLastLineWins(t *testing.T) {
	in := []types.Reading{
		reading("stars1", 20240101, 120000, 1, 10),
		reading("stars1", 20240101, 120000, 5, 99),
	}
	out := UniqueByIdentity(in)
	if assert.Len(t, out, 1) {
		assert.Equal(t, int64(99), out[0].SequenceNumber)
		assert.Equal(t, 5, out[0].LineNumber)
	}
}

func TestUniqueByIdentityKeepsLaterEvenWhenEarlierAppearsAfterInSlice(t *testing.T) {
	// The later line number wins regardless of its position within the
	// batch slice; only LineNumber decides.
	in := []types.Reading{
		reading("stars1", 20240101, 120000, 9, 99),
		reading("stars1", 20240101, 120000, 1, 10),
	}
	out := UniqueByIdentity(in)
	if assert.Len(t, out, 1) {
		assert.Equal(t, int64(99), out[0].SequenceNumber)
		assert.Equal(t, 9, out[0].LineNumber)
	}
}

func TestUniqueByIdentityMixedBatch(t *testing.T) {
	in := []types.Reading{
		reading("stars1", 20240101, 120000, 1, 1),
		reading("stars2", 20240101, 120000, 2, 2),
		reading("stars1", 20240101, 120000, 3, 3),
		reading("stars1", 20240101, 120001, 4, 4),
	}
	out := UniqueByIdentity(in)
	assert.Len(t, out, 3)

	byKey := make(map[types.ReadingKey]types.Reading, len(out))
	for _, r := range out {
		byKey[r.Key()] = r
	}
	winner := byKey[types.ReadingKey{Name: "stars1", DateID: 20240101, TimeID: 120000}]
	assert.Equal(t, int64(3), winner.SequenceNumber)
}

func TestUniqueByIdentityEmpty(t *testing.T) {
	out := UniqueByIdentity(nil)
	assert.Empty(t, out)
}
