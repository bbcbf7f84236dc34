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

package pipeline

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgz-obs/tessdb-import/internal/pipeline/pipelinetest"
	"github.com/rgz-obs/tessdb-import/internal/types"
)

func putComparableReading(fx *pipelinetest.Fixture, date types.DateID, timeID types.TimeID, tessID, seq int64) types.ReadingKey {
	r := types.Reading{
		Name:           "stars1",
		DateID:         date,
		TimeID:         timeID,
		SequenceNumber: seq,
		TessID:         sql.NullInt64{Int64: tessID, Valid: true},
		Timestamp:      types.TimeFromIDs(date, timeID),
	}
	fx.Working.Put(r)
	return r.Key()
}

func TestCompareReferenceAcceptsWithNoMatch(t *testing.T) {
	fx := pipelinetest.NewFixture()
	key := putComparableReading(fx, 20240101, 0, 7, 1)

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.CompareReference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)

	r, ok := fx.Working.Get(key)
	require.True(t, ok)
	require.NotNil(t, r.Rejected)
	assert.Equal(t, types.Accepted, *r.Rejected)
}

func TestCompareReferenceMarksCoincidentOnMatchingSequence(t *testing.T) {
	fx := pipelinetest.NewFixture()
	key := putComparableReading(fx, 20240101, 0, 7, 99)
	fx.Reference.AddReading(types.RefReading{TessID: 7, DateID: 20240101, TimeID: 0, SequenceNumber: 99})

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.CompareReference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Coincident)

	r, ok := fx.Working.Get(key)
	require.True(t, ok)
	require.NotNil(t, r.Rejected)
	assert.Equal(t, types.Coincident, *r.Rejected)
}

func TestCompareReferenceMarksShiftedOnDifferentSequence(t *testing.T) {
	fx := pipelinetest.NewFixture()
	key := putComparableReading(fx, 20240101, 0, 7, 99)
	fx.Reference.AddReading(types.RefReading{TessID: 7, DateID: 20240101, TimeID: 0, SequenceNumber: 5})

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.CompareReference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Shifted)

	r, ok := fx.Working.Get(key)
	require.True(t, ok)
	require.NotNil(t, r.Rejected)
	assert.Equal(t, types.Shifted, *r.Rejected)
}

func TestCompareReferenceMarksAmbiguousOnMultipleMatches(t *testing.T) {
	fx := pipelinetest.NewFixture()
	key := putComparableReading(fx, 20240101, 0, 7, 99)
	fx.Reference.AddReading(types.RefReading{TessID: 7, DateID: 20240101, TimeID: 0, SequenceNumber: 99})
	fx.Reference.AddReading(types.RefReading{TessID: 7, DateID: 20240101, TimeID: 0, SequenceNumber: 100})

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.CompareReference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AmbiguousTime)

	r, ok := fx.Working.Get(key)
	require.True(t, ok)
	require.NotNil(t, r.Rejected)
	assert.Equal(t, types.AmbiguousTime, *r.Rejected)
}

func TestCompareReferenceSkipsReadingsWithoutTessID(t *testing.T) {
	fx := pipelinetest.NewFixture()
	fx.Working.Put(types.Reading{
		Name: "stars1", DateID: 20240101, TimeID: 0,
		Timestamp: types.TimeFromIDs(20240101, 0),
	})

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.CompareReference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Accepted)
	assert.Equal(t, 0, result.Coincident)
	assert.Equal(t, 0, result.Shifted)
	assert.Equal(t, 0, result.AmbiguousTime)
}
