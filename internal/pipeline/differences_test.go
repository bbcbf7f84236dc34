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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgz-obs/tessdb-import/internal/pipeline/pipelinetest"
	"github.com/rgz-obs/tessdb-import/internal/types"
)

func putReading(fx *pipelinetest.Fixture, name string, date types.DateID, timeID types.TimeID, rank, seq int64, secondsInDay int) {
	fx.Working.Put(types.Reading{
		Name:           name,
		DateID:         date,
		TimeID:         timeID,
		Rank:           rank,
		SequenceNumber: seq,
		SecondsInDay:   secondsInDay,
		Timestamp:      types.TimeFromIDs(date, timeID),
	})
}

func TestDifferencesMarksSingleReadingGroup(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 1, 0)

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.Differences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Single)

	r, ok := fx.Working.Get(types.ReadingKey{Name: "stars1", DateID: 20240101, TimeID: 0})
	require.True(t, ok)
	require.NotNil(t, r.Rejected)
	assert.Equal(t, types.Single, *r.Rejected)
}

func TestDifferencesMarksPairReadingGroup(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 1, 0)
	putReading(fx, "stars1", 20240101, 1, 2, 2, 1)

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.Differences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pair)

	for _, key := range []types.ReadingKey{
		{Name: "stars1", DateID: 20240101, TimeID: 0},
		{Name: "stars1", DateID: 20240101, TimeID: 1},
	} {
		r, ok := fx.Working.Get(key)
		require.True(t, ok)
		require.NotNil(t, r.Rejected)
		assert.Equal(t, types.Pair, *r.Rejected)
	}
}

func TestDifferencesComputesDeltaForThreeOrMore(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 1, 0)
	putReading(fx, "stars1", 20240101, 1, 2, 2, 1)
	putReading(fx, "stars1", 20240101, 2, 3, 3, 2)

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.Differences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Computed)

	diffs := fx.Working.Differences()
	require.Len(t, diffs, 2)
	for _, d := range diffs {
		assert.Equal(t, int64(1), d.DeltaSeq)
		assert.Equal(t, int64(1), d.DeltaT)
		assert.Equal(t, 1.0, d.Period)
	}
}

func TestDifferencesFlagsZeroSequenceDeltaAsDuplicate(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 1, 0)
	putReading(fx, "stars1", 20240101, 1, 2, 1, 1)
	putReading(fx, "stars1", 20240101, 2, 3, 2, 2)

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.Differences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.DupSeq)
	assert.Equal(t, 1, result.Computed)

	r, ok := fx.Working.Get(types.ReadingKey{Name: "stars1", DateID: 20240101, TimeID: 1})
	require.True(t, ok)
	require.NotNil(t, r.Rejected)
	assert.Equal(t, types.DupSeqNumber, *r.Rejected)
}

func TestDifferencesRestrictsToNamedPhotometer(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 1, 0)
	putReading(fx, "stars2", 20240101, 0, 1, 1, 0)

	p := New(fx.Working, fx.Reference, Options{Name: "stars1"})
	result, err := p.Differences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Groups)
	assert.Equal(t, 1, result.Single)

	r, ok := fx.Working.Get(types.ReadingKey{Name: "stars2", DateID: 20240101, TimeID: 0})
	require.True(t, ok)
	assert.Nil(t, r.Rejected)
}
