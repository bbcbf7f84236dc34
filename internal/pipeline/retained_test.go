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

func TestDetectRetainedConfirmsTiedSequenceNumber(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 100, 0)
	putReading(fx, "stars1", 20240101, 1, 2, 100, 5)

	require.NoError(t, fx.Working.UpsertGlobalStats(context.Background(), types.GlobalStats{
		Name: "stars1", Median: 10, N: 1, Method: types.MethodAutomatic,
	}))
	require.NoError(t, fx.Working.InsertDifferences(context.Background(), []types.Difference{
		{Name: "stars1", DateID: 20240101, TimeID: 1, Rank: 2, DeltaSeq: 2, DeltaT: 5},
	}))

	p := New(fx.Working, fx.Reference, Options{Tolerance: 10})
	result, err := p.DetectRetained(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Candidates)
	assert.Equal(t, 1, result.Confirmed)

	r, ok := fx.Working.Get(types.ReadingKey{Name: "stars1", DateID: 20240101, TimeID: 1})
	require.True(t, ok)
	require.NotNil(t, r.Rejected)
	assert.Equal(t, types.DupSeqNumber, *r.Rejected)

	earlier, ok := fx.Working.Get(types.ReadingKey{Name: "stars1", DateID: 20240101, TimeID: 0})
	require.True(t, ok)
	assert.Nil(t, earlier.Rejected, "the earlier of the tied pair stays unrejected")
}

func TestDetectRetainedIgnoresDistinctSequenceNumbers(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 100, 0)
	putReading(fx, "stars1", 20240101, 1, 2, 103, 5)

	require.NoError(t, fx.Working.UpsertGlobalStats(context.Background(), types.GlobalStats{
		Name: "stars1", Median: 10, N: 1, Method: types.MethodAutomatic,
	}))
	require.NoError(t, fx.Working.InsertDifferences(context.Background(), []types.Difference{
		{Name: "stars1", DateID: 20240101, TimeID: 1, Rank: 2, DeltaSeq: 3, DeltaT: 5},
	}))

	p := New(fx.Working, fx.Reference, Options{Tolerance: 10})
	result, err := p.DetectRetained(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Candidates)
	assert.Equal(t, 0, result.Confirmed)
}

func TestDetectRetainedSkipsNameWithNoGlobalStats(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 100, 0)

	p := New(fx.Working, fx.Reference, Options{Tolerance: 10})
	result, err := p.DetectRetained(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Candidates)
}
