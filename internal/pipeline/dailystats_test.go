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

func TestSummarizeOddCount(t *testing.T) {
	s := summarize([]float64{5, 1, 3})
	assert.Equal(t, 3.0, s.median)
	assert.Equal(t, 1.0, s.min)
	assert.Equal(t, 5.0, s.max)
	assert.InDelta(t, 3.0, s.mean, 1e-9)
}

func TestSummarizeEvenCount(t *testing.T) {
	s := summarize([]float64{1, 2, 3, 4})
	assert.Equal(t, 2.5, s.median)
}

func TestSummarizeDoesNotMutateInput(t *testing.T) {
	values := []float64{9, 1, 5}
	_ = summarize(values)
	assert.Equal(t, []float64{9, 1, 5}, values)
}

func TestDailyStatsComputesPerNameDateAggregate(t *testing.T) {
	fx := pipelinetest.NewFixture()
	require.NoError(t, fx.Working.InsertDifferences(context.Background(), []types.Difference{
		{Name: "stars1", DateID: 20240101, DeltaT: 10},
		{Name: "stars1", DateID: 20240101, DeltaT: 20},
		{Name: "stars1", DateID: 20240101, DeltaT: 30},
	}))

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.DailyStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Computed)

	ds, ok, err := fx.Working.DailyStatsFor(context.Background(), "stars1", 20240101)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20.0, ds.Mean)
	assert.Equal(t, 20.0, ds.Median)
	assert.Equal(t, 3, ds.N)
	assert.Equal(t, 10.0, ds.Min)
	assert.Equal(t, 30.0, ds.Max)
}

func TestDailyStatsSkipsGroupWithNoDifferences(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 1, 0)

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.DailyStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Computed)
}

func TestDailyStatsDryRunDoesNotWrite(t *testing.T) {
	fx := pipelinetest.NewFixture()
	require.NoError(t, fx.Working.InsertDifferences(context.Background(), []types.Difference{
		{Name: "stars1", DateID: 20240101, DeltaT: 10},
	}))

	p := New(fx.Working, fx.Reference, Options{Test: true})
	result, err := p.DailyStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Computed)

	_, ok, err := fx.Working.DailyStatsFor(context.Background(), "stars1", 20240101)
	require.NoError(t, err)
	assert.False(t, ok)
}
