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

func TestGlobalStatsMedianOfDailyMedians(t *testing.T) {
	fx := pipelinetest.NewFixture()
	require.NoError(t, fx.Working.UpsertDailyStats(context.Background(), []types.DailyStats{
		{Name: "stars1", DateID: 20240101, Median: 10},
		{Name: "stars1", DateID: 20240102, Median: 20},
		{Name: "stars1", DateID: 20240103, Median: 30},
	}))

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.GlobalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Computed)

	gs, ok, err := fx.Working.GlobalStatsByName(context.Background(), "stars1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20.0, gs.Median)
	assert.Equal(t, 3, gs.N)
	assert.Equal(t, types.MethodAutomatic, gs.Method)
}

func TestGlobalStatsSkipsNameWithNoDailyStats(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 1, 0)

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.GlobalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Computed)
}

func TestSetManualPeriodOverridesWithZeroN(t *testing.T) {
	fx := pipelinetest.NewFixture()
	p := New(fx.Working, fx.Reference, Options{})

	require.NoError(t, p.SetManualPeriod(context.Background(), "stars1", 5.2))

	gs, ok, err := fx.Working.GlobalStatsByName(context.Background(), "stars1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.2, gs.Median)
	assert.Equal(t, 0, gs.N)
	assert.Equal(t, types.MethodManual, gs.Method)
}

func TestSetManualPeriodDryRunDoesNotWrite(t *testing.T) {
	fx := pipelinetest.NewFixture()
	p := New(fx.Working, fx.Reference, Options{Test: true})

	require.NoError(t, p.SetManualPeriod(context.Background(), "stars1", 5.2))

	_, ok, err := fx.Working.GlobalStatsByName(context.Background(), "stars1")
	require.NoError(t, err)
	assert.False(t, ok)
}
