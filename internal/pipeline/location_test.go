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

func putLocatableReading(fx *pipelinetest.Fixture, name string, date types.DateID, tessID int64) types.ReadingKey {
	r := types.Reading{
		Name:      name,
		DateID:    date,
		TimeID:    0,
		TessID:    sql.NullInt64{Int64: tessID, Valid: true},
		Timestamp: types.TimeFromIDs(date, 0),
	}
	fx.Working.Put(r)
	return r.Key()
}

func TestResolveLocationFastPath(t *testing.T) {
	fx := pipelinetest.NewFixture()
	key := putLocatableReading(fx, "stars1", 20240101, 7)
	fx.Reference.AddReading(types.RefReading{TessID: 7, DateID: 20240101, TimeID: 0, LocationID: 100})
	require.NoError(t, fx.Reference.RefreshLocationDailyAggregate(context.Background()))

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.ResolveLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FastPath)

	r, ok := fx.Working.Get(key)
	require.True(t, ok)
	require.True(t, r.LocationID.Valid)
	assert.Equal(t, int64(100), r.LocationID.Int64)
}

func TestResolveLocationUnresolvedGetsSentinelThenClosesGap(t *testing.T) {
	fx := pipelinetest.NewFixture()
	before := putLocatableReading(fx, "stars1", 20240101, 7)
	gap := putLocatableReading(fx, "stars1", 20240102, 7)
	after := putLocatableReading(fx, "stars1", 20240103, 7)

	fx.Reference.AddReading(types.RefReading{TessID: 7, DateID: 20240101, TimeID: 0, LocationID: 100})
	fx.Reference.AddReading(types.RefReading{TessID: 7, DateID: 20240103, TimeID: 0, LocationID: 100})
	// No reading seeded at date 20240102: the fast path misses and the
	// slow path finds nothing within the (zero) period window either.
	require.NoError(t, fx.Reference.RefreshLocationDailyAggregate(context.Background()))

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.ResolveLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.FastPath)
	assert.Equal(t, 1, result.Gaps)
	assert.Equal(t, 1, result.Closed)
	assert.Equal(t, 0, result.Ambiguous)

	beforeReading, ok := fx.Working.Get(before)
	require.True(t, ok)
	assert.Equal(t, int64(100), beforeReading.LocationID.Int64)

	gapReading, ok := fx.Working.Get(gap)
	require.True(t, ok)
	require.True(t, gapReading.LocationID.Valid)
	assert.Equal(t, int64(100), gapReading.LocationID.Int64)
	assert.Nil(t, gapReading.Rejected, "a closed gap is no longer rejected")

	afterReading, ok := fx.Working.Get(after)
	require.True(t, ok)
	assert.Equal(t, int64(100), afterReading.LocationID.Int64)
}

func TestResolveLocationAmbiguousGapIsRejected(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putLocatableReading(fx, "stars1", 20240101, 7)
	gap := putLocatableReading(fx, "stars1", 20240102, 7)
	putLocatableReading(fx, "stars1", 20240103, 7)

	fx.Reference.AddReading(types.RefReading{TessID: 7, DateID: 20240101, TimeID: 0, LocationID: 100})
	fx.Reference.AddReading(types.RefReading{TessID: 7, DateID: 20240103, TimeID: 0, LocationID: 200})
	require.NoError(t, fx.Reference.RefreshLocationDailyAggregate(context.Background()))
	fx.Reference.AddSite(100, "site-a")
	fx.Reference.AddSite(200, "site-b")

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.ResolveLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Gaps)
	assert.Equal(t, 0, result.Closed)
	assert.Equal(t, 1, result.Ambiguous)

	gapReading, ok := fx.Working.Get(gap)
	require.True(t, ok)
	assert.False(t, gapReading.LocationID.Valid)
	require.NotNil(t, gapReading.Rejected)
	assert.Equal(t, types.AmbiguousLoc, *gapReading.Rejected)

	gaps := fx.Working.Gaps()
	if assert.Len(t, gaps, 1) {
		assert.Equal(t, "site-a", gaps[0].StartSite)
		assert.Equal(t, "site-b", gaps[0].EndSite)
	}
}

func TestResolveLocationGapTouchingSequenceEndIsLeftUnresolved(t *testing.T) {
	fx := pipelinetest.NewFixture()
	// A single reading with no bounding neighbor on either side: the gap
	// cannot be classified and is left as-is.
	key := putLocatableReading(fx, "stars1", 20240101, 7)

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.ResolveLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Gaps)
	assert.Equal(t, 0, result.Closed)
	assert.Equal(t, 0, result.Ambiguous)

	r, ok := fx.Working.Get(key)
	require.True(t, ok)
	require.True(t, r.LocationID.Valid)
	assert.Equal(t, int64(-100), r.LocationID.Int64)
}
