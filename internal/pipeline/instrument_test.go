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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgz-obs/tessdb-import/internal/pipeline/pipelinetest"
	"github.com/rgz-obs/tessdb-import/internal/types"
)

func TestResolveInstrumentAssignsTessID(t *testing.T) {
	fx := pipelinetest.NewFixture()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fx.Working.Put(types.Reading{
		Name: "stars1", DateID: 20240101, TimeID: 0,
		Timestamp: at,
	})
	fx.Reference.AddInstrument("stars1", "AA:BB:CC", 42,
		at.Add(-time.Hour), at.Add(time.Hour))

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.ResolveInstrument(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 0, result.Before)

	r, ok := fx.Working.Get(types.ReadingKey{Name: "stars1", DateID: 20240101, TimeID: 0})
	require.True(t, ok)
	require.True(t, r.TessID.Valid)
	assert.Equal(t, int64(42), r.TessID.Int64)
}

func TestResolveInstrumentMarksBeforeRegistration(t *testing.T) {
	fx := pipelinetest.NewFixture()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fx.Working.Put(types.Reading{
		Name: "stars1", DateID: 20240101, TimeID: 0,
		Timestamp: at,
	})
	// The instrument's registration window starts after the reading's
	// timestamp.
	fx.Reference.AddInstrument("stars1", "AA:BB:CC", 42,
		at.Add(time.Hour), at.Add(2*time.Hour))

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.ResolveInstrument(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Resolved)
	assert.Equal(t, 1, result.Before)

	r, ok := fx.Working.Get(types.ReadingKey{Name: "stars1", DateID: 20240101, TimeID: 0})
	require.True(t, ok)
	require.NotNil(t, r.Rejected)
	assert.Equal(t, types.Before, *r.Rejected)
	assert.False(t, r.TessID.Valid)
}

func TestResolveInstrumentSkipsAlreadyResolvedReadings(t *testing.T) {
	fx := pipelinetest.NewFixture()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fx.Working.Put(types.Reading{
		Name: "stars1", DateID: 20240101, TimeID: 0,
		Timestamp: at,
		TessID:    sql.NullInt64{Int64: 7, Valid: true},
	})

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.ResolveInstrument(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Resolved)
	assert.Equal(t, 0, result.Before)
}
