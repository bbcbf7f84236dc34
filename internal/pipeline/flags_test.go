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

func TestSetFlagsStampsUnrejectedReadingsOnly(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 1, 0)
	rejectedKey := types.ReadingKey{Name: "stars1", DateID: 20240101, TimeID: 1}
	fx.Working.Put(types.Reading{
		Name: "stars1", DateID: 20240101, TimeID: 1,
		Rank: 2, Rejected: types.Single.Ptr(),
	})

	p := New(fx.Working, fx.Reference, Options{})
	result, err := p.SetFlags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Updated)

	accepted, ok := fx.Working.Get(types.ReadingKey{Name: "stars1", DateID: 20240101, TimeID: 0})
	require.True(t, ok)
	require.True(t, accepted.UnitsID.Valid)
	assert.Equal(t, int64(flagsSubscriberImported), accepted.UnitsID.Int64)

	rejected, ok := fx.Working.Get(rejectedKey)
	require.True(t, ok)
	assert.False(t, rejected.UnitsID.Valid)
}

func TestSetFlagsDryRunDoesNothing(t *testing.T) {
	fx := pipelinetest.NewFixture()
	putReading(fx, "stars1", 20240101, 0, 1, 1, 0)

	p := New(fx.Working, fx.Reference, Options{Test: true})
	result, err := p.SetFlags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Updated)

	r, ok := fx.Working.Get(types.ReadingKey{Name: "stars1", DateID: 20240101, TimeID: 0})
	require.True(t, ok)
	assert.False(t, r.UnitsID.Valid)
}
