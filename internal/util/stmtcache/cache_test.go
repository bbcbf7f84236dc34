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

package stmtcache

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrFillMissThenHit(t *testing.T) {
	c := New[string, int]()
	calls := 0
	fill := func() (int, error) {
		calls++
		return 42, nil
	}

	v, err := c.GetOrFill("a", fill)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)

	v, err = c.GetOrFill("a", fill)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls, "second call must not invoke fill again")
}

func TestGetOrFillErrorNotCached(t *testing.T) {
	c := New[string, int]()
	boom := errors.New("boom")
	calls := 0
	fill := func() (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 7, nil
	}

	_, err := c.GetOrFill("a", fill)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.GetOrFill("a", fill)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)
}

func TestGetAndSet(t *testing.T) {
	c := New[string, int]()
	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 5)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 5, v)
	assert.Equal(t, 1, c.Len())
}

func TestCacheConcurrentFillsAreSafe(t *testing.T) {
	c := New[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrFill(i%5, func() (int, error) {
				return i, nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
}
