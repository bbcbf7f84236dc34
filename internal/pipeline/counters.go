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
	"sync"

	"github.com/rgz-obs/tessdb-import/internal/types"
)

// counterFactory is the per-run, per-photometer Counter cache described
// in spec.md §4.1 and the original tool's CounterFactory. Ranks are
// only ever handed out from memory; LoadCounter is called at most once
// per name per run, which is what makes Counters "recoverable from
// housekeeping alone" (spec.md §4.1) instead of requiring a scan of
// Readings to find the current high-water mark.
type counterFactory struct {
	store types.WorkingStore

	mu   sync.Mutex
	pool map[string]*types.Counter
}

func newCounterFactory(store types.WorkingStore) *counterFactory {
	return &counterFactory{store: store, pool: make(map[string]*types.Counter)}
}

// get returns the in-memory Counter for name, loading it from
// housekeeping on first use within this run. The returned Counter's
// Persisted field is always false the first time a name is seen in this
// run, regardless of whether housekeeping already had a row for it —
// "persisted" here tracks whether *this run* has already attempted to
// insert a row for name, per spec.md §4.1's "FIRST ingest of this name in the
// current run" rule.
func (f *counterFactory) get(ctx context.Context, name string) (*types.Counter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.pool[name]; ok {
		return c, nil
	}
	c, err := f.store.LoadCounter(ctx, name)
	if err != nil {
		return nil, err
	}
	c.Name = name
	c.Persisted = false
	f.pool[name] = &c
	return &c, nil
}

// advance records a successful insert: the next rank handed out for
// name will be one past the row just written, and the high-water
// timestamp becomes the later of the two.
func (f *counterFactory) advance(c *types.Counter, rank int64, r types.Reading) {
	c.MaxRank = rank
	if r.Timestamp.After(c.MaxTstamp) {
		c.MaxTstamp = r.Timestamp
	}
	c.Persisted = true
}

// touch marks name as having had an insert attempted in this run,
// without advancing its rank — used on the duplicate-at-boundary and
// unexpected-collision paths of spec.md §4.1, both of which still
// count as "having seen this name in the current run". The silent-drop
// path does not touch the counter.
func (f *counterFactory) touch(c *types.Counter) {
	c.Persisted = true
}

// flush persists every counter touched in this run back to
// housekeeping, satisfying spec.md §4.1's "Post-ingest the updated
// counters are flushed to housekeeping."
func (f *counterFactory) flush(ctx context.Context) error {
	f.mu.Lock()
	counters := make([]types.Counter, 0, len(f.pool))
	for _, c := range f.pool {
		counters = append(counters, *c)
	}
	f.mu.Unlock()

	if len(counters) == 0 {
		return nil
	}
	return f.store.SaveCounters(ctx, counters)
}
