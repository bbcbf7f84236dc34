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

// Package msort contains utility functions for sorting and
// de-duplicating batches of readings before they reach the working
// store.
package msort

import "github.com/rgz-obs/tessdb-import/internal/types"

// UniqueByIdentity implements a "last one wins" approach to removing
// readings with duplicate identity tuples (spec.md §3: name, date_id,
// time_id) from a single ingest batch, before any row reaches the
// store. Two rows for the same photometer second can appear in one CSV
// file when an upstream exporter re-flushed a partial write; the later
// line in the file is the one that should survive, since it reflects
// whatever correction the exporter made.
//
// If two readings share an identity and appear at the same line number
// (impossible for a well-formed CSV, but not ruled out by the type),
// exactly one of the values will be chosen arbitrarily.
//
// The input slice is reordered in place and the de-duplicated prefix is
// returned; cross-batch duplicates (against what a previous ingest run
// already wrote) are still the store's job via the unique constraint on
// (name, date_id, time_id), not this function's.
func UniqueByIdentity(x []types.Reading) []types.Reading {
	// For any given identity, we're going to track the index in the
	// slice that holds data for the key.
	seenIdx := make(map[types.ReadingKey]int, len(x))

	// We want to iterate backwards over the input slice, moving
	// elements to the rear when their line number is greater than the
	// value currently tracked for that key.
	dest := len(x)
	for src := len(x) - 1; src >= 0; src-- {
		key := x[src].Key()

		if curIdx, found := seenIdx[key]; found {
			// If so, replace the value if it appeared later in the file.
			if x[src].LineNumber > x[curIdx].LineNumber {
				x[curIdx] = x[src]
			}
		} else {
			dest--
			seenIdx[key] = dest
			x[dest] = x[src]
		}
	}

	// Return the compacted view of the slice.
	return x[dest:]
}
