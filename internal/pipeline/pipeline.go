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

// Package pipeline implements the two-stage validation pipeline of
// spec.md §2: local cleansing and period estimation (Stage 1), and
// cross-reference enrichment and decision (Stage 2). Every stage
// function is written against the types.WorkingStore / types.ReferenceStore
// interfaces, never against a concrete driver, per the Design Notes'
// "Global singletons" entry: state that used to live in module-level
// Python variables (gap_list, the counter factory) is carried instead in
// the *Pipeline value threaded through every call.
package pipeline

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/rgz-obs/tessdb-import/internal/types"
	"github.com/rgz-obs/tessdb-import/internal/util/stmtcache"
)

// Options is the per-invocation configuration spec.md §6 requires every
// stage entry point to accept: an optional photometer name filter, the
// CSV source path for ingest, a manual period override, a duplicate
// tolerance percentage, a dry-run flag, and a display limit for the
// (out-of-scope) show collaborator.
type Options struct {
	Name      string // empty means "all photometers"
	CSVFile   string
	Period    float64 // manual GlobalStats override, seconds; 0 means unset
	Tolerance int     // percent, spec.md §4.4; clamped to [0,100]
	Test      bool    // dry-run: stages compute but do not commit
	Limit     int     // display limit, consumed by the out-of-scope show collaborator
}

// Bind registers every Option as a flag, the way the teacher's
// server.Config.Bind registers CDC server flags.
func (o *Options) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&o.Name, "name", "", "restrict the stage to a single photometer")
	flags.StringVar(&o.CSVFile, "csv-file", "", "path to the CSV file to ingest")
	flags.Float64Var(&o.Period, "period", 0, "manual override for a photometer's GlobalStats period, in seconds")
	flags.IntVar(&o.Tolerance, "tolerance", 10, "retained-value detection tolerance, percent")
	flags.BoolVar(&o.Test, "test", false, "dry run: compute but do not commit")
	flags.IntVar(&o.Limit, "limit", 10, "display page size for the show collaborator")
}

// Preflight validates Options the way the teacher's Config.Preflight
// validates server.Config before any stage runs.
func (o *Options) Preflight() error {
	o.Tolerance = percent(o.Tolerance)
	if o.Period < 0 {
		return errors.New("period override must not be negative")
	}
	return nil
}

func percent(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// NameOrNil returns nil when no name filter was given, and a pointer to
// the name otherwise, matching the WorkingStore methods that accept
// *string filters.
func (o *Options) NameOrNil() *string {
	if o.Name == "" {
		return nil
	}
	return &o.Name
}

// Pipeline is the explicit context passed to every stage function: the
// working and reference store handles, plus the two mandatory caches
// from spec.md §5. It replaces the module-level globals (gap_list, the
// counter factory singleton) the Design Notes call out.
type Pipeline struct {
	Working   types.WorkingStore
	Reference types.ReferenceStore
	Options   Options

	periods   *stmtcache.Cache[periodKey, float64]
	locations *stmtcache.Cache[locationKey, int64]
}

type periodKey struct {
	Name   string
	DateID types.DateID
}

type locationKey struct {
	TessID int64
	DateID types.DateID
}

// New constructs a Pipeline with fresh, empty caches. A new Pipeline
// should be constructed at the start of every stage invocation; caches
// are never shared across stage boundaries (spec.md §5: "Both caches
// are invalidated at stage boundaries").
func New(working types.WorkingStore, reference types.ReferenceStore, opts Options) *Pipeline {
	return &Pipeline{
		Working:   working,
		Reference: reference,
		Options:   opts,
		periods:   stmtcache.New[periodKey, float64](),
		locations: stmtcache.New[locationKey, int64](),
	}
}
