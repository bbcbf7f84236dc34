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

	"github.com/pkg/errors"
)

// Stage is one named, independently re-runnable unit of work (spec.md
// §6's "stage entry points"). It returns an opaque per-stage result
// (one of the *Result types defined alongside each stage) boxed as
// interface{}, since the registry has to hold heterogeneous result
// types under one signature.
type Stage func(ctx context.Context, p *Pipeline) (interface{}, error)

// Registry maps a stage name to its function, replacing "dynamic
// subcommand dispatch by string concatenation" (Design Notes §9) with a
// static, enumerable table the out-of-scope CLI collaborator looks up
// into.
var Registry = map[string]Stage{
	"ingest": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.Ingest(ctx)
	},
	"differences": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.Differences(ctx)
	},
	"daily_stats": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.DailyStats(ctx)
	},
	"global_stats": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.GlobalStats(ctx)
	},
	"retained": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.DetectRetained(ctx)
	},
	"daylight": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.DetectDaylight(ctx)
	},
	"instrument": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.ResolveInstrument(ctx)
	},
	"location": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.ResolveLocation(ctx)
	},
	"flags": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.SetFlags(ctx)
	},
	"reference_compare": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.CompareReference(ctx)
	},
	"stage1": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.Stage1(ctx)
	},
	"stage2": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.Stage2(ctx)
	},
	"full": func(ctx context.Context, p *Pipeline) (interface{}, error) {
		return p.Full(ctx)
	},
}

// Run looks up name in Registry and runs it against p, mirroring the
// call shape the out-of-scope CLI collaborator uses.
func Run(ctx context.Context, name string, p *Pipeline) (interface{}, error) {
	stage, ok := Registry[name]
	if !ok {
		return nil, errors.Errorf("pipeline: unknown stage %q", name)
	}

	var result interface{}
	err := observeStage(name, func() error {
		var err error
		result, err = stage(ctx, p)
		return err
	})
	return result, err
}

// Stage1Result is the composite result of Stage 1.
type Stage1Result struct {
	Ingest      IngestResult
	Differences DifferencesResult
	DailyStats  DailyStatsResult
	GlobalStats GlobalStatsResult
	Retained    RetainedResult
}

// Stage1 runs spec.md §2's local cleansing and period estimation, in
// order: ingest, differences, daily stats, global stats, retained-value
// detection. Ingest only runs when a CSV file was configured, since
// stage1 is also used to re-run the rest of the local pipeline over
// already-ingested data.
func (p *Pipeline) Stage1(ctx context.Context) (Stage1Result, error) {
	var result Stage1Result
	var err error

	if p.Options.CSVFile != "" {
		if result.Ingest, err = p.Ingest(ctx); err != nil {
			return result, err
		}
	}
	if result.Differences, err = p.Differences(ctx); err != nil {
		return result, err
	}
	if result.DailyStats, err = p.DailyStats(ctx); err != nil {
		return result, err
	}
	if result.GlobalStats, err = p.GlobalStats(ctx); err != nil {
		return result, err
	}
	if result.Retained, err = p.DetectRetained(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// Stage2Result is the composite result of Stage 2.
type Stage2Result struct {
	Daylight   DaylightResult
	Instrument InstrumentResult
	Location   LocationResult
	Flags      FlagsResult
	Reference  ReferenceCompareResult
}

// Stage2 runs spec.md §2's cross-reference enrichment and decision, in
// order: metadata refresh, daylight detection, instrument lookup,
// location lookup, flags, reference comparison.
func (p *Pipeline) Stage2(ctx context.Context) (Stage2Result, error) {
	var result Stage2Result

	if err := p.Reference.RefreshLocationDailyAggregate(ctx); err != nil {
		return result, errors.Wrap(err, "stage2: could not refresh location daily aggregate")
	}

	var err error
	if result.Daylight, err = p.DetectDaylight(ctx); err != nil {
		return result, err
	}
	if result.Instrument, err = p.ResolveInstrument(ctx); err != nil {
		return result, err
	}
	if result.Location, err = p.ResolveLocation(ctx); err != nil {
		return result, err
	}
	if result.Flags, err = p.SetFlags(ctx); err != nil {
		return result, err
	}
	if result.Reference, err = p.CompareReference(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// FullResult is the composite result of a full end-to-end run.
type FullResult struct {
	Stage1 Stage1Result
	Stage2 Stage2Result
}

// Full runs Stage1 followed by Stage2. Per spec.md §4.10, Stage 2's
// failure does not invalidate Stage 1's output: a caller that wants
// "no cross-stage recovery" re-entrancy should call Stage1/Stage2
// separately rather than Full.
func (p *Pipeline) Full(ctx context.Context) (FullResult, error) {
	var result FullResult
	var err error
	if result.Stage1, err = p.Stage1(ctx); err != nil {
		return result, err
	}
	if result.Stage2, err = p.Stage2(ctx); err != nil {
		return result, err
	}
	return result, nil
}
