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
	log "github.com/sirupsen/logrus"

	"github.com/rgz-obs/tessdb-import/internal/types"
)

// GlobalStatsResult summarizes one GlobalStats call.
type GlobalStatsResult struct {
	Computed int
}

// GlobalStats implements spec.md §4.3's automatic GlobalStats
// computation: per photometer, the median of that photometer's daily
// medians, with N = the number of daily rows folded in.
func (p *Pipeline) GlobalStats(ctx context.Context) (GlobalStatsResult, error) {
	var names []string
	if n := p.Options.NameOrNil(); n != nil {
		names = []string{*n}
	} else {
		var err error
		names, err = p.Working.DistinctNames(ctx)
		if err != nil {
			return GlobalStatsResult{}, errors.Wrap(err, "global_stats: could not list names")
		}
	}

	var result GlobalStatsResult
	for _, name := range names {
		daily, err := p.Working.DailyStatsByName(ctx, name)
		if err != nil {
			return result, errors.Wrapf(err, "global_stats: could not load daily stats for %s", name)
		}
		if len(daily) == 0 {
			continue
		}

		medians := make([]float64, len(daily))
		for i, d := range daily {
			medians[i] = d.Median
		}
		stats := summarize(medians)

		gs := types.GlobalStats{
			Name:   name,
			Median: stats.median,
			N:      len(daily),
			Method: types.MethodAutomatic,
		}
		if !p.Options.Test {
			if err := p.Working.UpsertGlobalStats(ctx, gs); err != nil {
				return result, errors.Wrapf(err, "global_stats: could not upsert for %s", name)
			}
		}
		result.Computed++
	}

	log.WithFields(log.Fields{
		"stage":    "global_stats",
		"computed": result.Computed,
	}).Info("global stats complete")
	return result, nil
}

// SetManualPeriod implements spec.md §4.3's manual GlobalStats override
// (source: original_source/tdbtool stats.py's manual_global_stats): the
// operator-facing CLI collaborator calls this with p.Options.Period
// already validated non-negative by Options.Preflight.
func (p *Pipeline) SetManualPeriod(ctx context.Context, name string, period float64) error {
	gs := types.GlobalStats{
		Name:   name,
		Median: period,
		N:      0,
		Method: types.MethodManual,
	}
	if p.Options.Test {
		return nil
	}
	if err := p.Working.UpsertGlobalStats(ctx, gs); err != nil {
		return errors.Wrapf(err, "global_stats: could not set manual period for %s", name)
	}
	log.WithFields(log.Fields{
		"stage":  "global_stats",
		"name":   name,
		"period": period,
	}).Info("manual period override applied")
	return nil
}
