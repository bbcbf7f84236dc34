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
	"math"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rgz-obs/tessdb-import/internal/types"
)

// DailyStatsResult summarizes one DailyStats call.
type DailyStatsResult struct {
	Computed int
}

// DailyStats implements spec.md §4.3's per-(name,date_id) aggregate.
// Aggregation happens in Go over a materialized slice of delta_T values
// rather than by pushing MEDIAN/STDEV into SQL: spec.md §1 places "the
// extension-loaded statistical functions in the embedded SQL engine" out
// of scope as an external collaborator, which this system must not
// depend on either.
func (p *Pipeline) DailyStats(ctx context.Context) (DailyStatsResult, error) {
	groups, err := p.Working.DistinctStatNameDates(ctx, p.Options.NameOrNil())
	if err != nil {
		return DailyStatsResult{}, errors.Wrap(err, "daily_stats: could not list name/date groups")
	}

	var result DailyStatsResult
	var batch []types.DailyStats

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if !p.Options.Test {
			if err := p.Working.UpsertDailyStats(ctx, batch); err != nil {
				return errors.Wrap(err, "daily_stats: could not upsert")
			}
		}
		batch = batch[:0]
		return nil
	}

	for _, g := range groups {
		diffs, err := p.Working.DifferencesByNameDate(ctx, g.Name, g.DateID)
		if err != nil {
			return result, errors.Wrap(err, "daily_stats: could not load differences")
		}
		if len(diffs) == 0 {
			continue
		}

		values := make([]float64, len(diffs))
		for i, d := range diffs {
			values[i] = float64(d.DeltaT)
		}
		stats := summarize(values)

		batch = append(batch, types.DailyStats{
			Name:   g.Name,
			DateID: g.DateID,
			Mean:   stats.mean,
			Median: stats.median,
			Stddev: stats.stddev,
			N:      len(values),
			Min:    stats.min,
			Max:    stats.max,
		})
		result.Computed++
		if len(batch) >= differenceBatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	log.WithFields(log.Fields{
		"stage":    "daily_stats",
		"computed": result.Computed,
	}).Info("daily stats complete")
	return result, nil
}

type summary struct {
	mean, median, stddev, min, max float64
}

// summarize computes mean, median (as a sorted-copy percentile, not an
// in-place sort of the caller's slice), population stddev, min and max
// of values. It panics on an empty slice; callers never pass one.
func summarize(values []float64) summary {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	var sum float64
	min, max := sorted[0], sorted[0]
	for _, v := range sorted {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(n)

	var sqDiff float64
	for _, v := range sorted {
		d := v - mean
		sqDiff += d * d
	}
	stddev := math.Sqrt(sqDiff / float64(n))

	median := medianOfSorted(sorted)

	return summary{mean: mean, median: median, stddev: stddev, min: min, max: max}
}

// medianOfSorted returns the median of an already-sorted, non-empty slice.
func medianOfSorted(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
