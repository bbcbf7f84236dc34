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
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rgz-obs/tessdb-import/internal/types"
)

// tempRejectedLocationID is the persisted sentinel from spec.md §4.7
// step A.4. Per the Design Notes' "Sentinel location_id" entry it never
// escapes this file: every other component sees a locationResolution
// value instead.
const tempRejectedLocationID = -100

// locationResolution is the explicit variant the Design Notes call for
// in place of the sentinel: a per-reading location lookup either
// resolved to a real id, or did not (in which case step B below decides
// whether the gap it belongs to is closable or must be rejected).
type locationResolution struct {
	id         int64
	unresolved bool
}

func resolved(id int64) locationResolution    { return locationResolution{id: id} }
func unresolved() locationResolution          { return locationResolution{unresolved: true} }
func (l locationResolution) isResolved() bool { return !l.unresolved }

// LocationResult summarizes one ResolveLocation call.
type LocationResult struct {
	FastPath   int
	SlowPath   int
	Gaps       int
	Closed     int
	Ambiguous  int
}

// ResolveLocation implements spec.md §4.7 in its two steps: per-reading
// resolution (step A) followed by gap closure (step B).
func (p *Pipeline) ResolveLocation(ctx context.Context) (LocationResult, error) {
	var names []string
	if n := p.Options.NameOrNil(); n != nil {
		names = []string{*n}
	} else {
		var err error
		names, err = p.Working.DistinctNames(ctx)
		if err != nil {
			return LocationResult{}, errors.Wrap(err, "location: could not list names")
		}
	}

	var result LocationResult
	for _, name := range names {
		stepResult, err := p.resolveLocationStepA(ctx, name)
		if err != nil {
			return result, err
		}
		result.FastPath += stepResult.FastPath
		result.SlowPath += stepResult.SlowPath

		gapResult, err := p.closeLocationGaps(ctx, name)
		if err != nil {
			return result, err
		}
		result.Gaps += gapResult.Gaps
		result.Closed += gapResult.Closed
		result.Ambiguous += gapResult.Ambiguous
	}

	log.WithFields(log.Fields{
		"stage":     "location",
		"fast_path": result.FastPath,
		"slow_path": result.SlowPath,
		"gaps":      result.Gaps,
		"closed":    result.Closed,
		"ambiguous": result.Ambiguous,
	}).Info("location resolution complete")
	return result, nil
}

// resolveLocationStepA implements spec.md §4.7 step A: per-reading
// resolution via the period cache, the LocationDailyAggregate fast path,
// and the reference-store slow path, writing the sentinel when neither
// path yields a row.
func (p *Pipeline) resolveLocationStepA(ctx context.Context, name string) (LocationResult, error) {
	var result LocationResult

	readings, err := p.Working.UnlocatedReadings(ctx, name)
	if err != nil {
		return result, errors.Wrapf(err, "location: could not load unlocated readings for %s", name)
	}

	for _, r := range readings {
		if !r.TessID.Valid {
			continue
		}
		tessID := r.TessID.Int64

		period, err := p.periodFor(ctx, name, r.DateID)
		if err != nil {
			return result, err
		}

		res, fromFast, err := p.locationFor(ctx, tessID, r.DateID, r.Timestamp, period)
		if err != nil {
			return result, errors.Wrapf(err, "location: could not resolve location for %s", name)
		}
		if fromFast {
			result.FastPath++
		} else if res.isResolved() {
			result.SlowPath++
		}

		var locID sql.NullInt64
		if res.isResolved() {
			locID = sql.NullInt64{Int64: res.id, Valid: true}
		} else {
			locID = sql.NullInt64{Int64: tempRejectedLocationID, Valid: true}
		}

		if !p.Options.Test {
			if err := p.Working.SetLocationID(ctx, r.Key(), locID); err != nil {
				return result, errors.Wrapf(err, "location: could not set location_id for %s", name)
			}
		}
	}
	return result, nil
}

// periodFor implements the PeriodCache described in spec.md §5: first
// miss consults DailyStats, then falls back to GlobalStats.
func (p *Pipeline) periodFor(ctx context.Context, name string, date types.DateID) (float64, error) {
	key := periodKey{Name: name, DateID: date}
	return p.periods.GetOrFill(key, func() (float64, error) {
		daily, ok, err := p.Working.DailyStatsFor(ctx, name, date)
		if err != nil {
			return 0, err
		}
		if ok {
			return daily.Median, nil
		}
		gs, ok, err := p.Working.GlobalStatsByName(ctx, name)
		if err != nil {
			return 0, err
		}
		if ok {
			return gs.Median, nil
		}
		return 0, nil
	})
}

// locationFor implements spec.md §4.7 step A.2-A.3: the
// LocationDailyAggregate fast path, cached by (tess_id, date_id), falling
// back to the reference store slow path when the fast path misses.
func (p *Pipeline) locationFor(ctx context.Context, tessID int64, date types.DateID, at time.Time, period float64) (locationResolution, bool, error) {
	key := locationKey{TessID: tessID, DateID: date}
	if id, ok := p.locationCacheGet(key); ok {
		return resolved(id), true, nil
	}

	agg, ok, err := p.Reference.LocationDailyAggregateFor(ctx, tessID, date)
	if err != nil {
		return locationResolution{}, false, err
	}
	if ok && agg.SameLocation {
		p.locationCacheSet(key, agg.LocationID)
		return resolved(agg.LocationID), true, nil
	}

	dateWindow := [3]types.DateID{prevDateID(date), date, nextDateID(date)}
	row, ok, err := p.Reference.TessReadingNear(ctx, tessID, at, period, dateWindow)
	if err != nil {
		return locationResolution{}, false, err
	}
	if !ok {
		return unresolved(), false, nil
	}
	return resolved(row.LocationID), false, nil
}

func (p *Pipeline) locationCacheGet(key locationKey) (int64, bool) {
	return p.locations.Get(key)
}

func (p *Pipeline) locationCacheSet(key locationKey, id int64) {
	p.locations.Set(key, id)
}

// prevDateID/nextDateID shift a packed YYYYMMDD date_id by one calendar
// day, used to build the ±1-day index-locality window of spec.md §4.7
// step A.3.
func prevDateID(d types.DateID) types.DateID {
	return shiftDateID(d, -1)
}

func nextDateID(d types.DateID) types.DateID {
	return shiftDateID(d, 1)
}

func shiftDateID(d types.DateID, days int) types.DateID {
	t := types.TimeFromIDs(d, 0)
	t = t.AddDate(0, 0, days)
	return types.DateIDOf(t)
}

// closeLocationGaps implements spec.md §4.7 step B: walk name's readings
// in time order and, for each maximal run carrying the sentinel, either
// close it (equal bounding location ids) or mark it AMBIGUOUS_LOC and
// record a LocationGap.
func (p *Pipeline) closeLocationGaps(ctx context.Context, name string) (LocationResult, error) {
	var result LocationResult

	readings, err := p.Working.PartiallyLocatedReadings(ctx, name)
	if err != nil {
		return result, errors.Wrapf(err, "location: could not load gap-closure readings for %s", name)
	}

	var gapStart = -1
	for i := 0; i <= len(readings); i++ {
		inGap := i < len(readings) && readings[i].LocationID.Valid && readings[i].LocationID.Int64 == tempRejectedLocationID

		if inGap && gapStart == -1 {
			gapStart = i
			continue
		}
		if inGap {
			continue
		}
		if gapStart == -1 {
			continue
		}

		// readings[gapStart:i] is one maximal sentinel run, bounded by
		// readings[gapStart-1] and readings[i] when both exist.
		result.Gaps++
		if gapStart == 0 || i == len(readings) {
			// A gap touching either end of the per-name sequence has no
			// bounding reading on that side; it cannot be classified and
			// is left as-is for a future run once more data arrives.
			gapStart = -1
			continue
		}

		startLoc := readings[gapStart-1].LocationID.Int64
		endLoc := readings[i].LocationID.Int64
		from := readings[gapStart].Key()
		to := readings[i-1].Key()

		if startLoc == endLoc {
			n, err := p.closeGap(ctx, name, from, to, startLoc)
			if err != nil {
				return result, err
			}
			result.Closed += n
		} else {
			n, err := p.rejectGap(ctx, name, from, to, readings[gapStart-1], readings[i])
			if err != nil {
				return result, err
			}
			result.Ambiguous += n
		}
		gapStart = -1
	}

	return result, nil
}

func (p *Pipeline) closeGap(ctx context.Context, name string, from, to types.ReadingKey, locationID int64) (int, error) {
	if p.Options.Test {
		return 0, nil
	}
	n, err := p.Working.CloseLocationGap(ctx, name, from, to, locationID)
	if err != nil {
		return 0, errors.Wrapf(err, "location: could not close gap for %s", name)
	}
	return n, nil
}

func (p *Pipeline) rejectGap(ctx context.Context, name string, from, to types.ReadingKey, startReading, endReading types.Reading) (int, error) {
	startSite, err := p.Reference.LocationSite(ctx, startReading.LocationID.Int64)
	if err != nil {
		return 0, errors.Wrapf(err, "location: could not resolve start site for %s", name)
	}
	endSite, err := p.Reference.LocationSite(ctx, endReading.LocationID.Int64)
	if err != nil {
		return 0, errors.Wrapf(err, "location: could not resolve end site for %s", name)
	}

	if p.Options.Test {
		return 0, nil
	}

	n, err := p.Working.RejectLocationGap(ctx, name, from, to)
	if err != nil {
		return 0, errors.Wrapf(err, "location: could not reject gap for %s", name)
	}

	if err := p.Working.InsertLocationGap(ctx, types.LocationGap{
		Name:            name,
		StartDateID:     from.DateID,
		StartTimeID:     from.TimeID,
		StartLocationID: startReading.LocationID.Int64,
		EndDateID:       to.DateID,
		EndTimeID:       to.TimeID,
		EndLocationID:   endReading.LocationID.Int64,
		Readings:        n,
		StartSite:       startSite,
		EndSite:         endSite,
	}); err != nil {
		return 0, errors.Wrapf(err, "location: could not record gap for %s", name)
	}
	return n, nil
}
