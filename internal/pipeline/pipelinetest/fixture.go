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

// Package pipelinetest provides an in-memory double for
// types.WorkingStore and types.ReferenceStore, grounded on the teacher's
// internal/sinktest/all.Fixture: "one can be constructed by calling
// NewFixture", just against memory instead of a live database, so
// internal/pipeline's component tests never need a real store.
package pipelinetest

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rgz-obs/tessdb-import/internal/types"
)

// Fixture bundles a Working and a Reference double behind the same
// interfaces internal/store's production adapters implement.
type Fixture struct {
	Working   *Working
	Reference *Reference
}

// NewFixture constructs an empty Fixture, mirroring the teacher's
// NewFixture() (*Fixture, func(), error) shape minus the teardown
// closure, since there is no real connection to release.
func NewFixture() *Fixture {
	return &Fixture{
		Working:   NewWorking(),
		Reference: NewReference(),
	}
}

// Working is an in-memory types.WorkingStore.
type Working struct {
	mu sync.Mutex

	readings    map[types.ReadingKey]types.Reading
	counters    map[string]types.Counter
	differences []types.Difference
	dailyStats  map[dailyKey]types.DailyStats
	globalStats map[string]types.GlobalStats
	duplicates  []types.DuplicatedReading
	gaps        []types.LocationGap
}

type dailyKey struct {
	Name   string
	DateID types.DateID
}

// NewWorking returns an empty Working double.
func NewWorking() *Working {
	return &Working{
		readings:    make(map[types.ReadingKey]types.Reading),
		counters:    make(map[string]types.Counter),
		dailyStats:  make(map[dailyKey]types.DailyStats),
		globalStats: make(map[string]types.GlobalStats),
	}
}

// Put seeds a reading directly, for test setup.
func (w *Working) Put(r types.Reading) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readings[r.Key()] = r
}

// Get returns the stored reading for key, for test assertions.
func (w *Working) Get(key types.ReadingKey) (types.Reading, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.readings[key]
	return r, ok
}

// All returns every stored reading, name then rank ordered, for test
// assertions.
func (w *Working) All() []types.Reading {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.Reading, 0, len(w.readings))
	for _, r := range w.readings {
		out = append(out, r)
	}
	sortByNameRank(out)
	return out
}

// Differences returns every stored Difference, for test assertions.
func (w *Working) Differences() []types.Difference {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := append([]types.Difference(nil), w.differences...)
	return out
}

// Duplicates returns every recorded DuplicatedReading, for test
// assertions.
func (w *Working) Duplicates() []types.DuplicatedReading {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]types.DuplicatedReading(nil), w.duplicates...)
}

// Gaps returns every recorded LocationGap, for test assertions.
func (w *Working) Gaps() []types.LocationGap {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]types.LocationGap(nil), w.gaps...)
}

func sortByNameRank(rs []types.Reading) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Name != rs[j].Name {
			return rs[i].Name < rs[j].Name
		}
		return rs[i].Rank < rs[j].Rank
	})
}

func sortByNameDateTime(rs []types.Reading) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Name != rs[j].Name {
			return rs[i].Name < rs[j].Name
		}
		if rs[i].DateID != rs[j].DateID {
			return rs[i].DateID < rs[j].DateID
		}
		return rs[i].TimeID < rs[j].TimeID
	})
}

func (w *Working) EnsureSchema(ctx context.Context) error { return nil }

func (w *Working) LoadCounter(ctx context.Context, name string) (types.Counter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.counters[name]; ok {
		return c, nil
	}
	return types.Counter{Name: name}, nil
}

func (w *Working) SaveCounters(ctx context.Context, counters []types.Counter) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range counters {
		w.counters[c.Name] = c
	}
	return nil
}

func (w *Working) InsertReading(ctx context.Context, r types.Reading) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, collided := w.readings[r.Key()]; collided {
		return true, nil
	}
	w.readings[r.Key()] = r
	return false, nil
}

func (w *Working) RecordDuplicate(ctx context.Context, d types.DuplicatedReading) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.duplicates = append(w.duplicates, d)
	return nil
}

func (w *Working) NameDateGroups(ctx context.Context, name *string) ([]types.NameDateGroup, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	counts := make(map[dailyKey]int)
	for _, r := range w.readings {
		if name != nil && r.Name != *name {
			continue
		}
		counts[dailyKey{Name: r.Name, DateID: r.DateID}]++
	}
	out := make([]types.NameDateGroup, 0, len(counts))
	for k, n := range counts {
		out = append(out, types.NameDateGroup{Name: k.Name, DateID: k.DateID, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].DateID < out[j].DateID
	})
	return out, nil
}

func (w *Working) ReadingsByNameDate(ctx context.Context, name string, date types.DateID) ([]types.Reading, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.Reading
	for _, r := range w.readings {
		if r.Name == name && r.DateID == date {
			out = append(out, r)
		}
	}
	sortByNameDateTime(out)
	return out, nil
}

func (w *Working) InsertDifferences(ctx context.Context, diffs []types.Difference) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.differences = append(w.differences, diffs...)
	return nil
}

func (w *Working) MarkRejected(ctx context.Context, marks []types.RejectedMark) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range marks {
		r, ok := w.readings[m.Key]
		if !ok {
			continue
		}
		r.Rejected = m.Reason.Ptr()
		w.readings[m.Key] = r
	}
	return nil
}

func (w *Working) DifferencesByNameDate(ctx context.Context, name string, date types.DateID) ([]types.Difference, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.Difference
	for _, d := range w.differences {
		if d.Name == name && d.DateID == date {
			out = append(out, d)
		}
	}
	return out, nil
}

func (w *Working) DistinctStatNameDates(ctx context.Context, name *string) ([]types.NameDateGroup, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen := make(map[dailyKey]int)
	for _, d := range w.differences {
		if name != nil && d.Name != *name {
			continue
		}
		seen[dailyKey{Name: d.Name, DateID: d.DateID}]++
	}
	out := make([]types.NameDateGroup, 0, len(seen))
	for k, n := range seen {
		out = append(out, types.NameDateGroup{Name: k.Name, DateID: k.DateID, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].DateID < out[j].DateID
	})
	return out, nil
}

func (w *Working) UpsertDailyStats(ctx context.Context, stats []types.DailyStats) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range stats {
		w.dailyStats[dailyKey{Name: s.Name, DateID: s.DateID}] = s
	}
	return nil
}

func (w *Working) DailyStatsByName(ctx context.Context, name string) ([]types.DailyStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.DailyStats
	for k, s := range w.dailyStats {
		if k.Name == name {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateID < out[j].DateID })
	return out, nil
}

func (w *Working) UpsertGlobalStats(ctx context.Context, stats types.GlobalStats) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.globalStats[stats.Name] = stats
	return nil
}

func (w *Working) GlobalStatsByName(ctx context.Context, name string) (types.GlobalStats, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	gs, ok := w.globalStats[name]
	return gs, ok, nil
}

func (w *Working) DailyStatsFor(ctx context.Context, name string, date types.DateID) (types.DailyStats, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ds, ok := w.dailyStats[dailyKey{Name: name, DateID: date}]
	return ds, ok, nil
}

func (w *Working) RetainedCandidates(ctx context.Context, name string, thresholdPeriod float64) ([]types.Difference, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.Difference
	for _, d := range w.differences {
		if d.Name != name {
			continue
		}
		if d.DeltaSeq > 1 && float64(d.DeltaT) < thresholdPeriod {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (w *Working) PreviousAccepted(ctx context.Context, name string, beforeRank int64) (*types.Reading, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var best *types.Reading
	for k, r := range w.readings {
		if k.Name != name || r.Rank >= beforeRank || r.Rejected != nil {
			continue
		}
		r := r
		if best == nil || r.Rank > best.Rank {
			best = &r
		}
	}
	return best, nil
}

func (w *Working) AcceptedReadingsByName(ctx context.Context, name string) ([]types.Reading, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.Reading
	for _, r := range w.readings {
		if r.Name == name && r.Rejected == nil {
			out = append(out, r)
		}
	}
	sortByNameDateTime(out)
	return out, nil
}

func (w *Working) UnresolvedInstrumentReadings(ctx context.Context, name string) ([]types.Reading, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.Reading
	for _, r := range w.readings {
		if r.Name == name && r.Rejected == nil && !r.TessID.Valid {
			out = append(out, r)
		}
	}
	sortByNameDateTime(out)
	return out, nil
}

func (w *Working) SetTessID(ctx context.Context, key types.ReadingKey, tessID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.readings[key]
	if !ok {
		return errors.Errorf("pipelinetest: no such reading %+v", key)
	}
	r.TessID = sql.NullInt64{Int64: tessID, Valid: true}
	w.readings[key] = r
	return nil
}

func (w *Working) UnlocatedReadings(ctx context.Context, name string) ([]types.Reading, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.Reading
	for _, r := range w.readings {
		if r.Name == name && r.Rejected == nil && !r.LocationID.Valid {
			out = append(out, r)
		}
	}
	sortByNameDateTime(out)
	return out, nil
}

func (w *Working) PartiallyLocatedReadings(ctx context.Context, name string) ([]types.Reading, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.Reading
	for _, r := range w.readings {
		if r.Name == name && r.LocationID.Valid {
			out = append(out, r)
		}
	}
	sortByNameDateTime(out)
	return out, nil
}

func (w *Working) SetLocationID(ctx context.Context, key types.ReadingKey, locationID sql.NullInt64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.readings[key]
	if !ok {
		return errors.Errorf("pipelinetest: no such reading %+v", key)
	}
	r.LocationID = locationID
	w.readings[key] = r
	return nil
}

func (w *Working) CloseLocationGap(ctx context.Context, name string, from, to types.ReadingKey, newLocationID int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for k, r := range w.readings {
		if k.Name != name || !inRange(r, from, to) {
			continue
		}
		r.LocationID = sql.NullInt64{Int64: newLocationID, Valid: true}
		r.Rejected = nil
		w.readings[k] = r
		n++
	}
	return n, nil
}

func (w *Working) RejectLocationGap(ctx context.Context, name string, from, to types.ReadingKey) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for k, r := range w.readings {
		if k.Name != name || !inRange(r, from, to) {
			continue
		}
		r.LocationID = sql.NullInt64{}
		r.Rejected = types.AmbiguousLoc.Ptr()
		w.readings[k] = r
		n++
	}
	return n, nil
}

func inRange(r types.Reading, from, to types.ReadingKey) bool {
	key := (dailyKey{Name: r.Name, DateID: r.DateID})
	_ = key
	lo := [2]int{int(from.DateID), int(from.TimeID)}
	hi := [2]int{int(to.DateID), int(to.TimeID)}
	cur := [2]int{int(r.DateID), int(r.TimeID)}
	return !less(cur, lo) && !less(hi, cur)
}

func less(a, b [2]int) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

func (w *Working) InsertLocationGap(ctx context.Context, gap types.LocationGap) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gaps = append(w.gaps, gap)
	return nil
}

func (w *Working) SetUnitsIDForUnrejected(ctx context.Context, name *string, unitsID int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var n int64
	for k, r := range w.readings {
		if r.Rejected != nil {
			continue
		}
		if name != nil && r.Name != *name {
			continue
		}
		r.UnitsID = sql.NullInt64{Int64: unitsID, Valid: true}
		w.readings[k] = r
		n++
	}
	return n, nil
}

func (w *Working) UnrejectedReadingsWithTessID(ctx context.Context, name string) ([]types.Reading, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []types.Reading
	for _, r := range w.readings {
		if r.Name == name && r.Rejected == nil && r.TessID.Valid {
			out = append(out, r)
		}
	}
	sortByNameDateTime(out)
	return out, nil
}

func (w *Working) MarkAccepted(ctx context.Context, keys []types.ReadingKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, k := range keys {
		r, ok := w.readings[k]
		if !ok {
			continue
		}
		r.Rejected = types.Accepted.Ptr()
		w.readings[k] = r
	}
	return nil
}

func (w *Working) DistinctNames(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen := make(map[string]struct{})
	for _, r := range w.readings {
		seen[r.Name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

var _ types.WorkingStore = (*Working)(nil)

// Reference is an in-memory types.ReferenceStore.
type Reference struct {
	mu sync.Mutex

	nameToMac    []macWindow
	tessForMac   []tessWindow
	tessReadings []types.RefReading
	sites        map[int64]string
	aggregates   map[aggKey]types.LocationDailyAggregate
}

type macWindow struct {
	Name               string
	Mac                string
	ValidSince, ValidUntil time.Time
}

type tessWindow struct {
	Mac                    string
	TessID                 int64
	ValidSince, ValidUntil time.Time
}

type aggKey struct {
	TessID int64
	DateID types.DateID
}

// NewReference returns an empty Reference double.
func NewReference() *Reference {
	return &Reference{
		sites:      make(map[int64]string),
		aggregates: make(map[aggKey]types.LocationDailyAggregate),
	}
}

// AddInstrument seeds the name->mac->tess_id resolution chain for one
// validity window, for test setup.
func (r *Reference) AddInstrument(name, mac string, tessID int64, validSince, validUntil time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nameToMac = append(r.nameToMac, macWindow{Name: name, Mac: mac, ValidSince: validSince, ValidUntil: validUntil})
	r.tessForMac = append(r.tessForMac, tessWindow{Mac: mac, TessID: tessID, ValidSince: validSince, ValidUntil: validUntil})
}

// AddReading seeds a reference-store reading, for test setup.
func (r *Reference) AddReading(rr types.RefReading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tessReadings = append(r.tessReadings, rr)
}

// AddSite seeds a location_id -> site name mapping, for test setup.
func (r *Reference) AddSite(locationID int64, site string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[locationID] = site
}

func (r *Reference) NameToMac(ctx context.Context, name string, at time.Time) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.nameToMac {
		if w.Name == name && !at.Before(w.ValidSince) && at.Before(w.ValidUntil) {
			return w.Mac, true, nil
		}
	}
	return "", false, nil
}

func (r *Reference) TessIDForMac(ctx context.Context, mac string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.tessForMac {
		if w.Mac == mac && !at.Before(w.ValidSince) && at.Before(w.ValidUntil) {
			return w.TessID, nil
		}
	}
	return 0, errors.Errorf("pipelinetest: no tess_t row for mac %s at %s", mac, at)
}

// RefreshLocationDailyAggregate recomputes LocationDailyAggregate from
// the seeded tessReadings, the way the real implementation recomputes it
// from tess_readings_t.
func (r *Reference) RefreshLocationDailyAggregate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	locationsByDay := make(map[aggKey]map[int64]bool)
	for _, rr := range r.tessReadings {
		key := aggKey{TessID: rr.TessID, DateID: rr.DateID}
		if locationsByDay[key] == nil {
			locationsByDay[key] = make(map[int64]bool)
		}
		locationsByDay[key][rr.LocationID] = true
	}
	r.aggregates = make(map[aggKey]types.LocationDailyAggregate)
	for key, ids := range locationsByDay {
		var only int64
		for id := range ids {
			only = id
		}
		r.aggregates[key] = types.LocationDailyAggregate{
			TessID:       key.TessID,
			DateID:       key.DateID,
			LocationID:   only,
			SameLocation: len(ids) == 1,
		}
	}
	return nil
}

func (r *Reference) LocationDailyAggregateFor(ctx context.Context, tessID int64, date types.DateID) (types.LocationDailyAggregate, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg, ok := r.aggregates[aggKey{TessID: tessID, DateID: date}]
	return agg, ok, nil
}

func (r *Reference) TessReadingNear(ctx context.Context, tessID int64, at time.Time, periodSeconds float64, dateWindow [3]types.DateID) (types.RefReading, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	half := time.Duration(periodSeconds / 2 * float64(time.Second))
	lo, hi := at.Add(-half), at.Add(half)

	inWindow := func(d types.DateID) bool {
		return d == dateWindow[0] || d == dateWindow[1] || d == dateWindow[2]
	}

	for _, rr := range r.tessReadings {
		if rr.TessID != tessID || !inWindow(rr.DateID) {
			continue
		}
		t := types.TimeFromIDs(rr.DateID, rr.TimeID)
		if !t.Before(lo) && !t.After(hi) {
			return rr, true, nil
		}
	}
	return types.RefReading{}, false, nil
}

func (r *Reference) ReadingsNear(ctx context.Context, tessID int64, at time.Time, periodSeconds float64) ([]types.RefReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	half := time.Duration(periodSeconds / 2 * float64(time.Second))
	lo, hi := at.Add(-half), at.Add(half)

	var out []types.RefReading
	for _, rr := range r.tessReadings {
		if rr.TessID != tessID {
			continue
		}
		t := types.TimeFromIDs(rr.DateID, rr.TimeID)
		if !t.Before(lo) && !t.After(hi) {
			out = append(out, rr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti := types.TimeFromIDs(out[i].DateID, out[i].TimeID)
		tj := types.TimeFromIDs(out[j].DateID, out[j].TimeID)
		return ti.Before(tj)
	})
	return out, nil
}

func (r *Reference) LocationSite(ctx context.Context, locationID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	site, ok := r.sites[locationID]
	if !ok {
		return "", errors.Errorf("pipelinetest: no location_t row for %d", locationID)
	}
	return site, nil
}

var _ types.ReferenceStore = (*Reference)(nil)
