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

// Package types contains the data types and store-facing interfaces
// shared by every pipeline stage. Placing them here, rather than in the
// packages that implement them, lets internal/pipeline depend only on
// behavior, while internal/store and internal/pipeline/pipelinetest
// each provide their own implementation.
package types

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DateID packs a calendar date as YYYYMMDD.
type DateID int

// TimeID packs a wall-clock time as HHMMSS.
type TimeID int

// DateIDOf returns the date_id for t, in UTC.
func DateIDOf(t time.Time) DateID {
	t = t.UTC()
	return DateID(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// TimeIDOf returns the time_id for t, in UTC.
func TimeIDOf(t time.Time) TimeID {
	t = t.UTC()
	return TimeID(t.Hour()*10000 + t.Minute()*100 + t.Second())
}

// SecondsInDay returns the number of seconds elapsed since midnight UTC
// for t.
func SecondsInDay(t time.Time) int {
	t = t.UTC()
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// TimeFromIDs is the inverse of DateIDOf/TimeIDOf. It mirrors the
// reference store's iso8601fromids(date_id, time_id) helper (spec.md §6)
// so that callers never need a round-trip through the reference store
// just to reconstruct a timestamp.
func TimeFromIDs(date DateID, tid TimeID) time.Time {
	y := int(date) / 10000
	m := (int(date) / 100) % 100
	d := int(date) % 100
	h := int(tid) / 10000
	mi := (int(tid) / 100) % 100
	s := int(tid) % 100
	return time.Date(y, time.Month(m), d, h, mi, s, 0, time.UTC)
}

// RejectReason is the wire-persisted classification of a Reading.
// A nil *RejectReason on a Reading means "not yet rejected" (spec.md §3);
// the zero value Accepted is a real terminal outcome, not the absence of
// one, which is why Reading.Rejected is a pointer rather than this type
// directly.
type RejectReason int8

// Wire values, fixed by spec.md §6.
const (
	ProvAccepted  RejectReason = -1
	Accepted      RejectReason = 0
	DupSeqNumber  RejectReason = 1
	Single        RejectReason = 2
	Pair          RejectReason = 3
	Daylight      RejectReason = 4
	Before        RejectReason = 5
	AmbiguousLoc  RejectReason = 6
	Coincident    RejectReason = 7
	Shifted       RejectReason = 8
	AmbiguousTime RejectReason = 9
)

func (r RejectReason) String() string {
	switch r {
	case ProvAccepted:
		return "PROV_ACCEPTED"
	case Accepted:
		return "ACCEPTED"
	case DupSeqNumber:
		return "DUP_SEQ_NUMBER"
	case Single:
		return "SINGLE"
	case Pair:
		return "PAIR"
	case Daylight:
		return "DAYLIGHT"
	case Before:
		return "BEFORE"
	case AmbiguousLoc:
		return "AMBIGUOUS_LOC"
	case Coincident:
		return "COINCIDENT"
	case Shifted:
		return "SHIFTED"
	case AmbiguousTime:
		return "AMBIGUOUS_TIME"
	default:
		return "UNKNOWN"
	}
}

// Ptr returns a pointer to a copy of r, for literal assignment to
// Reading.Rejected.
func (r RejectReason) Ptr() *RejectReason {
	v := r
	return &v
}

// StatsMethod distinguishes automatically computed GlobalStats from a
// manual operator override (spec.md §3, §4.3).
type StatsMethod string

const (
	MethodAutomatic StatsMethod = "automatic"
	MethodManual    StatsMethod = "manual"
)

// ReadingKey is the identity tuple of a Reading (spec.md §3).
type ReadingKey struct {
	Name   string
	DateID DateID
	TimeID TimeID
}

// Reading is the central entity described in spec.md §3. Raw fields are
// immutable once ingested; only the four decision fields are ever
// mutated afterward.
type Reading struct {
	Name           string
	DateID         DateID
	TimeID         TimeID
	Rank           int64
	SequenceNumber int64

	Frequency          float64
	Magnitude          float64
	AmbientTemperature float64
	SkyTemperature     float64
	SignalStrength     sql.NullInt64
	SecondsInDay       int
	Timestamp          time.Time
	LineNumber         int
	SourcePath         string

	Rejected   *RejectReason
	TessID     sql.NullInt64
	LocationID sql.NullInt64
	UnitsID    sql.NullInt64
}

// Key returns the Reading's identity tuple.
func (r Reading) Key() ReadingKey {
	return ReadingKey{Name: r.Name, DateID: r.DateID, TimeID: r.TimeID}
}

// Counter is the housekeeping entity of spec.md §3: the per-photometer
// high-water mark that ingest consults to reject stale rows and assign
// new ranks without scanning Readings.
type Counter struct {
	Name      string
	MaxRank   int64
	MaxTstamp time.Time
	// Persisted is set by the production LoadCounter when housekeeping
	// already holds a row for Name. Ingest's counter factory resets it to
	// false on load and sets it once the current run has attempted an
	// insert for Name; ingest's duplicate-at-boundary rule (spec.md §4.1)
	// only fires while it is still false.
	Persisted bool
}

// Difference is the per-adjacent-pair entity of spec.md §3.
type Difference struct {
	Name     string
	DateID   DateID
	TimeID   TimeID
	Rank     int64
	DeltaSeq int64
	DeltaT   int64
	Period   float64
	N        int
	Control  bool
	Tstamp   time.Time
}

// DailyStats is the per-(name,date) aggregate of spec.md §3.
type DailyStats struct {
	Name   string
	DateID DateID
	Mean   float64
	Median float64
	Stddev float64
	N      int
	Min    float64
	Max    float64
}

// GlobalStats is the per-photometer aggregate of spec.md §3.
type GlobalStats struct {
	Name   string
	Median float64
	N      int
	Method StatsMethod
}

// DuplicatedReading shadows a discarded duplicate row (spec.md §3).
type DuplicatedReading struct {
	Name           string
	Tstamp         time.Time
	SequenceNumber int64
	SourcePath     string
	LineNumber     int
}

// LocationGap records a boundary between resolvable and temporarily
// unresolvable runs, closed or left ambiguous by location gap closure
// (spec.md §3, §4.7).
type LocationGap struct {
	Name            string
	StartDateID     DateID
	StartTimeID     TimeID
	StartLocationID int64
	EndDateID       DateID
	EndTimeID       TimeID
	EndLocationID   int64
	Readings        int
	StartSite       string
	EndSite         string
}

// LocationDailyAggregate mirrors the materialized per-(device,day)
// aggregate from the reference store (spec.md §3, §4.2 step 1).
type LocationDailyAggregate struct {
	TessID       int64
	DateID       DateID
	LocationID   int64
	SameLocation bool
}

// RefReading is a reference-store reading returned by reference
// comparison lookups (spec.md §4.9) and the location slow path (§4.7).
type RefReading struct {
	TessID         int64
	DateID         DateID
	TimeID         TimeID
	SequenceNumber int64
	LocationID     int64
}

// NameDateGroup is one row of the (name, date_id, count) grouping that
// drives difference computation (spec.md §4.2).
type NameDateGroup struct {
	Name   string
	DateID DateID
	Count  int
}

// RejectedMark pairs a Reading identity with the reason it is being
// rejected, used by every stage's batched-rejection path.
type RejectedMark struct {
	Key    ReadingKey
	Reason RejectReason
}

// WorkingStore is the narrow, stage-oriented contract every pipeline
// stage is written against. internal/store/workingpool provides the
// pgx-backed production implementation; internal/pipeline/pipelinetest
// provides an in-memory double for component tests. Splitting the
// interface this way is what lets the "cursor-as-iterator coupling"
// pitfall from spec.md's Design Notes be fixed once, in the
// implementation, instead of in every stage.
type WorkingStore interface {
	// EnsureSchema idempotently creates every table and index named in
	// spec.md §6.
	EnsureSchema(ctx context.Context) error

	// Counters (spec.md §4.1).
	LoadCounter(ctx context.Context, name string) (Counter, error)
	SaveCounters(ctx context.Context, counters []Counter) error

	// Ingest (spec.md §4.1). InsertReading reports whether the insert
	// collided with an existing (name, date_id, time_id) row.
	InsertReading(ctx context.Context, r Reading) (collided bool, err error)
	RecordDuplicate(ctx context.Context, d DuplicatedReading) error

	// Differences (spec.md §4.2).
	NameDateGroups(ctx context.Context, name *string) ([]NameDateGroup, error)
	ReadingsByNameDate(ctx context.Context, name string, date DateID) ([]Reading, error)
	InsertDifferences(ctx context.Context, diffs []Difference) error
	MarkRejected(ctx context.Context, marks []RejectedMark) error

	// Daily/global stats (spec.md §4.3).
	DifferencesByNameDate(ctx context.Context, name string, date DateID) ([]Difference, error)
	DistinctStatNameDates(ctx context.Context, name *string) ([]NameDateGroup, error)
	UpsertDailyStats(ctx context.Context, stats []DailyStats) error
	DailyStatsByName(ctx context.Context, name string) ([]DailyStats, error)
	UpsertGlobalStats(ctx context.Context, stats GlobalStats) error
	GlobalStatsByName(ctx context.Context, name string) (GlobalStats, bool, error)
	DailyStatsFor(ctx context.Context, name string, date DateID) (DailyStats, bool, error)

	// Retained-value detection (spec.md §4.4). PreviousAccepted returns
	// the unrejected (rejected IS NULL) reading of name with the largest
	// rank strictly less than beforeRank, or nil if none exists. Per the
	// Design Notes' "retained-previous-reading" entry, this is a lookup
	// by (name ASC, rank ASC) with a filter, never arithmetic on rank.
	RetainedCandidates(ctx context.Context, name string, thresholdPeriod float64) ([]Difference, error)
	PreviousAccepted(ctx context.Context, name string, beforeRank int64) (*Reading, error)

	// Daylight detection (spec.md §4.5).
	AcceptedReadingsByName(ctx context.Context, name string) ([]Reading, error)

	// Instrument resolution (spec.md §4.6).
	UnresolvedInstrumentReadings(ctx context.Context, name string) ([]Reading, error)
	SetTessID(ctx context.Context, key ReadingKey, tessID int64) error

	// Location resolution (spec.md §4.7).
	UnlocatedReadings(ctx context.Context, name string) ([]Reading, error)
	PartiallyLocatedReadings(ctx context.Context, name string) ([]Reading, error)
	SetLocationID(ctx context.Context, key ReadingKey, locationID sql.NullInt64) error
	CloseLocationGap(ctx context.Context, name string, from, to ReadingKey, newLocationID int64) (int, error)
	RejectLocationGap(ctx context.Context, name string, from, to ReadingKey) (int, error)
	InsertLocationGap(ctx context.Context, gap LocationGap) error

	// Flags (spec.md §4.8).
	SetUnitsIDForUnrejected(ctx context.Context, name *string, unitsID int64) (int64, error)

	// Reference comparison (spec.md §4.9).
	UnrejectedReadingsWithTessID(ctx context.Context, name string) ([]Reading, error)
	MarkAccepted(ctx context.Context, keys []ReadingKey) error

	// DistinctNames lists every photometer name seen by the working
	// store, used by stages that iterate "all photometers" when no name
	// filter is given.
	DistinctNames(ctx context.Context) ([]string, error)
}

// ReferenceStore is the read-only contract spec.md §6 requires of the
// reference database.
type ReferenceStore interface {
	// NameToMac resolves name -> mac for the unique validity window
	// covering at (spec.md §4.6, name_to_mac_t). ok is false if no
	// window covers at.
	NameToMac(ctx context.Context, name string, at time.Time) (mac string, ok bool, err error)

	// TessIDForMac resolves mac -> tess_id for the validity window
	// covering at (tess_t). Exactly one row is assumed to exist once a
	// mac has been returned by NameToMac; a zero-row result is a fatal
	// inconsistency, not a BEFORE outcome (spec.md §7).
	TessIDForMac(ctx context.Context, mac string, at time.Time) (tessID int64, err error)

	// RefreshLocationDailyAggregate materializes LocationDailyAggregate
	// rows and idempotently creates the covering index named in
	// spec.md §3/§6 (tess_readings_i2 equivalent).
	RefreshLocationDailyAggregate(ctx context.Context) error

	// LocationDailyAggregateFor is the location resolution fast path
	// (spec.md §4.7 step A.2).
	LocationDailyAggregateFor(ctx context.Context, tessID int64, date DateID) (LocationDailyAggregate, bool, error)

	// TessReadingNear is the location resolution slow path (spec.md
	// §4.7 step A.3): a tess_readings_t row of tessID within
	// [at-period/2, at+period/2], restricted to dateWindow for index
	// locality.
	TessReadingNear(ctx context.Context, tessID int64, at time.Time, periodSeconds float64, dateWindow [3]DateID) (RefReading, bool, error)

	// ReadingsNear is the reference-comparison lookup (spec.md §4.9):
	// every tess_readings_t row of tessID within
	// [at-period/2, at+period/2], ordered by timestamp.
	ReadingsNear(ctx context.Context, tessID int64, at time.Time, periodSeconds float64) ([]RefReading, error)

	// LocationSite resolves a location_id to its site name
	// (location_t, spec.md §6), used when recording an ambiguous gap.
	LocationSite(ctx context.Context, locationID int64) (site string, err error)
}

// Product identifies the wire dialect a pool speaks, mirroring the
// teacher's types.Product / AnyPool design so that store adapters can be
// written once per dialect instead of once per call site.
type Product int

const (
	ProductUnknown Product = iota
	ProductPostgreSQL
	ProductCockroachDB
	ProductMySQL
	ProductRedshift
)

func (p Product) String() string {
	switch p {
	case ProductPostgreSQL:
		return "postgresql"
	case ProductCockroachDB:
		return "cockroachdb"
	case ProductMySQL:
		return "mysql"
	case ProductRedshift:
		return "redshift"
	default:
		return "unknown"
	}
}

// PoolInfo describes a database connection pool and what it's connected
// to, exactly the role it plays in the teacher's types.go.
type PoolInfo struct {
	ConnectionString string
	Product          Product
	Version          string
}

// Info returns the PoolInfo when embedded.
func (i *PoolInfo) Info() *PoolInfo { return i }

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// WorkingPool is the injection point for a connection to the working
// (mutable) store, always a CockroachDB/PostgreSQL-compatible cluster
// reached through pgx, per SPEC_FULL.md's DOMAIN STACK table.
type WorkingPool struct {
	*pgxpool.Pool
	PoolInfo
	_ noCopy
}

// ReferencePool is the injection point for a connection to the
// read-only reference store, which may be any of the dialects in
// Product, reached through database/sql.
type ReferencePool struct {
	*sql.DB
	PoolInfo
	_ noCopy
}

// WorkingQuerier is implemented by pgxpool.Pool, pgxpool.Conn, pgxpool.Tx
// and pgx.Tx. It lets DAOs accept either a pool or an open transaction.
type WorkingQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...interface{}) pgx.Row
}

var (
	_ WorkingQuerier = (*pgxpool.Pool)(nil)
	_ WorkingQuerier = (*pgxpool.Conn)(nil)
)

// ReferenceQuerier is implemented by sql.DB and sql.Tx, letting
// reference-store DAOs accept either.
type ReferenceQuerier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

var (
	_ ReferenceQuerier = (*sql.DB)(nil)
	_ ReferenceQuerier = (*sql.Tx)(nil)
)
