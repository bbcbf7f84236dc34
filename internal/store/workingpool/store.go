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

package workingpool

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/rgz-obs/tessdb-import/internal/types"
)

// Store implements types.WorkingStore against a pgx-backed working
// pool. DAOs are written against types.WorkingQuerier, not *pgxpool.Pool
// directly, so the same Store can run its statements inside a
// transaction started elsewhere in a future caller.
type Store struct {
	pool types.WorkingQuerier
}

// New wraps pool (typically a *types.WorkingPool) as a types.WorkingStore.
func New(pool types.WorkingQuerier) *Store {
	return &Store{pool: pool}
}

var _ types.WorkingStore = (*Store)(nil)

func (s *Store) LoadCounter(ctx context.Context, name string) (types.Counter, error) {
	var c types.Counter
	c.Name = name
	row := s.pool.QueryRow(ctx, `SELECT max_rank, max_tstamp FROM counters WHERE name = $1`, name)
	err := row.Scan(&c.MaxRank, &c.MaxTstamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, errors.Wrap(err, "workingpool: could not load counter")
	}
	c.Persisted = true
	return c, nil
}

func (s *Store) SaveCounters(ctx context.Context, counters []types.Counter) error {
	for _, c := range counters {
		_, err := s.pool.Exec(ctx, `
			UPSERT INTO counters (name, max_rank, max_tstamp) VALUES ($1, $2, $3)`,
			c.Name, c.MaxRank, c.MaxTstamp)
		if err != nil {
			return errors.Wrapf(err, "workingpool: could not save counter for %s", c.Name)
		}
	}
	return nil
}

func (s *Store) InsertReading(ctx context.Context, r types.Reading) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO readings (
			name, date_id, time_id, rank, sequence_number, frequency, magnitude,
			ambient_temperature, sky_temperature, signal_strength, seconds_in_day,
			tstamp, line_number, source_path
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.Name, r.DateID, r.TimeID, r.Rank, r.SequenceNumber, r.Frequency, r.Magnitude,
		r.AmbientTemperature, r.SkyTemperature, nullInt(r.SignalStrength), r.SecondsInDay,
		r.Timestamp, r.LineNumber, r.SourcePath)
	if err == nil {
		return false, nil
	}
	if isUniqueViolation(err) {
		return true, nil
	}
	return false, errors.Wrap(err, "workingpool: could not insert reading")
}

func (s *Store) RecordDuplicate(ctx context.Context, d types.DuplicatedReading) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO duplicated_readings (name, tstamp, sequence_number, source_path, line_number)
		VALUES ($1,$2,$3,$4,$5)`,
		d.Name, d.Tstamp, d.SequenceNumber, d.SourcePath, d.LineNumber)
	return errors.Wrap(err, "workingpool: could not record duplicate")
}

func (s *Store) NameDateGroups(ctx context.Context, name *string) ([]types.NameDateGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, date_id, count(*) FROM readings
		WHERE ($1::STRING IS NULL OR name = $1)
		GROUP BY name, date_id
		ORDER BY name, date_id`, name)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: could not list name/date groups")
	}
	defer rows.Close()

	var out []types.NameDateGroup
	for rows.Next() {
		var g types.NameDateGroup
		if err := rows.Scan(&g.Name, &g.DateID, &g.Count); err != nil {
			return nil, errors.Wrap(err, "workingpool: could not scan name/date group")
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) ReadingsByNameDate(ctx context.Context, name string, date types.DateID) ([]types.Reading, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, date_id, time_id, rank, sequence_number, frequency, magnitude,
		       ambient_temperature, sky_temperature, signal_strength, seconds_in_day,
		       tstamp, line_number, source_path, rejected, tess_id, location_id, units_id
		FROM readings WHERE name = $1 AND date_id = $2
		ORDER BY time_id`, name, date)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: could not load readings by name/date")
	}
	defer rows.Close()
	return scanReadings(rows)
}

func (s *Store) InsertDifferences(ctx context.Context, diffs []types.Difference) error {
	for _, d := range diffs {
		_, err := s.pool.Exec(ctx, `
			UPSERT INTO differences (name, date_id, time_id, rank, delta_seq, delta_t, period, n, control, tstamp)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			d.Name, d.DateID, d.TimeID, d.Rank, d.DeltaSeq, d.DeltaT, d.Period, d.N, d.Control, d.Tstamp)
		if err != nil {
			return errors.Wrap(err, "workingpool: could not insert difference")
		}
	}
	return nil
}

func (s *Store) MarkRejected(ctx context.Context, marks []types.RejectedMark) error {
	for _, m := range marks {
		_, err := s.pool.Exec(ctx, `
			UPDATE readings SET rejected = $4 WHERE name = $1 AND date_id = $2 AND time_id = $3`,
			m.Key.Name, m.Key.DateID, m.Key.TimeID, int16(m.Reason))
		if err != nil {
			return errors.Wrap(err, "workingpool: could not mark reading rejected")
		}
	}
	return nil
}

func (s *Store) DifferencesByNameDate(ctx context.Context, name string, date types.DateID) ([]types.Difference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, date_id, time_id, rank, delta_seq, delta_t, period, n, control, tstamp
		FROM differences WHERE name = $1 AND date_id = $2`, name, date)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: could not load differences")
	}
	defer rows.Close()

	var out []types.Difference
	for rows.Next() {
		var d types.Difference
		if err := rows.Scan(&d.Name, &d.DateID, &d.TimeID, &d.Rank, &d.DeltaSeq, &d.DeltaT, &d.Period, &d.N, &d.Control, &d.Tstamp); err != nil {
			return nil, errors.Wrap(err, "workingpool: could not scan difference")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DistinctStatNameDates(ctx context.Context, name *string) ([]types.NameDateGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, date_id, count(*) FROM differences
		WHERE ($1::STRING IS NULL OR name = $1)
		GROUP BY name, date_id
		ORDER BY name, date_id`, name)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: could not list distinct stat name/dates")
	}
	defer rows.Close()

	var out []types.NameDateGroup
	for rows.Next() {
		var g types.NameDateGroup
		if err := rows.Scan(&g.Name, &g.DateID, &g.Count); err != nil {
			return nil, errors.Wrap(err, "workingpool: could not scan name/date group")
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) UpsertDailyStats(ctx context.Context, stats []types.DailyStats) error {
	for _, d := range stats {
		_, err := s.pool.Exec(ctx, `
			UPSERT INTO daily_stats (name, date_id, mean, median, stddev, n, min, max)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			d.Name, d.DateID, d.Mean, d.Median, d.Stddev, d.N, d.Min, d.Max)
		if err != nil {
			return errors.Wrap(err, "workingpool: could not upsert daily stats")
		}
	}
	return nil
}

func (s *Store) DailyStatsByName(ctx context.Context, name string) ([]types.DailyStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, date_id, mean, median, stddev, n, min, max
		FROM daily_stats WHERE name = $1 ORDER BY date_id`, name)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: could not load daily stats")
	}
	defer rows.Close()

	var out []types.DailyStats
	for rows.Next() {
		var d types.DailyStats
		if err := rows.Scan(&d.Name, &d.DateID, &d.Mean, &d.Median, &d.Stddev, &d.N, &d.Min, &d.Max); err != nil {
			return nil, errors.Wrap(err, "workingpool: could not scan daily stats")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpsertGlobalStats(ctx context.Context, stats types.GlobalStats) error {
	_, err := s.pool.Exec(ctx, `
		UPSERT INTO global_stats (name, median, n, method) VALUES ($1,$2,$3,$4)`,
		stats.Name, stats.Median, stats.N, string(stats.Method))
	return errors.Wrap(err, "workingpool: could not upsert global stats")
}

func (s *Store) GlobalStatsByName(ctx context.Context, name string) (types.GlobalStats, bool, error) {
	var gs types.GlobalStats
	var method string
	gs.Name = name
	row := s.pool.QueryRow(ctx, `SELECT median, n, method FROM global_stats WHERE name = $1`, name)
	err := row.Scan(&gs.Median, &gs.N, &method)
	if errors.Is(err, pgx.ErrNoRows) {
		return gs, false, nil
	}
	if err != nil {
		return gs, false, errors.Wrap(err, "workingpool: could not load global stats")
	}
	gs.Method = types.StatsMethod(method)
	return gs, true, nil
}

func (s *Store) DailyStatsFor(ctx context.Context, name string, date types.DateID) (types.DailyStats, bool, error) {
	var d types.DailyStats
	d.Name, d.DateID = name, date
	row := s.pool.QueryRow(ctx, `
		SELECT mean, median, stddev, n, min, max FROM daily_stats
		WHERE name = $1 AND date_id = $2`, name, date)
	err := row.Scan(&d.Mean, &d.Median, &d.Stddev, &d.N, &d.Min, &d.Max)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, false, nil
	}
	if err != nil {
		return d, false, errors.Wrap(err, "workingpool: could not load daily stats")
	}
	return d, true, nil
}

func (s *Store) RetainedCandidates(ctx context.Context, name string, thresholdPeriod float64) ([]types.Difference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, date_id, time_id, rank, delta_seq, delta_t, period, n, control, tstamp
		FROM differences
		WHERE name = $1 AND delta_seq > 1 AND delta_t < $2
		ORDER BY rank`, name, thresholdPeriod)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: could not load retained candidates")
	}
	defer rows.Close()

	var out []types.Difference
	for rows.Next() {
		var d types.Difference
		if err := rows.Scan(&d.Name, &d.DateID, &d.TimeID, &d.Rank, &d.DeltaSeq, &d.DeltaT, &d.Period, &d.N, &d.Control, &d.Tstamp); err != nil {
			return nil, errors.Wrap(err, "workingpool: could not scan retained candidate")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) PreviousAccepted(ctx context.Context, name string, beforeRank int64) (*types.Reading, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, date_id, time_id, rank, sequence_number, frequency, magnitude,
		       ambient_temperature, sky_temperature, signal_strength, seconds_in_day,
		       tstamp, line_number, source_path, rejected, tess_id, location_id, units_id
		FROM readings
		WHERE name = $1 AND rank < $2 AND rejected IS NULL
		ORDER BY rank DESC LIMIT 1`, name, beforeRank)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: could not load previous accepted reading")
	}
	defer rows.Close()

	readings, err := scanReadings(rows)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, nil
	}
	return &readings[0], nil
}

func (s *Store) AcceptedReadingsByName(ctx context.Context, name string) ([]types.Reading, error) {
	return s.queryReadings(ctx, `
		SELECT name, date_id, time_id, rank, sequence_number, frequency, magnitude,
		       ambient_temperature, sky_temperature, signal_strength, seconds_in_day,
		       tstamp, line_number, source_path, rejected, tess_id, location_id, units_id
		FROM readings WHERE name = $1 AND rejected IS NULL
		ORDER BY date_id, time_id`, name)
}

func (s *Store) UnresolvedInstrumentReadings(ctx context.Context, name string) ([]types.Reading, error) {
	return s.queryReadings(ctx, `
		SELECT name, date_id, time_id, rank, sequence_number, frequency, magnitude,
		       ambient_temperature, sky_temperature, signal_strength, seconds_in_day,
		       tstamp, line_number, source_path, rejected, tess_id, location_id, units_id
		FROM readings WHERE name = $1 AND rejected IS NULL AND tess_id IS NULL
		ORDER BY date_id, time_id`, name)
}

func (s *Store) SetTessID(ctx context.Context, key types.ReadingKey, tessID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE readings SET tess_id = $4 WHERE name = $1 AND date_id = $2 AND time_id = $3`,
		key.Name, key.DateID, key.TimeID, tessID)
	return errors.Wrap(err, "workingpool: could not set tess_id")
}

func (s *Store) UnlocatedReadings(ctx context.Context, name string) ([]types.Reading, error) {
	return s.queryReadings(ctx, `
		SELECT name, date_id, time_id, rank, sequence_number, frequency, magnitude,
		       ambient_temperature, sky_temperature, signal_strength, seconds_in_day,
		       tstamp, line_number, source_path, rejected, tess_id, location_id, units_id
		FROM readings WHERE name = $1 AND rejected IS NULL AND location_id IS NULL
		ORDER BY date_id, time_id`, name)
}

func (s *Store) PartiallyLocatedReadings(ctx context.Context, name string) ([]types.Reading, error) {
	return s.queryReadings(ctx, `
		SELECT name, date_id, time_id, rank, sequence_number, frequency, magnitude,
		       ambient_temperature, sky_temperature, signal_strength, seconds_in_day,
		       tstamp, line_number, source_path, rejected, tess_id, location_id, units_id
		FROM readings WHERE name = $1 AND location_id IS NOT NULL
		ORDER BY date_id, time_id`, name)
}

func (s *Store) SetLocationID(ctx context.Context, key types.ReadingKey, locationID sql.NullInt64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE readings SET location_id = $4 WHERE name = $1 AND date_id = $2 AND time_id = $3`,
		key.Name, key.DateID, key.TimeID, nullInt(locationID))
	return errors.Wrap(err, "workingpool: could not set location_id")
}

// gapRange is shared by CloseLocationGap/RejectLocationGap: both operate
// on every sentinel-carrying row whose (date_id, time_id) falls within
// the bounds of the gap identified by gap closure's caller.
const gapRange = `name = $1 AND (date_id, time_id) >= ($2, $3) AND (date_id, time_id) <= ($4, $5) AND location_id = -100`

func (s *Store) CloseLocationGap(ctx context.Context, name string, from, to types.ReadingKey, newLocationID int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE readings SET location_id = $6, rejected = NULL WHERE `+gapRange,
		name, from.DateID, from.TimeID, to.DateID, to.TimeID, newLocationID)
	if err != nil {
		return 0, errors.Wrap(err, "workingpool: could not close location gap")
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) RejectLocationGap(ctx context.Context, name string, from, to types.ReadingKey) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE readings SET location_id = NULL, rejected = $6 WHERE `+gapRange,
		name, from.DateID, from.TimeID, to.DateID, to.TimeID, int16(types.AmbiguousLoc))
	if err != nil {
		return 0, errors.Wrap(err, "workingpool: could not reject location gap")
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) InsertLocationGap(ctx context.Context, gap types.LocationGap) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO location_gaps (
			name, start_date_id, start_time_id, start_location_id,
			end_date_id, end_time_id, end_location_id, readings, start_site, end_site
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		gap.Name, gap.StartDateID, gap.StartTimeID, gap.StartLocationID,
		gap.EndDateID, gap.EndTimeID, gap.EndLocationID, gap.Readings, gap.StartSite, gap.EndSite)
	return errors.Wrap(err, "workingpool: could not insert location gap")
}

func (s *Store) SetUnitsIDForUnrejected(ctx context.Context, name *string, unitsID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE readings SET units_id = $2
		WHERE rejected IS NULL AND ($1::STRING IS NULL OR name = $1)`,
		name, unitsID)
	if err != nil {
		return 0, errors.Wrap(err, "workingpool: could not set units_id")
	}
	return tag.RowsAffected(), nil
}

func (s *Store) UnrejectedReadingsWithTessID(ctx context.Context, name string) ([]types.Reading, error) {
	return s.queryReadings(ctx, `
		SELECT name, date_id, time_id, rank, sequence_number, frequency, magnitude,
		       ambient_temperature, sky_temperature, signal_strength, seconds_in_day,
		       tstamp, line_number, source_path, rejected, tess_id, location_id, units_id
		FROM readings WHERE name = $1 AND rejected IS NULL AND tess_id IS NOT NULL
		ORDER BY date_id, time_id`, name)
}

func (s *Store) MarkAccepted(ctx context.Context, keys []types.ReadingKey) error {
	for _, k := range keys {
		_, err := s.pool.Exec(ctx, `
			UPDATE readings SET rejected = 0 WHERE name = $1 AND date_id = $2 AND time_id = $3`,
			k.Name, k.DateID, k.TimeID)
		if err != nil {
			return errors.Wrap(err, "workingpool: could not mark reading accepted")
		}
	}
	return nil
}

func (s *Store) DistinctNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT name FROM readings ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: could not list distinct names")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "workingpool: could not scan name")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) queryReadings(ctx context.Context, sqlText string, args ...interface{}) ([]types.Reading, error) {
	rows, err := s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: query failed")
	}
	defer rows.Close()
	return scanReadings(rows)
}

func scanReadings(rows pgx.Rows) ([]types.Reading, error) {
	var out []types.Reading
	for rows.Next() {
		var r types.Reading
		var signal sql.NullInt64
		var rejected sql.NullInt16
		var tessID, locationID, unitsID sql.NullInt64
		if err := rows.Scan(
			&r.Name, &r.DateID, &r.TimeID, &r.Rank, &r.SequenceNumber, &r.Frequency, &r.Magnitude,
			&r.AmbientTemperature, &r.SkyTemperature, &signal, &r.SecondsInDay,
			&r.Timestamp, &r.LineNumber, &r.SourcePath, &rejected, &tessID, &locationID, &unitsID,
		); err != nil {
			return nil, errors.Wrap(err, "workingpool: could not scan reading")
		}
		r.SignalStrength = signal
		r.TessID = tessID
		r.LocationID = locationID
		r.UnitsID = unitsID
		if rejected.Valid {
			reason := types.RejectReason(rejected.Int16)
			r.Rejected = &reason
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullInt(v sql.NullInt64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
