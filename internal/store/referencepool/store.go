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

package referencepool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rgz-obs/tessdb-import/internal/types"
)

// Store implements types.ReferenceStore against the read contract of
// spec.md §6: name_to_mac_t, tess_t, tess_readings_t, location_t.
type Store struct {
	db      types.ReferenceQuerier
	product types.Product
}

// New wraps db (typically a *types.ReferencePool) as a types.ReferenceStore.
// product selects the placeholder dialect: MySQL takes "?" as written,
// everything else (Postgres, Redshift) is rebound to "$1", "$2", ...
func New(db types.ReferenceQuerier, product types.Product) *Store {
	return &Store{db: db, product: product}
}

var _ types.ReferenceStore = (*Store)(nil)

// rebind rewrites a "?"-placeholder query for dialects that need
// positional parameters instead.
func (s *Store) rebind(query string) string {
	if s.product == types.ProductMySQL {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) NameToMac(ctx context.Context, name string, at time.Time) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT mac_address FROM name_to_mac_t
		WHERE name = ? AND valid_since <= ? AND ? < valid_until`), name, at, at)
	var mac string
	err := row.Scan(&mac)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "referencepool: could not resolve name to mac")
	}
	return mac, true, nil
}

func (s *Store) TessIDForMac(ctx context.Context, mac string, at time.Time) (int64, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT tess_id FROM tess_t
		WHERE mac_address = ? AND valid_since <= ? AND ? < valid_until`), mac, at, at)
	var tessID int64
	err := row.Scan(&tessID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Errorf("referencepool: no tess_t row for mac %s at %s despite a valid name_to_mac_t window", mac, at)
	}
	if err != nil {
		return 0, errors.Wrap(err, "referencepool: could not resolve mac to tess_id")
	}
	return tessID, nil
}

// RefreshLocationDailyAggregate materializes the per-(device,day)
// location aggregate and idempotently creates the covering index on
// tess_readings_t named in spec.md §3/§6.
func (s *Store) RefreshLocationDailyAggregate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS tess_readings_i2
		ON tess_readings_t (tess_id, date_id, time_id, sequence_number, location_id)`); err != nil {
		return errors.Wrap(err, "referencepool: could not create covering index")
	}

	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS location_daily_aggregate_t`); err != nil {
		return errors.Wrap(err, "referencepool: could not drop stale aggregate")
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE location_daily_aggregate_t AS
		SELECT tess_id, date_id,
		       min(location_id) AS location_id,
		       CASE WHEN count(DISTINCT location_id) = 1 THEN 1 ELSE 0 END AS same_location
		FROM tess_readings_t
		GROUP BY tess_id, date_id`)
	return errors.Wrap(err, "referencepool: could not materialize location daily aggregate")
}

func (s *Store) LocationDailyAggregateFor(ctx context.Context, tessID int64, date types.DateID) (types.LocationDailyAggregate, bool, error) {
	var agg types.LocationDailyAggregate
	agg.TessID, agg.DateID = tessID, date
	var sameLocation int
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT location_id, same_location FROM location_daily_aggregate_t
		WHERE tess_id = ? AND date_id = ?`), tessID, date)
	err := row.Scan(&agg.LocationID, &sameLocation)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, false, nil
	}
	if err != nil {
		return agg, false, errors.Wrap(err, "referencepool: could not load location daily aggregate")
	}
	agg.SameLocation = sameLocation == 1
	return agg, true, nil
}

func (s *Store) TessReadingNear(ctx context.Context, tessID int64, at time.Time, periodSeconds float64, dateWindow [3]types.DateID) (types.RefReading, bool, error) {
	half := time.Duration(periodSeconds / 2 * float64(time.Second))
	lo, hi := at.Add(-half), at.Add(half)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT tess_id, date_id, time_id, sequence_number, location_id
		FROM tess_readings_t
		WHERE tess_id = ? AND date_id IN (?, ?, ?)
		ORDER BY date_id, time_id`),
		tessID, dateWindow[0], dateWindow[1], dateWindow[2])
	if err != nil {
		return types.RefReading{}, false, errors.Wrap(err, "referencepool: could not query tess_readings_t")
	}
	defer rows.Close()

	for rows.Next() {
		var rr types.RefReading
		if err := rows.Scan(&rr.TessID, &rr.DateID, &rr.TimeID, &rr.SequenceNumber, &rr.LocationID); err != nil {
			return types.RefReading{}, false, errors.Wrap(err, "referencepool: could not scan tess reading")
		}
		t := types.TimeFromIDs(rr.DateID, rr.TimeID)
		if !t.Before(lo) && !t.After(hi) {
			return rr, true, rows.Err()
		}
	}
	return types.RefReading{}, false, rows.Err()
}

func (s *Store) ReadingsNear(ctx context.Context, tessID int64, at time.Time, periodSeconds float64) ([]types.RefReading, error) {
	half := time.Duration(periodSeconds / 2 * float64(time.Second))
	lo, hi := at.Add(-half), at.Add(half)
	loDate, hiDate := types.DateIDOf(lo), types.DateIDOf(hi)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT tess_id, date_id, time_id, sequence_number, location_id
		FROM tess_readings_t
		WHERE tess_id = ? AND date_id BETWEEN ? AND ?
		ORDER BY date_id, time_id`), tessID, loDate, hiDate)
	if err != nil {
		return nil, errors.Wrap(err, "referencepool: could not query tess_readings_t")
	}
	defer rows.Close()

	var out []types.RefReading
	for rows.Next() {
		var rr types.RefReading
		if err := rows.Scan(&rr.TessID, &rr.DateID, &rr.TimeID, &rr.SequenceNumber, &rr.LocationID); err != nil {
			return nil, errors.Wrap(err, "referencepool: could not scan tess reading")
		}
		t := types.TimeFromIDs(rr.DateID, rr.TimeID)
		if t.Before(lo) || t.After(hi) {
			continue
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

func (s *Store) LocationSite(ctx context.Context, locationID int64) (string, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT site FROM location_t WHERE location_id = ?`), locationID)
	var site string
	err := row.Scan(&site)
	if err != nil {
		return "", errors.Wrapf(err, "referencepool: could not resolve site for location_id %d", locationID)
	}
	return site, nil
}
