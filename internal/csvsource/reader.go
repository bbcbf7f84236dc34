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

// Package csvsource implements the CSV input contract of spec.md §6: a
// ';'-delimited photometer export with a discarded header line. This is
// one of the two collaborators spec.md §1 calls out as out of scope
// beyond its contract; this package satisfies exactly that contract and
// nothing more.
package csvsource

import (
	"bufio"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// TimestampLayout is the wire format of the CSV's first column
// (spec.md §6).
const TimestampLayout = "2006-01-02T15:04:05Z"

// Row is one successfully parsed CSV line.
type Row struct {
	Timestamp      time.Time
	Name           string
	SequenceNumber int64
	Frequency      float64
	Magnitude      float64
	AmbientTemp    float64
	SkyTemp        float64
	// SignalStrength is nil if the column was absent or unparseable
	// (spec.md §6: "absent or unparseable => null").
	SignalStrength *int64
	LineNumber     int
}

// Reader streams Rows out of a ';'-delimited CSV file, discarding the
// header line the way the original tool's csv_generator does, and
// skipping (not aborting on) any row with an unparseable required
// column, per spec.md §7 ("unparseable CSV row => skip the row").
type Reader struct {
	csv  *csv.Reader
	line int
	path string
}

// NewReader wraps r, an already-open file or stream, as a Reader for
// path (used only for provenance in DuplicatedReading records).
func NewReader(r io.Reader, path string) (*Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	cr := csv.NewReader(br)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1 // signal_strength is optional
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil, errors.New("csv source is empty: missing header line")
		}
		return nil, errors.Wrap(err, "could not read csv header")
	}
	return &Reader{csv: cr, line: 1, path: path}, nil
}

// Path returns the source path this Reader was opened from.
func (r *Reader) Path() string { return r.path }

// Next returns the next parseable Row, skipping over malformed rows.
// It returns io.EOF once the source is exhausted.
func (r *Reader) Next() (Row, error) {
	for {
		rec, err := r.csv.Read()
		if err == io.EOF {
			return Row{}, io.EOF
		}
		r.line++
		if err != nil {
			// A malformed line (wrong quoting, etc): skip it, per
			// spec.md §7.
			continue
		}
		row, ok := parseRow(rec, r.line)
		if !ok {
			continue
		}
		return row, nil
	}
}

func parseRow(rec []string, line int) (Row, bool) {
	if len(rec) < 7 {
		return Row{}, false
	}
	ts, err := time.Parse(TimestampLayout, rec[0])
	if err != nil {
		return Row{}, false
	}
	seq, err := strconv.ParseInt(rec[2], 10, 64)
	if err != nil {
		return Row{}, false
	}
	freq, err := strconv.ParseFloat(rec[3], 64)
	if err != nil {
		return Row{}, false
	}
	mag, err := strconv.ParseFloat(rec[4], 64)
	if err != nil {
		return Row{}, false
	}
	tamb, err := strconv.ParseFloat(rec[5], 64)
	if err != nil {
		return Row{}, false
	}
	tsky, err := strconv.ParseFloat(rec[6], 64)
	if err != nil {
		return Row{}, false
	}
	row := Row{
		Timestamp:   ts.UTC(),
		Name:        rec[1],
		SequenceNumber: seq,
		Frequency:   freq,
		Magnitude:   mag,
		AmbientTemp: tamb,
		SkyTemp:     tsky,
		LineNumber:  line,
	}
	if len(rec) >= 8 {
		if rss, err := strconv.ParseInt(rec[7], 10, 64); err == nil {
			row.SignalStrength = &rss
		}
	}
	return row, true
}
