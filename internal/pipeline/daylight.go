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

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rgz-obs/tessdb-import/internal/types"
	"github.com/rgz-obs/tessdb-import/internal/util/windowing"
)

// daylightWindow is the fixed window size from spec.md §4.5.
const daylightWindow = 7

// daylightBatchSize is the bulk-detection commit size from spec.md §5.
const daylightBatchSize = 50_000

// DaylightResult summarizes one DetectDaylight call.
type DaylightResult struct {
	Windows int
	Marked  int
}

// DetectDaylight implements spec.md §4.5: a sliding window of 7
// consecutive accepted readings confirms daylight iff the sequence
// numbers are strictly consecutive with a constant first difference and
// every magnitude in the window is zero, in which case the middle
// reading (index 3) is marked DAYLIGHT.
func (p *Pipeline) DetectDaylight(ctx context.Context) (DaylightResult, error) {
	var names []string
	if n := p.Options.NameOrNil(); n != nil {
		names = []string{*n}
	} else {
		var err error
		names, err = p.Working.DistinctNames(ctx)
		if err != nil {
			return DaylightResult{}, errors.Wrap(err, "daylight: could not list names")
		}
	}

	var result DaylightResult
	var rejectBatch []types.RejectedMark

	flush := func() error {
		if len(rejectBatch) == 0 {
			return nil
		}
		if !p.Options.Test {
			if err := p.Working.MarkRejected(ctx, rejectBatch); err != nil {
				return errors.Wrap(err, "daylight: could not mark rejected readings")
			}
		}
		rejectBatch = rejectBatch[:0]
		return nil
	}

	for _, name := range names {
		readings, err := p.Working.AcceptedReadingsByName(ctx, name)
		if err != nil {
			return result, errors.Wrapf(err, "daylight: could not load readings for %s", name)
		}

		for _, w := range windowing.ShiftFull(readings, daylightWindow) {
			if !w.Full {
				continue
			}
			result.Windows++

			if !confirmsDaylight(w.Items) {
				continue
			}
			middle := w.Items[3]
			rejectBatch = append(rejectBatch, types.RejectedMark{Key: middle.Key(), Reason: types.Daylight})
			result.Marked++
			if len(rejectBatch) >= daylightBatchSize {
				if err := flush(); err != nil {
					return result, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	log.WithFields(log.Fields{
		"stage":   "daylight",
		"windows": result.Windows,
		"marked":  result.Marked,
	}).Info("daylight detection complete")
	return result, nil
}

// confirmsDaylight reports whether window, a slice of exactly
// daylightWindow consecutive accepted readings, satisfies both
// conditions of spec.md §4.5: strictly consecutive sequence numbers with
// a constant first difference, and every magnitude in the window zero.
func confirmsDaylight(window []types.Reading) bool {
	var magSum float64
	var secondDiffSum int64
	var firstDiff int64
	for i, r := range window {
		magSum += math.Abs(r.Magnitude)
		if i == 0 {
			continue
		}
		d := window[i].SequenceNumber - window[i-1].SequenceNumber
		if i == 1 {
			firstDiff = d
			continue
		}
		secondDiffSum += abs64(d - firstDiff)
	}
	return secondDiffSum == 0 && magSum == 0
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
