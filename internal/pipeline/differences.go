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
	"github.com/rgz-obs/tessdb-import/internal/util/windowing"
)

// differenceBatchSize is the bulk-detection commit size from spec.md §5.
const differenceBatchSize = 50_000

// DifferencesResult summarizes one Differences call.
type DifferencesResult struct {
	Groups    int
	Single    int
	Pair      int
	Computed  int
	DupSeq    int
}

// Differences implements spec.md §4.2: per-(name,date_id) group, mark
// SINGLE/PAIR corner cases and otherwise compute first differences
// between time-adjacent readings.
func (p *Pipeline) Differences(ctx context.Context) (DifferencesResult, error) {
	groups, err := p.Working.NameDateGroups(ctx, p.Options.NameOrNil())
	if err != nil {
		return DifferencesResult{}, errors.Wrap(err, "differences: could not list name/date groups")
	}

	var result DifferencesResult
	var diffBatch []types.Difference
	var rejectBatch []types.RejectedMark

	flush := func() error {
		if len(diffBatch) > 0 {
			if !p.Options.Test {
				if err := p.Working.InsertDifferences(ctx, diffBatch); err != nil {
					return errors.Wrap(err, "differences: could not insert differences")
				}
			}
			diffBatch = diffBatch[:0]
		}
		if len(rejectBatch) > 0 {
			if !p.Options.Test {
				if err := p.Working.MarkRejected(ctx, rejectBatch); err != nil {
					return errors.Wrap(err, "differences: could not mark rejected readings")
				}
			}
			rejectBatch = rejectBatch[:0]
		}
		return nil
	}

	for _, g := range groups {
		result.Groups++

		switch g.Count {
		case 1:
			readings, err := p.Working.ReadingsByNameDate(ctx, g.Name, g.DateID)
			if err != nil {
				return result, errors.Wrap(err, "differences: could not load single-reading group")
			}
			if len(readings) != 1 {
				continue
			}
			rejectBatch = append(rejectBatch, types.RejectedMark{Key: readings[0].Key(), Reason: types.Single})
			result.Single++
			if len(rejectBatch) >= differenceBatchSize {
				if err := flush(); err != nil {
					return result, err
				}
			}
			continue
		case 2:
			readings, err := p.Working.ReadingsByNameDate(ctx, g.Name, g.DateID)
			if err != nil {
				return result, errors.Wrap(err, "differences: could not load pair-reading group")
			}
			for _, r := range readings {
				rejectBatch = append(rejectBatch, types.RejectedMark{Key: r.Key(), Reason: types.Pair})
			}
			result.Pair++
			if len(rejectBatch) >= differenceBatchSize {
				if err := flush(); err != nil {
					return result, err
				}
			}
			continue
		}

		readings, err := p.Working.ReadingsByNameDate(ctx, g.Name, g.DateID)
		if err != nil {
			return result, errors.Wrap(err, "differences: could not load group")
		}

		for _, w := range windowing.ShiftFull(readings, 2) {
			if !w.Full {
				continue
			}
			prev, cur := w.Items[0], w.Items[1]

			deltaSeq := cur.SequenceNumber - prev.SequenceNumber
			if deltaSeq == 0 {
				rejectBatch = append(rejectBatch, types.RejectedMark{Key: cur.Key(), Reason: types.DupSeqNumber})
				result.DupSeq++
				if len(rejectBatch) >= differenceBatchSize {
					if err := flush(); err != nil {
						return result, err
					}
				}
				continue
			}

			deltaT := cur.SecondsInDay - prev.SecondsInDay
			diffBatch = append(diffBatch, types.Difference{
				Name:     cur.Name,
				DateID:   cur.DateID,
				TimeID:   cur.TimeID,
				Rank:     cur.Rank,
				DeltaSeq: deltaSeq,
				DeltaT:   int64(deltaT),
				Period:   float64(deltaT) / float64(deltaSeq),
				N:        1,
				Control:  false,
				Tstamp:   cur.Timestamp,
			})
			result.Computed++
			if len(diffBatch) >= differenceBatchSize {
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
		"stage":    "differences",
		"groups":   result.Groups,
		"single":   result.Single,
		"pair":     result.Pair,
		"computed": result.Computed,
		"dup_seq":  result.DupSeq,
	}).Info("differences complete")
	return result, nil
}
