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

// okBatchSize and rejectBatchSize are the two distinct commit sizes from
// spec.md §4.9: ACCEPTED marks commit every okBatchSize rows, while
// COINCIDENT, SHIFTED and AMBIGUOUS_TIME marks share one rejection
// batch that commits every rejectBatchSize rows.
const (
	okBatchSize     = 1_000
	rejectBatchSize = 10_000
)

// ReferenceCompareResult summarizes one CompareReference call.
type ReferenceCompareResult struct {
	Accepted      int
	Coincident    int
	Shifted       int
	AmbiguousTime int
}

// CompareReference implements spec.md §4.9: for each still-unrejected
// reading, search the reference store for readings of the same device
// within ±½-period of the candidate's timestamp and classify by match
// count and sequence-number agreement.
func (p *Pipeline) CompareReference(ctx context.Context) (ReferenceCompareResult, error) {
	var names []string
	if n := p.Options.NameOrNil(); n != nil {
		names = []string{*n}
	} else {
		var err error
		names, err = p.Working.DistinctNames(ctx)
		if err != nil {
			return ReferenceCompareResult{}, errors.Wrap(err, "reference_compare: could not list names")
		}
	}

	var result ReferenceCompareResult
	var acceptBatch []types.ReadingKey
	var rejectBatch []types.RejectedMark

	flushAccept := func() error {
		if len(acceptBatch) == 0 {
			return nil
		}
		if !p.Options.Test {
			if err := p.Working.MarkAccepted(ctx, acceptBatch); err != nil {
				return errors.Wrap(err, "reference_compare: could not mark accepted readings")
			}
		}
		acceptBatch = acceptBatch[:0]
		return nil
	}
	flushReject := func() error {
		if len(rejectBatch) == 0 {
			return nil
		}
		if !p.Options.Test {
			if err := p.Working.MarkRejected(ctx, rejectBatch); err != nil {
				return errors.Wrap(err, "reference_compare: could not mark rejected readings")
			}
		}
		rejectBatch = rejectBatch[:0]
		return nil
	}

	for _, name := range names {
		readings, err := p.Working.UnrejectedReadingsWithTessID(ctx, name)
		if err != nil {
			return result, errors.Wrapf(err, "reference_compare: could not load readings for %s", name)
		}

		for _, r := range readings {
			if !r.TessID.Valid {
				continue
			}
			period, err := p.periodFor(ctx, name, r.DateID)
			if err != nil {
				return result, err
			}

			matches, err := p.Reference.ReadingsNear(ctx, r.TessID.Int64, r.Timestamp, period)
			if err != nil {
				return result, errors.Wrapf(err, "reference_compare: could not look up reference readings for %s", name)
			}

			switch len(matches) {
			case 0:
				acceptBatch = append(acceptBatch, r.Key())
				result.Accepted++
				if len(acceptBatch) >= okBatchSize {
					if err := flushAccept(); err != nil {
						return result, err
					}
				}
			case 1:
				reason := types.Shifted
				if matches[0].SequenceNumber == r.SequenceNumber {
					reason = types.Coincident
					result.Coincident++
				} else {
					result.Shifted++
				}
				rejectBatch = append(rejectBatch, types.RejectedMark{Key: r.Key(), Reason: reason})
				if len(rejectBatch) >= rejectBatchSize {
					if err := flushReject(); err != nil {
						return result, err
					}
				}
			default:
				rejectBatch = append(rejectBatch, types.RejectedMark{Key: r.Key(), Reason: types.AmbiguousTime})
				result.AmbiguousTime++
				if len(rejectBatch) >= rejectBatchSize {
					if err := flushReject(); err != nil {
						return result, err
					}
				}
			}
		}
	}
	if err := flushAccept(); err != nil {
		return result, err
	}
	if err := flushReject(); err != nil {
		return result, err
	}

	log.WithFields(log.Fields{
		"stage":          "reference_compare",
		"accepted":       result.Accepted,
		"coincident":     result.Coincident,
		"shifted":        result.Shifted,
		"ambiguous_time": result.AmbiguousTime,
	}).Info("reference comparison complete")
	return result, nil
}
