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

// RetainedResult summarizes one DetectRetained call.
type RetainedResult struct {
	Candidates int
	Confirmed  int
}

// DetectRetained implements spec.md §4.4. It runs only in Stage 1
// (spec.md §9 Open Questions, resolution #3): a retained reading is one
// whose device re-emitted the previous packet's contents, detected from
// a large sequence-number gap paired with a suspiciously short time
// delta.
//
// The candidates are materialized into a slice by RetainedCandidates
// before any "previous accepted" lookup runs, per the Design Notes'
// "cursor-as-iterator coupling" entry; each lookup is then a separate
// PreviousAccepted query, so no cursor over the candidates is held open
// while it runs.
func (p *Pipeline) DetectRetained(ctx context.Context) (RetainedResult, error) {
	var names []string
	if n := p.Options.NameOrNil(); n != nil {
		names = []string{*n}
	} else {
		var err error
		names, err = p.Working.DistinctNames(ctx)
		if err != nil {
			return RetainedResult{}, errors.Wrap(err, "retained: could not list names")
		}
	}

	var result RetainedResult
	var rejectBatch []types.RejectedMark

	flush := func() error {
		if len(rejectBatch) == 0 {
			return nil
		}
		if !p.Options.Test {
			if err := p.Working.MarkRejected(ctx, rejectBatch); err != nil {
				return errors.Wrap(err, "retained: could not mark rejected readings")
			}
		}
		rejectBatch = rejectBatch[:0]
		return nil
	}

	for _, name := range names {
		gs, ok, err := p.Working.GlobalStatsByName(ctx, name)
		if err != nil {
			return result, errors.Wrapf(err, "retained: could not load global stats for %s", name)
		}
		if !ok {
			continue
		}

		threshold := gs.Median * (1 + float64(p.Options.Tolerance)/100)
		candidates, err := p.Working.RetainedCandidates(ctx, name, threshold)
		if err != nil {
			return result, errors.Wrapf(err, "retained: could not load candidates for %s", name)
		}

		for _, d := range candidates {
			if d.DeltaSeq <= 1 {
				continue
			}
			result.Candidates++

			cur, err := p.Working.PreviousAccepted(ctx, name, d.Rank+1)
			if err != nil {
				return result, errors.Wrapf(err, "retained: could not load reading for %s rank %d", name, d.Rank)
			}
			prev, err := p.Working.PreviousAccepted(ctx, name, d.Rank)
			if err != nil {
				return result, errors.Wrapf(err, "retained: could not load previous for %s rank %d", name, d.Rank)
			}
			if cur == nil || prev == nil {
				continue
			}

			if cur.SequenceNumber == prev.SequenceNumber {
				// Tie-break: always mark the later of the two.
				later := cur
				if prev.Rank > cur.Rank {
					later = prev
				}
				rejectBatch = append(rejectBatch, types.RejectedMark{Key: later.Key(), Reason: types.DupSeqNumber})
				result.Confirmed++
				if len(rejectBatch) >= differenceBatchSize {
					if err := flush(); err != nil {
						return result, err
					}
				}
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	log.WithFields(log.Fields{
		"stage":      "retained",
		"candidates": result.Candidates,
		"confirmed":  result.Confirmed,
	}).Info("retained-value detection complete")
	return result, nil
}
