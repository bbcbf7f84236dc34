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

// instrumentBatchSize is the bulk-update commit size from spec.md §4.6.
const instrumentBatchSize = 50_000

// InstrumentResult summarizes one ResolveInstrument call.
type InstrumentResult struct {
	Resolved int
	Before   int
}

// ResolveInstrument implements spec.md §4.6: for each accepted reading,
// resolve name -> mac -> tess_id by temporal validity window. A reading
// whose timestamp predates the photometer's registration (no mac valid
// at that time) is marked BEFORE; per spec.md §9 Open Questions
// resolution #2, this never clears a previously-set tess_id, since
// spec.md §4.1/§4.6 never set one in the first place at this point in
// the pipeline.
func (p *Pipeline) ResolveInstrument(ctx context.Context) (InstrumentResult, error) {
	var names []string
	if n := p.Options.NameOrNil(); n != nil {
		names = []string{*n}
	} else {
		var err error
		names, err = p.Working.DistinctNames(ctx)
		if err != nil {
			return InstrumentResult{}, errors.Wrap(err, "instrument: could not list names")
		}
	}

	var result InstrumentResult
	var rejectBatch []types.RejectedMark
	var resolvedCount int

	flushRejects := func() error {
		if len(rejectBatch) == 0 {
			return nil
		}
		if !p.Options.Test {
			if err := p.Working.MarkRejected(ctx, rejectBatch); err != nil {
				return errors.Wrap(err, "instrument: could not mark BEFORE readings")
			}
		}
		rejectBatch = rejectBatch[:0]
		return nil
	}

	for _, name := range names {
		readings, err := p.Working.UnresolvedInstrumentReadings(ctx, name)
		if err != nil {
			return result, errors.Wrapf(err, "instrument: could not load readings for %s", name)
		}

		for _, r := range readings {
			mac, ok, err := p.Reference.NameToMac(ctx, name, r.Timestamp)
			if err != nil {
				return result, errors.Wrapf(err, "instrument: could not resolve mac for %s", name)
			}
			if !ok {
				rejectBatch = append(rejectBatch, types.RejectedMark{Key: r.Key(), Reason: types.Before})
				result.Before++
				if len(rejectBatch) >= instrumentBatchSize {
					if err := flushRejects(); err != nil {
						return result, err
					}
				}
				continue
			}

			tessID, err := p.Reference.TessIDForMac(ctx, mac, r.Timestamp)
			if err != nil {
				return result, errors.Wrapf(err, "instrument: could not resolve tess_id for mac %s", mac)
			}

			if !p.Options.Test {
				if err := p.Working.SetTessID(ctx, r.Key(), tessID); err != nil {
					return result, errors.Wrapf(err, "instrument: could not set tess_id for %s", name)
				}
			}
			resolvedCount++
		}
	}
	if err := flushRejects(); err != nil {
		return result, err
	}
	result.Resolved = resolvedCount

	log.WithFields(log.Fields{
		"stage":    "instrument",
		"resolved": result.Resolved,
		"before":   result.Before,
	}).Info("instrument resolution complete")
	return result, nil
}
