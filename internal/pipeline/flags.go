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
)

// flagsSubscriberImported is FLAGS_SUBSCRIBER_IMPORTED, the fixed
// units/flags value spec.md §4.8 stamps on every still-unrejected
// Reading (bit mask value 2).
const flagsSubscriberImported = 2

// FlagsResult summarizes one SetFlags call.
type FlagsResult struct {
	Updated int64
}

// SetFlags implements spec.md §4.8: a single update stamping units_id on
// every still-unrejected Reading, optionally filtered by name.
func (p *Pipeline) SetFlags(ctx context.Context) (FlagsResult, error) {
	if p.Options.Test {
		return FlagsResult{}, nil
	}

	n, err := p.Working.SetUnitsIDForUnrejected(ctx, p.Options.NameOrNil(), flagsSubscriberImported)
	if err != nil {
		return FlagsResult{}, errors.Wrap(err, "flags: could not set units_id")
	}

	log.WithFields(log.Fields{
		"stage":   "flags",
		"updated": n,
	}).Info("flags complete")
	return FlagsResult{Updated: n}, nil
}
