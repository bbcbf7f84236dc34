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

//go:build wireinject
// +build wireinject

package pipeline

import (
	"github.com/google/wire"

	"github.com/rgz-obs/tessdb-import/internal/types"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideContext,
	New,
)

// ProvideContext constructs a Pipeline from its two store handles and
// Options, applying Preflight before anything else runs.
func ProvideContext(working types.WorkingStore, reference types.ReferenceStore, opts Options) (*Pipeline, error) {
	panic(wire.Build(Set))
}
