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

// Package metrics holds shared Prometheus bucket/label definitions so
// every pipeline stage's metrics vectors look the same, grounded on
// the teacher's internal/staging/stage/metrics.go.
package metrics

// LatencyBuckets covers the range from single-row updates to
// multi-minute full-table stage runs.
var LatencyBuckets = []float64{
	.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// StageLabels is the label set attached to every per-stage metric:
// which stage ran. The photometer name filter is not a label.
var StageLabels = []string{"stage"}
