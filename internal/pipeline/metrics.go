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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rgz-obs/tessdb-import/internal/util/metrics"
)

var (
	stageDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "the length of time a pipeline stage took to run",
		Buckets: metrics.LatencyBuckets,
	}, metrics.StageLabels)
	stageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_errors_total",
		Help: "the number of times a pipeline stage aborted with an error",
	}, metrics.StageLabels)
)

// observeStage times fn and records its outcome against name's metric
// vectors, the way the teacher's stage package wraps its retire/select/
// store calls.
func observeStage(name string, fn func() error) error {
	timer := prometheus.NewTimer(stageDurations.WithLabelValues(name))
	defer timer.ObserveDuration()

	if err := fn(); err != nil {
		stageErrors.WithLabelValues(name).Inc()
		return err
	}
	return nil
}
