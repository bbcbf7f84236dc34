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

// Package schema holds the idempotent DDL for the working store, named
// in spec.md §3 and §6.
package schema

// Statements is executed, in order, against a fresh or pre-existing
// working-store database by workingpool.EnsureSchema. Every statement
// uses IF NOT EXISTS so that re-running it mid-pipeline (spec.md §4.10's
// restart-safety) never fails against an already-initialized store.
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		name             STRING NOT NULL,
		date_id          INT8 NOT NULL,
		time_id          INT8 NOT NULL,
		rank             INT8 NOT NULL,
		sequence_number  INT8 NOT NULL,
		frequency        FLOAT8 NOT NULL,
		magnitude        FLOAT8 NOT NULL,
		ambient_temperature FLOAT8 NOT NULL,
		sky_temperature  FLOAT8 NOT NULL,
		signal_strength  INT8,
		seconds_in_day   INT8 NOT NULL,
		tstamp           TIMESTAMPTZ NOT NULL,
		line_number      INT8 NOT NULL,
		source_path      STRING NOT NULL,
		rejected         INT2,
		tess_id          INT8,
		location_id      INT8,
		units_id         INT8,
		PRIMARY KEY (name, date_id, time_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS readings_name_rank ON readings (name, rank)`,
	`CREATE INDEX IF NOT EXISTS readings_name_rejected_date ON readings (name, rejected, date_id)`,

	`CREATE TABLE IF NOT EXISTS counters (
		name       STRING PRIMARY KEY,
		max_rank   INT8 NOT NULL DEFAULT 0,
		max_tstamp TIMESTAMPTZ NOT NULL DEFAULT '1970-01-01T00:00:00Z'
	)`,

	`CREATE TABLE IF NOT EXISTS differences (
		name      STRING NOT NULL,
		date_id   INT8 NOT NULL,
		time_id   INT8 NOT NULL,
		rank      INT8 NOT NULL,
		delta_seq INT8 NOT NULL,
		delta_t   INT8 NOT NULL,
		period    FLOAT8 NOT NULL,
		n         INT8 NOT NULL,
		control   BOOL NOT NULL DEFAULT false,
		tstamp    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (name, date_id, time_id)
	)`,

	`CREATE TABLE IF NOT EXISTS daily_stats (
		name    STRING NOT NULL,
		date_id INT8 NOT NULL,
		mean    FLOAT8 NOT NULL,
		median  FLOAT8 NOT NULL,
		stddev  FLOAT8 NOT NULL,
		n       INT8 NOT NULL,
		min     FLOAT8 NOT NULL,
		max     FLOAT8 NOT NULL,
		PRIMARY KEY (name, date_id)
	)`,

	`CREATE TABLE IF NOT EXISTS global_stats (
		name   STRING PRIMARY KEY,
		median FLOAT8 NOT NULL,
		n      INT8 NOT NULL,
		method STRING NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS duplicated_readings (
		name            STRING NOT NULL,
		tstamp          TIMESTAMPTZ NOT NULL,
		sequence_number INT8 NOT NULL,
		source_path     STRING NOT NULL,
		line_number     INT8 NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS location_gaps (
		name               STRING NOT NULL,
		start_date_id      INT8 NOT NULL,
		start_time_id      INT8 NOT NULL,
		start_location_id  INT8 NOT NULL,
		end_date_id        INT8 NOT NULL,
		end_time_id        INT8 NOT NULL,
		end_location_id    INT8 NOT NULL,
		readings           INT8 NOT NULL,
		start_site         STRING NOT NULL,
		end_site           STRING NOT NULL
	)`,
}
