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

// Package workingpool opens and queries the mutable working store
// described in spec.md §3/§6. It is always a CockroachDB or PostgreSQL
// compatible cluster, reached through pgx/v5, grounded on the teacher's
// stdpool.OpenMySQLAsTarget shape but adapted to pgxpool.
package workingpool

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rgz-obs/tessdb-import/internal/store/schema"
	"github.com/rgz-obs/tessdb-import/internal/types"
	"github.com/rgz-obs/tessdb-import/internal/util/stopper"
)

// Open connects to connString as the working store, registers a
// shutdown hook on ctx that closes the pool once the stopper is
// stopping, and reports the cluster's product and version.
func Open(ctx *stopper.Context, connString string) (*types.WorkingPool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: invalid connection string")
	}
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "workingpool: could not create pool")
	}

	ret := &types.WorkingPool{
		Pool: pool,
		PoolInfo: types.PoolInfo{
			ConnectionString: connString,
			Product:          types.ProductCockroachDB,
		},
	}

	ctx.Go(func() error {
		<-ctx.Stopping()
		ret.Pool.Close()
		return nil
	})

	if err := ret.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "workingpool: could not ping working store")
	}
	if err := ret.QueryRow(ctx, "SELECT version()").Scan(&ret.Version); err != nil {
		return nil, errors.Wrap(err, "workingpool: could not query version")
	}
	log.Infof("workingpool: connected (%s)", ret.Version)

	return ret, nil
}

// EnsureSchema applies schema.Statements idempotently.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema.Statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "workingpool: could not apply schema statement: %s", stmt)
		}
	}
	return nil
}
