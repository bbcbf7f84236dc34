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

// Package referencepool opens the read-only reference store described
// in spec.md §6. Unlike the working store, the reference store may speak
// any of three wire dialects depending on the fleet operator's existing
// observational database, so Open dispatches on the connection string's
// URL scheme the way the teacher's stdpool package provides one Open*
// function per target dialect.
package referencepool

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/go-sql-driver/mysql" // register driver
	_ "github.com/lib/pq"              // register driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rgz-obs/tessdb-import/internal/types"
	"github.com/rgz-obs/tessdb-import/internal/util/stopper"
)

// Open connects to connString as the reference store, dispatching on
// scheme: "postgres"/"postgresql"/"redshift" opens via lib/pq (Redshift-compatible
// clusters speak the Postgres wire protocol but not all of pgx v5's
// extended features, per SPEC_FULL.md's DOMAIN STACK table), "mysql"
// opens via go-sql-driver/mysql.
func Open(ctx *stopper.Context, connString string) (*types.ReferencePool, error) {
	u, err := url.Parse(connString)
	if err != nil {
		return nil, errors.Wrap(err, "referencepool: invalid connection string")
	}

	var driver string
	var dsn string
	var product types.Product
	switch u.Scheme {
	case "postgres", "postgresql", "redshift":
		driver = "postgres"
		dsn = connString
		product = types.ProductRedshift
	case "mysql":
		driver = "mysql"
		path := "/"
		if u.Path != "" {
			path = u.Path
		}
		dsn = fmt.Sprintf("%s@tcp(%s)%s?%s", u.User.String(), u.Host, path, "sql_mode=ansi")
		product = types.ProductMySQL
	default:
		return nil, errors.Errorf("referencepool: unsupported scheme %q", u.Scheme)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "referencepool: could not open connection")
	}

	ret := &types.ReferencePool{
		DB: db,
		PoolInfo: types.PoolInfo{
			ConnectionString: connString,
			Product:          product,
		},
	}

	ctx.Go(func() error {
		<-ctx.Stopping()
		if err := ret.Close(); err != nil {
			log.WithError(errors.WithStack(err)).Warn("referencepool: could not close connection")
		}
		return nil
	})

	if err := ret.Ping(); err != nil {
		return nil, errors.Wrap(err, "referencepool: could not ping reference store")
	}
	if err := ret.QueryRow(versionQuery(product)).Scan(&ret.Version); err != nil {
		return nil, errors.Wrap(err, "referencepool: could not query version")
	}
	log.Infof("referencepool: connected to %s (%s)", product, ret.Version)

	return ret, nil
}

func versionQuery(p types.Product) string {
	if p == types.ProductMySQL {
		return "SELECT VERSION()"
	}
	return "SELECT version()"
}
