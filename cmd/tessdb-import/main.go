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

// Command tessdb-import wires the pipeline stage registry to a minimal
// flag-driven entry point. Dispatch itself (argument parsing into a
// stage name, interactive REPL behavior) is an out-of-scope
// collaborator per spec.md §1; this binary only has to exercise the
// registry and the two store adapters end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/rgz-obs/tessdb-import/internal/pipeline"
	"github.com/rgz-obs/tessdb-import/internal/store/referencepool"
	"github.com/rgz-obs/tessdb-import/internal/store/workingpool"
	"github.com/rgz-obs/tessdb-import/internal/util/stopper"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.WithError(err).Fatal("tessdb-import: fatal error")
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("tessdb-import", pflag.ContinueOnError)
	workingDSN := flags.String("working-dsn", "", "connection string for the working store (CockroachDB/PostgreSQL)")
	referenceDSN := flags.String("reference-dsn", "", "connection string for the reference store (postgres://, redshift://, or mysql://)")
	ensureSchema := flags.Bool("ensure-schema", false, "apply idempotent DDL to the working store before running the stage")

	var opts pipeline.Options
	opts.Bind(flags)

	if err := flags.Parse(args); err != nil {
		return err
	}
	stage := flags.Arg(0)
	if stage == "" {
		return errors.Errorf("tessdb-import: usage: tessdb-import [flags] <stage>\nknown stages: %s", knownStages())
	}
	if *workingDSN == "" || *referenceDSN == "" {
		return errors.New("tessdb-import: --working-dsn and --reference-dsn are required")
	}

	signalCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	ctx := stopper.New(signalCtx)
	defer ctx.Stop()

	workingPool, err := workingpool.Open(ctx, *workingDSN)
	if err != nil {
		return err
	}
	referencePool, err := referencepool.Open(ctx, *referenceDSN)
	if err != nil {
		return err
	}

	workingStore := workingpool.New(workingPool)
	if *ensureSchema {
		if err := workingStore.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	referenceStore := referencepool.New(referencePool, referencePool.Product)

	p, err := pipeline.ProvideContext(workingStore, referenceStore, opts)
	if err != nil {
		return err
	}

	result, err := pipeline.Run(ctx, stage, p)
	if err != nil {
		return errors.Wrapf(err, "tessdb-import: stage %q failed", stage)
	}
	fmt.Printf("%s: %+v\n", stage, result)
	return nil
}

func knownStages() string {
	names := make([]string, 0, len(pipeline.Registry))
	for name := range pipeline.Registry {
		names = append(names, name)
	}
	return fmt.Sprintf("%v", names)
}
