// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/intel/latency-manager/pkg/config"
	"github.com/intel/latency-manager/pkg/instrumentation"
	latencymgr "github.com/intel/latency-manager/pkg/latency-manager"
	"github.com/intel/latency-manager/pkg/latency-manager/filter"
	"github.com/intel/latency-manager/pkg/latency-manager/scheduler"
	logger "github.com/intel/latency-manager/pkg/log"
	_ "github.com/intel/latency-manager/pkg/version"

	// Pull in builtin filters, scheduler strategies and metrics collectors.
	_ "github.com/intel/latency-manager/pkg/latency-manager/filter/builtin/expiry"
	_ "github.com/intel/latency-manager/pkg/latency-manager/filter/builtin/kernel"
	_ "github.com/intel/latency-manager/pkg/latency-manager/scheduler/builtin/native"
	_ "github.com/intel/latency-manager/pkg/latency-manager/scheduler/builtin/none"
	_ "github.com/intel/latency-manager/pkg/metrics/register"
)

var (
	listSchedulers = flag.Bool("list-schedulers", false, "List the available scheduler strategies and exit.")
	listFilters    = flag.Bool("list-filters", false, "List the available builtin filters and exit.")
	configHelp     = flag.Bool("config-help", false, "Describe the configuration and exit.")
	once           = flag.Bool("once", false, "Run a single iteration and exit.")
)

func main() {
	log := logger.Default()

	flag.Parse()

	if len(flag.Args()) != 0 {
		log.Error("unknown command-line arguments: %s", strings.Join(flag.Args(), ","))
		flag.Usage()
		os.Exit(1)
	}

	switch {
	case *listSchedulers:
		for _, s := range scheduler.Strategies() {
			fmt.Printf("%s: %s\n", s.Name(), s.Description())
		}
		return
	case *listFilters:
		for _, f := range filter.Builtins() {
			fmt.Printf("%s: %s\n", f.Name(), f.Description())
		}
		return
	case *configHelp:
		fmt.Println(config.Describe())
		return
	}

	m, err := latencymgr.NewLatencyManager()
	if err != nil {
		log.Fatal("failed to create latency manager instance: %v", err)
	}

	if *once {
		if err := m.RunOnce(context.Background()); err != nil {
			log.Fatal("%v", err)
		}
		return
	}

	if err := instrumentation.Start(); err != nil {
		log.Fatal("failed to set up instrumentation: %v", err)
	}
	defer instrumentation.Stop()

	if err := m.Start(); err != nil {
		log.Fatal("failed to start latency manager: %v", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		log.Info("received signal %v, exiting...", sig)
		m.Stop()
	case err := <-m.Failed():
		m.Stop()
		instrumentation.Stop()
		log.Fatal("%v", err)
	}
}
