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

package instrumentation

import (
	"sync"

	"github.com/intel/latency-manager/pkg/instrumentation/http"
)

// service is the state of our instrumentation services.
type service struct {
	sync.RWMutex
	http    *http.Server // HTTP endpoint for /metrics and introspection
	tracing *tracing     // Jaeger trace exporter
	metrics *metrics     // Prometheus metrics exporter
	running bool
}

// newService creates an instance of our instrumentation services.
func newService() *service {
	return &service{
		http:    http.NewServer(),
		tracing: &tracing{},
		metrics: &metrics{},
	}
}

func currentTraceConfig() traceConfig {
	return traceConfig{
		agent:     opt.JaegerAgent,
		collector: opt.JaegerCollector,
		sampling:  opt.Sampling,
	}
}

// Start starts instrumentation services.
func (s *service) Start() error {
	log.Info("starting instrumentation services...")

	s.Lock()
	defer s.Unlock()

	if err := s.http.Start(opt.HTTPEndpoint); err != nil {
		return instrumentationError("failed to start HTTP server: %v", err)
	}
	if err := s.tracing.start(currentTraceConfig()); err != nil {
		s.http.Stop()
		return instrumentationError("failed to start tracing: %v", err)
	}
	err := s.metrics.start(s.http.GetMux(), opt.ReportPeriod.Duration(), opt.PrometheusExport)
	if err != nil {
		s.tracing.stop()
		s.http.Stop()
		return instrumentationError("failed to start metrics: %v", err)
	}

	s.running = true
	return nil
}

// Stop stops instrumentation services.
func (s *service) Stop() {
	s.Lock()
	defer s.Unlock()

	if !s.running {
		return
	}

	s.metrics.stop()
	s.tracing.stop()
	s.http.Stop()
	s.running = false
}

// reconfigure takes the current options into use if we are running.
func (s *service) reconfigure() error {
	s.Lock()
	defer s.Unlock()

	if !s.running {
		return nil
	}

	if err := s.http.Reconfigure(opt.HTTPEndpoint); err != nil {
		return instrumentationError("failed to reconfigure HTTP server: %v", err)
	}
	if err := s.tracing.reconfigure(currentTraceConfig()); err != nil {
		return instrumentationError("failed to reconfigure tracing: %v", err)
	}
	err := s.metrics.reconfigure(s.http.GetMux(), opt.ReportPeriod.Duration(), opt.PrometheusExport)
	if err != nil {
		return instrumentationError("failed to reconfigure metrics: %v", err)
	}
	return nil
}

// Restart restarts instrumentation services.
func (s *service) Restart() error {
	s.Stop()
	return s.Start()
}

// TracingEnabled returns true if traces are exported and sampled.
func (s *service) TracingEnabled() bool {
	s.RLock()
	defer s.RUnlock()

	return s.tracing.exporter != nil && float64(s.tracing.config.sampling) > 0.0
}
