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
	"os"

	"contrib.go.opencensus.io/exporter/jaeger"
	"go.opencensus.io/trace"

	"github.com/intel/latency-manager/pkg/version"
)

// jaegerExporter is used in log messages.
const jaegerExporter = "Jaeger trace exporter"

// traceConfig is the part of our options the Jaeger exporter depends on.
type traceConfig struct {
	agent     string
	collector string
	sampling  Sampling
}

// enabled checks if the configuration has anywhere to export traces to.
func (c traceConfig) enabled() bool {
	return c.agent != "" || c.collector != ""
}

// sameEndpoints checks if the configurations export to the same place.
func (c traceConfig) sameEndpoints(o traceConfig) bool {
	return c.agent == o.agent && c.collector == o.collector
}

// tracing encapsulates the state of our Jaeger exporter.
type tracing struct {
	exporter *jaeger.Exporter
	config   traceConfig
}

// processTags describe the exporting daemon in trace data.
func processTags() []jaeger.Tag {
	tags := []jaeger.Tag{
		jaeger.StringTag("version", version.Version),
		jaeger.StringTag("build", version.Build),
		jaeger.Int64Tag("pid", int64(os.Getpid())),
	}
	if host, err := os.Hostname(); err == nil {
		tags = append(tags, jaeger.StringTag("hostname", host))
	}
	return tags
}

// start starts our Jaeger exporter.
func (t *tracing) start(cfg traceConfig) error {
	if !cfg.enabled() {
		log.Info("%s is disabled", jaegerExporter)
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.NeverSample()})
		return nil
	}

	log.Info("creating %s (sampling %s)...", jaegerExporter, cfg.sampling)

	exp, err := jaeger.NewExporter(jaeger.Options{
		CollectorEndpoint: cfg.collector,
		AgentEndpoint:     cfg.agent,
		Process: jaeger.Process{
			ServiceName: ServiceName,
			Tags:        processTags(),
		},
		OnError: func(err error) { log.Error("jaeger error: %v", err) },
	})
	if err != nil {
		return instrumentationError("failed to create %s: %v", jaegerExporter, err)
	}

	t.exporter = exp
	t.config = cfg

	trace.RegisterExporter(t.exporter)
	trace.ApplyConfig(trace.Config{DefaultSampler: cfg.sampling.Sampler()})

	return nil
}

// stop flushes and stops our Jaeger exporter.
func (t *tracing) stop() {
	if t.exporter == nil {
		return
	}

	log.Info("stopping %s...", jaegerExporter)

	trace.UnregisterExporter(t.exporter)
	t.exporter.Flush()
	*t = tracing{}
}

// reconfigure restarts our Jaeger exporter if its endpoints have changed,
// otherwise it only updates the sampling.
func (t *tracing) reconfigure(cfg traceConfig) error {
	if t.exporter != nil && cfg.enabled() && t.config.sameEndpoints(cfg) {
		if t.config.sampling != cfg.sampling {
			log.Info("%s sampling is now %s", jaegerExporter, cfg.sampling)
			t.config.sampling = cfg.sampling
			trace.ApplyConfig(trace.Config{DefaultSampler: cfg.sampling.Sampler()})
		}
		return nil
	}

	t.stop()
	return t.start(cfg)
}
