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

package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus Metric descriptor indices and descriptor table
const (
	iterationsDesc = iota
	failuresDesc
	processesDesc
	changesDesc
	schedulingErrorsDesc
	durationDesc
	filterDesc
	numDescriptors
)

var descriptors = [numDescriptors]*prometheus.Desc{
	iterationsDesc: prometheus.NewDesc(
		"latency_manager_iterations_total",
		"Number of iterations started",
		nil, nil,
	),
	failuresDesc: prometheus.NewDesc(
		"latency_manager_iteration_failures_total",
		"Number of iterations aborted",
		nil, nil,
	),
	processesDesc: prometheus.NewDesc(
		"latency_manager_processes",
		"Number of processes known, by state",
		[]string{
			"state",
		}, nil,
	),
	changesDesc: prometheus.NewDesc(
		"latency_manager_process_changes_total",
		"Number of changes to the process model, by kind",
		[]string{
			"kind",
		}, nil,
	),
	schedulingErrorsDesc: prometheus.NewDesc(
		"latency_manager_scheduling_errors_total",
		"Number of failed scheduler invocations",
		nil, nil,
	),
	durationDesc: prometheus.NewDesc(
		"latency_manager_iteration_duration_seconds",
		"Duration of the last iteration",
		nil, nil,
	),
	filterDesc: prometheus.NewDesc(
		"latency_manager_filter_events_total",
		"Number of filter events, by filter and event",
		[]string{
			"filter",
			"id",
			"event",
		}, nil,
	),
}

type collector struct {
	e *Engine
}

// NewCollector creates a Prometheus collector for the statistics of the engine.
func NewCollector(e *Engine) prometheus.Collector {
	return &collector{e: e}
}

// Describe implements prometheus.Collector interface
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector interface
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.e.Stats()
	filters := c.e.Filters()

	counter := func(desc int, value uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(descriptors[desc],
			prometheus.CounterValue, float64(value), labels...)
	}
	gauge := func(desc int, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(descriptors[desc],
			prometheus.GaugeValue, value, labels...)
	}

	counter(iterationsDesc, stats.Iterations)
	counter(failuresDesc, stats.Failures)
	counter(schedulingErrorsDesc, stats.SchedulingErrors)
	gauge(durationDesc, stats.LastDuration.Seconds())

	gauge(processesDesc, float64(stats.Processes), "resident")
	gauge(processesDesc, float64(stats.Attached), "attached")
	gauge(processesDesc, float64(stats.Deferred), "deferred")
	gauge(processesDesc, float64(stats.Retired), "retired")

	counter(changesDesc, stats.Added, "added")
	counter(changesDesc, stats.Removed, "removed")
	counter(changesDesc, stats.Rebuilds, "rebuild")

	// names are for humans, ids keep the series of same-named filters apart
	for _, f := range filters {
		name, id := f.Name, strconv.FormatUint(uint64(f.ID), 10)
		for event, value := range map[string]uint64{
			"pass":       f.Stats.Passes,
			"skipped":    f.Stats.Skipped,
			"evaluation": f.Stats.Evaluations,
			"cached":     f.Stats.Cached,
			"gated":      f.Stats.Gated,
			"blocked":    f.Stats.Blocked,
			"decision":   f.Stats.Decisions,
			"error":      f.Stats.Errors,
		} {
			counter(filterDesc, value, name, id, event)
		}
	}
}
