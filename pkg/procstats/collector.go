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

package procstats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"

	"github.com/intel/latency-manager/pkg/metrics"
)

// Prometheus Metric descriptor indices and descriptor table
const (
	loadAverageDesc = iota
	procsRunningDesc
	procsBlockedDesc
	numDescriptors // descriptors total
)

var descriptors = [numDescriptors]*prometheus.Desc{
	loadAverageDesc: prometheus.NewDesc(
		"host_load_average",
		"System load average",
		[]string{
			"window",
		}, nil,
	),
	procsRunningDesc: prometheus.NewDesc(
		"host_procs_running",
		"Number of runnable processes",
		nil, nil,
	),
	procsBlockedDesc: prometheus.NewDesc(
		"host_procs_blocked",
		"Number of processes blocked on I/O",
		nil, nil,
	),
}

type collector struct {
	root string
}

// NewCollector creates new Prometheus collector of host load.
func NewCollector() (prometheus.Collector, error) {
	return &collector{root: DefaultProcRoot}, nil
}

// Describe implements prometheus.Collector interface
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector interface
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	fs, err := procfs.NewFS(c.root)
	if err != nil {
		log.Error("failed to open %s: %v", c.root, err)
		return
	}

	if load, err := fs.LoadAvg(); err != nil {
		log.Error("failed to read load average: %v", err)
	} else {
		for window, value := range map[string]float64{
			"1m":  load.Load1,
			"5m":  load.Load5,
			"15m": load.Load15,
		} {
			ch <- prometheus.MustNewConstMetric(
				descriptors[loadAverageDesc],
				prometheus.GaugeValue,
				value,
				window,
			)
		}
	}

	if stat, err := fs.Stat(); err != nil {
		log.Error("failed to read system statistics: %v", err)
	} else {
		ch <- prometheus.MustNewConstMetric(
			descriptors[procsRunningDesc],
			prometheus.GaugeValue,
			float64(stat.ProcessesRunning),
		)
		ch <- prometheus.MustNewConstMetric(
			descriptors[procsBlockedDesc],
			prometheus.GaugeValue,
			float64(stat.ProcessesBlocked),
		)
	}
}

func init() {
	err := metrics.RegisterCollector("procstats", NewCollector)
	if err != nil {
		log.Error("failed register procstats collector: %v", err)
	}
}
