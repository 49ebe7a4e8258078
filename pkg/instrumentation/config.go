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
	"net"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intel/latency-manager/pkg/config"
	"github.com/intel/latency-manager/pkg/utils"
)

const (
	// ConfigPath is the configuration path of instrumentation.
	ConfigPath = "instrumentation"
	// envPrefix prefixes environment variables overriding defaults.
	envPrefix = "LATENCY_MANAGER_"
	// defaultReportPeriod is the default opencensus view reporting period.
	defaultReportPeriod = 15 * time.Second
)

// options is the instrumentation configuration.
type options struct {
	// Sampling is the trace sampling probability.
	Sampling Sampling `json:"sampling"`
	// ReportPeriod is the opencensus view reporting period.
	ReportPeriod config.Duration `json:"reportPeriod"`
	// JaegerCollector is the URL of a Jaeger HTTP Thrift collector.
	JaegerCollector string `json:"jaegerCollector,omitempty"`
	// JaegerAgent is the address of a Jaeger agent.
	JaegerAgent string `json:"jaegerAgent,omitempty"`
	// HTTPEndpoint is the address the introspection and metrics server listens on.
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
	// PrometheusExport enables serving /metrics.
	PrometheusExport bool `json:"prometheusExport"`
}

var opt = &options{}

// envDefault is a default which can be overridden from the environment.
type envDefault struct {
	name  string
	parse func(o *options, value string) error
}

var envDefaults = []envDefault{
	{"JAEGER_COLLECTOR", func(o *options, v string) error { o.JaegerCollector = v; return nil }},
	{"JAEGER_AGENT", func(o *options, v string) error { o.JaegerAgent = v; return nil }},
	{"HTTP_ENDPOINT", func(o *options, v string) error { o.HTTPEndpoint = v; return nil }},
	{"SAMPLING", func(o *options, v string) error { return o.Sampling.Parse(v) }},
	{"PROMETHEUS_EXPORT", func(o *options, v string) error {
		enabled, err := utils.ParseEnabled(v)
		o.PrometheusExport = enabled
		return err
	}},
	{"REPORT_PERIOD", func(o *options, v string) error {
		d, err := time.ParseDuration(v)
		o.ReportPeriod = config.Duration(d)
		return err
	}},
}

// Reset resets the configuration to its defaults, applying any overrides
// found in the environment.
func (o *options) Reset() {
	*o = options{
		Sampling:     Disabled,
		ReportPeriod: config.Duration(defaultReportPeriod),
	}
	for _, d := range envDefaults {
		name := envPrefix + d.name
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			continue
		}
		saved := *o
		if err := d.parse(o, value); err != nil {
			log.Error("ignoring invalid environment %s=%q: %v", name, value, err)
			*o = saved
		}
	}
}

// Describe describes the instrumentation configuration.
func (o *options) Describe() string {
	return "Tracing with Jaeger, Prometheus metrics and the HTTP endpoint serving " +
		"metrics and process introspection. Defaults can be overridden with " +
		envPrefix + "* environment variables."
}

// Validate checks the instrumentation configuration.
func (o *options) Validate() error {
	var errs *multierror.Error

	if o.Sampling < 0 || o.Sampling > 1 {
		errs = multierror.Append(errs, errors.Errorf("invalid sampling %v", o.Sampling))
	}
	if o.ReportPeriod < 0 {
		errs = multierror.Append(errs, errors.Errorf("invalid report period %v", o.ReportPeriod))
	}
	if o.HTTPEndpoint != "" {
		if _, _, err := net.SplitHostPort(o.HTTPEndpoint); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "invalid HTTP endpoint"))
		}
	}
	if o.PrometheusExport && o.HTTPEndpoint == "" {
		errs = multierror.Append(errs, errors.New("prometheus export needs an HTTP endpoint"))
	}

	return errs.ErrorOrNil()
}

// configNotify applies configuration updates.
func configNotify(event config.Event, _ config.Source) error {
	log.Info("configuration %s: %+v", event, *opt)

	if err := svc.reconfigure(); err != nil {
		log.Error("failed to reconfigure: %v", err)
	}

	return nil
}

func init() {
	config.MustRegister(ConfigPath, opt, config.WithNotify(configNotify))
}
