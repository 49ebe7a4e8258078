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
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/intel/latency-manager/pkg/config"
)

func TestSamplingIdempotency(t *testing.T) {
	for _, tc := range []Sampling{
		Disabled,
		Testing,
		Production,
		0.2, 0.25, 0.5, 0.75, 0.8,
	} {
		var chk Sampling
		require.NoError(t, chk.Parse(tc.String()))
		require.Equal(t, tc, chk, "sampling %q", tc)
	}

	var s Sampling
	require.Error(t, s.Parse("sometimes"))
	require.NoError(t, s.UnmarshalJSON([]byte(`"production"`)))
	require.Equal(t, Production, s)
	require.NoError(t, s.UnmarshalJSON([]byte(`0.5`)))
	require.Equal(t, Sampling(0.5), s)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		modify  func(o *options)
		invalid bool
	}{
		{name: "defaults", modify: func(*options) {}},
		{
			name:    "sampling out of range",
			modify:  func(o *options) { o.Sampling = 2 },
			invalid: true,
		},
		{
			name:   "endpoint",
			modify: func(o *options) { o.HTTPEndpoint = "127.0.0.1:8891"; o.PrometheusExport = true },
		},
		{
			name:    "endpoint without port",
			modify:  func(o *options) { o.HTTPEndpoint = "localhost" },
			invalid: true,
		},
		{
			name:    "export without endpoint",
			modify:  func(o *options) { o.PrometheusExport = true },
			invalid: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			o := &options{}
			o.Reset()
			tc.modify(o)
			if tc.invalid {
				require.Error(t, o.Validate())
			} else {
				require.NoError(t, o.Validate())
			}
		})
	}
}

func TestEnvironmentDefaults(t *testing.T) {
	t.Setenv(envPrefix+"SAMPLING", "production")
	t.Setenv(envPrefix+"HTTP_ENDPOINT", ":9000")
	t.Setenv(envPrefix+"REPORT_PERIOD", "bogus")

	o := &options{}
	o.Reset()
	require.Equal(t, Production, o.Sampling)
	require.Equal(t, ":9000", o.HTTPEndpoint)
	require.Equal(t, config.Duration(defaultReportPeriod), o.ReportPeriod, "invalid value ignored")
}

func TestPrometheusConfiguration(t *testing.T) {
	saved := *opt
	defer func() { *opt = saved }()

	opt.HTTPEndpoint = "127.0.0.1:0"
	opt.PrometheusExport = false

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instrumentation_test_total",
		Help: "test counter",
	})
	reg := prometheus.NewRegistry()
	reg.MustRegister(counter)
	RegisterGatherer(reg)

	s := newService()
	require.NoError(t, s.Start())
	defer s.Stop()

	address := s.http.GetAddress()
	opt.HTTPEndpoint = address

	checkPrometheus(t, address, false)

	opt.PrometheusExport = true
	require.NoError(t, s.reconfigure())
	checkPrometheus(t, address, true)

	opt.PrometheusExport = false
	require.NoError(t, s.reconfigure())
	checkPrometheus(t, address, false)
}

func checkPrometheus(t *testing.T, server string, exported bool) {
	rpl, err := http.Get("http://" + server + PrometheusMetricsPath)
	require.NoError(t, err)
	defer rpl.Body.Close()

	if !exported {
		require.Equal(t, http.StatusNotFound, rpl.StatusCode)
		return
	}

	require.Equal(t, http.StatusOK, rpl.StatusCode)
	body, err := io.ReadAll(rpl.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "instrumentation_test_total")
}
