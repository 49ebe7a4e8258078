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
	"encoding/json"
	"strconv"
	"strings"

	"go.opencensus.io/trace"
)

// Sampling is the probability of sampling a trace.
type Sampling float64

const (
	// Disabled turns tracing off.
	Disabled Sampling = 0.0
	// Production samples a tenth of all traces.
	Production Sampling = 0.1
	// Testing samples every trace.
	Testing Sampling = 1.0
)

var samplingNames = map[Sampling]string{
	Disabled:   "disabled",
	Production: "production",
	Testing:    "testing",
}

// Parse sets the sampling from a symbolic name or a probability.
func (s *Sampling) Parse(value string) error {
	value = strings.ToLower(strings.TrimSpace(value))
	for v, name := range samplingNames {
		if name == value {
			*s = v
			return nil
		}
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return instrumentationError("invalid sampling %q: %v", value, err)
	}
	*s = Sampling(f)
	return nil
}

// String returns the symbolic name of the sampling, or its probability.
func (s Sampling) String() string {
	if name, ok := samplingNames[s]; ok {
		return name
	}
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// MarshalJSON marshals the sampling as a string.
func (s Sampling) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts both symbolic and numeric samplings.
func (s *Sampling) UnmarshalJSON(raw []byte) error {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		*s = Sampling(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return instrumentationError("invalid sampling %s", string(raw))
	}
	return s.Parse(str)
}

// Sampler returns the trace sampler for the sampling.
func (s Sampling) Sampler() trace.Sampler {
	if s <= Disabled {
		return trace.NeverSample()
	}
	return trace.ProbabilitySampler(float64(s))
}
