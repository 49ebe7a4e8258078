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

package expiry

import (
	"time"

	"github.com/intel/latency-manager/pkg/latency-manager/filter"
	"github.com/intel/latency-manager/pkg/latency-manager/process"
	logger "github.com/intel/latency-manager/pkg/log"
)

const (
	// FilterName is the symbol used to pull us in as a builtin filter.
	FilterName = "flag-expiry"
	// FilterDescription is a short description of this filter.
	FilterDescription = "Removes flags whose timeout has passed."
)

type expiry struct {
	logger.Logger
	now     func() time.Time
	pass    time.Time
	cleared int
}

var (
	_ filter.Filter      = &expiry{}
	_ filter.Checker     = &expiry{}
	_ filter.PreChecker  = &expiry{}
	_ filter.PostChecker = &expiry{}
)

// CreateExpiryFilter creates a new filter instance.
func CreateExpiryFilter(opts *filter.Options) filter.Filter {
	return &expiry{
		Logger: logger.NewLogger(FilterName),
		now:    opts.Now,
	}
}

func (e *expiry) Name() string {
	return FilterName
}

func (e *expiry) Type() filter.Type {
	return filter.TypeNative
}

// PreCheck takes the time all flags of the pass are checked against.
func (e *expiry) PreCheck() bool {
	e.pass = e.now()
	e.cleared = 0
	return true
}

func (e *expiry) Check(p *process.Process) bool {
	for _, f := range p.Flags() {
		if f.Expired(e.pass) {
			return true
		}
	}
	return false
}

func (e *expiry) Callback(p *process.Process) (filter.Result, error) {
	e.cleared += p.ClearExpiredFlags(e.pass)
	return filter.None, nil
}

func (e *expiry) PostCheck() {
	if e.cleared > 0 {
		e.Debug("cleared %d expired flags", e.cleared)
	}
}

//
// Automatically register us as a builtin filter.
//

// Implementation is the implementation we register with the filter module.
type Implementation func(*filter.Options) filter.Filter

// Name returns the name of this filter implementation.
func (i Implementation) Name() string {
	return FilterName
}

// Description returns the description of this filter implementation.
func (i Implementation) Description() string {
	return FilterDescription
}

// CreateFn returns the function used to instantiate this filter.
func (i Implementation) CreateFn() filter.CreateFn {
	return filter.CreateFn(i)
}

var _ filter.Implementation = Implementation(nil)

func init() {
	filter.Register(Implementation(CreateExpiryFilter))
}
