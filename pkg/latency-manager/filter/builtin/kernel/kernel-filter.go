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

package kernel

import (
	"github.com/intel/latency-manager/pkg/latency-manager/filter"
	"github.com/intel/latency-manager/pkg/latency-manager/process"
)

const (
	// FilterName is the symbol used to pull us in as a builtin filter.
	FilterName = "kernel-threads"
	// FilterDescription is a short description of this filter.
	FilterDescription = "Marks kernel threads and stops looking at them."
	// FlagName is the name of the flag kernel threads are marked with.
	FlagName = "kernel"
)

type kernel struct{}

var (
	_ filter.Filter  = &kernel{}
	_ filter.Checker = &kernel{}
)

// CreateKernelFilter creates a new filter instance.
func CreateKernelFilter(*filter.Options) filter.Filter {
	return &kernel{}
}

func (k *kernel) Name() string {
	return FilterName
}

func (k *kernel) Type() filter.Type {
	return filter.TypeNative
}

// Check lets kthreadd and its children through.
func (k *kernel) Check(p *process.Process) bool {
	return p.Pid() == process.KThreadd || p.Ppid() == process.KThreadd
}

// Callback flags the kernel thread. kthreadd itself only stops, so that
// its children are looked at in the same pass.
func (k *kernel) Callback(p *process.Process) (filter.Result, error) {
	if p.FindFlag(FlagName, FilterName) == nil {
		p.AddFlag(&process.Flag{
			Source: FilterName,
			Name:   FlagName,
			Reason: "kernel thread",
		})
	}
	if p.Pid() == process.KThreadd {
		return filter.Stop, nil
	}
	return filter.Stop | filter.SkipSubtree, nil
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
	filter.Register(Implementation(CreateKernelFilter))
}
