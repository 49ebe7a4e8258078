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

package filter

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
	logger "github.com/intel/latency-manager/pkg/log"
)

// Options are passed to builtin filters when they are created.
type Options struct {
	// Now returns the current time.
	Now func() time.Time
	// Lookup returns the resident process with the given pid, or nil. It
	// is only usable while the filter is being run.
	Lookup func(pid int) *process.Process
}

// CreateFn is the type for functions used to create a builtin filter instance.
type CreateFn func(*Options) Filter

// Implementation attaches metadata to a builtin filter creation function.
type Implementation interface {
	// Name returns the well-known name of the filter.
	Name() string
	// Description returns a verbose description of the filter.
	Description() string
	// CreateFn creates an instance of the filter.
	CreateFn() CreateFn
}

var builtins = struct {
	sync.RWMutex
	impls map[string]Implementation
}{
	impls: map[string]Implementation{},
}

// Register registers a builtin filter implementation.
func Register(impl Implementation) error {
	log := logger.Get("filter")
	name := impl.Name()

	if impl.CreateFn() == nil {
		return filterError("filter %q has a nil instantiation function", name)
	}

	builtins.Lock()
	defer builtins.Unlock()

	if _, ok := builtins.impls[name]; ok {
		return filterError("filter %q already registered", name)
	}

	log.Info("registering builtin filter %q...", name)
	builtins.impls[name] = impl

	return nil
}

// Builtins returns the registered builtin filter implementations by name.
func Builtins() []Implementation {
	builtins.RLock()
	defer builtins.RUnlock()

	names := make([]string, 0, len(builtins.impls))
	for name := range builtins.impls {
		names = append(names, name)
	}
	sort.Strings(names)

	impls := make([]Implementation, 0, len(names))
	for _, name := range names {
		impls = append(impls, builtins.impls[name])
	}
	return impls
}

// Create creates an instance of the named builtin filter.
func Create(name string, opts *Options) (Filter, error) {
	builtins.RLock()
	impl, ok := builtins.impls[name]
	builtins.RUnlock()

	if !ok {
		return nil, filterError("unknown builtin filter %q", name)
	}
	if opts == nil {
		opts = &Options{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Lookup == nil {
		opts.Lookup = func(int) *process.Process { return nil }
	}

	return impl.CreateFn()(opts), nil
}

// filterError returns a package-specific formatted error.
func filterError(format string, args ...interface{}) error {
	return fmt.Errorf("filter: "+format, args...)
}
