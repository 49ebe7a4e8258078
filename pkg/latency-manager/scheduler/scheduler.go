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

package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
	logger "github.com/intel/latency-manager/pkg/log"
	"github.com/intel/latency-manager/pkg/sysctl"
)

var (
	// ErrUnknownStrategy is returned for an unregistered strategy name.
	ErrUnknownStrategy = errors.New("unknown scheduler strategy")
	// ErrUnknownConfig is returned for a configuration a strategy does not have.
	ErrUnknownConfig = errors.New("unknown scheduler configuration")
)

// Processes is the view of the process model strategies work on.
type Processes interface {
	// Iteration returns the current iteration number.
	Iteration() uint64
	// Lookup returns the resident process with the given pid, or nil.
	Lookup(pid int) *process.Process
	// Parent returns the parent of a process in the tree, or nil.
	Parent(p *process.Process) *process.Process
	// Walk visits the processes of the tree in pre-order, parents before
	// children, until fn returns false.
	Walk(fn func(p *process.Process) bool)
}

// System is the set of OS adjustment primitives strategies use.
type System interface {
	SetIOPriority(pid int, class sysctl.IOClass, level int) error
	GetIOPriority(pid int) (sysctl.IOClass, int, error)
	SetOOMAdjustment(pid int, value int) error
	GetOOMAdjustment(pid int) (int, error)
	SetNice(pid int, nice int) error
	GetNice(pid int) (int, error)
	// MoveToCgroup moves a process into a group of a cgroup controller.
	MoveToCgroup(pid int, controller, group string) error
	// SetCgroupParameter sets a parameter of a group of a cgroup controller.
	SetCgroupParameter(controller, group, name, value string) error
}

// ConfigInfo describes a named strategy configuration.
type ConfigInfo struct {
	Name        string
	Description string
}

// Strategy turns the flags and state of processes into OS adjustments.
type Strategy interface {
	// Name returns the well-known name of the strategy.
	Name() string
	// Description returns a verbose description of the strategy.
	Description() string
	// RunAll adjusts all processes.
	RunAll(procs Processes) error
	// RunOne adjusts a single, typically newly discovered, process.
	RunOne(procs Processes, p *process.Process) error
	// SetConfig activates a named configuration.
	SetConfig(name string) error
	// GetConfig returns the name of the active configuration.
	GetConfig() string
	// ListConfigs lists the available configurations.
	ListConfigs() []ConfigInfo
}

// Options are passed to strategies when they are created.
type Options struct {
	// System carries out the adjustments.
	System System
	// Config is the name of the initial configuration, the default if empty.
	Config string
}

// CreateFn is the type for functions used to create a strategy instance.
type CreateFn func(*Options) (Strategy, error)

// Implementation is the interface strategies register with.
type Implementation interface {
	// Name returns the well-known name of the strategy.
	Name() string
	// Description returns a verbose description of the strategy.
	Description() string
	// CreateFn creates an instance of the strategy.
	CreateFn() CreateFn
}

var strategies = struct {
	sync.RWMutex
	impls map[string]Implementation
}{
	impls: map[string]Implementation{},
}

// Register registers a strategy implementation.
func Register(impl Implementation) error {
	log := logger.Get("scheduler")
	name := impl.Name()

	if impl.CreateFn() == nil {
		return schedulerError("strategy %q has a nil instantiation function", name)
	}

	strategies.Lock()
	defer strategies.Unlock()

	if _, ok := strategies.impls[name]; ok {
		return schedulerError("strategy %q already registered", name)
	}

	log.Info("registering scheduler strategy %q...", name)
	strategies.impls[name] = impl

	return nil
}

// Strategies returns the registered strategy implementations by name.
func Strategies() []Implementation {
	strategies.RLock()
	defer strategies.RUnlock()

	names := make([]string, 0, len(strategies.impls))
	for name := range strategies.impls {
		names = append(names, name)
	}
	sort.Strings(names)

	impls := make([]Implementation, 0, len(names))
	for _, name := range names {
		impls = append(impls, strategies.impls[name])
	}
	return impls
}

// Create creates an instance of the named strategy.
func Create(name string, opts *Options) (Strategy, error) {
	strategies.RLock()
	impl, ok := strategies.impls[name]
	strategies.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, name)
	}
	if opts == nil {
		opts = &Options{}
	}

	s, err := impl.CreateFn()(opts)
	if err != nil {
		return nil, schedulerError("failed to create strategy %q: %w", name, err)
	}
	return s, nil
}

// schedulerError returns a package-specific formatted error.
func schedulerError(format string, args ...interface{}) error {
	return fmt.Errorf("scheduler: "+format, args...)
}
