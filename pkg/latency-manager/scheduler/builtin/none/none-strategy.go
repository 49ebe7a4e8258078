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

package none

import (
	"fmt"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
	"github.com/intel/latency-manager/pkg/latency-manager/scheduler"
	logger "github.com/intel/latency-manager/pkg/log"
)

const (
	// StrategyName is the symbol used to pull us in as a builtin strategy.
	StrategyName = "none"
	// StrategyDescription is a short description of this strategy.
	StrategyDescription = "A no-op strategy, leaving processes alone."
	// DefaultConfig is the only configuration of this strategy.
	DefaultConfig = "default"
)

type none struct {
	logger.Logger
}

var _ scheduler.Strategy = &none{}

// CreateNoneStrategy creates a new strategy instance.
func CreateNoneStrategy(opts *scheduler.Options) (scheduler.Strategy, error) {
	n := &none{Logger: logger.NewLogger(StrategyName)}
	if opts.Config != "" && opts.Config != DefaultConfig {
		return nil, fmt.Errorf("%w %q", scheduler.ErrUnknownConfig, opts.Config)
	}
	n.Info("creating strategy...")
	return n, nil
}

// Name returns the name of this strategy.
func (n *none) Name() string {
	return StrategyName
}

// Description returns the description for this strategy.
func (n *none) Description() string {
	return StrategyDescription
}

// RunAll is a request to adjust all processes.
func (n *none) RunAll(procs scheduler.Processes) error {
	n.Debug("(not) adjusting processes of iteration %d...", procs.Iteration())
	return nil
}

// RunOne is a request to adjust a single process.
func (n *none) RunOne(procs scheduler.Processes, p *process.Process) error {
	n.Debug("(not) adjusting process %s...", p)
	return nil
}

// SetConfig sets the strategy configuration.
func (n *none) SetConfig(name string) error {
	if name != DefaultConfig {
		return fmt.Errorf("%w %q", scheduler.ErrUnknownConfig, name)
	}
	return nil
}

// GetConfig returns the strategy configuration.
func (n *none) GetConfig() string {
	return DefaultConfig
}

// ListConfigs lists the strategy configurations.
func (n *none) ListConfigs() []scheduler.ConfigInfo {
	return []scheduler.ConfigInfo{
		{Name: DefaultConfig, Description: "do nothing"},
	}
}

//
// Automatically register us as a strategy implementation.
//

// Implementation is the implementation we register with the scheduler module.
type Implementation func(*scheduler.Options) (scheduler.Strategy, error)

// Name returns the name of this strategy implementation.
func (i Implementation) Name() string {
	return StrategyName
}

// Description returns the description of this strategy implementation.
func (i Implementation) Description() string {
	return StrategyDescription
}

// CreateFn returns the function used to instantiate this strategy.
func (i Implementation) CreateFn() scheduler.CreateFn {
	return scheduler.CreateFn(i)
}

var _ scheduler.Implementation = Implementation(nil)

func init() {
	scheduler.Register(Implementation(CreateNoneStrategy))
}
