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
	"sync"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
	logger "github.com/intel/latency-manager/pkg/log"
)

// Slot holds the active strategy of an engine. A strategy set while a call
// is in progress takes over from the next call on.
type Slot struct {
	sync.Mutex
	logger.Logger
	active    Strategy
	pending   Strategy
	switching bool
}

// NewSlot creates a slot with the given initial strategy, which may be nil.
func NewSlot(s Strategy) *Slot {
	return &Slot{
		Logger: logger.NewLogger("scheduler"),
		active: s,
	}
}

// Set sets the strategy for the next invocation. A nil strategy clears the
// slot, turning scheduling off.
func (s *Slot) Set(strategy Strategy) {
	s.Lock()
	defer s.Unlock()
	s.pending, s.switching = strategy, true
	if strategy != nil {
		s.Info("switching to scheduler strategy %s", strategy.Name())
	} else {
		s.Info("clearing scheduler strategy")
	}
}

// SetByName creates the named strategy and sets it for the next invocation.
// An unknown name is rejected and the current strategy kept.
func (s *Slot) SetByName(name string, opts *Options) error {
	strategy, err := Create(name, opts)
	if err != nil {
		return err
	}
	s.Set(strategy)
	return nil
}

// Strategy returns the strategy of the next invocation.
func (s *Slot) Strategy() Strategy {
	s.Lock()
	defer s.Unlock()
	return s.current()
}

// RunAll runs the strategy for all processes.
func (s *Slot) RunAll(procs Processes) error {
	strategy := s.activate()
	if strategy == nil {
		return nil
	}
	return strategy.RunAll(procs)
}

// RunOne runs the strategy for a single process.
func (s *Slot) RunOne(procs Processes, p *process.Process) error {
	strategy := s.activate()
	if strategy == nil {
		return nil
	}
	return strategy.RunOne(procs, p)
}

// SetConfig activates a named configuration of the strategy. An unknown
// configuration is rejected and the current one kept.
func (s *Slot) SetConfig(name string) error {
	s.Lock()
	defer s.Unlock()
	strategy := s.current()
	if strategy == nil {
		return schedulerError("no strategy to configure")
	}
	return strategy.SetConfig(name)
}

// GetConfig returns the active configuration of the strategy.
func (s *Slot) GetConfig() string {
	s.Lock()
	defer s.Unlock()
	if strategy := s.current(); strategy != nil {
		return strategy.GetConfig()
	}
	return ""
}

// ListConfigs lists the configurations of the strategy.
func (s *Slot) ListConfigs() []ConfigInfo {
	s.Lock()
	defer s.Unlock()
	if strategy := s.current(); strategy != nil {
		return strategy.ListConfigs()
	}
	return nil
}

// activate promotes a pending strategy and returns the one to run.
func (s *Slot) activate() Strategy {
	s.Lock()
	defer s.Unlock()
	if s.switching {
		s.active, s.pending, s.switching = s.pending, nil, false
		if s.active != nil {
			s.Info("activated scheduler strategy %s", s.active.Name())
		}
	}
	return s.active
}

func (s *Slot) current() Strategy {
	if s.switching {
		return s.pending
	}
	return s.active
}
