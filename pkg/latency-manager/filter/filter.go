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
	"strings"
	"time"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
)

// Result is the packed outcome of a filter callback. The low 16 bits hold
// a re-check timeout in seconds, the bits above it hold result flags.
type Result uint32

const (
	timeoutBits = 16
	timeoutMask = (1 << timeoutBits) - 1

	// None is the zero result: no decision, nothing is cached.
	None Result = 0
	// Stop permanently stops running the filter for the process.
	Stop Result = 1 << (timeoutBits + 0)
	// SkipSubtree skips the filter for the subtree of the process in this pass.
	SkipSubtree Result = 1 << (timeoutBits + 1)

	// MaxTimeout is the longest re-check timeout a Result can hold.
	MaxTimeout = timeoutMask * time.Second
)

// Timeout returns a Result which suppresses re-running the filter for the
// given duration, rounded up to full seconds and capped at MaxTimeout.
func Timeout(d time.Duration) Result {
	if d <= 0 {
		return None
	}
	secs := (d + time.Second - 1) / time.Second
	if secs > timeoutMask {
		secs = timeoutMask
	}
	return Result(secs)
}

// Timeout returns the re-check timeout of the result.
func (r Result) Timeout() time.Duration {
	return time.Duration(r&timeoutMask) * time.Second
}

// Flags returns the flag bits of the result, shifted down.
func (r Result) Flags() uint32 {
	return uint32(r) >> timeoutBits
}

// IsStop checks if the result has the Stop flag set.
func (r Result) IsStop() bool {
	return r&Stop != 0
}

// IsSkipSubtree checks if the result has the SkipSubtree flag set.
func (r Result) IsSkipSubtree() bool {
	return r&SkipSubtree != 0
}

func (r Result) String() string {
	if r == None {
		return "none"
	}
	parts := []string{}
	if r.IsStop() {
		parts = append(parts, "stop")
	}
	if r.IsSkipSubtree() {
		parts = append(parts, "skip-subtree")
	}
	if t := r.Timeout(); t > 0 {
		parts = append(parts, "timeout="+t.String())
	}
	if extra := r.Flags() &^ (Stop | SkipSubtree).Flags(); extra != 0 {
		parts = append(parts, fmt.Sprintf("flags=%#x", extra))
	}
	return strings.Join(parts, "|")
}

// Type tells how a filter is implemented.
type Type string

const (
	// TypeNative is a filter implemented in Go.
	TypeNative Type = "native"
	// TypeRule is a filter defined by a declarative rule file.
	TypeRule Type = "rule"
	// TypeScripted is a filter backed by an external script engine.
	TypeScripted Type = "scripted"
)

// Filter is a policy check run for processes during a pipeline pass.
type Filter interface {
	// Name returns the display name of the filter.
	Name() string
	// Type returns how the filter is implemented.
	Type() Type
	// Callback decides about a process.
	Callback(p *process.Process) (Result, error)
}

// Checker is a Filter with a cheap per-process gate. Callback is only run
// for processes Check returns true for.
type Checker interface {
	Check(p *process.Process) bool
}

// PreChecker is a Filter with a check run once before each pass. If it
// returns false, the pass is skipped for the filter.
type PreChecker interface {
	PreCheck() bool
}

// PostChecker is a Filter with a hook run once after each pass.
type PostChecker interface {
	PostCheck()
}

// Funcs is a Filter made of functions. Nil functions are treated as absent.
type Funcs struct {
	FilterName string
	FilterType Type
	PreFn      func() bool
	CheckFn    func(*process.Process) bool
	CallbackFn func(*process.Process) (Result, error)
	PostFn     func()
}

var (
	_ Filter      = &Funcs{}
	_ Checker     = &Funcs{}
	_ PreChecker  = &Funcs{}
	_ PostChecker = &Funcs{}
)

func (f *Funcs) Name() string {
	return f.FilterName
}

func (f *Funcs) Type() Type {
	if f.FilterType == "" {
		return TypeNative
	}
	return f.FilterType
}

func (f *Funcs) Callback(p *process.Process) (Result, error) {
	if f.CallbackFn == nil {
		return None, nil
	}
	return f.CallbackFn(p)
}

func (f *Funcs) Check(p *process.Process) bool {
	return f.CheckFn == nil || f.CheckFn(p)
}

func (f *Funcs) PreCheck() bool {
	return f.PreFn == nil || f.PreFn()
}

func (f *Funcs) PostCheck() {
	if f.PostFn != nil {
		f.PostFn()
	}
}
