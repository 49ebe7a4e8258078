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

package rules

import (
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/latency-manager/pkg/config"
	"github.com/intel/latency-manager/pkg/latency-manager/filter"
	"github.com/intel/latency-manager/pkg/latency-manager/process"
)

// RuleSet is the content of one rule file.
type RuleSet struct {
	// File is the path the rule set was loaded from.
	File string `json:"-"`
	// Rules are the filters defined in the file, in evaluation order.
	Rules []*Rule `json:"rules"`
}

// Rule is a declarative filter.
type Rule struct {
	// Name of the rule, unique within its file.
	Name string `json:"name"`
	// Match selects processes, all expressions must be true.
	Match []*Expression `json:"match,omitempty"`
	// Flags are added to matching processes.
	Flags []*FlagSpec `json:"flags,omitempty"`
	// Clear removes flags previously added by the rule before adding new ones.
	Clear bool `json:"clear,omitempty"`
	// Basic enables the rule for processes with only minimal attributes.
	Basic bool `json:"basic,omitempty"`
	// Result is returned for matching processes.
	Result ResultSpec `json:"result,omitempty"`
}

// FlagSpec describes a flag added by a rule.
type FlagSpec struct {
	Name      string          `json:"name"`
	Reason    string          `json:"reason,omitempty"`
	Priority  int32           `json:"priority,omitempty"`
	Value     int64           `json:"value,omitempty"`
	Threshold int64           `json:"threshold,omitempty"`
	Inherit   bool            `json:"inherit,omitempty"`
	TTL       config.Duration `json:"ttl,omitempty"`
}

// ResultSpec describes the filter result of a matching rule.
type ResultSpec struct {
	Stop        bool            `json:"stop,omitempty"`
	SkipSubtree bool            `json:"skipSubtree,omitempty"`
	Timeout     config.Duration `json:"timeout,omitempty"`
}

var keys = map[string]struct{}{
	KeyPid: {}, KeyPpid: {}, KeyPgrp: {}, KeySession: {},
	KeyName: {}, KeyExe: {}, KeyCmdline: {},
	KeyUID: {}, KeyGID: {}, KeyEUID: {}, KeyEGID: {},
	KeyState: {}, KeyCgroup: {}, KeyCgroups: {}, KeyFlags: {}, KeyParent: {},
}

// Validate checks the rule set for errors.
func (rs *RuleSet) Validate() error {
	var errs *multierror.Error
	names := map[string]struct{}{}
	for i, r := range rs.Rules {
		if r == nil {
			errs = multierror.Append(errs, rulesError("%s: rule #%d is empty", rs.File, i))
			continue
		}
		if _, ok := names[r.Name]; ok {
			errs = multierror.Append(errs, rulesError("%s: duplicate rule %q", rs.File, r.Name))
		}
		names[r.Name] = struct{}{}
		if err := r.Validate(); err != nil {
			errs = multierror.Append(errs, rulesError("%s: %v", rs.File, err))
		}
	}
	return errs.ErrorOrNil()
}

// Validate checks the rule for errors.
func (r *Rule) Validate() error {
	var errs *multierror.Error
	if r.Name == "" {
		errs = multierror.Append(errs, rulesError("rule without a name"))
	}
	if len(r.Match) == 0 {
		errs = multierror.Append(errs, rulesError("rule %q: no match expressions", r.Name))
	}
	for _, e := range r.Match {
		if err := e.Validate(); err != nil {
			errs = multierror.Append(errs, rulesError("rule %q: %v", r.Name, err))
			continue
		}
		if err := validateKey(e.Key); err != nil {
			errs = multierror.Append(errs, rulesError("rule %q: %v", r.Name, err))
		}
	}
	for _, f := range r.Flags {
		if f == nil || f.Name == "" {
			errs = multierror.Append(errs, rulesError("rule %q: flag without a name", r.Name))
			continue
		}
		if f.TTL < 0 {
			errs = multierror.Append(errs, rulesError("rule %q: flag %q: negative ttl", r.Name, f.Name))
		}
	}
	if r.Result.Timeout < 0 || r.Result.Timeout.Duration() > filter.MaxTimeout {
		errs = multierror.Append(errs, rulesError("rule %q: timeout %s out of range",
			r.Name, r.Result.Timeout))
	}
	return errs.ErrorOrNil()
}

func validateKey(key string) error {
	if key == "" {
		return nil
	}
	joint, _ := splitKeys(key)
	for _, k := range joint {
		ref := strings.Split(k, "/")
		for len(ref) > 1 && ref[0] == KeyParent {
			ref = ref[1:]
		}
		if _, ok := keys[ref[0]]; !ok {
			return rulesError("unknown key %q", k)
		}
		if (ref[0] == KeyCgroups || ref[0] == KeyFlags) && len(ref) != 2 {
			return rulesError("key %q needs exactly one subkey", k)
		}
	}
	return nil
}

// result packs the result of the rule.
func (r *Rule) result() filter.Result {
	res := filter.Timeout(r.Result.Timeout.Duration())
	if r.Result.Stop {
		res |= filter.Stop
	}
	if r.Result.SkipSubtree {
		res |= filter.SkipSubtree
	}
	return res
}

// ruleFilter runs a rule as a filter.
type ruleFilter struct {
	rule   *Rule
	name   string
	now    func() time.Time
	lookup func(int) *process.Process
}

var (
	_ filter.Filter  = &ruleFilter{}
	_ filter.Checker = &ruleFilter{}
)

// NewFilter creates a filter running the rule. Filters of different files
// are told apart by the given prefix.
func NewFilter(prefix string, r *Rule, opts *filter.Options) filter.Filter {
	if opts == nil {
		opts = &filter.Options{}
	}
	f := &ruleFilter{
		rule:   r,
		name:   r.Name,
		now:    opts.Now,
		lookup: opts.Lookup,
	}
	if prefix != "" {
		f.name = prefix + ":" + r.Name
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

func (f *ruleFilter) Name() string {
	return f.name
}

func (f *ruleFilter) Type() filter.Type {
	return filter.TypeRule
}

func (f *ruleFilter) Check(p *process.Process) bool {
	return f.rule.Basic || !p.Has(process.StateBasic)
}

// Callback adds the flags of the rule to matching processes.
func (f *ruleFilter) Callback(p *process.Process) (filter.Result, error) {
	s := newSubject(p, f.lookup)
	for _, e := range f.rule.Match {
		if !e.Evaluate(s) {
			return filter.None, nil
		}
	}

	if f.rule.Clear {
		p.ClearFlagsBySource(f.name)
	}

	now := f.now()
	for _, spec := range f.rule.Flags {
		var timeout time.Time
		if spec.TTL > 0 {
			timeout = now.Add(spec.TTL.Duration())
		}
		if existing := p.FindFlag(spec.Name, f.name); existing != nil {
			existing.Timeout = timeout
			continue
		}
		p.AddFlag(&process.Flag{
			Source:    f.name,
			Name:      spec.Name,
			Reason:    spec.Reason,
			Timeout:   timeout,
			Priority:  spec.Priority,
			Value:     spec.Value,
			Threshold: spec.Threshold,
			Inherit:   spec.Inherit,
		})
	}

	return f.rule.result(), nil
}
