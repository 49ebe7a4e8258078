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

package native

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
	"github.com/intel/latency-manager/pkg/latency-manager/scheduler"
	logger "github.com/intel/latency-manager/pkg/log"
	"github.com/intel/latency-manager/pkg/sysctl"
)

const (
	// StrategyName is the symbol used to pull us in as a builtin strategy.
	StrategyName = "native"
	// StrategyDescription is a short description of this strategy.
	StrategyDescription = "Adjusts I/O priority, OOM score, nice level and cgroup of flagged processes."
)

type native struct {
	logger.Logger
	sys        scheduler.System
	config     string
	generation uint64
	prepared   bool
	applied    map[int]string
}

var _ scheduler.Strategy = &native{}

// CreateNativeStrategy creates a new strategy instance.
func CreateNativeStrategy(opts *scheduler.Options) (scheduler.Strategy, error) {
	if opts.System == nil {
		return nil, fmt.Errorf("no system adjustment interface given")
	}

	n := &native{
		Logger:     logger.NewLogger(StrategyName),
		sys:        opts.System,
		config:     opts.Config,
		generation: atomic.LoadUint64(&generation),
		applied:    map[int]string{},
	}
	if n.config == "" {
		n.config = opt.Default
	}
	if _, ok := opt.Configs[n.config]; !ok {
		return nil, fmt.Errorf("%w %q", scheduler.ErrUnknownConfig, n.config)
	}

	n.Info("creating strategy with configuration %s...", n.config)

	return n, nil
}

// Name returns the name of this strategy.
func (n *native) Name() string {
	return StrategyName
}

// Description returns the description for this strategy.
func (n *native) Description() string {
	return StrategyDescription
}

// SetConfig activates a named configuration.
func (n *native) SetConfig(name string) error {
	if _, ok := opt.Configs[name]; !ok {
		return fmt.Errorf("%w %q", scheduler.ErrUnknownConfig, name)
	}
	if name != n.config {
		n.Info("activating configuration %s", name)
		n.config = name
		n.invalidate()
	}
	return nil
}

// GetConfig returns the name of the active configuration.
func (n *native) GetConfig() string {
	return n.config
}

// ListConfigs lists the available configurations.
func (n *native) ListConfigs() []scheduler.ConfigInfo {
	configs := make([]scheduler.ConfigInfo, 0, len(opt.Configs))
	for name, c := range opt.Configs {
		configs = append(configs, scheduler.ConfigInfo{Name: name, Description: c.Description})
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs
}

// RunAll adjusts all processes in the tree.
func (n *native) RunAll(procs scheduler.Processes) error {
	cfg := n.activeConfig()
	errs := n.prepare(cfg)

	inherited := map[*process.Process][]*process.Flag{}
	seen := map[int]struct{}{}

	procs.Walk(func(p *process.Process) bool {
		var parentFlags []*process.Flag
		if parent := procs.Parent(p); parent != nil {
			parentFlags = inherited[parent]
			for _, f := range parent.Flags() {
				if f.Inherit {
					parentFlags = append(parentFlags[:len(parentFlags):len(parentFlags)], f)
				}
			}
		}
		inherited[p] = parentFlags
		seen[p.Pid()] = struct{}{}

		if err := n.adjust(cfg, p, parentFlags); err != nil {
			errs = multierror.Append(errs, err)
		}
		return true
	})

	for pid := range n.applied {
		if _, ok := seen[pid]; !ok {
			delete(n.applied, pid)
		}
	}

	return errs.ErrorOrNil()
}

// RunOne adjusts a single process.
func (n *native) RunOne(procs scheduler.Processes, p *process.Process) error {
	cfg := n.activeConfig()
	errs := n.prepare(cfg)

	var chain []*process.Process
	for anc := procs.Parent(p); anc != nil; anc = procs.Parent(anc) {
		chain = append(chain, anc)
	}
	var parentFlags []*process.Flag
	for i := len(chain) - 1; i >= 0; i-- {
		for _, f := range chain[i].Flags() {
			if f.Inherit {
				parentFlags = append(parentFlags, f)
			}
		}
	}

	if err := n.adjust(cfg, p, parentFlags); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// activeConfig returns the active configuration, picking up configuration
// changes since the last call.
func (n *native) activeConfig() *Config {
	if gen := atomic.LoadUint64(&generation); gen != n.generation {
		n.generation = gen
		n.invalidate()
		if _, ok := opt.Configs[n.config]; !ok {
			n.Warn("configuration %s is gone, falling back to %s", n.config, opt.Default)
			n.config = opt.Default
		}
	}
	return opt.Configs[n.config]
}

// invalidate forces the configuration to be applied again.
func (n *native) invalidate() {
	n.prepared = false
	n.applied = map[int]string{}
}

// prepare sets up the cgroups of the configuration once.
func (n *native) prepare(cfg *Config) *multierror.Error {
	var errs *multierror.Error
	if n.prepared || cfg == nil {
		return errs
	}
	for _, g := range cfg.Groups {
		for name, value := range g.Parameters {
			if err := n.sys.SetCgroupParameter(g.Controller, g.Path, name, value); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	n.prepared = true
	return errs
}

// resolve merges the adjustments of the flags of a process, higher priority
// flags first, own flags before inherited ones.
func resolve(cfg *Config, own, inherited []*process.Flag) *Adjustment {
	flags := make([]*process.Flag, 0, len(own)+len(inherited))
	flags = append(flags, own...)
	for i := len(inherited) - 1; i >= 0; i-- {
		flags = append(flags, inherited[i])
	}
	sort.SliceStable(flags, func(i, j int) bool { return flags[i].Priority > flags[j].Priority })

	merged := &Adjustment{}
	for _, f := range flags {
		a, ok := cfg.Flags[f.Name]
		if !ok || a == nil {
			continue
		}
		if merged.IOClass == nil && a.IOClass != nil {
			merged.IOClass, merged.IOLevel = a.IOClass, a.IOLevel
		}
		if merged.OOMScoreAdj == nil {
			merged.OOMScoreAdj = a.OOMScoreAdj
		}
		if merged.Nice == nil {
			merged.Nice = a.Nice
		}
		for controller, group := range a.Cgroups {
			if merged.Cgroups == nil {
				merged.Cgroups = map[string]string{}
			}
			if _, ok := merged.Cgroups[controller]; !ok {
				merged.Cgroups[controller] = group
			}
		}
	}
	return merged
}

// key returns a canonical string for comparing adjustments.
func (a *Adjustment) key() string {
	parts := []string{}
	if a.IOClass != nil {
		level := 0
		if a.IOLevel != nil {
			level = *a.IOLevel
		}
		parts = append(parts, fmt.Sprintf("io=%s/%d", a.IOClass, level))
	}
	if a.OOMScoreAdj != nil {
		parts = append(parts, fmt.Sprintf("oom=%d", *a.OOMScoreAdj))
	}
	if a.Nice != nil {
		parts = append(parts, fmt.Sprintf("nice=%d", *a.Nice))
	}
	controllers := make([]string, 0, len(a.Cgroups))
	for c := range a.Cgroups {
		controllers = append(controllers, c)
	}
	sort.Strings(controllers)
	for _, c := range controllers {
		parts = append(parts, c+"="+a.Cgroups[c])
	}
	return strings.Join(parts, ",")
}

// adjust applies the adjustments of a process unless they are already in effect.
func (n *native) adjust(cfg *Config, p *process.Process, inherited []*process.Flag) error {
	if cfg == nil || !p.IsValid() || p.Has(process.StateBasic) {
		return nil
	}
	if p.BlockScheduler > 0 {
		n.Debug("%s: scheduling blocked", p)
		return nil
	}

	a := resolve(cfg, p.Flags(), inherited)
	key := a.key()
	if prev, ok := n.applied[p.Pid()]; ok && prev == key {
		return nil
	}

	pid := p.Pid()
	var errs *multierror.Error
	check := func(err error) {
		if err == nil {
			return
		}
		if errors.Is(err, sysctl.ErrNoSuchProcess) {
			n.Debug("%s: gone while adjusting", p)
			return
		}
		errs = multierror.Append(errs, err)
	}

	if a.IOClass != nil {
		level := 0
		if a.IOLevel != nil {
			level = *a.IOLevel
		}
		check(n.sys.SetIOPriority(pid, *a.IOClass, level))
	}
	if a.OOMScoreAdj != nil {
		check(n.sys.SetOOMAdjustment(pid, *a.OOMScoreAdj))
	}
	if a.Nice != nil {
		check(n.sys.SetNice(pid, *a.Nice))
	}
	controllers := make([]string, 0, len(a.Cgroups))
	for c := range a.Cgroups {
		controllers = append(controllers, c)
	}
	sort.Strings(controllers)
	for _, c := range controllers {
		check(n.sys.MoveToCgroup(pid, c, a.Cgroups[c]))
	}

	if errs != nil {
		return fmt.Errorf("failed to adjust %s: %w", p, errs)
	}

	if key != "" {
		n.Debug("%s: adjusted %s", p, key)
	}
	n.applied[pid] = key
	return nil
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
	scheduler.Register(Implementation(CreateNativeStrategy))
}
