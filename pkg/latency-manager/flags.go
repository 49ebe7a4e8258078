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

package latencymgr

import (
	"flag"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intel/latency-manager/pkg/config"
	"github.com/intel/latency-manager/pkg/latency-manager/rules"
	"github.com/intel/latency-manager/pkg/pidfile"
	"github.com/intel/latency-manager/pkg/procstats"
)

const (
	// ConfigPath is the configuration path of the latency manager.
	ConfigPath = "latency-manager"

	defaultInterval   = 60 * time.Second
	defaultRulesDir   = "/etc/latency-manager/rules.d"
	defaultScheduler  = "native"
	minimumInterval   = 100 * time.Millisecond
	housekeepingCycle = time.Minute
)

// options captures our command line parameters.
type options struct {
	ConfigFile string
	PidFile    string
	ProcRoot   string
	RulesDir   string
	Pattern    string
	Interval   time.Duration
	Scheduler  string
	SchedConf  string
}

// conf captures our runtime configurable parameters.
type conf struct {
	// Interval is the time between iterations.
	Interval config.Duration `json:"interval"`
	// RulesDir is the directory rule files are loaded from.
	RulesDir string `json:"rulesDir"`
	// RulePattern selects the rule files to load from RulesDir.
	RulePattern string `json:"rulePattern"`
	// Scheduler is the name of the scheduler strategy to use.
	Scheduler string `json:"scheduler"`
	// SchedulerConfig is the configuration to activate for the scheduler.
	SchedulerConfig string `json:"schedulerConfig,omitempty"`
	// DisabledFilters are builtin filters not to register.
	DisabledFilters []string `json:"disabledFilters,omitempty"`
	// WatchRules reloads the rules when the rule files change.
	WatchRules bool `json:"watchRules"`
	// LockMemory locks the daemon in memory.
	LockMemory bool `json:"lockMemory"`
}

// Relay command line options and runtime configuration with their defaults.
var opt = defaultOptions()
var cfg = &conf{}

// defaultOptions returns a new options instance, all initialized to defaults.
func defaultOptions() *options {
	return &options{
		PidFile:   pidfile.DefaultPath(),
		ProcRoot:  procstats.DefaultProcRoot,
		RulesDir:  defaultRulesDir,
		Pattern:   rules.DefaultPattern,
		Interval:  defaultInterval,
		Scheduler: defaultScheduler,
	}
}

// Reset resets the configuration to the defaults given on the command line.
func (c *conf) Reset() {
	*c = conf{
		Interval:        config.Duration(opt.Interval),
		RulesDir:        opt.RulesDir,
		RulePattern:     opt.Pattern,
		Scheduler:       opt.Scheduler,
		SchedulerConfig: opt.SchedConf,
		WatchRules:      true,
		LockMemory:      false,
	}
}

// Describe describes our configuration.
func (c *conf) Describe() string {
	return `Latency manager configuration.
  interval: time between iterations, for instance 30s
  rulesDir: directory to load rule files from
  rulePattern: glob pattern of rule files in rulesDir
  scheduler: name of the scheduler strategy
  schedulerConfig: scheduler configuration to activate, default if empty
  disabledFilters: names of builtin filters not to use
  watchRules: reload rules when rule files change
  lockMemory: lock the daemon in memory`
}

// Validate checks the configuration.
func (c *conf) Validate() error {
	var errs *multierror.Error

	if c.Interval.Duration() < minimumInterval {
		errs = multierror.Append(errs,
			errors.Errorf("interval %v is shorter than %v", c.Interval, minimumInterval))
	}
	if c.Scheduler == "" {
		errs = multierror.Append(errs, errors.New("no scheduler strategy given"))
	}
	if c.RulePattern == "" {
		errs = multierror.Append(errs, errors.New("empty rule file pattern"))
	}

	return errs.ErrorOrNil()
}

// disabled returns the set of disabled builtin filters.
func (c *conf) disabled() map[string]struct{} {
	set := make(map[string]struct{}, len(c.DisabledFilters))
	for _, name := range c.DisabledFilters {
		set[name] = struct{}{}
	}
	return set
}

// snapshot returns a copy of the configuration safe to use outside notifiers.
func (c *conf) snapshot() conf {
	cp := *c
	cp.DisabledFilters = append([]string(nil), c.DisabledFilters...)
	sort.Strings(cp.DisabledFilters)
	return cp
}

// ConfigFile returns the configuration file given on the command line.
func ConfigFile() string {
	return opt.ConfigFile
}

// Register us for command line option processing and configuration handling.
func init() {
	flag.StringVar(&opt.ConfigFile, "config", "",
		"YAML configuration file to use.")
	flag.StringVar(&opt.PidFile, "pid-file", opt.PidFile,
		"PID file to write the daemon process ID to.")
	flag.StringVar(&opt.ProcRoot, "proc-root", opt.ProcRoot,
		"Mount point of the proc filesystem.")
	flag.StringVar(&opt.RulesDir, "rules-dir", opt.RulesDir,
		"Directory to load rule files from.")
	flag.StringVar(&opt.Pattern, "rule-pattern", opt.Pattern,
		"Glob pattern of the rule files to load.")
	flag.DurationVar(&opt.Interval, "interval", opt.Interval,
		"Time between iterations.")
	flag.StringVar(&opt.Scheduler, "scheduler", opt.Scheduler,
		"Scheduler strategy to use.")
	flag.StringVar(&opt.SchedConf, "scheduler-config", "",
		"Scheduler configuration to activate.")

	config.MustRegister(ConfigPath, cfg)
}
