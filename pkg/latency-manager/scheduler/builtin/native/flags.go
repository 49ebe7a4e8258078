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
	"strings"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	pkgcfg "github.com/intel/latency-manager/pkg/config"
	"github.com/intel/latency-manager/pkg/sysctl"
)

const (
	// ConfigPath is the configuration path of this strategy.
	ConfigPath = "scheduler." + StrategyName
	// DesktopConfig favours interactive and media processes.
	DesktopConfig = "desktop"
	// ServerConfig favours daemons over user sessions.
	ServerConfig = "server"
	// IdleConfig pushes everything but essential processes to the background.
	IdleConfig = "idle"
)

// Adjustment is the set of adjustments made for processes with a flag.
// Unset fields are left alone.
type Adjustment struct {
	// IOClass is the I/O scheduling class.
	IOClass *sysctl.IOClass `json:"ioClass,omitempty"`
	// IOLevel is the priority level within the I/O class.
	IOLevel *int `json:"ioLevel,omitempty"`
	// OOMScoreAdj is the OOM killer score adjustment.
	OOMScoreAdj *int `json:"oomScoreAdj,omitempty"`
	// Nice is the CPU scheduling nice level.
	Nice *int `json:"nice,omitempty"`
	// Cgroups maps cgroup controllers to the group to move processes to.
	Cgroups map[string]string `json:"cgroups,omitempty"`
}

// Group is a cgroup set up when a configuration is activated.
type Group struct {
	Controller string            `json:"controller"`
	Path       string            `json:"path"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Config is a named adjustment table.
type Config struct {
	Description string `json:"description,omitempty"`
	// Flags maps flag names to adjustments. Flags with a higher priority
	// take precedence, per adjusted attribute.
	Flags map[string]*Adjustment `json:"flags,omitempty"`
	// Groups are set up when the configuration is activated.
	Groups []*Group `json:"groups,omitempty"`
}

// options captures our configurable strategy parameters.
type options struct {
	// Default is the name of the configuration activated by default.
	Default string `json:"default"`
	// Configs are the named configurations. Configurations given here
	// are added to, or replace, the built-in ones.
	Configs map[string]*Config `json:"configs,omitempty"`
}

var (
	// Our runtime configuration.
	opt = &options{}
	// generation is bumped on every configuration change.
	generation uint64
)

// Reset resets the configuration to the built-in defaults.
func (o *options) Reset() {
	*o = *defaultOptions()
}

// Describe describes our configuration.
func (o *options) Describe() string {
	return `Native scheduler strategy configuration.
  default: name of the configuration activated by default
  configs: named configurations, each with
    description: one-line description
    flags: per flag name, the adjustments for processes with the flag:
      ioClass: none, realtime, best-effort or idle
      ioLevel: 0-7, I/O priority level within the class
      oomScoreAdj: -1000-1000, OOM score adjustment
      nice: -20-19, CPU nice level
      cgroups: controller: group to move processes to
    groups: cgroups to set up on activation, each with
      controller, path, parameters`
}

// Validate checks the configuration.
func (o *options) Validate() error {
	var errs *multierror.Error

	if _, ok := o.Configs[o.Default]; !ok {
		errs = multierror.Append(errs, errors.Errorf("unknown default configuration %q", o.Default))
	}
	for name, c := range o.Configs {
		if c == nil {
			errs = multierror.Append(errs, errors.Errorf("%s: empty configuration", name))
			continue
		}
		for flag, a := range c.Flags {
			if err := a.validate(); err != nil {
				errs = multierror.Append(errs, errors.Wrapf(err, "%s: flag %s", name, flag))
			}
		}
		for _, g := range c.Groups {
			if g == nil || strings.TrimSpace(g.Path) == "" {
				errs = multierror.Append(errs, errors.Errorf("%s: group without path", name))
			}
		}
	}

	return errs.ErrorOrNil()
}

func (a *Adjustment) validate() error {
	if a == nil {
		return nil
	}
	if a.IOLevel != nil && (*a.IOLevel < 0 || *a.IOLevel > sysctl.MaxIOLevel) {
		return errors.Errorf("invalid I/O level %d", *a.IOLevel)
	}
	if a.OOMScoreAdj != nil && (*a.OOMScoreAdj < sysctl.MinOOMAdjustment || *a.OOMScoreAdj > sysctl.MaxOOMAdjustment) {
		return errors.Errorf("invalid OOM score adjustment %d", *a.OOMScoreAdj)
	}
	if a.Nice != nil && (*a.Nice < -20 || *a.Nice > 19) {
		return errors.Errorf("invalid nice level %d", *a.Nice)
	}
	for controller, group := range a.Cgroups {
		if strings.TrimSpace(group) == "" {
			return errors.Errorf("empty %s cgroup", controller)
		}
	}
	return nil
}

func ioClass(c sysctl.IOClass) *sysctl.IOClass { return &c }
func intp(v int) *int                          { return &v }

// defaultOptions returns a new options instance, all initialized to defaults.
func defaultOptions() *options {
	return &options{
		Default: DesktopConfig,
		Configs: map[string]*Config{
			DesktopConfig: {
				Description: "favour the user interface and media playback",
				Flags: map[string]*Adjustment{
					"user.ui": {
						IOClass: ioClass(sysctl.IOClassBestEffort), IOLevel: intp(0),
						Cgroups: map[string]string{"cpu": "latency/ui"},
					},
					"user.media": {
						IOClass: ioClass(sysctl.IOClassBestEffort), IOLevel: intp(0),
						Cgroups: map[string]string{"cpu": "latency/media"},
					},
					"user.bg": {
						IOClass: ioClass(sysctl.IOClassIdle), Nice: intp(5), OOMScoreAdj: intp(300),
						Cgroups: map[string]string{"cpu": "latency/bg"},
					},
					"daemon.idle": {
						IOClass: ioClass(sysctl.IOClassIdle), Nice: intp(10), OOMScoreAdj: intp(500),
						Cgroups: map[string]string{"cpu": "latency/idle"},
					},
					"system.essential": {
						IOClass: ioClass(sysctl.IOClassBestEffort), IOLevel: intp(0), OOMScoreAdj: intp(-500),
						Cgroups: map[string]string{"cpu": "latency/system"},
					},
				},
				Groups: []*Group{
					{Controller: "cpu", Path: "latency/ui", Parameters: map[string]string{"cpu.shares": "2048"}},
					{Controller: "cpu", Path: "latency/media", Parameters: map[string]string{"cpu.shares": "2048"}},
					{Controller: "cpu", Path: "latency/bg", Parameters: map[string]string{"cpu.shares": "256"}},
					{Controller: "cpu", Path: "latency/idle", Parameters: map[string]string{"cpu.shares": "64"}},
					{Controller: "cpu", Path: "latency/system", Parameters: map[string]string{"cpu.shares": "1024"}},
				},
			},
			ServerConfig: {
				Description: "favour services over user sessions",
				Flags: map[string]*Adjustment{
					"user.ui": {
						IOClass: ioClass(sysctl.IOClassBestEffort), IOLevel: intp(4),
					},
					"user.bg": {
						IOClass: ioClass(sysctl.IOClassIdle), Nice: intp(10),
					},
					"daemon.idle": {
						IOClass: ioClass(sysctl.IOClassBestEffort), IOLevel: intp(7),
					},
					"system.essential": {
						IOClass: ioClass(sysctl.IOClassBestEffort), IOLevel: intp(0), OOMScoreAdj: intp(-500),
					},
				},
			},
			IdleConfig: {
				Description: "push everything but essential processes to the background",
				Flags: map[string]*Adjustment{
					"user.ui":     {IOClass: ioClass(sysctl.IOClassIdle), Nice: intp(10)},
					"user.media":  {IOClass: ioClass(sysctl.IOClassIdle), Nice: intp(10)},
					"user.bg":     {IOClass: ioClass(sysctl.IOClassIdle), Nice: intp(19)},
					"daemon.idle": {IOClass: ioClass(sysctl.IOClassIdle), Nice: intp(19)},
				},
			},
		},
	}
}

// Register us for configuration handling.
func init() {
	pkgcfg.MustRegister(ConfigPath, opt, pkgcfg.WithNotify(configNotify))
}

// configNotify bumps the configuration generation, making strategies
// reapply their active configuration.
func configNotify(event pkgcfg.Event, source pkgcfg.Source) error {
	atomic.AddUint64(&generation, 1)
	return nil
}
