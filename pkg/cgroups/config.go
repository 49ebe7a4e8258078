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

package cgroups

import (
	"flag"
	"path"

	"github.com/pkg/errors"

	"github.com/intel/latency-manager/pkg/config"
)

// options captures our runtime configurable mount directories.
type options struct {
	// MountDir is the parent directory of the cgroup v1 controller mounts.
	MountDir string `json:"mountDir"`
	// V2Dir is the cgroup v2 mount directory, relative to MountDir if not absolute.
	V2Dir string `json:"v2Dir"`
}

// Command line defaults and runtime configuration.
var (
	defaults = options{MountDir: mountDir, V2Dir: v2Dir}
	opt      = &options{}
)

// Reset resets the configuration to the command line defaults.
func (o *options) Reset() {
	*o = defaults
}

// Describe describes our configuration.
func (o *options) Describe() string {
	return `Cgroup mount directories.
  mountDir: parent directory of cgroup v1 controller mounts
  v2Dir: cgroup v2 mount directory, relative to mountDir if not absolute`
}

// Validate checks the configuration.
func (o *options) Validate() error {
	if !path.IsAbs(o.MountDir) {
		return errors.Errorf("cgroup mount directory %q is not absolute", o.MountDir)
	}
	if o.V2Dir == "" {
		return errors.New("empty cgroup v2 directory")
	}
	return nil
}

// configNotify takes the configured directories into use.
func configNotify(event config.Event, _ config.Source) error {
	if event != config.UpdateEvent {
		return nil
	}
	SetMountDir(opt.MountDir)
	SetV2Dir(opt.V2Dir)
	log.Info("cgroup v1 controllers under %s, v2 hierarchy at %s", GetMountDir(), GetV2Dir())
	return nil
}

func init() {
	flag.StringVar(&defaults.MountDir, "cgroup-mount", defaults.MountDir,
		"directory under which cgroup v1 controllers are mounted")
	flag.StringVar(&defaults.V2Dir, "cgroup-v2-dir", defaults.V2Dir,
		"cgroup v2 unified mount directory")

	config.MustRegister("cgroups", opt, config.WithNotify(configNotify))
}
