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

package sysctl

import (
	"fmt"
	"sync"

	"github.com/intel/latency-manager/pkg/cgroups"
)

// created remembers the groups this process has already created.
var created = struct {
	sync.Mutex
	groups map[cgroups.Group]struct{}
}{
	groups: map[cgroups.Group]struct{}{},
}

// MoveToCgroup moves a process into a group of a cgroup controller,
// creating the group if necessary.
func (h *Host) MoveToCgroup(pid int, controller, group string) error {
	g, err := ensureGroup(controller, group)
	if err != nil {
		return err
	}
	return mapCgroupError(g.AddProcess(pid))
}

// SetCgroupParameter sets a parameter of a group of a cgroup controller,
// creating the group if necessary.
func (h *Host) SetCgroupParameter(controller, group, name, value string) error {
	g, err := ensureGroup(controller, group)
	if err != nil {
		return err
	}
	return g.SetParameter(name, value)
}

func ensureGroup(controller, group string) (cgroups.Group, error) {
	g := cgroups.NewGroup(cgroups.ParseController(controller), group)

	created.Lock()
	defer created.Unlock()

	if _, ok := created.groups[g]; ok {
		return g, nil
	}
	if err := g.Create(); err != nil {
		return g, err
	}
	created.groups[g] = struct{}{}
	return g, nil
}

// mapCgroupError tags the failure to move a vanished or forbidden process.
func mapCgroupError(err error) error {
	if err == nil {
		return nil
	}
	if mapped := mapError(err); mapped == ErrNoSuchProcess || mapped == ErrPermissionDenied {
		return fmt.Errorf("%w: %v", mapped, err)
	}
	return err
}
