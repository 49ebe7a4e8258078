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
	"path"
	"path/filepath"
	"strings"

	logger "github.com/intel/latency-manager/pkg/log"
)

const (
	// Tasks is a cgroup's "tasks" entry.
	Tasks = "tasks"
	// Procs is cgroup's "cgroup.procs" entry.
	Procs = "cgroup.procs"
	// CpuShares is the cpu controller's "cpu.shares" entry.
	CpuShares = "cpu.shares"
	// CpuWeight is the cgroup v2 "cpu.weight" entry.
	CpuWeight = "cpu.weight"
	// MemoryLimit is the memory controller's "memory.limit_in_bytes" entry.
	MemoryLimit = "memory.limit_in_bytes"
	// BlkioWeight is the blkio controller's "blkio.weight" entry.
	BlkioWeight = "blkio.weight"
)

// Controller is a cgroup v1 controller, or Unified for the v2 hierarchy.
type Controller string

const (
	// Unified is the cgroup v2 unified hierarchy.
	Unified Controller = ""
	// Cpu is the cpu controller.
	Cpu Controller = "cpu"
	// Cpuset is the cpuset controller.
	Cpuset Controller = "cpuset"
	// Memory is the memory controller.
	Memory Controller = "memory"
	// Blkio is the blkio controller.
	Blkio Controller = "blkio"
)

func (c Controller) String() string {
	if c == Unified {
		return "unified"
	}
	return string(c)
}

// ParseController parses a controller name.
func ParseController(name string) Controller {
	switch name := strings.TrimSpace(name); name {
	case "", "unified", "v2":
		return Unified
	default:
		return Controller(name)
	}
}

var (
	// mount is the parent directory for per-controller cgroupfs mounts.
	mountDir = "/sys/fs/cgroup"
	// v2Dir is the unified cgroup v2 mount directory.
	v2Dir = path.Join(mountDir, "unified")

	// our logger instance
	log = logger.NewLogger("cgroups")
)

// GetMountDir returns the common mount point for cgroup v1 controllers.
func GetMountDir() string {
	return mountDir
}

// SetMountDir sets the common mount point for the cgroup v1 controllers.
// A v2 directory under the old mount point moves along.
func SetMountDir(dir string) {
	v2, err := filepath.Rel(mountDir, v2Dir)
	mountDir = dir
	if err == nil && !strings.HasPrefix(v2, "..") {
		v2Dir = path.Join(mountDir, v2)
	}
}

// GetV2Dir returns the cgroup v2 unified mount directory.
func GetV2Dir() string {
	return v2Dir
}

// SetV2Dir sets the unified cgroup v2 mount directory, relative paths
// taken relative to the v1 mount point.
func SetV2Dir(dir string) {
	if path.IsAbs(dir) {
		v2Dir = dir
	} else {
		v2Dir = path.Join(mountDir, dir)
	}
}

// ControllerDir returns the mount directory of the given controller.
func ControllerDir(c Controller) string {
	if c == Unified {
		return v2Dir
	}
	return path.Join(mountDir, string(c))
}
