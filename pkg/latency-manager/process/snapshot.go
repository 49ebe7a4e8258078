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

package process

import (
	"strings"
)

// Snapshot is one OS-reported view of a process.
type Snapshot struct {
	Pid     int
	Ppid    int
	Pgrp    int
	Session int

	Uid  int // real user id
	Euid int // effective user id
	Gid  int // real group id
	Egid int // effective group id

	Comm    string   // command name
	Exe     string   // resolved executable path
	Cmdline []string // command line arguments
	State   string   // scheduling state (R, S, D, Z, ...)

	Nice     int
	Priority int
	Threads  int

	Utime     uint64 // user CPU time in clock ticks
	Stime     uint64 // system CPU time in clock ticks
	StartTime uint64 // start time after boot in clock ticks

	RSS   uint64 // resident set size in bytes
	VSize uint64 // virtual memory size in bytes

	ReadBytes  uint64
	WriteBytes uint64

	Cgroups []string // cgroup membership, one "hierarchy:controllers:path" entry each
	Wchan   string   // wait channel

	Basic bool // only minimal attributes are available
}

// CmdlineString returns the command line as a single string.
func (s *Snapshot) CmdlineString() string {
	return strings.Join(s.Cmdline, " ")
}

// IsKernelThread returns true if the snapshot looks like a kernel thread.
func (s *Snapshot) IsKernelThread() bool {
	return s.Pid == KThreadd || s.Ppid == KThreadd
}

// Cgroup returns the path of the process in the hierarchy with the given
// controller. Use "" for the unified hierarchy.
func (s *Snapshot) Cgroup(controller string) (string, bool) {
	for _, entry := range s.Cgroups {
		split := strings.SplitN(entry, ":", 3)
		if len(split) != 3 {
			continue
		}
		if controller == "" {
			if split[1] == "" {
				return split[2], true
			}
			continue
		}
		for _, c := range strings.Split(split[1], ",") {
			if c == controller {
				return split[2], true
			}
		}
	}
	return "", false
}

// mainAttrsDiffer checks if any attribute policy treats as identity differs.
func mainAttrsDiffer(a, b *Snapshot) bool {
	if a.Ppid != b.Ppid || a.Pgrp != b.Pgrp || a.Session != b.Session {
		return true
	}
	if a.Uid != b.Uid || a.Euid != b.Euid || a.Gid != b.Gid || a.Egid != b.Egid {
		return true
	}
	if a.Exe != b.Exe || a.Comm != b.Comm {
		return true
	}
	if len(a.Cmdline) != len(b.Cmdline) {
		return true
	}
	for i := range a.Cmdline {
		if a.Cmdline[i] != b.Cmdline[i] {
			return true
		}
	}
	return false
}
