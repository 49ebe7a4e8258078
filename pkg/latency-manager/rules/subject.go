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
	"fmt"
	"strconv"
	"strings"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
)

// Keys of process attributes available to expressions.
const (
	KeyPid     = "pid"
	KeyPpid    = "ppid"
	KeyPgrp    = "pgrp"
	KeySession = "session"
	KeyName    = "name"
	KeyExe     = "exe"
	KeyCmdline = "cmdline"
	KeyUID     = "uid"
	KeyGID     = "gid"
	KeyEUID    = "euid"
	KeyEGID    = "egid"
	KeyState   = "state"
	KeyCgroup  = "cgroup"
	KeyCgroups = "cgroups"
	KeyFlags   = "flags"
	KeyParent  = "parent"
)

// subject presents a process to expressions.
type subject struct {
	p      *process.Process
	lookup func(int) *process.Process
}

func newSubject(p *process.Process, lookup func(int) *process.Process) *subject {
	return &subject{p: p, lookup: lookup}
}

// Eval returns the value of a process attribute, a nested Evaluable, a map
// of values, nil for a missing value or an error for an unknown key.
func (s *subject) Eval(key string) interface{} {
	snap := s.p.Snapshot()

	switch key {
	case KeyPid:
		return strconv.Itoa(s.p.Pid())
	case KeyPpid:
		return strconv.Itoa(snap.Ppid)
	case KeyPgrp:
		return strconv.Itoa(s.p.Pgrp())
	case KeySession:
		return strconv.Itoa(s.p.Session())
	case KeyName:
		return snap.Comm
	case KeyExe:
		if snap.Exe == "" {
			return nil
		}
		return snap.Exe
	case KeyCmdline:
		if len(snap.Cmdline) == 0 {
			return nil
		}
		return snap.CmdlineString()
	case KeyUID:
		return strconv.Itoa(snap.Uid)
	case KeyGID:
		return strconv.Itoa(snap.Gid)
	case KeyEUID:
		return strconv.Itoa(snap.Euid)
	case KeyEGID:
		return strconv.Itoa(snap.Egid)
	case KeyState:
		return snap.State
	case KeyCgroup:
		if path, ok := snap.Cgroup(""); ok {
			return path
		}
		return nil
	case KeyCgroups:
		return cgroupMap(snap.Cgroups)
	case KeyFlags:
		flags := map[string]string{}
		for _, f := range s.p.Flags() {
			if _, ok := flags[f.Name]; !ok {
				flags[f.Name] = f.Source
			}
		}
		return flags
	case KeyParent:
		if snap.Ppid == 0 || s.lookup == nil {
			return nil
		}
		if parent := s.lookup(snap.Ppid); parent != nil {
			return newSubject(parent, s.lookup)
		}
		return nil
	}

	return fmt.Errorf("unknown process attribute %q", key)
}

func (s *subject) String() string {
	return s.p.String()
}

// cgroupMap maps every v1 controller to the path of the process in its hierarchy.
func cgroupMap(entries []string) map[string]string {
	groups := map[string]string{}
	for _, entry := range entries {
		split := strings.SplitN(entry, ":", 3)
		if len(split) != 3 || split[1] == "" {
			continue
		}
		for _, c := range strings.Split(split[1], ",") {
			groups[c] = split[2]
		}
	}
	return groups
}
