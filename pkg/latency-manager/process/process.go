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
	"fmt"
	"strings"
	"sync/atomic"

	logger "github.com/intel/latency-manager/pkg/log"
)

const (
	// KThreadd is the pid of the kernel thread daemon, the parent of kernel threads.
	KThreadd = 2
	// NoNode is the tree node index of a process not attached to the tree.
	NoNode = -1
)

// State is a set of process state bits.
type State uint

const (
	// StateNew is set for a registered process not merged with a snapshot yet.
	StateNew State = 1 << iota
	// StateAlive is set for a process with a current snapshot.
	StateAlive
	// StateBasic is set for a process with only minimal attributes.
	StateBasic
	// StateInvalid is set for a process gone from the OS.
	StateInvalid
	// StateHasParent is set for a process attached under its parent in the tree.
	StateHasParent
)

var stateNames = []string{"new", "alive", "basic", "invalid", "has-parent"}

// String returns the names of the bits set in the state.
func (s State) String() string {
	names := []string{}
	for i, name := range stateNames {
		if s&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Counter is a monotonic iteration counter shared by all processes of an engine.
type Counter struct {
	n uint64
}

// Value returns the current iteration.
func (c *Counter) Value() uint64 {
	if c == nil {
		return 0
	}
	return c.n
}

// Next increments and returns the iteration.
func (c *Counter) Next() uint64 {
	c.n++
	return c.n
}

// Process is one observed OS process.
type Process struct {
	pid   int
	state State

	snapshot Snapshot

	owners int32 // registry slot, tree node and external holders
	node   int // tree node index, NoNode if detached

	flags []*Flag
	cache map[FilterID]*Decision

	fakePgrp       int
	fakePgrpOld    int
	fakeSession    int
	fakeSessionOld int

	changed      uint64 // iteration of last change to flags or main attributes
	flagsChanged uint64 // iteration of last change to flags

	// BlockScheduler asks scheduler strategies to leave the process alone.
	BlockScheduler int

	iter *Counter
}

var log = logger.NewLogger("process")

// New creates a process in the NEW state.
func New(pid int, iter *Counter) *Process {
	return &Process{
		pid:   pid,
		state: StateNew,
		node:  NoNode,
		cache: map[FilterID]*Decision{},
		iter:  iter,
	}
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.pid
}

// Ppid returns the parent process id.
func (p *Process) Ppid() int {
	return p.snapshot.Ppid
}

// State returns the state bits of the process.
func (p *Process) State() State {
	return p.state
}

// Has checks if all the given state bits are set.
func (p *Process) Has(bits State) bool {
	return p.state&bits == bits
}

// SetState sets the given state bits.
func (p *Process) SetState(bits State) {
	p.state |= bits
}

// ClearState clears the given state bits.
func (p *Process) ClearState(bits State) {
	p.state &^= bits
}

// IsValid returns false once the process has disappeared from the OS.
func (p *Process) IsValid() bool {
	return p.state&StateInvalid == 0
}

// Snapshot returns the most recent snapshot of the process.
func (p *Process) Snapshot() *Snapshot {
	return &p.snapshot
}

// Merge copies a new snapshot into the process, moving it from NEW to ALIVE.
func (p *Process) Merge(s *Snapshot) {
	if p.state&StateNew != 0 || mainAttrsDiffer(&p.snapshot, s) {
		p.changed = p.iter.Value()
	}

	p.snapshot = *s
	p.snapshot.Pid = p.pid
	if s.Cmdline != nil {
		p.snapshot.Cmdline = append([]string(nil), s.Cmdline...)
	}
	if s.Cgroups != nil {
		p.snapshot.Cgroups = append([]string(nil), s.Cgroups...)
	}

	p.state &^= StateNew
	p.state |= StateAlive
	if s.Basic {
		p.state |= StateBasic
	} else {
		p.state &^= StateBasic
	}
}

// Invalidate marks the process as gone from the OS.
func (p *Process) Invalidate() {
	p.state |= StateInvalid
	p.state &^= StateAlive
}

// Hold adds an owner to the process. The owner count is updated atomically,
// so external holders may hold and release while an iteration runs.
func (p *Process) Hold() *Process {
	atomic.AddInt32(&p.owners, 1)
	return p
}

// Release drops an owner of the process. Releasing an unowned process is a
// bookkeeping bug and panics.
func (p *Process) Release() {
	if atomic.AddInt32(&p.owners, -1) < 0 {
		atomic.AddInt32(&p.owners, 1)
		log.Panic("owner count underflow for process %d", p.pid)
	}
}

// Owners returns the number of owners holding the process.
func (p *Process) Owners() int {
	return int(atomic.LoadInt32(&p.owners))
}

// Collectable returns true for invalid processes nobody holds any more.
func (p *Process) Collectable() bool {
	return !p.IsValid() && p.Owners() == 0
}

// Node returns the tree node index of the process.
func (p *Process) Node() int {
	return p.node
}

// SetNode sets the tree node index of the process.
func (p *Process) SetNode(idx int) {
	p.node = idx
}

// Pgrp returns the effective process group, the fake one if set.
func (p *Process) Pgrp() int {
	if p.fakePgrp != 0 {
		return p.fakePgrp
	}
	return p.snapshot.Pgrp
}

// SetFakePgrp overrides the process group presented to policy.
func (p *Process) SetFakePgrp(pgrp int) {
	p.fakePgrpOld = p.fakePgrp
	p.fakePgrp = pgrp
	if p.fakePgrpOld != pgrp {
		p.changed = p.iter.Value()
	}
}

// FakePgrp returns the current and previous fake process group.
func (p *Process) FakePgrp() (int, int) {
	return p.fakePgrp, p.fakePgrpOld
}

// Session returns the effective session, the fake one if set.
func (p *Process) Session() int {
	if p.fakeSession != 0 {
		return p.fakeSession
	}
	return p.snapshot.Session
}

// SetFakeSession overrides the session presented to policy.
func (p *Process) SetFakeSession(session int) {
	p.fakeSessionOld = p.fakeSession
	p.fakeSession = session
	if p.fakeSessionOld != session {
		p.changed = p.iter.Value()
	}
}

// FakeSession returns the current and previous fake session.
func (p *Process) FakeSession() (int, int) {
	return p.fakeSession, p.fakeSessionOld
}

// Changed returns the iteration of the last change to flags or main attributes.
func (p *Process) Changed() uint64 {
	return p.changed
}

// FlagsChanged returns the iteration of the last change to the flags.
func (p *Process) FlagsChanged() uint64 {
	return p.flagsChanged
}

func (p *Process) String() string {
	return fmt.Sprintf("%d(%s)", p.pid, p.snapshot.Comm)
}
