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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestProcess(pid, ppid int, iter *Counter) *Process {
	p := New(pid, iter)
	p.Merge(&Snapshot{Pid: pid, Ppid: ppid, Comm: "test"})
	return p
}

func flagNames(p *Process) []string {
	names := []string{}
	for _, f := range p.Flags() {
		names = append(names, f.Source+"/"+f.Name)
	}
	return names
}

func TestMergeStates(t *testing.T) {
	iter := &Counter{}
	p := New(10, iter)
	require.True(t, p.Has(StateNew))
	require.False(t, p.Has(StateAlive))

	iter.Next()
	p.Merge(&Snapshot{Pid: 10, Ppid: 1, Comm: "a", Basic: true})
	require.False(t, p.Has(StateNew))
	require.True(t, p.Has(StateAlive|StateBasic))
	require.Equal(t, uint64(1), p.Changed())

	iter.Next()
	p.Merge(&Snapshot{Pid: 10, Ppid: 1, Comm: "a", Utime: 100})
	require.False(t, p.Has(StateBasic))
	require.Equal(t, uint64(1), p.Changed(), "non-identity change")

	iter.Next()
	p.Merge(&Snapshot{Pid: 10, Ppid: 1, Comm: "a", Uid: 1000})
	require.Equal(t, uint64(3), p.Changed(), "identity change")

	p.Invalidate()
	require.False(t, p.IsValid())
	require.False(t, p.Has(StateAlive))
	require.Equal(t, "invalid", p.State().String())
}

func TestAddFlag(t *testing.T) {
	iter := &Counter{}
	p := newTestProcess(1, 0, iter)
	iter.Next()

	f1 := &Flag{Source: "a", Name: "one"}
	f2 := &Flag{Source: "a", Name: "two"}

	require.True(t, p.AddFlag(f1))
	require.True(t, p.AddFlag(f2))
	require.False(t, p.AddFlag(f1), "same instance again")
	require.Equal(t, []string{"a/two", "a/one"}, flagNames(p))
	require.Equal(t, uint64(1), p.FlagsChanged())
	require.True(t, f1.Owner() == p)

	other := newTestProcess(2, 0, iter)
	require.False(t, other.AddFlag(f1), "flag owned by another process")
	require.Empty(t, other.Flags())

	require.True(t, p.DelFlag(f1))
	require.Nil(t, f1.Owner())
	require.False(t, p.DelFlag(f1))
	require.True(t, other.AddFlag(f1))
}

func TestClearFlags(t *testing.T) {
	iter := &Counter{}
	p := newTestProcess(1, 0, iter)

	for _, f := range []*Flag{
		{Source: "src1", Name: "x"},
		{Source: "src2", Name: "x"},
		{Source: "src1", Name: "y"},
		{Source: "src2", Name: "z"},
	} {
		p.AddFlag(f)
	}

	iter.Next()
	require.Equal(t, 2, p.ClearFlagsBySource("src1"))
	require.Equal(t, []string{"src2/z", "src2/x"}, flagNames(p))
	require.Equal(t, uint64(1), p.FlagsChanged())

	iter.Next()
	require.Equal(t, 0, p.ClearFlagsBySource("src3"))
	require.Equal(t, uint64(2), p.FlagsChanged(), "updated even without matches")

	require.Equal(t, 1, p.ClearFlagsByName("x"))
	require.Equal(t, []string{"src2/z"}, flagNames(p))

	require.Equal(t, 1, p.ClearFlags())
	require.Empty(t, p.Flags())
}

func TestClearExpiredFlags(t *testing.T) {
	now := time.Unix(1000, 0)
	p := newTestProcess(1, 0, &Counter{})

	p.AddFlag(&Flag{Name: "forever"})
	p.AddFlag(&Flag{Name: "expired", Timeout: now.Add(-time.Second)})
	p.AddFlag(&Flag{Name: "exact", Timeout: now})
	p.AddFlag(&Flag{Name: "later", Timeout: now.Add(time.Second)})

	require.Equal(t, 2, p.ClearExpiredFlags(now))
	require.Equal(t, []string{"/later", "/forever"}, flagNames(p))
	require.NotNil(t, p.FindFlag("later", ""))
	require.Nil(t, p.FindFlag("later", "elsewhere"))
}

func TestFakeIDs(t *testing.T) {
	iter := &Counter{}
	p := New(5, iter)
	p.Merge(&Snapshot{Pid: 5, Pgrp: 5, Session: 3})
	require.Equal(t, 5, p.Pgrp())
	require.Equal(t, 3, p.Session())

	iter.Next()
	p.SetFakePgrp(100)
	require.Equal(t, 100, p.Pgrp())
	cur, old := p.FakePgrp()
	require.Equal(t, 100, cur)
	require.Equal(t, 0, old)
	require.Equal(t, uint64(1), p.Changed())

	p.SetFakeSession(7)
	p.SetFakeSession(8)
	cur, old = p.FakeSession()
	require.Equal(t, 8, cur)
	require.Equal(t, 7, old)
	require.Equal(t, 8, p.Session())
}

func TestOwners(t *testing.T) {
	p := New(1, nil)
	p.Hold()
	p.Hold()
	require.Equal(t, 2, p.Owners())
	p.Release()
	p.Invalidate()
	require.False(t, p.Collectable())
	p.Release()
	require.True(t, p.Collectable())
	require.Panics(t, func() { p.Release() })
}

func TestDecisions(t *testing.T) {
	now := time.Unix(100, 0)
	p := New(1, nil)

	_, ok := p.Decision(1)
	require.False(t, ok)

	d := p.CacheDecision(1)
	d.NextEligible = now.Add(time.Second)
	require.True(t, d.Suppressed(now))
	require.False(t, d.Suppressed(now.Add(time.Second)))

	p.CacheDecision(2).Skip = true
	require.Equal(t, 2, p.DecisionCount())
	require.Equal(t, 1, p.PurgeDecisions(func(id FilterID) bool { return id == 1 }))
	_, ok = p.Decision(2)
	require.False(t, ok)

	p.ClearDecisions()
	require.Equal(t, 0, p.DecisionCount())
}

func TestSnapshotCgroup(t *testing.T) {
	s := &Snapshot{Cgroups: []string{
		"4:cpu,cpuacct:/user.slice",
		"2:memory:/system.slice/foo.service",
		"0::/user.slice/user-1000.slice",
	}}

	path, ok := s.Cgroup("cpu")
	require.True(t, ok)
	require.Equal(t, "/user.slice", path)

	path, ok = s.Cgroup("")
	require.True(t, ok)
	require.Equal(t, "/user.slice/user-1000.slice", path)

	_, ok = s.Cgroup("blkio")
	require.False(t, ok)
}
