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

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
	"github.com/intel/latency-manager/pkg/testutils"
)

func snaps(pairs ...[2]int) []*process.Snapshot {
	l := make([]*process.Snapshot, 0, len(pairs))
	for _, pp := range pairs {
		l = append(l, snap(pp[0], pp[1]))
	}
	return l
}

func TestRefreshIdempotent(t *testing.T) {
	iter := &process.Counter{}
	r := NewRegistry(iter)
	input := snaps([2]int{1, 0}, [2]int{2, 1}, [2]int{3, 1}, [2]int{4, 3}, [2]int{5, 0})

	iter.Next()
	stats := r.Refresh(input)
	require.Equal(t, []int{1, 2, 3, 4, 5}, pids(stats.Added))
	require.False(t, stats.Rebuilt)
	require.NoError(t, r.Tree().Verify())

	expected := map[int][]int{0: {1, 5}, 1: {2, 3}, 3: {4}}
	testutils.VerifyDeepEqual(t, "tree", expected, shape(r.Tree()))

	p3 := r.Lookup(3)
	flag := &process.Flag{Source: "test", Name: "interactive", Priority: 1}
	require.True(t, p3.AddFlag(flag))
	p3.CacheDecision(7).Skip = true
	flagsChanged, changed := p3.FlagsChanged(), p3.Changed()

	iter.Next()
	stats = r.Refresh(input)
	require.Empty(t, stats.Added)
	require.Zero(t, stats.Removed)
	require.False(t, stats.Rebuilt)
	require.Equal(t, 5, r.Len())
	require.Equal(t, 5, r.Tree().Len())
	require.NoError(t, r.Tree().Verify())
	testutils.VerifyDeepEqual(t, "tree", expected, shape(r.Tree()))

	for _, p := range r.Processes() {
		require.Equal(t, 2, p.Owners(), "registry and tree hold %s", p)
		require.True(t, p.Has(process.StateAlive))
	}

	require.True(t, r.Lookup(3) == p3)
	require.Equal(t, []*process.Flag{flag}, p3.Flags())
	require.Equal(t, flagsChanged, p3.FlagsChanged())
	require.Equal(t, changed, p3.Changed())
	d, ok := p3.Decision(7)
	require.True(t, ok)
	require.True(t, d.Skip)
	require.Equal(t, 1, p3.DecisionCount())
}

func TestRefreshRemoval(t *testing.T) {
	r := NewRegistry(&process.Counter{})
	r.Refresh(snaps([2]int{1, 0}, [2]int{2, 1}, [2]int{3, 1}))
	p1, p2, p3 := r.Lookup(1), r.Lookup(2), r.Lookup(3)

	stats := r.Refresh(snaps([2]int{2, 1}, [2]int{3, 1}))
	require.Equal(t, 1, stats.Removed)
	require.Equal(t, 2, stats.Deferred)
	require.False(t, stats.Rebuilt)

	require.Nil(t, r.Lookup(1))
	require.False(t, p1.IsValid())
	require.Equal(t, process.NoNode, p1.Node())
	require.True(t, p1.Collectable())
	require.Zero(t, r.Retired())

	for _, p := range []*process.Process{p2, p3} {
		require.True(t, r.Lookup(p.Pid()) == p)
		require.True(t, p.IsValid())
		require.Equal(t, process.NoNode, p.Node())
		require.Equal(t, 1, p.Owners())
	}
	require.Equal(t, 0, r.Tree().Len())
	require.NoError(t, r.Tree().Verify())

	// reparented, chain complete again
	stats = r.Refresh(snaps([2]int{2, 0}, [2]int{3, 2}))
	require.Zero(t, stats.Deferred)
	require.Empty(t, stats.Added)
	require.NoError(t, r.Tree().Verify())
	testutils.VerifyDeepEqual(t, "tree", map[int][]int{0: {2}, 2: {3}}, shape(r.Tree()))
}

func TestRetiredCollect(t *testing.T) {
	r := NewRegistry(&process.Counter{})
	r.Refresh(snaps([2]int{1, 0}, [2]int{2, 1}))
	p2 := r.Lookup(2).Hold()

	r.Refresh(snaps([2]int{1, 0}))
	require.False(t, p2.IsValid())
	require.Equal(t, 1, r.Retired())
	require.Zero(t, r.Collect())

	p2.Release()
	require.Equal(t, 1, r.Collect())
	require.Zero(t, r.Retired())
}

func TestRefreshReparent(t *testing.T) {
	r := NewRegistry(&process.Counter{})
	r.Refresh(snaps([2]int{1, 0}, [2]int{2, 1}, [2]int{3, 2}, [2]int{4, 3}))

	stats := r.Refresh(snaps([2]int{1, 0}, [2]int{2, 1}, [2]int{3, 1}, [2]int{4, 3}))
	require.False(t, stats.Rebuilt)
	require.NoError(t, r.Tree().Verify())
	testutils.VerifyDeepEqual(t, "tree", map[int][]int{0: {1}, 1: {2, 3}, 3: {4}}, shape(r.Tree()))
}

func TestRefreshRebuild(t *testing.T) {
	type testCase struct {
		name     string
		initial  []*process.Snapshot
		update   []*process.Snapshot
		expected map[int][]int
	}
	for _, tc := range []testCase{
		{
			name:     "child listed before parent",
			update:   snaps([2]int{3, 1}, [2]int{2, 1}, [2]int{1, 0}),
			expected: map[int][]int{0: {1}, 1: {2, 3}},
		},
		{
			name:     "reparent into own subtree",
			initial:  snaps([2]int{1, 0}, [2]int{2, 1}, [2]int{3, 2}),
			update:   snaps([2]int{1, 0}, [2]int{2, 3}, [2]int{3, 1}),
			expected: map[int][]int{0: {1}, 1: {3}, 3: {2}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry(&process.Counter{})
			if tc.initial != nil {
				require.False(t, r.Refresh(tc.initial).Rebuilt)
			}
			stats := r.Refresh(tc.update)
			require.True(t, stats.Rebuilt)
			require.NoError(t, r.Tree().Verify())
			testutils.VerifyDeepEqual(t, "tree", tc.expected, shape(r.Tree()))
			for _, p := range r.Processes() {
				require.Equal(t, 2, p.Owners())
			}
		})
	}
}

func TestRefreshCycle(t *testing.T) {
	r := NewRegistry(&process.Counter{})
	stats := r.Refresh(snaps([2]int{1, 0}, [2]int{5, 6}, [2]int{6, 5}))
	require.Equal(t, 2, stats.Deferred)
	require.Equal(t, 3, r.Len())
	require.Equal(t, 1, r.Tree().Len())
	require.Equal(t, process.NoNode, r.Lookup(5).Node())
	require.NoError(t, r.Tree().Verify())
}

func TestRebuildMissingParent(t *testing.T) {
	r := NewRegistry(&process.Counter{})
	r.Upsert(snap(1, 0))
	r.Upsert(snap(2, 9))
	require.Panics(t, func() { r.Rebuild(nil) })

	r = NewRegistry(&process.Counter{})
	r.Upsert(snap(1, 0))
	r.Upsert(snap(2, 9))
	r.Rebuild(map[int]struct{}{2: {}})
	require.Equal(t, 1, r.Tree().Len())
}

func TestBrokenChains(t *testing.T) {
	present := map[int]*process.Snapshot{}
	for _, s := range snaps(
		[2]int{1, 0}, [2]int{2, 1}, [2]int{8, 2}, // complete
		[2]int{3, 9}, [2]int{4, 3}, // missing parent
		[2]int{5, 6}, [2]int{6, 5}, [2]int{10, 6}, // cycle
		[2]int{7, 7}, // own parent
	) {
		present[s.Pid] = s
	}

	expected := map[int]struct{}{3: {}, 4: {}, 5: {}, 6: {}, 7: {}, 10: {}}
	testutils.VerifyDeepEqual(t, "deferred", expected, brokenChains(present))
}
