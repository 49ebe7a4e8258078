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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/latency-manager/pkg/latency-manager/filter"
	"github.com/intel/latency-manager/pkg/latency-manager/process"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestPipeline(t *testing.T, pairs ...[2]int) (*Pipeline, *Registry, *fakeClock) {
	r := NewRegistry(&process.Counter{})
	r.Refresh(snaps(pairs...))
	require.NoError(t, r.Tree().Verify())
	clock := &fakeClock{now: time.Unix(1000, 0)}
	return NewPipeline(r, clock), r, clock
}

// counter is a filter callback counting evaluations per pid.
type counter struct {
	calls  map[int]int
	order  []int
	result func(p *process.Process) (filter.Result, error)
}

func newCounter(result func(p *process.Process) (filter.Result, error)) *counter {
	return &counter{calls: map[int]int{}, result: result}
}

func (c *counter) callback(p *process.Process) (filter.Result, error) {
	c.calls[p.Pid()]++
	c.order = append(c.order, p.Pid())
	if c.result == nil {
		return filter.None, nil
	}
	return c.result(p)
}

func (c *counter) reset() {
	c.order = nil
}

func resultFor(pid int, r filter.Result) func(*process.Process) (filter.Result, error) {
	return func(p *process.Process) (filter.Result, error) {
		if p.Pid() == pid {
			return r, nil
		}
		return filter.None, nil
	}
}

func TestStopIsCached(t *testing.T) {
	pl, r, _ := newTestPipeline(t, [2]int{1, 0}, [2]int{2, 1}, [2]int{3, 1})
	c := newCounter(func(*process.Process) (filter.Result, error) { return filter.Stop, nil })
	id := pl.Register(&filter.Funcs{FilterName: "stop", CallbackFn: c.callback})

	pl.Run()
	pl.Run()
	require.Equal(t, map[int]int{1: 1, 2: 1, 3: 1}, c.calls)

	d, ok := r.Lookup(2).Decision(id)
	require.True(t, ok)
	require.True(t, d.Skip)

	stats := pl.Filters()[0].Stats
	require.Equal(t, uint64(2), stats.Passes)
	require.Equal(t, uint64(3), stats.Evaluations)
	require.Equal(t, uint64(3), stats.Cached)
	require.Equal(t, uint64(3), stats.Decisions)
}

func TestTimeoutIsCached(t *testing.T) {
	pl, r, clock := newTestPipeline(t, [2]int{1, 0})
	c := newCounter(resultFor(1, filter.Timeout(10*time.Second)))
	id := pl.Register(&filter.Funcs{FilterName: "timeout", CallbackFn: c.callback})

	start := clock.now
	pl.Run()
	require.Equal(t, 1, c.calls[1])
	d, _ := r.Lookup(1).Decision(id)
	require.Equal(t, start.Add(10*time.Second), d.NextEligible)
	require.False(t, d.Skip)

	clock.Advance(5 * time.Second)
	pl.Run()
	require.Equal(t, 1, c.calls[1], "suppressed at T+5s")

	clock.Advance(6 * time.Second)
	pl.Run()
	require.Equal(t, 2, c.calls[1], "re-evaluated at T+11s")
}

func TestSkipSubtree(t *testing.T) {
	pl, _, _ := newTestPipeline(t,
		[2]int{1, 0}, [2]int{2, 1}, [2]int{3, 2}, [2]int{6, 3}, [2]int{4, 1}, [2]int{5, 0})

	skipped := false
	c := newCounter(func(p *process.Process) (filter.Result, error) {
		if p.Pid() == 2 && !skipped {
			skipped = true
			return filter.SkipSubtree, nil
		}
		return filter.None, nil
	})
	pl.Register(&filter.Funcs{FilterName: "skip", CallbackFn: c.callback})

	pl.Run()
	require.Equal(t, []int{1, 2, 4, 5}, c.order)
	require.Equal(t, uint64(2), pl.Filters()[0].Stats.Blocked)

	c.reset()
	pl.Run()
	require.Equal(t, []int{1, 2, 3, 6, 4, 5}, c.order, "skip lasts one pass")
}

func TestStopAndSkipSubtree(t *testing.T) {
	pl, _, _ := newTestPipeline(t, [2]int{1, 0}, [2]int{2, 1}, [2]int{3, 0})
	c := newCounter(resultFor(1, filter.Stop|filter.SkipSubtree))
	pl.Register(&filter.Funcs{FilterName: "stop-skip", CallbackFn: c.callback})

	pl.Run()
	require.Equal(t, []int{1, 3}, c.order)

	c.reset()
	pl.Run()
	require.Equal(t, []int{2, 3}, c.order, "cached stop does not skip the subtree")
}

func TestNoneIsNotCached(t *testing.T) {
	pl, r, _ := newTestPipeline(t, [2]int{1, 0}, [2]int{2, 1})
	c := newCounter(nil)
	pl.Register(&filter.Funcs{FilterName: "none", CallbackFn: c.callback})

	for i := 0; i < 3; i++ {
		pl.Run()
	}
	require.Equal(t, map[int]int{1: 3, 2: 3}, c.calls)
	for _, p := range r.Processes() {
		require.Zero(t, p.DecisionCount())
	}
	require.Zero(t, pl.Filters()[0].Stats.Decisions)
}

func TestCheckGate(t *testing.T) {
	pl, r, _ := newTestPipeline(t, [2]int{1, 0}, [2]int{2, 1})
	c := newCounter(func(*process.Process) (filter.Result, error) { return filter.Stop, nil })
	open := false
	pl.Register(&filter.Funcs{
		FilterName: "gated",
		CheckFn:    func(p *process.Process) bool { return open || p.Pid() != 2 },
		CallbackFn: c.callback,
	})

	pl.Run()
	require.Equal(t, map[int]int{1: 1}, c.calls)
	require.Zero(t, r.Lookup(2).DecisionCount(), "gate result is not cached")
	require.Equal(t, uint64(1), pl.Filters()[0].Stats.Gated)

	open = true
	pl.Run()
	require.Equal(t, map[int]int{1: 1, 2: 1}, c.calls)
}

func TestPrePostCheck(t *testing.T) {
	pl, _, _ := newTestPipeline(t, [2]int{1, 0})
	c := newCounter(nil)
	enabled, posts := false, 0
	pl.Register(&filter.Funcs{
		FilterName: "prepost",
		PreFn:      func() bool { return enabled },
		CallbackFn: c.callback,
		PostFn:     func() { posts++ },
	})

	pl.Run()
	require.Empty(t, c.calls)
	require.Zero(t, posts)
	require.Equal(t, uint64(1), pl.Filters()[0].Stats.Skipped)

	enabled = true
	pl.Run()
	require.Equal(t, 1, c.calls[1])
	require.Equal(t, 1, posts)
}

func TestCallbackError(t *testing.T) {
	pl, r, _ := newTestPipeline(t, [2]int{1, 0}, [2]int{2, 1})
	c := newCounter(func(p *process.Process) (filter.Result, error) {
		if p.Pid() == 1 {
			return filter.Stop | filter.SkipSubtree, fmt.Errorf("failed")
		}
		return filter.None, nil
	})
	pl.Register(&filter.Funcs{FilterName: "failing", CallbackFn: c.callback})

	pl.Run()
	pl.Run()
	require.Equal(t, map[int]int{1: 2, 2: 2}, c.calls, "errors yield no decision")
	require.Zero(t, r.Lookup(1).DecisionCount())
	require.Equal(t, uint64(2), pl.Filters()[0].Stats.Errors)
}

func TestFilterOrder(t *testing.T) {
	pl, _, _ := newTestPipeline(t, [2]int{1, 0}, [2]int{2, 1})
	trace := []string{}
	for _, name := range []string{"a", "b"} {
		name := name
		pl.Register(&filter.Funcs{
			FilterName: name,
			CallbackFn: func(p *process.Process) (filter.Result, error) {
				trace = append(trace, fmt.Sprintf("%s:%d", name, p.Pid()))
				return filter.None, nil
			},
		})
	}

	pl.Run()
	require.Equal(t, []string{"a:1", "a:2", "b:1", "b:2"}, trace)
}

func TestUnregisterPurgesDecisions(t *testing.T) {
	pl, r, _ := newTestPipeline(t, [2]int{1, 0}, [2]int{2, 1})
	stop := func(*process.Process) (filter.Result, error) { return filter.Stop, nil }

	a := pl.Register(&filter.Funcs{FilterName: "a", CallbackFn: stop})
	b := pl.Register(&filter.Funcs{FilterName: "b", CallbackFn: stop})
	require.NotEqual(t, a, b)

	pl.Run()
	require.Equal(t, 2, r.Lookup(1).DecisionCount())

	require.True(t, pl.Unregister(a))
	require.False(t, pl.Unregister(a))
	require.Len(t, pl.Filters(), 1)

	pl.Run()
	for _, p := range r.Processes() {
		require.Equal(t, 1, p.DecisionCount())
		_, ok := p.Decision(a)
		require.False(t, ok)
		_, ok = p.Decision(b)
		require.True(t, ok)
	}

	c := pl.Register(&filter.Funcs{FilterName: "c", CallbackFn: stop})
	require.NotEqual(t, a, c, "identities are not reused")
}

func TestRunFilter(t *testing.T) {
	pl, _, _ := newTestPipeline(t, [2]int{1, 0})
	c := newCounter(nil)
	id := pl.Register(&filter.Funcs{
		FilterName: "single",
		PreFn:      func() bool { return false },
		CallbackFn: c.callback,
	})

	require.True(t, pl.RunFilter(id))
	require.Equal(t, 1, c.calls[1])
	require.False(t, pl.RunFilter(id+1))
}
