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
	"context"
	"fmt"
	"sync"
	"time"

	"go.opencensus.io/trace"

	"github.com/intel/latency-manager/pkg/latency-manager/filter"
	"github.com/intel/latency-manager/pkg/latency-manager/process"
	"github.com/intel/latency-manager/pkg/latency-manager/scheduler"
	logger "github.com/intel/latency-manager/pkg/log"
)

// our logger instance
var log = logger.NewLogger("engine")

// Clock tells the time used for cached filter decisions.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}

// Options are the construction parameters of an Engine.
type Options struct {
	// Source reports the processes of the OS.
	Source process.Source
	// Clock tells the time, the wall clock if nil.
	Clock Clock
	// Strategy is the initial scheduler strategy, none if nil.
	Strategy scheduler.Strategy
}

// Stats are the cumulative statistics of an Engine.
type Stats struct {
	Iterations       uint64        // iterations started
	Failures         uint64        // iterations aborted
	Added            uint64        // processes discovered
	Removed          uint64        // processes gone
	Rebuilds         uint64        // full tree rebuilds
	SchedulingErrors uint64        // failed scheduler invocations
	LastDuration     time.Duration // duration of the last iteration
	Processes        int           // resident processes
	Attached         int           // processes in the tree
	Deferred         int           // processes left detached by the last refresh
	Retired          int           // removed processes still held
}

// Engine holds the complete process model and runs iterations over it.
type Engine struct {
	sync.Mutex
	source   process.Source
	clock    Clock
	iter     process.Counter
	registry *Registry
	pipeline *Pipeline
	slot     *scheduler.Slot
	stats    Stats
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, engineError("no process source given")
	}
	if opts.Clock == nil {
		opts.Clock = wallClock{}
	}

	e := &Engine{
		source: opts.Source,
		clock:  opts.Clock,
		slot:   scheduler.NewSlot(opts.Strategy),
	}
	e.registry = NewRegistry(&e.iter)
	e.pipeline = NewPipeline(e.registry, e.clock)

	return e, nil
}

// Iterate runs one iteration: refresh the process model from the source,
// run the filter pipeline, then the scheduler. Only a failure to access the
// source aborts the iteration.
func (e *Engine) Iterate(ctx context.Context) error {
	e.Lock()
	defer e.Unlock()

	start := time.Now()
	iteration := e.iter.Next()
	e.stats.Iterations++

	ctx, span := trace.StartSpan(ctx, "Iterate")
	defer span.End()
	span.AddAttributes(trace.Int64Attribute("iteration", int64(iteration)))

	log.Debug("starting iteration %d", iteration)

	added, err := e.refresh(ctx)
	if err != nil {
		e.stats.Failures++
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnavailable, Message: err.Error()})
		return engineError("iteration %d aborted: %w", iteration, err)
	}

	e.scheduleNew(ctx, added)
	e.filter(ctx)
	e.schedule(ctx)

	if collected := e.registry.Collect(); collected > 0 {
		log.Debug("collected %d retired processes", collected)
	}

	e.stats.LastDuration = time.Since(start)
	e.updateStats()

	log.Debug("iteration %d done in %v", iteration, e.stats.LastDuration)

	return nil
}

// refresh merges a new snapshot of the OS into the process model.
func (e *Engine) refresh(ctx context.Context) ([]*process.Process, error) {
	_, span := trace.StartSpan(ctx, "Refresh")
	defer span.End()

	if err := e.source.Open(); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.source.Close(); err != nil {
			log.Warn("failed to close process source: %v", err)
		}
	}()

	snaps, err := e.source.ReadAll()
	if err != nil {
		log.Error("failed to read processes, keeping previous state: %v", err)
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
		return nil, nil
	}

	stats := e.registry.Refresh(snaps)

	e.stats.Added += uint64(len(stats.Added))
	e.stats.Removed += uint64(stats.Removed)
	e.stats.Deferred = stats.Deferred
	if stats.Rebuilt {
		e.stats.Rebuilds++
	}

	span.AddAttributes(
		trace.Int64Attribute("processes", int64(len(snaps))),
		trace.Int64Attribute("added", int64(len(stats.Added))),
		trace.Int64Attribute("removed", int64(stats.Removed)),
		trace.BoolAttribute("rebuilt", stats.Rebuilt),
	)

	return stats.Added, nil
}

// scheduleNew offers newly discovered processes to the scheduler.
func (e *Engine) scheduleNew(ctx context.Context, added []*process.Process) {
	if len(added) == 0 {
		return
	}

	_, span := trace.StartSpan(ctx, "ScheduleNew")
	defer span.End()

	v := &view{e}
	for _, p := range added {
		if p.Node() == process.NoNode {
			continue
		}
		if err := e.slot.RunOne(v, p); err != nil {
			e.stats.SchedulingErrors++
			log.Warn("failed to schedule new process %s: %v", p, err)
		}
	}
}

// filter runs the filter pipeline.
func (e *Engine) filter(ctx context.Context) {
	_, span := trace.StartSpan(ctx, "Filter")
	defer span.End()

	e.pipeline.Run()
}

// schedule runs the scheduler for all processes.
func (e *Engine) schedule(ctx context.Context) {
	_, span := trace.StartSpan(ctx, "Schedule")
	defer span.End()

	if err := e.slot.RunAll(&view{e}); err != nil {
		e.stats.SchedulingErrors++
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
		log.Warn("scheduling failed: %v", err)
	}
}

func (e *Engine) updateStats() {
	e.stats.Processes = e.registry.Len()
	e.stats.Attached = e.registry.Tree().Len()
	e.stats.Retired = e.registry.Retired()
}

// Iteration returns the number of the current iteration.
func (e *Engine) Iteration() uint64 {
	e.Lock()
	defer e.Unlock()
	return e.iter.Value()
}

// RegisterFilter appends a filter to the pipeline. It takes part from the
// next pipeline run on.
func (e *Engine) RegisterFilter(f filter.Filter) process.FilterID {
	e.Lock()
	defer e.Unlock()
	return e.pipeline.Register(f)
}

// UnregisterFilter removes a filter from the pipeline.
func (e *Engine) UnregisterFilter(id process.FilterID) bool {
	e.Lock()
	defer e.Unlock()
	return e.pipeline.Unregister(id)
}

// ReplaceFilters unregisters a set of filters and registers another in
// their place, without letting an iteration run in between.
func (e *Engine) ReplaceFilters(old []process.FilterID, filters []filter.Filter) []process.FilterID {
	e.Lock()
	defer e.Unlock()

	for _, id := range old {
		e.pipeline.Unregister(id)
	}
	ids := make([]process.FilterID, 0, len(filters))
	for _, f := range filters {
		ids = append(ids, e.pipeline.Register(f))
	}
	return ids
}

// ClearFlagsBySource removes the flags added by any of the given sources
// from all processes. It returns the number of flags removed.
func (e *Engine) ClearFlagsBySource(sources ...string) int {
	e.Lock()
	defer e.Unlock()

	if len(sources) == 0 {
		return 0
	}
	stale := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		stale[src] = struct{}{}
	}

	cleared := 0
	for _, p := range e.registry.Processes() {
		found := map[string]struct{}{}
		for _, f := range p.Flags() {
			if _, ok := stale[f.Source]; ok {
				found[f.Source] = struct{}{}
			}
		}
		for src := range found {
			cleared += p.ClearFlagsBySource(src)
		}
	}
	return cleared
}

// Filters returns information about the registered filters.
func (e *Engine) Filters() []FilterInfo {
	e.Lock()
	defer e.Unlock()
	return e.pipeline.Filters()
}

// SetScheduler sets the scheduler strategy for the next invocation.
func (e *Engine) SetScheduler(s scheduler.Strategy) {
	e.slot.Set(s)
}

// Scheduler returns the scheduler slot of the engine.
func (e *Engine) Scheduler() *scheduler.Slot {
	return e.slot
}

// Lookup returns the process with the given pid, or nil. Callers keeping
// the process across iterations should use Hold and Release instead.
func (e *Engine) Lookup(pid int) *process.Process {
	e.Lock()
	defer e.Unlock()
	return e.registry.Lookup(pid)
}

// Hold looks up the process with the given pid and adds the caller as an
// owner of it. The process stays around, possibly invalidated, until the
// caller releases it. Returns nil for an unknown pid.
func (e *Engine) Hold(pid int) *process.Process {
	e.Lock()
	defer e.Unlock()
	p := e.registry.Lookup(pid)
	if p == nil {
		return nil
	}
	return p.Hold()
}

// Release drops an ownership taken with Hold. A process gone from the OS
// is collected by the next iteration once nobody holds it.
func (e *Engine) Release(p *process.Process) {
	e.Lock()
	defer e.Unlock()
	p.Release()
}

// Peek returns the process with the given pid without locking the engine.
// It is only safe to call from filters and strategies run by the engine.
func (e *Engine) Peek(pid int) *process.Process {
	return e.registry.Lookup(pid)
}

// ProcessCount returns the number of resident processes.
func (e *Engine) ProcessCount() int {
	e.Lock()
	defer e.Unlock()
	return e.registry.Len()
}

// Stats returns the statistics of the engine.
func (e *Engine) Stats() Stats {
	e.Lock()
	defer e.Unlock()
	return e.stats
}

// Do runs fn with the engine locked, between iterations.
func (e *Engine) Do(fn func(v scheduler.Processes)) {
	e.Lock()
	defer e.Unlock()
	fn(&view{e})
}

// view presents the process model to scheduler strategies.
type view struct {
	e *Engine
}

var _ scheduler.Processes = &view{}

func (v *view) Iteration() uint64 {
	return v.e.iter.Value()
}

func (v *view) Lookup(pid int) *process.Process {
	return v.e.registry.Lookup(pid)
}

func (v *view) Parent(p *process.Process) *process.Process {
	return v.e.registry.Tree().Parent(p)
}

func (v *view) Walk(fn func(*process.Process) bool) {
	v.e.registry.Tree().Walk(func(_ int, p *process.Process) bool {
		return fn(p)
	})
}

// engineError returns a package-specific formatted error.
func engineError(format string, args ...interface{}) error {
	return fmt.Errorf("engine: "+format, args...)
}
