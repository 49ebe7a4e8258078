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
	"time"

	"github.com/intel/latency-manager/pkg/latency-manager/filter"
	"github.com/intel/latency-manager/pkg/latency-manager/process"
	logger "github.com/intel/latency-manager/pkg/log"
)

// FilterStats counts what happened to a filter during pipeline passes.
type FilterStats struct {
	Passes      uint64 // passes run
	Skipped     uint64 // passes skipped by the pre-check
	Evaluations uint64 // callbacks invoked
	Cached      uint64 // evaluations suppressed by a cached decision
	Gated       uint64 // evaluations suppressed by the check gate
	Blocked     uint64 // evaluations suppressed by a subtree skip
	Decisions   uint64 // non-zero results
	Errors      uint64 // failed callbacks
}

// FilterInfo describes a registered filter.
type FilterInfo struct {
	ID    process.FilterID
	Name  string
	Type  filter.Type
	Stats FilterStats
}

type registeredFilter struct {
	id     process.FilterID
	filter filter.Filter
	stats  FilterStats
}

// Pipeline runs the registered filters over the process tree.
type Pipeline struct {
	registry *Registry
	clock    Clock
	filters  []*registeredFilter
	nextID   process.FilterID
	stale    bool
	errlog   logger.Logger
}

// NewPipeline creates a pipeline for the processes of the given registry.
func NewPipeline(registry *Registry, clock Clock) *Pipeline {
	return &Pipeline{
		registry: registry,
		clock:    clock,
		errlog:   logger.RateLimit(log, logger.Interval(time.Minute)),
	}
}

// Register appends a filter to the pipeline and returns its identity.
func (pl *Pipeline) Register(f filter.Filter) process.FilterID {
	pl.nextID++
	pl.filters = append(pl.filters, &registeredFilter{id: pl.nextID, filter: f})
	log.Info("registered %s filter %s as #%d", f.Type(), f.Name(), pl.nextID)
	return pl.nextID
}

// Unregister removes a filter from the pipeline. Decisions cached for the
// filter are purged by the next run.
func (pl *Pipeline) Unregister(id process.FilterID) bool {
	for i, rf := range pl.filters {
		if rf.id == id {
			pl.filters = append(pl.filters[:i], pl.filters[i+1:]...)
			pl.stale = true
			log.Info("unregistered filter %s (#%d)", rf.filter.Name(), id)
			return true
		}
	}
	return false
}

// Filters returns information about the registered filters in evaluation order.
func (pl *Pipeline) Filters() []FilterInfo {
	infos := make([]FilterInfo, 0, len(pl.filters))
	for _, rf := range pl.filters {
		infos = append(infos, FilterInfo{
			ID:    rf.id,
			Name:  rf.filter.Name(),
			Type:  rf.filter.Type(),
			Stats: rf.stats,
		})
	}
	return infos
}

// Run runs one pass of every registered filter in registration order.
func (pl *Pipeline) Run() {
	if pl.stale {
		pl.purge()
	}

	for _, rf := range pl.filters {
		if pre, ok := rf.filter.(filter.PreChecker); ok && !pre.PreCheck() {
			log.Debug("filter %s: pre-check declined pass", rf.filter.Name())
			rf.stats.Skipped++
			continue
		}

		pl.runPass(rf)

		if post, ok := rf.filter.(filter.PostChecker); ok {
			post.PostCheck()
		}
	}
}

// RunFilter runs one pass of a single filter, ignoring its pre- and post-check.
func (pl *Pipeline) RunFilter(id process.FilterID) bool {
	for _, rf := range pl.filters {
		if rf.id == id {
			pl.runPass(rf)
			return true
		}
	}
	return false
}

// runPass walks the tree in pre-order evaluating the filter for every node
// not below a node which asked to skip its subtree.
func (pl *Pipeline) runPass(rf *registeredFilter) {
	tree := pl.registry.Tree()
	now := pl.clock.Now()
	blocked := process.NoNode

	rf.stats.Passes++

	tree.Walk(func(idx int, p *process.Process) bool {
		if blocked != process.NoNode {
			if tree.IsAncestor(blocked, idx) {
				rf.stats.Blocked++
				return true
			}
			blocked = process.NoNode
		}

		if r := pl.evaluate(rf, p, now); r.IsSkipSubtree() {
			blocked = idx
		}
		return true
	})
}

// evaluate runs the filter for the process unless a cached decision or the
// check gate suppresses it, then caches the decision.
func (pl *Pipeline) evaluate(rf *registeredFilter, p *process.Process, now time.Time) filter.Result {
	if d, ok := p.Decision(rf.id); ok && d.Suppressed(now) {
		rf.stats.Cached++
		return filter.None
	}

	if c, ok := rf.filter.(filter.Checker); ok && !c.Check(p) {
		rf.stats.Gated++
		return filter.None
	}

	rf.stats.Evaluations++
	r, err := rf.filter.Callback(p)
	if err != nil {
		rf.stats.Errors++
		pl.errlog.Warn("filter %s failed for %s: %v", rf.filter.Name(), p, err)
		return filter.None
	}
	if r == filter.None {
		return filter.None
	}

	rf.stats.Decisions++
	d := p.CacheDecision(rf.id)
	switch {
	case r.IsStop():
		d.Skip = true
	case r.Timeout() > 0:
		d.NextEligible = now.Add(r.Timeout())
	}

	if log.DebugEnabled() {
		log.Debug("filter %s: %s => %s", rf.filter.Name(), p, r)
	}

	return r
}

// purge drops decisions cached for unregistered filters.
func (pl *Pipeline) purge() {
	valid := make(map[process.FilterID]struct{}, len(pl.filters))
	for _, rf := range pl.filters {
		valid[rf.id] = struct{}{}
	}
	purged := 0
	for _, p := range pl.registry.Processes() {
		purged += p.PurgeDecisions(func(id process.FilterID) bool {
			_, ok := valid[id]
			return ok
		})
	}
	if purged > 0 {
		log.Debug("purged %d stale cached decisions", purged)
	}
	pl.stale = false
}
