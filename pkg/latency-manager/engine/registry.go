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
	"sort"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
)

// Registry owns the processes of an engine, keyed by pid, and their tree.
type Registry struct {
	procs   map[int]*process.Process
	retired []*process.Process
	tree    *Tree
	iter    *process.Counter
}

// RefreshStats summarizes the changes made by one refresh.
type RefreshStats struct {
	Added    []*process.Process // processes seen for the first time
	Removed  int                // processes gone from the OS
	Deferred int                // processes left detached for an inconsistent parent chain
	Rebuilt  bool               // whether the tree had to be rebuilt
}

// NewRegistry creates an empty registry.
func NewRegistry(iter *process.Counter) *Registry {
	return &Registry{
		procs: map[int]*process.Process{},
		tree:  NewTree(),
		iter:  iter,
	}
}

// Tree returns the process tree of the registry.
func (r *Registry) Tree() *Tree {
	return r.tree
}

// Lookup returns the resident process with the given pid, or nil.
func (r *Registry) Lookup(pid int) *process.Process {
	return r.procs[pid]
}

// Len returns the number of resident processes.
func (r *Registry) Len() int {
	return len(r.procs)
}

// Processes returns all resident processes sorted by pid.
func (r *Registry) Processes() []*process.Process {
	procs := make([]*process.Process, 0, len(r.procs))
	for _, pid := range r.pids() {
		procs = append(procs, r.procs[pid])
	}
	return procs
}

// Retired returns the number of removed processes still held by someone.
func (r *Registry) Retired() int {
	return len(r.retired)
}

// Upsert merges a snapshot into the registry, creating the process if
// necessary. Returns the resident process and whether it was created.
func (r *Registry) Upsert(s *process.Snapshot) (*process.Process, bool) {
	p, ok := r.procs[s.Pid]
	if !ok {
		p = process.New(s.Pid, r.iter).Hold()
		r.procs[s.Pid] = p
	}
	p.Merge(s)
	return p, !ok
}

// Remove marks the process invalid, detaches its subtree from the tree and
// drops it from the registry. The descendants stay resident but detached.
func (r *Registry) Remove(pid int) []*process.Process {
	p, ok := r.procs[pid]
	if !ok {
		return nil
	}

	p.Invalidate()
	detached := r.tree.Detach(p)
	delete(r.procs, pid)
	p.Release()

	if !p.Collectable() {
		r.retired = append(r.retired, p)
	}

	if len(detached) > 0 {
		return detached[1:]
	}
	return nil
}

// Collect drops retired processes which nobody holds any more.
func (r *Registry) Collect() int {
	kept := r.retired[:0]
	for _, p := range r.retired {
		if !p.Collectable() {
			kept = append(kept, p)
		}
	}
	collected := len(r.retired) - len(kept)
	for i := len(kept); i < len(r.retired); i++ {
		r.retired[i] = nil
	}
	r.retired = kept
	return collected
}

// Refresh merges a full snapshot of the OS into the registry. Processes
// missing from the snapshot are removed, the rest upserted and attached to
// the tree in snapshot order. Processes whose chain of parents is broken
// within the snapshot are left detached until a later snapshot completes
// the chain. If an attach fails the tree is rebuilt.
func (r *Registry) Refresh(snaps []*process.Snapshot) *RefreshStats {
	stats := &RefreshStats{}

	present := make(map[int]*process.Snapshot, len(snaps))
	for _, s := range snaps {
		present[s.Pid] = s
	}
	deferred := brokenChains(present)
	stats.Deferred = len(deferred)

	for _, pid := range r.pids() {
		if _, ok := present[pid]; !ok {
			log.Debug("process %d is gone", pid)
			r.Remove(pid)
			stats.Removed++
		}
	}

	rebuild := false
	for _, s := range snaps {
		p, created := r.Upsert(s)
		if created {
			stats.Added = append(stats.Added, p)
		}
		if _, ok := deferred[p.Pid()]; ok {
			r.tree.Detach(p)
			continue
		}
		if !r.place(p) {
			rebuild = true
		}
	}

	// catch up with descendants of processes detached or moved after them
	for _, pid := range r.pids() {
		p := r.procs[pid]
		if _, ok := deferred[pid]; ok || p.Node() != process.NoNode {
			continue
		}
		if !r.place(p) {
			rebuild = true
		}
	}

	if rebuild {
		log.Debug("incremental tree update failed, rebuilding")
		r.Rebuild(deferred)
		stats.Rebuilt = true
	}

	return stats
}

// place attaches or moves a process under the node of its parent. Returns
// false if the parent is not resident and attached.
func (r *Registry) place(p *process.Process) bool {
	parent := rootNode
	if ppid := p.Ppid(); ppid != 0 {
		pp, ok := r.procs[ppid]
		if !ok || pp.Node() == process.NoNode {
			return false
		}
		parent = pp.Node()
	}

	if p.Node() == process.NoNode {
		r.tree.Attach(p, parent)
		return true
	}
	if r.tree.ParentNode(p.Node()) == parent {
		return true
	}

	log.Debug("%s: reparenting under %d", p, p.Ppid())
	if err := r.tree.Move(p, parent); err != nil {
		log.Debug("%v", err)
		return false
	}
	return true
}

// Rebuild recreates the tree from scratch. Every resident process not in
// skip is first attached flat under the root, then moved under its parent.
// A missing parent at this point is a bookkeeping bug and panics.
func (r *Registry) Rebuild(skip map[int]struct{}) {
	r.tree.Clear()

	pids := []int{}
	for _, pid := range r.pids() {
		if _, ok := skip[pid]; !ok {
			pids = append(pids, pid)
		}
	}

	for _, pid := range pids {
		r.tree.Attach(r.procs[pid], rootNode)
	}

	for _, pid := range pids {
		p := r.procs[pid]
		ppid := p.Ppid()
		if ppid == 0 {
			continue
		}
		pp, ok := r.procs[ppid]
		if !ok || pp.Node() == process.NoNode {
			log.Panic("%s: parent %d missing while rebuilding process tree", p, ppid)
		}
		if err := r.tree.Move(p, pp.Node()); err != nil {
			log.Panic("failed to rebuild process tree: %v", err)
		}
	}
}

func (r *Registry) pids() []int {
	pids := make([]int, 0, len(r.procs))
	for pid := range r.procs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// brokenChains returns the pids of snapshots whose chain of parents does not
// lead to a top-level process within the same snapshot.
func brokenChains(present map[int]*process.Snapshot) map[int]struct{} {
	const (
		unknown = iota
		visiting
		complete
		broken
	)

	state := make(map[int]int, len(present))
	deferred := map[int]struct{}{}

	for pid := range present {
		chain := []int{}
		result := complete
		for cur := pid; ; {
			switch state[cur] {
			case complete:
				result = complete
			case broken, visiting:
				result = broken
			default:
				s, ok := present[cur]
				if !ok {
					result = broken
					break
				}
				state[cur] = visiting
				chain = append(chain, cur)
				if s.Ppid == 0 {
					result = complete
					break
				}
				cur = s.Ppid
				continue
			}
			break
		}
		for _, c := range chain {
			state[c] = result
			if result == broken {
				deferred[c] = struct{}{}
			}
		}
	}

	return deferred
}
