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
	"github.com/intel/latency-manager/pkg/latency-manager/process"
)

// rootNode is the index of the synthetic root of the tree.
const rootNode = 0

// node is one slot in the tree arena. Nodes refer to each other by index.
type node struct {
	proc     *process.Process
	parent   int
	children []int
	used     bool
}

// Tree is the process hierarchy below a synthetic, dataless root.
type Tree struct {
	nodes []node
	free  []int
	count int
}

// NewTree creates a tree with only the root node.
func NewTree() *Tree {
	t := &Tree{}
	t.Clear()
	return t
}

// Len returns the number of processes attached to the tree.
func (t *Tree) Len() int {
	return t.count
}

// Clear releases every attached process and leaves a fresh root.
func (t *Tree) Clear() {
	for idx := range t.nodes {
		if idx != rootNode && t.nodes[idx].used {
			t.unref(t.nodes[idx].proc)
		}
	}
	t.nodes = []node{{parent: rootNode, used: true}}
	t.free = nil
	t.count = 0
}

// Attach creates a node for the process as the last child of the given node.
func (t *Tree) Attach(p *process.Process, parent int) {
	if p.Node() != process.NoNode {
		log.Panic("%s: already attached at node %d", p, p.Node())
	}
	if !t.valid(parent) {
		log.Panic("%s: invalid parent node %d", p, parent)
	}

	idx := t.alloc()
	t.nodes[idx] = node{proc: p, parent: parent, used: true}
	t.nodes[parent].children = append(t.nodes[parent].children, idx)
	t.count++

	p.Hold()
	p.SetNode(idx)
	p.SetState(process.StateHasParent)
}

// Move relinks the subtree of an attached process under another node. It
// fails if the new parent lies inside the subtree itself.
func (t *Tree) Move(p *process.Process, parent int) error {
	idx := p.Node()
	if !t.valid(idx) || idx == rootNode {
		return engineError("%s: not attached", p)
	}
	if !t.valid(parent) {
		return engineError("%s: invalid parent node %d", p, parent)
	}
	if parent == idx || t.IsAncestor(idx, parent) {
		return engineError("%s: moving under node %d would create a cycle", p, parent)
	}

	t.unlink(idx)
	t.nodes[idx].parent = parent
	t.nodes[parent].children = append(t.nodes[parent].children, idx)
	return nil
}

// Detach removes the subtree of the process from the tree and returns the
// detached processes in pre-order, the process itself first.
func (t *Tree) Detach(p *process.Process) []*process.Process {
	idx := p.Node()
	if idx == process.NoNode {
		return nil
	}
	if !t.valid(idx) || idx == rootNode || t.nodes[idx].proc != p {
		log.Panic("%s: corrupt tree node %d", p, idx)
	}

	t.unlink(idx)

	detached := []*process.Process{}
	t.walkFrom(idx, func(i int, q *process.Process) bool {
		detached = append(detached, q)
		return true
	})
	for _, q := range detached {
		i := q.Node()
		t.nodes[i] = node{}
		t.free = append(t.free, i)
		t.count--
		t.unref(q)
	}

	return detached
}

// Process returns the process at the given node, nil for the root.
func (t *Tree) Process(idx int) *process.Process {
	if !t.valid(idx) {
		return nil
	}
	return t.nodes[idx].proc
}

// Parent returns the parent process of an attached process, nil if the
// process is detached or a child of the root.
func (t *Tree) Parent(p *process.Process) *process.Process {
	idx := p.Node()
	if !t.valid(idx) || idx == rootNode {
		return nil
	}
	return t.nodes[t.nodes[idx].parent].proc
}

// ParentNode returns the index of the parent node of a node.
func (t *Tree) ParentNode(idx int) int {
	if !t.valid(idx) || idx == rootNode {
		return process.NoNode
	}
	return t.nodes[idx].parent
}

// Children returns the child processes of a node, in attach order.
func (t *Tree) Children(idx int) []*process.Process {
	if !t.valid(idx) {
		return nil
	}
	children := make([]*process.Process, 0, len(t.nodes[idx].children))
	for _, c := range t.nodes[idx].children {
		children = append(children, t.nodes[c].proc)
	}
	return children
}

// IsAncestor checks if node anc lies above node idx, not counting the root.
func (t *Tree) IsAncestor(anc, idx int) bool {
	if anc == rootNode {
		return false
	}
	for idx = t.ParentNode(idx); idx != rootNode && idx != process.NoNode; idx = t.ParentNode(idx) {
		if idx == anc {
			return true
		}
	}
	return false
}

// Walk visits every attached process in pre-order, stopping early if fn
// returns false.
func (t *Tree) Walk(fn func(idx int, p *process.Process) bool) {
	t.walkFrom(rootNode, fn)
}

// walkFrom walks the subtree at idx in pre-order, skipping the root itself.
func (t *Tree) walkFrom(idx int, fn func(idx int, p *process.Process) bool) {
	stack := []int{idx}
	for len(stack) > 0 {
		idx = stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.nodes[idx]
		if idx != rootNode {
			if !fn(idx, n.proc) {
				return
			}
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
}

// Verify checks the linkage of the tree and that every process sits under
// the node of its reported parent.
func (t *Tree) Verify() error {
	count := 0
	var err error
	t.Walk(func(idx int, p *process.Process) bool {
		count++
		if p.Node() != idx {
			err = engineError("%s: node %d points back to %d", p, idx, p.Node())
			return false
		}
		parent := t.nodes[idx].parent
		ppid := 0
		if parent != rootNode {
			ppid = t.nodes[parent].proc.Pid()
		}
		if ppid != p.Ppid() {
			err = engineError("%s: attached under %d, parent is %d", p, ppid, p.Ppid())
			return false
		}
		return true
	})
	if err == nil && count != t.count {
		err = engineError("%d nodes reachable, %d attached", count, t.count)
	}
	return err
}

func (t *Tree) valid(idx int) bool {
	return idx >= 0 && idx < len(t.nodes) && t.nodes[idx].used
}

func (t *Tree) alloc() int {
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		return idx
	}
	t.nodes = append(t.nodes, node{})
	return len(t.nodes) - 1
}

// unlink removes a node from the children of its parent.
func (t *Tree) unlink(idx int) {
	parent := &t.nodes[t.nodes[idx].parent]
	for i, c := range parent.children {
		if c == idx {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			return
		}
	}
}

func (t *Tree) unref(p *process.Process) {
	p.SetNode(process.NoNode)
	p.ClearState(process.StateHasParent)
	p.Release()
}
