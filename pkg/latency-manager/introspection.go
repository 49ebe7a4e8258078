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

package latencymgr

import (
	"net/http"
	"sort"

	"github.com/intel/latency-manager/pkg/instrumentation"
	xhttp "github.com/intel/latency-manager/pkg/instrumentation/http"
	"github.com/intel/latency-manager/pkg/latency-manager/engine"
	"github.com/intel/latency-manager/pkg/latency-manager/process"
	"github.com/intel/latency-manager/pkg/latency-manager/scheduler"
	"github.com/intel/latency-manager/pkg/version"
)

const (
	processesPath = "/processes"
	filtersPath   = "/filters"
	versionPath   = "/version"
)

// Process is the external representation of a process and its subtree.
type Process struct {
	Pid      int        `json:"pid"`
	Ppid     int        `json:"ppid"`
	Name     string     `json:"name"`
	State    string     `json:"state"`
	Pgrp     int        `json:"pgrp"`
	Session  int        `json:"session"`
	Flags    []string   `json:"flags,omitempty"`
	Children []*Process `json:"children,omitempty"`
}

// Filter is the external representation of a registered filter.
type Filter struct {
	Name  string             `json:"name"`
	Type  string             `json:"type"`
	Stats engine.FilterStats `json:"stats"`
}

// Processes returns the process tree of the engine.
func Processes(e *engine.Engine) []*Process {
	roots := []*Process{}
	e.Do(func(v scheduler.Processes) {
		nodes := map[*process.Process]*Process{}
		v.Walk(func(p *process.Process) bool {
			n := exportProcess(p)
			nodes[p] = n
			if parent, ok := nodes[v.Parent(p)]; ok {
				parent.Children = append(parent.Children, n)
			} else {
				roots = append(roots, n)
			}
			return true
		})
	})
	return roots
}

func exportProcess(p *process.Process) *Process {
	n := &Process{
		Pid:     p.Pid(),
		Ppid:    p.Ppid(),
		Name:    p.Snapshot().Comm,
		State:   p.State().String(),
		Pgrp:    p.Pgrp(),
		Session: p.Session(),
	}
	for _, f := range p.Flags() {
		n.Flags = append(n.Flags, f.String())
	}
	sort.Strings(n.Flags)
	return n
}

// Filters returns the registered filters of the engine, in pipeline order.
func Filters(e *engine.Engine) []*Filter {
	filters := []*Filter{}
	for _, info := range e.Filters() {
		filters = append(filters, &Filter{
			Name:  info.Name,
			Type:  string(info.Type),
			Stats: info.Stats,
		})
	}
	return filters
}

// setupIntrospection serves our process tree and filters over HTTP.
func (m *latencymgr) setupIntrospection() {
	mux := instrumentation.GetHTTPMux()
	handlers := map[string]func() interface{}{
		processesPath: func() interface{} { return Processes(m.engine) },
		filtersPath:   func() interface{} { return Filters(m.engine) },
		versionPath:   func() interface{} { return version.Get() },
	}
	for path, export := range handlers {
		export := export
		err := mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			xhttp.ServeJSON(w, export())
		})
		if err != nil {
			m.Warn("failed to set up introspection: %v", err)
		}
	}
}

func (m *latencymgr) stopIntrospection() {
	mux := instrumentation.GetHTTPMux()
	mux.Unregister(processesPath)
	mux.Unregister(filtersPath)
	mux.Unregister(versionPath)
}
