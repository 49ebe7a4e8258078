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
	"time"
)

// FilterID identifies a registered filter.
type FilterID uint64

// Decision is the cached outcome of running a filter for a process.
type Decision struct {
	// Skip silences the filter for the process until cleared.
	Skip bool
	// NextEligible silences the filter for the process until this time.
	NextEligible time.Time
}

// Suppressed checks if the decision suppresses re-running the filter by now.
func (d *Decision) Suppressed(now time.Time) bool {
	return d.Skip || d.NextEligible.After(now)
}

// Decision returns the cached decision for the given filter.
func (p *Process) Decision(id FilterID) (*Decision, bool) {
	d, ok := p.cache[id]
	return d, ok
}

// CacheDecision returns the decision for the filter, creating one if necessary.
func (p *Process) CacheDecision(id FilterID) *Decision {
	d, ok := p.cache[id]
	if !ok {
		d = &Decision{}
		p.cache[id] = d
	}
	return d
}

// ClearDecision drops the cached decision for the given filter.
func (p *Process) ClearDecision(id FilterID) {
	delete(p.cache, id)
}

// ClearDecisions drops all cached decisions.
func (p *Process) ClearDecisions() {
	p.cache = map[FilterID]*Decision{}
}

// PurgeDecisions drops decisions of filters which are no longer valid.
func (p *Process) PurgeDecisions(valid func(FilterID) bool) int {
	purged := 0
	for id := range p.cache {
		if !valid(id) {
			delete(p.cache, id)
			purged++
		}
	}
	return purged
}

// DecisionCount returns the number of cached decisions.
func (p *Process) DecisionCount() int {
	return len(p.cache)
}
