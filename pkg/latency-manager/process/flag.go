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
	"time"
)

// Flag is a policy annotation attached to a process.
type Flag struct {
	// Source identifies the filter or subsystem that added the flag.
	Source string
	// Name labels the flag.
	Name string
	// Reason is an optional free-text justification.
	Reason string
	// Timeout is the absolute expiry time, zero for never.
	Timeout time.Time
	// Priority, Value and Threshold are interpreted by policy.
	Priority  int32
	Value     int64
	Threshold int64
	// Inherit asks scheduler strategies to apply the flag to descendants too.
	Inherit bool

	owner *Process
}

// Expired checks if the flag has a timeout which has passed by now.
func (f *Flag) Expired(now time.Time) bool {
	return !f.Timeout.IsZero() && !f.Timeout.After(now)
}

// Owner returns the process the flag is attached to, or nil.
func (f *Flag) Owner() *Process {
	return f.owner
}

func (f *Flag) String() string {
	s := fmt.Sprintf("%s/%s", f.Source, f.Name)
	if f.Inherit {
		s += "(inherit)"
	}
	return s
}

// AddFlag attaches a flag to the front of the flags of the process. Adding
// a flag already attached is a no-op. A flag attached to another process
// is not added. Returns true if the flag was added.
func (p *Process) AddFlag(f *Flag) bool {
	if f.owner == p {
		return false
	}
	if f.owner != nil {
		log.Warn("%s: flag %s already attached to %s", p, f, f.owner)
		return false
	}

	f.owner = p
	p.flags = append([]*Flag{f}, p.flags...)
	p.markFlagsChanged()

	return true
}

// DelFlag detaches a flag from the process. Returns true if it was attached.
func (p *Process) DelFlag(f *Flag) bool {
	removed := p.removeFlags(func(o *Flag) bool { return o == f })
	return removed > 0
}

// ClearFlagsBySource removes all flags added by the given source.
func (p *Process) ClearFlagsBySource(source string) int {
	return p.removeFlags(func(f *Flag) bool { return f.Source == source })
}

// ClearFlagsByName removes all flags with the given name.
func (p *Process) ClearFlagsByName(name string) int {
	return p.removeFlags(func(f *Flag) bool { return f.Name == name })
}

// ClearFlags removes all flags.
func (p *Process) ClearFlags() int {
	return p.removeFlags(func(*Flag) bool { return true })
}

// ClearExpiredFlags removes all flags which have expired by now.
func (p *Process) ClearExpiredFlags(now time.Time) int {
	return p.removeFlags(func(f *Flag) bool { return f.Expired(now) })
}

// Flags returns the flags of the process, most recently added first.
func (p *Process) Flags() []*Flag {
	return append([]*Flag(nil), p.flags...)
}

// FindFlag returns the most recently added flag with the given name and
// optionally source, or nil.
func (p *Process) FindFlag(name, source string) *Flag {
	for _, f := range p.flags {
		if f.Name == name && (source == "" || f.Source == source) {
			return f
		}
	}
	return nil
}

// removeFlags removes the matching flags, always marking the flags changed.
func (p *Process) removeFlags(match func(*Flag) bool) int {
	kept := p.flags[:0]
	removed := 0
	for _, f := range p.flags {
		if match(f) {
			f.owner = nil
			removed++
		} else {
			kept = append(kept, f)
		}
	}
	for i := len(kept); i < len(p.flags); i++ {
		p.flags[i] = nil
	}
	p.flags = kept
	p.markFlagsChanged()

	return removed
}

func (p *Process) markFlagsChanged() {
	p.flagsChanged = p.iter.Value()
	p.changed = p.flagsChanged
}
