// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// state is the global runtime state of logging.
type state struct {
	sync.RWMutex
	level    Level                // lowest severity passed through
	forced   bool                 // forced full debugging
	backends map[string]BackendFn // registered backends
	active   Backend              // active backend
	sources  map[string]*source   // known log sources
	enable   srcmap               // logging state by source pattern
	debug    srcmap               // debugging state by source pattern
}

var log = &state{
	level: DefaultLevel,
	backends: map[string]BackendFn{
		FmtBackendName: createFmtBackend,
	},
	active:  createFmtBackend(),
	sources: map[string]*source{},
	enable:  srcmap{"*": true},
	debug:   srcmap{},
}

// NewLogger creates a Logger for the given source, or returns the existing one.
func NewLogger(source string) Logger {
	log.Lock()
	defer log.Unlock()
	return log.get(source)
}

// Get is an alias for NewLogger.
func Get(source string) Logger {
	return NewLogger(source)
}

// SetLevel sets the lowest severity level of messages to pass through.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// SetBackend activates the backend registered with the given name.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()
	return log.setBackend(name)
}

// SetSources sets which sources produce non-debug messages.
func SetSources(spec string) error {
	m := srcmap{}
	if err := m.parse(spec); err != nil {
		return err
	}

	log.Lock()
	defer log.Unlock()
	log.update(m, nil)
	return nil
}

// SetDebug sets which sources produce debug messages.
func SetDebug(spec string) error {
	m := srcmap{}
	if err := m.parse(spec); err != nil {
		return err
	}

	log.Lock()
	defer log.Unlock()
	log.update(nil, m)
	return nil
}

// ForceDebug turns forced full debugging on or off, returning the old state.
func ForceDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()
	old := log.forced
	log.forced = state
	return old
}

// Flush flushes any buffered messages of the active backend.
func Flush() {
	log.RLock()
	defer log.RUnlock()
	log.active.Flush()
}

// Sync waits for all messages to get emitted by the active backend.
func Sync() {
	log.RLock()
	defer log.RUnlock()
	log.active.Sync()
}

func (s *state) get(name string) logger {
	src, ok := s.sources[name]
	if !ok {
		src = &source{name: name}
		s.configure(src)
		s.sources[name] = src
		s.realign()
	}
	return logger{src: src}
}

func (s *state) setBackend(name string) error {
	if s.active != nil && s.active.Name() == name {
		return nil
	}
	fn, ok := s.backends[name]
	if !ok {
		return loggerError("unknown logger backend %q", name)
	}
	if s.active != nil {
		s.active.Stop()
	}
	s.active = fn()
	s.realign()
	return nil
}

// update replaces the source maps which are non-nil and reconfigures sources.
func (s *state) update(enable, debug srcmap) {
	if enable != nil {
		s.enable = enable
	}
	if debug != nil {
		s.debug = debug
	}
	for _, src := range s.sources {
		s.configure(src)
	}
}

func (s *state) configure(src *source) {
	src.logging = s.enable.enabled(src.name, true)
	src.debugging = s.debug.enabled(src.name, false)
}

func (s *state) realign() {
	max := 0
	for name := range s.sources {
		if len(name) > max {
			max = len(name)
		}
	}
	s.active.SetSourceAlignment(max)
}

// srcmap tracks logging or debugging state by source name or pattern.
type srcmap map[string]bool

// parse parses a source map spec of the form [on:|off:]src1,src2,...
func (m srcmap) parse(value string) error {
	prev := ""
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		state, src := "", entry
		if split := strings.SplitN(entry, ":", 2); len(split) == 2 {
			state, src = split[0], split[1]
		}
		if state == "" {
			state = prev
		}
		if state == "" {
			state = "on"
		}
		prev = state

		var enabled bool
		switch strings.ToLower(state) {
		case "on", "enable", "enabled", "true":
			enabled = true
		case "off", "disable", "disabled", "false":
			enabled = false
		default:
			return loggerError("invalid state %q in source map %q", state, value)
		}

		if src == "all" {
			src = "*"
		}
		if _, err := filepath.Match(src, ""); err != nil {
			return loggerError("invalid source pattern %q: %v", src, err)
		}
		m[src] = enabled
	}
	return nil
}

// enabled checks the state of a source, exact names first, then patterns.
func (m srcmap) enabled(name string, def bool) bool {
	if state, ok := m[name]; ok {
		return state
	}
	for _, pattern := range m.patterns() {
		if ok, _ := filepath.Match(pattern, name); ok {
			return m[pattern]
		}
	}
	if state, ok := m["*"]; ok {
		return state
	}
	return def
}

// patterns returns the non-wildcard patterns of the map, longest first.
func (m srcmap) patterns() []string {
	patterns := []string{}
	for p := range m {
		if p != "*" && strings.ContainsAny(p, "*?[") {
			patterns = append(patterns, p)
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
	return patterns
}

// String returns the map in the same format parse accepts.
func (m srcmap) String() string {
	on, off := []string{}, []string{}
	for src, state := range m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	parts := []string{}
	if len(on) > 0 {
		parts = append(parts, "on:"+strings.Join(on, ","))
	}
	if len(off) > 0 {
		parts = append(parts, "off:"+strings.Join(off, ","))
	}
	return strings.Join(parts, ",")
}

// loggerError returns a package-specific formatted error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}

// binaryName is the source name of the default logger.
func binaryName() string {
	return filepath.Base(filepath.Clean(os.Args[0]))
}
