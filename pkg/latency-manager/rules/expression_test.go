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

package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
)

type testProcs map[int]*process.Process

func (tp testProcs) lookup(pid int) *process.Process {
	return tp[pid]
}

func (tp testProcs) subject(pid int) Evaluable {
	return newSubject(tp[pid], tp.lookup)
}

func newTestProcs() testProcs {
	tp := testProcs{}
	for _, s := range []*process.Snapshot{
		{
			Pid: 1, Comm: "systemd", Exe: "/usr/lib/systemd/systemd",
			Cmdline: []string{"/sbin/init"}, State: "S",
			Cgroups: []string{"0::/init.scope"},
		},
		{
			Pid: 1000, Ppid: 1, Comm: "gnome-shell", Uid: 1000, Gid: 1000, Euid: 1000, Egid: 1000,
			Cmdline: []string{"/usr/bin/gnome-shell"}, State: "S",
			Cgroups: []string{"4:cpu,cpuacct:/user.slice", "0::/user.slice/user-1000.slice"},
		},
		{
			Pid: 1001, Ppid: 1000, Comm: "firefox", Uid: 1000, Gid: 100, Euid: 1000, Egid: 100,
			Exe: "/usr/lib/firefox/firefox", Cmdline: []string{"firefox", "--new-window"}, State: "R",
			Cgroups: []string{"0::/user.slice/user-1000.slice/app.slice"},
		},
	} {
		p := process.New(s.Pid, nil)
		p.Merge(s)
		tp[s.Pid] = p
	}
	tp[1000].AddFlag(&process.Flag{Source: "desktop:ui", Name: "user.ui"})
	return tp
}

func TestResolveRefAndKeyValue(t *testing.T) {
	tp := newTestProcs()

	type testCase struct {
		pid      int
		key      string
		value    string
		ok       bool
		err      bool
		keyvalue string
	}
	for _, tc := range []testCase{
		{pid: 1001, key: "pid", value: "1001", ok: true},
		{pid: 1001, key: "ppid", value: "1000", ok: true},
		{pid: 1001, key: "name", value: "firefox", ok: true},
		{pid: 1001, key: "exe", value: "/usr/lib/firefox/firefox", ok: true},
		{pid: 1001, key: "cmdline", value: "firefox --new-window", ok: true},
		{pid: 1001, key: "gid", value: "100", ok: true},
		{pid: 1001, key: "state", value: "R", ok: true},
		{pid: 1001, key: "parent/name", value: "gnome-shell", ok: true},
		{pid: 1001, key: "parent/parent/name", value: "systemd", ok: true},
		{pid: 1001, key: "parent/parent/parent/name"},
		{pid: 1000, key: "exe"},
		{pid: 1000, key: "cgroup", value: "/user.slice/user-1000.slice", ok: true},
		{pid: 1000, key: "cgroups/cpu", value: "/user.slice", ok: true},
		{pid: 1000, key: "cgroups/cpuacct", value: "/user.slice", ok: true},
		{pid: 1000, key: "cgroups/memory"},
		{pid: 1000, key: "flags/user.ui", value: "desktop:ui", ok: true},
		{pid: 1001, key: "parent/flags/user.ui", value: "desktop:ui", ok: true},
		{pid: 1001, key: "flags/user.ui"},
		{pid: 1001, key: "bogus", err: true},
		{pid: 1001, key: "flags", err: true},
		{pid: 1001, key: ":,-name,parent/name", err: true, keyvalue: "firefox-gnome-shell"},
	} {
		subject := tp.subject(tc.pid)
		value, ok, err := ResolveRef(subject, tc.key)
		if tc.err {
			require.Error(t, err, "%d@%s", tc.pid, tc.key)
		} else {
			require.NoError(t, err, "%d@%s", tc.pid, tc.key)
		}
		require.Equal(t, tc.value, value, "%d@%s", tc.pid, tc.key)
		require.Equal(t, tc.ok, ok, "%d@%s", tc.pid, tc.key)

		expected := tc.keyvalue
		if expected == "" {
			expected = tc.value
		}
		expr := &Expression{Key: tc.key, Op: Equals}
		value, _ = expr.KeyValue(subject)
		require.Equal(t, expected, value, "KeyValue %d@%s", tc.pid, tc.key)
	}
}

func TestSimpleOperators(t *testing.T) {
	tp := newTestProcs()
	sub := tp.subject(1001)

	type testCase struct {
		key     string
		values  [][]string // per operator
		results []bool     // per operator
	}
	ops := []Operator{Equals, NotEqual, In, NotIn}

	for _, tc := range []testCase{
		{
			key:     "name",
			values:  [][]string{{"firefox"}, {"firefox"}, {"foo", "firefox"}, {"foo"}},
			results: []bool{true, false, true, true},
		},
		{
			key:     "parent/name",
			values:  [][]string{{"gnome-shell"}, {"gnome-shell"}, {"foo"}, {"gnome-shell"}},
			results: []bool{true, false, false, false},
		},
		{
			key:     "uid",
			values:  [][]string{{"*"}, {"0"}, {"0", "*"}, {"0"}},
			results: []bool{true, true, true, true},
		},
		{
			key:     "exe",
			values:  [][]string{{"/bin/sh"}, {"/bin/sh"}, {"/bin/sh"}, {"/bin/sh"}},
			results: []bool{false, true, false, true},
		},
		{
			key:     "parent/exe",
			values:  [][]string{{"*"}, {"x"}, {"*"}, {"*"}},
			results: []bool{false, true, false, true},
		},
	} {
		for o, op := range ops {
			expr := &Expression{Key: tc.key, Op: op, Values: tc.values[o]}
			require.NoError(t, expr.Validate())
			require.Equal(t, tc.results[o], expr.Evaluate(sub), "%s", expr)
		}
	}

	for _, tc := range []struct {
		expr   *Expression
		result bool
	}{
		{&Expression{Key: "exe", Op: Exists}, true},
		{&Expression{Key: "parent/exe", Op: Exists}, false},
		{&Expression{Key: "parent/exe", Op: NotExist}, true},
		{&Expression{Key: "flags/user.ui", Op: NotExist}, true},
		{&Expression{Key: "parent/flags/user.ui", Op: Exists}, true},
		{&Expression{Op: AlwaysTrue}, true},
	} {
		require.Equal(t, tc.result, tc.expr.Evaluate(sub), "%s", tc.expr)
	}
}

func TestMatching(t *testing.T) {
	tp := newTestProcs()
	pids := []int{1, 1000, 1001}

	for _, tc := range []struct {
		expr     *Expression
		expected []string
	}{
		{
			expr:     &Expression{Key: "exe", Op: Matches, Values: []string{"/usr/lib/*/*"}},
			expected: []string{"systemd", "firefox"},
		},
		{
			expr:     &Expression{Key: "exe", Op: MatchesNot, Values: []string{"/usr/lib/*/*"}},
			expected: []string{"gnome-shell"},
		},
		{
			expr:     &Expression{Key: "cgroup", Op: MatchesAny, Values: []string{"/init.scope", "/user.slice/*/app.slice"}},
			expected: []string{"systemd", "firefox"},
		},
		{
			expr:     &Expression{Key: "cmdline", Op: MatchesNone, Values: []string{"*--new-window*"}},
			expected: []string{"systemd", "gnome-shell"},
		},
		{
			expr:     &Expression{Key: ":,:uid,parent/name", Op: Matches, Values: []string{"1000:gnome*"}},
			expected: []string{"firefox"},
		},
	} {
		require.NoError(t, tc.expr.Validate())
		matched := []string{}
		for _, pid := range pids {
			s := tp.subject(pid)
			if tc.expr.Evaluate(s) {
				matched = append(matched, s.Eval(KeyName).(string))
			}
		}
		require.Equal(t, strings.Join(tc.expected, ","), strings.Join(matched, ","), "%s", tc.expr)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		expr  *Expression
		valid bool
	}{
		{&Expression{Key: "name", Op: Equals, Values: []string{"a"}}, true},
		{&Expression{Key: "name", Op: Equals, Values: []string{"a", "b"}}, false},
		{&Expression{Key: "name", Op: Exists, Values: []string{"a"}}, false},
		{&Expression{Key: "name", Op: Matches, Values: []string{"[a"}}, false},
		{&Expression{Key: "name", Op: MatchesAny, Values: []string{"a*", "[b"}}, false},
		{&Expression{Key: "name", Op: "Contains"}, false},
		{&Expression{Op: Exists}, false},
		{&Expression{Op: AlwaysTrue}, true},
		{nil, false},
	} {
		err := tc.expr.Validate()
		if tc.valid {
			require.NoError(t, err, "%v", tc.expr)
		} else {
			require.Error(t, err, "%v", tc.expr)
		}
	}
}
