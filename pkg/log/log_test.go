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
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testBackendName = "test"

// testBackend records the messages it is asked to emit.
type testBackend struct {
	sync.Mutex
	messages []string
}

var recorder = &testBackend{}

func (*testBackend) Name() string { return testBackendName }

func (b *testBackend) Log(level Level, source, format string, args ...interface{}) {
	b.Lock()
	defer b.Unlock()
	b.messages = append(b.messages, level.String()+" "+source+" "+fmt.Sprintf(format, args...))
}

func (b *testBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		b.Log(level, source, "%s%s", prefix, line)
	}
}

func (*testBackend) Flush()                 {}
func (*testBackend) Sync()                  {}
func (*testBackend) Stop()                  {}
func (*testBackend) SetSourceAlignment(int) {}

func (b *testBackend) take() []string {
	b.Lock()
	defer b.Unlock()
	msgs := b.messages
	b.messages = nil
	return msgs
}

func setupTestBackend(t *testing.T) {
	RegisterBackend(testBackendName, func() Backend { return recorder })
	require.NoError(t, SetBackend(testBackendName))
	SetLevel(LevelInfo)
	require.NoError(t, SetSources("*"))
	require.NoError(t, SetDebug(""))
	ForceDebug(false)
	recorder.take()
}

func TestLevelFiltering(t *testing.T) {
	setupTestBackend(t)
	l := NewLogger("level-test")

	l.Debug("debug")
	l.Info("info")
	l.Warn("warning")
	l.Error("error")
	require.Equal(t, []string{
		"info level-test info",
		"warning level-test warning",
		"error level-test error",
	}, recorder.take())

	SetLevel(LevelError)
	l.Info("info")
	l.Warn("warning")
	l.Error("error")
	require.Equal(t, []string{"error level-test error"}, recorder.take())
}

func TestSourceEnabling(t *testing.T) {
	setupTestBackend(t)
	a := NewLogger("engine")
	b := NewLogger("scheduler-native")
	c := NewLogger("scheduler-none")

	require.NoError(t, SetSources("on:*,off:scheduler-*"))
	a.Info("a")
	b.Info("b")
	c.Info("c")
	b.Warn("b warning")
	require.Equal(t, []string{"info engine a", "warning scheduler-native b warning"}, recorder.take())

	require.NoError(t, SetSources("off:*,on:scheduler-none"))
	a.Info("a")
	c.Info("c")
	require.Equal(t, []string{"info scheduler-none c"}, recorder.take())
}

func TestDebugging(t *testing.T) {
	setupTestBackend(t)
	a := NewLogger("debug-a")
	b := NewLogger("debug-b")

	require.NoError(t, SetDebug("debug-a"))
	require.True(t, a.DebugEnabled())
	require.False(t, b.DebugEnabled())

	a.Debug("a")
	b.Debug("b")
	require.Equal(t, []string{"debug debug-a a"}, recorder.take())

	b.EnableDebug(true)
	b.DebugBlock("  ", "line1\nline2")
	require.Equal(t, []string{"debug debug-b   line1", "debug debug-b   line2"}, recorder.take())

	require.NoError(t, SetDebug("off:*"))
	ForceDebug(true)
	a.Debug("forced")
	require.Equal(t, []string{"debug debug-a forced"}, recorder.take())
	ForceDebug(false)
}

func TestSrcmapParse(t *testing.T) {
	type testCase struct {
		name    string
		spec    string
		invalid bool
		expect  srcmap
	}
	for _, tc := range []testCase{
		{name: "plain list", spec: "a,b", expect: srcmap{"a": true, "b": true}},
		{name: "all", spec: "all", expect: srcmap{"*": true}},
		{name: "mixed", spec: "on:a,b,off:c,d", expect: srcmap{"a": true, "b": true, "c": false, "d": false}},
		{name: "empty", spec: "", expect: srcmap{}},
		{name: "bad state", spec: "sometimes:a", invalid: true},
		{name: "bad pattern", spec: "a[", invalid: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := srcmap{}
			err := m.parse(tc.spec)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, m)
		})
	}

	m := srcmap{}
	require.NoError(t, m.parse("on:a,off:b"))
	require.Equal(t, "on:a,off:b", m.String())
}

func TestFmtBackend(t *testing.T) {
	buf := &bytes.Buffer{}
	f := newFmtBackend(buf)
	f.SetSourceAlignment(6)
	f.Log(LevelWarn, "src", "hello %d", 1)
	f.Block(LevelInfo, "src", "|", "a\nb")
	require.Equal(t, "W: [src]    hello 1\nI: [src]    | a\nI: [src]    | b\n", buf.String())
}

func TestParseLevel(t *testing.T) {
	for name, level := range map[string]Level{
		"debug": LevelDebug, "info": LevelInfo, "warn": LevelWarn, "WARNING": LevelWarn, "error": LevelError,
	} {
		l, err := ParseLevel(name)
		require.NoError(t, err)
		require.Equal(t, level, l)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)

	var l Level
	require.NoError(t, l.UnmarshalJSON([]byte(`"error"`)))
	require.Equal(t, LevelError, l)
}
