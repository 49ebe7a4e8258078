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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/latency-manager/pkg/config"
	"github.com/intel/latency-manager/pkg/instrumentation"
	"github.com/intel/latency-manager/pkg/latency-manager/filter"
	_ "github.com/intel/latency-manager/pkg/latency-manager/filter/builtin/expiry"
	"github.com/intel/latency-manager/pkg/latency-manager/filter/builtin/kernel"
	"github.com/intel/latency-manager/pkg/latency-manager/process"
	_ "github.com/intel/latency-manager/pkg/latency-manager/scheduler/builtin/none"
)

const desktopRules = `
rules:
  - name: session
    match:
      - key: name
        operator: Equals
        values: [gnome-shell]
    flags:
      - name: user.ui
  - name: browser
    match:
      - key: name
        operator: Equals
        values: [firefox]
      - key: parent/flags/user.ui
        operator: Exists
    flags:
      - name: user.media
        inherit: true
`

const daemonRules = `
rules:
  - name: idle
    match:
      - key: uid
        operator: Equals
        values: ["0"]
    flags:
      - name: daemon.idle
`

type fakeSource struct {
	sync.Mutex
	snaps   []*process.Snapshot
	openErr error
}

func (s *fakeSource) Open() error {
	s.Lock()
	defer s.Unlock()
	return s.openErr
}

func (s *fakeSource) Close() error {
	return nil
}

func (s *fakeSource) ReadAll() ([]*process.Snapshot, error) {
	s.Lock()
	defer s.Unlock()
	snaps := make([]*process.Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		cp := *snap
		snaps = append(snaps, &cp)
	}
	return snaps, nil
}

func desktop() *fakeSource {
	return &fakeSource{
		snaps: []*process.Snapshot{
			{Pid: 1, Ppid: 0, Comm: "systemd"},
			{Pid: 2, Ppid: 0, Comm: "kthreadd"},
			{Pid: 3, Ppid: 2, Comm: "kworker/0:0"},
			{Pid: 1000, Ppid: 1, Comm: "gnome-shell", Uid: 1000},
			{Pid: 1001, Ppid: 1000, Comm: "firefox", Uid: 1000},
		},
	}
}

func writeRules(t *testing.T, dir, name, data string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0644))
}

// setup points the command line options at a private rules directory and
// fake process source.
func setup(t *testing.T, src *fakeSource) string {
	dir := t.TempDir()
	writeRules(t, dir, "desktop.yaml", desktopRules)

	saved, savedSource := *opt, newSource
	t.Cleanup(func() {
		*opt, newSource = saved, savedSource
		config.ResetToDefaults()
	})

	*opt = options{
		ProcRoot:  t.TempDir(),
		RulesDir:  dir,
		Pattern:   "*.yaml",
		Interval:  time.Second,
		Scheduler: "none",
	}
	newSource = func(string) process.Source { return src }

	return dir
}

func newTestManager(t *testing.T) *latencymgr {
	lm, err := NewLatencyManager()
	require.NoError(t, err)
	m := lm.(*latencymgr)
	t.Cleanup(m.stopIntrospection)
	return m
}

func filterNames(m *latencymgr) []string {
	names := []string{}
	for _, f := range Filters(m.Engine()) {
		names = append(names, f.Name)
	}
	return names
}

func flagsOf(t *testing.T, m *latencymgr, pid int) []string {
	p := m.Engine().Lookup(pid)
	require.NotNil(t, p, "process %d", pid)
	return exportProcess(p).Flags
}

func TestNewLatencyManager(t *testing.T) {
	setup(t, desktop())
	m := newTestManager(t)

	require.Equal(t, []string{
		"flag-expiry", "kernel-threads", "desktop:session", "desktop:browser",
	}, filterNames(m))
	require.Equal(t, "none", m.Engine().Scheduler().Strategy().Name())

	require.NoError(t, m.RunOnce(context.Background()))

	require.Equal(t, []string{"kernel-threads/kernel"}, flagsOf(t, m, 2))
	require.Equal(t, []string{"kernel-threads/kernel"}, flagsOf(t, m, 3))
	require.Equal(t, []string{"desktop:session/user.ui"}, flagsOf(t, m, 1000))
	require.Equal(t, []string{"desktop:browser/user.media(inherit)"}, flagsOf(t, m, 1001))
	require.Empty(t, flagsOf(t, m, 1))
}

func TestUnknownScheduler(t *testing.T) {
	setup(t, desktop())
	opt.Scheduler = "no-such-strategy"

	_, err := NewLatencyManager()
	require.Error(t, err)
}

func TestMissingRules(t *testing.T) {
	setup(t, desktop())
	opt.RulesDir = filepath.Join(t.TempDir(), "missing")

	m := newTestManager(t)
	require.Equal(t, []string{"flag-expiry", "kernel-threads"}, filterNames(m))
}

func TestReloadRules(t *testing.T) {
	dir := setup(t, desktop())
	m := newTestManager(t)

	writeRules(t, dir, "daemons.yaml", daemonRules)
	writeRules(t, dir, "ignored.conf", daemonRules)
	m.reloadRules()
	require.Equal(t, []string{
		"flag-expiry", "kernel-threads",
		"daemons:idle", "desktop:session", "desktop:browser",
	}, filterNames(m))

	require.NoError(t, m.RunOnce(context.Background()))
	require.Equal(t, []string{"daemons:idle/daemon.idle"}, flagsOf(t, m, 1))
	session := flagsOf(t, m, 1000)
	require.NotEmpty(t, session)

	require.NoError(t, os.Remove(filepath.Join(dir, "daemons.yaml")))
	m.reloadRules()
	require.Equal(t, []string{
		"flag-expiry", "kernel-threads", "desktop:session", "desktop:browser",
	}, filterNames(m))
	require.Empty(t, flagsOf(t, m, 1), "flags of removed rule cleared")
	require.Equal(t, session, flagsOf(t, m, 1000), "flags of kept rules left alone")

	require.NoError(t, os.RemoveAll(dir))
	m.reloadRules()
	require.Len(t, filterNames(m), 4, "previous rules kept")
}

func TestReconfigure(t *testing.T) {
	setup(t, desktop())
	m := newTestManager(t)

	require.NoError(t, config.SetYAML([]byte(`
latency-manager:
  interval: 5s
  scheduler: none
  rulesDir: `+opt.RulesDir+`
  rulePattern: "*.yaml"
  disabledFilters: [`+kernel.FilterName+`]
`), config.ConfigData))

	<-m.reconf
	require.True(t, m.reconfigure(), "interval changed")
	require.Equal(t, 5*time.Second, m.conf.Interval.Duration())
	require.Equal(t, []string{"flag-expiry", "desktop:session", "desktop:browser"}, filterNames(m))

	require.False(t, m.reconfigure(), "nothing changed")

	err := config.SetYAML([]byte("latency-manager:\n  interval: 1ms\n"), config.ConfigData)
	require.Error(t, err)
	require.Equal(t, 5*time.Second, cfg.Interval.Duration(), "reverted")
}

func TestStartStop(t *testing.T) {
	setup(t, desktop())
	opt.Interval = 100 * time.Millisecond
	opt.PidFile = filepath.Join(t.TempDir(), "latency-manager.pid")

	m := newTestManager(t)
	require.NoError(t, m.Start())
	require.Error(t, m.Start())

	_, err := os.Stat(opt.PidFile)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Engine().Iteration() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	m.Reload()
	m.Stop()
	m.Stop()

	_, err = os.Stat(opt.PidFile)
	require.True(t, os.IsNotExist(err))

	iteration := m.Engine().Iteration()
	time.Sleep(250 * time.Millisecond)
	require.Equal(t, iteration, m.Engine().Iteration(), "stopped")
}

func TestGiveUp(t *testing.T) {
	src := desktop()
	src.openErr = process.ErrNoAccess
	setup(t, src)
	opt.Interval = 100 * time.Millisecond

	m := newTestManager(t)
	require.NoError(t, m.Start())
	defer m.Stop()

	select {
	case err := <-m.Failed():
		require.ErrorIs(t, err, process.ErrNoAccess)
	case <-time.After(5 * time.Second):
		require.Fail(t, "iterations did not give up")
	}
	require.Equal(t, uint64(maxFailures), m.Engine().Stats().Failures)
}

func TestIntrospection(t *testing.T) {
	setup(t, desktop())
	m := newTestManager(t)
	require.NoError(t, m.RunOnce(context.Background()))

	rec := httptest.NewRecorder()
	instrumentation.GetHTTPMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, processesPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	roots := []*Process{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roots))
	require.Len(t, roots, 2)

	systemd := roots[0]
	require.Equal(t, "systemd", systemd.Name)
	require.Len(t, systemd.Children, 1)
	shell := systemd.Children[0]
	require.Equal(t, 1000, shell.Pid)
	require.Equal(t, []string{"desktop:session/user.ui"}, shell.Flags)
	require.Equal(t, 1001, shell.Children[0].Pid)

	rec = httptest.NewRecorder()
	instrumentation.GetHTTPMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, filtersPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	filters := []*Filter{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filters))
	require.Len(t, filters, 4)
	require.Equal(t, string(filter.TypeRule), filters[3].Type)
	require.Equal(t, uint64(1), filters[3].Stats.Passes)

	rec = httptest.NewRecorder()
	instrumentation.GetHTTPMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, versionPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"version"`)
}
