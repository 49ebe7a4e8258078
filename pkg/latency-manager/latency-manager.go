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
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/latency-manager/pkg/config"
	"github.com/intel/latency-manager/pkg/instrumentation"
	"github.com/intel/latency-manager/pkg/latency-manager/engine"
	"github.com/intel/latency-manager/pkg/latency-manager/filter"
	"github.com/intel/latency-manager/pkg/latency-manager/process"
	"github.com/intel/latency-manager/pkg/latency-manager/rules"
	"github.com/intel/latency-manager/pkg/latency-manager/scheduler"
	logger "github.com/intel/latency-manager/pkg/log"
	"github.com/intel/latency-manager/pkg/metrics"
	"github.com/intel/latency-manager/pkg/pidfile"
	"github.com/intel/latency-manager/pkg/procstats"
	"github.com/intel/latency-manager/pkg/sysctl"
)

// maxFailures is the number of consecutive failed iterations we give up after.
const maxFailures = 3

// LatencyManager is the interface we expose for controlling the latency manager.
type LatencyManager interface {
	// Start starts periodic iterations.
	Start() error
	// Stop stops iterating and releases our resources.
	Stop()
	// Reload asks for configuration and rules to be reloaded before the
	// next iteration.
	Reload()
	// RunOnce runs a single iteration synchronously.
	RunOnce(ctx context.Context) error
	// Failed is closed with an error pending if iterations stop failing.
	Failed() <-chan error
	// Engine returns the process model engine.
	Engine() *engine.Engine
}

// latencymgr is the implementation of LatencyManager.
type latencymgr struct {
	logger.Logger
	sync.Mutex
	conf     conf               // active configuration
	host     *sysctl.Host       // OS adjustment primitives
	engine   *engine.Engine     // process model and pipeline
	pidfile  *pidfile.PidFile   // our PID file
	watcher  *rules.Watcher     // rule file watcher, if enabled
	ruleSets []*rules.RuleSet   // rule sets currently in use
	filters  []process.FilterID // our registered filters
	failures int                // consecutive failed iterations
	reload   chan struct{}      // reload requests
	reconf   chan struct{}      // configuration change notifications
	failed   chan error         // fatal failure
	stop     chan struct{}      // shutdown request for run
	done     chan struct{}      // closed once run is done
	signals  *signalHandler     // reload signal handler
	started  bool               // running
}

// Overridden in tests.
var newSource = func(procRoot string) process.Source {
	return procstats.NewSource(procRoot)
}

// NewLatencyManager creates a new LatencyManager instance.
func NewLatencyManager() (LatencyManager, error) {
	m := &latencymgr{
		Logger: logger.NewLogger("latency-manager"),
		reload: make(chan struct{}, 1),
		reconf: make(chan struct{}, 1),
		failed: make(chan error, 1),
	}

	if err := m.loadConfig(); err != nil {
		return nil, err
	}

	if err := m.setupEngine(); err != nil {
		return nil, err
	}

	if err := m.setupFilters(); err != nil {
		return nil, err
	}

	m.setupMetrics()
	m.setupIntrospection()

	config.AddNotify(m.configNotify)

	return m, nil
}

// Start starts periodic iterations.
func (m *latencymgr) Start() error {
	m.Info("starting...")

	m.Lock()
	defer m.Unlock()

	if m.started {
		return latencymgrError("already started")
	}

	if opt.PidFile != "" {
		m.pidfile = pidfile.New(opt.PidFile)
		if err := m.pidfile.Acquire(); err != nil {
			return latencymgrError("failed to acquire PID file: %v", err)
		}
	}

	if err := m.host.SetOOMAdjustment(os.Getpid(), sysctl.MinOOMAdjustment); err != nil {
		m.Warn("failed to protect ourselves from the OOM killer: %v", err)
	}
	m.lockMemory()

	if err := m.startWatcher(); err != nil {
		m.Error("%v", err)
	}

	m.signals = m.setupSignals()
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.started = true

	go m.run(m.conf.Interval.Duration())

	return nil
}

// Stop stops iterating and releases our resources.
func (m *latencymgr) Stop() {
	m.Info("shutting down...")

	m.Lock()
	if !m.started {
		m.Unlock()
		return
	}
	m.started = false
	close(m.stop)
	done := m.done
	m.Unlock()

	<-done

	m.Lock()
	defer m.Unlock()

	m.signals.stop()
	m.stopWatcher()
	m.stopIntrospection()

	if m.pidfile != nil {
		if err := m.pidfile.Release(); err != nil {
			m.Warn("failed to release PID file: %v", err)
		}
		m.pidfile = nil
	}
}

// Reload asks for configuration and rules to be reloaded.
func (m *latencymgr) Reload() {
	select {
	case m.reload <- struct{}{}:
	default:
	}
}

// RunOnce runs a single iteration synchronously.
func (m *latencymgr) RunOnce(ctx context.Context) error {
	return m.engine.Iterate(ctx)
}

// Failed returns the channel fatal failures are delivered on.
func (m *latencymgr) Failed() <-chan error {
	return m.failed
}

// Engine returns our engine.
func (m *latencymgr) Engine() *engine.Engine {
	return m.engine
}

// run iterates until stopped, handling reload requests between iterations.
func (m *latencymgr) run(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	housekeeping := time.NewTicker(housekeepingCycle)
	defer housekeeping.Stop()

	if !m.iterate() {
		return
	}

	for {
		select {
		case <-m.stop:
			return

		case <-ticker.C:
			if !m.iterate() {
				return
			}

		case <-m.reload:
			m.reloadAll()

		case <-m.reconf:
			if m.reconfigure() {
				m.Info("iterating every %v", m.conf.Interval)
				ticker.Reset(m.conf.Interval.Duration())
			}

		case <-m.watcherChanges():
			m.Info("rule files changed, reloading rules...")
			m.reloadRules()

		case <-housekeeping.C:
			m.housekeeping()
		}
	}
}

// iterate runs one iteration, returning false once we should give up.
func (m *latencymgr) iterate() bool {
	if err := m.engine.Iterate(context.Background()); err != nil {
		m.failures++
		m.Error("%v", err)
		if m.failures >= maxFailures {
			m.failed <- latencymgrError("giving up after %d failed iterations: %w",
				m.failures, err)
			return false
		}
		return true
	}
	m.failures = 0
	return true
}

// housekeeping performs periodic maintenance.
func (m *latencymgr) housekeeping() {
	m.lockMemory()

	stats := m.engine.Stats()
	m.Debug("%d processes (%d attached, %d deferred, %d retired), last iteration took %v",
		stats.Processes, stats.Attached, stats.Deferred, stats.Retired, stats.LastDuration)
}

func (m *latencymgr) lockMemory() {
	if !m.conf.LockMemory {
		return
	}
	if err := sysctl.LockMemory(); err != nil {
		m.Warn("%v", err)
	}
}

// loadConfig takes the initial configuration into use.
func (m *latencymgr) loadConfig() error {
	if opt.ConfigFile != "" {
		m.Info("loading configuration from %s...", opt.ConfigFile)
		if err := config.SetYAMLFile(opt.ConfigFile); err != nil {
			return latencymgrError("failed to load configuration: %v", err)
		}
	} else {
		if err := config.ResetToDefaults(); err != nil {
			return latencymgrError("failed to set up default configuration: %v", err)
		}
	}
	m.conf = cfg.snapshot()
	return nil
}

// setupEngine creates the engine with the configured scheduler strategy.
func (m *latencymgr) setupEngine() error {
	m.host = sysctl.NewHost(opt.ProcRoot)

	strategy, err := scheduler.Create(m.conf.Scheduler, m.schedulerOptions())
	if err != nil {
		return latencymgrError("failed to create scheduler: %v", err)
	}

	m.engine, err = engine.New(engine.Options{
		Source:   newSource(opt.ProcRoot),
		Strategy: strategy,
	})
	if err != nil {
		return latencymgrError("failed to create engine: %v", err)
	}

	return nil
}

func (m *latencymgr) schedulerOptions() *scheduler.Options {
	return &scheduler.Options{
		System: m.host,
		Config: m.conf.SchedulerConfig,
	}
}

// setupFilters loads our rules and registers all filters.
func (m *latencymgr) setupFilters() error {
	sets, err := rules.Load(m.conf.RulesDir, m.conf.RulePattern)
	if err != nil {
		if len(sets) == 0 {
			m.Warn("no rules loaded: %v", err)
		} else {
			m.Error("some rules failed to load: %v", err)
		}
	}
	m.ruleSets = sets

	return m.installFilters()
}

// installFilters replaces our filters with the enabled builtin ones followed
// by those of our rules.
func (m *latencymgr) installFilters() error {
	opts := &filter.Options{
		Now:    time.Now,
		Lookup: m.engine.Peek,
	}

	disabled := m.conf.disabled()
	filters := []filter.Filter{}
	for _, impl := range filter.Builtins() {
		if _, ok := disabled[impl.Name()]; ok {
			m.Info("builtin filter %s is disabled", impl.Name())
			continue
		}
		f, err := filter.Create(impl.Name(), opts)
		if err != nil {
			return latencymgrError("failed to create filter %s: %v", impl.Name(), err)
		}
		filters = append(filters, f)
	}
	filters = append(filters, rules.Filters(m.ruleSets, opts)...)

	stale := m.ruleFilterNames(m.filters)
	m.filters = m.engine.ReplaceFilters(m.filters, filters)
	m.Info("using %d filters", len(m.filters))

	// flags of rules gone with a reload would otherwise stay forever
	for name := range m.ruleFilterNames(m.filters) {
		delete(stale, name)
	}
	if len(stale) > 0 {
		sources := make([]string, 0, len(stale))
		for name := range stale {
			sources = append(sources, name)
		}
		sort.Strings(sources)
		cleared := m.engine.ClearFlagsBySource(sources...)
		m.Info("removed rules %s, cleared %d of their flags", strings.Join(sources, ", "), cleared)
	}

	return nil
}

// ruleFilterNames returns the names of the given registered rule filters.
func (m *latencymgr) ruleFilterNames(ids []process.FilterID) map[string]struct{} {
	wanted := make(map[process.FilterID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	names := map[string]struct{}{}
	for _, info := range m.engine.Filters() {
		if _, ok := wanted[info.ID]; ok && info.Type == filter.TypeRule {
			names[info.Name] = struct{}{}
		}
	}
	return names
}

// reloadRules reloads our rules, keeping the old ones if none can be loaded.
func (m *latencymgr) reloadRules() {
	sets, err := rules.Load(m.conf.RulesDir, m.conf.RulePattern)
	if err != nil {
		if len(sets) == 0 {
			m.Error("failed to reload rules, keeping the previous ones: %v", err)
			return
		}
		m.Error("some rules failed to load: %v", err)
	}
	m.ruleSets = sets

	if err := m.installFilters(); err != nil {
		m.Error("%v", err)
	}
}

// reloadAll reloads our configuration file then our rules.
func (m *latencymgr) reloadAll() {
	m.Info("reloading...")

	if opt.ConfigFile != "" {
		if err := config.SetYAMLFile(opt.ConfigFile); err != nil {
			m.Error("failed to reload configuration: %v", err)
		}
		// Take any pending update into use before the rules are reloaded.
		select {
		case <-m.reconf:
			m.reconfigure()
		default:
		}
	}

	m.reloadRules()
}

// configNotify is our configuration change notifier.
func (m *latencymgr) configNotify(event config.Event, source config.Source) error {
	if event != config.UpdateEvent {
		return nil
	}
	m.Info("configuration updated from %s", source)
	select {
	case m.reconf <- struct{}{}:
	default:
	}
	return nil
}

// reconfigure takes the current configuration into use. It returns true
// if the iteration interval has changed.
func (m *latencymgr) reconfigure() bool {
	old, cur := m.conf, cfg.snapshot()
	m.conf = cur

	if cur.Scheduler != old.Scheduler {
		m.Info("switching to scheduler %s...", cur.Scheduler)
		if err := m.engine.Scheduler().SetByName(cur.Scheduler, m.schedulerOptions()); err != nil {
			m.Error("failed to switch scheduler: %v", err)
		}
	} else if cur.SchedulerConfig != old.SchedulerConfig && cur.SchedulerConfig != "" {
		if err := m.engine.Scheduler().SetConfig(cur.SchedulerConfig); err != nil {
			m.Error("failed to activate scheduler configuration: %v", err)
		}
	}

	rulesChanged := cur.RulesDir != old.RulesDir || cur.RulePattern != old.RulePattern
	if rulesChanged || cur.WatchRules != old.WatchRules {
		m.Lock()
		if m.started {
			m.stopWatcher()
			if err := m.startWatcher(); err != nil {
				m.Error("%v", err)
			}
		}
		m.Unlock()
	}

	switch {
	case rulesChanged:
		m.reloadRules()
	case !reflect.DeepEqual(cur.DisabledFilters, old.DisabledFilters):
		if err := m.installFilters(); err != nil {
			m.Error("%v", err)
		}
	}

	if cur.LockMemory && !old.LockMemory {
		m.lockMemory()
	}

	return cur.Interval != old.Interval
}

// startWatcher starts watching our rule files, if enabled.
func (m *latencymgr) startWatcher() error {
	if !m.conf.WatchRules {
		return nil
	}
	w, err := rules.NewWatcher(m.conf.RulesDir, m.conf.RulePattern)
	if err != nil {
		return latencymgrError("failed to watch rules: %v", err)
	}
	m.watcher = w
	return nil
}

func (m *latencymgr) stopWatcher() {
	if m.watcher == nil {
		return
	}
	if err := m.watcher.Close(); err != nil {
		m.Warn("failed to stop rule watcher: %v", err)
	}
	m.watcher = nil
}

func (m *latencymgr) watcherChanges() <-chan struct{} {
	m.Lock()
	defer m.Unlock()
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Changes()
}

var registerGatherer sync.Once

// setupMetrics exposes our engine metrics to Prometheus.
func (m *latencymgr) setupMetrics() {
	err := metrics.RegisterCollector("engine", func() (prometheus.Collector, error) {
		return engine.NewCollector(m.engine), nil
	})
	if err != nil {
		m.Warn("failed to register engine metrics: %v", err)
		return
	}

	registerGatherer.Do(func() {
		g, err := metrics.NewMetricGatherer()
		if err != nil {
			m.Error("failed to create metrics gatherer: %v", err)
			return
		}
		instrumentation.RegisterGatherer(g)
	})
}

// latencymgrError returns a package-specific formatted error.
func latencymgrError(format string, args ...interface{}) error {
	return fmt.Errorf("latency-manager: "+format, args...)
}
