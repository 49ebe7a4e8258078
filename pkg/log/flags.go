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
	"encoding/json"
	"flag"
	"strings"

	pkgcfg "github.com/intel/latency-manager/pkg/config"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// command-line argument prefix.
	optPrefix = "logger"
	// Flag for enabling/disabling normal non-debug logging for sources.
	optEnable = optPrefix + "-sources"
	// Flag for enabling/disabling debug logging for sources.
	optDebug = optPrefix + "-debug"
	// Flag for selecting logging level.
	optLevel = optPrefix + "-level"
	// Flag for selecting logging backend.
	optLogger = optPrefix
	// configPath is our path in the runtime configuration.
	configPath = optPrefix
)

// options is our runtime configuration fragment.
type options struct {
	// Level is the lowest severity of messages to pass through.
	Level Level `json:"level"`
	// Sources enables and disables normal logging for sources.
	Sources string `json:"sources,omitempty"`
	// Debug enables and disables debug logging for sources.
	Debug string `json:"debug,omitempty"`
	// Logger is the name of the backend to use.
	Logger string `json:"logger,omitempty"`
}

// defaults are the options given on the command line.
var defaults = options{
	Level:  DefaultLevel,
	Logger: FmtBackendName,
}

// opt is the active runtime configuration.
var opt = &options{}

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warning",
	LevelError: "error",
	LevelPanic: "panic",
	LevelFatal: "fatal",
}

// ParseLevel parses the name of a severity level.
func ParseLevel(name string) (Level, error) {
	name = strings.ToLower(name)
	if name == "warn" {
		name = "warning"
	}
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return DefaultLevel, loggerError("invalid logging level %q", name)
}

// String returns the name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return levelNames[DefaultLevel]
}

// MarshalJSON is the JSON marshaller for Level.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON is the JSON unmarshaller for Level.
func (l *Level) UnmarshalJSON(raw []byte) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return loggerError("invalid logging level %s: %v", string(raw), err)
	}
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// Reset resets the runtime configuration to the command line defaults.
func (o *options) Reset() {
	*o = defaults
}

// Describe describes the logger configuration.
func (o *options) Describe() string {
	return configHelp
}

// Validate checks the backend and the source maps.
func (o *options) Validate() error {
	log.RLock()
	_, ok := log.backends[o.Logger]
	log.RUnlock()
	if !ok {
		return loggerError("unknown logger backend %q", o.Logger)
	}
	if err := (srcmap{}).parse(o.Sources); err != nil {
		return err
	}
	return (srcmap{}).parse(o.Debug)
}

// configNotify applies the runtime configuration.
func (o *options) configNotify(event pkgcfg.Event, src pkgcfg.Source) error {
	deflog.Info("logger configuration %v from %v", event, src)
	deflog.Info("*  log level: %v", o.Level)
	deflog.Info("*    logging: %v", o.Sources)
	deflog.Info("*  debugging: %v", o.Debug)

	SetLevel(o.Level)
	if err := SetBackend(o.Logger); err != nil {
		return err
	}
	if err := SetSources(o.Sources); err != nil {
		return err
	}
	return SetDebug(o.Debug)
}

// cmdline is a command line flag that is applied immediately when set.
type cmdline struct {
	value *string
	apply func(string) error
}

func (c *cmdline) Set(value string) error {
	if err := c.apply(value); err != nil {
		return err
	}
	*c.value = value
	return nil
}

func (c *cmdline) String() string {
	if c.value == nil {
		return ""
	}
	return *c.value
}

// Register us for command line parsing and configuration handling.
func init() {
	cfglog := NewLogger("config")
	pkgcfg.SetLogger(pkgcfg.Logger{
		Debug: cfglog.Debug,
		Info:  cfglog.Info,
		Warn:  cfglog.Warn,
		Error: cfglog.Error,
	})

	levelName := defaults.Level.String()

	flag.Var(&cmdline{value: &defaults.Logger, apply: SetBackend}, optLogger,
		"logger backend to use (fmt, klog).")
	flag.Var(&cmdline{value: &levelName, apply: func(v string) error {
		level, err := ParseLevel(v)
		if err != nil {
			return err
		}
		defaults.Level = level
		SetLevel(level)
		return nil
	}}, optLevel,
		"lowest severity level to pass through (info, warning, error)")
	flag.Var(&cmdline{value: &defaults.Sources, apply: SetSources}, optEnable,
		"comma-separated list of source names to enable/disable.\n"+
			"Specify '*' or 'all' to enable all sources, which is also the default.\n"+
			"Prefix a source or list with 'off:' to disable.")
	flag.Var(&cmdline{value: &defaults.Debug, apply: SetDebug}, optDebug,
		"comma-separated list of source names to enable debug messages for.\n"+
			"Specify '*' or 'all' to enable all sources.\n"+
			"Prefix a source or list with 'off:' to disable, which is also the default state.")

	pkgcfg.MustRegister(configPath, opt, pkgcfg.WithNotify(opt.configNotify))
}
