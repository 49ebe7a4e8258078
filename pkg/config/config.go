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

package config

import (
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Fragment is a piece of configuration registered under a path.
type Fragment interface {
	// Reset sets the fragment to its default values.
	Reset()
	// Describe returns a human-readable description of the fragment.
	Describe() string
}

// FragmentValidator is a Fragment which can check its own data.
type FragmentValidator interface {
	Validate() error
}

// Source describes where a configuration update came from.
type Source string

const (
	// ConfigFile is a configuration file.
	ConfigFile Source = "configuration file"
	// ConfigData is configuration data passed in directly.
	ConfigData Source = "configuration data"
	// Defaults is the built-in default configuration.
	Defaults Source = "defaults"
)

// Event is the type of a configuration change.
type Event string

const (
	// UpdateEvent is sent when new configuration has been taken into use.
	UpdateEvent Event = "update"
	// RevertEvent is sent when configuration is reverted after a failed update.
	RevertEvent Event = "revert"
)

// NotifyFn is called after the configuration has changed.
type NotifyFn func(Event, Source) error

// configuration is our tree of registered fragments.
type configuration struct {
	sync.Mutex
	root   *node
	notify []NotifyFn
}

var cfg = newConfiguration()

func newConfiguration() *configuration {
	return &configuration{root: newNode(Path{})}
}

// ReInitialize drops all registered fragments and notifiers.
func ReInitialize() {
	cfg.Lock()
	defer cfg.Unlock()
	cfg.root = newNode(Path{})
	cfg.notify = nil
}

// Register registers a configuration fragment under the given dotted path.
func Register(path string, ptr interface{}, opts ...Option) error {
	if ptr == nil {
		return configError("can't register nil fragment for %q", path)
	}
	if t := reflect.TypeOf(ptr); t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return configError("can't register %q, %T is not a pointer to struct", path, ptr)
	}
	f, ok := ptr.(Fragment)
	if !ok {
		return configError("can't register %q, %T is not a config.Fragment", path, ptr)
	}

	r := &registration{}
	for _, o := range opts {
		if err := o.apply(r); err != nil {
			return configError("can't register %q: %v", path, err)
		}
	}

	cfg.Lock()
	defer cfg.Unlock()

	if err := cfg.root.add(makePath(path), f, r.notify); err != nil {
		return configError("can't register %q: %v", path, err)
	}
	f.Reset()

	return nil
}

// MustRegister registers a configuration fragment or panics.
func MustRegister(path string, ptr interface{}, opts ...Option) {
	if err := Register(path, ptr, opts...); err != nil {
		panic(err)
	}
}

// AddNotify adds a global configuration change notifier.
func AddNotify(fn NotifyFn) {
	cfg.Lock()
	defer cfg.Unlock()
	cfg.notify = append(cfg.notify, fn)
}

// SetYAML takes the given YAML data into use as the configuration.
// On failure the previous configuration is restored.
func SetYAML(raw []byte, source Source) error {
	cfg.Lock()
	prev, err := cfg.root.GetYAML()
	if err != nil {
		cfg.Unlock()
		return configError("failed to save current configuration: %v", err)
	}

	if err := cfg.root.SetYAML(raw); err != nil {
		if rerr := cfg.root.SetYAML(prev); rerr != nil {
			log.Error("failed to restore previous configuration: %v", rerr)
		}
		cfg.Unlock()
		if nerr := cfg.notifyAll(RevertEvent, source); nerr != nil {
			log.Warn("configuration revert notification failed: %v", nerr)
		}
		return configError("failed to apply %s: %v", source, err)
	}
	cfg.Unlock()

	log.Info("activated configuration from %s", source)
	return cfg.notifyAll(UpdateEvent, source)
}

// SetYAMLFile takes the YAML configuration in the given file into use.
func SetYAMLFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read configuration file %q", path)
	}
	return SetYAML(raw, ConfigFile)
}

// ResetToDefaults resets all fragments to their default values.
func ResetToDefaults() error {
	return SetYAML([]byte("{}"), Defaults)
}

// GetYAML returns the active configuration as YAML data.
func GetYAML() ([]byte, error) {
	cfg.Lock()
	defer cfg.Unlock()
	return cfg.root.GetYAML()
}

// GetFragment returns the fragment registered for the given path.
func GetFragment(path string) (Fragment, bool) {
	cfg.Lock()
	defer cfg.Unlock()
	n := cfg.root.get(path)
	if n == nil || n.ptr == nil {
		return nil, false
	}
	return n.ptr, true
}

// Describe returns the descriptions of all registered fragments.
func Describe() string {
	cfg.Lock()
	defer cfg.Unlock()
	return cfg.root.describe()
}

// notifyAll runs fragment notifiers then global ones.
func (c *configuration) notifyAll(event Event, source Source) error {
	c.Lock()
	fns := []NotifyFn{}
	c.root.walk(func(n *node, _ int) {
		fns = append(fns, n.notify...)
	}, 0)
	fns = append(fns, c.notify...)
	c.Unlock()

	var errs *multierror.Error
	for _, fn := range fns {
		if err := fn(event, source); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// configError returns a package-specific formatted error.
func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
