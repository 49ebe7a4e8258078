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

package cgroups

import (
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/intel/latency-manager/pkg/utils"
)

// Group is a cgroup in the hierarchy of a controller.
type Group struct {
	Controller Controller
	// Path is the path of the group relative to the controller mount point.
	Path string
}

// NewGroup returns the group for the given controller and path.
func NewGroup(c Controller, group string) Group {
	return Group{Controller: c, Path: path.Clean("/" + group)}
}

func (g Group) String() string {
	return g.Controller.String() + ":" + g.Path
}

// Dir returns the absolute directory of the group.
func (g Group) Dir() string {
	return path.Join(ControllerDir(g.Controller), g.Path)
}

// Create creates the group, along with any missing parents.
func (g Group) Create() error {
	if err := currentPlatform.mkdirAll(g.Dir()); err != nil {
		return errors.Wrapf(err, "failed to create cgroup %s", g)
	}
	return nil
}

// AddProcess moves a process into the group.
func (g Group) AddProcess(pid int) error {
	entry := path.Join(g.Dir(), Procs)
	if err := currentPlatform.writeToFile(entry, strconv.Itoa(pid)); err != nil {
		return errors.Wrapf(err, "failed to move process %d to cgroup %s", pid, g)
	}
	log.Debug("moved process %d to cgroup %s", pid, g)
	return nil
}

// Processes returns the processes in the group.
func (g Group) Processes() ([]int, error) {
	raw, err := currentPlatform.readFromFile(path.Join(g.Dir(), Procs))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read processes of cgroup %s", g)
	}
	pids, err := utils.ParsePidList(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid processes in cgroup %s", g)
	}
	return pids, nil
}

// SetParameter writes a controller parameter of the group.
func (g Group) SetParameter(name, value string) error {
	if strings.ContainsRune(name, '/') {
		return errors.Errorf("invalid cgroup parameter %q", name)
	}
	if err := currentPlatform.writeToFile(path.Join(g.Dir(), name), value); err != nil {
		return errors.Wrapf(err, "failed to set %s=%s for cgroup %s", name, value, g)
	}
	return nil
}

// GetParameter reads a controller parameter of the group.
func (g Group) GetParameter(name string) (string, error) {
	raw, err := currentPlatform.readFromFile(path.Join(g.Dir(), name))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s of cgroup %s", name, g)
	}
	return strings.TrimSpace(raw), nil
}

// ProcessGroup returns the group of a process in the given controller.
func ProcessGroup(pid int, c Controller) (Group, error) {
	raw, err := currentPlatform.readFromFile(path.Join("/proc", strconv.Itoa(pid), "cgroup"))
	if err != nil {
		return Group{}, errors.Wrapf(err, "failed to read cgroups of process %d", pid)
	}
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.SplitN(line, ":", 3)
		if len(fields) != 3 {
			continue
		}
		if c == Unified && fields[0] == "0" && fields[1] == "" {
			return NewGroup(c, fields[2]), nil
		}
		for _, name := range strings.Split(fields[1], ",") {
			if c != Unified && name == string(c) {
				return NewGroup(c, fields[2]), nil
			}
		}
	}
	return Group{}, errors.Errorf("process %d not in any %s cgroup", pid, c)
}

type platformInterface interface {
	readFromFile(filename string) (string, error)
	writeToFile(filename string, content string) error
	mkdirAll(dir string) error
}

// defaultPlatform versions of platformInterface functions access the underlying system.
type defaultPlatform struct{}

// currentPlatform defines which platformInterface is used: defaultPlatform or a mock, for instance.
var currentPlatform platformInterface = defaultPlatform{}

// readFromFile returns file contents as a string.
func (defaultPlatform) readFromFile(filename string) (string, error) {
	content, err := os.ReadFile(filename)
	return string(content), err
}

// writeToFile writes content to an existing file.
func (defaultPlatform) writeToFile(filename string, content string) error {
	f, err := os.OpenFile(filename, os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(content))
	return err
}

func (defaultPlatform) mkdirAll(dir string) error {
	return os.MkdirAll(dir, 0755)
}
