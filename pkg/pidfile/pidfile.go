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

package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// PidFile is an exclusively owned file with the process ID of its owner.
type PidFile struct {
	path string
	file *os.File
}

// New creates a PidFile for the given path, or for DefaultPath() if path is empty.
func New(path string) *PidFile {
	if path == "" {
		path = DefaultPath()
	}
	return &PidFile{path: path}
}

// Path returns the path of the PID file.
func (p *PidFile) Path() string {
	return p.path
}

// Acquire creates the PID file with os.Getpid() in it and keeps it open. If
// the file exists and is owned by a live process, Acquire fails. A stale file
// left behind by a dead process is replaced.
func (p *PidFile) Acquire() error {
	if p.file != nil {
		return nil
	}

	owner, err := p.OwnerPid()
	if err != nil {
		return err
	}
	if owner > 0 && owner != os.Getpid() {
		return errors.Errorf("PID file %s is owned by running process %d", p.path, owner)
	}
	if owner == 0 {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove stale PID file")
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create PID file directory")
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if owner == 0 {
		flags |= os.O_EXCL
	}
	p.file, err = os.OpenFile(p.path, flags, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create PID file")
	}

	if _, err = p.file.Write([]byte(fmt.Sprintf("%d\n", os.Getpid()))); err != nil {
		p.close()
		return errors.Wrap(err, "failed to write PID file")
	}

	return nil
}

// Read returns the process ID in the PID file, 0 if there is no such file.
func (p *PidFile) Read() (int, error) {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrap(err, "failed to read PID file")
	}

	content := strings.TrimSpace(string(buf))
	if content == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(content)
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID (%q) in PID file", content)
	}

	return pid, nil
}

// OwnerPid returns the ID of the live process owning the PID file, or 0 if
// there is none. -1 and an error is returned if this can't be determined.
func (p *PidFile) OwnerPid() (int, error) {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return pid, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return -1, errors.Wrapf(err, "FindProcess() failed for PID %d", pid)
	}

	switch err = proc.Signal(syscall.Signal(0)); {
	case err == nil:
		return pid, nil
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return 0, nil
	case errors.Is(err, syscall.EPERM):
		return pid, nil
	}

	return -1, errors.Wrapf(err, "failed to check process %d", pid)
}

// Release closes and removes the PID file if we own it.
func (p *PidFile) Release() error {
	if p.file == nil {
		return nil
	}
	p.close()
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove PID file")
	}
	return nil
}

func (p *PidFile) close() {
	if p.file != nil {
		p.file.Close()
		p.file = nil
	}
}

// DefaultPath returns the default PID file path for the running binary.
func DefaultPath() string {
	name := "latency-manager"
	if len(os.Args) > 0 {
		name = filepath.Base(os.Args[0])
	}
	if os.Geteuid() > 0 {
		return filepath.Join(os.TempDir(), name+".pid")
	}
	return filepath.Join("/", "run", name+".pid")
}
