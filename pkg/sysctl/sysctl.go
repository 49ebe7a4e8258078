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

package sysctl

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrPermissionDenied is returned when we lack the privileges for an adjustment.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoSuchProcess is returned when the target process does not exist.
	ErrNoSuchProcess = errors.New("no such process")
)

// IOClass is a Linux I/O scheduling class.
type IOClass int

const (
	// IOClassNone is the default class, derived from the CPU nice level.
	IOClassNone IOClass = iota
	// IOClassRealtime is the realtime I/O class.
	IOClassRealtime
	// IOClassBestEffort is the best-effort I/O class.
	IOClassBestEffort
	// IOClassIdle is the idle I/O class.
	IOClassIdle
)

const (
	ioprioClassShift = 13
	ioprioDataMask   = (1 << ioprioClassShift) - 1
	ioprioWhoProcess = 1
	// MaxIOLevel is the lowest priority level within the realtime and best-effort classes.
	MaxIOLevel = 7
	// MinOOMAdjustment is the OOM score adjustment which disables OOM killing.
	MinOOMAdjustment = -1000
	// MaxOOMAdjustment is the OOM score adjustment which makes a process the preferred OOM victim.
	MaxOOMAdjustment = 1000
)

var ioClassNames = map[IOClass]string{
	IOClassNone:       "none",
	IOClassRealtime:   "realtime",
	IOClassBestEffort: "best-effort",
	IOClassIdle:       "idle",
}

func (c IOClass) String() string {
	if name, ok := ioClassNames[c]; ok {
		return name
	}
	return "IOClass(" + strconv.Itoa(int(c)) + ")"
}

// ParseIOClass parses an I/O class name.
func ParseIOClass(name string) (IOClass, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return IOClassNone, nil
	case "rt", "realtime":
		return IOClassRealtime, nil
	case "be", "best-effort", "besteffort":
		return IOClassBestEffort, nil
	case "idle":
		return IOClassIdle, nil
	}
	return IOClassNone, errors.Errorf("invalid I/O class %q", name)
}

// MarshalJSON is the JSON marshaller for IOClass.
func (c IOClass) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(c.String())), nil
}

// UnmarshalJSON is the JSON unmarshaller for IOClass.
func (c *IOClass) UnmarshalJSON(raw []byte) error {
	name, err := strconv.Unquote(string(raw))
	if err != nil {
		return errors.Wrapf(err, "invalid I/O class %s", string(raw))
	}
	class, err := ParseIOClass(name)
	if err != nil {
		return err
	}
	*c = class
	return nil
}

// Host implements OS adjustments for processes on the local host.
type Host struct {
	// ProcRoot is the mount point of procfs.
	ProcRoot string
}

// NewHost returns a Host using procfs mounted at procRoot, /proc if empty.
func NewHost(procRoot string) *Host {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &Host{ProcRoot: procRoot}
}

// SetIOPriority sets the I/O scheduling class and level of a process.
func (h *Host) SetIOPriority(pid int, class IOClass, level int) error {
	if class < IOClassNone || class > IOClassIdle {
		return errors.Errorf("invalid I/O class %d", class)
	}
	if level < 0 || level > MaxIOLevel {
		return errors.Errorf("invalid I/O priority level %d", level)
	}
	prio := int(class)<<ioprioClassShift | level
	_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, uintptr(pid), uintptr(prio))
	if errno != 0 {
		return errors.Wrapf(mapErrno(errno), "failed to set I/O priority of %d", pid)
	}
	return nil
}

// GetIOPriority returns the I/O scheduling class and level of a process.
func (h *Host) GetIOPriority(pid int) (IOClass, int, error) {
	prio, _, errno := unix.Syscall(unix.SYS_IOPRIO_GET, ioprioWhoProcess, uintptr(pid), 0)
	if errno != 0 {
		return IOClassNone, 0, errors.Wrapf(mapErrno(errno), "failed to get I/O priority of %d", pid)
	}
	return IOClass(prio >> ioprioClassShift), int(prio & ioprioDataMask), nil
}

// SetOOMAdjustment sets the OOM score adjustment of a process.
func (h *Host) SetOOMAdjustment(pid int, value int) error {
	if value < MinOOMAdjustment || value > MaxOOMAdjustment {
		return errors.Errorf("invalid OOM score adjustment %d", value)
	}
	path := h.oomPath(pid)
	if err := os.WriteFile(path, []byte(strconv.Itoa(value)+"\n"), 0644); err != nil {
		return errors.Wrapf(mapError(err), "failed to set OOM score adjustment of %d", pid)
	}
	return nil
}

// GetOOMAdjustment returns the OOM score adjustment of a process.
func (h *Host) GetOOMAdjustment(pid int) (int, error) {
	raw, err := os.ReadFile(h.oomPath(pid))
	if err != nil {
		return 0, errors.Wrapf(mapError(err), "failed to get OOM score adjustment of %d", pid)
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid OOM score adjustment of %d", pid)
	}
	return value, nil
}

// SetNice sets the CPU scheduling nice level of a process.
func (h *Host) SetNice(pid int, nice int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
		return errors.Wrapf(mapError(err), "failed to set nice level of %d", pid)
	}
	return nil
}

// GetNice returns the CPU scheduling nice level of a process.
func (h *Host) GetNice(pid int) (int, error) {
	prio, err := unix.Getpriority(unix.PRIO_PROCESS, pid)
	if err != nil {
		return 0, errors.Wrapf(mapError(err), "failed to get nice level of %d", pid)
	}
	// the raw syscall returns 20 - nice
	return 20 - prio, nil
}

func (h *Host) oomPath(pid int) string {
	return filepath.Join(h.ProcRoot, strconv.Itoa(pid), "oom_score_adj")
}

// LockMemory locks all current pages of the calling process into memory.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT); err != nil {
		return errors.Wrap(mapError(err), "failed to lock memory")
	}
	return nil
}

func mapErrno(errno syscall.Errno) error {
	switch errno {
	case unix.EPERM, unix.EACCES:
		return ErrPermissionDenied
	case unix.ESRCH, unix.ENOENT:
		return ErrNoSuchProcess
	}
	return errno
}

func mapError(err error) error {
	var errno syscall.Errno
	switch {
	case errors.As(err, &errno):
		return mapErrno(errno)
	case os.IsNotExist(err):
		return ErrNoSuchProcess
	case os.IsPermission(err):
		return ErrPermissionDenied
	}
	return err
}
