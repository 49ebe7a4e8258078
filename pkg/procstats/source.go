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

package procstats

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"

	"github.com/intel/latency-manager/pkg/latency-manager/process"
	logger "github.com/intel/latency-manager/pkg/log"
)

const (
	// DefaultProcRoot is the default mount point of procfs.
	DefaultProcRoot = "/proc"
	// pfKthread is the per-process flag of kernel threads.
	pfKthread = 0x00200000
)

// our logger instance
var log = logger.NewLogger("procstats")

// Source reads process snapshots from procfs.
type Source struct {
	root string
	fs   *procfs.FS
}

var _ process.Source = &Source{}

// NewSource creates a snapshot source for procfs mounted at procRoot.
func NewSource(procRoot string) *Source {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	return &Source{root: procRoot}
}

// Root returns the procfs mount point of the source.
func (s *Source) Root() string {
	return s.root
}

// Open opens the procfs mount of the source.
func (s *Source) Open() error {
	pfs, err := procfs.NewFS(s.root)
	if err != nil {
		return errors.Wrapf(process.ErrNoAccess, "failed to open %s: %v", s.root, err)
	}
	s.fs = &pfs
	return nil
}

// Close closes the source.
func (s *Source) Close() error {
	s.fs = nil
	return nil
}

// ReadAll reads a snapshot of every process. Processes which vanish while
// being read are omitted.
func (s *Source) ReadAll() ([]*process.Snapshot, error) {
	if s.fs == nil {
		return nil, errors.Wrapf(process.ErrNoAccess, "%s not open", s.root)
	}

	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list processes in %s", s.root)
	}

	snaps := make([]*process.Snapshot, 0, len(procs))
	for _, p := range procs {
		snap, err := s.read(p)
		if err != nil {
			if vanished(err) {
				log.Debug("process %d vanished while reading", p.PID)
			} else {
				log.Warn("failed to read process %d: %v", p.PID, err)
			}
			continue
		}
		snaps = append(snaps, snap)
	}

	return snaps, nil
}

// read reads a snapshot of a single process.
func (s *Source) read(p procfs.Proc) (*process.Snapshot, error) {
	stat, err := p.Stat()
	if err != nil {
		return nil, err
	}

	snap := &process.Snapshot{
		Pid:       stat.PID,
		Ppid:      stat.PPID,
		Pgrp:      stat.PGRP,
		Session:   stat.Session,
		Comm:      stat.Comm,
		State:     stat.State,
		Nice:      stat.Nice,
		Priority:  stat.Priority,
		Threads:   stat.NumThreads,
		Utime:     uint64(stat.UTime),
		Stime:     uint64(stat.STime),
		StartTime: uint64(stat.Starttime),
		RSS:       uint64(stat.ResidentMemory()),
		VSize:     uint64(stat.VirtualMemory()),
	}

	if snap.IsKernelThread() || uint64(stat.Flags)&pfKthread != 0 {
		snap.Basic = true
		return snap, nil
	}

	status, err := p.NewStatus()
	if err != nil {
		return nil, err
	}
	snap.Uid, snap.Euid = parseID(status.UIDs[0]), parseID(status.UIDs[1])
	snap.Gid, snap.Egid = parseID(status.GIDs[0]), parseID(status.GIDs[1])

	if snap.Cmdline, err = p.CmdLine(); err != nil {
		return nil, err
	}

	// these need privileges we might lack for foreign processes
	if exe, err := p.Executable(); err == nil {
		snap.Exe = exe
	}
	if io, err := p.IO(); err == nil {
		snap.ReadBytes = io.ReadBytes
		snap.WriteBytes = io.WriteBytes
	}

	if cgroups, err := p.Cgroups(); err == nil {
		for _, cg := range cgroups {
			snap.Cgroups = append(snap.Cgroups,
				fmt.Sprintf("%d:%s:%s", cg.HierarchyID, strings.Join(cg.Controllers, ","), cg.Path))
		}
	} else if vanished(err) {
		return nil, err
	}

	if raw, err := os.ReadFile(filepath.Join(s.root, strconv.Itoa(p.PID), "wchan")); err == nil {
		if wchan := strings.TrimSpace(string(raw)); wchan != "0" {
			snap.Wchan = wchan
		}
	}

	return snap, nil
}

// parseID parses a user or group id reported by procfs.
func parseID(id interface{}) int {
	value, err := strconv.Atoi(strings.TrimSpace(fmt.Sprint(id)))
	if err != nil {
		return -1
	}
	return value
}

// vanished checks if an error indicates that the process has exited.
func vanished(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH)
}
