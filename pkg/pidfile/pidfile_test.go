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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "sub", "test.pid"))

	pid, err := p.Read()
	require.NoError(t, err)
	require.Equal(t, 0, pid)

	require.NoError(t, p.Acquire())
	require.NoError(t, p.Acquire(), "repeated Acquire")

	pid, err = p.Read()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	owner, err := p.OwnerPid()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), owner)

	require.NoError(t, p.Release())
	_, err = os.Stat(p.Path())
	require.True(t, os.IsNotExist(err))
	require.NoError(t, p.Release(), "repeated Release")
}

func TestStalePidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.pid")
	// a pid beyond the default pid_max can't be alive
	require.NoError(t, os.WriteFile(path, []byte("4194304\n"), 0644))

	p := New(path)
	owner, err := p.OwnerPid()
	require.NoError(t, err)
	require.Equal(t, 0, owner)

	require.NoError(t, p.Acquire())
	pid, err := p.Read()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
	require.NoError(t, p.Release())
}

func TestOwnedPidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owned.pid")
	// pid 1 is always alive
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0644))

	p := New(path)
	require.Error(t, p.Acquire())
}

func TestInvalidPidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0644))

	p := New(path)
	pid, err := p.Read()
	require.Error(t, err)
	require.Equal(t, -1, pid)
}

func TestDefaultPath(t *testing.T) {
	require.Equal(t, DefaultPath(), New("").Path())
}
