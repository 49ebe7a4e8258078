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

package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEnabled(t *testing.T) {
	for value, expected := range map[string]bool{
		"on": true, "Yes": true, "TRUE": true, "1": true, "enabled": true,
		"off": false, "no": false, "False": false, "0": false, "disable": false,
	} {
		enabled, err := ParseEnabled(value)
		require.NoError(t, err, value)
		require.Equal(t, expected, enabled, value)
	}

	_, err := ParseEnabled("maybe")
	require.Error(t, err)
}

func TestParsePidList(t *testing.T) {
	pids, err := ParsePidList("1, 2\n3\t44")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 44}, pids)

	pids, err = ParsePidList("")
	require.NoError(t, err)
	require.Empty(t, pids)

	_, err = ParsePidList("1,two")
	require.Error(t, err)
}
