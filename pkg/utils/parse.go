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
	"fmt"
	"strconv"
	"strings"
)

// ParseEnabled parses an enabled/disabled state from a string.
func ParseEnabled(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "enable", "enabled", "yes", "y", "true", "1":
		return true, nil
	case "off", "disable", "disabled", "no", "n", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid enabled/disabled state %q", value)
}

// ParsePidList parses a whitespace or comma separated list of process ids.
func ParsePidList(value string) ([]int, error) {
	pids := []int{}
	for _, field := range strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	}) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid pid %q: %w", field, err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
