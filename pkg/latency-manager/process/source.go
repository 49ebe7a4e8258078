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

package process

import (
	"errors"
)

// ErrNoAccess is returned when the process information of the OS cannot be accessed.
var ErrNoAccess = errors.New("no access to process information")

// Source reports snapshots of the processes of the OS.
type Source interface {
	// Open prepares the source for reading, failing with ErrNoAccess.
	Open() error
	// ReadAll returns one snapshot for every process currently present.
	ReadAll() ([]*Snapshot, error)
	// Close releases the resources of an open source.
	Close() error
}
