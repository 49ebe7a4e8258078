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

package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/latency-manager/pkg/latency-manager/filter"
	"github.com/intel/latency-manager/pkg/latency-manager/process"
)

func TestExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	f, err := filter.Create(FilterName, &filter.Options{Now: func() time.Time { return now }})
	require.NoError(t, err)
	e := f.(*expiry)

	p := process.New(1, nil)
	p.AddFlag(&process.Flag{Name: "forever"})
	p.AddFlag(&process.Flag{Name: "soon", Timeout: now.Add(time.Minute)})

	require.True(t, e.PreCheck())
	require.False(t, e.Check(p))

	now = now.Add(time.Minute)
	require.False(t, e.Check(p), "time of the pass is used")
	require.True(t, e.PreCheck())
	require.True(t, e.Check(p))

	r, err := e.Callback(p)
	require.NoError(t, err)
	require.Equal(t, filter.None, r)
	require.Len(t, p.Flags(), 1)
	require.NotNil(t, p.FindFlag("forever", ""))
	require.Equal(t, 1, e.cleared)
	e.PostCheck()
}
